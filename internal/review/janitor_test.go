package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJanitor(t *testing.T) {
	s, _ := testStore(t)

	j, err := NewJanitor(s, time.Hour, "")
	require.NoError(t, err)
	assert.Equal(t, 1, j.Entries())

	j, err = NewJanitor(s, time.Hour, "*/5 * * * *")
	require.NoError(t, err)
	assert.Equal(t, 1, j.Entries())

	_, err = NewJanitor(s, time.Hour, "not a schedule")
	assert.Error(t, err)
	_, err = NewJanitor(s, 0, "")
	assert.Error(t, err)
}

func TestJanitorRunOnce(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	_, err := s.Create(ctx, "old.txt", "old", nil, nil)
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	j, err := NewJanitor(s, 24*time.Hour, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), j.RunOnce(ctx))
	assert.Equal(t, int64(0), j.RunOnce(ctx))
}

func TestJanitorStartStop(t *testing.T) {
	s, _ := testStore(t)
	j, err := NewJanitor(s, time.Hour, "@every 1h")
	require.NoError(t, err)
	j.Start()
	j.Stop()
}

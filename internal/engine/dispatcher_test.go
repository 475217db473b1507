package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/veil/internal/pii"
	"github.com/dativo-io/veil/internal/testutil"
)

func TestDispatcher_InlineBelowThreshold(t *testing.T) {
	d := NewDispatcher(Default(), WithWorkers(1))
	defer d.Close()

	det, err := d.Detect(context.Background(), "mail jane@x.com", nil)
	require.NoError(t, err)
	assert.Equal(t, DispatchInline, det.Dispatch)
	assert.NotEmpty(t, det.Findings)
}

func TestDispatcher_OffloadsLongText(t *testing.T) {
	d := NewDispatcher(Default(), WithThreshold(100), WithWorkers(2))
	defer d.Close()

	det, err := d.Detect(context.Background(), testutil.Resume, nil)
	require.NoError(t, err)
	assert.Equal(t, DispatchOffloaded, det.Dispatch)

	inline, err := Default().Detect(context.Background(), testutil.Resume, nil)
	require.NoError(t, err)
	assert.Equal(t, inline.Findings, det.Findings, "offloading does not change results")
}

func TestDispatcher_DefaultThreshold(t *testing.T) {
	d := NewDispatcher(Default(), WithWorkers(1))
	defer d.Close()

	long := strings.Repeat("plain words ", DefaultOffloadThreshold/12+1) + "jane@x.com"
	det, err := d.Detect(context.Background(), long, nil)
	require.NoError(t, err)
	assert.Equal(t, DispatchOffloaded, det.Dispatch)
	require.Len(t, det.Findings, 2, "email plus the x.com domain")
}

func TestDispatcher_FallsBackOnTimeout(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	slowFirst := func(ctx context.Context, text string, rules []pii.CustomRule) (*Detection, error) {
		if calls.Add(1) == 1 {
			<-release
		}
		return &Detection{Findings: []pii.Finding{}, Dispatch: DispatchInline}, nil
	}

	d := NewDispatcher(Default(), WithThreshold(1), WithTimeout(50*time.Millisecond), WithWorkers(1), withDetect(slowFirst))
	defer d.Close()
	defer close(release)

	start := time.Now()
	det, err := d.Detect(context.Background(), "some text", nil)
	require.NoError(t, err)
	assert.Equal(t, DispatchFallback, det.Dispatch)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDispatcher_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	blocking := func(ctx context.Context, text string, rules []pii.CustomRule) (*Detection, error) {
		<-release
		return &Detection{}, nil
	}
	d := NewDispatcher(Default(), WithThreshold(1), WithTimeout(time.Minute), WithWorkers(1), withDetect(blocking))
	defer d.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Detect(ctx, "some text", nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDispatcher_PropagatesInvalidInput(t *testing.T) {
	d := NewDispatcher(Default(), WithThreshold(1), WithWorkers(1))
	defer d.Close()

	_, err := d.Detect(context.Background(), "bad \xff byte", nil)
	assert.True(t, errors.Is(err, pii.ErrInvalidInput))
}

func TestDispatcher_ConcurrentCallers(t *testing.T) {
	d := NewDispatcher(Default(), WithThreshold(50), WithWorkers(2))
	defer d.Close()

	want, err := Default().Detect(context.Background(), testutil.Resume, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := d.Detect(context.Background(), testutil.Resume, nil)
			if assert.NoError(t, err) {
				assert.Equal(t, want.Findings, got.Findings)
			}
		}()
	}
	wg.Wait()
}

func TestDispatcher_CloseIsIdempotent(t *testing.T) {
	d := NewDispatcher(Default(), WithThreshold(1), WithWorkers(1))
	d.Close()
	d.Close()

	det, err := d.Detect(context.Background(), "mail jane@x.com", nil)
	require.NoError(t, err)
	assert.Equal(t, DispatchFallback, det.Dispatch)
}

package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/veil/internal/classifier"
	"github.com/dativo-io/veil/internal/pii"
	"github.com/dativo-io/veil/internal/redact"
	"github.com/dativo-io/veil/internal/testutil"
)

func values(findings []pii.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Value)
	}
	return out
}

func TestDetectPII_Resume(t *testing.T) {
	findings, err := DetectPII(context.Background(), testutil.Resume, nil)
	require.NoError(t, err)

	got := values(findings)
	for _, want := range testutil.ResumeValues {
		assert.Contains(t, got, want)
	}
	assert.NotContains(t, got, "PROFESSIONAL SUMMARY")
	assert.NotContains(t, got, "WORK EXPERIENCE")
}

func TestDetectPII_Invariants(t *testing.T) {
	findings, err := DetectPII(context.Background(), testutil.Resume, []pii.CustomRule{
		{Name: "corp", Pattern: `Acme Corp`, Enabled: true},
	})
	require.NoError(t, err)
	require.NotEmpty(t, findings)

	require.NoError(t, pii.Validate(testutil.Resume, findings), "span validity")

	type key struct {
		start int
		value string
	}
	seen := map[key]bool{}
	ids := map[string]bool{}
	for i, f := range findings {
		k := key{f.Span.Start, f.Value}
		assert.False(t, seen[k], "duplicate (start, value) %v", k)
		seen[k] = true

		assert.False(t, ids[f.ID], "duplicate id %s", f.ID)
		ids[f.ID] = true

		if i > 0 {
			assert.LessOrEqual(t, findings[i-1].Span.Start, f.Span.Start, "ascending order")
		}
		assert.Greater(t, f.Confidence, 0.0)
		assert.LessOrEqual(t, f.Confidence, 1.0)
		assert.True(t, f.Redact)
	}
}

func TestDetectPII_RedactIsIdempotent(t *testing.T) {
	ctx := context.Background()
	findings, err := DetectPII(ctx, testutil.Resume, nil)
	require.NoError(t, err)

	redacted := redact.Redact(testutil.Resume, findings)
	for _, v := range testutil.ResumeValues {
		assert.NotContains(t, redacted, v)
	}

	again, err := DetectPII(ctx, redacted, nil)
	require.NoError(t, err)
	for _, f := range again {
		assert.NotContains(t, f.Value, "redacted", "placeholder re-flagged as %s", f.Category)
		assert.NotEqual(t, classifier.Placeholder(pii.Name), f.Value)
	}
}

func TestDetectPII_Toggle(t *testing.T) {
	text := "Contact John Smith or jane@x.com"
	findings, err := DetectPII(context.Background(), text, nil)
	require.NoError(t, err)

	for i := range findings {
		findings[i].SetRedact(findings[i].Category != pii.Name)
	}
	assert.Equal(t, "Contact John Smith or [email redacted]", redact.Redact(text, findings))
}

func TestDetectPII_CustomRuleFaultIsolation(t *testing.T) {
	rules := []pii.CustomRule{
		{Name: "broken", Pattern: "(", Enabled: true},
		{Name: "employee", Pattern: `EMP-\d+`, Enabled: true},
	}
	det, err := Default().Detect(context.Background(), "Badge EMP-123 issued", rules)
	require.NoError(t, err)

	require.Len(t, det.Findings, 1)
	assert.Equal(t, "EMP-123", det.Findings[0].Value)
	assert.Equal(t, "employee", det.Findings[0].CustomLabel)
	assert.Equal(t, "pii-0", det.Findings[0].ID)
	require.Len(t, det.Skipped, 1)
	assert.Equal(t, "broken", det.Skipped[0].Rule)
}

func TestDetect_InvalidInput(t *testing.T) {
	_, err := Default().Detect(context.Background(), "bad \xff byte", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pii.ErrInvalidInput))
}

func TestDetect_EmptyText(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t\n"} {
		det, err := Default().Detect(context.Background(), text, []pii.CustomRule{{Name: "any", Pattern: `\s+`, Enabled: true}})
		require.NoError(t, err)
		assert.NotNil(t, det.Findings)
		assert.Empty(t, det.Findings)
	}
}

func TestDetect_Concurrent(t *testing.T) {
	e := Default()
	want, err := e.Detect(context.Background(), testutil.Resume, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Detect(context.Background(), testutil.Resume, nil)
			assert.NoError(t, err)
			assert.Equal(t, want.Findings, got.Findings)
		}()
	}
	wg.Wait()
}

func TestNewFromFiles(t *testing.T) {
	t.Run("missing files fall back to defaults", func(t *testing.T) {
		e, err := NewFromFiles("/nonexistent/patterns.yaml", "/nonexistent/lexicon.yaml")
		require.NoError(t, err)
		det, err := e.Detect(context.Background(), "mail jane@x.com", nil)
		require.NoError(t, err)
		assert.Contains(t, values(det.Findings), "jane@x.com")
	})

	t.Run("lexicon override", func(t *testing.T) {
		path := t.TempDir() + "/lexicon.yaml"
		require.NoError(t, writeFile(path, "first_names: [Ada]\nlast_names: [Lovelace]\n"))
		e, err := NewFromFiles("", path)
		require.NoError(t, err)
		det, err := e.Detect(context.Background(), "written by ada lovelace in 1843", nil)
		require.NoError(t, err)
		assert.Contains(t, values(det.Findings), "ada lovelace")
	})

	t.Run("broken pattern file", func(t *testing.T) {
		path := t.TempDir() + "/patterns.yaml"
		require.NoError(t, writeFile(path, "recognizers:\n  - name: x\n    supported_entity: URL\n    patterns:\n      - name: p\n        regex: '('\n"))
		_, err := NewFromFiles(path, "")
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "building scanner"))
	})
}

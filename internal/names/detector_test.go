package names

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/veil/internal/pii"
)

type hit struct {
	value      string
	start      int
	confidence float64
}

func hits(findings []pii.Finding) []hit {
	out := make([]hit, 0, len(findings))
	for _, f := range findings {
		out = append(out, hit{value: f.Value, start: f.Span.Start, confidence: f.Confidence})
	}
	return out
}

func TestDetectPasses(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []hit
	}{
		{
			name: "caps header",
			text: "JANE A DOE\nSoftware Engineer\njane@x.com",
			want: []hit{{"JANE A DOE", 0, ConfidenceCapsHeader}},
		},
		{
			name: "caps header followed by double space",
			text: "JANE DOE  Pune, India",
			want: []hit{{"JANE DOE", 0, ConfidenceCapsHeader}},
		},
		{
			name: "caps section heading is not a name",
			text: "PROFESSIONAL SUMMARY\n\nExperienced engineer with ten years in payments.",
			want: []hit{},
		},
		{
			name: "caps heading with a technical word",
			text: "SENIOR ANALYST\nresponsible for reporting",
			want: []hit{},
		},
		{
			name: "name with initial",
			text: "Resume of Anita K, based in Texas",
			want: []hit{{"Anita K", 10, ConfidenceInitial}},
		},
		{
			name: "initial next to technical keyword",
			text: "Senior SYSTEM ENGINEER Jane K\n",
			want: []hit{},
		},
		{
			name: "long all-caps word is an acronym",
			text: "ref ABCDEFGHIJ K\n",
			want: []hit{},
		},
		{
			name: "initial inside punctuation",
			text: "see (Anita K) below",
			want: []hit{},
		},
		{
			name: "initial after a technical word",
			text: "Notes: Python K, Java",
			want: []hit{},
		},
		{
			name: "initial after a fragment of a technical word",
			text: "Resume of Mary K, based in Texas",
			want: []hit{},
		},
		{
			name: "gazetteer pair",
			text: "Contact John Smith or jane@x.com",
			want: []hit{{"John Smith", 8, ConfidenceGazetteer}},
		},
		{
			name: "gazetteer is case-insensitive",
			text: "references: JOHN SMITH, manager",
			want: []hit{{"JOHN SMITH", 12, ConfidenceGazetteer}},
		},
		{
			name: "header line",
			text: "Work Experience\nPriya Sharma\nBangalore",
			want: []hit{{"Priya Sharma", 16, ConfidenceHeaderLine}},
		},
		{
			name: "header line with CRLF",
			text: "curriculum vitae\r\nPriya Sharma\r\n",
			want: []hit{{"Priya Sharma", 18, ConfidenceHeaderLine}},
		},
		{
			name: "lone first name",
			text: "Michael\nAddress line one",
			want: []hit{{"Michael", 0, ConfidenceLoneFirst}},
		},
		{
			name: "lone first name outside the header window",
			text: strings.Repeat("x", 250) + "\nMichael\n",
			want: []hit{},
		},
		{
			name: "earlier passes win on overlap",
			text: "JOHN SMITH\nJohn Smith is here",
			want: []hit{
				{"JOHN SMITH", 0, ConfidenceCapsHeader},
				{"John Smith", 11, ConfidenceGazetteer},
			},
		},
	}

	d := Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hits(d.Detect(context.Background(), tt.text))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectFindingShape(t *testing.T) {
	text := "Zoë\nAnita K\nBerlin"
	findings := Default().Detect(context.Background(), text)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, pii.Name, f.Category)
	assert.Equal(t, "Anita K", f.Value)
	assert.Equal(t, pii.Span{Start: 4, End: 11}, f.Span)
	assert.Equal(t, "Candidate", f.Replacement)
	assert.True(t, f.Redact)
	require.NoError(t, pii.Validate(text, findings))
}

func TestDetectEmpty(t *testing.T) {
	assert.Empty(t, Default().Detect(context.Background(), ""))
	assert.Empty(t, Default().Detect(context.Background(), " \n "))
}

func TestDetectSpansValid(t *testing.T) {
	text := "JANE DOE\nPriya Sharma\nMichael\nRef: Anita K. Contact James Brown"
	findings := Default().Detect(context.Background(), text)
	require.NotEmpty(t, findings)
	require.NoError(t, pii.Validate(text, findings))
	for i := range findings {
		for j := i + 1; j < len(findings); j++ {
			assert.False(t, findings[i].Span.Overlaps(findings[j].Span), "%q overlaps %q", findings[i].Value, findings[j].Value)
		}
		assert.GreaterOrEqual(t, findings[i].Confidence, ConfidenceLoneFirst)
		assert.LessOrEqual(t, findings[i].Confidence, ConfidenceCapsHeader)
	}
}

func TestNewDetectorCustomLexicon(t *testing.T) {
	d, err := NewDetector(&Lexicon{FirstNames: []string{"Zed"}, LastNames: []string{"Quux"}})
	require.NoError(t, err)
	got := hits(d.Detect(context.Background(), "met zed quux today"))
	assert.Equal(t, []hit{{"zed quux", 4, ConfidenceGazetteer}}, got)

	empty, err := NewDetector(&Lexicon{})
	require.NoError(t, err)
	assert.Empty(t, empty.Detect(context.Background(), "met zed quux today"))

	_, err = NewDetector(nil)
	assert.Error(t, err)
}

func TestLexicon(t *testing.T) {
	lex, err := DefaultLexicon()
	require.NoError(t, err)
	assert.NotEmpty(t, lex.FirstNames)
	assert.NotEmpty(t, lex.LastNames)
	assert.Contains(t, lex.SectionHeaders, "Professional Summary")
	assert.Contains(t, lex.PartialWords, "AUTOMATION")
	assert.Contains(t, lex.TechnicalContext, "ENGINEER")

	t.Run("missing override", func(t *testing.T) {
		got, err := LoadLexicon(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("override replaces non-empty lists", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lexicon.yaml")
		require.NoError(t, os.WriteFile(path, []byte("first_names: [Ada]\n"), 0o644))
		override, err := LoadLexicon(path)
		require.NoError(t, err)

		merged := lex.Merge(override)
		assert.Equal(t, []string{"Ada"}, merged.FirstNames)
		assert.Equal(t, lex.LastNames, merged.LastNames)
		assert.NotEqual(t, []string{"Ada"}, lex.FirstNames, "receiver is not modified")
	})

	t.Run("malformed override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("first_names: {"), 0o644))
		_, err := LoadLexicon(path)
		assert.Error(t, err)
	})
}

package redact

import (
	"html"
	"sort"
	"strings"

	"github.com/dativo-io/veil/internal/pii"
)

// Segment is one piece of the review view. Finding is nil for plain text.
type Segment struct {
	Text    string       `json:"text"`
	Finding *pii.Finding `json:"finding,omitempty"`
	// Clipped is set when the mark covers only the part of the finding not
	// already shown by an earlier mark.
	Clipped bool `json:"clipped,omitempty"`
}

// Segments splits text into plain and marked segments in ascending order.
// Every finding is marked regardless of its Redact state. A finding starting
// inside an earlier mark is clipped to its uncovered remainder; a finding
// fully covered by earlier marks produces no segment.
func Segments(text string, findings []pii.Finding) []Segment {
	runes := []rune(text)
	valid := inRange(findings, len(runes), false)
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Span.Start < valid[j].Span.Start
	})

	var segs []Segment
	cursor := 0
	for i := range valid {
		f := valid[i].Finding
		start := max(f.Span.Start, cursor)
		if start >= f.Span.End {
			continue
		}
		if start > cursor {
			segs = append(segs, Segment{Text: string(runes[cursor:start])})
		}
		segs = append(segs, Segment{
			Text:    string(runes[start:f.Span.End]),
			Finding: &f,
			Clipped: start != f.Span.Start,
		})
		cursor = f.Span.End
	}
	if cursor < len(runes) {
		segs = append(segs, Segment{Text: string(runes[cursor:])})
	}
	return segs
}

// Highlight renders the review view as HTML. Literal text is escaped; each
// finding becomes a <mark> carrying its id, category, state and replacement.
func Highlight(text string, findings []pii.Finding) string {
	var b strings.Builder
	b.Grow(len(text) + len(findings)*96)
	for _, s := range Segments(text, findings) {
		if s.Finding == nil {
			b.WriteString(html.EscapeString(s.Text))
			continue
		}
		writeMark(&b, s)
	}
	return b.String()
}

func writeMark(b *strings.Builder, s Segment) {
	f := s.Finding
	state := "redact"
	if !f.Redact {
		state = "ignored"
	}
	b.WriteString(`<mark class="pii pii-`)
	b.WriteString(html.EscapeString(string(f.Category)))
	if !f.Redact {
		b.WriteString(" pii-ignored")
	}
	b.WriteString(`" data-pii-id="`)
	b.WriteString(html.EscapeString(f.ID))
	b.WriteString(`" data-category="`)
	b.WriteString(html.EscapeString(f.Label()))
	b.WriteString(`" data-state="`)
	b.WriteString(state)
	b.WriteString(`" title="`)
	b.WriteString(html.EscapeString(f.Label() + " → " + f.Replacement))
	b.WriteString(`">`)
	b.WriteString(html.EscapeString(s.Text))
	b.WriteString(`</mark>`)
}

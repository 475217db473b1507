// Package redact renders findings against their source text: Redact produces
// the final anonymized text, Segments and Highlight produce the review view.
// Only the Redact flag of a finding decides whether it is applied.
package redact

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/veil/internal/pii"
)

// OverlapError reports two active findings whose spans intersect.
type OverlapError struct {
	First  pii.Finding
	Second pii.Finding
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("active findings %s [%d,%d) and %s [%d,%d) overlap",
		e.First.ID, e.First.Span.Start, e.First.Span.End,
		e.Second.ID, e.Second.Span.Start, e.Second.Span.End)
}

// Disjoint returns an *OverlapError for the first pair of active findings
// that overlap, or nil when every active span is disjoint.
func Disjoint(findings []pii.Finding) error {
	active := pii.Active(findings)
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Span.Start < active[j].Span.Start
	})
	// widest is the earlier finding reaching furthest right.
	widest := 0
	for i := 1; i < len(active); i++ {
		if active[widest].Span.Overlaps(active[i].Span) {
			return &OverlapError{First: active[widest], Second: active[i]}
		}
		if active[i].Span.End > active[widest].Span.End {
			widest = i
		}
	}
	return nil
}

// region is a coalesced run of overlapping active findings.
type region struct {
	span        pii.Span
	replacement string
	bestLen     int
	bestOrder   int
}

// Redact replaces every active finding with its replacement text.
//
// Overlapping active findings are coalesced into one region covering their
// union. The region takes the replacement of its longest member; on a tie the
// member that comes first in findings wins. Regions are spliced back to front
// so earlier offsets stay valid. Findings outside the text are skipped.
func Redact(text string, findings []pii.Finding) string {
	runes := []rune(text)
	regions := coalesce(inRange(findings, len(runes), true))
	if len(regions) == 0 {
		return text
	}

	for i := len(regions) - 1; i >= 0; i-- {
		r := regions[i]
		tail := append([]rune(r.replacement), runes[r.span.End:]...)
		runes = append(runes[:r.span.Start], tail...)
	}
	return string(runes)
}

type ordered struct {
	pii.Finding
	order int
}

// inRange drops findings whose span does not fit a text of n runes. With
// activeOnly set, ignored findings are dropped too.
func inRange(findings []pii.Finding, n int, activeOnly bool) []ordered {
	out := make([]ordered, 0, len(findings))
	for i, f := range findings {
		if activeOnly && !f.Redact {
			continue
		}
		if f.Span.Start < 0 || f.Span.Start >= f.Span.End || f.Span.End > n {
			log.Warn().
				Str("finding", f.ID).
				Int("start", f.Span.Start).
				Int("end", f.Span.End).
				Int("text_runes", n).
				Msg("finding_out_of_range")
			continue
		}
		out = append(out, ordered{Finding: f, order: i})
	}
	return out
}

func coalesce(findings []ordered) []region {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Span.Start < findings[j].Span.Start
	})

	var regions []region
	for _, f := range findings {
		n := len(regions)
		if n > 0 && f.Span.Start < regions[n-1].span.End {
			last := &regions[n-1]
			if f.Span.End > last.span.End {
				last.span.End = f.Span.End
			}
			l := f.Span.Len()
			if l > last.bestLen || (l == last.bestLen && f.order < last.bestOrder) {
				last.replacement = f.Replacement
				last.bestLen = l
				last.bestOrder = f.order
			}
			continue
		}
		regions = append(regions, region{
			span:        f.Span,
			replacement: f.Replacement,
			bestLen:     f.Span.Len(),
			bestOrder:   f.order,
		})
	}
	return regions
}

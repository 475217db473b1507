package pii

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when the text handed to detection is not
	// usable (e.g. not valid UTF-8). No partial detection is attempted.
	ErrInvalidInput = errors.New("invalid input text")
	// ErrFindingNotFound is returned when a finding id is unknown.
	ErrFindingNotFound = errors.New("finding not found")
	// ErrStaleFindings is returned when findings do not belong to the given text.
	ErrStaleFindings = errors.New("findings do not match text")
	// ErrUnknownCategory is returned when a finding carries a category
	// outside the fixed set.
	ErrUnknownCategory = errors.New("unknown finding category")
)

// Validate checks that every finding has a known category, lies inside text
// and that its value matches the text at its span. A span failure means the
// findings were computed against a different text and must be regenerated.
func Validate(text string, findings []Finding) error {
	runes := []rune(text)
	for _, f := range findings {
		if !f.Category.Valid() {
			return fmt.Errorf("finding %s category %q: %w", f.ID, f.Category, ErrUnknownCategory)
		}
		if f.Span.Start < 0 || f.Span.Start >= f.Span.End || f.Span.End > len(runes) {
			return fmt.Errorf("finding %s span [%d,%d) out of range for %d runes: %w",
				f.ID, f.Span.Start, f.Span.End, len(runes), ErrStaleFindings)
		}
		if string(runes[f.Span.Start:f.Span.End]) != f.Value {
			return fmt.Errorf("finding %s value mismatch at [%d,%d): %w",
				f.ID, f.Span.Start, f.Span.End, ErrStaleFindings)
		}
	}
	return nil
}

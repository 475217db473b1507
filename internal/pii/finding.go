// Package pii holds the finding model shared by every detector and renderer:
// categories, findings with their accept/ignore state, custom rule input,
// the merge/deduplication step and aggregate statistics.
package pii

import (
	"fmt"
)

// Category is the taxonomy tag of a finding.
type Category string

// Supported categories. The set is fixed; custom rule matches use Custom and
// carry the rule name in Finding.CustomLabel.
const (
	Email       Category = "email"
	Phone       Category = "phone"
	URL         Category = "url"
	Name        Category = "name"
	Address     Category = "address"
	SSN         Category = "ssn"
	CreditCard  Category = "credit_card"
	DateOfBirth Category = "date_of_birth"
	Passport    Category = "passport"
	IPAddress   Category = "ip_address"
	BankAccount Category = "bank_account"
	TaxID       Category = "tax_id"
	Age         Category = "age"
	Custom      Category = "custom"
)

// Categories lists every category in display order.
var Categories = []Category{
	Email, Phone, URL, Name, Address, SSN, CreditCard, DateOfBirth,
	Passport, IPAddress, BankAccount, TaxID, Age, Custom,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// ParseCategory converts a string to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Span is a half-open [Start, End) range of rune offsets.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of runes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether two spans share at least one rune.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Contains reports whether o lies entirely inside s.
func (s Span) Contains(o Span) bool {
	return s.Start <= o.Start && o.End <= s.End
}

// Finding is one detected PII candidate plus its review state.
//
// Everything except Redact is fixed when the detector creates the finding.
// Redact is changed only through SetRedact so review tooling has a single
// mutation point.
type Finding struct {
	ID          string   `json:"id"`
	Category    Category `json:"category"`
	CustomLabel string   `json:"custom_label,omitempty"`
	Value       string   `json:"value"`
	Span        Span     `json:"span"`
	Replacement string   `json:"replacement"`
	Confidence  float64  `json:"confidence"`
	Redact      bool     `json:"redact"`
}

// Label returns the custom rule name for custom findings and the category otherwise.
func (f *Finding) Label() string {
	if f.Category == Custom && f.CustomLabel != "" {
		return f.CustomLabel
	}
	return string(f.Category)
}

// SetRedact marks the finding as accepted (true) or ignored (false).
func (f *Finding) SetRedact(redact bool) {
	f.Redact = redact
}

// SetRedact toggles the finding with the given id inside findings.
// It returns ErrFindingNotFound when no finding has that id.
func SetRedact(findings []Finding, id string, redact bool) error {
	for i := range findings {
		if findings[i].ID == id {
			findings[i].SetRedact(redact)
			return nil
		}
	}
	return fmt.Errorf("finding %q: %w", id, ErrFindingNotFound)
}

// Active returns the findings marked for redaction, in input order.
func Active(findings []Finding) []Finding {
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Redact {
			out = append(out, f)
		}
	}
	return out
}

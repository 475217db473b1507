package classifier

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/veil/internal/pii"
)

func valuesOf(findings []pii.Finding, c pii.Category) []string {
	var out []string
	for _, f := range findings {
		if f.Category == c {
			out = append(out, f.Value)
		}
	}
	return out
}

// Each category has literal strings it must flag and strings it must leave alone.
func TestCategoryPatterns(t *testing.T) {
	scanner := MustNewScanner()
	ctx := context.Background()

	tests := []struct {
		category pii.Category
		positive map[string]string // input -> expected matched value
		negative []string
	}{
		{
			category: pii.Email,
			positive: map[string]string{
				"Mail jane.doe@example.com now": "jane.doe@example.com",
				"a@b.io":                        "a@b.io",
				"USER+tag@Mail.Example.ORG":     "USER+tag@Mail.Example.ORG",
			},
			negative: []string{"not an email", "user@localhost", "@example.com"},
		},
		{
			category: pii.Phone,
			positive: map[string]string{
				"Call (555) 123-4567":       "(555) 123-4567",
				"Mobile: 9876543210":        "9876543210",
				"Tel +1 555.123.4567 ext 2": "+1 555.123.4567",
			},
			negative: []string{"Call 12345", "Revenue 2300000 EUR"},
		},
		{
			category: pii.URL,
			positive: map[string]string{
				"See https://github.com/jane for code": "https://github.com/jane",
				"Visit www.janedoe.dev":                "www.janedoe.dev",
				"Portfolio: janedoe.io":                "janedoe.io",
			},
			negative: []string{"plain words here", "version 2.0 shipped"},
		},
		{
			category: pii.Address,
			positive: map[string]string{
				"Lives at 221 Baker Street, London": "221 Baker Street",
				"Office: 12 Main St":                "12 Main St",
				"45, Gandhi Nagar":                  "45, Gandhi Nagar",
			},
			negative: []string{"Baker Street", "5 years experience"},
		},
		{
			category: pii.SSN,
			positive: map[string]string{
				"SSN 123-45-6789":   "123-45-6789",
				"ssn: 123 45 6789":  "123 45 6789",
				"number 234567890.": "234567890",
			},
			negative: []string{"000-12-3456", "666-12-3456", "900-12-3456", "123-00-4567", "123-45-0000"},
		},
		{
			category: pii.CreditCard,
			positive: map[string]string{
				"Card 4111 1111 1111 1111":  "4111 1111 1111 1111",
				"MC 5500-0000-0000-0004":    "5500-0000-0000-0004",
				"Amex 371449635398431 used": "371449635398431",
			},
			negative: []string{"1234 5678 9012 3456", "4111"},
		},
		{
			category: pii.DateOfBirth,
			positive: map[string]string{
				"DOB: 12/05/1990":       "DOB: 12/05/1990",
				"Born March 3, 1991":    "March 3, 1991",
				"Birthdate 15-08-1985.": "15-08-1985",
			},
			negative: []string{"Q3 2020 results", "version 1.2.3"},
		},
		{
			category: pii.Passport,
			positive: map[string]string{
				"Passport No: A1234567": "Passport No: A1234567",
				"id Z1234567":           "Z1234567",
				"AB1234567":             "AB1234567",
			},
			negative: []string{"A123456", "ISO9001 certified"},
		},
		{
			category: pii.IPAddress,
			positive: map[string]string{
				"Server at 192.168.1.100":                    "192.168.1.100",
				"v6 2001:0db8:85a3:0000:0000:8a2e:0370:7334": "2001:0db8:85a3:0000:0000:8a2e:0370:7334",
			},
			negative: []string{"999.1.1.1", "version 1.2.3"},
		},
		{
			category: pii.BankAccount,
			positive: map[string]string{
				"Account Number: 123456789012": "Account Number: 123456789012",
				"IBAN: DE89370400440532013000": "IBAN: DE89370400440532013000",
			},
			negative: []string{"Account manager", "IBAN pending"},
		},
		{
			category: pii.TaxID,
			positive: map[string]string{
				"PAN: ABCDE1234F":        "ABCDE1234F",
				"EIN: 12-3456789":        "EIN: 12-3456789",
				"Aadhaar 1234 5678 9012": "1234 5678 9012",
			},
			negative: []string{"ABCD1234", "Tax ID pending"},
		},
		{
			category: pii.Age,
			positive: map[string]string{
				"Age: 34":           "Age: 34",
				"I am 29 years old": "29 years old",
			},
			negative: []string{"years of experience", "Agency 5"},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			for input, want := range tt.positive {
				got := valuesOf(scanner.Detect(ctx, input), tt.category)
				assert.Contains(t, got, want, "input %q", input)
			}
			for _, input := range tt.negative {
				got := valuesOf(scanner.Detect(ctx, input), tt.category)
				assert.Empty(t, got, "input %q should not match %s", input, tt.category)
			}
		})
	}
}

func TestDetectSpansAreRuneOffsets(t *testing.T) {
	scanner := MustNewScanner()
	text := "Zoë Ünal — zoe@example.com"
	findings := scanner.Detect(context.Background(), text)

	emails := 0
	runes := []rune(text)
	for _, f := range findings {
		require.LessOrEqual(t, f.Span.End, len(runes))
		assert.Equal(t, f.Value, string(runes[f.Span.Start:f.Span.End]))
		if f.Category == pii.Email {
			emails++
			assert.Equal(t, 11, f.Span.Start)
		}
	}
	assert.Equal(t, 1, emails)
}

func TestDetectFindingDefaults(t *testing.T) {
	scanner := MustNewScanner()
	findings := scanner.Detect(context.Background(), "Email me at jane@x.com today")
	var email *pii.Finding
	for i := range findings {
		if findings[i].Category == pii.Email {
			email = &findings[i]
		}
	}
	require.NotNil(t, email)
	assert.Equal(t, "jane@x.com", email.Value)
	assert.Equal(t, pii.Span{Start: 12, End: 22}, email.Span)
	assert.Equal(t, "[email redacted]", email.Replacement)
	assert.Equal(t, 1.0, email.Confidence)
	assert.True(t, email.Redact)
	assert.Empty(t, email.ID, "ids are assigned by the merge step")
}

func TestDetectEmptyText(t *testing.T) {
	scanner := MustNewScanner()
	assert.Empty(t, scanner.Detect(context.Background(), ""))
	assert.Empty(t, scanner.Detect(context.Background(), "  \n\t  "))
}

func TestDetectNonOverlappingPerPattern(t *testing.T) {
	scanner := MustNewScanner(WithEnabledCategories([]pii.Category{pii.Phone}))
	findings := scanner.Detect(context.Background(), "5551234567 5559876543")
	require.Len(t, findings, 2)
	assert.False(t, findings[0].Span.Overlaps(findings[1].Span))
}

func TestDetectIsRepeatableAndConcurrent(t *testing.T) {
	scanner := MustNewScanner()
	text := "jane@x.com 192.168.0.1 (555) 123-4567 SSN 123-45-6789 https://janedoe.dev"
	ctx := context.Background()

	first := scanner.Detect(ctx, text)
	second := scanner.Detect(ctx, text)
	require.Equal(t, first, second, "no scan state may leak between calls")

	var wg sync.WaitGroup
	results := make([][]pii.Finding, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = scanner.Detect(ctx, text)
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, first, r)
	}
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "[email redacted]", Placeholder(pii.Email))
	assert.Equal(t, "Candidate", Placeholder(pii.Name))
	assert.Equal(t, "[DOB redacted]", Placeholder(pii.DateOfBirth))
	assert.Equal(t, "[REDACTED]", Placeholder(pii.Custom))
	for _, c := range pii.Categories {
		assert.NotEmpty(t, Placeholder(c), "category %s", c)
	}
}

func TestNewScannerWithPatternFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	override := `
placeholders:
  name: "Applicant"
recognizers:
  - name: "Email Address"
    supported_entity: "EMAIL_ADDRESS"
    placeholder: "<email>"
    patterns:
      - name: "email"
        regex: '\b[a-z]+@[a-z]+\.[a-z]{2,}\b'
        score: 1.0
  - name: "Employee ID"
    supported_entity: "EMPLOYEE_ID"
    patterns:
      - name: "emp"
        regex: '\bEMP-\d{6}\b'
        score: 1.0
`
	require.NoError(t, os.WriteFile(path, []byte(override), 0o644))

	scanner, err := NewScanner(WithPatternFile(path))
	require.NoError(t, err)

	findings := scanner.Detect(context.Background(), "mail jane@x.io badge EMP-123456")
	var email, custom *pii.Finding
	for i := range findings {
		switch findings[i].Category {
		case pii.Email:
			email = &findings[i]
		case pii.Custom:
			custom = &findings[i]
		}
	}
	require.NotNil(t, email)
	assert.Equal(t, "<email>", email.Replacement)
	require.NotNil(t, custom)
	assert.Equal(t, "Employee ID", custom.CustomLabel)
	assert.Equal(t, "[REDACTED]", custom.Replacement)
}

func TestNewScannerMissingPatternFile(t *testing.T) {
	scanner, err := NewScanner(WithPatternFile("/nonexistent/patterns.yaml"))
	require.NoError(t, err)
	assert.Len(t, scanner.Patterns(), len(DefaultPatterns))
}

func TestNewScannerCategoryFilters(t *testing.T) {
	only, err := NewScanner(WithEnabledCategories([]pii.Category{pii.Email, pii.URL}))
	require.NoError(t, err)
	for _, p := range only.Patterns() {
		assert.Contains(t, []pii.Category{pii.Email, pii.URL}, p.Category)
	}

	without, err := NewScanner(WithDisabledCategories([]pii.Category{pii.URL}))
	require.NoError(t, err)
	findings := without.Detect(context.Background(), "jane@example.com")
	assert.Empty(t, valuesOf(findings, pii.URL))
	assert.NotEmpty(t, valuesOf(findings, pii.Email))
}

func TestDetectIgnoresPlaceholders(t *testing.T) {
	scanner := MustNewScanner()
	var text string
	for _, p := range DefaultPatterns {
		text += p.Placeholder + " "
	}
	assert.Empty(t, scanner.Detect(context.Background(), text), "redacted output must not be re-flagged")
}

package classifier

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dativo-io/veil/internal/pii"
)

// RecognizerFile is the top-level YAML structure for a recognizer config file.
// Mirrors Presidio's recognizer registry YAML format.
type RecognizerFile struct {
	// Placeholders covers categories that have no regex recognizer (name, custom).
	Placeholders map[string]string  `yaml:"placeholders,omitempty" json:"placeholders,omitempty"`
	Recognizers  []RecognizerConfig `yaml:"recognizers" json:"recognizers"`
}

// RecognizerConfig mirrors Presidio's YAML recognizer schema with veil extensions.
type RecognizerConfig struct {
	Name            string          `yaml:"name" json:"name"`
	SupportedEntity string          `yaml:"supported_entity" json:"supported_entity"`
	Enabled         *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Patterns        []PatternConfig `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	// veil extensions (Presidio ignores unknown fields)
	Placeholder string `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Validator   string `yaml:"validator,omitempty" json:"validator,omitempty"`
	Sensitivity int    `yaml:"sensitivity,omitempty" json:"sensitivity,omitempty"`
}

// PatternConfig is a single regex pattern within a recognizer.
type PatternConfig struct {
	Name  string  `yaml:"name" json:"name"`
	Regex string  `yaml:"regex" json:"regex"`
	Score float64 `yaml:"score" json:"score"`
}

// isEnabled returns true if the recognizer is enabled (defaults to true when nil).
func (r *RecognizerConfig) isEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// ParseRecognizerFile parses recognizer YAML bytes into a RecognizerFile.
func ParseRecognizerFile(data []byte) (*RecognizerFile, error) {
	var rf RecognizerFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing recognizer YAML: %w", err)
	}
	return &rf, nil
}

// LoadRecognizerFile reads and parses a recognizer YAML file from disk.
// Returns nil (not an error) if the file does not exist, so callers can
// treat a missing override file as a no-op.
func LoadRecognizerFile(path string) (*RecognizerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recognizer file %s: %w", path, err)
	}
	return ParseRecognizerFile(data)
}

// MergeRecognizers layers recognizer lists. Later layers override earlier
// ones by matching on the recognizer Name field. New recognizers are appended.
func MergeRecognizers(layers ...[]RecognizerConfig) []RecognizerConfig {
	index := make(map[string]int)
	var merged []RecognizerConfig

	for _, layer := range layers {
		for _, rc := range layer {
			if idx, exists := index[rc.Name]; exists {
				merged[idx] = rc
			} else {
				index[rc.Name] = len(merged)
				merged = append(merged, rc)
			}
		}
	}

	return merged
}

// FilterByCategories applies enabled/disabled category filters to a recognizer
// list. A non-empty enabled list acts as a whitelist; disabled is applied after.
func FilterByCategories(recognizers []RecognizerConfig, enabled, disabled []pii.Category) []RecognizerConfig {
	result := recognizers

	if len(enabled) > 0 {
		allowed := make(map[pii.Category]bool, len(enabled))
		for _, c := range enabled {
			allowed[c] = true
		}
		var filtered []RecognizerConfig
		for _, r := range result {
			if allowed[entityToCategory(r.SupportedEntity)] {
				filtered = append(filtered, r)
			}
		}
		result = filtered
	}

	if len(disabled) > 0 {
		blocked := make(map[pii.Category]bool, len(disabled))
		for _, c := range disabled {
			blocked[c] = true
		}
		var filtered []RecognizerConfig
		for _, r := range result {
			if !blocked[entityToCategory(r.SupportedEntity)] {
				filtered = append(filtered, r)
			}
		}
		result = filtered
	}

	return result
}

// CompilePatterns converts recognizer configs into the compiled Pattern slice
// used by the Scanner. Disabled recognizers are skipped. Each regex in a
// recognizer produces one Pattern, scanned independently.
func CompilePatterns(recognizers []RecognizerConfig, placeholders map[string]string) ([]Pattern, error) {
	var patterns []Pattern

	for _, rec := range recognizers {
		if !rec.isEnabled() {
			continue
		}
		category := entityToCategory(rec.SupportedEntity)

		var validate func(string) bool
		if rec.Validator != "" {
			v, ok := validators[rec.Validator]
			if !ok {
				return nil, fmt.Errorf("recognizer %q: unknown validator %q", rec.Name, rec.Validator)
			}
			validate = v
		}

		placeholder := rec.Placeholder
		if placeholder == "" {
			placeholder = placeholderFor(category, placeholders)
		}

		label := ""
		if category == pii.Custom {
			label = rec.Name
		}

		for _, p := range rec.Patterns {
			compiled, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q in recognizer %q: %w", p.Name, rec.Name, err)
			}
			patterns = append(patterns, Pattern{
				Name:        rec.Name,
				Category:    category,
				Label:       label,
				Regex:       compiled,
				Placeholder: placeholder,
				Validate:    validate,
				Sensitivity: rec.Sensitivity,
			})
		}
	}

	return patterns, nil
}

// entityTypeMap maps Presidio entity names (SCREAMING_SNAKE) to categories.
var entityTypeMap = map[string]pii.Category{
	"EMAIL_ADDRESS":  pii.Email,
	"PHONE_NUMBER":   pii.Phone,
	"URL":            pii.URL,
	"PERSON":         pii.Name,
	"STREET_ADDRESS": pii.Address,
	"LOCATION":       pii.Address,
	"US_SSN":         pii.SSN,
	"CREDIT_CARD":    pii.CreditCard,
	"DATE_OF_BIRTH":  pii.DateOfBirth,
	"PASSPORT":       pii.Passport,
	"US_PASSPORT":    pii.Passport,
	"IP_ADDRESS":     pii.IPAddress,
	"BANK_ACCOUNT":   pii.BankAccount,
	"IBAN_CODE":      pii.BankAccount,
	"TAX_ID":         pii.TaxID,
	"AGE":            pii.Age,
}

// entityToCategory maps a Presidio entity name to a category. Entities that
// are neither mapped nor a category name become custom findings labelled
// with the recognizer name.
func entityToCategory(entity string) pii.Category {
	if c, ok := entityTypeMap[entity]; ok {
		return c
	}
	if c := pii.Category(strings.ToLower(entity)); c.Valid() {
		return c
	}
	return pii.Custom
}

func placeholderFor(c pii.Category, placeholders map[string]string) string {
	if p, ok := placeholders[string(c)]; ok && p != "" {
		return p
	}
	if c == pii.Custom {
		return pii.DefaultCustomReplacement
	}
	return "[" + strings.ReplaceAll(string(c), "_", " ") + " redacted]"
}

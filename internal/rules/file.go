package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/dativo-io/veil/internal/pii"
)

// ruleFileSchema is the JSON Schema for a rule import/export file.
const ruleFileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "veil custom rules",
  "type": "object",
  "required": ["rules"],
  "additionalProperties": false,
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "pattern"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "pattern": {"type": "string", "minLength": 1},
          "replacement": {"type": "string"},
          "description": {"type": "string"},
          "enabled": {"type": "boolean"}
        }
      }
    }
  }
}`

// File is the on-disk rule file.
type File struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement,omitempty"`
	Description string `yaml:"description,omitempty"`
	Enabled     *bool  `yaml:"enabled,omitempty"`
}

// ValidateRuleFile validates rule file YAML against the rules JSON schema.
// The YAML is converted to JSON first because gojsonschema works on JSON.
func ValidateRuleFile(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing rule file YAML: %w", err)
	}
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("converting rule file to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(ruleFileSchema),
		gojsonschema.NewBytesLoader(jsonBytes),
	)
	if err != nil {
		return fmt.Errorf("rule file validation failed: %w", err)
	}
	if !result.Valid() {
		var msg strings.Builder
		for _, verr := range result.Errors() {
			fmt.Fprintf(&msg, "- %s\n", verr)
		}
		return fmt.Errorf("%w: rule file schema errors:\n%s", ErrInvalidRule, msg.String())
	}
	return nil
}

// ParseRuleFile validates and decodes rule file YAML. Rules without an
// enabled key are enabled. Every pattern must compile.
func ParseRuleFile(data []byte) ([]pii.CustomRule, error) {
	if err := ValidateRuleFile(data); err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rule file YAML: %w", err)
	}
	out := make([]pii.CustomRule, 0, len(f.Rules))
	for _, fr := range f.Rules {
		r := pii.CustomRule{
			Name:        fr.Name,
			Pattern:     fr.Pattern,
			Replacement: fr.Replacement,
			Description: fr.Description,
			Enabled:     fr.Enabled == nil || *fr.Enabled,
		}
		if err := Validate(r); err != nil {
			return nil, fmt.Errorf("rule %q: %w", fr.Name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// MarshalRuleFile encodes rules in the rule file format.
func MarshalRuleFile(rules []pii.CustomRule) ([]byte, error) {
	f := File{Rules: make([]fileRule, 0, len(rules))}
	for _, r := range rules {
		enabled := r.Enabled
		f.Rules = append(f.Rules, fileRule{
			Name:        r.Name,
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
			Description: r.Description,
			Enabled:     &enabled,
		})
	}
	out, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding rule file: %w", err)
	}
	return out, nil
}

// ImportFile reads a rule file and adds every rule to the store. It stops at
// the first rule the store rejects and reports how many were added.
func (s *Store) ImportFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading rule file %s: %w", path, err)
	}
	parsed, err := ParseRuleFile(data)
	if err != nil {
		return 0, err
	}
	for i, r := range parsed {
		if _, err := s.Add(ctx, r); err != nil {
			return i, err
		}
	}
	return len(parsed), nil
}

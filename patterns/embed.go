// Package patterns provides the embedded default detection data.
// pii_resume.yaml uses the Presidio-compatible recognizer format with veil
// extensions (placeholder, validator, sensitivity). name_lexicon.yaml holds
// the gazetteers and blacklists used by the name heuristics.
package patterns

import _ "embed"

//go:embed pii_resume.yaml
var piiResumeYAML []byte

//go:embed name_lexicon.yaml
var nameLexiconYAML []byte

// PIIResumeYAML returns the embedded default PII recognizer definitions.
func PIIResumeYAML() []byte { return piiResumeYAML }

// NameLexiconYAML returns the embedded default name lexicon.
func NameLexiconYAML() []byte { return nameLexiconYAML }

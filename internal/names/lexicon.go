package names

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dativo-io/veil/patterns"
)

// Lexicon holds the word lists behind the name heuristics.
type Lexicon struct {
	FirstNames []string `yaml:"first_names" json:"first_names"`
	LastNames  []string `yaml:"last_names" json:"last_names"`
	// SectionHeaders are whole phrases ("Work Experience") that look like
	// names but are resume headings. Compared case-insensitively.
	SectionHeaders []string `yaml:"section_headers" json:"section_headers"`
	// PartialWords are upper-case technical terms. A candidate word is
	// rejected when it equals, contains or is contained in an entry.
	PartialWords     []string `yaml:"partial_words" json:"partial_words"`
	TechnicalContext []string `yaml:"technical_context" json:"technical_context"`
}

// ParseLexicon parses lexicon YAML bytes.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parsing name lexicon YAML: %w", err)
	}
	return &lex, nil
}

// LoadLexicon reads a lexicon override file. Returns nil (not an error) if the
// file does not exist.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lexicon file %s: %w", path, err)
	}
	return ParseLexicon(data)
}

// DefaultLexicon returns a fresh copy of the embedded lexicon.
func DefaultLexicon() (*Lexicon, error) {
	lex, err := ParseLexicon(patterns.NameLexiconYAML())
	if err != nil {
		return nil, fmt.Errorf("parsing embedded name lexicon: %w", err)
	}
	return lex, nil
}

// Merge returns a lexicon where every non-empty list in override replaces
// the matching list in l.
func (l *Lexicon) Merge(override *Lexicon) *Lexicon {
	out := *l
	if override == nil {
		return &out
	}
	pick := func(base, o []string) []string {
		if len(o) > 0 {
			return o
		}
		return base
	}
	out.FirstNames = pick(l.FirstNames, override.FirstNames)
	out.LastNames = pick(l.LastNames, override.LastNames)
	out.SectionHeaders = pick(l.SectionHeaders, override.SectionHeaders)
	out.PartialWords = pick(l.PartialWords, override.PartialWords)
	out.TechnicalContext = pick(l.TechnicalContext, override.TechnicalContext)
	return &out
}

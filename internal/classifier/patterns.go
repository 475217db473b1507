package classifier

import (
	"fmt"
	"regexp"

	"github.com/dativo-io/veil/internal/pii"
	"github.com/dativo-io/veil/patterns"
)

// Pattern is a compiled, ready-to-use categorical detection pattern.
// Go regexps hold no scan position, so a Pattern is safe to share across
// calls and goroutines.
type Pattern struct {
	Name        string
	Category    pii.Category
	Label       string // rule label for registry-defined custom entities
	Regex       *regexp.Regexp
	Placeholder string
	Validate    func(match string) bool
	Sensitivity int
}

// DefaultRecognizerFile returns the built-in registry parsed from the
// embedded pii_resume.yaml. This is the first layer in the merge chain.
func DefaultRecognizerFile() (*RecognizerFile, error) {
	rf, err := ParseRecognizerFile(patterns.PIIResumeYAML())
	if err != nil {
		return nil, fmt.Errorf("parsing embedded PII patterns: %w", err)
	}
	return rf, nil
}

// defaultPlaceholders is built at init time from the embedded YAML.
var defaultPlaceholders map[pii.Category]string

// DefaultPatterns is the compiled default pattern set, built at init time.
var DefaultPatterns []Pattern

func init() {
	rf, err := DefaultRecognizerFile()
	if err != nil {
		panic(fmt.Sprintf("loading embedded PII patterns: %v", err))
	}
	compiled, err := CompilePatterns(rf.Recognizers, rf.Placeholders)
	if err != nil {
		panic(fmt.Sprintf("compiling embedded PII patterns: %v", err))
	}
	DefaultPatterns = compiled
	defaultPlaceholders = buildPlaceholders(compiled, rf.Placeholders)
}

// buildPlaceholders resolves one placeholder per category: recognizer
// placeholders first, then the file-level map, then the generic fallback.
func buildPlaceholders(compiled []Pattern, fileLevel map[string]string) map[pii.Category]string {
	out := make(map[pii.Category]string, len(pii.Categories))
	for _, c := range pii.Categories {
		out[c] = placeholderFor(c, fileLevel)
	}
	for _, p := range compiled {
		if p.Category != pii.Custom {
			out[p.Category] = p.Placeholder
		}
	}
	return out
}

// Placeholder returns the default placeholder for a category, e.g.
// "[email redacted]" for email and "Candidate" for name.
func Placeholder(c pii.Category) string {
	if p, ok := defaultPlaceholders[c]; ok {
		return p
	}
	return placeholderFor(c, nil)
}

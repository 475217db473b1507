// Package names finds personal names with ordered heuristic passes tuned for
// resumes: names sit in header positions, and section headings and technical
// jargon are the usual false positives.
package names

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dativo-io/veil/internal/classifier"
	veilotel "github.com/dativo-io/veil/internal/otel"
	"github.com/dativo-io/veil/internal/pii"
)

var tracer = veilotel.Tracer("github.com/dativo-io/veil/internal/names")

// Confidence tiers, one per pass.
const (
	ConfidenceCapsHeader  = 0.98
	ConfidenceGazetteer   = 0.95
	ConfidenceInitial     = 0.92
	ConfidenceHeaderLine  = 0.85
	ConfidenceLoneFirst   = 0.70
	initialWindowRunes    = 300
	loneFirstWindowRunes  = 200
	technicalContextRunes = 15
	maxAcronymLen         = 8
)

var (
	capsHeaderRe = regexp.MustCompile(`^([A-Z]{2,}(?:[ \t]+[A-Z]+)+)(?:\r?\n|\s{2,})`)
	initialRe    = regexp.MustCompile(`\b([A-Z][a-z]{2,}|[A-Z]{3,})[ \t]+[A-Z]\b`)
	headerLineRe = regexp.MustCompile(`^[A-Z][a-z]{2,}[ \t]+[A-Z][a-z]{2,}$`)
)

// Detector runs the name passes against one lexicon. It is immutable after
// construction and safe for concurrent use.
type Detector struct {
	sectionHeaders map[string]bool
	partialWords   []string
	partialSet     map[string]bool
	technical      *regexp.Regexp // nil when the lexicon has no keywords
	gazetteer      *regexp.Regexp // nil without first or last names
	firstName      *regexp.Regexp // nil without first names
	replacement    string
}

// NewDetector compiles a detector from lex.
func NewDetector(lex *Lexicon) (*Detector, error) {
	if lex == nil {
		return nil, fmt.Errorf("names: nil lexicon")
	}
	d := &Detector{
		sectionHeaders: make(map[string]bool, len(lex.SectionHeaders)),
		partialSet:     make(map[string]bool, len(lex.PartialWords)),
		replacement:    classifier.Placeholder(pii.Name),
	}
	for _, h := range lex.SectionHeaders {
		d.sectionHeaders[normalizePhrase(h)] = true
	}
	for _, w := range lex.PartialWords {
		w = strings.ToUpper(strings.TrimSpace(w))
		if w == "" || d.partialSet[w] {
			continue
		}
		d.partialSet[w] = true
		d.partialWords = append(d.partialWords, w)
	}

	technical := alternation(lex.TechnicalContext)
	first := alternation(lex.FirstNames)
	last := alternation(lex.LastNames)

	var err error
	if technical != "" {
		if d.technical, err = regexp.Compile(`(?i)\b(?:` + technical + `)\b`); err != nil {
			return nil, fmt.Errorf("compiling technical context: %w", err)
		}
	}
	if first != "" && last != "" {
		if d.gazetteer, err = regexp.Compile(`(?i)\b(?:` + first + `)\s+(?:` + last + `)\b`); err != nil {
			return nil, fmt.Errorf("compiling gazetteer: %w", err)
		}
	}
	if first != "" {
		if d.firstName, err = regexp.Compile(`\b(?:` + first + `)\b`); err != nil {
			return nil, fmt.Errorf("compiling first names: %w", err)
		}
	}
	return d, nil
}

var defaultDetector = sync.OnceValues(func() (*Detector, error) {
	lex, err := DefaultLexicon()
	if err != nil {
		return nil, err
	}
	return NewDetector(lex)
})

// Default returns the detector built from the embedded lexicon. It panics if
// the embedded data is broken, which tests catch.
func Default() *Detector {
	d, err := defaultDetector()
	if err != nil {
		panic(fmt.Sprintf("names: building default detector: %v", err))
	}
	return d
}

// Detect runs every pass in order. A candidate overlapping a finding from an
// earlier pass (or earlier in the same pass) is dropped.
func (d *Detector) Detect(ctx context.Context, text string) []pii.Finding {
	_, span := tracer.Start(ctx, "names.detect")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil
	}
	s := &scan{text: text, idx: pii.IndexRunes(text), runes: pii.RuneLen(text), d: d}

	s.capsHeader()
	s.nameWithInitial()
	s.gazetteerPairs()
	s.headerLines()
	s.loneFirstNames()

	span.SetAttributes(attribute.Int("pii.name_count", len(s.found)))
	return s.found
}

// scan is the per-call state of one Detect run.
type scan struct {
	d     *Detector
	text  string
	idx   *pii.RuneIndex
	runes int
	found []pii.Finding
}

// add appends a finding for text[startByte:endByte] unless it overlaps one
// already found.
func (s *scan) add(startByte, endByte int, confidence float64) bool {
	if endByte <= startByte {
		return false
	}
	sp := s.idx.SpanOf(startByte, endByte)
	for _, f := range s.found {
		if f.Span.Overlaps(sp) {
			return false
		}
	}
	s.found = append(s.found, pii.Finding{
		Category:    pii.Name,
		Value:       s.text[startByte:endByte],
		Span:        sp,
		Replacement: s.d.replacement,
		Confidence:  confidence,
		Redact:      true,
	})
	return true
}

// capsHeader flags an all-caps phrase opening the document, such as
// "JANE A DOE\n". Section headings written in caps are skipped.
func (s *scan) capsHeader() {
	m := capsHeaderRe.FindStringSubmatchIndex(s.text)
	if m == nil {
		return
	}
	phrase := s.text[m[2]:m[3]]
	if s.d.sectionHeaders[normalizePhrase(phrase)] {
		return
	}
	for _, w := range strings.Fields(phrase) {
		if s.d.partialSet[w] {
			return
		}
	}
	s.add(m[2], m[3], ConfidenceCapsHeader)
}

// nameWithInitial flags "John D" or "SAKTHI E" near the top of the document.
func (s *scan) nameWithInitial() {
	limit := s.idx.Byte(min(initialWindowRunes, s.runes))
	for _, m := range initialRe.FindAllStringSubmatchIndex(s.text, -1) {
		start, end := m[0], m[1]
		if start >= limit {
			break
		}
		word := s.text[m[2]:m[3]]
		if s.d.isPartialWord(word) {
			continue
		}
		if !boundedBefore(s.text, start) || !boundedAfter(s.text, end) {
			continue
		}
		if word == strings.ToUpper(word) && len(word) > maxAcronymLen {
			continue
		}
		if s.hasTechnicalContext(start, end) {
			continue
		}
		s.add(start, end, ConfidenceInitial)
	}
}

// gazetteerPairs flags known "First Last" pairs anywhere in the text.
func (s *scan) gazetteerPairs() {
	if s.d.gazetteer == nil {
		return
	}
	for _, m := range s.d.gazetteer.FindAllStringIndex(s.text, -1) {
		s.add(m[0], m[1], ConfidenceGazetteer)
	}
}

// headerLines flags a line holding exactly two capitalized words.
func (s *scan) headerLines() {
	offset := 0
	for _, line := range strings.SplitAfter(s.text, "\n") {
		start := offset
		offset += len(line)
		content := strings.TrimRight(line, "\r\n")
		if !headerLineRe.MatchString(content) {
			continue
		}
		if s.d.sectionHeaders[normalizePhrase(content)] {
			continue
		}
		s.add(start, start+len(content), ConfidenceHeaderLine)
	}
}

// loneFirstNames flags a known first name standing at the start of a line
// near the top of the document.
func (s *scan) loneFirstNames() {
	if s.d.firstName == nil {
		return
	}
	limit := s.idx.Byte(min(loneFirstWindowRunes, s.runes))
	window := s.text[:limit]
	for _, m := range s.d.firstName.FindAllStringIndex(window, -1) {
		start, end := m[0], m[1]
		if start > 0 && window[start-1] != '\n' && window[start-1] != '\r' {
			continue
		}
		if end < len(window) {
			if c := window[end]; c != '\n' && c != '\r' && c != ' ' {
				continue
			}
		}
		s.add(start, end, ConfidenceLoneFirst)
	}
}

// hasTechnicalContext reports whether a technical keyword appears within
// technicalContextRunes runes of text[start:end].
func (s *scan) hasTechnicalContext(start, end int) bool {
	if s.d.technical == nil {
		return false
	}
	from := s.idx.Byte(max(0, s.idx.Rune(start)-technicalContextRunes))
	to := s.idx.Byte(min(s.runes, s.idx.Rune(end)+technicalContextRunes))
	return s.d.technical.MatchString(s.text[from:to])
}

func (d *Detector) isPartialWord(word string) bool {
	upper := strings.ToUpper(word)
	for _, term := range d.partialWords {
		if strings.Contains(upper, term) || strings.Contains(term, upper) {
			return true
		}
	}
	return false
}

func boundedBefore(text string, start int) bool {
	if start == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:start])
	return unicode.IsSpace(r)
}

func boundedAfter(text string, end int) bool {
	if end == len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[end:])
	return unicode.IsSpace(r) || r == ',' || r == '.'
}

// normalizePhrase lower-cases a phrase and collapses inner whitespace.
func normalizePhrase(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func alternation(words []string) string {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	return strings.Join(quoted, "|")
}

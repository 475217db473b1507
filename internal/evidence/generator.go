package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dativo-io/veil/internal/pii"
)

// Generator creates and persists evidence records.
type Generator struct {
	store *Store
	now   func() time.Time
}

// NewGenerator creates an evidence generator backed by the given store.
func NewGenerator(store *Store) *Generator {
	return &Generator{store: store, now: time.Now}
}

// GenerateParams holds all inputs for creating an evidence record.
// The Generator hashes input and output, reduces the findings to counts and
// category names, signs the record and persists it.
type GenerateParams struct {
	Caller       string        // API caller name, or "cli"
	Operation    string        // one of the Op* constants
	Document     string        // session id or file name; file names are hashed
	Input        string        // source text (hashed, never stored)
	Output       string        // redacted text (hashed, never stored)
	Findings     []pii.Finding // findings as applied, including ignored ones
	SkippedRules int
	Dispatch     string
}

// newID returns "red_" followed by a full random UUID as 32 hex characters.
func newID() string {
	return "red_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Generate creates and stores an evidence record from the given parameters.
func (g *Generator) Generate(ctx context.Context, params GenerateParams) (*Evidence, error) {
	ev := &Evidence{
		ID:        newID(),
		Timestamp: g.now().UTC(),
		Caller:    params.Caller,
		Operation: params.Operation,
		Document:  DocumentRef(params.Document),
		Detection: summarize(params.Findings),
		AuditTrail: AuditTrail{
			InputHash:  hashString(params.Input),
			OutputHash: hashString(params.Output),
		},
	}
	ev.Detection.SkippedRules = params.SkippedRules
	ev.Detection.Dispatch = params.Dispatch

	if err := g.store.Store(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func summarize(findings []pii.Finding) Detection {
	d := Detection{Findings: len(findings)}
	seen := make(map[string]bool)
	for i := range findings {
		f := &findings[i]
		if !f.Redact {
			d.Ignored++
			continue
		}
		d.Redacted++
		if label := f.Label(); !seen[label] {
			seen[label] = true
			d.Categories = append(d.Categories, label)
		}
	}
	sort.Strings(d.Categories)
	return d
}

// DocumentRef returns a label for a document that is safe to keep in the
// audit trail. Session ids pass through; file names often carry the
// candidate's name, so they are replaced by a hash that keeps the extension.
func DocumentRef(name string) string {
	if name == "" {
		return ""
	}
	if _, err := uuid.Parse(name); err == nil {
		return name
	}
	base := filepath.Base(name)
	return hashString(base)[:len("sha256:")+12] + strings.ToLower(filepath.Ext(base))
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return "sha256:" + hex.EncodeToString(h[:])
}

// Package evidence keeps an HMAC-signed audit trail of redactions.
//
// Every redacted output handed to a user produces an Evidence record that is
// signed (HMAC-SHA256) and persisted in SQLite. A record proves what was
// redacted and by whom without holding any personal data: it stores finding
// counts, category names and content hashes, never finding values or text.
package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	veilotel "github.com/dativo-io/veil/internal/otel"
)

var tracer = veilotel.Tracer("github.com/dativo-io/veil/internal/evidence")

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("evidence not found")

// Operations that produce evidence.
const (
	OpAPIRedact     = "api_redact"
	OpSessionRedact = "session_redact"
	OpCLIRedact     = "cli_redact"
	OpBatch         = "batch"
)

// Store persists HMAC-signed evidence records in SQLite.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// Evidence is the audit record for one redacted output.
type Evidence struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Caller     string     `json:"caller"`
	Operation  string     `json:"operation"`
	Document   string     `json:"document"`
	Detection  Detection  `json:"detection"`
	AuditTrail AuditTrail `json:"audit_trail"`
	Signature  string     `json:"signature"`
}

// Detection summarizes the findings behind the output.
type Detection struct {
	Findings     int      `json:"findings"`
	Redacted     int      `json:"redacted"`
	Ignored      int      `json:"ignored"`
	Categories   []string `json:"categories,omitempty"` // distinct labels of redacted findings, sorted
	SkippedRules int      `json:"skipped_rules,omitempty"`
	Dispatch     string   `json:"dispatch,omitempty"`
}

// AuditTrail contains content hashes for integrity verification.
type AuditTrail struct {
	InputHash  string `json:"input_hash"`
	OutputHash string `json:"output_hash"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Caller    string
	Operation string
	From      time.Time
	To        time.Time
	Limit     int
}

// NewStore creates an evidence store with HMAC signing.
func NewStore(dbPath string, signingKey string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening evidence database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS evidence (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		caller TEXT NOT NULL,
		operation TEXT NOT NULL,
		evidence_json TEXT NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_evidence_caller ON evidence(caller);
	CREATE INDEX IF NOT EXISTS idx_evidence_timestamp ON evidence(timestamp);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating evidence schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Store{
		db:     db,
		signer: signer,
	}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store signs ev and saves it. The signature covers the JSON encoding of ev
// with an empty Signature field.
func (s *Store) Store(ctx context.Context, ev *Evidence) error {
	ctx, span := tracer.Start(ctx, "evidence.store",
		trace.WithAttributes(
			attribute.String("evidence.id", ev.ID),
			attribute.String("evidence.operation", ev.Operation),
		))
	defer span.End()

	ev.Signature = ""
	unsigned, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling evidence: %w", err)
	}
	signature, err := s.signer.Sign(unsigned)
	if err != nil {
		return fmt.Errorf("signing evidence: %w", err)
	}
	ev.Signature = signature

	signed, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling evidence: %w", err)
	}

	query := `INSERT INTO evidence (id, timestamp, caller, operation, evidence_json, signature)
	          VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.Timestamp.UTC(), ev.Caller, ev.Operation, string(signed), signature,
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing evidence: %w", err)
	}
	return nil
}

// Get retrieves evidence by ID.
func (s *Store) Get(ctx context.Context, id string) (*Evidence, error) {
	ctx, span := tracer.Start(ctx, "evidence.get",
		trace.WithAttributes(attribute.String("evidence.id", id)))
	defer span.End()

	var evidenceJSON string
	err := s.db.QueryRowContext(ctx, `SELECT evidence_json FROM evidence WHERE id = ?`, id).Scan(&evidenceJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evidence %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying evidence: %w", err)
	}

	var ev Evidence
	if err := json.Unmarshal([]byte(evidenceJSON), &ev); err != nil {
		return nil, fmt.Errorf("unmarshaling evidence: %w", err)
	}
	return &ev, nil
}

// List returns records matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Evidence, error) {
	ctx, span := tracer.Start(ctx, "evidence.list",
		trace.WithAttributes(
			attribute.String("caller", f.Caller),
			attribute.String("evidence.operation", f.Operation),
		))
	defer span.End()

	query := `SELECT evidence_json FROM evidence WHERE 1=1`
	args := []any{}

	if f.Caller != "" {
		query += ` AND caller = ?`
		args = append(args, f.Caller)
	}
	if f.Operation != "" {
		query += ` AND operation = ?`
		args = append(args, f.Operation)
	}
	if !f.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, f.To.UTC())
	}
	query += ` ORDER BY timestamp DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying evidence: %w", err)
	}
	defer rows.Close()

	results := []Evidence{}
	for rows.Next() {
		var evidenceJSON string
		if err := rows.Scan(&evidenceJSON); err != nil {
			return nil, fmt.Errorf("scanning evidence: %w", err)
		}
		var ev Evidence
		if err := json.Unmarshal([]byte(evidenceJSON), &ev); err != nil {
			return nil, fmt.Errorf("unmarshaling evidence: %w", err)
		}
		results = append(results, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating evidence: %w", err)
	}

	span.SetAttributes(attribute.Int("evidence.count", len(results)))
	return results, nil
}

// Verify checks the HMAC signature integrity of an evidence record.
func (s *Store) Verify(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "evidence.verify",
		trace.WithAttributes(attribute.String("evidence.id", id)))
	defer span.End()

	ev, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	signature := ev.Signature
	ev.Signature = ""

	evidenceJSON, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshaling for verification: %w", err)
	}

	valid := s.signer.Verify(evidenceJSON, signature)
	span.SetAttributes(attribute.Bool("evidence.valid", valid))
	return valid, nil
}

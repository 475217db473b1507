// Package review keeps review sessions: a document's text and its findings
// while a person confirms or ignores each one before redacting. Session
// content is sealed with NaCl secretbox at rest since it is the raw PII.
package review

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/dativo-io/veil/internal/cryptoutil"
	veilotel "github.com/dativo-io/veil/internal/otel"
	"github.com/dativo-io/veil/internal/pii"
)

var tracer = veilotel.Tracer("github.com/dativo-io/veil/internal/review")

var (
	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSealedContent is returned when stored content cannot be opened
	// with the configured key.
	ErrSealedContent = errors.New("session content cannot be decrypted")
)

const schema = `
CREATE TABLE IF NOT EXISTS review_sessions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    sealed BLOB NOT NULL,
    finding_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_sessions_updated ON review_sessions(updated_at);
`

const nonceSize = 24

// Session is one document under review.
type Session struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Text      string          `json:"text"`
	Findings  []pii.Finding   `json:"findings"`
	Skipped   []pii.RuleError `json:"skipped_rules,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Summary is the listing view of a session, without text or findings.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	FindingCount int       `json:"finding_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// content is the sealed part of a session row.
type content struct {
	Text     string          `json:"text"`
	Findings []pii.Finding   `json:"findings"`
	Skipped  []pii.RuleError `json:"skipped,omitempty"`
}

// Store persists review sessions in SQLite.
type Store struct {
	db  *sql.DB
	key *[cryptoutil.KeySize]byte
	now func() time.Time
	// mu serializes read-modify-write updates within this process; the
	// immediate transaction covers other processes sharing the file.
	mu sync.Mutex
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dsn opens dbPath with writer transactions taking the lock at BEGIN and a
// busy timeout so a second writer waits instead of failing.
func dsn(dbPath string) string {
	return dbPath + "?_txlock=immediate&_busy_timeout=5000"
}

// NewStore opens the session database at dbPath. key must be 32 raw bytes
// or 64 hex characters.
func NewStore(dbPath, key string) (*Store, error) {
	k, err := cryptoutil.ResolveKey(key)
	if err != nil {
		return nil, fmt.Errorf("session key: %w", err)
	}
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening sessions database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sessions schema: %w", err)
	}
	return &Store{db: db, key: k, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create stores a new session. findings must belong to text.
func (s *Store) Create(ctx context.Context, name, text string, findings []pii.Finding, skipped []pii.RuleError) (*Session, error) {
	ctx, span := tracer.Start(ctx, "review.create",
		trace.WithAttributes(veilotel.PIIFindingCount.Int(len(findings))))
	defer span.End()

	if err := pii.Validate(text, findings); err != nil {
		return nil, err
	}
	if findings == nil {
		findings = []pii.Finding{}
	}
	now := s.now()
	sess := &Session{
		ID:        uuid.New().String(),
		Name:      name,
		Text:      text,
		Findings:  findings,
		Skipped:   skipped,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sealed, err := s.seal(content{Text: text, Findings: findings, Skipped: skipped})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO review_sessions (id, name, sealed, finding_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, name, sealed, len(findings), now, now); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("storing session: %w", err)
	}
	span.SetAttributes(veilotel.PIISessionID.String(sess.ID))
	return sess, nil
}

// Get loads and decrypts a session.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "review.get",
		trace.WithAttributes(veilotel.PIISessionID.String(id)))
	defer span.End()

	sess, err := s.load(ctx, s.db, id)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		span.RecordError(err)
	}
	return sess, err
}

func (s *Store) load(ctx context.Context, q rowQuerier, id string) (*Session, error) {
	sess := &Session{ID: id}
	var sealed []byte
	err := q.QueryRowContext(ctx,
		`SELECT name, sealed, created_at, updated_at FROM review_sessions WHERE id = ?`, id).
		Scan(&sess.Name, &sealed, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	c, err := s.open(sealed)
	if err != nil {
		return nil, err
	}
	sess.Text, sess.Findings, sess.Skipped = c.Text, c.Findings, c.Skipped
	return sess, nil
}

// List returns session summaries, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	ctx, span := tracer.Start(ctx, "review.list")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, finding_count, created_at, updated_at
		 FROM review_sessions ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.Name, &sm.FindingCount, &sm.CreatedAt, &sm.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// SetRedact toggles one finding of a session and returns the updated session.
func (s *Store) SetRedact(ctx context.Context, id, findingID string, redact bool) (*Session, error) {
	ctx, span := tracer.Start(ctx, "review.set_redact",
		trace.WithAttributes(
			veilotel.PIISessionID.String(id),
			attribute.String("pii.finding_id", findingID),
			attribute.Bool("pii.redact", redact),
		))
	defer span.End()

	return s.update(ctx, id, func(sess *Session) error {
		return pii.SetRedact(sess.Findings, findingID, redact)
	})
}

// SetAll marks every finding of a session as accepted or ignored.
func (s *Store) SetAll(ctx context.Context, id string, redact bool) (*Session, error) {
	ctx, span := tracer.Start(ctx, "review.set_all",
		trace.WithAttributes(veilotel.PIISessionID.String(id), attribute.Bool("pii.redact", redact)))
	defer span.End()

	return s.update(ctx, id, func(sess *Session) error {
		for i := range sess.Findings {
			sess.Findings[i].SetRedact(redact)
		}
		return nil
	})
}

// update applies mutate to the stored session. The read and the write run in
// one transaction so concurrent toggles on a session never drop each other.
func (s *Store) update(ctx context.Context, id string, mutate func(*Session) error) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning session update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := s.load(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(sess); err != nil {
		return nil, err
	}
	sealed, err := s.seal(content{Text: sess.Text, Findings: sess.Findings, Skipped: sess.Skipped})
	if err != nil {
		return nil, err
	}
	sess.UpdatedAt = s.now()
	res, err := tx.ExecContext(ctx,
		`UPDATE review_sessions SET sealed = ?, updated_at = ? WHERE id = ?`, sealed, sess.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("updating session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing session update: %w", err)
	}
	return sess, nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "review.delete",
		trace.WithAttributes(veilotel.PIISessionID.String(id)))
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM review_sessions WHERE id = ?`, id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// PurgeOlderThan deletes sessions not updated within ttl and returns how
// many were removed.
func (s *Store) PurgeOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	ctx, span := tracer.Start(ctx, "review.purge",
		trace.WithAttributes(attribute.String("review.ttl", ttl.String())))
	defer span.End()

	cutoff := s.now().Add(-ttl)
	res, err := s.db.ExecContext(ctx, `DELETE FROM review_sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("purging sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading purged rows: %w", err)
	}
	span.SetAttributes(attribute.Int64("review.purged", n))
	return n, nil
}

// seal encrypts c as nonce||box.
func (s *Store) seal(c content) ([]byte, error) {
	plain, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding session content: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, s.key), nil
}

func (s *Store) open(sealed []byte) (content, error) {
	var c content
	if len(sealed) < nonceSize+secretbox.Overhead {
		return c, ErrSealedContent
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, s.key)
	if !ok {
		return c, ErrSealedContent
	}
	if err := json.Unmarshal(plain, &c); err != nil {
		return c, fmt.Errorf("decoding session content: %w", err)
	}
	return c, nil
}

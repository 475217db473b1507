// Package rules persists user-defined custom redaction rules in SQLite.
// Detection only reads rules; every write goes through Store, which rejects
// patterns that do not compile.
package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/veil/internal/classifier"
	veilotel "github.com/dativo-io/veil/internal/otel"
	"github.com/dativo-io/veil/internal/pii"
)

var tracer = veilotel.Tracer("github.com/dativo-io/veil/internal/rules")

var (
	// ErrRuleNotFound is returned when no rule has the requested id.
	ErrRuleNotFound = errors.New("rule not found")
	// ErrInvalidRule is returned for a rule with an empty name or a pattern
	// that does not compile.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrDuplicateRule is returned when a rule name is already taken.
	ErrDuplicateRule = errors.New("rule name already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS custom_rules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    pattern TEXT NOT NULL,
    replacement TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    enabled BOOLEAN NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_custom_rules_enabled ON custom_rules(enabled);
`

// Store manages custom rules backed by SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the rules database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening rules database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating rules schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Validate checks a rule before it is stored.
func Validate(r pii.CustomRule) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.Pattern == "" {
		return fmt.Errorf("%w: pattern is required", ErrInvalidRule)
	}
	if _, err := classifier.CompileRule(r.Pattern); err != nil {
		return fmt.Errorf("%w: pattern %q: %v", ErrInvalidRule, r.Pattern, err)
	}
	return nil
}

// Add stores a new rule and returns it with id and created_at set.
func (s *Store) Add(ctx context.Context, r pii.CustomRule) (pii.CustomRule, error) {
	ctx, span := tracer.Start(ctx, "rules.add",
		trace.WithAttributes(attribute.String("rule.name", r.Name)))
	defer span.End()

	if err := Validate(r); err != nil {
		return pii.CustomRule{}, err
	}
	r.Name = strings.TrimSpace(r.Name)
	r.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO custom_rules (name, pattern, replacement, description, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Name, r.Pattern, r.Replacement, r.Description, r.Enabled, r.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return pii.CustomRule{}, wrapConstraint(err, r.Name)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return pii.CustomRule{}, fmt.Errorf("reading rule id: %w", err)
	}
	return r, nil
}

// Get returns one rule by id.
func (s *Store) Get(ctx context.Context, id int64) (pii.CustomRule, error) {
	ctx, span := tracer.Start(ctx, "rules.get",
		trace.WithAttributes(attribute.Int64("rule.id", id)))
	defer span.End()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, pattern, replacement, description, enabled, created_at
		 FROM custom_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pii.CustomRule{}, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		span.RecordError(err)
		return pii.CustomRule{}, fmt.Errorf("querying rule: %w", err)
	}
	return r, nil
}

// List returns every rule in creation order.
func (s *Store) List(ctx context.Context) ([]pii.CustomRule, error) {
	return s.list(ctx, "rules.list", false)
}

// Enabled returns the enabled rules in creation order, ready to pass to
// detection.
func (s *Store) Enabled(ctx context.Context) ([]pii.CustomRule, error) {
	return s.list(ctx, "rules.enabled", true)
}

func (s *Store) list(ctx context.Context, spanName string, enabledOnly bool) ([]pii.CustomRule, error) {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	query := `SELECT id, name, pattern, replacement, description, enabled, created_at FROM custom_rules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	out := []pii.CustomRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	span.SetAttributes(attribute.Int("rule.count", len(out)))
	return out, nil
}

// Update replaces the name, pattern, replacement, description and enabled
// flag of rule r.ID. created_at is kept.
func (s *Store) Update(ctx context.Context, r pii.CustomRule) error {
	ctx, span := tracer.Start(ctx, "rules.update",
		trace.WithAttributes(attribute.Int64("rule.id", r.ID)))
	defer span.End()

	if err := Validate(r); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE custom_rules SET name = ?, pattern = ?, replacement = ?, description = ?, enabled = ?
		 WHERE id = ?`,
		strings.TrimSpace(r.Name), r.Pattern, r.Replacement, r.Description, r.Enabled, r.ID)
	if err != nil {
		span.RecordError(err)
		return wrapConstraint(err, r.Name)
	}
	return requireRow(res, r.ID)
}

// Toggle enables or disables a rule.
func (s *Store) Toggle(ctx context.Context, id int64, enabled bool) error {
	ctx, span := tracer.Start(ctx, "rules.toggle",
		trace.WithAttributes(attribute.Int64("rule.id", id), attribute.Bool("rule.enabled", enabled)))
	defer span.End()

	res, err := s.db.ExecContext(ctx, `UPDATE custom_rules SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("toggling rule: %w", err)
	}
	return requireRow(res, id)
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "rules.delete",
		trace.WithAttributes(attribute.Int64("rule.id", id)))
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM custom_rules WHERE id = ?`, id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting rule: %w", err)
	}
	return requireRow(res, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (pii.CustomRule, error) {
	var r pii.CustomRule
	err := row.Scan(&r.ID, &r.Name, &r.Pattern, &r.Replacement, &r.Description, &r.Enabled, &r.CreatedAt)
	return r, err
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
	}
	return nil
}

// wrapConstraint maps a UNIQUE violation on name to ErrDuplicateRule.
func wrapConstraint(err error, name string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%q: %w", name, ErrDuplicateRule)
	}
	return fmt.Errorf("storing rule: %w", err)
}

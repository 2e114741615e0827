// Package postgres provides a durable ledger store backed by PostgreSQL
// (github.com/lib/pq, driver name "postgres").
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/changegate/changegate/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InitSchema creates the modifications table if it does not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS modifications (
			id                 TEXT PRIMARY KEY,
			target_path        TEXT NOT NULL,
			original_content   TEXT NOT NULL,
			proposed_content   TEXT NOT NULL,
			test_surface       TEXT NOT NULL DEFAULT '',
			reason             TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL,
			decision_outcome   TEXT NOT NULL DEFAULT '',
			decision_rationale TEXT NOT NULL DEFAULT '',
			reviewer           TEXT NOT NULL DEFAULT '',
			reviewer_note      TEXT NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL,
			decided_at         TIMESTAMPTZ,
			applied_at         TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_modifications_target_status
			ON modifications (target_path, status);
	`)
	return err
}

func (s *Store) Create(ctx context.Context, m ledger.Modification) error {
	if m.ID == "" {
		return errors.New("modification id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modifications (
			id, target_path, original_content, proposed_content, test_surface,
			reason, status, decision_outcome, decision_rationale, reviewer,
			reviewer_note, created_at, decided_at, applied_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, m.ID, m.TargetPath, m.OriginalContent, m.ProposedContent, m.TestSurface,
		m.Reason, m.Status, m.DecisionOutcome, m.DecisionRationale, m.Reviewer,
		m.ReviewerNote, m.CreatedAt, nullTime(m.DecidedAt), nullTime(m.AppliedAt))
	return err
}

func (s *Store) Get(ctx context.Context, id string) (ledger.Modification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target_path, original_content, proposed_content, test_surface,
		       reason, status, decision_outcome, decision_rationale, reviewer,
		       reviewer_note, created_at, decided_at, applied_at
		FROM modifications
		WHERE id = $1
	`, id)

	m, err := scanModification(row)
	if err == sql.ErrNoRows {
		return ledger.Modification{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Modification{}, err
	}
	return m, nil
}

func (s *Store) Update(ctx context.Context, m ledger.Modification) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE modifications
		SET status = $1, decision_outcome = $2, decision_rationale = $3,
		    reviewer = $4, reviewer_note = $5, decided_at = $6, applied_at = $7
		WHERE id = $8
	`, m.Status, m.DecisionOutcome, m.DecisionRationale,
		m.Reviewer, m.ReviewerNote, nullTime(m.DecidedAt), nullTime(m.AppliedAt), m.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, f ledger.Filter) ([]ledger.Modification, error) {
	var args []any
	var b strings.Builder

	b.WriteString(`
		SELECT id, target_path, original_content, proposed_content, test_surface,
		       reason, status, decision_outcome, decision_rationale, reviewer,
		       reviewer_note, created_at, decided_at, applied_at
		FROM modifications
		WHERE 1=1
	`)

	if f.Status != "" {
		args = append(args, f.Status)
		b.WriteString(" AND status = $" + strconv.Itoa(len(args)))
	}
	if f.TargetPath != "" {
		args = append(args, f.TargetPath)
		b.WriteString(" AND target_path = $" + strconv.Itoa(len(args)))
	}

	b.WriteString(" ORDER BY created_at DESC, id ASC")

	if f.Limit > 0 {
		args = append(args, f.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Modification
	for rows.Next() {
		m, err := scanModification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModification(r rowScanner) (ledger.Modification, error) {
	var m ledger.Modification
	var decidedAt, appliedAt sql.NullTime

	err := r.Scan(
		&m.ID,
		&m.TargetPath,
		&m.OriginalContent,
		&m.ProposedContent,
		&m.TestSurface,
		&m.Reason,
		&m.Status,
		&m.DecisionOutcome,
		&m.DecisionRationale,
		&m.Reviewer,
		&m.ReviewerNote,
		&m.CreatedAt,
		&decidedAt,
		&appliedAt,
	)
	if err != nil {
		return ledger.Modification{}, err
	}

	if decidedAt.Valid {
		m.DecidedAt = decidedAt.Time
	}
	if appliedAt.Valid {
		m.AppliedAt = appliedAt.Time
	}
	return m, nil
}

// nullTime maps the zero time to NULL so unset timestamps stay unset.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

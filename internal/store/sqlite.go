package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/navproof/accounting-engine/internal/verify"
)

// SQLiteStore implements Store on an embedded SQLite database (pure-Go
// driver, no cgo). It backs the CLI's lineage state between runs and the
// store test suite; ":memory:" is supported.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) a SQLite database at path
// and ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: SQLite is single-writer, and a second pooled
	// connection to ":memory:" would see a different empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reports (
			id           TEXT PRIMARY KEY,
			digest       TEXT UNIQUE,
			outcome      TEXT NOT NULL,
			codes        TEXT NOT NULL,
			checks       TEXT NOT NULL,
			computed_nav TEXT,
			reason       TEXT NOT NULL DEFAULT '',
			lineage      TEXT NOT NULL DEFAULT '',
			step_index   INTEGER,
			created_at   TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS lineages (
			lineage   TEXT PRIMARY KEY,
			head_step INTEGER NOT NULL
		);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveReport(ctx context.Context, r *Report) error {
	codes, err := json.Marshal(r.Codes)
	if err != nil {
		return fmt.Errorf("marshal codes: %w", err)
	}
	checks, err := json.Marshal(r.Checks)
	if err != nil {
		return fmt.Errorf("marshal checks: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, digest, outcome, codes, checks, computed_nav, reason, lineage, step_index, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(digest) DO NOTHING`,
		r.ID, nullIfEmpty(r.Digest), string(r.Outcome),
		string(codes), string(checks),
		nullIfEmpty(r.ComputedNAV), r.Reason, r.Lineage,
		r.StepIndex, r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

const sqliteReportColumns = `id, COALESCE(digest, ''), outcome,
        codes, checks,
        COALESCE(computed_nav, ''),
        reason, lineage, step_index, created_at`

func (s *SQLiteStore) Report(ctx context.Context, id string) (*Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteReportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanSQLiteReport(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) ReportByDigest(ctx context.Context, digest string) (*Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteReportColumns+` FROM reports WHERE digest = ?`, digest)
	r, err := scanSQLiteReport(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report for digest %s: %w", digest, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report by digest %s: %w", digest, err)
	}
	return r, nil
}

func (s *SQLiteStore) RecentReports(ctx context.Context, limit int) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteReportColumns+` FROM reports
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		r, err := scanSQLiteReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

func (s *SQLiteStore) LineageHead(ctx context.Context, lineage string) (int64, error) {
	var head int64
	err := s.db.QueryRowContext(ctx,
		`SELECT head_step FROM lineages WHERE lineage = ?`, lineage).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lineage %s: %w", lineage, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get lineage %s: %w", lineage, err)
	}
	return head, nil
}

func (s *SQLiteStore) AdvanceLineage(ctx context.Context, lineage string, step int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lineages (lineage, head_step) VALUES (?, ?)
		 ON CONFLICT(lineage) DO UPDATE
		 SET head_step = MAX(head_step, excluded.head_step)`,
		lineage, step,
	)
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func scanSQLiteReport(scan func(dest ...any) error) (*Report, error) {
	var r Report
	var outcome, codesJSON, checksJSON, createdS string

	if err := scan(&r.ID, &r.Digest, &outcome,
		&codesJSON, &checksJSON,
		&r.ComputedNAV, &r.Reason, &r.Lineage,
		&r.StepIndex, &createdS); err != nil {
		return nil, err
	}

	r.Outcome = verify.Outcome(outcome)
	if err := json.Unmarshal([]byte(codesJSON), &r.Codes); err != nil {
		return nil, fmt.Errorf("decode codes: %w", err)
	}
	if err := json.Unmarshal([]byte(checksJSON), &r.Checks); err != nil {
		return nil, fmt.Errorf("decode checks: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, createdS)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	r.CreatedAt = created
	return &r, nil
}

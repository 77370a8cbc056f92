package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/navproof/accounting-engine/internal/verify"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// The recomputed NAV is stored as NUMERIC for exact decimal precision;
// codes and checks are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the reports and lineages tables if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reports (
			seq          BIGSERIAL,
			id           TEXT PRIMARY KEY,
			digest       TEXT UNIQUE,
			outcome      TEXT NOT NULL,
			codes        JSONB NOT NULL,
			checks       JSONB NOT NULL,
			computed_nav NUMERIC,
			reason       TEXT NOT NULL DEFAULT '',
			lineage      TEXT NOT NULL DEFAULT '',
			step_index   BIGINT,
			created_at   TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS lineages (
			lineage   TEXT PRIMARY KEY,
			head_step BIGINT NOT NULL
		);`)
	return err
}

func (s *PostgresStore) SaveReport(ctx context.Context, r *Report) error {
	codes, err := json.Marshal(r.Codes)
	if err != nil {
		return fmt.Errorf("marshal codes: %w", err)
	}
	checks, err := json.Marshal(r.Checks)
	if err != nil {
		return fmt.Errorf("marshal checks: %w", err)
	}

	// Unique digests never conflict twice on purpose; a duplicate save is
	// dropped because the stored report already is the result.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (id, digest, outcome, codes, checks, computed_nav, reason, lineage, step_index, created_at)
		 VALUES ($1, $2, $3, $4::JSONB, $5::JSONB, $6::NUMERIC, $7, $8, $9, $10)
		 ON CONFLICT (digest) DO NOTHING`,
		r.ID, nullIfEmpty(r.Digest), string(r.Outcome),
		string(codes), string(checks),
		nullIfEmpty(r.ComputedNAV), r.Reason, r.Lineage,
		r.StepIndex, r.CreatedAt,
	)
	return err
}

const reportColumns = `id, COALESCE(digest, ''), outcome,
        codes::TEXT, checks::TEXT,
        COALESCE(computed_nav::TEXT, ''),
        reason, lineage, step_index, created_at`

func (s *PostgresStore) Report(ctx context.Context, id string) (*Report, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	r, err := scanReport(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) ReportByDigest(ctx context.Context, digest string) (*Report, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE digest = $1`, digest)
	r, err := scanReport(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("report for digest %s: %w", digest, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report by digest %s: %w", digest, err)
	}
	return r, nil
}

func (s *PostgresStore) RecentReports(ctx context.Context, limit int) ([]Report, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reportColumns+` FROM reports
		 ORDER BY created_at DESC, seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		r, err := scanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

func (s *PostgresStore) LineageHead(ctx context.Context, lineage string) (int64, error) {
	var head int64
	err := s.pool.QueryRow(ctx,
		`SELECT head_step FROM lineages WHERE lineage = $1`, lineage).Scan(&head)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("lineage %s: %w", lineage, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get lineage %s: %w", lineage, err)
	}
	return head, nil
}

func (s *PostgresStore) AdvanceLineage(ctx context.Context, lineage string, step int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lineages (lineage, head_step) VALUES ($1, $2)
		 ON CONFLICT (lineage) DO UPDATE
		 SET head_step = GREATEST(lineages.head_step, EXCLUDED.head_step)`,
		lineage, step,
	)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// scanReport reads one report row through any Scan-shaped function, so
// QueryRow and Query rows share the decoding path.
func scanReport(scan func(dest ...any) error) (*Report, error) {
	var r Report
	var outcome, codesJSON, checksJSON string

	if err := scan(&r.ID, &r.Digest, &outcome,
		&codesJSON, &checksJSON,
		&r.ComputedNAV, &r.Reason, &r.Lineage,
		&r.StepIndex, &r.CreatedAt); err != nil {
		return nil, err
	}

	r.Outcome = verify.Outcome(outcome)
	if err := json.Unmarshal([]byte(codesJSON), &r.Codes); err != nil {
		return nil, fmt.Errorf("decode codes: %w", err)
	}
	if err := json.Unmarshal([]byte(checksJSON), &r.Checks); err != nil {
		return nil, fmt.Errorf("decode checks: %w", err)
	}
	return &r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Package store defines persistence for verification reports and lineage
// heads. Implementations include PostgreSQL (source of truth), SQLite
// (embedded, for the CLI and tests), Redis (read-through cache), and
// in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/navproof/accounting-engine/internal/invariant"
	"github.com/navproof/accounting-engine/internal/verify"
)

// ErrNotFound is returned when a report or lineage head does not exist.
// Implementations wrap it with the missing key.
var ErrNotFound = errors.New("store: not found")

// Report is one persisted verification verdict. The ID and CreatedAt are
// assigned by the service layer; the kernel result itself carries neither,
// so a digest-identical certificate always maps to an equivalent report.
type Report struct {
	ID          string                  `json:"id"`
	Digest      string                  `json:"digest,omitempty"`
	Outcome     verify.Outcome          `json:"outcome"`
	Codes       []string                `json:"codes,omitempty"`
	Checks      []invariant.CheckResult `json:"checks,omitempty"`
	ComputedNAV string                  `json:"computed_nav,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	Lineage     string                  `json:"lineage,omitempty"`
	StepIndex   *int64                  `json:"step_index,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

// Store is the persistence interface. PostgreSQL is the source of truth in
// a deployed service; Redis provides a read-through cache layer.
type Store interface {
	// --- Reports ---

	// SaveReport persists a report. Saving a second report with the same
	// non-empty digest is a no-op: verification is deterministic, so the
	// stored report already is the result.
	SaveReport(ctx context.Context, r *Report) error

	// Report retrieves a report by its ID.
	Report(ctx context.Context, id string) (*Report, error)

	// ReportByDigest retrieves the report for a certificate digest.
	ReportByDigest(ctx context.Context, digest string) (*Report, error)

	// RecentReports returns up to limit reports, newest first.
	RecentReports(ctx context.Context, limit int) ([]Report, error)

	// --- Lineage heads ---

	// LineageHead returns the highest accepted step index for a lineage.
	LineageHead(ctx context.Context, lineage string) (int64, error)

	// AdvanceLineage raises the lineage head to step if it is higher than
	// the current head. Lower steps are kept, so the head never moves
	// backwards even under concurrent accepts.
	AdvanceLineage(ctx context.Context, lineage string, step int64) error

	// --- Lifecycle ---

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

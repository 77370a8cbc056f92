// Package gateway provides the HTTP handlers for submitting certificates,
// fetching verification reports, and querying lineage heads.
//
// All monetary values travel as scaled-decimal strings — never float64.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/navproof/accounting-engine/internal/cert"
	"github.com/navproof/accounting-engine/internal/metrics"
	"github.com/navproof/accounting-engine/internal/store"
	"github.com/navproof/accounting-engine/internal/verify"
)

// recentLineageReports caps how many stored reports the lineage endpoint
// scans when collecting a lineage's history.
const recentLineageReports = 100

// Service handles certificate verification requests. Verification itself
// is pure and safe to run concurrently; all shared state lives in the
// store, whose lineage upsert is monotonic under concurrent accepts.
type Service struct {
	store   store.Store
	hub     *Hub // optional WebSocket hub for report streaming
	workers int
	timeout time.Duration
}

// NewService creates a new verification service.
// Pass nil for hub if report streaming is not needed.
func NewService(st store.Store, hub *Hub, workers int, timeout time.Duration) *Service {
	if workers < 1 {
		workers = 4 // default batch parallelism
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		store:   st,
		hub:     hub,
		workers: workers,
		timeout: timeout,
	}
}

// --- Request/Response types ---

// LineageResponse is the JSON body returned from GET /v1/lineages/{lineage}.
// HeadStep is null until the lineage has an accepted certificate.
type LineageResponse struct {
	Lineage  string         `json:"lineage"`
	HeadStep *int64         `json:"head_step"`
	Reports  []store.Report `json:"reports"`
}

// --- HTTP Handlers ---

// HandleVerify handles POST /v1/certificates/verify
// Verifies one certificate document and returns its stored report.
func (s *Service) HandleVerify(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	start := time.Now()

	// Digest-keyed dedup: verification is deterministic, so a document
	// seen before gets its stored report back without re-verifying.
	digest, _ := cert.Digest(raw) // empty when the body is not JSON at all
	if digest != "" {
		if rep, err := s.store.ReportByDigest(ctx, digest); err == nil {
			metrics.DedupHits.Inc()
			slog.Info("verification deduplicated", "digest", digest, "report_id", rep.ID)
			respondJSON(w, statusFor(rep.Outcome), rep)
			return
		}
	}

	var res verify.Result
	c, err := cert.Decode(raw)
	if err != nil {
		res = verify.Result{Outcome: verify.OutcomeMalformed, Digest: digest, Reason: err.Error()}
	} else {
		var opts verify.Options
		if c.Lineage != "" && c.StepIndex != nil {
			if head, err := s.store.LineageHead(ctx, c.Lineage); err == nil {
				opts.PrevStep = &head
			}
		}
		res = verify.Verify(c, opts)
		res.Digest = digest
	}

	rep := s.finishReport(ctx, res, time.Since(start))
	respondJSON(w, statusFor(rep.Outcome), rep)
}

// HandleVerifyBatch handles POST /v1/certificates/verify/batch
// Accepts a JSON array of certificate documents and returns one report
// per document, in submission order. Entries that cannot start before
// the service timeout are marked with the timeout outcome.
func (s *Service) HandleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	var docs []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
		writeError(w, "request body must be a JSON array of certificate documents", http.StatusBadRequest)
		return
	}
	if len(docs) == 0 {
		writeError(w, "empty batch", http.StatusBadRequest)
		return
	}
	metrics.BatchSize.Observe(float64(len(docs)))

	inputs := make([][]byte, len(docs))
	for i, d := range docs {
		inputs[i] = []byte(d)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	results := verify.Batch(ctx, inputs, s.workers)

	// Amortize the batch wall time across entries for the histogram.
	per := time.Since(start) / time.Duration(len(results))
	reports := make([]*store.Report, len(results))
	for i, res := range results {
		reports[i] = s.finishReport(r.Context(), res, per)
	}

	respondJSON(w, http.StatusOK, reports)
}

// HandleGetReport handles GET /v1/reports/{reportID}
func (s *Service) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")

	rep, err := s.store.Report(r.Context(), reportID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "report not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load report", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, rep)
}

// HandleGetLineage handles GET /v1/lineages/{lineage}
// Returns the lineage's committed head step and its recent reports. A
// lineage nothing has been accepted into yields a null head and an empty
// report list rather than a 404.
func (s *Service) HandleGetLineage(w http.ResponseWriter, r *http.Request) {
	lineage := chi.URLParam(r, "lineage")
	ctx := r.Context()

	resp := LineageResponse{Lineage: lineage, Reports: []store.Report{}}

	head, err := s.store.LineageHead(ctx, lineage)
	switch {
	case err == nil:
		resp.HeadStep = &head
	case !errors.Is(err, store.ErrNotFound):
		writeError(w, "failed to load lineage head", http.StatusInternalServerError)
		return
	}

	recent, err := s.store.RecentReports(ctx, recentLineageReports)
	if err != nil {
		writeError(w, "failed to load reports", http.StatusInternalServerError)
		return
	}
	for _, rep := range recent {
		if rep.Lineage == lineage {
			resp.Reports = append(resp.Reports, rep)
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// HandleHealthz handles GET /healthz
func (s *Service) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, "store unreachable", http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// finishReport freezes one verification result into a stored report,
// advances the lineage head on acceptance, and fans out metrics, logs,
// and stream events.
func (s *Service) finishReport(ctx context.Context, res verify.Result, elapsed time.Duration) *store.Report {
	rep := newReport(res, time.Now().UTC())

	if err := s.store.SaveReport(ctx, rep); err != nil {
		slog.Error("failed to save report", "report_id", rep.ID, "err", err)
	}
	if res.Outcome == verify.OutcomeAccepted && res.Lineage != "" && res.StepIndex != nil {
		if err := s.store.AdvanceLineage(ctx, res.Lineage, *res.StepIndex); err != nil {
			slog.Error("failed to advance lineage head", "lineage", res.Lineage, "err", err)
		}
	}

	metrics.ObserveVerification(string(res.Outcome), elapsed)
	slog.Info("certificate verified",
		"report_id", rep.ID,
		"outcome", res.Outcome,
		"digest", res.Digest,
		"codes", res.Codes,
		"elapsed_ms", elapsed.Milliseconds(),
	)

	// Push the finished report to stream clients.
	if s.hub != nil {
		s.hub.Broadcast(rep)
	}
	return rep
}

// newReport assigns a fresh report ID to a verification result.
func newReport(res verify.Result, now time.Time) *store.Report {
	return &store.Report{
		ID:          uuid.New().String(),
		Digest:      res.Digest,
		Outcome:     res.Outcome,
		Codes:       res.Codes,
		Checks:      res.Checks,
		ComputedNAV: res.ComputedNAV,
		Reason:      res.Reason,
		Lineage:     res.Lineage,
		StepIndex:   res.StepIndex,
		CreatedAt:   now,
	}
}

// statusFor maps a verification outcome to its HTTP status. A rejected
// certificate is still a 200: the request succeeded and the verdict is
// the payload.
func statusFor(outcome verify.Outcome) int {
	switch outcome {
	case verify.OutcomeMalformed:
		return http.StatusBadRequest
	case verify.OutcomeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusOK
	}
}

// respondJSON writes a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

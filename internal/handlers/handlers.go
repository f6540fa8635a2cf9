// Package handlers wires HTTP routes to the gateway service.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/omniport-systems/omniport/internal/gateway"
	"github.com/omniport-systems/omniport/internal/httputil"
	"github.com/omniport-systems/omniport/internal/logging"
	"github.com/omniport-systems/omniport/internal/models"
	"github.com/omniport-systems/omniport/internal/repository"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Handler exposes the ingestion and observability endpoints.
type Handler struct {
	gw     *gateway.Gateway
	repo   repository.Repository
	logger *logging.Logger
}

// New creates a Handler instance.
func New(gw *gateway.Gateway, repo repository.Repository, logger *logging.Logger) *Handler {
	return &Handler{gw: gw, repo: repo, logger: logger}
}

// Ingest handles POST /ingest. Accepted events return 202 with a null
// processedAt; dispatch completes asynchronously.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req models.IngestRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	in := &models.RawIngress{
		Source:         models.Source(req.Source),
		Content:        req.Content,
		DeviceID:       req.DeviceID,
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		Metadata:       req.Metadata,
		CallbackURL:    req.CallbackURL,
		Headers:        httputil.TransportHeaders(r),
	}

	resp, err := h.gw.Ingest(r.Context(), in)
	if err != nil {
		h.writeIngestError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *models.ValidationError
	if errors.As(err, &vErr) {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error": vErr.Error(),
			"field": vErr.Field,
		})
		return
	}

	var bErr *models.RiskBlockedError
	if errors.As(err, &bErr) {
		httputil.WriteJSON(w, http.StatusForbidden, map[string]any{
			"error":     "request blocked by security policy",
			"eventId":   bErr.EventID,
			"riskScore": bErr.RiskScore,
			"flags":     bErr.Flags,
		})
		return
	}

	h.logger.WithContext(r.Context()).Error("ingestion failed", "error", err)
	httputil.WriteError(w, http.StatusInternalServerError, "internal error")
}

// Metrics handles GET /metrics. format=summary (default) returns the
// aggregator snapshot; format=detailed adds recent events and pending
// dead-letter entries.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		h.gw.ResetMetrics()
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
		return
	default:
		h.methodNotAllowed(w, http.MethodGet, http.MethodDelete)
		return
	}

	snapshot := h.gw.Metrics(r.Context())

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "summary"
	}

	switch format {
	case "summary":
		httputil.WriteJSON(w, http.StatusOK, snapshot)

	case "detailed":
		events, err := h.repo.ListRecentEvents(r.Context(), recentLimit(r))
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to list recent events")
			return
		}
		entries, err := h.repo.ListDLQEntries(r.Context(), 100)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to list dlq entries")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"snapshot":     snapshot,
			"recentEvents": events,
			"dlqEntries":   entries,
		})

	default:
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
	}
}

// recentLimit derives the detailed-view event window from the range query
// parameter (a duration such as 15m, 1h, or 7d). The window is approximated
// as a count because the aggregator tracks since-reset totals, not time
// series.
func recentLimit(r *http.Request) int {
	rangeStr := r.URL.Query().Get("range")
	if rangeStr == "" {
		return 50
	}
	d, err := parseRange(rangeStr)
	if err != nil || d <= 0 {
		return 50
	}
	limit := int(d / time.Minute * 10)
	if limit < 50 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	return limit
}

// parseRange parses a range value. A day suffix (1d, 7d) is accepted on top
// of the standard duration units.
func parseRange(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid range %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// DLQ handles GET /dlq (list entries) and POST /dlq/process (run one
// redelivery pass immediately).
func (h *Handler) DLQ(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}

	entries, err := h.repo.ListDLQEntries(r.Context(), 100)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list dlq entries")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// DLQProcess handles POST /dlq/process.
func (h *Handler) DLQProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost)
		return
	}

	result, err := h.gw.ProcessDLQ(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "dlq processing failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// Circuits handles GET /circuits and POST /circuits/{destination}/reset.
func (h *Handler) Circuits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"states":      h.gw.Breakers().Snapshot(),
		"transitions": h.gw.Breakers().Transitions(),
	})
}

// CircuitReset handles POST /circuits/{destination}/reset.
func (h *Handler) CircuitReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/circuits/")
	destination := strings.TrimSuffix(path, "/reset")
	if destination == "" || destination == path {
		httputil.WriteError(w, http.StatusBadRequest, "destination must be provided")
		return
	}

	h.gw.Breakers().Reset(models.Destination(destination))
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"destination": destination,
		"state":       string(h.gw.Breakers().GetState(models.Destination(destination))),
	})
}

// Healthz handles GET /healthz: liveness plus the derived pipeline verdict.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	status := h.gw.Health(r.Context())
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, map[string]string{"status": string(status)})
}

// Readyz handles GET /readyz: the gateway is ready when its repository
// answers.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.repo.DLQDepth(r.Context()); err != nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "repository unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// decodeJSON reads a bounded request body into v.
func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

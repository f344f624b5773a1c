package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	bwerrors "github.com/xtxerr/bwmon/internal/errors"
	"github.com/xtxerr/bwmon/internal/ingest"
	"github.com/xtxerr/bwmon/internal/logging"
)

// =============================================================================
// Response Envelope
// =============================================================================

type response struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, response{Status: "success", Data: data})
}

// writeError maps the error taxonomy onto an HTTP status. Internal detail
// stays in the logs; clients get the category message plus the request ID
// to quote when reporting the failure.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := bwerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("request failed",
			"path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, response{
		Status:    "error",
		Message:   err.Error(),
		RequestID: logging.RequestID(r.Context()),
	})
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{
		"service": "bwmon",
		"endpoints": []string{
			"POST /report - submit a bandwidth report",
			"GET /servers - list known senders",
			"GET /latest - latest sample per allow-listed sender",
			"GET /history/{address}?hours=N - windowed history",
			"GET /summary/{address}?hours=N - window statistics",
			"POST /export/{address}?hours=N - parquet export",
		},
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sender := clientIP(r)
	ctx := logging.ContextWithSender(r.Context(), sender)

	var payload ingest.ReportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, r, bwerrors.Wrap(bwerrors.ErrInvalidReport, "decode payload"))
		return
	}

	if err := s.gateway.Submit(ctx, sender, payload); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Status: "success"})
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	senders, err := s.store.ListSenders(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	type senderView struct {
		Address     string `json:"address"`
		DisplayName string `json:"display_name"`
		FirstSeen   string `json:"first_seen"`
	}
	views := make([]senderView, len(senders))
	for i, sender := range senders {
		views[i] = senderView{
			Address:     sender.Address,
			DisplayName: sender.DisplayName,
			FirstSeen:   sender.FirstSeen().UTC().Format(time.RFC3339),
		}
	}
	writeOK(w, views)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	// The allow-list drives the batch; per-address no-data never fails it.
	reports, err := s.store.LatestForAll(r.Context(), s.policy.Addresses())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, reports)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	hours, err := s.windowHours(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	samples, err := s.gateway.History(r.Context(), address, hours)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, samples)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !s.policy.Allowed(address) {
		writeError(w, r, bwerrors.ErrNotAuthorized)
		return
	}

	hours, err := s.windowHours(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := s.store.Summary(r.Context(), address, hours)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, summary)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !s.policy.Allowed(address) {
		writeError(w, r, bwerrors.ErrNotAuthorized)
		return
	}

	hours, err := s.windowHours(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Export file names derive from the vetted table identifier, never
	// from the raw request path.
	name := fmt.Sprintf("%s_%d.parquet", s.store.TableName(address), time.Now().UnixMilli())
	path := filepath.Join(s.config.ExportDir, name)

	rows, err := s.store.ExportWindow(r.Context(), address, hours, path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"rows": rows, "file": path})
}

// windowHours parses the hours query parameter, applying the configured
// default when absent. Negative or malformed values are validation errors.
func (s *Server) windowHours(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return s.config.DefaultWindowHours, nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours < 0 {
		return 0, bwerrors.Wrapf(bwerrors.ErrInvalidWindow, "hours %q", raw)
	}
	return hours, nil
}

package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"moviestream/searchgateway/internal/domain"
	"moviestream/searchgateway/internal/session"
	"moviestream/searchgateway/internal/urlstate"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SessionService is the session registry the server addresses controllers
// through.
type SessionService interface {
	Create(owner string) *session.Controller
	Get(id string) (*session.Controller, bool)
	Delete(id string) bool
}

// HistoryService is the passthrough surface for the saved-search side
// channel.
type HistoryService interface {
	List(ctx context.Context, limit int) []domain.HistoryEntry
	DeleteOne(ctx context.Context, id string)
	ClearAll(ctx context.Context)
}

type Server struct {
	sessions SessionService
	history  HistoryService
	logger   *slog.Logger
	rps      float64
	burst    int
}

const maxQueryLength = 500

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithHistory(history HistoryService) ServerOption {
	return func(s *Server) {
		s.history = history
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rps = rps
		s.burst = burst
	}
}

func NewServer(sessions SessionService, options ...ServerOption) *Server {
	server := &Server{
		sessions: sessions,
		logger:   slog.Default(),
		rps:      50,
		burst:    100,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /sessions", s.handleSessionCreate)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleSessionDelete)
	mux.HandleFunc("POST /sessions/{id}/input", s.handleSessionInput)
	mux.HandleFunc("POST /sessions/{id}/submit", s.handleSessionSubmit)
	mux.HandleFunc("POST /sessions/{id}/filters", s.handleSessionFilter)
	mux.HandleFunc("POST /sessions/{id}/more", s.handleSessionMore)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("GET /sessions/{id}/url", s.handleSessionURL)
	mux.HandleFunc("GET /posters", s.handlePosterProxy)
	mux.HandleFunc("GET /search-history", s.handleHistoryList)
	mux.HandleFunc("DELETE /search-history", s.handleHistoryClear)
	mux.HandleFunc("DELETE /search-history/{id}", s.handleHistoryDelete)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "search-gateway",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(s.rps, s.burst, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// handleSessionCreate opens a session, optionally seeding it from address
// parameters (a shared link) or, failing that, from the persisted last
// query.
func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Owner   string `json:"owner"`
		Params  string `json:"params"`
		Restore bool   `json:"restore"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	owner := strings.TrimSpace(payload.Owner)
	if owner == "" {
		owner = "anonymous"
	}

	values, err := url.ParseQuery(strings.TrimPrefix(strings.TrimSpace(payload.Params), "?"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed params")
		return
	}

	ctrl := s.sessions.Create(owner)
	switch {
	case urlstate.HasSearchState(values):
		ctrl.ApplyExternal(urlstate.Decode(values), "restore")
	case payload.Restore:
		ctrl.RestoreLastQuery(r.Context())
	}

	s.logger.Info("session opened",
		slog.String("session", ctrl.ID()),
		slog.Bool("fromParams", urlstate.HasSearchState(values)),
	)
	writeJSON(w, http.StatusCreated, ctrl.Snapshot())
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "not_found", "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionInput(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var payload struct {
		Text          string `json:"text"`
		Authenticated bool   `json:"authenticated"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(payload.Text) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	if err := ctrl.OnTextInput(payload.Text, payload.Authenticated); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleSessionSubmit(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := ctrl.OnSubmit(); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ctrl.Snapshot())
}

func (s *Server) handleSessionFilter(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var payload struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	field := strings.ToLower(strings.TrimSpace(payload.Field))
	switch field {
	case "category", "country", "year", "duration":
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown filter field")
		return
	}
	if err := ctrl.OnFilterChange(field, payload.Value); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ctrl.Snapshot())
}

func (s *Server) handleSessionMore(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := ctrl.OnLoadMore(); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ctrl.Snapshot())
}

// handleSessionURL returns the minimal address-bar representation of the
// session's current query.
func (s *Server) handleSessionURL(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"params": urlstate.Encode(ctrl.Query()).Encode(),
	})
}

// handleSessionEvents streams controller snapshots over SSE: one snapshot
// event immediately, then one per state change until the client disconnects
// or the session closes.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(w, r)
	if !ok {
		return
	}
	flusher, flushOK := w.(http.Flusher)
	if !flushOK {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	updates, cancel := ctrl.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := writeSSEEvent(w, flusher, "snapshot", ctrl.Snapshot()); err != nil {
		return // Client disconnected
	}

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return // Client disconnected
			}
			flusher.Flush()
		case snapshot, open := <-updates:
			if !open {
				_ = writeSSEEvent(w, flusher, "closed", map[string]any{"final": true})
				return
			}
			if err := writeSSEEvent(w, flusher, "snapshot", snapshot); err != nil {
				return // Client disconnected
			}
		}
	}
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "history service is not configured")
		return
	}
	limit, err := parsePositiveInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	entries := s.history.List(r.Context(), limit)
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "history service is not configured")
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "entry id is required")
		return
	}
	s.history.DeleteOne(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "history service is not configured")
		return
	}
	s.history.ClearAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	if s.sessions == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "session service is not configured")
		return nil, false
	}
	ctrl, ok := s.sessions.Get(strings.TrimSpace(r.PathValue("id")))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown session")
		return nil, false
	}
	return ctrl, true
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusGone, "session_closed", err.Error())
	case errors.Is(err, session.ErrSearchInFlight):
		writeError(w, http.StatusConflict, "search_in_flight", err.Error())
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrNoMorePages):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err // Client disconnected
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err // Client disconnected
	}
	flusher.Flush()
	return nil
}

// Package serve provides the HTTP API for ace: synthesizing verdicts on
// demand and serving recorded ones to dashboards.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/analysis"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/ingest"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/scoring"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/state"
)

// Server provides the HTTP API.
type Server struct {
	host      string
	port      int
	processor *ingest.Processor
	store     *state.Store
	tracker   *scoring.Tracker
	logger    *slog.Logger
	server    *http.Server
	router    chi.Router
}

// Config holds server configuration. Store and Tracker may be nil; the
// endpoints reading them then answer 503.
type Config struct {
	Host      string
	Port      int
	Processor *ingest.Processor
	Store     *state.Store
	Tracker   *scoring.Tracker
	Logger    *slog.Logger
}

const (
	defaultPort = 7878

	// maxDocumentBytes caps analysis document uploads.
	maxDocumentBytes = 1 << 20

	defaultListLimit = 50
	maxListLimit     = 500
)

type ctxKey string

const requestIDHeader = "X-Request-Id"

const requestIDKey ctxKey = "request_id"

// APIResponse is the base envelope for all API responses.
type APIResponse struct {
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
}

// APIError represents a structured error response.
type APIError struct {
	APIResponse
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeTooLarge         = "PAYLOAD_TOO_LARGE"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeServiceUnavail   = "SERVICE_UNAVAILABLE"
)

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Processor == nil {
		cfg.Processor = ingest.NewProcessor(nil, nil)
	}
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	applyDefaults(&cfg)
	s := &Server{
		host:      cfg.Host,
		port:      cfg.Port,
		processor: cfg.Processor,
		store:     cfg.Store,
		tracker:   cfg.Tracker,
		logger:    cfg.Logger,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(s.requestIDMiddleware)
	r.Use(s.recovererMiddleware)
	r.Use(s.loggingMiddleware)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound, "route not found", nil, requestIDFromContext(req.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeErrorResponse(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed", nil, requestIDFromContext(req.Context()))
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/consensus", s.handleConsensus)
		r.Get("/verdicts", s.handleListVerdicts)
		r.Get("/verdicts/{session}", s.handleGetVerdict)
		r.Delete("/verdicts/{session}", s.handleDeleteVerdict)
		r.Get("/stats", s.handleStats)
	})

	return r
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log().Info("starting ace server", "addr", "http://"+s.Addr(),
		"store", s.store != nil, "ledger", s.tracker != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// requestIDMiddleware assigns a request ID and stores it in context and response headers.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := sanitizeRequestID(r.Header.Get(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recovererMiddleware catches panics and returns a proper JSON error response.
func (s *Server) recovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				reqID := requestIDFromContext(r.Context())
				s.log().Error("panic recovered", "panic", rec, "request_id", reqID, "stack", string(debug.Stack()))
				writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error", nil, reqID)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log().Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", requestIDFromContext(r.Context()),
		)
	})
}

func sanitizeRequestID(id string) string {
	if id == "" {
		return ""
	}
	if len(id) > 64 {
		id = id[:64]
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':' {
			return r
		}
		return -1
	}, id)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	val, ok := ctx.Value(requestIDKey).(string)
	if !ok {
		return ""
	}
	return val
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes a structured error response.
func writeErrorResponse(w http.ResponseWriter, status int, code, message string, details map[string]interface{}, requestID string) {
	resp := APIError{
		APIResponse: APIResponse{
			Success:   false,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			RequestID: requestID,
		},
		Error:     message,
		ErrorCode: code,
		Details:   details,
	}
	writeJSON(w, status, resp)
}

// writeSuccessResponse writes a success response with the given data.
func writeSuccessResponse(w http.ResponseWriter, status int, data map[string]interface{}, requestID string) {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["success"] = true
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	if requestID != "" {
		data["request_id"] = requestID
	}
	writeJSON(w, status, data)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"status":         "healthy",
		"engine_version": consensus.Version,
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}

// handleConsensus synthesizes a verdict from a posted analysis document.
// With ?persist=true the verdict is also recorded.
func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge,
				fmt.Sprintf("document exceeds %d bytes", maxDocumentBytes), nil, reqID)
			return
		}
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "reading request body failed", nil, reqID)
		return
	}

	format := analysis.FormatJSON
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = analysis.FormatYAML
	}

	doc, err := analysis.Decode(body, format)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil, reqID)
		return
	}

	persist, _ := strconv.ParseBool(r.URL.Query().Get("persist"))

	var verdict *consensus.Verdict
	if persist {
		verdict, err = s.processor.Process(r.Context(), doc)
	} else {
		verdict, err = s.processor.Synthesize(doc)
	}

	switch {
	case err == nil:
	case errors.Is(err, consensus.ErrInvalidInput):
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil, reqID)
		return
	case errors.Is(err, ingest.ErrSink) && verdict != nil:
		s.log().Warn("verdict synthesized but not recorded", "session", verdict.Session, "error", err, "request_id", reqID)
		writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
			"verdict":  verdict,
			"recorded": false,
			"warning":  err.Error(),
		}, reqID)
		return
	default:
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil, reqID)
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"verdict":  verdict,
		"recorded": persist,
	}, reqID)
}

// handleListVerdicts lists recent verdicts from the store.
func (s *Server) handleListVerdicts(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if s.store == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "verdict store is disabled", nil, reqID)
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer",
				map[string]interface{}{"limit": raw}, reqID)
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	records, err := s.store.ListVerdicts(limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil, reqID)
		return
	}
	if records == nil {
		records = []*state.Record{}
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"verdicts": records,
		"count":    len(records),
	}, reqID)
}

// handleGetVerdict returns the stored verdict for one session.
func (s *Server) handleGetVerdict(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if s.store == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "verdict store is disabled", nil, reqID)
		return
	}

	session := chi.URLParam(r, "session")
	rec, err := s.store.GetVerdict(session)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil, reqID)
		return
	}
	if rec == nil {
		writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound, "no verdict for session",
			map[string]interface{}{"session": session}, reqID)
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"verdict": rec,
	}, reqID)
}

// handleDeleteVerdict forgets a session's stored verdict. The ledger is
// append-only and keeps its entries.
func (s *Server) handleDeleteVerdict(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if s.store == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "verdict store is disabled", nil, reqID)
		return
	}

	session := chi.URLParam(r, "session")
	if err := s.store.DeleteVerdict(session); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound, "no verdict for session",
				map[string]interface{}{"session": session}, reqID)
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil, reqID)
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"deleted": session,
	}, reqID)
}

// handleStats returns outcome counts from the store and the DQ trend from
// the ledger.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if s.store == nil && s.tracker == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "no verdict sinks are enabled", nil, reqID)
		return
	}

	window := scoring.TrendWindowDays
	if raw := r.URL.Query().Get("window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "window must be a positive number of days",
				map[string]interface{}{"window": raw}, reqID)
			return
		}
		window = n
	}

	data := map[string]interface{}{}
	if s.store != nil {
		stats, err := s.store.Stats()
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil, reqID)
			return
		}
		data["store"] = stats
	}
	if s.tracker != nil {
		trend, err := s.tracker.AnalyzeTrend(scoring.Query{}, window)
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil, reqID)
			return
		}
		avg, err := s.tracker.RollingAverage(scoring.Query{}, window)
		if err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil, reqID)
			return
		}
		data["trend"] = trend
		data["rolling_avg_dq"] = avg
		data["window_days"] = window
	}

	writeSuccessResponse(w, http.StatusOK, data, reqID)
}

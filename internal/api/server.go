package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterharvest/internal/config"
	"github.com/JakeFAU/chapterharvest/internal/coordinator"
	"github.com/JakeFAU/chapterharvest/internal/ledger"
	"github.com/JakeFAU/chapterharvest/internal/progress/sinks"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
	maxBodyBytes    = 1 << 20
)

// Controller is the run control surface the server drives.
type Controller interface {
	Launch(ctx context.Context, req coordinator.Request) (string, error)
	LaunchRetry(ctx context.Context, req coordinator.RetryRequest) (string, error)
	Pause() bool
	Resume() bool
	Cancel() bool
	Status() coordinator.Status
	Failures() []ledger.Record
}

// LogTail serves recent run messages.
type LogTail interface {
	Recent(n int) []sinks.Message
}

// Options carries the optional pieces of the server.
type Options struct {
	Auth config.AuthConfig
	// Defaults fill fields a run request leaves out.
	Defaults config.HarvestConfig
	Tail     LogTail
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Instrument wraps every request, e.g. with HTTP metrics.
	Instrument func(http.Handler) http.Handler
	Logger     *zap.Logger
}

// Server wires HTTP handlers to the coordinator.
type Server struct {
	router chi.Router
	ctl    Controller
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(ctl Controller, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{ctl: ctl, opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if opts.Instrument != nil {
		r.Use(opts.Instrument)
	}
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.Auth.Enabled {
			r.Use(apiKeyMiddleware(opts.Auth.APIKey))
		}
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Post("/pause", s.pauseRun)
			r.Post("/resume", s.resumeRun)
			r.Post("/cancel", s.cancelRun)
			r.Post("/retry", s.retryRun)
			r.Get("/status", s.runStatus)
			r.Get("/logs", s.runLogs)
		})
		r.Get("/failures", s.failures)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "state": string(s.ctl.Status().State)})
}

type runRequest struct {
	URL          string `json:"url"`
	Dir          string `json:"dir"`
	StartPage    *int   `json:"start_page"`
	Workers      *int   `json:"workers"`
	IncludeTitle *bool  `json:"include_title"`
	Headless     *bool  `json:"headless"`
}

type retryRequest struct {
	Dir          string `json:"dir"`
	IncludeTitle *bool  `json:"include_title"`
	Headless     *bool  `json:"headless"`
	FromJournal  bool   `json:"from_journal"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	def := s.opts.Defaults
	req := coordinator.Request{
		BaseURL:      stringOrDefault(body.URL, def.BookLink),
		Dir:          stringOrDefault(body.Dir, def.LocalDirectory),
		StartPage:    valueOrDefault(body.StartPage, def.StartPage),
		Workers:      valueOrDefault(body.Workers, def.Workers),
		IncludeTitle: valueOrDefault(body.IncludeTitle, def.IncludeTitle),
		Headless:     body.Headless,
	}
	runID, err := s.ctl.Launch(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.logger.Info("run launched", zap.String("run_id", runID), zap.String("url", req.BaseURL))
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) retryRun(w http.ResponseWriter, r *http.Request) {
	var body retryRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	def := s.opts.Defaults
	req := coordinator.RetryRequest{
		Dir:          stringOrDefault(body.Dir, def.LocalDirectory),
		IncludeTitle: valueOrDefault(body.IncludeTitle, def.IncludeTitle),
		Headless:     body.Headless,
		FromJournal:  body.FromJournal,
	}
	runID, err := s.ctl.LaunchRetry(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrRunActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, coordinator.ErrNothingToRetry):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, coordinator.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) pauseRun(w http.ResponseWriter, _ *http.Request) {
	s.control(w, s.ctl.Pause, "run is not pausable")
}

func (s *Server) resumeRun(w http.ResponseWriter, _ *http.Request) {
	s.control(w, s.ctl.Resume, "run is not paused")
}

func (s *Server) cancelRun(w http.ResponseWriter, _ *http.Request) {
	s.control(w, s.ctl.Cancel, "no active run to cancel")
}

func (s *Server) control(w http.ResponseWriter, op func() bool, conflict string) {
	if !op() {
		writeError(w, http.StatusConflict, conflict)
		return
	}
	st := s.ctl.Status()
	writeJSON(w, http.StatusOK, map[string]string{"run_id": st.RunID, "state": string(st.State)})
}

func (s *Server) runStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) runLogs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tail == nil {
		writeError(w, http.StatusServiceUnavailable, "run log unavailable")
		return
	}
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.opts.Tail.Recent(limit)})
}

func (s *Server) failures(w http.ResponseWriter, _ *http.Request) {
	records := s.ctl.Failures()
	if records == nil {
		records = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": records})
}

// decodeBody decodes an optional JSON body; an empty body leaves dst as is.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func stringOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package server exposes the pipeline engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/landslide-lab/sphbox/internal/engine"
	"github.com/landslide-lab/sphbox/internal/state"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// DefaultAddr is used when Config.Addr is empty.
const DefaultAddr = "127.0.0.1:8420"

// maxBody caps request bodies. Requests carry paths, not data.
const maxBody = 1 << 20

// Config holds server configuration.
type Config struct {
	Engine *engine.Engine
	Addr   string
	Logger *slog.Logger
}

// Server serves the pipeline API.
type Server struct {
	engine *engine.Engine
	addr   string
	logger *slog.Logger
}

// New creates a new server.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{engine: cfg.Engine, addr: addr, logger: logger}, nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/pipelines/{pipeline}", s.handlePipeline)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
// Cleartext HTTP/2 is accepted so clients can multiplex long pipeline
// requests over one connection.
func (s *Server) Serve(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: h2c.NewHandler(s.Handler(), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		s.logger.Info("serving pipeline API", slog.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// pipelineBody is the POST body. Timeout is a Go duration string.
type pipelineBody struct {
	engine.Request
	Timeout string `json:"timeout,omitempty"`
}

// runResponse is returned for a single run.
type runResponse struct {
	Run         *runJSON         `json:"run,omitempty"`
	Transitions []transitionJSON `json:"transitions,omitempty"`
	Error       *errorJSON       `json:"error,omitempty"`
}

type runJSON struct {
	ID          string         `json:"id"`
	Pipeline    core.Pipeline  `json:"pipeline"`
	Mode        core.Mode      `json:"mode,omitempty"`
	Label       string         `json:"label,omitempty"`
	State       core.RunState  `json:"state"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   core.ErrorKind `json:"error_kind,omitempty"`
	Outputs     []string       `json:"outputs,omitempty"`
}

type transitionJSON struct {
	From core.RunState `json:"from"`
	To   core.RunState `json:"to"`
	At   time.Time     `json:"at"`
}

type errorJSON struct {
	Kind    core.ErrorKind `json:"kind"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
}

func toRunJSON(r *core.Run) *runJSON {
	if r == nil {
		return nil
	}
	return &runJSON{
		ID:          r.ID,
		Pipeline:    r.Pipeline,
		Mode:        r.Mode,
		Label:       r.Label,
		State:       r.State,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Error:       r.Error,
		ErrorKind:   r.ErrorKind,
		Outputs:     r.Outputs,
	}
}

func toErrorJSON(err error) *errorJSON {
	e := &errorJSON{Kind: core.KindOf(err), Message: err.Error()}
	var cfgErr *core.ConfigError
	if errors.As(err, &cfgErr) {
		e.Field = cfgErr.Field
	}
	return e
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind core.ErrorKind) int {
	switch kind {
	case core.KindNone:
		return http.StatusOK
	case core.KindConfig:
		return http.StatusBadRequest
	case core.KindFormat:
		return http.StatusUnprocessableEntity
	case core.KindExecution, core.KindIntegrity:
		return http.StatusBadGateway
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	case core.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	pipeline, err := core.ParsePipeline(chi.URLParam(r, "pipeline"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	var body pipelineBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, core.ConfigErrorf("body", "%v", err))
		return
	}

	req := body.Request
	req.Pipeline = pipeline
	if body.Timeout != "" {
		d, err := time.ParseDuration(body.Timeout)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, core.ConfigErrorf("timeout", "%v", err))
			return
		}
		req.Timeout = d
	}

	run, runErr := s.engine.Run(r.Context(), req)
	resp := runResponse{Run: toRunJSON(run)}
	if runErr != nil {
		resp.Error = toErrorJSON(runErr)
		s.logger.Warn("pipeline run failed",
			slog.String("pipeline", string(pipeline)),
			slog.String("error", runErr.Error()))
	}
	s.writeJSON(w, statusFor(core.KindOf(runErr)), resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.RunFilter{State: core.RunState(q.Get("state"))}
	if p := q.Get("pipeline"); p != "" {
		pipeline, err := core.ParsePipeline(p)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Pipeline = pipeline
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, core.ConfigErrorf("limit", "invalid limit %q", l))
			return
		}
		filter.Limit = n
	}

	runs, err := s.engine.Store().ListRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]*runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunJSON(run))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	store := s.engine.Store()

	run, err := store.GetRun(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, state.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err)
		return
	}
	transitions, err := store.GetTransitions(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := runResponse{Run: toRunJSON(run)}
	for _, t := range transitions {
		resp.Transitions = append(resp.Transitions, transitionJSON{From: t.From, To: t.To, At: t.At})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, runResponse{Error: toErrorJSON(err)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

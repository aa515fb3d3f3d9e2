package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"subflow/internal/config"
	"subflow/internal/deps"
	"subflow/internal/logging"
	"subflow/internal/runstate"
	"subflow/internal/services"
	"subflow/internal/workflow"
)

// Controller is the workflow surface the HTTP layer drives.
type Controller interface {
	Start(ctx context.Context, sourceRef string) error
	StartLocal(ctx context.Context, fileRef string) error
	Continue(ctx context.Context) error
	Burn(ctx context.Context) error
	Stop()
	Reset() error
	Status() workflow.Report
	State() *runstate.State
}

const (
	defaultLogLimit = 200
	maxLogLimit     = 2000
	maxLogWait      = 60 * time.Second
)

// Server routes HTTP requests to a Controller.
type Server struct {
	ctrl         Controller
	workDir      string
	uploadDir    string
	formats      []string
	token        string
	dependencies func() []deps.Status
	logger       *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithDependencies includes binary health in status responses.
func WithDependencies(fn func() []deps.Status) Option {
	return func(s *Server) { s.dependencies = fn }
}

// NewServer constructs the HTTP layer for ctrl.
func NewServer(cfg *config.Config, ctrl Controller, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		ctrl:      ctrl,
		workDir:   cfg.Paths.WorkDir,
		uploadDir: cfg.Paths.UploadDir,
		formats:   cfg.Download.AllowedFormats,
		token:     strings.TrimSpace(cfg.Paths.APIToken),
		logger:    logging.NewComponentLogger(logger, "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.Route("/api", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/start_local", s.handleStartLocal)
		r.Post("/stop", s.handleStop)
		r.Post("/continue", s.handleContinue)
		r.Post("/burn", s.handleBurn)
		r.Post("/reset", s.handleReset)
		r.Get("/status", s.handleStatus)
		r.Get("/logs", s.handleLogs)
		r.Get("/ws/logs", s.handleLogStream)
		r.Post("/upload_sub", s.handleUploadSubtitle)
		r.Post("/upload_video", s.handleUploadVideo)
		r.Get("/files", s.handleFiles)
		r.Get("/download/{name}", s.handleDownload)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeMessage(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// authenticate requires "Authorization: Bearer <token>" when a token is set.
// Browsers cannot set headers on websocket upgrades, so a token query
// parameter is accepted as well.
func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.URL.Query().Get("token")
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			presented = strings.TrimPrefix(auth, "Bearer ")
		}
		if presented != s.token {
			s.writeMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeMessage(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, MessageResponse{Message: message})
}

// writeError maps workflow and services errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(s.logger, "request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
			logging.Error(err),
		)
	}
	s.writeMessage(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrRunActive):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrNoSubtitle), errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return services.Wrap(services.ErrValidation, "api", "decode body", "invalid JSON body", err)
	}
	return nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API in front of the exchange core.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jeranaias/chatai/internal/logging"
	"github.com/jeranaias/chatai/internal/metrics"
	"github.com/jeranaias/chatai/internal/ollama"
	"github.com/jeranaias/chatai/internal/session"
	"github.com/jeranaias/chatai/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize is the maximum size for a request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxPromptLength is the maximum prompt length in bytes.
	MaxPromptLength = 100000

	// MaxHistoryCount is the maximum number of history messages in a request.
	MaxHistoryCount = 100

	// healthCheckTimeout bounds the upstream check in /health.
	healthCheckTimeout = 2 * time.Second
)

// ============================================================================
// SERVER
// ============================================================================

// Backend is the upstream model server. *ollama.Client implements it.
type Backend interface {
	session.Upstream
	ModelTags(ctx context.Context) ([]ollama.ModelTag, error)
	CheckRunning(ctx context.Context) error
}

// Options configures a Server. Backend is required.
type Options struct {
	Backend      Backend
	Session      session.Config
	DefaultModel string

	// Store enables conversation persistence and sign-in recording. May be nil.
	Store *storage.Store

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Version string
}

// settings is swapped as a whole on reconfiguration.
type settings struct {
	exchanger    *session.Exchanger
	defaultModel string
}

// Server is the HTTP API server.
type Server struct {
	backend  Backend
	store    *storage.Store
	log      *zap.Logger
	metrics  *metrics.Metrics
	version  string
	started  time.Time
	validate *validator.Validate
	current  atomic.Pointer[settings]
	router   chi.Router

	mu     sync.Mutex
	server *http.Server
}

// New creates a Server.
func New(opts Options) *Server {
	s := &Server{
		backend:  opts.Backend,
		store:    opts.Store,
		log:      logging.OrNop(opts.Logger).Named("server"),
		metrics:  opts.Metrics,
		version:  opts.Version,
		started:  time.Now(),
		validate: newValidator(),
	}
	if s.version == "" {
		s.version = "dev"
	}
	s.Reconfigure(opts.Session, opts.DefaultModel)
	s.router = s.buildRouter()
	return s
}

// Reconfigure replaces the exchange configuration and default model.
// Exchanges already running keep the settings they started with.
func (s *Server) Reconfigure(cfg session.Config, defaultModel string) {
	if cfg.Logger == nil {
		cfg.Logger = s.log
	}
	if cfg.Metrics == nil {
		cfg.Metrics = s.metrics
	}
	if defaultModel == "" {
		defaultModel = ollama.DefaultModel
	}
	s.current.Store(&settings{
		exchanger:    session.NewExchanger(cfg, s.backend, nil),
		defaultModel: defaultModel,
	})
}

// DefaultModel returns the model used when a request names none.
func (s *Server) DefaultModel() string {
	return s.current.Load().defaultModel
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RecoveryMiddleware(s.log))
	r.Use(LoggingMiddleware(s.log, s.metrics))
	r.Use(SecurityHeadersMiddleware())

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/models", s.handleModels)
		r.Post("/auth/signin", s.handleSignIn)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleConversationList)
			r.Post("/", s.handleConversationCreate)
			r.Get("/{id}", s.handleConversationGet)
			r.Get("/{id}/export", s.handleConversationExport)
			r.Delete("/{id}", s.handleConversationDelete)
		})
	})

	return r
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: streamed replies are bounded by the exchange limits.
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.log.Info("server started", zap.String("addr", l.Addr().String()), zap.String("version", s.version))
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server. Open chat streams are
// cancelled when their connections close.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.log.Info("server shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response failed", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, errType, message string) {
	s.writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Type: errType, Code: status}})
}

// decodeJSON reads a size-limited JSON body into v and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
			return false
		}
		s.log.Debug("invalid request body", zap.Error(err))
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request format")
		return false
	}

	if err := s.validate.Struct(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", describeValidation(err))
		return false
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// describeValidation renders validator errors as "field: rule" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, field+": "+rule)
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}

// Package server exposes the governed chat endpoint and its operational
// routes over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pario-ai/warden/pkg/config"
	"github.com/pario-ai/warden/pkg/governance"
	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/metrics"
	"github.com/pario-ai/warden/pkg/sweeper"
)

// maxBodyBytes bounds a chat request body.
const maxBodyBytes = 1 << 20

// Server is the warden HTTP front end.
type Server struct {
	cfg     *config.Config
	gov     *governance.Governor
	sweeper *sweeper.Sweeper
	metrics *metrics.Metrics
	logger  *zap.Logger
	router  chi.Router
}

// New creates a Server. sw and m may be nil.
func New(cfg *config.Config, gov *governance.Governor, sw *sweeper.Sweeper, m *metrics.Metrics, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	s := &Server{
		cfg:     cfg,
		gov:     gov,
		sweeper: sw,
		metrics: m,
		logger:  logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(s.observe)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		r.Method(http.MethodGet, s.cfg.Metrics.Path, s.metrics.Handler())
	}

	r.Post("/api/chat", s.handleChat)

	r.Route("/api/governance", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/stats", s.handleStats)
		r.Post("/sweep", s.handleSweep)
		r.Get("/identities/{identity}", s.handleIdentity)
		r.Delete("/identities/{identity}", s.handlePardon)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("warden listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
	RetryAfter int `json:"retry_after,omitempty"`
}

func writeJSONError(w http.ResponseWriter, code int, errType, message string) {
	writeRetryError(w, code, errType, message, 0)
}

func writeRetryError(w http.ResponseWriter, code int, errType, message string, retryAfter int) {
	var body errorBody
	body.Error.Message = message
	body.Error.Type = errType
	body.Error.Code = code
	body.RetryAfter = retryAfter
	writeJSON(w, code, body)
}

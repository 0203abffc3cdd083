// Package api is the HTTP surface of the orchestrator: workflow start and
// polling, campaign lock administration and running-instance info.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/lock"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/monitoring"
	"github.com/sells-group/prospector/internal/workflow"
)

// AdminHeader carries the admin token for forced lock operations.
const AdminHeader = "X-Admin-Token"

// Workflows is the orchestrator surface the API drives.
type Workflows interface {
	Start(params model.Params, opts ...workflow.StartOption) (string, error)
	Status(id string) (model.JobStatusView, error)
	Result(id string) (*model.WorkflowResult, error)
	List() []model.JobStatusView
}

// Server holds the API dependencies.
type Server struct {
	workflows   Workflows
	locks       *lock.CampaignLocks
	singleton   *lock.Singleton
	metrics     *monitoring.Collector
	lookback    time.Duration
	adminToken  string
	corsOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithSingleton exposes the running-instance info at /api/instance.
func WithSingleton(s *lock.Singleton) Option {
	return func(srv *Server) { srv.singleton = s }
}

// WithMetrics exposes a health snapshot over the lookback window at
// /api/metrics.
func WithMetrics(c *monitoring.Collector, lookback time.Duration) Option {
	return func(srv *Server) {
		srv.metrics = c
		srv.lookback = lookback
	}
}

// WithAdminToken enables the admin endpoints. Without a token they answer
// 403.
func WithAdminToken(token string) Option {
	return func(srv *Server) { srv.adminToken = token }
}

// WithCORSOrigins sets the allowed browser origins.
func WithCORSOrigins(origins []string) Option {
	return func(srv *Server) { srv.corsOrigins = origins }
}

// New creates a Server.
func New(workflows Workflows, locks *lock.CampaignLocks, opts ...Option) *Server {
	s := &Server{workflows: workflows, locks: locks, corsOrigins: []string{"*"}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", AdminHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", s.startWorkflow)
			r.Get("/", s.listWorkflows)
			r.Get("/{id}/status", s.workflowStatus)
			r.Get("/{id}/result", s.workflowResult)
		})
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/locks", s.listLocks)
			r.With(s.requireAdmin).Delete("/locks", s.cleanupLocks)
			r.Get("/{sessionId}/lock", s.getLock)
			r.Post("/{sessionId}/stop", s.stopCampaign)
		})
		r.Get("/instance", s.instance)
		r.Get("/metrics", s.metricsSnapshot)
	})
	return r
}

// requireAdmin rejects requests without the configured admin token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.isAdmin(r) {
			writeError(w, http.StatusForbidden, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isAdmin(r *http.Request) bool {
	if s.adminToken == "" {
		return false
	}
	got := r.Header.Get(AdminHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) == 1
}

func (s *Server) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics not enabled")
		return
	}
	snap, err := s.metrics.Collect(r.Context(), s.lookback)
	if err != nil {
		zap.L().Error("api: collect metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "collect metrics")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			zap.L().Debug("api: request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

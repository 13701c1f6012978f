package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"prlens-backend/internal/config"
	"prlens-backend/internal/github"
	"prlens-backend/internal/linear"
	"prlens-backend/internal/provider"
	"prlens-backend/internal/store"
	"prlens-backend/internal/types"
	"prlens-backend/internal/worker"
)

// Accounts holds the per-user credentials the API reads and edits.
type Accounts interface {
	GetGitHubAccount(ctx context.Context, userID string) (*store.GitHubAccount, error)
	LinearAPIKey(ctx context.Context, userID string) (string, error)
	SaveLinearAPIKey(ctx context.Context, userID, apiKey string) error
}

// Pinger reports database health.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Service  *worker.Service
	Accounts Accounts
	Linear   *linear.Client
	DB       Pinger
	Logger   *zap.Logger
}

type Server struct {
	router   *chi.Mux
	cfg      config.Config
	svc      *worker.Service
	accounts Accounts
	linear   *linear.Client
	db       Pinger
	log      *zap.Logger
}

func NewServer(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-User-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router:   r,
		cfg:      cfg,
		svc:      deps.Service,
		accounts: deps.Accounts,
		linear:   deps.Linear,
		db:       deps.DB,
		log:      logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/providers", s.handleProviders)
	s.router.Post("/webhooks/github", s.handleGitHubWebhook)

	s.router.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Get("/api/github/status", s.handleGitHubStatus)

		r.Post("/api/reviews", s.handleTriggerReview)
		r.Get("/api/reviews", s.handleListReviews)
		r.Get("/api/reviews/{id}", s.handleGetReview)

		r.Get("/api/repositories/{id}/pulls", s.handleListPulls)
		r.Get("/api/repositories/{id}/pulls/{number}/review", s.handleLatestReview)
		r.Get("/api/repositories/{id}/pulls/{number}/linear", s.handlePullLinearIssue)

		r.Get("/api/settings/linear", s.handleGetLinearSettings)
		r.Put("/api/settings/linear", s.handlePutLinearSettings)
	})
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.HealthCheck(ctx); err != nil {
			s.log.Error("health check failed", zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/providers
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Providers())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg})
}

// writeServiceError maps an error from the review service to a response.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch worker.CodeOf(err) {
	case worker.ErrorCodeNotFound:
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case worker.ErrorCodePrecondition:
		s.writeError(w, http.StatusPreconditionFailed, err.Error())
		return
	case worker.ErrorCodeBadRequest:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if provider.IsConfigError(err) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var upstream *github.UpstreamError
	if errors.As(err, &upstream) {
		s.log.Warn("github request failed",
			zap.Int("status", upstream.Status),
			zap.String("path", upstream.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.log.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	s.writeError(w, http.StatusInternalServerError, "internal server error")
}

// requestLogger logs one line per request once the handler returns.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

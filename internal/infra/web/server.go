package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"inpaint-backend/internal/domain/ports/adapter"
	"inpaint-backend/internal/usecase"
)

type Server struct {
	inferUC   usecase.InferenceService
	datasetUC usecase.DatasetService
	tokenUC   usecase.TokenService
	engine    adapter.InferenceAdapter
	auth      *AuthManager
	log       *zerolog.Logger
}

func NewServer(
	inferUC usecase.InferenceService,
	datasetUC usecase.DatasetService,
	tokenUC usecase.TokenService,
	engine adapter.InferenceAdapter,
	auth *AuthManager,
	logger *zerolog.Logger,
) *Server {
	webLog := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		inferUC:   inferUC,
		datasetUC: datasetUC,
		tokenUC:   tokenUC,
		engine:    engine,
		auth:      auth,
		log:       &webLog,
	}
}

// Router builds the full route tree. Health and metrics sit outside the
// auth boundary; everything under /api/v1 requires a valid token.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/inference", s.submitInferenceHandler)
		r.Get("/inference/{jobID}", s.jobStatusHandler)

		r.Post("/datasets", s.uploadDatasetHandler)
		r.Get("/datasets", s.listDatasetsHandler)
		r.Get("/datasets/{name}", s.getDatasetHandler)

		r.Get("/tokens/balance", s.balanceHandler)
		r.Get("/tokens/transactions", s.transactionsHandler)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/recharge", s.rechargeHandler)
		})
	})

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// requireAdmin gates on the token's role claim only; the use case
// re-checks the durable account role before acting.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r.Context())
		if !ok || claims.Role != "admin" {
			writeError(w, http.StatusForbidden, "forbidden", "administrator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

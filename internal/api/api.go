package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"calcstream/internal/models"
	"calcstream/internal/observability"
)

type RouterConfig struct {
	Pipeline    Pipeline
	Calculator  Calculator
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
	CORSOrigins []string
}

// SetupRouter настраивает маршруты сервера конвейера
func SetupRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(OriginMiddleware)
	r.Use(AccessLog(logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.InstrumentHTTP(routePattern))
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", HealthHandler)
	r.Post("/calc", NewCalculatorHandler(cfg.Calculator, logger).Calculate)
	r.Get("/history", HistoryHandler(cfg.Pipeline))
	r.Method(http.MethodGet, "/ws", NewWebSocketHandler(cfg.Pipeline, logger))
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", observability.Handler(cfg.Gatherer))
	}

	return r
}

// HistoryHandler отдает текущее окно истории
func HistoryHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusOK, models.HistoryList{Data: p.History()})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

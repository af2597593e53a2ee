package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/analytics"
	"github.com/patrickwarner/openpersonalize/internal/geoip"
	"github.com/patrickwarner/openpersonalize/internal/logic/ratelimit"
	"github.com/patrickwarner/openpersonalize/internal/middleware"
	"github.com/patrickwarner/openpersonalize/internal/observability"
	"github.com/patrickwarner/openpersonalize/internal/personalization"
	"github.com/patrickwarner/openpersonalize/internal/tracking"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger          *zap.Logger
	Personalization *personalization.Service
	Tracker         *tracking.Tracker
	Interactions    analytics.InteractionReader
	GeoIP           *geoip.GeoIP
	Limiter         *ratelimit.KeyedLimiter
	Metrics         observability.MetricsRegistry
	DebugTrace      bool
	Checks          map[string]HealthCheck
}

// NewServer constructs a Server. tracker, interactions, geo and limiter may be
// nil; the routes that need them then answer 503.
func NewServer(logger *zap.Logger, svc *personalization.Service, tracker *tracking.Tracker, interactions analytics.InteractionReader, geo *geoip.GeoIP, limiter *ratelimit.KeyedLimiter, metrics observability.MetricsRegistry, debug bool) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:          logger,
		Personalization: svc,
		Tracker:         tracker,
		Interactions:    interactions,
		GeoIP:           geo,
		Limiter:         limiter,
		Metrics:         metrics,
		DebugTrace:      debug,
		Checks:          map[string]HealthCheck{},
	}
}

// Router registers every route on a new mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))

	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/rules", s.ListRules).Methods("GET")
	a.HandleFunc("/rules", s.CreateRule).Methods("POST")
	a.HandleFunc("/rules/{id}", s.GetRule).Methods("GET")
	a.HandleFunc("/rules/{id}", s.UpdateRule).Methods("PUT")
	a.HandleFunc("/rules/{id}", s.DeleteRule).Methods("DELETE")

	a.HandleFunc("/evaluate", s.EvaluateHandler).Methods("POST")

	a.HandleFunc("/recommendations/content", s.ContentRecommendations).Methods("GET")
	a.HandleFunc("/recommendations/service", s.ServiceRecommendations).Methods("GET")
	a.HandleFunc("/recommendations/rank", s.RankHandler).Methods("POST")
	a.HandleFunc("/users/{userId}/recommendations", s.UserRecommendations).Methods("GET")

	a.HandleFunc("/leads/score", s.ScoreLeadHandler).Methods("POST")
	a.HandleFunc("/leads/{userId}/score", s.UserLeadScore).Methods("GET")

	a.HandleFunc("/interactions", s.TrackInteraction).Methods("POST")
	a.HandleFunc("/interactions/{userId}/summary", s.InteractionSummary).Methods("GET")

	a.HandleFunc("/metrics", s.MetricsHandler).Methods("GET")
	a.HandleFunc("/cache/flush", s.FlushCache).Methods("POST")
	return r
}

// Handler wraps the router with OpenTelemetry HTTP instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Router(), "openpersonalize")
}

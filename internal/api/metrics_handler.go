package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/middleware"
)

// MetricsHandler returns the aggregated evaluation counters.
func (s *Server) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "metrics_summary"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	snap, err := s.Personalization.Metrics().GetMetrics(r.Context())
	if err != nil {
		logger.Error("read metrics", zap.Error(err))
		s.reject(w, endpoint, method, start, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	s.respond(w, endpoint, method, start, http.StatusOK, snap)
}

// FlushCache drops every cached personalization entry. Aggregated metrics
// are kept.
func (s *Server) FlushCache(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "cache_flush"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	n, err := s.Personalization.InvalidateAll(r.Context())
	if err != nil {
		s.fail(w, logger, endpoint, method, start, err)
		return
	}
	s.respond(w, endpoint, method, start, http.StatusOK, map[string]int64{"deleted": n})
}

package observability

import (
	"strconv"
	"time"
)

// MetricsRegistry provides an interface for recording application metrics
// so components receive their collectors through dependency injection.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Evaluation metrics
	IncrementEvaluations(cached bool)
	IncrementRuleMatches()
	IncrementActionTriggers(actionType string)

	// Cache and dependency metrics
	IncrementCacheResult(cache, result string)
	IncrementDependencyErrors(target string)

	// Interaction capture metrics
	IncrementInteractions(eventType string)
	IncrementInteractionErrors(stage string)

	// Scoring metrics
	IncrementLeadScores(qualification string)
	RecordRecommendations(kind string, count int)

	// Rate limiting metrics
	IncrementRateLimitRequests(scope string)
	IncrementRateLimitHits(scope string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus collectors.
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Evaluation metrics
func (r *PrometheusRegistry) IncrementEvaluations(cached bool) {
	EvaluationCount.WithLabelValues(strconv.FormatBool(cached)).Inc()
}

func (r *PrometheusRegistry) IncrementRuleMatches() {
	RuleMatchCount.Inc()
}

func (r *PrometheusRegistry) IncrementActionTriggers(actionType string) {
	ActionTriggerCount.WithLabelValues(actionType).Inc()
}

// Cache and dependency metrics
func (r *PrometheusRegistry) IncrementCacheResult(cache, result string) {
	CacheResultCount.WithLabelValues(cache, result).Inc()
}

func (r *PrometheusRegistry) IncrementDependencyErrors(target string) {
	DependencyErrorCount.WithLabelValues(target).Inc()
}

// Interaction capture metrics
func (r *PrometheusRegistry) IncrementInteractions(eventType string) {
	InteractionCount.WithLabelValues(eventType).Inc()
}

func (r *PrometheusRegistry) IncrementInteractionErrors(stage string) {
	InteractionErrorCount.WithLabelValues(stage).Inc()
}

// Scoring metrics
func (r *PrometheusRegistry) IncrementLeadScores(qualification string) {
	LeadScoreCount.WithLabelValues(qualification).Inc()
}

func (r *PrometheusRegistry) RecordRecommendations(kind string, count int) {
	RecommendationCount.WithLabelValues(kind).Observe(float64(count))
}

// Rate limiting metrics
func (r *PrometheusRegistry) IncrementRateLimitRequests(scope string) {
	RateLimitRequests.WithLabelValues(scope).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits(scope string) {
	RateLimitHits.WithLabelValues(scope).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementEvaluations(cached bool)                                     {}
func (r *NoOpRegistry) IncrementRuleMatches()                                                {}
func (r *NoOpRegistry) IncrementActionTriggers(actionType string)                            {}
func (r *NoOpRegistry) IncrementCacheResult(cache, result string)                            {}
func (r *NoOpRegistry) IncrementDependencyErrors(target string)                              {}
func (r *NoOpRegistry) IncrementInteractions(eventType string)                               {}
func (r *NoOpRegistry) IncrementInteractionErrors(stage string)                              {}
func (r *NoOpRegistry) IncrementLeadScores(qualification string)                             {}
func (r *NoOpRegistry) RecordRecommendations(kind string, count int)                         {}
func (r *NoOpRegistry) IncrementRateLimitRequests(scope string)                              {}
func (r *NoOpRegistry) IncrementRateLimitHits(scope string)                                  {}

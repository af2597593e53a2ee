package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "personalize_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// evaluations served, labelled by whether the cache answered
	EvaluationCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_evaluations_total",
			Help: "Total personalization evaluations",
		},
		[]string{"cached"},
	)

	// evaluations where at least one rule matched
	RuleMatchCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "personalize_rule_matches_total",
			Help: "Total evaluations with at least one matching rule",
		},
	)

	// triggered actions labelled by action type
	ActionTriggerCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_action_triggers_total",
			Help: "Total rule actions triggered",
		},
		[]string{"type"},
	)

	// cache lookups labelled by cache namespace and result (hit, miss, error)
	CacheResultCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_cache_lookups_total",
			Help: "Total cache lookups by namespace and result",
		},
		[]string{"cache", "result"},
	)

	// failures talking to stores and caches
	DependencyErrorCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_dependency_errors_total",
			Help: "Total dependency failures by target",
		},
		[]string{"target"},
	)

	// captured interactions labelled by event type
	InteractionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_interactions_total",
			Help: "Total interaction events captured",
		},
		[]string{"type"},
	)

	// interactions that failed downstream, labelled by stage (state, sink)
	InteractionErrorCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_interaction_errors_total",
			Help: "Total interaction capture failures",
		},
		[]string{"stage"},
	)

	// lead scores produced, labelled by qualification tier
	LeadScoreCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_lead_scores_total",
			Help: "Total lead scores computed by qualification",
		},
		[]string{"qualification"},
	)

	// number of recommendations returned per ranking call
	RecommendationCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "personalize_recommendations_returned",
			Help:    "Histogram of recommendation list sizes",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
		[]string{"kind"},
	)

	// rate limit hits per scope
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_ratelimit_hits_total",
			Help: "Total rate limit hits per scope",
		},
		[]string{"scope"},
	)

	// rate limit requests per scope
	RateLimitRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personalize_ratelimit_requests_total",
			Help: "Total rate limit checks per scope",
		},
		[]string{"scope"},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		EvaluationCount,
		RuleMatchCount,
		ActionTriggerCount,
		CacheResultCount,
		DependencyErrorCount,
		InteractionCount,
		InteractionErrorCount,
		LeadScoreCount,
		RecommendationCount,
		RateLimitHits,
		RateLimitRequests,
	)
}

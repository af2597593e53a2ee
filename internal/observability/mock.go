package observability

import (
	"sync"
	"time"
)

// MockMetricsRegistry records calls so tests can assert on emitted metrics.
type MockMetricsRegistry struct {
	mu       sync.Mutex
	Counters map[string]int
}

// NewMockMetricsRegistry returns an empty recording registry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{Counters: make(map[string]int)}
}

func (m *MockMetricsRegistry) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Counters == nil {
		m.Counters = make(map[string]int)
	}
	m.Counters[key]++
}

// Count returns how many times key was recorded.
func (m *MockMetricsRegistry) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[key]
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.inc("requests:" + endpoint + ":" + status)
}

func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

func (m *MockMetricsRegistry) IncrementEvaluations(cached bool) {
	if cached {
		m.inc("evaluations:cached")
		return
	}
	m.inc("evaluations:computed")
}

func (m *MockMetricsRegistry) IncrementRuleMatches() { m.inc("rule_matches") }

func (m *MockMetricsRegistry) IncrementActionTriggers(actionType string) {
	m.inc("actions:" + actionType)
}

func (m *MockMetricsRegistry) IncrementCacheResult(cache, result string) {
	m.inc("cache:" + cache + ":" + result)
}

func (m *MockMetricsRegistry) IncrementDependencyErrors(target string) {
	m.inc("dependency_errors:" + target)
}

func (m *MockMetricsRegistry) IncrementInteractions(eventType string) {
	m.inc("interactions:" + eventType)
}

func (m *MockMetricsRegistry) IncrementInteractionErrors(stage string) {
	m.inc("interaction_errors:" + stage)
}

func (m *MockMetricsRegistry) IncrementLeadScores(qualification string) {
	m.inc("lead_scores:" + qualification)
}

func (m *MockMetricsRegistry) RecordRecommendations(kind string, count int) {}

func (m *MockMetricsRegistry) IncrementRateLimitRequests(scope string) {
	m.inc("ratelimit_requests:" + scope)
}

func (m *MockMetricsRegistry) IncrementRateLimitHits(scope string) {
	m.inc("ratelimit_hits:" + scope)
}

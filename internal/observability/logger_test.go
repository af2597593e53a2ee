package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		env      string
		level    string
		expected string
	}{
		{"development", "", "debug"},
		{"production", "", "info"},
		{"", "WARN", "warn"},
		{"dev", "ERROR", "error"},
		{"", "verbose", "info"},
	}
	for _, tt := range tests {
		t.Setenv("ENV", tt.env)
		t.Setenv("LOG_LEVEL", tt.level)
		assert.Equal(t, tt.expected, getLogLevel().String(), "env=%q level=%q", tt.env, tt.level)
	}
}

func TestInitLoggerWithLevelNamesLogger(t *testing.T) {
	logger, err := InitLoggerWithLevel(zap.InfoLevel, "personalize-test")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestShouldSampleBounds(t *testing.T) {
	assert.True(t, ShouldSample(1.0))
	assert.False(t, ShouldSample(0))
}

func TestMockRegistryCounts(t *testing.T) {
	m := NewMockMetricsRegistry()
	m.IncrementEvaluations(true)
	m.IncrementEvaluations(true)
	m.IncrementActionTriggers("notify")
	assert.Equal(t, 2, m.Count("evaluations:cached"))
	assert.Equal(t, 1, m.Count("actions:notify"))
	assert.Equal(t, 0, m.Count("evaluations:computed"))
}

package logic

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDependencyError(t *testing.T) {
	assert.NoError(t, NewDependencyError("cache", "get", nil))

	err := NewDependencyError("rule_store", "list_active_rules", context.DeadlineExceeded)
	wrapped := fmt.Errorf("evaluate: %w", err)

	assert.True(t, IsDependency(wrapped))
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
	assert.Equal(t, "rule_store list_active_rules: context deadline exceeded", err.Error())

	var de *DependencyError
	if assert.True(t, errors.As(wrapped, &de)) {
		assert.True(t, de.Timeout())
		assert.Equal(t, "rule_store", de.Target)
	}

	assert.False(t, IsDependency(errors.New("plain")))
}

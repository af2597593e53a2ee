package logic

import (
	"context"
	"errors"
	"fmt"
)

// DependencyError reports a failed or timed-out call to a store or cache.
// Op names the operation (for example "list_active_rules") and Target the
// dependency ("rule_store", "catalog_store", "cache").
type DependencyError struct {
	Op     string
	Target string
	Err    error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Target, e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// Timeout reports whether the dependency call ran past its deadline.
func (e *DependencyError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// NewDependencyError wraps err unless it is nil.
func NewDependencyError(target, op string, err error) error {
	if err == nil {
		return nil
	}
	return &DependencyError{Op: op, Target: target, Err: err}
}

// IsDependency reports whether err wraps a DependencyError.
func IsDependency(err error) bool {
	var de *DependencyError
	return errors.As(err, &de)
}

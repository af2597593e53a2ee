package models

import "errors"

// ErrNotFound is returned when an entity is not found in the data store
var ErrNotFound = errors.New("entity not found")

// ErrConflict is returned when creating an entity whose id is already taken.
var ErrConflict = errors.New("entity already exists")

// ErrInvalidInput marks a malformed user context, rule or scoring payload.
// Callers reject these at the boundary; they never reach the engine.
var ErrInvalidInput = errors.New("invalid input")

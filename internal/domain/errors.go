// Package domain defines the group model, its lifecycle transitions, admin
// actions, and the MongoDB-backed group repository.
package domain

import "errors"

var (
	// ErrGroupNotFound is returned when no row exists for a group id.
	ErrGroupNotFound = errors.New("group not found")
	// ErrGroupExists is returned when creating a group whose id is already stored.
	ErrGroupExists = errors.New("group already exists")
	// ErrConflict is returned when a row changed between read and write.
	ErrConflict = errors.New("group changed concurrently")
	// ErrStoreUnavailable wraps storage failures.
	ErrStoreUnavailable = errors.New("group store unavailable")
	// ErrInvalidAction is returned for malformed callback payloads.
	ErrInvalidAction = errors.New("invalid action payload")
)

// Package apperrors defines application-level sentinel errors.
package apperrors

import "errors"

var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates a write collided with an existing row
	// (duplicate email, duplicate segment name, or an already-active
	// membership).
	ErrConflict = errors.New("resource already exists")

	// ErrSelfMerge indicates a merge was requested with the same Person as
	// source and target.
	ErrSelfMerge = errors.New("cannot merge a person into itself")

	// ErrNoAutomation indicates the segment has no automation configured.
	ErrNoAutomation = errors.New("no automation configured")

	// ErrInvalidRules indicates a segment rule tree failed validation.
	ErrInvalidRules = errors.New("invalid segment rules")

	// ErrInvalidIdentity indicates a malformed identity input (unknown
	// source tag, empty external id, or missing email).
	ErrInvalidIdentity = errors.New("invalid identity")
)

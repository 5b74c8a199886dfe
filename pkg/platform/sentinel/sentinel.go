package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Store implementations return these
// (optionally wrapped) so services can translate them into coded domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entry or rule does not exist in the store
// - ErrConflict: an entry with the same identifier already exists
// - ErrUnavailable: the backing store cannot be reached
//
// For validation errors (bad input, malformed identifiers), use
// pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)

package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so the runtime and services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: row, snapshot, checkpoint or read-model entry does not exist
// - ErrConflict: a write lost an optimistic-concurrency race
// - ErrInvalidState: stored data cannot be interpreted (bad payload, sequence gap)
// - ErrUnavailable: backend temporarily unavailable (circuit open, lease held)
// - ErrStopped: the owning component has been shut down
//
// For business rejections, use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrStopped      = errors.New("stopped")
)

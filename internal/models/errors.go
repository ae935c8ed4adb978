package models

import "errors"

// Error taxonomy shared by the coordinator and lifecycle services. All
// operation failures wrap one of these sentinels so callers can map them
// with errors.Is.
var (
	// ErrNotFound means a referenced entity subtree is absent. Reads treat
	// absence as an empty projection; write operations treat it as a
	// precondition failure.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionViolated means the operation was rejected before any
	// write was issued, e.g. cancelling an already-claimed ride.
	ErrPreconditionViolated = errors.New("precondition violated")

	// ErrConflict means an optimistic transaction exhausted its retries
	// against concurrent writers. The whole call may be retried.
	ErrConflict = errors.New("concurrent conflict")

	// ErrDataIntegrity means stored state is internally inconsistent
	// (e.g. a claimed ride missing its driver) and the operation refused
	// to run rather than perform a partial cleanup.
	ErrDataIntegrity = errors.New("data integrity")

	// ErrNotImplemented marks declared-but-unimplemented operations so
	// callers cannot mistake them for completed ones.
	ErrNotImplemented = errors.New("not implemented")
)

package services

import "errors"

// Sentinel errors for the suggestion lifecycle and its coordination
// primitives. Controllers translate these to HTTP status codes; services
// wrap them with context via fmt.Errorf and %w.
var (
	// ErrInvalidMembership - member list violates size or uniqueness rules.
	ErrInvalidMembership = errors.New("invalid suggestion membership")

	// ErrDuplicateCandidate - a member already appears in another suggestion of the same run.
	ErrDuplicateCandidate = errors.New("duplicate candidate within run")

	// ErrNotAMember - the acting user does not belong to the suggestion.
	ErrNotAMember = errors.New("user is not a member of this suggestion")

	// ErrAlreadyTerminal - the suggestion is confirmed, declined or expired.
	ErrAlreadyTerminal = errors.New("suggestion is already in a terminal state")

	// ErrStaleWrite - optimistic concurrency conflict on a transition.
	ErrStaleWrite = errors.New("stale write: suggestion changed concurrently")

	// ErrLockBusy - another instance holds the lock; expected under contention.
	ErrLockBusy = errors.New("lock is held by another instance")

	// ErrLockBackendUnavailable - the lock backend could not be reached; fatal under strict policy.
	ErrLockBackendUnavailable = errors.New("lock backend unavailable")

	// ErrReconciliationRepairFailed - one or more reconciler repairs did not apply.
	ErrReconciliationRepairFailed = errors.New("reconciliation repair failed")

	// ErrSuggestionNotFound - no suggestion row for the given id.
	ErrSuggestionNotFound = errors.New("suggestion not found")

	// ErrNotExpirable - expiry requested before the deadline or on a confirmed row.
	ErrNotExpirable = errors.New("suggestion is not expirable")
)

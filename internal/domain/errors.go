package domain

import "errors"

// Distinguishable source-failure classes reported by the backend clients.
// The analytical core does not interpret these beyond "no data produced";
// the delivery layer maps them to HTTP statuses.
var (
	ErrAuth     = errors.New("authentication failed")
	ErrQuota    = errors.New("quota exceeded")
	ErrNotFound = errors.New("resource not found")
)

// ErrInvalidQuery marks malformed caller input. It always propagates.
var ErrInvalidQuery = errors.New("invalid query")

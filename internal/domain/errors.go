package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrRateLimited   = errors.New("rate limited")

	// ErrOutOfOrder reports an event stream that is not strictly ascending by
	// (ingest_ts, sequence). Replays refuse to guess an order.
	ErrOutOfOrder = errors.New("events out of order")

	// ErrMalformedEvent marks an event with an unknown type or an invalid
	// payload. Replays skip and tally these rather than abort.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrStrategyFailure wraps any error a strategy returns while quoting.
	// The simulation run is aborted and nothing is persisted.
	ErrStrategyFailure = errors.New("strategy failure")

	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrInvalidQuery    = errors.New("invalid query")
)

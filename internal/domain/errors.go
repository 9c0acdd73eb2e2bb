package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrContextDone  = errors.New("context cancelled")
	ErrLockHeld     = errors.New("lock already held")
	ErrNotReady     = errors.New("no snapshot applied yet")
)

// Tick failure taxonomy. Every error produced by the book, simulator or cost
// model wraps exactly one of these.
var (
	ErrMalformedLevel        = errors.New("malformed level")
	ErrEmptyBook             = errors.New("empty book")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrNoFill                = errors.New("no fill")
	ErrNoBenchmark           = errors.New("no benchmark")
)

// Reason strings reported for failed ticks.
const (
	ReasonMalformedLevel        = "MalformedLevel"
	ReasonEmptyBook             = "EmptyBook"
	ReasonInsufficientLiquidity = "InsufficientLiquidity"
	ReasonNoFill                = "NoFill"
	ReasonNoBenchmark           = "NoBenchmark"
	ReasonUnknown               = "Unknown"
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrMalformedLevel, ReasonMalformedLevel},
	{ErrEmptyBook, ReasonEmptyBook},
	{ErrInsufficientLiquidity, ReasonInsufficientLiquidity},
	{ErrNoFill, ReasonNoFill},
	{ErrNoBenchmark, ReasonNoBenchmark},
}

// Reason maps err to its taxonomy name, or ReasonUnknown when err wraps none
// of the taxonomy sentinels.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonUnknown
}

// IsTickError reports whether err belongs to the tick failure taxonomy.
func IsTickError(err error) bool {
	return err != nil && Reason(err) != ReasonUnknown
}

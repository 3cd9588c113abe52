package model

import "errors"

// Domain error taxonomy. Every operation in the engine fails with exactly
// one of these (possibly wrapped with context); HTTP handlers map them to
// status codes at the boundary.
var (
	// ErrMarketNotFound is returned when the referenced market does not exist.
	ErrMarketNotFound = errors.New("market not found")

	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidArgument is returned for malformed input: non-positive share
	// counts, unknown outcomes, non-integer ids.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInsufficientFunds is returned when a buy cost exceeds the user's balance.
	ErrInsufficientFunds = errors.New("insufficient balance")

	// ErrInsufficientHoldings is returned when a sell exceeds the user's net
	// position for that outcome.
	ErrInsufficientHoldings = errors.New("cannot sell more shares than owned")

	// ErrMarketClosed is returned when a trade targets an expired or resolved market.
	ErrMarketClosed = errors.New("market is not open for trading")

	// ErrAlreadyResolved is returned on a duplicate resolution attempt.
	ErrAlreadyResolved = errors.New("market already resolved")

	// ErrUnavailable is returned when the persistence layer is unreachable.
	// Callers may retry; the engine never retries internally.
	ErrUnavailable = errors.New("persistence unavailable")
)

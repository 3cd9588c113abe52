// Package risk enforces per-user position limits on share exposure.
//
// Exposure is the net directional position per market (YES shares positive,
// NO shares negative). A limiter bounds both the absolute exposure in any
// single market and the aggregate absolute exposure across all markets, so a
// single account cannot corner one market or lever up across many at once.
package risk

import "errors"

var (
	// ErrMarketLimitExceeded is returned when a trade would push the user's
	// net position in one market beyond the per-market maximum.
	ErrMarketLimitExceeded = errors.New("risk: per-market position limit exceeded")

	// ErrTotalLimitExceeded is returned when a trade would push the user's
	// aggregate absolute exposure across markets beyond the total maximum.
	ErrTotalLimitExceeded = errors.New("risk: total exposure limit exceeded")
)

// Limiter bounds a user's share exposure. A zero limit disables that check.
type Limiter struct {
	// MaxPerMarket is the maximum absolute net position in any one market.
	MaxPerMarket int64

	// MaxTotal is the maximum aggregate absolute exposure across markets.
	MaxTotal int64
}

// NewLimiter creates a limiter with the given per-market and total bounds.
func NewLimiter(maxPerMarket, maxTotal int64) *Limiter {
	return &Limiter{MaxPerMarket: maxPerMarket, MaxTotal: maxTotal}
}

// Check validates whether a trade respects position limits.
//
// Parameters:
//   - marketID: the market being traded
//   - exposureDelta: signed change in exposure (+YES / -NO direction)
//   - exposures: the user's current net exposure per market
//
// Returns nil if the trade is within limits.
func (l *Limiter) Check(marketID int64, exposureDelta int64, exposures map[int64]int64) error {
	newPosition := exposures[marketID] + exposureDelta

	if l.MaxPerMarket > 0 && abs(newPosition) > l.MaxPerMarket {
		return ErrMarketLimitExceeded
	}

	if l.MaxTotal > 0 {
		total := abs(newPosition)
		for id, exposure := range exposures {
			if id == marketID {
				continue // already counted via newPosition
			}
			total += abs(exposure)
		}
		if total > l.MaxTotal {
			return ErrTotalLimitExceeded
		}
	}

	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Package lmsr implements a liquidity-sensitive Logarithmic Market Scoring
// Rule (LS-LMSR) automated market maker for binary-outcome markets.
//
// The LMSR was proposed by Robin Hanson and provides:
//   - Bounded loss for the market maker
//   - Continuous pricing with always-available liquidity
//   - A closed-form cost function: trade cost = C(after) - C(before)
//
// The liquidity-sensitive variant re-derives the liquidity parameter from
// market size on every trade: b = b0 * sqrt(max(1, |qYes| + |qNo|)), so
// deeper markets get flatter price-impact curves as volume grows.
//
// Share quantities are int64 (the ledger is integral); transcendental math
// uses float64 with the log-sum-exp trick for numerical stability, and cash
// results are converted to integer cents at this package's boundary only.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design";
// Othman et al. (2010) "A Practical Liquidity-Sensitive Automated Market Maker"
package lmsr

import (
	"errors"
	"math"
)

// DefaultB0 is the base liquidity parameter used when a market does not
// specify its own.
const DefaultB0 = 5.0

// ErrInvalidLiquidity is returned when b0 <= 0.
var ErrInvalidLiquidity = errors.New("lmsr: base liquidity parameter b0 must be positive")

// Liquidity computes the liquidity-sensitive parameter b from the current
// net outstanding shares:
//
//	Q = max(1, |qYes| + |qNo|)
//	b = b0 * sqrt(Q)
func Liquidity(qYes, qNo int64, b0 float64) float64 {
	q := math.Abs(float64(qYes)) + math.Abs(float64(qNo))
	if q < 1 {
		q = 1
	}
	return b0 * math.Sqrt(q)
}

// logSumExp computes ln(exp(x) + exp(y)) without overflowing float64.
// Naive exp(x) overflows when x > ~709; shifting by the max keeps both
// exponents in [0, 1].
func logSumExp(x, y float64) float64 {
	m := math.Max(x, y)
	if math.IsInf(m, -1) {
		return math.Inf(-1)
	}
	return m + math.Log(math.Exp(x-m)+math.Exp(y-m))
}

// Cost computes the LMSR potential function for a binary market:
//
//	C(q) = b * ln(exp(qYes/b) + exp(qNo/b))
//
// A trade never has an intrinsic cost; only differences of C are charged.
func Cost(qYes, qNo int64, b float64) float64 {
	return b * logSumExp(float64(qYes)/b, float64(qNo)/b)
}

// Prices computes the instantaneous outcome prices as integer percentage
// points: the softmax of qYes/b and qNo/b, each independently rounded.
// Because the two sides round independently, pYes+pNo may be 99 or 101;
// this matches the wire format and is left uncorrected.
func Prices(qYes, qNo int64, b float64) (pYes, pNo int) {
	y := float64(qYes) / b
	n := float64(qNo) / b
	m := math.Max(y, n)

	expYes := math.Exp(y - m)
	expNo := math.Exp(n - m)
	denom := expYes + expNo

	pYes = int(math.Round(expYes / denom * 100))
	pNo = int(math.Round(expNo / denom * 100))
	return pYes, pNo
}

// ResolvedPrices returns the degenerate prices of a resolved market:
// the winning outcome is worth 100, the losing outcome 0.
func ResolvedPrices(outcomeYes bool) (pYes, pNo int) {
	if outcomeYes {
		return 100, 0
	}
	return 0, 100
}

// Quote is the result of pricing a hypothetical trade against a market
// aggregate. It is advisory: execution re-quotes against the freshest
// aggregate before committing.
type Quote struct {
	B float64 // liquidity parameter used for this quote

	PriceYesBefore int
	PriceNoBefore  int
	PriceYesAfter  int
	PriceNoAfter   int

	// CashCents is the unsigned cash leg in cents: the cost of a buy or
	// the payout of a sell, clamped to >= 0.
	CashCents int64

	QYesAfter int64
	QNoAfter  int64
}

// QuoteTrade prices a change of deltaShares on one outcome against the
// aggregate (qYes, qNo). Positive deltaShares is a buy, negative a sell;
// zero yields zero cash and unchanged prices.
//
// The liquidity parameter is fixed from the pre-trade market size for the
// whole quote, matching the execution path: each committed trade is priced
// with the b of the market it found.
func QuoteTrade(qYes, qNo int64, outcomeYes bool, deltaShares int64, b0 float64) (Quote, error) {
	if b0 <= 0 {
		return Quote{}, ErrInvalidLiquidity
	}

	b := Liquidity(qYes, qNo, b0)

	q := Quote{B: b, QYesAfter: qYes, QNoAfter: qNo}
	q.PriceYesBefore, q.PriceNoBefore = Prices(qYes, qNo, b)

	if outcomeYes {
		q.QYesAfter += deltaShares
	} else {
		q.QNoAfter += deltaShares
	}

	before := Cost(qYes, qNo, b)
	after := Cost(q.QYesAfter, q.QNoAfter, b)

	// Buys charge C(after)-C(before), sells pay out C(before)-C(after).
	cash := after - before
	if deltaShares < 0 {
		cash = -cash
	}
	if cash < 0 {
		cash = 0
	}
	q.CashCents = int64(math.Round(cash * 100))

	q.PriceYesAfter, q.PriceNoAfter = Prices(q.QYesAfter, q.QNoAfter, b)
	return q, nil
}

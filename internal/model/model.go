// Package model defines the core domain types shared across the market engine.
// Ledger cash and account balances are stored as int64 minor-currency units
// (cents); decimal is used only to render dollars at the JSON boundary.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade types recorded in the ledger.
const (
	TradeTypeBuy  = "BUY"
	TradeTypeSell = "SELL"
)

// Trade is an immutable ledger record of one execution.
// Once created, these are never modified or deleted; every aggregate in the
// system (market quantities, balances-by-replay, positions) folds over them.
type Trade struct {
	ID         string    `json:"id" db:"id"`
	MarketID   int64     `json:"market_id" db:"market_id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	OutcomeYes bool      `json:"outcome" db:"outcome"`
	Shares     int64     `json:"num_shares" db:"num_shares"` // signed: +buy, -sell
	CashDelta  int64     `json:"cash_delta" db:"cash_delta"` // signed cents: -cost, +payout
	Type       string    `json:"trade_type" db:"trade_type"` // BUY or SELL
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}

// Market is one binary-outcome market.
// Deadline nil means open-ended; Outcome nil means unresolved.
// Once Outcome is set it is never changed.
type Market struct {
	ID        int64      `json:"id" db:"id"`
	B0        float64    `json:"b0" db:"b0"` // base liquidity parameter
	Deadline  *time.Time `json:"deadline" db:"deadline"`
	Outcome   *bool      `json:"outcome" db:"outcome"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Resolved reports whether the market outcome has been set.
func (m *Market) Resolved() bool {
	return m.Outcome != nil
}

// Expired reports whether the deadline has passed at the given instant.
// Open-ended markets never expire.
func (m *Market) Expired(now time.Time) bool {
	return m.Deadline != nil && !now.Before(*m.Deadline)
}

// Aggregate is the net number of shares issued per outcome for one market.
// It is always derived from the trade ledger, never stored authoritatively.
type Aggregate struct {
	QYes int64 `json:"q_yes"`
	QNo  int64 `json:"q_no"`
}

// UserAccount holds a user's cash balance in cents. Only trade execution
// and settlement mutate it.
type UserAccount struct {
	ID        int64     `json:"id" db:"id"`
	Balance   int64     `json:"balance" db:"balance"` // cents
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Position is a derived view of a user's holdings for one (market, outcome)
// pair. Recomputed from the ledger on every read, never persisted.
type Position struct {
	MarketID     int64           `json:"market_id"`
	Side         string          `json:"side"` // "YES" or "NO"
	Quantity     int64           `json:"quantity"`
	AvgPrice     decimal.Decimal `json:"avg_price"`     // dollars per share
	CurrentPrice int             `json:"current_price"` // integer percentage points
	CostBasis    decimal.Decimal `json:"cost_basis"`    // dollars
	CurrentValue decimal.Decimal `json:"current_value"` // dollars, mark-to-market
	PnL          decimal.Decimal `json:"current_pnl"`   // dollars
	Open         bool            `json:"open"`
}

// SettlementRecord marks that a user has been settled for a market.
// One record per (market, user); its existence is the idempotency guard
// against paying the same user twice on a retried resolution.
type SettlementRecord struct {
	ID        string    `json:"id" db:"id"`
	MarketID  int64     `json:"market_id" db:"market_id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Amount    int64     `json:"amount" db:"amount"` // signed cents credited
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Dollars renders an amount of cents as a two-decimal dollar value.
func Dollars(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

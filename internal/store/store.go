// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/goosemarket/market-engine/internal/model"
)

// Store is the persistence interface. The trade ledger is the single source
// of truth: market aggregates are derived from it on read, never trusted as
// independent state. Balance mutations are atomic per user, and ApplyTrade /
// RecordSettlement couple their ledger write with the balance change so a
// failure leaves no half-applied trade.
type Store interface {
	// --- Markets ---

	// CreateMarket persists a new market and assigns its id.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by id, or model.ErrMarketNotFound.
	GetMarket(ctx context.Context, id int64) (*model.Market, error)

	// SetMarketOutcome sets the outcome exactly once. Returns
	// model.ErrAlreadyResolved if an outcome is already recorded.
	SetMarketOutcome(ctx context.Context, id int64, outcomeYes bool) error

	// ReadAggregate derives the net shares per outcome from the ledger.
	ReadAggregate(ctx context.Context, marketID int64) (model.Aggregate, error)

	// --- Users ---

	// CreateUser persists a new account and assigns its id.
	CreateUser(ctx context.Context, u *model.UserAccount) error

	// GetUser retrieves an account by id, or model.ErrUserNotFound.
	GetUser(ctx context.Context, id int64) (*model.UserAccount, error)

	// --- Immutable ledger ---

	// ApplyTrade appends one ledger row and applies its cash delta to the
	// user's balance as a single atomic unit. A buy whose debit would push
	// the balance negative fails with model.ErrInsufficientFunds and writes
	// nothing. Returns the post-trade balance.
	ApplyTrade(ctx context.Context, t *model.Trade) (newBalance int64, err error)

	// TradesByMarket returns all ledger rows for a market, oldest first.
	TradesByMarket(ctx context.Context, marketID int64) ([]model.Trade, error)

	// TradesByUser returns all ledger rows for a user, oldest first.
	TradesByUser(ctx context.Context, userID int64) ([]model.Trade, error)

	// UserOutcomeShares sums the user's own signed share counts for one
	// (market, outcome) pair: their currently held net position.
	UserOutcomeShares(ctx context.Context, marketID, userID int64, outcomeYes bool) (int64, error)

	// UserExposures returns the user's net share exposure per market
	// (YES positive, NO negative), for position-limit checks.
	UserExposures(ctx context.Context, userID int64) (map[int64]int64, error)

	// --- Settlement ---

	// SettledUsers returns the ids of users already holding a settlement
	// record for the market.
	SettledUsers(ctx context.Context, marketID int64) (map[int64]bool, error)

	// RecordSettlement credits the record's amount to the user's balance and
	// persists the record as a single atomic unit.
	RecordSettlement(ctx context.Context, rec *model.SettlementRecord) error
}

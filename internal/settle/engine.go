// Package settle resolves markets and pays out holders of the winning side.
//
// Resolution is single-shot: the outcome field acts as a compare-and-set
// gate, and a per-(market, user) settlement record guards each credit so a
// retried run after a partial failure pays only the users not yet settled.
package settle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/goosemarket/market-engine/internal/market"
	"github.com/goosemarket/market-engine/internal/metrics"
	"github.com/goosemarket/market-engine/internal/model"
	"github.com/goosemarket/market-engine/internal/store"
)

// WinnerPayoutCents is the settlement value of one winning share.
const WinnerPayoutCents = 100

// Engine performs market resolution and settlement.
type Engine struct {
	store store.Store
	locks *market.Locks
}

// NewEngine creates a settlement engine sharing the trade executor's lock
// registry, so resolution cannot interleave with a commit on the same market.
func NewEngine(st store.Store, locks *market.Locks) *Engine {
	return &Engine{store: st, locks: locks}
}

// Result summarizes one settlement pass.
type Result struct {
	UsersPaid   int   // users credited in this pass
	PayoutCents int64 // total cents credited in this pass
	Rollbacks   int   // late trades rolled back
}

// Resolve sets the market outcome and settles the ledger:
//
//  1. Compare-and-set the outcome; a second attempt fails with
//     model.ErrAlreadyResolved.
//  2. Partition the ledger at the deadline: trades strictly before it are
//     scored, trades at or after it are rolled back (their cash leg is
//     reversed, regardless of outcome).
//  3. Winners receive WinnerPayoutCents per net winning share. Losing-side
//     holders receive nothing. Net-short winning positions receive nothing:
//     their sells were already paid through the AMM.
//
// Each user's combined credit is applied together with a settlement record;
// users already holding a record are skipped, so re-running after a partial
// failure settles only the remainder.
func (e *Engine) Resolve(ctx context.Context, marketID int64, outcomeYes bool) (*Result, error) {
	e.locks.Lock(marketID)
	defer e.locks.Unlock(marketID)

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	if err := e.store.SetMarketOutcome(ctx, marketID, outcomeYes); err != nil {
		return nil, err
	}
	m.Outcome = &outcomeYes

	result, err := e.settle(ctx, m)
	if err != nil {
		return nil, err
	}

	metrics.MarketsResolved.WithLabelValues(outcomeLabel(outcomeYes)).Inc()
	slog.Info("market resolved",
		"market", marketID,
		"outcome", outcomeLabel(outcomeYes),
		"users_paid", result.UsersPaid,
		"payout_cents", result.PayoutCents,
		"rollbacks", result.Rollbacks,
	)
	return result, nil
}

// Settle re-runs the payout pass for an already-resolved market. Because
// every credit is guarded by a settlement record, this only pays users a
// previous interrupted pass missed.
func (e *Engine) Settle(ctx context.Context, marketID int64) (*Result, error) {
	e.locks.Lock(marketID)
	defer e.locks.Unlock(marketID)

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !m.Resolved() {
		return nil, fmt.Errorf("market %d has no outcome: %w", marketID, model.ErrInvalidArgument)
	}
	return e.settle(ctx, m)
}

func (e *Engine) settle(ctx context.Context, m *model.Market) (*Result, error) {
	trades, err := e.store.TradesByMarket(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	winning := make(map[int64]int64) // userID -> net winning shares
	credits := make(map[int64]int64) // userID -> cents owed
	rollbacks := 0

	for _, t := range trades {
		// Open-ended markets have no deadline: every trade is scored.
		late := m.Deadline != nil && !t.Timestamp.Before(*m.Deadline)
		if late {
			// The trade should never have been accepted; reverse its cash
			// leg. A late buy is refunded its cost, a late sell's payout is
			// clawed back.
			credits[t.UserID] -= t.CashDelta
			rollbacks++
			continue
		}
		if t.OutcomeYes == *m.Outcome {
			winning[t.UserID] += t.Shares
		}
	}

	for userID, shares := range winning {
		if shares <= 0 {
			continue
		}
		credits[userID] += shares * WinnerPayoutCents
	}

	settled, err := e.store.SettledUsers(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	// Deterministic order so a partial failure leaves a clean prefix.
	userIDs := make([]int64, 0, len(credits))
	for userID := range credits {
		userIDs = append(userIDs, userID)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	result := &Result{Rollbacks: rollbacks}
	now := time.Now().UTC()

	for _, userID := range userIDs {
		if settled[userID] {
			continue
		}
		rec := &model.SettlementRecord{
			ID:        uuid.New().String(),
			MarketID:  m.ID,
			UserID:    userID,
			Amount:    credits[userID],
			CreatedAt: now,
		}
		if err := e.store.RecordSettlement(ctx, rec); err != nil {
			return nil, fmt.Errorf("settle user %d: %w", userID, err)
		}
		result.UsersPaid++
		result.PayoutCents += rec.Amount
		if rec.Amount > 0 {
			metrics.SettlementPayoutCents.Add(float64(rec.Amount))
		}
	}

	return result, nil
}

func outcomeLabel(outcomeYes bool) string {
	if outcomeYes {
		return "YES"
	}
	return "NO"
}

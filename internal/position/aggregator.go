// Package position folds a user's trade ledger into net holdings, cost
// basis, and mark-to-market value per (market, outcome) pair.
//
// Positions are a derived view: recomputed from the ledger on every read and
// never cached as authoritative state. Unresolved markets are marked by
// pricing a hypothetical full unwind through the AMM without committing it;
// resolved markets are marked at the degenerate 100/0 prices.
package position

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goosemarket/market-engine/internal/lmsr"
	"github.com/goosemarket/market-engine/internal/model"
	"github.com/goosemarket/market-engine/internal/store"
)

// Position status filter values.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Filter narrows a position query. Zero value selects everything.
type Filter struct {
	MarketID *int64
	Status   string // StatusOpen, StatusClosed, or ""
}

// Aggregator computes position views from the trade ledger.
// It never mutates state.
type Aggregator struct {
	store     store.Store
	defaultB0 float64
}

// NewAggregator creates a position aggregator. defaultB0 is used for
// markets that carry no base liquidity of their own.
func NewAggregator(st store.Store, defaultB0 float64) *Aggregator {
	if defaultB0 <= 0 {
		defaultB0 = lmsr.DefaultB0
	}
	return &Aggregator{store: st, defaultB0: defaultB0}
}

type posKey struct {
	marketID   int64
	outcomeYes bool
}

type posAgg struct {
	quantity   int64
	basisCents int64 // buys add cost, sells subtract payout
}

// Positions folds the user's ledger rows into positions, applying the
// filter. Pairs whose net quantity is zero are skipped.
func (a *Aggregator) Positions(ctx context.Context, userID int64, filter Filter) ([]model.Position, error) {
	if _, err := a.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	trades, err := a.store.TradesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	agg := make(map[posKey]*posAgg)
	for _, t := range trades {
		if filter.MarketID != nil && t.MarketID != *filter.MarketID {
			continue
		}
		key := posKey{marketID: t.MarketID, outcomeYes: t.OutcomeYes}
		pa, ok := agg[key]
		if !ok {
			pa = &posAgg{}
			agg[key] = pa
		}
		pa.quantity += t.Shares
		// Cost basis is net cash paid: the negated sum of the cash deltas
		// (buy deltas are negative, sell deltas positive).
		pa.basisCents -= t.CashDelta
	}

	if filter.MarketID != nil {
		if _, err := a.store.GetMarket(ctx, *filter.MarketID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	markets := make(map[int64]*model.Market)
	aggregates := make(map[int64]model.Aggregate)

	var positions []model.Position
	for key, pa := range agg {
		if pa.quantity == 0 {
			continue
		}

		m, ok := markets[key.marketID]
		if !ok {
			m, err = a.store.GetMarket(ctx, key.marketID)
			if err != nil {
				return nil, fmt.Errorf("position market %d: %w", key.marketID, err)
			}
			markets[key.marketID] = m
		}

		open := !m.Resolved() && !m.Expired(now)
		if (filter.Status == StatusOpen && !open) || (filter.Status == StatusClosed && open) {
			continue
		}

		var valueCents int64
		var currentPrice int

		if m.Resolved() {
			// Deterministic value: winning shares pay 100 cents, losers zero.
			if key.outcomeYes == *m.Outcome {
				valueCents = pa.quantity * 100
				currentPrice = 100
			}
		} else {
			mktAgg, ok := aggregates[key.marketID]
			if !ok {
				mktAgg, err = a.store.ReadAggregate(ctx, key.marketID)
				if err != nil {
					return nil, err
				}
				aggregates[key.marketID] = mktAgg
			}

			valueCents, currentPrice, err = unwindValue(mktAgg, key.outcomeYes, pa.quantity, marketB0(m, a.defaultB0))
			if err != nil {
				return nil, err
			}
		}

		qty := decimal.NewFromInt(pa.quantity)
		positions = append(positions, model.Position{
			MarketID:     key.marketID,
			Side:         sideLabel(key.outcomeYes),
			Quantity:     pa.quantity,
			AvgPrice:     model.Dollars(pa.basisCents).Div(qty).Abs().Round(2),
			CurrentPrice: currentPrice,
			CostBasis:    model.Dollars(pa.basisCents),
			CurrentValue: model.Dollars(valueCents),
			PnL:          model.Dollars(valueCents - pa.basisCents),
			Open:         open,
		})
	}

	sort.Slice(positions, func(i, j int) bool {
		if positions[i].MarketID != positions[j].MarketID {
			return positions[i].MarketID < positions[j].MarketID
		}
		return positions[i].Side < positions[j].Side
	})
	return positions, nil
}

// unwindValue prices a hypothetical full unwind of the position against the
// current aggregate: selling a long nets the AMM payout, buying back a short
// costs cash (negative value).
func unwindValue(agg model.Aggregate, outcomeYes bool, quantity int64, b0 float64) (int64, int, error) {
	q, err := lmsr.QuoteTrade(agg.QYes, agg.QNo, outcomeYes, -quantity, b0)
	if err != nil {
		return 0, 0, err
	}

	price := q.PriceYesBefore
	if !outcomeYes {
		price = q.PriceNoBefore
	}

	value := q.CashCents
	if quantity < 0 {
		value = -value
	}
	return value, price, nil
}

func marketB0(m *model.Market, fallback float64) float64 {
	if m.B0 > 0 {
		return m.B0
	}
	return fallback
}

func sideLabel(outcomeYes bool) string {
	if outcomeYes {
		return "YES"
	}
	return "NO"
}

package position_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goosemarket/market-engine/internal/lmsr"
	"github.com/goosemarket/market-engine/internal/model"
	"github.com/goosemarket/market-engine/internal/position"
	"github.com/goosemarket/market-engine/internal/store"
)

func newFixture(t *testing.T) (*position.Aggregator, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return position.NewAggregator(ms, lmsr.DefaultB0), ms
}

func seedMarket(t *testing.T, ms *store.MemoryStore, deadline *time.Time) *model.Market {
	t.Helper()
	m := &model.Market{B0: 5, Deadline: deadline}
	if err := ms.CreateMarket(context.Background(), m); err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
	return m
}

func seedUser(t *testing.T, ms *store.MemoryStore) *model.UserAccount {
	t.Helper()
	u := &model.UserAccount{Balance: 1_000_000_00}
	if err := ms.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return u
}

var ledgerSeq int

// appendRow writes one ledger row directly. Shares and cashCents are signed
// the way trade execution records them: buys +shares/-cash, sells the inverse.
func appendRow(t *testing.T, ms *store.MemoryStore, marketID, userID, shares, cashCents int64, outcomeYes bool) {
	t.Helper()
	ledgerSeq++
	tradeType := model.TradeTypeBuy
	if shares < 0 {
		tradeType = model.TradeTypeSell
	}
	_, err := ms.ApplyTrade(context.Background(), &model.Trade{
		ID:         fmt.Sprintf("t-%d", ledgerSeq),
		MarketID:   marketID,
		UserID:     userID,
		OutcomeYes: outcomeYes,
		Shares:     shares,
		CashDelta:  cashCents,
		Type:       tradeType,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to append ledger row: %v", err)
	}
}

func TestPositions_CostBasisAndQuantity(t *testing.T) {
	agg, ms := newFixture(t)
	m := seedMarket(t, ms, nil)
	u := seedUser(t, ms)

	// Two buys on the same side fold into one position.
	appendRow(t, ms, m.ID, u.ID, 10, -717, true)
	appendRow(t, ms, m.ID, u.ID, 5, -450, true)

	positions, err := agg.Positions(context.Background(), u.ID, position.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}

	p := positions[0]
	if p.Quantity != 15 {
		t.Errorf("expected quantity 15, got %d", p.Quantity)
	}
	if p.Side != "YES" {
		t.Errorf("expected side YES, got %s", p.Side)
	}
	if !p.CostBasis.Equal(model.Dollars(1167)) {
		t.Errorf("expected cost basis 11.67, got %s", p.CostBasis)
	}
	// 1167 / 15 = 77.8 cents per share.
	if !p.AvgPrice.Equal(model.Dollars(78)) {
		t.Errorf("expected avg price 0.78, got %s", p.AvgPrice)
	}
	if !p.Open {
		t.Error("unresolved open-ended market should yield an open position")
	}
}

func TestPositions_SellReducesBasis(t *testing.T) {
	agg, ms := newFixture(t)
	m := seedMarket(t, ms, nil)
	u := seedUser(t, ms)

	appendRow(t, ms, m.ID, u.ID, 10, -700, true)
	appendRow(t, ms, m.ID, u.ID, -4, 250, true)

	positions, err := agg.Positions(context.Background(), u.ID, position.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	if positions[0].Quantity != 6 {
		t.Errorf("expected quantity 6, got %d", positions[0].Quantity)
	}
	if !positions[0].CostBasis.Equal(model.Dollars(450)) {
		t.Errorf("expected basis 4.50 after partial sell, got %s", positions[0].CostBasis)
	}
}

func TestPositions_ZeroNetSkipped(t *testing.T) {
	agg, ms := newFixture(t)
	m := seedMarket(t, ms, nil)
	u := seedUser(t, ms)

	appendRow(t, ms, m.ID, u.ID, 10, -700, true)
	appendRow(t, ms, m.ID, u.ID, -10, 550, true)

	positions, err := agg.Positions(context.Background(), u.ID, position.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("fully closed pair should be skipped, got %d positions", len(positions))
	}
}

func TestPositions_SidesAreSeparate(t *testing.T) {
	agg, ms := newFixture(t)
	m := seedMarket(t, ms, nil)
	u := seedUser(t, ms)

	appendRow(t, ms, m.ID, u.ID, 10, -600, true)
	appendRow(t, ms, m.ID, u.ID, 3, -150, false)

	positions, err := agg.Positions(context.Background(), u.ID, position.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	// Sorted by (market, side): NO before YES.
	if positions[0].Side != "NO" || positions[0].Quantity != 3 {
		t.Errorf("expected NO x3 first, got %s x%d", positions[0].Side, positions[0].Quantity)
	}
	if positions[1].Side != "YES" || positions[1].Quantity != 10 {
		t.Errorf("expected YES x10 second, got %s x%d", positions[1].Side, positions[1].Quantity)
	}
}

func TestPositions_UnresolvedValueIsUnwindQuote(t *testing.T) {
	agg, ms := newFixture(t)
	m := seedMarket(t, ms, nil)
	u := seedUser(t, ms)

	appendRow(t, ms, m.ID, u.ID, 10, -717, true)

	// The mark equals the payout of selling the whole position back into
	// the current pool.
	q, err := lmsr.QuoteTrade(10, 0, true, -10, m.B0)
	if err != nil {
		t.Fatalf("reference quote failed: %v", err)
	}

	positions, err := agg.Positions(context.Background(), u.ID, position.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := positions[0]
	if !p.CurrentValue.Equal(model.Dollars(q.CashCents)) {
		t.Errorf("expected value %s, got %s", model.Dollars(q.CashCents), p.CurrentValue)
	}
	if p.CurrentPrice != q.PriceYesBefore {
		t.Errorf("expected current price %d, got %d", q.PriceYesBefore, p.CurrentPrice)
	}
	if !p.PnL.Equal(p.CurrentValue.Sub(p.CostBasis)) {
		t.Errorf("pnl %s != value %s - basis %s", p.PnL, p.CurrentValue, p.CostBasis)
	}
}

func TestPositions_ShortSideValuedNegative(t *testing.T) {
	agg, ms := newFixture(t)
	m := seedMarket(t, ms, nil)
	u := seedUser(t, ms)

	// Net short YES: the unwind is a buyback, so the mark is negative.
	appendRow(t, ms, m.ID, u.ID, -5, 240, true)

	positions, err := agg.Positions(context.Background(), u.ID, position.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	p := positions[0]
	if p.Quantity != -5 {
		t.Errorf("expected quantity -5, got %d", p.Quantity)
	}
	if !p.CurrentValue.IsNegative() {
		t.Errorf("short position should mark negative, got %s", p.CurrentValue)
	}
}

func TestPositions_ResolvedValues(t *testing.T) {
	agg, ms := newFixture(t)
	m := seedMarket(t, ms, nil)
	u := seedUser(t, ms)

	appendRow(t, ms, m.ID, u.ID, 10, -600, true)
	appendRow(t, ms, m.ID, u.ID, 4, -180, false)

	if err := ms.SetMarketOutcome(context.Background(), m.ID, true); err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}

	positions, err := agg.Positions(context.Background(), u.ID, position.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}

	no, yes := positions[0], positions[1]
	if yes.CurrentPrice != 100 || !yes.CurrentValue.Equal(model.Dollars(1000)) {
		t.Errorf("winning side should mark 100 and value 10.00, got price=%d value=%s",
			yes.CurrentPrice, yes.CurrentValue)
	}
	if no.CurrentPrice != 0 || !no.CurrentValue.IsZero() {
		t.Errorf("losing side should mark 0 and value 0, got price=%d value=%s",
			no.CurrentPrice, no.CurrentValue)
	}
	if yes.Open || no.Open {
		t.Error("resolved market positions must be closed")
	}
}

func TestPositions_MarketFilter(t *testing.T) {
	agg, ms := newFixture(t)
	m1 := seedMarket(t, ms, nil)
	m2 := seedMarket(t, ms, nil)
	u := seedUser(t, ms)

	appendRow(t, ms, m1.ID, u.ID, 10, -600, true)
	appendRow(t, ms, m2.ID, u.ID, 3, -150, false)

	positions, err := agg.Positions(context.Background(), u.ID, position.Filter{MarketID: &m2.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 || positions[0].MarketID != m2.ID {
		t.Fatalf("expected only market %d, got %+v", m2.ID, positions)
	}
}

func TestPositions_MarketFilterUnknownMarket(t *testing.T) {
	agg, ms := newFixture(t)
	u := seedUser(t, ms)

	missing := int64(999)
	_, err := agg.Positions(context.Background(), u.ID, position.Filter{MarketID: &missing})
	if !errors.Is(err, model.ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}
}

func TestPositions_StatusFilter(t *testing.T) {
	agg, ms := newFixture(t)
	past := time.Now().UTC().Add(-time.Hour)
	expired := seedMarket(t, ms, &past)
	open := seedMarket(t, ms, nil)
	u := seedUser(t, ms)

	appendRow(t, ms, expired.ID, u.ID, 5, -250, true)
	appendRow(t, ms, open.ID, u.ID, 7, -400, true)

	got, err := agg.Positions(context.Background(), u.ID, position.Filter{Status: position.StatusOpen})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].MarketID != open.ID {
		t.Errorf("open filter should return only the live market, got %+v", got)
	}

	got, err = agg.Positions(context.Background(), u.ID, position.Filter{Status: position.StatusClosed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].MarketID != expired.ID {
		t.Errorf("closed filter should return only the expired market, got %+v", got)
	}
}

func TestPositions_UserNotFound(t *testing.T) {
	agg, _ := newFixture(t)

	_, err := agg.Positions(context.Background(), 42, position.Filter{})
	if !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestPositions_NoTrades(t *testing.T) {
	agg, ms := newFixture(t)
	u := seedUser(t, ms)

	positions, err := agg.Positions(context.Background(), u.ID, position.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("expected no positions, got %d", len(positions))
	}
}

package lmsr

import (
	"math"
	"testing"
)

// --- Liquidity parameter tests ---

func TestLiquidity_EmptyMarketFloor(t *testing.T) {
	// Q is floored at 1, so an empty market still has b = b0.
	b := Liquidity(0, 0, 5)
	if b != 5 {
		t.Errorf("expected b=b0=5 for empty market, got %f", b)
	}
}

func TestLiquidity_GrowsWithMarketSize(t *testing.T) {
	b0 := 5.0
	small := Liquidity(10, 10, b0)
	large := Liquidity(100, 100, b0)
	if large <= small {
		t.Errorf("deeper market should have larger b: small=%f large=%f", small, large)
	}

	// b = b0 * sqrt(|qYes| + |qNo|)
	want := b0 * math.Sqrt(200)
	if math.Abs(large-want) > 1e-9 {
		t.Errorf("expected b=%f, got %f", want, large)
	}
}

func TestLiquidity_UsesAbsoluteQuantities(t *testing.T) {
	pos := Liquidity(30, 10, 5)
	neg := Liquidity(-30, -10, 5)
	if pos != neg {
		t.Errorf("liquidity should depend on |q|: pos=%f neg=%f", pos, neg)
	}
}

// --- Cost function tests ---

func TestCost_OriginValue(t *testing.T) {
	// C(0,0) = b * ln(2)
	b := 10.0
	got := Cost(0, 0, b)
	want := b * math.Log(2)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("C(0,0) should be b*ln2=%f, got %f", want, got)
	}
}

func TestCost_NoOverflowAtExtremeQuantities(t *testing.T) {
	// q/b far beyond exp's overflow threshold (~709).
	got := Cost(1_000_000_000, 0, 5)
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Errorf("cost should be finite for extreme quantities, got %f", got)
	}
}

func TestCost_Convexity(t *testing.T) {
	// With fixed b, each additional batch on the same side costs more.
	b := 10.0
	first := Cost(10, 0, b) - Cost(0, 0, b)
	second := Cost(20, 0, b) - Cost(10, 0, b)
	if second <= first {
		t.Errorf("second batch should cost more (convexity): first=%f second=%f", first, second)
	}
}

func TestCost_PathIndependenceFixedB(t *testing.T) {
	// With a fixed liquidity parameter, sequential costs telescope: buying
	// 10 then 5 equals buying 15 at once.
	b := 10.0
	sequential := (Cost(10, 0, b) - Cost(0, 0, b)) + (Cost(15, 0, b) - Cost(10, 0, b))
	direct := Cost(15, 0, b) - Cost(0, 0, b)
	if math.Abs(sequential-direct) > 1e-9 {
		t.Errorf("fixed-b LMSR should be path-independent: sequential=%f direct=%f", sequential, direct)
	}
}

// --- Price tests ---

func TestPrices_InitiallyFiftyFifty(t *testing.T) {
	pYes, pNo := Prices(0, 0, 5)
	if pYes != 50 || pNo != 50 {
		t.Errorf("expected 50/50 at origin, got %d/%d", pYes, pNo)
	}
}

func TestPrices_SumWithinOneOfHundred(t *testing.T) {
	tests := []struct {
		qYes, qNo int64
	}{
		{0, 0},
		{10, 0},
		{0, 10},
		{30, 10},
		{100, 200},
		{500, 100},
		{-50, 30},
		{7, 3},
		{1, 2},
	}
	for _, tt := range tests {
		b := Liquidity(tt.qYes, tt.qNo, DefaultB0)
		pYes, pNo := Prices(tt.qYes, tt.qNo, b)
		sum := pYes + pNo
		if sum < 99 || sum > 101 {
			t.Errorf("prices should sum within 1 of 100: q=(%d,%d) pYes=%d pNo=%d",
				tt.qYes, tt.qNo, pYes, pNo)
		}
		if pYes < 0 || pYes > 100 || pNo < 0 || pNo > 100 {
			t.Errorf("prices out of [0,100]: q=(%d,%d) pYes=%d pNo=%d",
				tt.qYes, tt.qNo, pYes, pNo)
		}
	}
}

func TestPrices_ExtremeQuantitiesNoPanic(t *testing.T) {
	tests := []struct {
		name      string
		qYes, qNo int64
	}{
		{"very large YES", 100000, 0},
		{"very large NO", 0, 100000},
		{"both large equal", 100000, 100000},
		{"very negative YES", -100000, 0},
		{"both very negative", -100000, -100000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Liquidity(tt.qYes, tt.qNo, DefaultB0)
			pYes, pNo := Prices(tt.qYes, tt.qNo, b)
			if pYes < 0 || pYes > 100 || pNo < 0 || pNo > 100 {
				t.Errorf("prices out of bounds: %d/%d", pYes, pNo)
			}
		})
	}
}

func TestResolvedPrices_Degenerate(t *testing.T) {
	pYes, pNo := ResolvedPrices(true)
	if pYes != 100 || pNo != 0 {
		t.Errorf("YES resolution should price 100/0, got %d/%d", pYes, pNo)
	}
	pYes, pNo = ResolvedPrices(false)
	if pYes != 0 || pNo != 100 {
		t.Errorf("NO resolution should price 0/100, got %d/%d", pYes, pNo)
	}
}

// --- Quote tests ---

func TestQuoteTrade_ZeroDelta(t *testing.T) {
	q, err := QuoteTrade(10, 5, true, 0, DefaultB0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.CashCents != 0 {
		t.Errorf("zero-share quote should cost nothing, got %d cents", q.CashCents)
	}
	if q.PriceYesAfter != q.PriceYesBefore || q.PriceNoAfter != q.PriceNoBefore {
		t.Errorf("zero-share quote should leave prices unchanged: before=%d/%d after=%d/%d",
			q.PriceYesBefore, q.PriceNoBefore, q.PriceYesAfter, q.PriceNoAfter)
	}
}

func TestQuoteTrade_InvalidLiquidity(t *testing.T) {
	if _, err := QuoteTrade(0, 0, true, 10, 0); err != ErrInvalidLiquidity {
		t.Errorf("expected ErrInvalidLiquidity for b0=0, got %v", err)
	}
	if _, err := QuoteTrade(0, 0, true, 10, -5); err != ErrInvalidLiquidity {
		t.Errorf("expected ErrInvalidLiquidity for b0<0, got %v", err)
	}
}

func TestQuoteTrade_BuyMovesPriceAndCostsPositive(t *testing.T) {
	// The reference scenario: b0=5, empty market, buy 10 YES.
	q, err := QuoteTrade(0, 0, true, 10, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.CashCents <= 0 {
		t.Errorf("buying should cost a positive amount, got %d cents", q.CashCents)
	}
	if q.PriceYesAfter <= 50 {
		t.Errorf("YES price should rise above 50 after YES buy, got %d", q.PriceYesAfter)
	}
	if q.PriceNoAfter >= 50 {
		t.Errorf("NO price should fall below 50 after YES buy, got %d", q.PriceNoAfter)
	}
	if q.QYesAfter != 10 || q.QNoAfter != 0 {
		t.Errorf("aggregate after should be (10,0), got (%d,%d)", q.QYesAfter, q.QNoAfter)
	}
}

func TestQuoteTrade_SlippageSuperLinear(t *testing.T) {
	// Same-side purchases against a fixed pre-trade b cost more per batch as
	// quantity grows: 20 shares at once cost more than twice 10 shares.
	q10, _ := QuoteTrade(0, 0, true, 10, 5)
	q20, _ := QuoteTrade(0, 0, true, 20, 5)
	if q20.CashCents <= 2*q10.CashCents {
		t.Errorf("cost should grow super-linearly: 10 shares=%dc, 20 shares=%dc",
			q10.CashCents, q20.CashCents)
	}
}

func TestQuoteTrade_SellPayoutNonNegative(t *testing.T) {
	q, err := QuoteTrade(10, 0, true, -10, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.CashCents < 0 {
		t.Errorf("sell payout should be >= 0, got %d cents", q.CashCents)
	}
}

func TestQuoteTrade_RoundTripNeverProfits(t *testing.T) {
	// Buy n shares then sell the same n with no trades in between: the
	// payout can never exceed the original cost. The liquidity parameter
	// shifts between the legs (the buy grew the market), which is exactly
	// the case worth checking.
	cases := []int64{1, 5, 10, 50}
	for _, n := range cases {
		buy, _ := QuoteTrade(0, 0, true, n, 5)
		sell, _ := QuoteTrade(buy.QYesAfter, buy.QNoAfter, true, -n, 5)
		if sell.CashCents > buy.CashCents {
			t.Errorf("round trip of %d shares should not profit: buy=%dc sell=%dc",
				n, buy.CashCents, sell.CashCents)
		}
	}
}

func TestQuoteTrade_NoBuySymmetricAtOrigin(t *testing.T) {
	yes, _ := QuoteTrade(0, 0, true, 10, 5)
	no, _ := QuoteTrade(0, 0, false, 10, 5)
	if yes.CashCents != no.CashCents {
		t.Errorf("YES and NO buys from the origin should cost the same: yes=%dc no=%dc",
			yes.CashCents, no.CashCents)
	}
}

// --- Internal logSumExp tests ---

func TestLogSumExp_NoOverflow(t *testing.T) {
	result := logSumExp(1000, 1001)
	if math.IsNaN(result) || math.IsInf(result, 1) {
		t.Errorf("logSumExp should not overflow: got %f", result)
	}
	if result < 1000 || result > 1002 {
		t.Errorf("logSumExp(1000,1001) should be in [1000,1002], got %f", result)
	}
}

func TestLogSumExp_EqualValues(t *testing.T) {
	// ln(2 * exp(x)) = x + ln(2)
	result := logSumExp(3, 3)
	expected := 3.0 + math.Log(2)
	if math.Abs(result-expected) > 1e-10 {
		t.Errorf("logSumExp(3,3) should be %f, got %f", expected, result)
	}
}

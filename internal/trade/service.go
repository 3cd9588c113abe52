// Package trade provides the HTTP handlers and business logic for creating
// markets and users, quoting, executing trades, querying positions, and
// triggering settlement.
//
// Ledger cash and balances are int64 cents end to end; dollars appear only
// in JSON responses, rendered through decimal.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/goosemarket/market-engine/internal/lmsr"
	"github.com/goosemarket/market-engine/internal/market"
	"github.com/goosemarket/market-engine/internal/metrics"
	"github.com/goosemarket/market-engine/internal/model"
	"github.com/goosemarket/market-engine/internal/position"
	"github.com/goosemarket/market-engine/internal/risk"
	"github.com/goosemarket/market-engine/internal/settle"
	"github.com/goosemarket/market-engine/internal/store"
)

// Service handles market operations. Trade commits and resolution are
// serialized per market through the shared lock registry; different markets
// proceed in parallel.
type Service struct {
	store     store.Store
	locks     *market.Locks
	limiter   *risk.Limiter
	positions *position.Aggregator
	settler   *settle.Engine
	b0        float64
	wsHub     *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, locks *market.Locks, limiter *risk.Limiter, b0 float64, hub *WSHub) *Service {
	if b0 <= 0 {
		b0 = lmsr.DefaultB0
	}
	return &Service{
		store:     st,
		locks:     locks,
		limiter:   limiter,
		positions: position.NewAggregator(st, b0),
		settler:   settle.NewEngine(st, locks),
		b0:        b0,
		wsHub:     hub,
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Deadline *time.Time `json:"deadline"` // nil → open-ended
	B0       float64    `json:"b0"`       // 0 → default base liquidity
}

// CreateUserRequest is the JSON body for user provisioning.
type CreateUserRequest struct {
	Balance decimal.Decimal `json:"balance"` // starting balance in dollars
}

// QuoteRequest is the JSON body for POST /markets/{marketID}/quote.
// DeltaShares is signed: positive prices a buy, negative a sell.
type QuoteRequest struct {
	Outcome     string `json:"outcome"`
	DeltaShares int64  `json:"delta_shares"`
}

// QuoteResponse mirrors the pricing engine's advisory quote.
type QuoteResponse struct {
	MarketID    int64           `json:"market_id"`
	Outcome     string          `json:"outcome"`
	DeltaShares int64           `json:"delta_shares"`
	Cost        decimal.Decimal `json:"cost"`
	B           float64         `json:"b"`
	PriceBefore PricePair       `json:"price_before"`
	PriceAfter  PricePair       `json:"price_after"`
	QYes        int64           `json:"q_yes"`
	QNo         int64           `json:"q_no"`
}

// PricePair carries both outcome prices in integer percentage points.
// The two sides round independently and may sum to 99 or 101.
type PricePair struct {
	Yes int `json:"yes"`
	No  int `json:"no"`
}

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	MarketID  int64  `json:"market_id"`
	UserID    int64  `json:"user_id"`
	Outcome   string `json:"outcome"`
	NumShares int64  `json:"num_shares"` // positive share count
	Type      string `json:"trade_type"` // BUY or SELL
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	TradeID     string           `json:"trade_id"`
	MarketID    int64            `json:"market_id"`
	UserID      int64            `json:"user_id"`
	Outcome     string           `json:"outcome"`
	NumShares   int64            `json:"num_shares"`
	Type        string           `json:"trade_type"`
	Cost        *decimal.Decimal `json:"cost,omitempty"`   // buys
	Payout      *decimal.Decimal `json:"payout,omitempty"` // sells
	NewBalance  decimal.Decimal  `json:"new_balance"`
	PriceBefore PricePair        `json:"price_before"`
	PriceAfter  PricePair        `json:"price_after"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	b0 := req.B0
	if b0 == 0 {
		b0 = s.b0
	}
	if b0 < 0 {
		writeError(w, lmsr.ErrInvalidLiquidity.Error(), http.StatusBadRequest)
		return
	}

	m := &model.Market{
		B0:        b0,
		Deadline:  req.Deadline,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMarket(r.Context(), m); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("market created", "id", m.ID, "b0", b0, "deadline", req.Deadline)

	writeJSON(w, http.StatusCreated, m)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	m, err := s.store.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price
// Returns the current LS-LMSR prices, or degenerate 100/0 prices once the
// market is resolved.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ctx := r.Context()
	m, err := s.store.GetMarket(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	agg, err := s.store.ReadAggregate(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	b := lmsr.Liquidity(agg.QYes, agg.QNo, m.B0)
	var pYes, pNo int
	if m.Resolved() {
		pYes, pNo = lmsr.ResolvedPrices(*m.Outcome)
	} else {
		pYes, pNo = lmsr.Prices(agg.QYes, agg.QNo, b)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"price_yes": pYes,
		"price_no":  pNo,
		"b":         b,
		"q_yes":     agg.QYes,
		"q_no":      agg.QNo,
		"timestamp": time.Now().UTC(),
	})
}

// QuoteTrade handles POST /api/v1/markets/{marketID}/quote
// Advisory pricing only: never blocks, may serve a snapshot that a
// concurrent commit is about to invalidate. Committing re-quotes.
func (s *Service) QuoteTrade(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	outcomeYes, err := parseOutcome(req.Outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ctx := r.Context()
	m, err := s.store.GetMarket(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	agg, err := s.store.ReadAggregate(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Resolved markets quote the degenerate 100/0 prices with zero cost;
	// the cost function no longer applies.
	if m.Resolved() {
		pYes, pNo := lmsr.ResolvedPrices(*m.Outcome)
		final := PricePair{Yes: pYes, No: pNo}
		writeJSON(w, http.StatusOK, QuoteResponse{
			MarketID:    id,
			Outcome:     outcomeLabel(outcomeYes),
			DeltaShares: req.DeltaShares,
			Cost:        model.Dollars(0),
			B:           lmsr.Liquidity(agg.QYes, agg.QNo, m.B0),
			PriceBefore: final,
			PriceAfter:  final,
			QYes:        agg.QYes,
			QNo:         agg.QNo,
		})
		return
	}

	q, err := lmsr.QuoteTrade(agg.QYes, agg.QNo, outcomeYes, req.DeltaShares, m.B0)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, QuoteResponse{
		MarketID:    id,
		Outcome:     outcomeLabel(outcomeYes),
		DeltaShares: req.DeltaShares,
		Cost:        model.Dollars(q.CashCents),
		B:           q.B,
		PriceBefore: PricePair{Yes: q.PriceYesBefore, No: q.PriceNoBefore},
		PriceAfter:  PricePair{Yes: q.PriceYesAfter, No: q.PriceNoAfter},
		QYes:        agg.QYes,
		QNo:         agg.QNo,
	})
}

// ExecuteTrade handles POST /api/v1/trade
// Validates, then re-reads the freshest aggregate under the market lock and
// commits ledger row plus balance change atomically.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	resp, err := s.Execute(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.TradeLatency.WithLabelValues(resp.Type).Observe(time.Since(start).Seconds())

	status := http.StatusOK
	if resp.Type == model.TradeTypeBuy {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// Execute runs the full trade contract: validate, serialize per market,
// re-quote against the fresh aggregate, and commit. One ledger row and one
// balance mutation per call, or a typed failure with no state change.
func (s *Service) Execute(ctx context.Context, req TradeRequest) (*TradeResponse, error) {
	if req.MarketID <= 0 {
		return nil, fmt.Errorf("market_id must be a positive integer: %w", model.ErrInvalidArgument)
	}
	if req.UserID <= 0 {
		return nil, fmt.Errorf("user_id must be a positive integer: %w", model.ErrInvalidArgument)
	}
	if req.NumShares <= 0 {
		return nil, fmt.Errorf("num_shares must be greater than zero: %w", model.ErrInvalidArgument)
	}
	outcomeYes, err := parseOutcome(req.Outcome)
	if err != nil {
		return nil, err
	}
	tradeType := strings.ToUpper(strings.TrimSpace(req.Type))
	if tradeType != model.TradeTypeBuy && tradeType != model.TradeTypeSell {
		return nil, fmt.Errorf("trade_type must be BUY or SELL: %w", model.ErrInvalidArgument)
	}

	// Serialize against other commits and resolution on this market. All
	// reads below happen under the lock so the quote can never be computed
	// against an aggregate another commit is concurrently invalidating.
	s.locks.Lock(req.MarketID)
	defer s.locks.Unlock(req.MarketID)

	now := time.Now().UTC()

	m, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}
	if m.Resolved() || m.Expired(now) {
		return nil, fmt.Errorf("market %d: %w", m.ID, model.ErrMarketClosed)
	}

	user, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	agg, err := s.store.ReadAggregate(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}

	// Signed share delta applied to the aggregate, and the user's exposure
	// delta for position limits (+YES direction, -NO direction).
	delta := req.NumShares
	if tradeType == model.TradeTypeSell {
		delta = -delta
	}
	exposureDelta := delta
	if !outcomeYes {
		exposureDelta = -exposureDelta
	}

	if s.limiter != nil {
		exposures, err := s.store.UserExposures(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if err := s.limiter.Check(req.MarketID, exposureDelta, exposures); err != nil {
			metrics.RiskRejections.Inc()
			return nil, err
		}
	}

	if tradeType == model.TradeTypeSell {
		held, err := s.store.UserOutcomeShares(ctx, req.MarketID, req.UserID, outcomeYes)
		if err != nil {
			return nil, err
		}
		if held < req.NumShares {
			return nil, fmt.Errorf("have %d, want to sell %d: %w", held, req.NumShares, model.ErrInsufficientHoldings)
		}
	}

	q, err := lmsr.QuoteTrade(agg.QYes, agg.QNo, outcomeYes, delta, m.B0)
	if err != nil {
		return nil, err
	}

	cashDelta := q.CashCents // sell: credit
	if tradeType == model.TradeTypeBuy {
		cashDelta = -q.CashCents // buy: debit
		if user.Balance < q.CashCents {
			return nil, fmt.Errorf("cost %d exceeds balance %d: %w", q.CashCents, user.Balance, model.ErrInsufficientFunds)
		}
	}

	entry := &model.Trade{
		ID:         uuid.New().String(),
		MarketID:   req.MarketID,
		UserID:     req.UserID,
		OutcomeYes: outcomeYes,
		Shares:     delta,
		CashDelta:  cashDelta,
		Type:       tradeType,
		Timestamp:  now,
	}

	newBalance, err := s.store.ApplyTrade(ctx, entry)
	if err != nil {
		return nil, err
	}

	side := outcomeLabel(outcomeYes)
	metrics.TradesTotal.WithLabelValues(tradeType, side).Inc()
	metrics.TradeVolume.WithLabelValues(strconv.FormatInt(req.MarketID, 10), side).Add(float64(req.NumShares))

	slog.Info("trade executed",
		"trade_id", entry.ID,
		"market", req.MarketID,
		"user", req.UserID,
		"type", tradeType,
		"side", side,
		"shares", req.NumShares,
		"cash_cents", cashDelta,
		"price_yes", q.PriceYesAfter,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "trade_executed",
			MarketID: req.MarketID,
			PriceYes: q.PriceYesAfter,
			PriceNo:  q.PriceNoAfter,
			Side:     side,
			Shares:   delta,
		})
	}

	resp := &TradeResponse{
		TradeID:     entry.ID,
		MarketID:    req.MarketID,
		UserID:      req.UserID,
		Outcome:     side,
		NumShares:   req.NumShares,
		Type:        tradeType,
		NewBalance:  model.Dollars(newBalance),
		PriceBefore: PricePair{Yes: q.PriceYesBefore, No: q.PriceNoBefore},
		PriceAfter:  PricePair{Yes: q.PriceYesAfter, No: q.PriceNoAfter},
	}
	cash := model.Dollars(q.CashCents)
	if tradeType == model.TradeTypeBuy {
		resp.Cost = &cash
	} else {
		resp.Payout = &cash
	}
	return resp, nil
}

// CreateUser handles POST /api/v1/users
func (s *Service) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Balance.IsNegative() {
		writeError(w, "balance must not be negative", http.StatusBadRequest)
		return
	}

	u := &model.UserAccount{
		// Money is rounded to cents at the boundary, never truncated.
		Balance:   req.Balance.Round(2).Mul(decimal.NewFromInt(100)).IntPart(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("user created", "id", u.ID, "balance_cents", u.Balance)
	writeJSON(w, http.StatusCreated, u)
}

// GetBalance handles GET /api/v1/users/{userID}/balance
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	u, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": u.ID,
		"balance": model.Dollars(u.Balance),
	})
}

// GetPositions handles GET /api/v1/positions/{userID}?market_id=&status=
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID, err := idParam(r, "userID")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	filter := position.Filter{}
	if v := r.URL.Query().Get("market_id"); v != "" {
		id, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			writeError(w, "market_id must be a valid integer", http.StatusBadRequest)
			return
		}
		filter.MarketID = &id
	}
	if v := strings.ToLower(r.URL.Query().Get("status")); v != "" {
		if v != position.StatusOpen && v != position.StatusClosed {
			writeError(w, "status must be open or closed", http.StatusBadRequest)
			return
		}
		filter.Status = v
	}

	positions, err := s.positions.Positions(r.Context(), userID, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
// Body: {"outcome": true|false}. Settlement runs exactly once per market.
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req struct {
		Outcome *bool `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Outcome == nil {
		writeError(w, "outcome must be true or false", http.StatusBadRequest)
		return
	}

	result, err := s.settler.Resolve(r.Context(), id, *req.Outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if s.wsHub != nil {
		pYes, pNo := lmsr.ResolvedPrices(*req.Outcome)
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_resolved",
			MarketID: id,
			PriceYes: pYes,
			PriceNo:  pNo,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "market resolved successfully",
		"market_id":    id,
		"outcome":      *req.Outcome,
		"users_paid":   result.UsersPaid,
		"total_payout": model.Dollars(result.PayoutCents),
		"rollbacks":    result.Rollbacks,
	})
}

// SettleMarket handles POST /api/v1/markets/{marketID}/settle
// Re-runs the payout pass for an already-resolved market. Settlement records
// make the pass idempotent: only users a previous interrupted run missed are
// credited, so operators can retry after a partial failure.
func (s *Service) SettleMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := s.settler.Settle(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":    id,
		"users_paid":   result.UsersPaid,
		"total_payout": model.Dollars(result.PayoutCents),
		"rollbacks":    result.Rollbacks,
	})
}

// --- Helpers ---

// parseOutcome normalizes an outcome label to its YES-ness.
func parseOutcome(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("outcome must be YES or NO: %w", model.ErrInvalidArgument)
}

func outcomeLabel(outcomeYes bool) string {
	if outcomeYes {
		return "YES"
	}
	return "NO"
}

func marketIDParam(r *http.Request) (int64, error) {
	return idParam(r, "marketID")
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer: %w", name, model.ErrInvalidArgument)
	}
	return id, nil
}

// writeDomainError maps the engine's error taxonomy to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, model.ErrMarketNotFound), errors.Is(err, model.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidArgument),
		errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientHoldings):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrMarketClosed), errors.Is(err, model.ErrAlreadyResolved),
		errors.Is(err, risk.ErrMarketLimitExceeded), errors.Is(err, risk.ErrTotalLimitExceeded):
		status = http.StatusConflict
	case errors.Is(err, model.ErrUnavailable):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

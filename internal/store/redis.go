package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goosemarket/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for market rows and per-user ledger views. Writes go to the primary
// and invalidate the cache. Aggregates are never cached: the commit path
// must always price against the freshest ledger.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through ---

func (s *CachedStore) GetMarket(ctx context.Context, id int64) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) TradesByUser(ctx context.Context, userID int64) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, userTradesKey(userID)).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := s.primary.TradesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, userTradesKey(userID), data, s.ttl)
	}
	return trades, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) SetMarketOutcome(ctx context.Context, id int64, outcomeYes bool) error {
	if err := s.primary.SetMarketOutcome(ctx, id, outcomeYes); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the resolved row.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, t *model.Trade) (int64, error) {
	newBalance, err := s.primary.ApplyTrade(ctx, t)
	if err != nil {
		return 0, err
	}
	s.rdb.Del(ctx, userTradesKey(t.UserID))
	return newBalance, nil
}

func (s *CachedStore) RecordSettlement(ctx context.Context, rec *model.SettlementRecord) error {
	if err := s.primary.RecordSettlement(ctx, rec); err != nil {
		return err
	}
	s.rdb.Del(ctx, userTradesKey(rec.UserID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ReadAggregate(ctx context.Context, marketID int64) (model.Aggregate, error) {
	return s.primary.ReadAggregate(ctx, marketID)
}

func (s *CachedStore) CreateUser(ctx context.Context, u *model.UserAccount) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id int64) (*model.UserAccount, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) TradesByMarket(ctx context.Context, marketID int64) ([]model.Trade, error) {
	return s.primary.TradesByMarket(ctx, marketID)
}

func (s *CachedStore) UserOutcomeShares(ctx context.Context, marketID, userID int64, outcomeYes bool) (int64, error) {
	return s.primary.UserOutcomeShares(ctx, marketID, userID, outcomeYes)
}

func (s *CachedStore) UserExposures(ctx context.Context, userID int64) (map[int64]int64, error) {
	return s.primary.UserExposures(ctx, userID)
}

func (s *CachedStore) SettledUsers(ctx context.Context, marketID int64) (map[int64]bool, error) {
	return s.primary.SettledUsers(ctx, marketID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id int64) string         { return fmt.Sprintf("market:%d", id) }
func userTradesKey(userID int64) string { return fmt.Sprintf("user_trades:%d", userID) }

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goosemarket/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	markets      map[int64]*model.Market
	users        map[int64]*model.UserAccount
	ledger       []model.Trade
	settlements  map[int64]map[int64]model.SettlementRecord // marketID -> userID
	nextMarketID int64
	nextUserID   int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:      make(map[int64]*model.Market),
		users:        make(map[int64]*model.UserAccount),
		settlements:  make(map[int64]map[int64]model.SettlementRecord),
		nextMarketID: 1,
		nextUserID:   1,
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == 0 {
		m.ID = s.nextMarketID
		s.nextMarketID++
	} else if _, exists := s.markets[m.ID]; exists {
		return fmt.Errorf("market %d already exists", m.ID)
	} else if m.ID >= s.nextMarketID {
		s.nextMarketID = m.ID + 1
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id int64) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %d: %w", id, model.ErrMarketNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) SetMarketOutcome(_ context.Context, id int64, outcomeYes bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("market %d: %w", id, model.ErrMarketNotFound)
	}
	if m.Outcome != nil {
		return fmt.Errorf("market %d: %w", id, model.ErrAlreadyResolved)
	}
	m.Outcome = &outcomeYes
	return nil
}

// ReadAggregate re-derives the aggregate by scanning the ledger: the ledger
// is the source of truth, the aggregate only a materialized view of it.
func (s *MemoryStore) ReadAggregate(_ context.Context, marketID int64) (model.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agg model.Aggregate
	for _, t := range s.ledger {
		if t.MarketID != marketID {
			continue
		}
		if t.OutcomeYes {
			agg.QYes += t.Shares
		} else {
			agg.QNo += t.Shares
		}
	}
	return agg, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == 0 {
		u.ID = s.nextUserID
		s.nextUserID++
	} else if _, exists := s.users[u.ID]; exists {
		return fmt.Errorf("user %d already exists", u.ID)
	} else if u.ID >= s.nextUserID {
		s.nextUserID = u.ID + 1
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (*model.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, model.ErrUserNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, t *model.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[t.UserID]
	if !ok {
		return 0, fmt.Errorf("user %d: %w", t.UserID, model.ErrUserNotFound)
	}
	if u.Balance+t.CashDelta < 0 {
		return 0, model.ErrInsufficientFunds
	}

	u.Balance += t.CashDelta
	s.ledger = append(s.ledger, *t)
	return u.Balance, nil
}

func (s *MemoryStore) TradesByMarket(_ context.Context, marketID int64) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.ledger {
		if t.MarketID == marketID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) TradesByUser(_ context.Context, userID int64) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.ledger {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) UserOutcomeShares(_ context.Context, marketID, userID int64, outcomeYes bool) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, t := range s.ledger {
		if t.MarketID == marketID && t.UserID == userID && t.OutcomeYes == outcomeYes {
			total += t.Shares
		}
	}
	return total, nil
}

func (s *MemoryStore) UserExposures(_ context.Context, userID int64) (map[int64]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exposures := make(map[int64]int64)
	for _, t := range s.ledger {
		if t.UserID != userID {
			continue
		}
		if t.OutcomeYes {
			exposures[t.MarketID] += t.Shares
		} else {
			exposures[t.MarketID] -= t.Shares
		}
	}
	return exposures, nil
}

func (s *MemoryStore) SettledUsers(_ context.Context, marketID int64) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settled := make(map[int64]bool)
	for userID := range s.settlements[marketID] {
		settled[userID] = true
	}
	return settled, nil
}

func (s *MemoryStore) RecordSettlement(_ context.Context, rec *model.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[rec.UserID]
	if !ok {
		return fmt.Errorf("user %d: %w", rec.UserID, model.ErrUserNotFound)
	}
	byUser, ok := s.settlements[rec.MarketID]
	if !ok {
		byUser = make(map[int64]model.SettlementRecord)
		s.settlements[rec.MarketID] = byUser
	}
	if _, exists := byUser[rec.UserID]; exists {
		return fmt.Errorf("user %d already settled for market %d", rec.UserID, rec.MarketID)
	}

	u.Balance += rec.Amount
	byUser[rec.UserID] = *rec
	return nil
}

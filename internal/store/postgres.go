package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goosemarket/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Cash columns are BIGINT cents; the trades table is append-only.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// unavailable wraps unexpected persistence failures so callers can match
// them with errors.Is(err, model.ErrUnavailable).
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrUnavailable, op, err)
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO markets (b0, deadline, outcome, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		m.B0, m.Deadline, m.Outcome, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return unavailable("create market", err)
	}
	return nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id int64) (*model.Market, error) {
	var m model.Market
	err := s.pool.QueryRow(ctx,
		`SELECT id, b0, deadline, outcome, created_at
		 FROM markets WHERE id = $1`, id).
		Scan(&m.ID, &m.B0, &m.Deadline, &m.Outcome, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %d: %w", id, model.ErrMarketNotFound)
	}
	if err != nil {
		return nil, unavailable("get market", err)
	}
	return &m, nil
}

// SetMarketOutcome transitions outcome from NULL exactly once; the WHERE
// clause is the compare-and-set that makes resolution single-shot.
func (s *PostgresStore) SetMarketOutcome(ctx context.Context, id int64, outcomeYes bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET outcome = $2 WHERE id = $1 AND outcome IS NULL`,
		id, outcomeYes,
	)
	if err != nil {
		return unavailable("set market outcome", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish missing market from already-resolved.
	if _, err := s.GetMarket(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("market %d: %w", id, model.ErrAlreadyResolved)
}

func (s *PostgresStore) ReadAggregate(ctx context.Context, marketID int64) (model.Aggregate, error) {
	var agg model.Aggregate
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN outcome THEN num_shares ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN NOT outcome THEN num_shares ELSE 0 END), 0)
		 FROM trades WHERE market_id = $1`, marketID).
		Scan(&agg.QYes, &agg.QNo)
	if err != nil {
		return model.Aggregate{}, unavailable("read aggregate", err)
	}
	return agg, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.UserAccount) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (balance, created_at) VALUES ($1, $2) RETURNING id`,
		u.Balance, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return unavailable("create user", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*model.UserAccount, error) {
	var u model.UserAccount
	err := s.pool.QueryRow(ctx,
		`SELECT id, balance, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Balance, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, model.ErrUserNotFound)
	}
	if err != nil {
		return nil, unavailable("get user", err)
	}
	return &u, nil
}

// ApplyTrade inserts the ledger row and applies the cash delta in one
// transaction. The balance guard in the UPDATE closes the race between two
// simultaneous buys by the same user on different markets.
func (s *PostgresStore) ApplyTrade(ctx context.Context, t *model.Trade) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, unavailable("begin trade tx", err)
	}
	defer tx.Rollback(ctx)

	var newBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2
		 WHERE id = $1 AND balance + $2 >= 0
		 RETURNING balance`,
		t.UserID, t.CashDelta,
	).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the user is gone or the debit would overdraw.
		if _, uerr := s.GetUser(ctx, t.UserID); uerr != nil {
			return 0, uerr
		}
		return 0, model.ErrInsufficientFunds
	}
	if err != nil {
		return 0, unavailable("adjust balance", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO trades (id, market_id, user_id, outcome, num_shares, cash_delta, trade_type, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.MarketID, t.UserID, t.OutcomeYes, t.Shares, t.CashDelta, t.Type, t.Timestamp,
	)
	if err != nil {
		return 0, unavailable("insert trade", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, unavailable("commit trade tx", err)
	}
	return newBalance, nil
}

func (s *PostgresStore) TradesByMarket(ctx context.Context, marketID int64) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, user_id, outcome, num_shares, cash_delta, trade_type, timestamp
		 FROM trades WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, unavailable("trades by market", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TradesByUser(ctx context.Context, userID int64) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, user_id, outcome, num_shares, cash_delta, trade_type, timestamp
		 FROM trades WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, unavailable("trades by user", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) UserOutcomeShares(ctx context.Context, marketID, userID int64, outcomeYes bool) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(num_shares), 0)
		 FROM trades WHERE market_id = $1 AND user_id = $2 AND outcome = $3`,
		marketID, userID, outcomeYes).
		Scan(&total)
	if err != nil {
		return 0, unavailable("user outcome shares", err)
	}
	return total, nil
}

func (s *PostgresStore) UserExposures(ctx context.Context, userID int64) (map[int64]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id,
		        COALESCE(SUM(CASE WHEN outcome THEN num_shares ELSE -num_shares END), 0)
		 FROM trades WHERE user_id = $1
		 GROUP BY market_id`, userID)
	if err != nil {
		return nil, unavailable("user exposures", err)
	}
	defer rows.Close()

	exposures := make(map[int64]int64)
	for rows.Next() {
		var marketID, net int64
		if err := rows.Scan(&marketID, &net); err != nil {
			return nil, unavailable("scan exposure", err)
		}
		exposures[marketID] = net
	}
	return exposures, rows.Err()
}

func (s *PostgresStore) SettledUsers(ctx context.Context, marketID int64) (map[int64]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM settlements WHERE market_id = $1`, marketID)
	if err != nil {
		return nil, unavailable("settled users", err)
	}
	defer rows.Close()

	settled := make(map[int64]bool)
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, unavailable("scan settled user", err)
		}
		settled[userID] = true
	}
	return settled, rows.Err()
}

// RecordSettlement credits the payout and writes the settlement record in
// one transaction. The (market_id, user_id) unique constraint makes a
// duplicate record a clean failure rather than a double credit.
func (s *PostgresStore) RecordSettlement(ctx context.Context, rec *model.SettlementRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin settlement tx", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE users SET balance = balance + $2 WHERE id = $1`,
		rec.UserID, rec.Amount,
	)
	if err != nil {
		return unavailable("apply settlement credit", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", rec.UserID, model.ErrUserNotFound)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO settlements (id, market_id, user_id, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.MarketID, rec.UserID, rec.Amount, rec.CreatedAt,
	)
	if err != nil {
		return unavailable("insert settlement", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit settlement tx", err)
	}
	return nil
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.MarketID, &t.UserID, &t.OutcomeYes,
			&t.Shares, &t.CashDelta, &t.Type, &t.Timestamp); err != nil {
			return nil, unavailable("scan trade", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

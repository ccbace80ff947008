package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/swapbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, side, entry_order_id, exit_order_id,
	entry_price, quantity, leverage, status, initial_stop, initial_tp,
	opened_at, closed_at, exit_price`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string

	err := row.Scan(
		&p.ID, &p.Symbol, &side,
		&p.EntryOrderID, &p.ExitOrderID,
		&p.EntryPrice, &p.Quantity, &p.Leverage,
		&status, &p.InitialStop, &p.InitialTakeProfit,
		&p.OpenedAt, &p.ClosedAt, &p.ExitPrice,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// Create inserts a new position record.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, symbol, side, entry_order_id, exit_order_id,
			entry_price, quantity, leverage, status, initial_stop, initial_tp,
			opened_at, closed_at, exit_price, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, string(p.Side),
		p.EntryOrderID, p.ExitOrderID,
		p.EntryPrice, p.Quantity, p.Leverage,
		string(p.Status), p.InitialStop, p.InitialTakeProfit,
		p.OpenedAt, p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// UpdateStatus moves a position to a new lifecycle status.
func (s *PositionStore) UpdateStatus(ctx context.Context, id string, status domain.PositionStatus) error {
	const query = `
		UPDATE positions SET status = $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update position %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close marks a position closed with its exit price and close time.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice float64, closedAt time.Time) error {
	const query = `
		UPDATE positions SET
			status     = 'closed',
			exit_price = $2,
			closed_at  = $3,
			updated_at = NOW()
		WHERE id = $1 AND status <> 'closed'`

	tag, err := s.pool.Exec(ctx, query, id, exitPrice, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetOpen returns the non-closed position on a symbol, if any. At most one
// position per symbol is ever live.
func (s *PositionStore) GetOpen(ctx context.Context, symbol string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE symbol = $1 AND status <> 'closed'
		 ORDER BY opened_at DESC
		 LIMIT 1`, symbol)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position for %s: %w", symbol, err)
	}
	return p, nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/swapbot/internal/domain"
)

// ProtectiveOrderStore implements domain.ProtectiveOrderStore using
// PostgreSQL. Records are append-mostly: status transitions and the
// superseded_by link are the only updates.
type ProtectiveOrderStore struct {
	pool *pgxpool.Pool
}

// NewProtectiveOrderStore creates a ProtectiveOrderStore backed by the given
// connection pool.
func NewProtectiveOrderStore(pool *pgxpool.Pool) *ProtectiveOrderStore {
	return &ProtectiveOrderStore{pool: pool}
}

// Create inserts a new protective order record.
func (s *ProtectiveOrderStore) Create(ctx context.Context, o domain.ProtectiveOrder) error {
	const query = `
		INSERT INTO protective_orders (
			id, position_id, symbol, kind, venue_order_id,
			trigger_price, order_price, form, status, superseded_by,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.PositionID, o.Symbol, string(o.Kind), o.VenueOrderID,
		o.TriggerPrice, o.OrderPrice, string(o.Form), string(o.Status), o.SupersededBy,
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create protective order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateStatus moves a protective order record to a new status.
func (s *ProtectiveOrderStore) UpdateStatus(ctx context.Context, id string, status domain.ProtectiveStatus) error {
	const query = `
		UPDATE protective_orders SET status = $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update protective order %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkSuperseded links a replaced record to its successor and marks it
// superseded.
func (s *ProtectiveOrderStore) MarkSuperseded(ctx context.Context, id, supersededBy string) error {
	const query = `
		UPDATE protective_orders SET
			status        = 'superseded',
			superseded_by = $2,
			updated_at    = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, supersededBy)
	if err != nil {
		return fmt.Errorf("postgres: supersede protective order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByPosition returns the full protective order trail of a position in
// creation order.
func (s *ProtectiveOrderStore) ListByPosition(ctx context.Context, positionID string) ([]domain.ProtectiveOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position_id, symbol, kind, venue_order_id,
			trigger_price, order_price, form, status, superseded_by, created_at
		 FROM protective_orders
		 WHERE position_id = $1
		 ORDER BY created_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list protective orders for %s: %w", positionID, err)
	}
	defer rows.Close()

	orders, err := scanProtectiveRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan protective orders: %w", err)
	}
	return orders, nil
}

func scanProtectiveRows(rows pgx.Rows) ([]domain.ProtectiveOrder, error) {
	var orders []domain.ProtectiveOrder
	for rows.Next() {
		var o domain.ProtectiveOrder
		var kind, form, status string

		if err := rows.Scan(
			&o.ID, &o.PositionID, &o.Symbol, &kind, &o.VenueOrderID,
			&o.TriggerPrice, &o.OrderPrice, &form, &status, &o.SupersededBy,
			&o.CreatedAt,
		); err != nil {
			return nil, err
		}
		o.Kind = domain.ProtectiveKind(kind)
		o.Form = domain.OrderForm(form)
		o.Status = domain.ProtectiveStatus(status)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Package audit writes the full trail of each closed position to object
// storage for offline review.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/swapbot/internal/domain"
)

// record is the archived form of one closed position: the final position
// state plus every protective order record it ever carried, superseded ones
// included.
type record struct {
	ArchivedAt time.Time          `json:"archived_at"`
	Position   positionRecord     `json:"position"`
	Protective []protectiveRecord `json:"protective_orders"`
}

type positionRecord struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	Quantity   float64    `json:"quantity"`
	Leverage   int        `json:"leverage"`
	Status     string     `json:"status"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
}

type protectiveRecord struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Form         string    `json:"form"`
	VenueOrderID string    `json:"venue_order_id"`
	TriggerPrice float64   `json:"trigger_price"`
	OrderPrice   float64   `json:"order_price,omitempty"`
	Status       string    `json:"status"`
	SupersededBy *string   `json:"superseded_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Archiver uploads one JSON document per closed position. It satisfies the
// engine's archive hook; failures are logged, never surfaced to trading.
type Archiver struct {
	blob   domain.BlobWriter
	orders domain.ProtectiveOrderStore
	logger *slog.Logger
}

func NewArchiver(blob domain.BlobWriter, orders domain.ProtectiveOrderStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:   blob,
		orders: orders,
		logger: logger.With(slog.String("component", "audit_archiver")),
	}
}

// ArchivePosition writes the position and its protective trail to
// audit/{symbol}/{positionID}.json. The in-memory trail passed by the caller
// is preferred; the store is consulted only when it is empty, which covers
// positions recovered after a restart.
func (a *Archiver) ArchivePosition(ctx context.Context, pos domain.Position, orders []domain.ProtectiveOrder) error {
	if len(orders) == 0 && a.orders != nil {
		stored, err := a.orders.ListByPosition(ctx, pos.ID)
		if err != nil {
			a.logger.Warn("protective trail lookup failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()))
		} else {
			orders = stored
		}
	}

	rec := record{
		ArchivedAt: time.Now().UTC(),
		Position: positionRecord{
			ID:         pos.ID,
			Symbol:     pos.Symbol,
			Side:       string(pos.Side),
			EntryPrice: pos.EntryPrice,
			Quantity:   pos.Quantity,
			Leverage:   pos.Leverage,
			Status:     string(pos.Status),
			OpenedAt:   pos.OpenedAt,
			ClosedAt:   pos.ClosedAt,
			ExitPrice:  pos.ExitPrice,
		},
		Protective: make([]protectiveRecord, 0, len(orders)),
	}
	for _, o := range orders {
		rec.Protective = append(rec.Protective, protectiveRecord{
			ID:           o.ID,
			Kind:         string(o.Kind),
			Form:         string(o.Form),
			VenueOrderID: o.VenueOrderID,
			TriggerPrice: o.TriggerPrice,
			OrderPrice:   o.OrderPrice,
			Status:       string(o.Status),
			SupersededBy: o.SupersededBy,
			CreatedAt:    o.CreatedAt,
		})
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("audit: marshal archive for %s: %w", pos.ID, err)
	}

	path := fmt.Sprintf("audit/%s/%s.json", pos.Symbol, pos.ID)
	if err := a.blob.Put(ctx, path, data, "application/json"); err != nil {
		return fmt.Errorf("audit: upload %s: %w", path, err)
	}

	a.logger.Info("position archived",
		slog.String("position_id", pos.ID),
		slog.String("path", path))
	return nil
}

package domain

import (
	"context"
	"time"
)

// PositionStore persists positions. Store failures are logged by callers and
// never block the trading path; the venue remains the ground truth.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	UpdateStatus(ctx context.Context, id string, status PositionStatus) error
	Close(ctx context.Context, id string, exitPrice float64, closedAt time.Time) error
	GetOpen(ctx context.Context, symbol string) (Position, error)
}

// ProtectiveOrderStore persists the append-mostly protective order audit
// trail.
type ProtectiveOrderStore interface {
	Create(ctx context.Context, order ProtectiveOrder) error
	UpdateStatus(ctx context.Context, id string, status ProtectiveStatus) error
	MarkSuperseded(ctx context.Context, id, supersededBy string) error
	ListByPosition(ctx context.Context, positionID string) ([]ProtectiveOrder, error)
}

// PriceCache provides fast access to the latest trade price per symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// SignalBus carries trade decisions from the external strategy process.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RunLock guards a symbol so two engine instances never trade it at once.
type RunLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// BlobWriter uploads audit archives to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// Alerter raises operator alerts. Implementations are best-effort and must
// never block the trading path.
type Alerter interface {
	Alert(ctx context.Context, event, title, message string)
}

package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/quantfold/swapbot/internal/domain"
	"github.com/quantfold/swapbot/internal/engine"
)

// Signal actions accepted on the decision channel.
const (
	ActionOpen       = "open"
	ActionUpdateStop = "update_stop"
	ActionCancelAll  = "cancel_protection"
)

// signal is the wire form of one strategy instruction. Unused fields stay
// zero for actions that do not need them.
type signal struct {
	Action       string      `json:"action"`
	Symbol       string      `json:"symbol"`
	Side         domain.Side `json:"side"`
	Quantity     float64     `json:"quantity"`
	StopPrice    float64     `json:"stop_price"`
	TakeProfit   float64     `json:"take_profit"`
	NewStopPrice float64     `json:"new_stop_price"`
}

// DecisionFeed subscribes to the strategy's signal channel and drives the
// engine. The strategy process computes entries and stop moves; this worker
// only validates and dispatches them.
type DecisionFeed struct {
	bus     domain.SignalBus
	channel string
	eng     *engine.Engine
	logger  *slog.Logger

	// opTimeout bounds each dispatched engine call.
	opTimeout time.Duration
}

func NewDecisionFeed(bus domain.SignalBus, channel string, eng *engine.Engine, logger *slog.Logger) *DecisionFeed {
	return &DecisionFeed{
		bus:       bus,
		channel:   channel,
		eng:       eng,
		logger:    logger.With(slog.String("component", "decision_feed")),
		opTimeout: 30 * time.Second,
	}
}

// Run consumes signals until ctx is cancelled or the subscription closes.
// Malformed payloads are logged and skipped; engine errors never stop the
// feed.
func (f *DecisionFeed) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return err
	}
	f.logger.Info("decision feed subscribed", slog.String("channel", f.channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return errors.New("feed: signal subscription closed")
			}
			f.dispatch(ctx, payload)
		}
	}
}

func (f *DecisionFeed) dispatch(ctx context.Context, payload []byte) {
	var sig signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		f.logger.Warn("malformed signal dropped", slog.String("error", err.Error()))
		return
	}
	if sig.Symbol == "" {
		f.logger.Warn("signal without symbol dropped", slog.String("action", sig.Action))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, f.opTimeout)
	defer cancel()

	switch sig.Action {
	case ActionOpen:
		pos, err := f.eng.Open(opCtx, domain.TradeDecision{
			Symbol:     sig.Symbol,
			Side:       sig.Side,
			Quantity:   sig.Quantity,
			StopPrice:  sig.StopPrice,
			TakeProfit: sig.TakeProfit,
		})
		if err != nil {
			f.logger.Error("open failed",
				slog.String("symbol", sig.Symbol),
				slog.String("error", err.Error()))
			return
		}
		f.logger.Info("position opened",
			slog.String("symbol", pos.Symbol),
			slog.String("position_id", pos.ID),
			slog.String("side", string(pos.Side)))

	case ActionUpdateStop:
		if err := f.eng.UpdateStop(opCtx, sig.Symbol, sig.NewStopPrice); err != nil {
			f.logger.Error("stop update failed",
				slog.String("symbol", sig.Symbol),
				slog.Float64("new_stop", sig.NewStopPrice),
				slog.String("error", err.Error()))
		}

	case ActionCancelAll:
		f.eng.CancelAll(opCtx, sig.Symbol)

	default:
		f.logger.Warn("unknown signal action dropped",
			slog.String("action", sig.Action),
			slog.String("symbol", sig.Symbol))
	}
}

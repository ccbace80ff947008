package okx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quantfold/swapbot/internal/domain"
)

// Gateway implements domain.ExchangeGateway over the OKX v5 trade API.
type Gateway struct {
	c      *Client
	tdMode string
	logger *slog.Logger
}

// NewGateway wraps a Client. Orders are placed in cross-margin mode.
func NewGateway(c *Client, logger *slog.Logger) *Gateway {
	return &Gateway{
		c:      c,
		tdMode: "cross",
		logger: logger.With(slog.String("component", "okx_gateway")),
	}
}

var _ domain.ExchangeGateway = (*Gateway)(nil)

func (g *Gateway) PlaceLimit(ctx context.Context, o domain.LimitOrder) (string, error) {
	req := placeOrderReq{
		InstID:     o.Symbol,
		TdMode:     g.tdMode,
		Side:       string(o.Side),
		PosSide:    string(o.PosSide),
		OrdType:    "limit",
		Sz:         fnum(o.Qty),
		Px:         fnum(o.Price),
		ReduceOnly: o.ReduceOnly,
	}
	var data []placeOrderResp
	if err := g.c.do(ctx, http.MethodPost, "/api/v5/trade/order", req, &data); err != nil {
		return "", err
	}
	return orderResult(data)
}

func (g *Gateway) PlaceMarket(ctx context.Context, o domain.MarketOrder) (string, error) {
	req := placeOrderReq{
		InstID:     o.Symbol,
		TdMode:     g.tdMode,
		Side:       string(o.Side),
		PosSide:    string(o.PosSide),
		OrdType:    "market",
		Sz:         fnum(o.Qty),
		ReduceOnly: o.ReduceOnly,
	}
	var data []placeOrderResp
	if err := g.c.do(ctx, http.MethodPost, "/api/v5/trade/order", req, &data); err != nil {
		return "", err
	}
	return orderResult(data)
}

func (g *Gateway) PlaceConditional(ctx context.Context, o domain.ConditionalOrder) (string, error) {
	req := placeAlgoReq{
		InstID:     o.Symbol,
		TdMode:     g.tdMode,
		Side:       string(o.Side),
		PosSide:    string(o.PosSide),
		OrdType:    "conditional",
		Sz:         fnum(o.Qty),
		ReduceOnly: o.ReduceOnly,
	}
	// A non-positive order price asks the venue to execute at market once
	// the trigger fires.
	px := "-1"
	if o.OrderPrice > 0 {
		px = fnum(o.OrderPrice)
	}
	switch o.Kind {
	case domain.KindTakeProfit:
		req.TpTriggerPx = fnum(o.TriggerPrice)
		req.TpOrdPx = px
	default:
		req.SlTriggerPx = fnum(o.TriggerPrice)
		req.SlOrdPx = px
	}
	var data []placeAlgoResp
	if err := g.c.do(ctx, http.MethodPost, "/api/v5/trade/order-algo", req, &data); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("okx: empty algo placement response")
	}
	if data[0].SCode != "0" {
		return "", rejection(data[0].SCode, data[0].SMsg)
	}
	return data[0].AlgoID, nil
}

// Cancel tries the regular-order endpoint first, then falls back to the algo
// endpoint; the venue keeps the two order books separate and an ID is only
// valid on one of them. A ReasonOrderGone rejection from both paths means the
// order is gone for good and is reported as such.
func (g *Gateway) Cancel(ctx context.Context, symbol, orderID string) error {
	errOrd := g.cancelOrder(ctx, symbol, orderID)
	if errOrd == nil {
		return nil
	}
	if !domain.IsRejection(errOrd) || domain.RejectedWith(errOrd, domain.ReasonRateLimited) {
		return errOrd
	}
	errAlgo := g.cancelAlgo(ctx, symbol, orderID)
	if errAlgo == nil {
		return nil
	}
	if domain.RejectedWith(errOrd, domain.ReasonOrderGone) {
		return errOrd
	}
	return errAlgo
}

func (g *Gateway) cancelOrder(ctx context.Context, symbol, orderID string) error {
	req := cancelOrderReq{InstID: symbol, OrdID: orderID}
	var data []cancelOrderResp
	if err := g.c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", req, &data); err != nil {
		return err
	}
	if len(data) > 0 && data[0].SCode != "0" {
		return rejection(data[0].SCode, data[0].SMsg)
	}
	return nil
}

func (g *Gateway) cancelAlgo(ctx context.Context, symbol, algoID string) error {
	req := []cancelAlgoReq{{InstID: symbol, AlgoID: algoID}}
	var data []cancelAlgoResp
	if err := g.c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-algos", req, &data); err != nil {
		return err
	}
	if len(data) > 0 && data[0].SCode != "0" {
		return rejection(data[0].SCode, data[0].SMsg)
	}
	return nil
}

// orderStates maps regular-order venue states onto the canonical set.
var orderStates = map[string]domain.CanonicalStatus{
	"live":             domain.StatusOpen,
	"partially_filled": domain.StatusOpen,
	"filled":           domain.StatusFilled,
	"canceled":         domain.StatusCanceled,
	"mmp_canceled":     domain.StatusCanceled,
}

// algoStates maps algo-order venue states onto the canonical set. "effective"
// only appears once the trigger has fired and the released order executed.
var algoStates = map[string]domain.CanonicalStatus{
	"live":         domain.StatusOpen,
	"pause":        domain.StatusOpen,
	"effective":    domain.StatusTriggered,
	"triggered":    domain.StatusTriggered,
	"canceled":     domain.StatusCanceled,
	"order_failed": domain.StatusCanceled,
}

func (g *Gateway) OrderStatus(ctx context.Context, symbol, orderID string) (domain.CanonicalStatus, error) {
	path := "/api/v5/trade/order?instId=" + symbol + "&ordId=" + orderID
	var data []orderDetail
	if err := g.c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return domain.StatusUnknown, err
	}
	if len(data) == 0 {
		return domain.StatusUnknown, nil
	}
	if st, ok := orderStates[data[0].State]; ok {
		return st, nil
	}
	g.logger.Warn("unmapped order state", slog.String("symbol", symbol), slog.String("state", data[0].State))
	return domain.StatusUnknown, nil
}

// AlgoOrderStatus checks the pending book first and falls back to history:
// the venue moves triggered and canceled algos out of the pending query.
func (g *Gateway) AlgoOrderStatus(ctx context.Context, symbol, algoID string) (domain.CanonicalStatus, error) {
	for _, endpoint := range []string{
		"/api/v5/trade/orders-algo-pending",
		"/api/v5/trade/orders-algo-history",
	} {
		path := endpoint + "?ordType=conditional&instId=" + symbol + "&algoId=" + algoID
		var data []algoDetail
		if err := g.c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
			return domain.StatusUnknown, err
		}
		if len(data) == 0 {
			continue
		}
		if st, ok := algoStates[data[0].State]; ok {
			return st, nil
		}
		g.logger.Warn("unmapped algo state", slog.String("symbol", symbol), slog.String("state", data[0].State))
		return domain.StatusUnknown, nil
	}
	return domain.StatusUnknown, nil
}

// SetLeverage configures account leverage for the symbol in the gateway's
// margin mode. Called once per symbol before trading starts.
func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	req := setLeverageReq{
		InstID:  symbol,
		Lever:   strconv.Itoa(leverage),
		MgnMode: g.tdMode,
	}
	var data []setLeverageResp
	if err := g.c.do(ctx, http.MethodPost, "/api/v5/account/set-leverage", req, &data); err != nil {
		return fmt.Errorf("okx: set leverage %s x%d: %w", symbol, leverage, err)
	}
	g.logger.Info("leverage set",
		slog.String("symbol", symbol),
		slog.Int("leverage", leverage),
	)
	return nil
}

func (g *Gateway) LastTradePrice(ctx context.Context, symbol string) (float64, error) {
	var data []tickerData
	if err := g.c.do(ctx, http.MethodGet, "/api/v5/market/ticker?instId="+symbol, nil, &data); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("okx: no ticker for %s", symbol)
	}
	px, err := strconv.ParseFloat(data[0].Last, 64)
	if err != nil {
		return 0, fmt.Errorf("okx: parse last price %q: %w", data[0].Last, err)
	}
	return px, nil
}

func orderResult(data []placeOrderResp) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("okx: empty placement response")
	}
	if data[0].SCode != "0" {
		return "", rejection(data[0].SCode, data[0].SMsg)
	}
	return data[0].OrdID, nil
}

// fnum formats a price or size without exponent or trailing zeros.
func fnum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

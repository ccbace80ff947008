package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/swapbot/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsReadWait   = 30 * time.Second
	wsPingPeriod = 20 * time.Second
)

// BookHandler is called for each books5 snapshot push.
type BookHandler func(domain.BookSnapshot)

// KlineHandler is called for each candle push, confirmed or not.
type KlineHandler func(domain.Kline)

// TradeHandler is called for each public trade.
type TradeHandler func(symbol string, price float64, ts time.Time)

// WSClient is a single-connection client for the OKX public WebSocket. It
// dials once and reads until the connection drops; supervision and
// reconnection belong to the caller.
type WSClient struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn

	onBook  BookHandler
	onKline KlineHandler
	onTrade TradeHandler
}

// NewWSClient creates a client for the given public endpoint.
func NewWSClient(url string) *WSClient {
	if url == "" {
		url = defaultWSHost
	}
	return &WSClient{url: url}
}

func (w *WSClient) OnBook(h BookHandler)   { w.onBook = h }
func (w *WSClient) OnKline(h KlineHandler) { w.onKline = h }
func (w *WSClient) OnTrade(h TradeHandler) { w.onTrade = h }

// wsSub is the subscribe frame; args name channel/instrument pairs.
type wsSub struct {
	Op   string     `json:"op"`
	Args []wsSubArg `json:"args"`
}

type wsSubArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// wsPush is the envelope of every data push and event frame.
type wsPush struct {
	Event string          `json:"event,omitempty"`
	Code  string          `json:"code,omitempty"`
	Msg   string          `json:"msg,omitempty"`
	Arg   wsSubArg        `json:"arg"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Run dials, subscribes to the given channels for each symbol, and reads
// until the connection fails or ctx is cancelled. It always returns a non-nil
// error; the caller decides whether and when to redial.
func (w *WSClient) Run(ctx context.Context, symbols, channels []string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("okx/ws: dial %s: %w", w.url, err)
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer conn.Close()

	sub := wsSub{Op: "subscribe"}
	for _, s := range symbols {
		for _, ch := range channels {
			sub.Args = append(sub.Args, wsSubArg{Channel: ch, InstID: s})
		}
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("okx/ws: subscribe: %w", err)
	}

	// The venue closes idle connections after 30s; a text "ping" keeps the
	// session alive and the "pong" reply refreshes the read deadline.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go w.pingLoop(conn, pingDone)

	// Unblock ReadMessage when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("okx/ws: read: %w", err)
		}
		if string(raw) == "pong" {
			continue
		}
		if err := w.dispatch(raw); err != nil {
			return err
		}
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func (w *WSClient) dispatch(raw []byte) error {
	var push wsPush
	if err := json.Unmarshal(raw, &push); err != nil {
		return nil // drop unparseable frames
	}
	if push.Event == "error" {
		return fmt.Errorf("okx/ws: venue error %s: %s", push.Code, push.Msg)
	}
	if push.Event != "" || len(push.Data) == 0 {
		return nil // subscribe acks and other events
	}

	switch {
	case push.Arg.Channel == "books5":
		w.handleBook(push.Arg.InstID, push.Data)
	case push.Arg.Channel == "trades":
		w.handleTrades(push.Arg.InstID, push.Data)
	case len(push.Arg.Channel) > 6 && push.Arg.Channel[:6] == "candle":
		w.handleKline(push.Arg.InstID, push.Data)
	}
	return nil
}

// wsBook carries one books5 snapshot: levels are [price, size, _, orders].
type wsBook struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	TS   string     `json:"ts"`
}

func (w *WSClient) handleBook(symbol string, data json.RawMessage) {
	if w.onBook == nil {
		return
	}
	var books []wsBook
	if err := json.Unmarshal(data, &books); err != nil {
		return
	}
	for _, b := range books {
		snap := domain.BookSnapshot{
			Symbol:    symbol,
			Bids:      parseLevels(b.Bids),
			Asks:      parseLevels(b.Asks),
			UpdatedAt: parseMillis(b.TS),
		}
		w.onBook(snap)
	}
}

func (w *WSClient) handleKline(symbol string, data json.RawMessage) {
	if w.onKline == nil {
		return
	}
	// Candle rows: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return
	}
	for _, row := range rows {
		if len(row) < 9 {
			continue
		}
		k := domain.Kline{
			Symbol:    symbol,
			Timestamp: parseMillis(row[0]),
			Open:      pf(row[1]),
			High:      pf(row[2]),
			Low:       pf(row[3]),
			Close:     pf(row[4]),
			Volume:    pf(row[5]),
			Confirmed: row[8] == "1",
		}
		w.onKline(k)
	}
}

type wsTrade struct {
	Px string `json:"px"`
	TS string `json:"ts"`
}

func (w *WSClient) handleTrades(symbol string, data json.RawMessage) {
	if w.onTrade == nil {
		return
	}
	var trades []wsTrade
	if err := json.Unmarshal(data, &trades); err != nil {
		return
	}
	for _, t := range trades {
		w.onTrade(symbol, pf(t.Px), parseMillis(t.TS))
	}
}

func parseLevels(rows [][]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: pf(r[0]), Size: pf(r[1])})
	}
	return out
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func pf(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

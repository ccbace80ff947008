package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/quantfold/swapbot/internal/domain"
)

// stubVenue records every request and answers from a per-path script.
type stubVenue struct {
	mu        sync.Mutex
	requests  []stubRequest
	responses map[string]string // URL path -> raw envelope body
}

type stubRequest struct {
	method  string
	path    string
	query   string
	body    []byte
	headers http.Header
}

func (s *stubVenue) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, stubRequest{
			method:  r.Method,
			path:    r.URL.Path,
			query:   r.URL.RawQuery,
			body:    body,
			headers: r.Header.Clone(),
		})
		resp, ok := s.responses[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			resp = `{"code":"0","msg":"","data":[]}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}
}

func (s *stubVenue) last() stubRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func (s *stubVenue) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	for i, r := range s.requests {
		out[i] = r.path
	}
	return out
}

func newTestGateway(t *testing.T, venue *stubVenue) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(venue.handler())
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{
		RESTHost:   srv.URL,
		APIKey:     "key",
		APISecret:  "secret",
		Passphrase: "phrase",
		Simulated:  true,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGateway(c, logger), srv
}

func TestRequestSigning(t *testing.T) {
	venue := &stubVenue{responses: map[string]string{
		"/api/v5/market/ticker": `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","last":"65000.5"}]}`,
	}}
	gw, _ := newTestGateway(t, venue)

	px, err := gw.LastTradePrice(context.Background(), "BTC-USDT-SWAP")
	if err != nil {
		t.Fatalf("LastTradePrice: %v", err)
	}
	if px != 65000.5 {
		t.Errorf("expected 65000.5, got %g", px)
	}

	req := venue.last()
	if req.headers.Get("OK-ACCESS-KEY") != "key" {
		t.Error("missing OK-ACCESS-KEY")
	}
	if req.headers.Get("OK-ACCESS-PASSPHRASE") != "phrase" {
		t.Error("missing OK-ACCESS-PASSPHRASE")
	}
	if req.headers.Get("x-simulated-trading") != "1" {
		t.Error("simulated flag must set the demo trading header")
	}

	ts := req.headers.Get("OK-ACCESS-TIMESTAMP")
	if _, err := time.Parse("2006-01-02T15:04:05.000Z", ts); err != nil {
		t.Fatalf("timestamp not ISO8601 with millis: %q", ts)
	}

	// Recompute the signature over timestamp + method + path(+query) + body.
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(ts + http.MethodGet + req.path + "?" + req.query))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if got := req.headers.Get("OK-ACCESS-SIGN"); got != want {
		t.Errorf("bad signature: got %s want %s", got, want)
	}
}

func TestPlaceLimitSuccess(t *testing.T) {
	venue := &stubVenue{responses: map[string]string{
		"/api/v5/trade/order": `{"code":"0","msg":"","data":[{"ordId":"112233","sCode":"0","sMsg":""}]}`,
	}}
	gw, _ := newTestGateway(t, venue)

	id, err := gw.PlaceLimit(context.Background(), domain.LimitOrder{
		Symbol: "BTC-USDT-SWAP", Side: domain.OrderSell, Qty: 1.5,
		Price: 64000, ReduceOnly: true, PosSide: domain.SideLong,
	})
	if err != nil {
		t.Fatalf("PlaceLimit: %v", err)
	}
	if id != "112233" {
		t.Errorf("expected order id 112233, got %s", id)
	}

	var body map[string]any
	if err := json.Unmarshal(venue.last().body, &body); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if body["ordType"] != "limit" || body["tdMode"] != "cross" {
		t.Errorf("unexpected order body: %v", body)
	}
	if body["px"] != "64000" || body["sz"] != "1.5" {
		t.Errorf("numeric fields must be plain strings: %v", body)
	}
	if body["posSide"] != "long" || body["reduceOnly"] != true {
		t.Errorf("unexpected order body: %v", body)
	}
}

func TestSetLeverage(t *testing.T) {
	venue := &stubVenue{responses: map[string]string{
		"/api/v5/account/set-leverage": `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","lever":"5"}]}`,
	}}
	gw, _ := newTestGateway(t, venue)

	if err := gw.SetLeverage(context.Background(), "BTC-USDT-SWAP", 5); err != nil {
		t.Fatalf("SetLeverage: %v", err)
	}

	req := venue.last()
	if req.method != http.MethodPost || req.path != "/api/v5/account/set-leverage" {
		t.Fatalf("unexpected request %s %s", req.method, req.path)
	}
	var body map[string]any
	if err := json.Unmarshal(req.body, &body); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if body["instId"] != "BTC-USDT-SWAP" || body["lever"] != "5" || body["mgnMode"] != "cross" {
		t.Errorf("unexpected leverage body: %v", body)
	}
}

func TestPlaceRejectionUsesItemCode(t *testing.T) {
	// Failed placements come back with envelope code "1" and the business
	// code in the item's sCode.
	venue := &stubVenue{responses: map[string]string{
		"/api/v5/trade/order": `{"code":"1","msg":"Operation failed.","data":[{"ordId":"","sCode":"51000","sMsg":"Parameter posSide error"}]}`,
	}}
	gw, _ := newTestGateway(t, venue)

	_, err := gw.PlaceMarket(context.Background(), domain.MarketOrder{
		Symbol: "BTC-USDT-SWAP", Side: domain.OrderBuy, Qty: 1, PosSide: domain.SideLong,
	})
	if !domain.RejectedWith(err, domain.ReasonPosSideUnsupported) {
		t.Fatalf("expected ReasonPosSideUnsupported, got %v", err)
	}
}

func TestPlaceConditionalStopFields(t *testing.T) {
	venue := &stubVenue{responses: map[string]string{
		"/api/v5/trade/order-algo": `{"code":"0","msg":"","data":[{"algoId":"a1","sCode":"0","sMsg":""}]}`,
	}}
	gw, _ := newTestGateway(t, venue)

	id, err := gw.PlaceConditional(context.Background(), domain.ConditionalOrder{
		Symbol: "BTC-USDT-SWAP", Side: domain.OrderSell, Qty: 1,
		TriggerPrice: 63000, OrderPrice: 62900,
		Kind: domain.KindStopLoss, ReduceOnly: true,
	})
	if err != nil {
		t.Fatalf("PlaceConditional: %v", err)
	}
	if id != "a1" {
		t.Errorf("expected algo id a1, got %s", id)
	}

	var body map[string]any
	_ = json.Unmarshal(venue.last().body, &body)
	if body["ordType"] != "conditional" {
		t.Errorf("expected conditional ordType, got %v", body["ordType"])
	}
	if body["slTriggerPx"] != "63000" || body["slOrdPx"] != "62900" {
		t.Errorf("stop fields wrong: %v", body)
	}
	if _, ok := body["tpTriggerPx"]; ok {
		t.Error("stop-loss order must not carry take-profit fields")
	}
}

func TestPlaceConditionalMarketExecution(t *testing.T) {
	venue := &stubVenue{responses: map[string]string{
		"/api/v5/trade/order-algo": `{"code":"0","msg":"","data":[{"algoId":"a2","sCode":"0","sMsg":""}]}`,
	}}
	gw, _ := newTestGateway(t, venue)

	_, err := gw.PlaceConditional(context.Background(), domain.ConditionalOrder{
		Symbol: "BTC-USDT-SWAP", Side: domain.OrderBuy, Qty: 2,
		TriggerPrice: 70000, OrderPrice: 0,
		Kind: domain.KindTakeProfit,
	})
	if err != nil {
		t.Fatalf("PlaceConditional: %v", err)
	}

	var body map[string]any
	_ = json.Unmarshal(venue.last().body, &body)
	if body["tpTriggerPx"] != "70000" {
		t.Errorf("take-profit trigger wrong: %v", body)
	}
	if body["tpOrdPx"] != "-1" {
		t.Errorf("zero order price must request market execution (-1), got %v", body["tpOrdPx"])
	}
}

func TestCancelFallsBackToAlgoEndpoint(t *testing.T) {
	venue := &stubVenue{responses: map[string]string{
		"/api/v5/trade/cancel-order": `{"code":"1","msg":"","data":[{"ordId":"a1","sCode":"51400","sMsg":"Cancellation failed as the order does not exist"}]}`,
		"/api/v5/trade/cancel-algos": `{"code":"0","msg":"","data":[{"algoId":"a1","sCode":"0","sMsg":""}]}`,
	}}
	gw, _ := newTestGateway(t, venue)

	if err := gw.Cancel(context.Background(), "BTC-USDT-SWAP", "a1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	paths := venue.paths()
	if len(paths) != 2 || paths[0] != "/api/v5/trade/cancel-order" || paths[1] != "/api/v5/trade/cancel-algos" {
		t.Fatalf("expected regular-then-algo cancel, got %v", paths)
	}
}

func TestCancelGoneOnBothPaths(t *testing.T) {
	venue := &stubVenue{responses: map[string]string{
		"/api/v5/trade/cancel-order": `{"code":"1","msg":"","data":[{"ordId":"x","sCode":"51400","sMsg":"does not exist"}]}`,
		"/api/v5/trade/cancel-algos": `{"code":"1","msg":"","data":[{"algoId":"x","sCode":"51400","sMsg":"does not exist"}]}`,
	}}
	gw, _ := newTestGateway(t, venue)

	err := gw.Cancel(context.Background(), "BTC-USDT-SWAP", "x")
	if !domain.RejectedWith(err, domain.ReasonOrderGone) {
		t.Fatalf("expected ReasonOrderGone, got %v", err)
	}
}

func TestOrderStatusMapping(t *testing.T) {
	cases := []struct {
		state string
		want  domain.CanonicalStatus
	}{
		{"live", domain.StatusOpen},
		{"partially_filled", domain.StatusOpen},
		{"filled", domain.StatusFilled},
		{"canceled", domain.StatusCanceled},
		{"mmp_canceled", domain.StatusCanceled},
		{"some_future_state", domain.StatusUnknown},
	}
	for _, tc := range cases {
		venue := &stubVenue{responses: map[string]string{
			"/api/v5/trade/order": `{"code":"0","msg":"","data":[{"ordId":"1","state":"` + tc.state + `"}]}`,
		}}
		gw, _ := newTestGateway(t, venue)
		got, err := gw.OrderStatus(context.Background(), "BTC-USDT-SWAP", "1")
		if err != nil {
			t.Fatalf("state %s: %v", tc.state, err)
		}
		if got != tc.want {
			t.Errorf("state %s: expected %s, got %s", tc.state, tc.want, got)
		}
	}
}

func TestAlgoStatusFallsBackToHistory(t *testing.T) {
	venue := &stubVenue{responses: map[string]string{
		"/api/v5/trade/orders-algo-pending": `{"code":"0","msg":"","data":[]}`,
		"/api/v5/trade/orders-algo-history": `{"code":"0","msg":"","data":[{"algoId":"a1","state":"effective"}]}`,
	}}
	gw, _ := newTestGateway(t, venue)

	got, err := gw.AlgoOrderStatus(context.Background(), "BTC-USDT-SWAP", "a1")
	if err != nil {
		t.Fatalf("AlgoOrderStatus: %v", err)
	}
	if got != domain.StatusTriggered {
		t.Errorf("expected triggered, got %s", got)
	}
	paths := venue.paths()
	if len(paths) != 2 {
		t.Fatalf("expected pending-then-history lookup, got %v", paths)
	}
}

func TestAlgoStatusMissingEverywhere(t *testing.T) {
	venue := &stubVenue{}
	gw, _ := newTestGateway(t, venue)

	got, err := gw.AlgoOrderStatus(context.Background(), "BTC-USDT-SWAP", "nope")
	if err != nil {
		t.Fatalf("AlgoOrderStatus: %v", err)
	}
	if got != domain.StatusUnknown {
		t.Errorf("an order found nowhere is unknown, got %s", got)
	}
}

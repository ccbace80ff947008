// Package okx implements domain.ExchangeGateway against the OKX v5 REST and
// public WebSocket APIs.
package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultRESTHost = "https://www.okx.com"
	defaultWSHost   = "wss://ws.okx.com:8443/ws/v5/public"
)

// ClientConfig holds OKX API endpoints and credentials.
type ClientConfig struct {
	RESTHost   string
	WSHost     string
	APIKey     string
	APISecret  string
	Passphrase string
	// Simulated routes requests to the demo trading environment.
	Simulated bool
	// Timeout bounds each REST request in addition to the caller's context.
	Timeout time.Duration
}

// Client is a signed OKX v5 REST client. It is constructed once per process
// with injected credentials; no global state.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	now  func() time.Time
}

// NewClient creates a Client with defaults applied.
func NewClient(cfg ClientConfig) *Client {
	if cfg.RESTHost == "" {
		cfg.RESTHost = defaultRESTHost
	}
	if cfg.WSHost == "" {
		cfg.WSHost = defaultWSHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// envelope is the standard OKX v5 response wrapper.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do signs and executes one REST request, unwraps the envelope, and decodes
// data into out when non-nil. A non-zero envelope code is returned as a
// structured *domain.VenueRejection built from the code table.
func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("okx: marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.RESTHost+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("okx: create request: %w", err)
	}

	ts := c.now().UTC().Format("2006-01-02T15:04:05.000Z")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, path, body))
	if c.cfg.Simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("okx: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("okx: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("okx: decode response (%d): %w", resp.StatusCode, err)
	}
	if env.Code != "0" {
		// Failed writes return envelope code "1"; the business code that
		// names the actual failure sits in the per-item sCode.
		if code, msg, ok := itemCode(env.Data); ok {
			return rejection(code, msg)
		}
		return rejection(env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("okx: decode data: %w", err)
		}
	}
	return nil
}

// itemCode extracts the first non-zero per-item business code from a failed
// response's data array.
func itemCode(data json.RawMessage) (code, msg string, ok bool) {
	var items []struct {
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return "", "", false
	}
	for _, it := range items {
		if it.SCode != "" && it.SCode != "0" {
			return it.SCode, it.SMsg, true
		}
	}
	return "", "", false
}

// sign computes the OK-ACCESS-SIGN header: Base64(HMAC-SHA256(secret,
// timestamp + method + path + body)).
func (c *Client) sign(ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(ts))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

package notify

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
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DingTalkSender delivers notifications via a DingTalk group robot webhook.
// When a signing secret is configured, each request URL carries a timestamp
// and an HMAC-SHA256 signature as required by the robot security settings.
type DingTalkSender struct {
	webhookURL string
	secret     string
	client     *http.Client
	now        func() time.Time
}

// NewDingTalkSender creates a DingTalkSender for the given webhook URL and
// optional signing secret. It uses a default HTTP client with a 10-second
// timeout.
func NewDingTalkSender(webhookURL, secret string) *DingTalkSender {
	return &DingTalkSender{
		webhookURL: webhookURL,
		secret:     secret,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Send posts a markdown message to the DingTalk robot. The robot replies with
// HTTP 200 even for rejected messages, so the JSON errcode is checked too.
func (d *DingTalkSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": title,
			"text":  fmt.Sprintf("### %s\n\n%s", title, message),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dingtalk: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.signedURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dingtalk: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dingtalk: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("dingtalk: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1024)).Decode(&result); err != nil {
		return nil // non-JSON body with 2xx status, accept
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("dingtalk: robot error %d: %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// signedURL appends timestamp and sign query parameters when a secret is
// configured: sign = Base64(HMAC-SHA256(secret, "{timestamp}\n{secret}")).
func (d *DingTalkSender) signedURL() string {
	if d.secret == "" {
		return d.webhookURL
	}

	ts := strconv.FormatInt(d.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(d.secret))
	mac.Write([]byte(ts + "\n" + d.secret))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	sep := "?"
	if strings.Contains(d.webhookURL, "?") {
		sep = "&"
	}
	return d.webhookURL + sep + "timestamp=" + ts + "&sign=" + url.QueryEscape(sign)
}

// Name returns the sender identifier.
func (d *DingTalkSender) Name() string {
	return "dingtalk"
}

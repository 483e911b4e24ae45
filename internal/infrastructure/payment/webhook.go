package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type webhookRequest struct {
	OrderID  int64 `json:"orderId"`
	Approved bool  `json:"approved"`
}

// WebhookClient posts bank decisions to the platform's payment webhook.
type WebhookClient struct {
	baseURL string
	client  *http.Client
}

func NewWebhookClient(baseURL string, client *http.Client) *WebhookClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (c *WebhookClient) PostDecision(ctx context.Context, orderID int64, approved bool) error {
	body, err := json.Marshal(webhookRequest{OrderID: orderID, Approved: approved})
	if err != nil {
		return err
	}
	status, err := post(ctx, c.client, c.baseURL+"/payments/webhook", idempotencyKey("decision", orderID), body)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusConflict:
		return ErrAlreadyDecided
	case status < 200 || status >= 300:
		return fmt.Errorf("webhook for order %d: unexpected status %d", orderID, status)
	}
	return nil
}

// HTTPGatewayNotifier tells a remote bank that an order expired locally.
type HTTPGatewayNotifier struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGatewayNotifier(baseURL string, client *http.Client) *HTTPGatewayNotifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPGatewayNotifier{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (n *HTTPGatewayNotifier) NotifyRejected(ctx context.Context, orderID int64) error {
	status, err := post(ctx, n.client, fmt.Sprintf("%s/bank/orders/%d/expired", n.baseURL, orderID), idempotencyKey("expired", orderID), nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("gateway expiry for order %d: unexpected status %d", orderID, status)
	}
	return nil
}

// idempotencyKey is stable per order and action, so a retried call carries
// the same key as the first attempt.
func idempotencyKey(action string, orderID int64) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("checkout:%s:%d", action, orderID))).String()
}

func post(ctx context.Context, client *http.Client, url, key string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", key)

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSNotifier posts notifications to an HTTP SMS gateway as
// {"to": "...", "body": "..."} with a bearer API key
type SMSNotifier struct {
	gatewayURL string
	apiKey     string
	client     *http.Client
}

// NewSMSNotifier creates a gateway notifier. client may be nil.
func NewSMSNotifier(gatewayURL, apiKey string, client *http.Client) (*SMSNotifier, error) {
	if gatewayURL == "" {
		return nil, errors.New("sms gateway URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMSNotifier{gatewayURL: gatewayURL, apiKey: apiKey, client: client}, nil
}

type smsRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// NotifyAssignment sends the rendered subject and body as one text message
func (n *SMSNotifier) NotifyAssignment(ctx context.Context, msg Message) error {
	if msg.To.Phone == "" {
		return fmt.Errorf("user %d: %w", msg.To.UserID, ErrNoChannel)
	}

	subject, body := Render(msg)
	payload, err := json.Marshal(smsRequest{To: msg.To.Phone, Body: subject + "\n" + body})
	if err != nil {
		return fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "grants-notifier/1.0")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// Channel returns "sms"
func (n *SMSNotifier) Channel() string { return "sms" }

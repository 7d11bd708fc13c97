package client

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// NotifyClient talks to the platform mailer service. Delivery outcomes are
// booleans: the orchestrator only persists sent-flags on confirmed success
// and otherwise retries on the next qualifying event.
type NotifyClient struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
}

// NewNotifyClient creates a mailer service client.
func NewNotifyClient(baseURL, internalKey string) *NotifyClient {
	return &NotifyClient{
		baseURL:     baseURL,
		internalKey: internalKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WelcomeMessage carries the welcome email's login details.
type WelcomeMessage struct {
	Email         string `json:"email"`
	SiteName      string `json:"site_name"`
	SiteURL       string `json:"site_url"`
	AdminURL      string `json:"admin_url"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
}

// StoppedMessage notifies a customer their instance was paused.
type StoppedMessage struct {
	Email    string `json:"email"`
	SiteName string `json:"site_name"`
	SiteURL  string `json:"site_url"`
	Reason   string `json:"reason"`
}

// SendWelcome delivers the welcome email. Returns true only on confirmed
// delivery.
func (c *NotifyClient) SendWelcome(ctx context.Context, msg *WelcomeMessage) bool {
	return c.post(ctx, "/api/internal/notify/welcome", msg)
}

// SendStopped delivers an instance-stopped notice. Returns true only on
// confirmed delivery.
func (c *NotifyClient) SendStopped(ctx context.Context, msg *StoppedMessage) bool {
	return c.post(ctx, "/api/internal/notify/stopped", msg)
}

func (c *NotifyClient) post(ctx context.Context, path string, payload interface{}) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[notify] marshal %s payload: %v", path, err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		log.Printf("[notify] create request: %v", err)
		return false
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", c.internalKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[notify] send %s: %v", path, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[notify] mailer returned status %d for %s", resp.StatusCode, path)
		return false
	}

	return true
}

package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrNoSubscription is returned when the provider holds no subscription for
// a customer.
var ErrNoSubscription = errors.New("no subscription at billing provider")

// Client queries the billing provider's REST API directly. The reconciler
// uses it as a last-resort recovery path when the local ledger is missing
// rows that the provider knows about.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient creates a billing API client.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// LatestSubscription fetches the customer's most recent subscription from
// the provider. Returns ErrNoSubscription when the customer has none.
func (c *Client) LatestSubscription(ctx context.Context, billingCustomerID string) (*SubscriptionObject, error) {
	query := url.Values{}
	query.Set("customer", billingCustomerID)
	query.Set("limit", "1")

	var result struct {
		Data []SubscriptionObject `json:"data"`
	}
	if err := c.get(ctx, "/v1/subscriptions", query, &result); err != nil {
		return nil, err
	}

	if len(result.Data) == 0 {
		return nil, ErrNoSubscription
	}
	return &result.Data[0], nil
}

// HasPaidInvoice reports whether the customer has at least one paid invoice.
// The reconciler uses it as an independent payment confirmation when no
// invoice event has arrived yet.
func (c *Client) HasPaidInvoice(ctx context.Context, billingCustomerID string) (bool, error) {
	query := url.Values{}
	query.Set("customer", billingCustomerID)
	query.Set("status", "paid")
	query.Set("limit", "1")

	var result struct {
		Data []InvoiceObject `json:"data"`
	}
	if err := c.get(ctx, "/v1/invoices", query, &result); err != nil {
		return false, err
	}

	return len(result.Data) > 0, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("billing provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

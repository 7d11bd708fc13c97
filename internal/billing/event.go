package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopkite/platform/provisioner/internal/models"
)

// EventKind is the closed set of billing events the reconciler understands.
// Anything else maps to KindUnrecognized and is acknowledged without action.
type EventKind int

const (
	KindUnrecognized EventKind = iota
	KindCheckoutCompleted
	KindSubscriptionCreated
	KindSubscriptionUpdated
	KindSubscriptionDeleted
	KindInvoicePaymentFailed
	KindInvoicePaid
)

var kindByType = map[string]EventKind{
	"checkout.session.completed":    KindCheckoutCompleted,
	"customer.subscription.created": KindSubscriptionCreated,
	"customer.subscription.updated": KindSubscriptionUpdated,
	"customer.subscription.deleted": KindSubscriptionDeleted,
	"invoice.payment_failed":        KindInvoicePaymentFailed,
	"invoice.paid":                  KindInvoicePaid,
}

// KindOf maps a provider event type string to its kind.
func KindOf(eventType string) EventKind {
	return kindByType[eventType]
}

// Event is one delivered webhook event.
type Event struct {
	ID     string
	Type   string
	Kind   EventKind
	Object json.RawMessage
}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes the provider's event envelope {id, type, data:{object}}.
func ParseEvent(payload []byte) (*Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("event envelope missing id or type")
	}

	return &Event{
		ID:     env.ID,
		Type:   env.Type,
		Kind:   KindOf(env.Type),
		Object: env.Data.Object,
	}, nil
}

// CheckoutSession is the object carried by checkout.session.completed.
type CheckoutSession struct {
	ID            string            `json:"id"`
	Customer      string            `json:"customer"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

// SubscriptionObject is the object carried by customer.subscription.* events
// and returned by the subscription list API.
type SubscriptionObject struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the first line item's price id, if any.
func (s *SubscriptionObject) PriceID() string {
	if len(s.Items.Data) > 0 {
		return s.Items.Data[0].Price.ID
	}
	return ""
}

// PeriodStart returns the current period start as a time, or nil when unset.
func (s *SubscriptionObject) PeriodStart() *time.Time {
	return unixPtr(s.CurrentPeriodStart)
}

// PeriodEnd returns the current period end as a time, or nil when unset.
func (s *SubscriptionObject) PeriodEnd() *time.Time {
	return unixPtr(s.CurrentPeriodEnd)
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// InvoiceObject is the object carried by invoice.* events.
type InvoiceObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

// DecodeCheckoutSession decodes the event object as a checkout session.
func (e *Event) DecodeCheckoutSession() (*CheckoutSession, error) {
	var s CheckoutSession
	if err := json.Unmarshal(e.Object, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	return &s, nil
}

// DecodeSubscription decodes the event object as a subscription.
func (e *Event) DecodeSubscription() (*SubscriptionObject, error) {
	var s SubscriptionObject
	if err := json.Unmarshal(e.Object, &s); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	return &s, nil
}

// DecodeInvoice decodes the event object as an invoice.
func (e *Event) DecodeInvoice() (*InvoiceObject, error) {
	var inv InvoiceObject
	if err := json.Unmarshal(e.Object, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	return &inv, nil
}

// statusMap translates provider subscription statuses to ledger statuses.
// incomplete counts as active until the provider says otherwise.
var statusMap = map[string]string{
	"active":             models.SubStatusActive,
	"past_due":           models.SubStatusPastDue,
	"canceled":           models.SubStatusCancelled,
	"unpaid":             models.SubStatusUnpaid,
	"trialing":           models.SubStatusTrialing,
	"incomplete":         models.SubStatusActive,
	"incomplete_expired": models.SubStatusCancelled,
}

// MapStatus translates a provider subscription status to a ledger status.
// Unknown statuses pass through unchanged.
func MapStatus(providerStatus string) string {
	if mapped, ok := statusMap[providerStatus]; ok {
		return mapped
	}
	return providerStatus
}

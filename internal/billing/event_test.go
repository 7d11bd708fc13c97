package billing

import (
	"testing"

	"github.com/shopkite/platform/provisioner/internal/models"
)

func TestParseEvent(t *testing.T) {
	payload := []byte(`{
		"id": "evt_123",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "customer": "cus_1", "customer_email": "jane@example.com",
			"metadata": {"subdomain": "janes-shop", "site_name": "Jane's Shop"}}}
	}`)

	event, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if event.ID != "evt_123" {
		t.Errorf("ID = %q", event.ID)
	}
	if event.Kind != KindCheckoutCompleted {
		t.Errorf("Kind = %v", event.Kind)
	}

	session, err := event.DecodeCheckoutSession()
	if err != nil {
		t.Fatalf("DecodeCheckoutSession: %v", err)
	}
	if session.Customer != "cus_1" {
		t.Errorf("Customer = %q", session.Customer)
	}
	if session.Metadata["subdomain"] != "janes-shop" {
		t.Errorf("subdomain = %q", session.Metadata["subdomain"])
	}
}

func TestParseEventRejectsMalformed(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":     `{not json`,
		"missing id":   `{"type":"invoice.paid","data":{"object":{}}}`,
		"missing type": `{"id":"evt_1","data":{"object":{}}}`,
	} {
		if _, err := ParseEvent([]byte(payload)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := map[string]EventKind{
		"checkout.session.completed":    KindCheckoutCompleted,
		"customer.subscription.created": KindSubscriptionCreated,
		"customer.subscription.updated": KindSubscriptionUpdated,
		"customer.subscription.deleted": KindSubscriptionDeleted,
		"invoice.payment_failed":        KindInvoicePaymentFailed,
		"invoice.paid":                  KindInvoicePaid,
		"charge.refunded":               KindUnrecognized,
		"":                              KindUnrecognized,
	}
	for eventType, want := range tests {
		if got := KindOf(eventType); got != want {
			t.Errorf("KindOf(%q) = %v, want %v", eventType, got, want)
		}
	}
}

func TestDecodeSubscription(t *testing.T) {
	event := &Event{Object: []byte(`{
		"id": "sub_1", "customer": "cus_1", "status": "active",
		"current_period_start": 1700000000, "current_period_end": 1702592000,
		"items": {"data": [{"price": {"id": "price_basic"}}]}
	}`)}

	sub, err := event.DecodeSubscription()
	if err != nil {
		t.Fatalf("DecodeSubscription: %v", err)
	}
	if sub.PriceID() != "price_basic" {
		t.Errorf("PriceID = %q", sub.PriceID())
	}
	if sub.PeriodStart() == nil || sub.PeriodStart().Unix() != 1700000000 {
		t.Errorf("PeriodStart = %v", sub.PeriodStart())
	}

	empty := &Event{Object: []byte(`{"id":"sub_2"}`)}
	sub2, err := empty.DecodeSubscription()
	if err != nil {
		t.Fatalf("DecodeSubscription: %v", err)
	}
	if sub2.PriceID() != "" {
		t.Errorf("PriceID = %q, want empty", sub2.PriceID())
	}
	if sub2.PeriodStart() != nil {
		t.Errorf("PeriodStart = %v, want nil", sub2.PeriodStart())
	}
}

func TestMapStatus(t *testing.T) {
	tests := map[string]string{
		"active":             models.SubStatusActive,
		"trialing":           models.SubStatusTrialing,
		"past_due":           models.SubStatusPastDue,
		"canceled":           models.SubStatusCancelled,
		"unpaid":             models.SubStatusUnpaid,
		"incomplete":         models.SubStatusActive,
		"incomplete_expired": models.SubStatusCancelled,
		"paused":             "paused",
	}
	for provider, want := range tests {
		if got := MapStatus(provider); got != want {
			t.Errorf("MapStatus(%q) = %q, want %q", provider, got, want)
		}
	}
}

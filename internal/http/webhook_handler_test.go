package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/shopkite/platform/provisioner/internal/billing"
	"github.com/shopkite/platform/provisioner/internal/models"
)

type nullAudit struct{}

func (nullAudit) Record(ctx context.Context, instanceID, action, message string, details map[string]interface{}) error {
	return nil
}

func (nullAudit) GetByInstanceID(ctx context.Context, instanceID string, limit int) ([]*models.AuditEntry, error) {
	return nil, nil
}

func newWebhookRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewWebhookHandler(secret, nil, nullAudit{})
	r := gin.New()
	r.POST("/webhooks/billing", handler.HandleBillingEvent)
	return r
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	r := newWebhookRouter("whsec_test")
	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
		req.Header.Set("Billing-Signature", billing.SignPayload(payload, "whsec_other", time.Now()))
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	r := newWebhookRouter("whsec_test")
	payload := []byte(`{"not": "an event"}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	req.Header.Set("Billing-Signature", billing.SignPayload(payload, "whsec_test", time.Now()))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

package http

import (
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopkite/platform/provisioner/internal/billing"
	"github.com/shopkite/platform/provisioner/internal/models"
	"github.com/shopkite/platform/provisioner/internal/service"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// WebhookHandler receives signed billing provider events.
type WebhookHandler struct {
	secret     string
	reconciler *service.Reconciler
	audit      service.AuditStore
}

func NewWebhookHandler(secret string, reconciler *service.Reconciler, audit service.AuditStore) *WebhookHandler {
	return &WebhookHandler{secret: secret, reconciler: reconciler, audit: audit}
}

// HandleBillingEvent verifies, parses and dispatches one event delivery.
// Invalid signature or payload is rejected with 400 before any processing;
// every other outcome is acknowledged with 200 so the provider does not
// retry indefinitely over an internal bug. Handler errors surface only in
// the log and audit trail.
func (h *WebhookHandler) HandleBillingEvent(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}

	signature := c.GetHeader("Billing-Signature")
	if err := billing.VerifySignature(payload, signature, h.secret, billing.DefaultTolerance); err != nil {
		log.Printf("[webhook] signature rejected: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	event, err := billing.ParseEvent(payload)
	if err != nil {
		log.Printf("[webhook] malformed payload: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
		return
	}

	if err := h.reconciler.HandleEvent(c.Request.Context(), event); err != nil {
		log.Printf("[webhook] event %s (%s) failed: %v", event.ID, event.Type, err)
		if aerr := h.audit.Record(c.Request.Context(), "", models.ActionError,
			fmt.Sprintf("Event %s (%s) failed: %v", event.ID, event.Type, err), nil); aerr != nil {
			log.Printf("[webhook] audit write failed: %v", aerr)
		}
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

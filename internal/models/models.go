package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Instance status constants. Lifecycle: pending -> creating -> running <-> stopped,
// error reachable from creating/running, deleted terminal.
const (
	StatusPending  = "pending"
	StatusCreating = "creating"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusError    = "error"
	StatusDeleted  = "deleted"
)

// Subscription status constants, mirroring the billing provider.
const (
	SubStatusActive    = "active"
	SubStatusPastDue   = "past_due"
	SubStatusCancelled = "cancelled"
	SubStatusUnpaid    = "unpaid"
	SubStatusTrialing  = "trialing"
)

// Audit action categories.
const (
	ActionCreate      = "create"
	ActionStart       = "start"
	ActionStop        = "stop"
	ActionRestart     = "restart"
	ActionDelete      = "delete"
	ActionHealthCheck = "health_check"
	ActionWebhook     = "webhook"
	ActionDomain      = "domain"
	ActionError       = "error"
)

// Customer is the person paying for hosting, created when the reconciler
// first sees their billing-provider customer reference.
type Customer struct {
	ID                string
	Email             string
	Name              string
	BillingCustomerID string
	PortalPassword    string // hashed, empty until portal access is granted
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Subscription mirrors one billing-provider subscription. A customer
// accumulates rows over time (cancel, resubscribe); rows are never deleted.
type Subscription struct {
	ID                    string
	CustomerID            string
	BillingSubscriptionID string
	BillingPriceID        string
	Status                string
	CurrentPeriodStart    *time.Time
	CurrentPeriodEnd      *time.Time
	CancelledAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsActive reports whether the subscription entitles the customer to a
// running instance.
func (s *Subscription) IsActive() bool {
	return s.Status == SubStatusActive || s.Status == SubStatusTrialing
}

// Instance is one customer's provisioned shop deployment: a container, an
// allocated port, routing config and a data directory.
type Instance struct {
	ID         string
	CustomerID string

	Subdomain    string
	CustomDomain string

	ContainerID   string
	ContainerName string
	Port          int

	Status        string
	StatusMessage string

	SiteName      string
	AdminEmail    string
	AdminPassword string // temporary, generated once
	SecretKey     string // generated once

	WelcomeEmailSent     bool
	CustomDomainVerified bool
	CustomDomainSSL      bool

	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHealthCheck *time.Time
}

// FullURL returns the canonical subdomain URL for the instance.
func (i *Instance) FullURL(baseDomain string) string {
	return fmt.Sprintf("https://%s.%s", i.Subdomain, baseDomain)
}

// AdminURL returns the instance's admin panel URL.
func (i *Instance) AdminURL(baseDomain string) string {
	return i.FullURL(baseDomain) + "/admin/"
}

// DataDirectory returns where the instance's data lives on the host.
func (i *Instance) DataDirectory(dataRoot string) string {
	return dataRoot + "/" + i.ID
}

// AllowedHosts builds the host allow-list handed to the container: subdomain
// under the base domain, localhost, and the custom domain when set.
func (i *Instance) AllowedHosts(baseDomain string) string {
	hosts := fmt.Sprintf("%s.%s,localhost", i.Subdomain, baseDomain)
	if i.CustomDomain != "" {
		hosts += "," + i.CustomDomain + ",www." + i.CustomDomain
	}
	return hosts
}

// AuditEntry is one append-only audit log record. A nil InstanceID marks a
// system-level event such as an unmatched webhook.
type AuditEntry struct {
	ID         string
	InstanceID *string
	Action     string
	Message    string
	Details    map[string]interface{}
	CreatedAt  time.Time
}

// validTransitions enumerates the legal instance status transitions.
// deleted is terminal; error recovers only through an explicit start/restart.
var validTransitions = map[string][]string{
	StatusPending:  {StatusCreating, StatusDeleted},
	StatusCreating: {StatusRunning, StatusError, StatusDeleted},
	StatusRunning:  {StatusStopped, StatusError, StatusDeleted},
	StatusStopped:  {StatusCreating, StatusRunning, StatusDeleted},
	StatusError:    {StatusCreating, StatusRunning, StatusStopped, StatusDeleted},
	StatusDeleted:  {},
}

// ValidTransition reports whether an instance may move from one status to
// another. Same-status writes are allowed (idempotent re-persist).
func ValidTransition(from, to string) bool {
	if from == to {
		return from != StatusDeleted
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// subdomainPattern is the DNS-label syntax: lowercase alphanumerics and
// hyphens, no leading/trailing hyphen, max 63 characters.
var subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidSubdomain reports whether s is a legal instance subdomain.
func ValidSubdomain(s string) bool {
	return subdomainPattern.MatchString(s)
}

// NormalizeDomain lowercases and trims a user-supplied domain.
func NormalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}

// ValidDomain reports whether d looks like a registrable custom domain:
// at least two DNS labels, each syntactically valid, no scheme or path.
func ValidDomain(d string) bool {
	if d == "" || len(d) > 253 || strings.ContainsAny(d, "/:@ ") {
		return false
	}
	labels := strings.Split(d, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if !subdomainPattern.MatchString(label) {
			return false
		}
	}
	return true
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/shopkite/platform/provisioner/internal/billing"
	"github.com/shopkite/platform/provisioner/internal/client"
	"github.com/shopkite/platform/provisioner/internal/config"
	"github.com/shopkite/platform/provisioner/internal/models"
	"github.com/shopkite/platform/provisioner/internal/repository"
)

// Reconciler turns billing events into ledger mutations. Provisioning is a
// function of current ledger state, never of event order: every handler ends
// in the same ensureProvisioned decision, so redelivered and reordered
// events converge on the same outcome.
type Reconciler struct {
	cfg           config.InstanceConfig
	customers     CustomerStore
	subscriptions SubscriptionStore
	store         InstanceStore
	audit         AuditStore
	instances     *InstanceService
	router        RouterManager
	notifier      Notifier
	billingAPI    BillingAPI
	locks         *InstanceLocks
}

func NewReconciler(
	cfg config.InstanceConfig,
	customers CustomerStore,
	subscriptions SubscriptionStore,
	store InstanceStore,
	audit AuditStore,
	instances *InstanceService,
	router RouterManager,
	notifier Notifier,
	billingAPI BillingAPI,
	locks *InstanceLocks,
) *Reconciler {
	return &Reconciler{
		cfg:           cfg,
		customers:     customers,
		subscriptions: subscriptions,
		store:         store,
		audit:         audit,
		instances:     instances,
		router:        router,
		notifier:      notifier,
		billingAPI:    billingAPI,
		locks:         locks,
	}
}

// HandleEvent dispatches one verified billing event. Errors are for the
// caller to log and audit; the webhook endpoint still acknowledges them.
func (r *Reconciler) HandleEvent(ctx context.Context, event *billing.Event) error {
	log.Printf("[reconciler] event %s (%s)", event.ID, event.Type)

	switch event.Kind {
	case billing.KindCheckoutCompleted:
		return r.handleCheckoutCompleted(ctx, event)
	case billing.KindSubscriptionCreated, billing.KindSubscriptionUpdated:
		return r.handleSubscriptionChanged(ctx, event)
	case billing.KindSubscriptionDeleted:
		return r.handleSubscriptionDeleted(ctx, event)
	case billing.KindInvoicePaymentFailed:
		return r.handlePaymentFailed(ctx, event)
	case billing.KindInvoicePaid:
		return r.handleInvoicePaid(ctx, event)
	default:
		r.recordSystem(ctx, fmt.Sprintf("Ignoring unrecognized event type %s (%s)", event.Type, event.ID))
		return nil
	}
}

func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, event *billing.Event) error {
	session, err := event.DecodeCheckoutSession()
	if err != nil {
		return err
	}
	if session.Customer == "" {
		return fmt.Errorf("checkout session %s has no customer reference", session.ID)
	}

	subdomain := session.Metadata["subdomain"]
	siteName := session.Metadata["site_name"]
	if siteName == "" {
		siteName = subdomain
	}

	if !models.ValidSubdomain(subdomain) {
		r.recordSystem(ctx, fmt.Sprintf("Checkout %s rejected: invalid subdomain %q", session.ID, subdomain))
		return &ValidationError{Message: fmt.Sprintf("invalid subdomain %q", subdomain)}
	}

	customer, err := r.upsertCustomer(ctx, session.Customer, session.CustomerEmail)
	if err != nil {
		return err
	}

	inst, err := r.store.GetByCustomer(ctx, customer.ID)
	switch {
	case err == nil:
		// Existing instance: reconcile metadata but never silently repoint
		// it to a different subdomain.
		if inst.Subdomain != subdomain {
			r.recordSystem(ctx, fmt.Sprintf("Checkout %s: customer already owns %s, refusing switch to %s",
				session.ID, inst.Subdomain, subdomain))
			return &ValidationError{Message: fmt.Sprintf("customer already has instance %s", inst.Subdomain)}
		}
		if inst.SiteName != siteName {
			inst.SiteName = siteName
			if err := r.store.Update(ctx, inst); err != nil {
				return err
			}
		}
	case errors.Is(err, repository.ErrNotFound):
		taken, err := r.store.SubdomainTaken(ctx, subdomain)
		if err != nil {
			return err
		}
		if taken {
			r.recordSystem(ctx, fmt.Sprintf("Checkout %s rejected: subdomain %s already taken", session.ID, subdomain))
			return &ValidationError{Message: fmt.Sprintf("subdomain %s is already taken", subdomain)}
		}

		inst = &models.Instance{
			CustomerID: customer.ID,
			Subdomain:  subdomain,
			SiteName:   siteName,
			AdminEmail: customer.Email,
			Status:     models.StatusPending,
		}
		if err := r.store.Create(ctx, inst); err != nil {
			return err
		}
		r.record(ctx, inst.ID, fmt.Sprintf("Instance %s created from checkout %s", subdomain, session.ID))
	default:
		return err
	}

	_, err = r.EnsureProvisioned(ctx, customer, "", false)
	return err
}

func (r *Reconciler) handleSubscriptionChanged(ctx context.Context, event *billing.Event) error {
	sub, err := event.DecodeSubscription()
	if err != nil {
		return err
	}

	customer, err := r.customers.GetByBillingID(ctx, sub.Customer)
	if errors.Is(err, repository.ErrNotFound) {
		// Checkout hasn't landed yet. Record the gap and acknowledge; the
		// checkout handler will create the customer and a later event (or
		// invoice.paid recovery) converges the subscription.
		r.recordSystem(ctx, fmt.Sprintf("Subscription %s for unknown billing customer %s, deferring", sub.ID, sub.Customer))
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.upsertSubscription(ctx, customer.ID, sub); err != nil {
		return err
	}

	_, err = r.EnsureProvisioned(ctx, customer, sub.ID, false)
	return err
}

func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, event *billing.Event) error {
	sub, err := event.DecodeSubscription()
	if err != nil {
		return err
	}

	local, err := r.subscriptions.GetByBillingID(ctx, sub.ID)
	if errors.Is(err, repository.ErrNotFound) {
		r.recordSystem(ctx, fmt.Sprintf("Deleted subscription %s not known locally", sub.ID))
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.subscriptions.Cancel(ctx, local.ID, time.Now().UTC()); err != nil {
		return err
	}

	inst, err := r.store.GetByCustomer(ctx, local.CustomerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if inst.Status == models.StatusRunning {
		if err := r.instances.Stop(ctx, inst); err != nil {
			return err
		}
		if customer, cerr := r.customers.GetByID(ctx, inst.CustomerID); cerr == nil {
			r.notifier.SendStopped(ctx, &client.StoppedMessage{
				Email:    customer.Email,
				SiteName: inst.SiteName,
				SiteURL:  inst.FullURL(r.cfg.BaseDomain),
				Reason:   "subscription cancelled",
			})
		}
		r.record(ctx, inst.ID, fmt.Sprintf("Stopped %s: subscription cancelled", inst.Subdomain))
	}
	return nil
}

// handlePaymentFailed only marks the subscription past_due. Stopping the
// instance is a grace-period policy decision that lives elsewhere.
func (r *Reconciler) handlePaymentFailed(ctx context.Context, event *billing.Event) error {
	inv, err := event.DecodeInvoice()
	if err != nil {
		return err
	}
	if inv.Subscription == "" {
		r.recordSystem(ctx, fmt.Sprintf("Payment failed on invoice %s with no subscription reference", inv.ID))
		return nil
	}

	sub, err := r.subscriptions.GetByBillingID(ctx, inv.Subscription)
	if errors.Is(err, repository.ErrNotFound) {
		r.recordSystem(ctx, fmt.Sprintf("Payment failed for unknown subscription %s", inv.Subscription))
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.subscriptions.SetStatus(ctx, sub.ID, models.SubStatusPastDue); err != nil {
		return err
	}
	r.recordSystem(ctx, fmt.Sprintf("Subscription %s marked past_due (invoice %s)", inv.Subscription, inv.ID))
	return nil
}

func (r *Reconciler) handleInvoicePaid(ctx context.Context, event *billing.Event) error {
	inv, err := event.DecodeInvoice()
	if err != nil {
		return err
	}
	if inv.Customer == "" {
		r.recordSystem(ctx, fmt.Sprintf("Paid invoice %s has no customer reference", inv.ID))
		return nil
	}

	customer, err := r.customers.GetByBillingID(ctx, inv.Customer)
	if errors.Is(err, repository.ErrNotFound) {
		customer, err = r.upsertCustomer(ctx, inv.Customer, "")
	}
	if err != nil {
		return err
	}

	sub, err := r.resolveSubscription(ctx, customer, inv.Subscription)
	if err != nil {
		return err
	}
	if sub != nil && !sub.IsActive() {
		// Payment cleared, so whatever stale status we hold is wrong.
		if err := r.subscriptions.SetStatus(ctx, sub.ID, models.SubStatusActive); err != nil {
			return err
		}
	}

	_, err = r.EnsureProvisioned(ctx, customer, inv.Subscription, true)
	return err
}

// resolveSubscription finds the customer's subscription: by the invoice's
// reference, then the latest local row, then the billing provider directly.
func (r *Reconciler) resolveSubscription(ctx context.Context, customer *models.Customer, billingSubID string) (*models.Subscription, error) {
	if billingSubID != "" {
		sub, err := r.subscriptions.GetByBillingID(ctx, billingSubID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	sub, err := r.subscriptions.GetLatestByCustomer(ctx, customer.ID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	remote, err := r.billingAPI.LatestSubscription(ctx, customer.BillingCustomerID)
	if err != nil {
		if errors.Is(err, billing.ErrNoSubscription) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.upsertSubscription(ctx, customer.ID, remote); err != nil {
		return nil, err
	}
	return r.subscriptions.GetByBillingID(ctx, remote.ID)
}

// EnsureProvisioned decides from ledger state whether the customer's
// instance should be running, and makes it so. Returns false when deferring
// (no instance yet, or no entitling subscription).
func (r *Reconciler) EnsureProvisioned(ctx context.Context, customer *models.Customer, billingSubID string, paymentConfirmed bool) (bool, error) {
	inst, err := r.store.GetByCustomer(ctx, customer.ID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Printf("[reconciler] no instance yet for customer %s, deferring", customer.BillingCustomerID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	sub, err := r.resolveSubscription(ctx, customer, billingSubID)
	if err != nil {
		return false, err
	}
	if sub == nil {
		log.Printf("[reconciler] no subscription for customer %s, deferring", customer.BillingCustomerID)
		return false, nil
	}

	if !sub.IsActive() {
		confirmed := paymentConfirmed
		if !confirmed {
			confirmed, err = r.billingAPI.HasPaidInvoice(ctx, customer.BillingCustomerID)
			if err != nil {
				return false, err
			}
		}
		if !confirmed {
			log.Printf("[reconciler] subscription %s is %s and payment unconfirmed, deferring",
				sub.BillingSubscriptionID, sub.Status)
			return false, nil
		}
		if err := r.subscriptions.SetStatus(ctx, sub.ID, models.SubStatusActive); err != nil {
			return false, err
		}
	}

	unlock := r.locks.Lock(inst.ID)
	defer unlock()

	// Re-read under the lock: a concurrent delivery of the same event may
	// have provisioned between the first read and lock acquisition, and a
	// stale snapshot here would re-run provisioning.
	inst, err = r.store.GetByID(ctx, inst.ID)
	if err != nil {
		return false, err
	}

	// Idempotent fast path.
	if inst.Status == models.StatusRunning && inst.WelcomeEmailSent {
		return true, nil
	}

	if inst.Status != models.StatusRunning {
		if err := r.instances.provision(ctx, inst); err != nil {
			return false, err
		}
		if err := r.router.WriteConfig(inst); err != nil {
			return false, fmt.Errorf("write routing config: %w", err)
		}
		if err := r.router.Apply(ctx); err != nil {
			return false, fmt.Errorf("apply routing config: %w", err)
		}
	}

	if !inst.WelcomeEmailSent {
		if err := r.sendWelcome(ctx, customer, inst); err != nil {
			return false, err
		}
	}

	if err := r.store.Update(ctx, inst); err != nil {
		return false, err
	}

	r.record(ctx, inst.ID, fmt.Sprintf("Instance %s provisioned and reconciled", inst.Subdomain))
	return true, nil
}

// sendWelcome grants portal access and delivers the welcome email. The
// sent flag is persisted only on confirmed delivery so a transient failure
// is retried on the next qualifying event.
func (r *Reconciler) sendWelcome(ctx context.Context, customer *models.Customer, inst *models.Instance) error {
	if customer.PortalPassword == "" {
		plain := models.GenerateTempPassword(16)
		hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash portal password: %w", err)
		}
		if err := r.customers.SetPortalPassword(ctx, customer.ID, string(hashed)); err != nil {
			return err
		}
		customer.PortalPassword = string(hashed)
	}

	sent := r.notifier.SendWelcome(ctx, &client.WelcomeMessage{
		Email:         customer.Email,
		SiteName:      inst.SiteName,
		SiteURL:       inst.FullURL(r.cfg.BaseDomain),
		AdminURL:      inst.AdminURL(r.cfg.BaseDomain),
		AdminEmail:    inst.AdminEmail,
		AdminPassword: inst.AdminPassword,
	})
	if sent {
		inst.WelcomeEmailSent = true
		r.record(ctx, inst.ID, fmt.Sprintf("Welcome email sent for %s", inst.Subdomain))
	} else {
		r.record(ctx, inst.ID, fmt.Sprintf("Welcome email delivery failed for %s, will retry", inst.Subdomain))
	}
	return nil
}

func (r *Reconciler) upsertCustomer(ctx context.Context, billingCustomerID, email string) (*models.Customer, error) {
	customer, err := r.customers.GetByBillingID(ctx, billingCustomerID)
	if err == nil {
		if email != "" && customer.Email != email {
			if err := r.customers.UpdateEmail(ctx, customer.ID, email); err != nil {
				return nil, err
			}
			customer.Email = email
		}
		return customer, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	customer = &models.Customer{
		Email:             email,
		BillingCustomerID: billingCustomerID,
	}
	if err := r.customers.Create(ctx, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

func (r *Reconciler) upsertSubscription(ctx context.Context, customerID string, sub *billing.SubscriptionObject) error {
	return r.subscriptions.Upsert(ctx, &models.Subscription{
		CustomerID:            customerID,
		BillingSubscriptionID: sub.ID,
		BillingPriceID:        sub.PriceID(),
		Status:                billing.MapStatus(sub.Status),
		CurrentPeriodStart:    sub.PeriodStart(),
		CurrentPeriodEnd:      sub.PeriodEnd(),
	})
}

func (r *Reconciler) record(ctx context.Context, instanceID, message string) {
	if err := r.audit.Record(ctx, instanceID, models.ActionWebhook, message, nil); err != nil {
		log.Printf("[reconciler] audit write failed: %v", err)
	}
}

func (r *Reconciler) recordSystem(ctx context.Context, message string) {
	r.record(ctx, "", message)
}

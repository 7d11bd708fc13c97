package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopkite/platform/provisioner/internal/config"
	"github.com/shopkite/platform/provisioner/internal/models"
	"github.com/shopkite/platform/provisioner/internal/repository"
)

// DomainService manages custom domains on instances: edge routing config,
// DNS verification against this server's IP, and TLS issuance. Certificate
// failures during setup are deliberately non-fatal so that slow DNS
// propagation does not wedge a domain change.
type DomainService struct {
	cfg       config.InstanceConfig
	router    RouterManager
	certs     CertManager
	resolver  Resolver
	instances *InstanceService
	store     InstanceStore
	audit     AuditStore
	locks     *InstanceLocks
}

func NewDomainService(
	cfg config.InstanceConfig,
	router RouterManager,
	certs CertManager,
	resolver Resolver,
	instances *InstanceService,
	store InstanceStore,
	audit AuditStore,
	locks *InstanceLocks,
) *DomainService {
	return &DomainService{
		cfg:       cfg,
		router:    router,
		certs:     certs,
		resolver:  resolver,
		instances: instances,
		store:     store,
		audit:     audit,
		locks:     locks,
	}
}

// SetupCustomDomain attaches a custom domain to an instance. The routing
// config is written regardless of DNS state; certificate issuance failures
// are recorded and retried later via RetrySSL.
func (d *DomainService) SetupCustomDomain(ctx context.Context, instanceID, rawDomain string) error {
	unlock := d.locks.Lock(instanceID)
	defer unlock()

	inst, err := d.store.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}

	domain := models.NormalizeDomain(rawDomain)
	if domain == "" {
		return &ValidationError{Message: "domain is required"}
	}

	// Fully set up already: nothing to do.
	if inst.CustomDomain == domain && inst.CustomDomainVerified && inst.CustomDomainSSL && d.certs.Exists(domain) {
		return nil
	}

	if inst.CustomDomain != domain {
		if err := d.preflight(ctx, inst, domain); err != nil {
			return err
		}
		inst.CustomDomain = domain
		inst.CustomDomainVerified = false
		inst.CustomDomainSSL = false
		if err := d.store.Update(ctx, inst); err != nil {
			return err
		}
		d.record(ctx, inst.ID, fmt.Sprintf("Custom domain %s attached to %s", domain, inst.Subdomain))
	}

	if !inst.CustomDomainVerified {
		if err := d.verifyDNS(ctx, domain); err != nil {
			return err
		}
		inst.CustomDomainVerified = true
		if err := d.store.Update(ctx, inst); err != nil {
			return err
		}
		d.record(ctx, inst.ID, fmt.Sprintf("DNS verified for %s", domain))
	}

	// HTTP-only vhost first so the ACME challenge has something to hit.
	if err := d.router.WriteConfig(inst); err != nil {
		return fmt.Errorf("write routing config: %w", err)
	}
	if err := d.router.Apply(ctx); err != nil {
		return fmt.Errorf("apply routing config: %w", err)
	}

	// A certificate already on disk (issuance succeeded but the flag write
	// was lost) must not trigger another certbot run.
	if d.certs.Exists(domain) {
		return d.enableSSL(ctx, inst, domain)
	}

	if err := d.certs.Obtain(ctx, domain); err != nil {
		d.record(ctx, inst.ID, fmt.Sprintf("SSL setup failed for %s: %v (will retry)", domain, err))
		d.restartBestEffort(ctx, inst)
		return nil
	}

	return d.enableSSL(ctx, inst, domain)
}

// RetrySSL retries certificate issuance for an already-verified domain.
// Unlike setup, a failure here is surfaced to the caller.
func (d *DomainService) RetrySSL(ctx context.Context, instanceID string) error {
	unlock := d.locks.Lock(instanceID)
	defer unlock()

	inst, err := d.store.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.CustomDomain == "" {
		return &ValidationError{Message: "instance has no custom domain"}
	}
	if !inst.CustomDomainVerified {
		return &DomainError{Message: "domain is not verified yet", Retryable: true}
	}
	if inst.CustomDomainSSL && d.certs.Exists(inst.CustomDomain) {
		return nil
	}
	if d.certs.Exists(inst.CustomDomain) {
		return d.enableSSL(ctx, inst, inst.CustomDomain)
	}

	if err := d.certs.Obtain(ctx, inst.CustomDomain); err != nil {
		d.record(ctx, inst.ID, fmt.Sprintf("SSL retry failed for %s: %v", inst.CustomDomain, err))
		return fmt.Errorf("obtain certificate for %s: %w", inst.CustomDomain, err)
	}

	return d.enableSSL(ctx, inst, inst.CustomDomain)
}

// RemoveCustomDomain detaches the custom domain. The ledger is cleared
// first so a partial failure leaves the domain detached rather than
// half-attached.
func (d *DomainService) RemoveCustomDomain(ctx context.Context, instanceID string, deleteCert bool) error {
	unlock := d.locks.Lock(instanceID)
	defer unlock()

	inst, err := d.store.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.CustomDomain == "" {
		d.record(ctx, inst.ID, fmt.Sprintf("No custom domain to remove from %s", inst.Subdomain))
		return nil
	}

	domain := inst.CustomDomain
	inst.CustomDomain = ""
	inst.CustomDomainVerified = false
	inst.CustomDomainSSL = false
	if err := d.store.Update(ctx, inst); err != nil {
		return err
	}

	if err := d.router.WriteConfig(inst); err != nil {
		log.Printf("[domain] rewrite routing config for %s: %v", inst.Subdomain, err)
	} else if err := d.router.Apply(ctx); err != nil {
		log.Printf("[domain] apply routing config for %s: %v", inst.Subdomain, err)
	}

	if deleteCert {
		if err := d.certs.Delete(ctx, domain); err != nil {
			log.Printf("[domain] delete certificate for %s: %v", domain, err)
		}
	}

	d.restartBestEffort(ctx, inst)
	d.record(ctx, inst.ID, fmt.Sprintf("Custom domain %s removed from %s", domain, inst.Subdomain))
	return nil
}

func (d *DomainService) enableSSL(ctx context.Context, inst *models.Instance, domain string) error {
	inst.CustomDomainSSL = true
	if err := d.store.Update(ctx, inst); err != nil {
		return err
	}

	if err := d.router.WriteConfig(inst); err != nil {
		return fmt.Errorf("write routing config: %w", err)
	}
	if err := d.router.Apply(ctx); err != nil {
		return fmt.Errorf("apply routing config: %w", err)
	}

	d.restartBestEffort(ctx, inst)
	d.record(ctx, inst.ID, fmt.Sprintf("SSL enabled for %s", domain))
	return nil
}

// preflight rejects domains already claimed elsewhere, either in another
// edge config file or by another instance in the ledger.
func (d *DomainService) preflight(ctx context.Context, inst *models.Instance, domain string) error {
	if !models.ValidDomain(domain) {
		return &ValidationError{Message: fmt.Sprintf("invalid domain %q", domain)}
	}

	file, conflict, err := d.router.FindConflict(domain, inst.Subdomain)
	if err != nil {
		return fmt.Errorf("scan routing configs: %w", err)
	}
	if conflict {
		return &DomainError{Message: fmt.Sprintf("domain %s is already configured in %s", domain, file)}
	}

	if _, err := d.store.GetByCustomDomain(ctx, domain, inst.ID); err == nil {
		return &DomainError{Message: fmt.Sprintf("domain %s is already in use by another instance", domain)}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}

// verifyDNS requires both the apex and the www record to point at this
// server before issuance is attempted.
func (d *DomainService) verifyDNS(ctx context.Context, domain string) error {
	for _, host := range []string{domain, "www." + domain} {
		addrs, err := d.resolver.LookupHost(ctx, host)
		if err != nil {
			return &DomainError{
				Message:   fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
				Retryable: true,
			}
		}
		if !containsAddr(addrs, d.cfg.ServerIP) {
			return &DomainError{
				Message:   fmt.Sprintf("%s does not point to %s yet (got %v)", host, d.cfg.ServerIP, addrs),
				Retryable: true,
			}
		}
	}
	return nil
}

func containsAddr(addrs []string, want string) bool {
	for _, a := range addrs {
		if a == want {
			return true
		}
	}
	return false
}

func (d *DomainService) restartBestEffort(ctx context.Context, inst *models.Instance) {
	if inst.Status != models.StatusRunning || inst.ContainerID == "" {
		return
	}
	if err := d.instances.restart(ctx, inst); err != nil {
		log.Printf("[domain] restart %s after domain change: %v", inst.Subdomain, err)
	}
}

func (d *DomainService) record(ctx context.Context, instanceID, message string) {
	if err := d.audit.Record(ctx, instanceID, models.ActionDomain, message, nil); err != nil {
		log.Printf("[domain] audit write failed: %v", err)
	}
}

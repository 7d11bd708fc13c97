package service

import (
	"context"
	"time"

	"github.com/shopkite/platform/provisioner/internal/billing"
	"github.com/shopkite/platform/provisioner/internal/client"
	"github.com/shopkite/platform/provisioner/internal/models"
)

// The services consume their collaborators through these interfaces so that
// the orchestration logic is testable with fakes; the concrete
// implementations live in the docker, nginx, certs, client, billing and
// repository packages and are wired in at the composition root.

// ContainerRuntime is the container-runtime control surface. Missing
// containers are reported as found=false, not as errors.
type ContainerRuntime interface {
	EnsureNetwork(ctx context.Context) error
	CreateAndStart(ctx context.Context, spec models.ContainerSpec) (string, error)
	Start(ctx context.Context, id string) (found bool, err error)
	Stop(ctx context.Context, id string, grace time.Duration) (found bool, err error)
	Restart(ctx context.Context, id string, grace time.Duration) (found bool, err error)
	Remove(ctx context.Context, id string, grace time.Duration) (found bool, err error)
	State(ctx context.Context, id string) (state string, found bool, err error)
	Stats(ctx context.Context, id string) (*models.ContainerStats, error)
	PullImage(ctx context.Context, image string) error
}

// RouterManager writes, applies and inspects edge routing configuration.
type RouterManager interface {
	WriteConfig(inst *models.Instance) error
	RemoveConfig(subdomain string) error
	Apply(ctx context.Context) error
	FindConflict(domain, excludeSubdomain string) (file string, conflict bool, err error)
}

// CertManager issues and removes TLS certificates.
type CertManager interface {
	Exists(domain string) bool
	Obtain(ctx context.Context, domain string) error
	Delete(ctx context.Context, domain string) error
}

// Resolver resolves hostnames for custom-domain DNS verification.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Notifier delivers customer notifications. Booleans, not errors: the
// caller persists sent-flags only on true.
type Notifier interface {
	SendWelcome(ctx context.Context, msg *client.WelcomeMessage) bool
	SendStopped(ctx context.Context, msg *client.StoppedMessage) bool
}

// BillingAPI queries the billing provider directly, used as a recovery path.
type BillingAPI interface {
	LatestSubscription(ctx context.Context, billingCustomerID string) (*billing.SubscriptionObject, error)
	HasPaidInvoice(ctx context.Context, billingCustomerID string) (bool, error)
}

// CustomerStore persists customers.
type CustomerStore interface {
	Create(ctx context.Context, c *models.Customer) error
	GetByID(ctx context.Context, id string) (*models.Customer, error)
	GetByBillingID(ctx context.Context, billingCustomerID string) (*models.Customer, error)
	UpdateEmail(ctx context.Context, id, email string) error
	SetPortalPassword(ctx context.Context, id, hashed string) error
	Count(ctx context.Context) (int, error)
}

// SubscriptionStore persists subscription history.
type SubscriptionStore interface {
	Upsert(ctx context.Context, s *models.Subscription) error
	GetByBillingID(ctx context.Context, billingSubscriptionID string) (*models.Subscription, error)
	GetLatestByCustomer(ctx context.Context, customerID string) (*models.Subscription, error)
	GetActiveByCustomer(ctx context.Context, customerID string) (*models.Subscription, error)
	SetStatus(ctx context.Context, id, status string) error
	Cancel(ctx context.Context, id string, at time.Time) error
	CountActive(ctx context.Context) (int, error)
}

// InstanceStore persists instances.
type InstanceStore interface {
	Create(ctx context.Context, inst *models.Instance) error
	GetByID(ctx context.Context, id string) (*models.Instance, error)
	GetBySubdomain(ctx context.Context, subdomain string) (*models.Instance, error)
	GetByCustomer(ctx context.Context, customerID string) (*models.Instance, error)
	GetByCustomDomain(ctx context.Context, domain, excludeID string) (*models.Instance, error)
	SubdomainTaken(ctx context.Context, subdomain string) (bool, error)
	Update(ctx context.Context, inst *models.Instance) error
	SetStatus(ctx context.Context, id, status, message string) error
	AssignPort(ctx context.Context, id string, port int) error
	UsedPorts(ctx context.Context) ([]int, error)
	TouchHealthCheck(ctx context.Context, id string, at time.Time) error
	ListByStatus(ctx context.Context, status string) ([]*models.Instance, error)
	ListSyncable(ctx context.Context) ([]*models.Instance, error)
	ListAll(ctx context.Context) ([]*models.Instance, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	HardDelete(ctx context.Context, id string) error
}

// AuditStore is the single side-channel every component writes audit
// entries through. Pass an empty instanceID for system-level events.
type AuditStore interface {
	Record(ctx context.Context, instanceID, action, message string, details map[string]interface{}) error
	GetByInstanceID(ctx context.Context, instanceID string, limit int) ([]*models.AuditEntry, error)
}

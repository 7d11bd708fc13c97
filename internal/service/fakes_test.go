package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopkite/platform/provisioner/internal/billing"
	"github.com/shopkite/platform/provisioner/internal/client"
	"github.com/shopkite/platform/provisioner/internal/models"
	"github.com/shopkite/platform/provisioner/internal/repository"
)

// ---- container runtime ----

type fakeContainer struct {
	spec  models.ContainerSpec
	state string
}

type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	nextID     int
	createErr  error
	startErr   error
	created    int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: make(map[string]*fakeContainer)}
}

func (f *fakeRuntime) EnsureNetwork(ctx context.Context) error { return nil }

func (f *fakeRuntime) CreateAndStart(ctx context.Context, spec models.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	f.created++
	id := fmt.Sprintf("ctr_%d", f.nextID)
	f.containers[id] = &fakeContainer{spec: spec, state: models.ContainerRunning}
	return id, nil
}

func (f *fakeRuntime) Start(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return false, f.startErr
	}
	c, ok := f.containers[id]
	if !ok {
		return false, nil
	}
	c.state = models.ContainerRunning
	return true, nil
}

func (f *fakeRuntime) Stop(ctx context.Context, id string, grace time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return false, nil
	}
	c.state = models.ContainerExited
	return true, nil
}

func (f *fakeRuntime) Restart(ctx context.Context, id string, grace time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return false, nil
	}
	c.state = models.ContainerRunning
	return true, nil
}

func (f *fakeRuntime) Remove(ctx context.Context, id string, grace time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return false, nil
	}
	delete(f.containers, id)
	return true, nil
}

func (f *fakeRuntime) State(ctx context.Context, id string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return "", false, nil
	}
	return c.state, true, nil
}

func (f *fakeRuntime) Stats(ctx context.Context, id string) (*models.ContainerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return nil, fmt.Errorf("no such container %s", id)
	}
	return &models.ContainerStats{CPUPercent: 1.5, MemoryUsageMB: 128, MemoryPercent: 6.25}, nil
}

func (f *fakeRuntime) PullImage(ctx context.Context, image string) error { return nil }

// ---- edge router ----

type fakeRouter struct {
	mu        sync.Mutex
	configs   map[string]*models.Instance
	writeErr  error
	applyErr  error
	applied   int
	conflicts map[string]string // domain -> file
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{
		configs:   make(map[string]*models.Instance),
		conflicts: make(map[string]string),
	}
}

func (f *fakeRouter) WriteConfig(inst *models.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	snapshot := *inst
	f.configs[inst.Subdomain] = &snapshot
	return nil
}

func (f *fakeRouter) RemoveConfig(subdomain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.configs, subdomain)
	return nil
}

func (f *fakeRouter) Apply(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied++
	return nil
}

func (f *fakeRouter) FindConflict(domain, excludeSubdomain string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file, ok := f.conflicts[domain]; ok {
		return file, true, nil
	}
	return "", false, nil
}

// ---- cert manager ----

type fakeCerts struct {
	mu        sync.Mutex
	issued    map[string]bool
	obtainErr error
	obtains   int
}

func newFakeCerts() *fakeCerts {
	return &fakeCerts{issued: make(map[string]bool)}
}

func (f *fakeCerts) Exists(domain string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued[domain]
}

func (f *fakeCerts) Obtain(ctx context.Context, domain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obtains++
	if f.obtainErr != nil {
		return f.obtainErr
	}
	f.issued[domain] = true
	return nil
}

func (f *fakeCerts) Delete(ctx context.Context, domain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.issued, domain)
	return nil
}

// ---- DNS resolver ----

type fakeResolver struct {
	hosts map[string][]string
	err   error
}

func (f *fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	addrs, ok := f.hosts[host]
	if !ok {
		return nil, fmt.Errorf("no such host %s", host)
	}
	return addrs, nil
}

// ---- notifier ----

type fakeNotifier struct {
	mu          sync.Mutex
	welcomeOK   bool
	welcomes    []*client.WelcomeMessage
	stoppedMsgs []*client.StoppedMessage
}

func (f *fakeNotifier) SendWelcome(ctx context.Context, msg *client.WelcomeMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomes = append(f.welcomes, msg)
	return f.welcomeOK
}

func (f *fakeNotifier) SendStopped(ctx context.Context, msg *client.StoppedMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stoppedMsgs = append(f.stoppedMsgs, msg)
	return true
}

// ---- billing API ----

type fakeBillingAPI struct {
	subscription *billing.SubscriptionObject
	paidInvoice  bool
}

func (f *fakeBillingAPI) LatestSubscription(ctx context.Context, billingCustomerID string) (*billing.SubscriptionObject, error) {
	if f.subscription == nil {
		return nil, billing.ErrNoSubscription
	}
	return f.subscription, nil
}

func (f *fakeBillingAPI) HasPaidInvoice(ctx context.Context, billingCustomerID string) (bool, error) {
	return f.paidInvoice, nil
}

// ---- stores ----

type fakeCustomerStore struct {
	mu        sync.Mutex
	customers map[string]*models.Customer
}

func newFakeCustomerStore() *fakeCustomerStore {
	return &fakeCustomerStore{customers: make(map[string]*models.Customer)}
}

func (f *fakeCustomerStore) Create(ctx context.Context, c *models.Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now()
	snapshot := *c
	f.customers[c.ID] = &snapshot
	return nil
}

func (f *fakeCustomerStore) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.customers[id]; ok {
		snapshot := *c
		return &snapshot, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeCustomerStore) GetByBillingID(ctx context.Context, billingCustomerID string) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.customers {
		if c.BillingCustomerID == billingCustomerID {
			snapshot := *c
			return &snapshot, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeCustomerStore) UpdateEmail(ctx context.Context, id, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Email = email
	return nil
}

func (f *fakeCustomerStore) SetPortalPassword(ctx context.Context, id, hashed string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.PortalPassword = hashed
	return nil
}

func (f *fakeCustomerStore) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.customers), nil
}

type fakeSubscriptionStore struct {
	mu   sync.Mutex
	subs map[string]*models.Subscription
}

func newFakeSubscriptionStore() *fakeSubscriptionStore {
	return &fakeSubscriptionStore{subs: make(map[string]*models.Subscription)}
}

func (f *fakeSubscriptionStore) Upsert(ctx context.Context, s *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.subs {
		if existing.BillingSubscriptionID == s.BillingSubscriptionID {
			existing.BillingPriceID = s.BillingPriceID
			existing.Status = s.Status
			existing.CurrentPeriodStart = s.CurrentPeriodStart
			existing.CurrentPeriodEnd = s.CurrentPeriodEnd
			s.ID = existing.ID
			return nil
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now()
	snapshot := *s
	f.subs[s.ID] = &snapshot
	return nil
}

func (f *fakeSubscriptionStore) GetByBillingID(ctx context.Context, billingSubscriptionID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.BillingSubscriptionID == billingSubscriptionID {
			snapshot := *s
			return &snapshot, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSubscriptionStore) GetLatestByCustomer(ctx context.Context, customerID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.Subscription
	for _, s := range f.subs {
		if s.CustomerID != customerID {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	snapshot := *latest
	return &snapshot, nil
}

func (f *fakeSubscriptionStore) GetActiveByCustomer(ctx context.Context, customerID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.CustomerID == customerID && s.IsActive() {
			snapshot := *s
			return &snapshot, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSubscriptionStore) SetStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = status
	return nil
}

func (f *fakeSubscriptionStore) Cancel(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = models.SubStatusCancelled
	s.CancelledAt = &at
	return nil
}

func (f *fakeSubscriptionStore) CountActive(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if s.IsActive() {
			n++
		}
	}
	return n, nil
}

type fakeInstanceStore struct {
	mu        sync.Mutex
	instances map[string]*models.Instance
}

func newFakeInstanceStore() *fakeInstanceStore {
	return &fakeInstanceStore{instances: make(map[string]*models.Instance)}
}

func (f *fakeInstanceStore) Create(ctx context.Context, inst *models.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.SecretKey == "" {
		inst.SecretKey = models.GenerateSecretKey()
	}
	if inst.AdminPassword == "" {
		inst.AdminPassword = models.GenerateTempPassword(16)
	}
	inst.CreatedAt = time.Now()
	snapshot := *inst
	f.instances[inst.ID] = &snapshot
	return nil
}

func (f *fakeInstanceStore) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.instances[id]; ok {
		snapshot := *inst
		return &snapshot, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeInstanceStore) GetBySubdomain(ctx context.Context, subdomain string) (*models.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.instances {
		if inst.Subdomain == subdomain && inst.Status != models.StatusDeleted {
			snapshot := *inst
			return &snapshot, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeInstanceStore) GetByCustomer(ctx context.Context, customerID string) (*models.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.instances {
		if inst.CustomerID == customerID && inst.Status != models.StatusDeleted {
			snapshot := *inst
			return &snapshot, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeInstanceStore) GetByCustomDomain(ctx context.Context, domain, excludeID string) (*models.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.instances {
		if inst.CustomDomain == domain && inst.ID != excludeID && inst.Status != models.StatusDeleted {
			snapshot := *inst
			return &snapshot, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeInstanceStore) SubdomainTaken(ctx context.Context, subdomain string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.instances {
		if inst.Subdomain == subdomain && inst.Status != models.StatusDeleted {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeInstanceStore) Update(ctx context.Context, inst *models.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[inst.ID]; !ok {
		return repository.ErrNotFound
	}
	snapshot := *inst
	f.instances[inst.ID] = &snapshot
	return nil
}

func (f *fakeInstanceStore) SetStatus(ctx context.Context, id, status, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return repository.ErrNotFound
	}
	inst.Status = status
	inst.StatusMessage = message
	return nil
}

func (f *fakeInstanceStore) AssignPort(ctx context.Context, id string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return repository.ErrNotFound
	}
	for _, other := range f.instances {
		if other.ID != id && other.Port == port && other.Status != models.StatusDeleted {
			return fmt.Errorf("port %d already assigned", port)
		}
	}
	inst.Port = port
	return nil
}

func (f *fakeInstanceStore) UsedPorts(ctx context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ports []int
	for _, inst := range f.instances {
		if inst.Port != 0 && inst.Status != models.StatusDeleted {
			ports = append(ports, inst.Port)
		}
	}
	sort.Ints(ports)
	return ports, nil
}

func (f *fakeInstanceStore) TouchHealthCheck(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return repository.ErrNotFound
	}
	inst.LastHealthCheck = &at
	return nil
}

func (f *fakeInstanceStore) ListByStatus(ctx context.Context, status string) ([]*models.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Instance
	for _, inst := range f.instances {
		if inst.Status == status {
			snapshot := *inst
			out = append(out, &snapshot)
		}
	}
	return out, nil
}

func (f *fakeInstanceStore) ListSyncable(ctx context.Context) ([]*models.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Instance
	for _, inst := range f.instances {
		if inst.Status != models.StatusDeleted && inst.Status != models.StatusPending && inst.ContainerID != "" {
			snapshot := *inst
			out = append(out, &snapshot)
		}
	}
	return out, nil
}

func (f *fakeInstanceStore) ListAll(ctx context.Context) ([]*models.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Instance
	for _, inst := range f.instances {
		snapshot := *inst
		out = append(out, &snapshot)
	}
	return out, nil
}

func (f *fakeInstanceStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for _, inst := range f.instances {
		out[inst.Status]++
	}
	return out, nil
}

func (f *fakeInstanceStore) HardDelete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.instances, id)
	return nil
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (f *fakeAuditStore) Record(ctx context.Context, instanceID, action, message string, details map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := &models.AuditEntry{
		ID:        uuid.NewString(),
		Action:    action,
		Message:   message,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if instanceID != "" {
		id := instanceID
		entry.InstanceID = &id
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditStore) GetByInstanceID(ctx context.Context, instanceID string, limit int) ([]*models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AuditEntry
	for i := len(f.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := f.entries[i]
		if e.InstanceID != nil && *e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAuditStore) hasAction(action string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

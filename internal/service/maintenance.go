package service

import (
	"context"
	"fmt"
	"log"

	"github.com/shopkite/platform/provisioner/internal/models"
)

// MaintenanceService runs the periodic sweeps: health checks over running
// instances, cleanup of deleted instances' leftover containers, and drift
// reconciliation between the runtime and the ledger. Each sweep is an
// independent unit of work driven from the admin API or opsctl; there is no
// in-process scheduler.
type MaintenanceService struct {
	customers     CustomerStore
	subscriptions SubscriptionStore
	store         InstanceStore
	audit         AuditStore
	instances     *InstanceService
	runtime       ContainerRuntime
	router        RouterManager
	locks         *InstanceLocks
}

func NewMaintenanceService(
	customers CustomerStore,
	subscriptions SubscriptionStore,
	store InstanceStore,
	audit AuditStore,
	instances *InstanceService,
	runtime ContainerRuntime,
	router RouterManager,
	locks *InstanceLocks,
) *MaintenanceService {
	return &MaintenanceService{
		customers:     customers,
		subscriptions: subscriptions,
		store:         store,
		audit:         audit,
		instances:     instances,
		runtime:       runtime,
		router:        router,
		locks:         locks,
	}
}

// SweepResult summarizes one bulk sweep.
type SweepResult struct {
	Checked   int
	Healthy   int
	Unhealthy int
	Errors    int
}

// HealthSweep probes every running instance. Individual failures never
// abort the sweep.
func (m *MaintenanceService) HealthSweep(ctx context.Context) (*SweepResult, error) {
	running, err := m.store.ListByStatus(ctx, models.StatusRunning)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for _, inst := range running {
		result.Checked++
		if m.instances.HealthCheck(ctx, inst) {
			result.Healthy++
		} else {
			result.Unhealthy++
		}
	}

	log.Printf("[maintenance] health sweep: %d checked, %d healthy, %d unhealthy",
		result.Checked, result.Healthy, result.Unhealthy)
	return result, nil
}

// CleanupDeleted removes containers still present for instances the ledger
// already considers deleted.
func (m *MaintenanceService) CleanupDeleted(ctx context.Context) (*SweepResult, error) {
	deleted, err := m.store.ListByStatus(ctx, models.StatusDeleted)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for _, inst := range deleted {
		if inst.ContainerID == "" {
			continue
		}
		result.Checked++

		unlock := m.locks.Lock(inst.ID)
		found, err := m.runtime.Remove(ctx, inst.ContainerID, deleteStopGrace)
		if err != nil {
			unlock()
			result.Errors++
			log.Printf("[maintenance] cleanup %s: %v", inst.Subdomain, err)
			continue
		}

		inst.ContainerID = ""
		inst.ContainerName = ""
		if err := m.store.Update(ctx, inst); err != nil {
			unlock()
			result.Errors++
			log.Printf("[maintenance] cleanup %s: %v", inst.Subdomain, err)
			continue
		}
		unlock()

		if found {
			m.record(ctx, inst.ID, models.ActionDelete, fmt.Sprintf("Removed leftover container for %s", inst.Subdomain))
		}
	}

	log.Printf("[maintenance] cleanup: %d containers processed, %d errors", result.Checked, result.Errors)
	return result, nil
}

// SyncStatus reconciles ledger status with observed runtime state. The
// runtime wins: a container someone started by hand is marked running, a
// dead container under a running ledger row is marked stopped, and a
// missing one is marked error.
func (m *MaintenanceService) SyncStatus(ctx context.Context) (*SweepResult, error) {
	instances, err := m.store.ListSyncable(ctx)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for _, inst := range instances {
		result.Checked++

		unlock := m.locks.Lock(inst.ID)
		if err := m.syncOne(ctx, inst); err != nil {
			result.Errors++
			log.Printf("[maintenance] sync %s: %v", inst.Subdomain, err)
		}
		unlock()
	}

	// The sweep also reconverges edge routing: a config write that failed
	// right after provisioning marked the instance running would otherwise
	// never be retried.
	rewrote := 0
	for _, inst := range instances {
		if err := m.router.WriteConfig(inst); err != nil {
			result.Errors++
			log.Printf("[maintenance] rewrite routing config for %s: %v", inst.Subdomain, err)
			continue
		}
		rewrote++
	}
	if rewrote > 0 {
		if err := m.router.Apply(ctx); err != nil {
			result.Errors++
			log.Printf("[maintenance] apply routing configs: %v", err)
		}
	}

	log.Printf("[maintenance] status sync: %d checked, %d errors", result.Checked, result.Errors)
	return result, nil
}

func (m *MaintenanceService) syncOne(ctx context.Context, inst *models.Instance) error {
	state, found, err := m.runtime.State(ctx, inst.ContainerID)
	if err != nil {
		return err
	}

	switch {
	case !found:
		if inst.Status == models.StatusRunning {
			if err := m.store.SetStatus(ctx, inst.ID, models.StatusError, "Container not found"); err != nil {
				return err
			}
			m.record(ctx, inst.ID, models.ActionError, fmt.Sprintf("Container missing for %s, marked error", inst.Subdomain))
		}
	case state == models.ContainerRunning:
		if inst.Status != models.StatusRunning {
			if err := m.store.SetStatus(ctx, inst.ID, models.StatusRunning, ""); err != nil {
				return err
			}
			m.record(ctx, inst.ID, models.ActionStart, fmt.Sprintf("Runtime shows %s running, ledger updated", inst.Subdomain))
		}
	default:
		if inst.Status == models.StatusRunning {
			if err := m.store.SetStatus(ctx, inst.ID, models.StatusStopped, "Container "+state); err != nil {
				return err
			}
			m.record(ctx, inst.ID, models.ActionStop, fmt.Sprintf("Container for %s is %s, marked stopped", inst.Subdomain, state))
		}
	}
	return nil
}

// Overview aggregates platform-wide counts for the admin dashboard.
func (m *MaintenanceService) Overview(ctx context.Context) (*models.OverviewResponse, error) {
	customers, err := m.customers.Count(ctx)
	if err != nil {
		return nil, err
	}
	activeSubs, err := m.subscriptions.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	byStatus, err := m.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range byStatus {
		total += n
	}

	return &models.OverviewResponse{
		Customers:           customers,
		ActiveSubscriptions: activeSubs,
		Instances:           total,
		InstancesByStatus:   byStatus,
	}, nil
}

func (m *MaintenanceService) record(ctx context.Context, instanceID, action, message string) {
	if err := m.audit.Record(ctx, instanceID, action, message, nil); err != nil {
		log.Printf("[maintenance] audit write failed: %v", err)
	}
}

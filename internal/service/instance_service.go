package service

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/shopkite/platform/provisioner/internal/config"
	"github.com/shopkite/platform/provisioner/internal/models"
)

const (
	appPort         = 8000
	healthPath      = "/health/"
	healthInterval  = 30 * time.Second
	healthTimeout   = 10 * time.Second
	healthRetries   = 3
	probeTimeout    = 5 * time.Second
	stopGrace       = 30 * time.Second
	deleteStopGrace = 10 * time.Second
)

// InstanceService drives the container lifecycle for instances: it owns the
// ledger mutations, audit entries and data directories around the raw
// runtime operations. Exported methods acquire the per-instance lock;
// sibling services in this package that already hold it call the
// unexported variants.
type InstanceService struct {
	cfg      config.InstanceConfig
	runtime  ContainerRuntime
	router   RouterManager
	store    InstanceStore
	audit    AuditStore
	ports    *PortAllocator
	locks    *InstanceLocks
	probeCli *http.Client
}

func NewInstanceService(
	cfg config.InstanceConfig,
	runtime ContainerRuntime,
	router RouterManager,
	store InstanceStore,
	audit AuditStore,
	ports *PortAllocator,
	locks *InstanceLocks,
) *InstanceService {
	return &InstanceService{
		cfg:      cfg,
		runtime:  runtime,
		router:   router,
		store:    store,
		audit:    audit,
		ports:    ports,
		locks:    locks,
		probeCli: &http.Client{Timeout: probeTimeout},
	}
}

// transition persists a status change, guarding the state machine, and
// writes the paired audit entry.
func (s *InstanceService) transition(ctx context.Context, inst *models.Instance, to, message, action string) error {
	if !models.ValidTransition(inst.Status, to) {
		return fmt.Errorf("illegal status transition %s -> %s for %s", inst.Status, to, inst.Subdomain)
	}

	if err := s.store.SetStatus(ctx, inst.ID, to, message); err != nil {
		return err
	}

	from := inst.Status
	inst.Status = to
	inst.StatusMessage = message

	s.record(ctx, inst.ID, action, fmt.Sprintf("Status %s -> %s for %s", from, to, inst.Subdomain), nil)
	return nil
}

// record writes an audit entry; audit failures are logged, never fatal.
func (s *InstanceService) record(ctx context.Context, instanceID, action, message string, details map[string]interface{}) {
	if err := s.audit.Record(ctx, instanceID, action, message, details); err != nil {
		log.Printf("[instance] audit write failed: %v", err)
	}
}

// refresh reloads the ledger row into the caller's snapshot. Exported
// methods call it right after taking the per-instance lock so a snapshot
// read before the lock cannot drive a second mutation.
func (s *InstanceService) refresh(ctx context.Context, inst *models.Instance) error {
	fresh, err := s.store.GetByID(ctx, inst.ID)
	if err != nil {
		return err
	}
	*inst = *fresh
	return nil
}

// Provision creates and starts the instance's container.
func (s *InstanceService) Provision(ctx context.Context, inst *models.Instance) error {
	unlock := s.locks.Lock(inst.ID)
	defer unlock()
	if err := s.refresh(ctx, inst); err != nil {
		return err
	}
	return s.provision(ctx, inst)
}

func (s *InstanceService) provision(ctx context.Context, inst *models.Instance) error {
	if err := s.transition(ctx, inst, models.StatusCreating, "", models.ActionCreate); err != nil {
		return err
	}
	s.record(ctx, inst.ID, models.ActionCreate, fmt.Sprintf("Starting provisioning for %s", inst.Subdomain), nil)

	if err := s.provisionSteps(ctx, inst); err != nil {
		if terr := s.transition(ctx, inst, models.StatusError, err.Error(), models.ActionError); terr != nil {
			log.Printf("[instance] persist error status for %s: %v", inst.Subdomain, terr)
		}
		s.record(ctx, inst.ID, models.ActionError, fmt.Sprintf("Failed to provision %s: %v", inst.Subdomain, err), nil)
		return err
	}

	if err := s.transition(ctx, inst, models.StatusRunning, "", models.ActionCreate); err != nil {
		return err
	}
	if err := s.store.Update(ctx, inst); err != nil {
		return fmt.Errorf("persist provisioned instance: %w", err)
	}

	s.record(ctx, inst.ID, models.ActionCreate, fmt.Sprintf("Successfully provisioned %s", inst.Subdomain),
		map[string]interface{}{"container_id": inst.ContainerID, "port": inst.Port})
	return nil
}

func (s *InstanceService) provisionSteps(ctx context.Context, inst *models.Instance) error {
	port, err := s.ports.Allocate(ctx, inst.ID, inst.Port)
	if err != nil {
		return err
	}
	inst.Port = port

	if err := s.runtime.EnsureNetwork(ctx); err != nil {
		return err
	}

	if err := s.createDataDirectories(inst); err != nil {
		return err
	}

	inst.ContainerName = "shopkite_" + inst.Subdomain

	containerID, err := s.runtime.CreateAndStart(ctx, s.containerSpec(inst))
	if err != nil {
		return err
	}

	inst.ContainerID = containerID
	return nil
}

func (s *InstanceService) containerSpec(inst *models.Instance) models.ContainerSpec {
	dataDir := inst.DataDirectory(s.cfg.DataRoot)

	return models.ContainerSpec{
		Name:  inst.ContainerName,
		Image: s.cfg.Image,
		Env: []string{
			"SITE_NAME=" + inst.SiteName,
			"ADMIN_EMAIL=" + inst.AdminEmail,
			"ADMIN_PASSWORD=" + inst.AdminPassword,
			"SECRET_KEY=" + inst.SecretKey,
			"DEBUG=False",
			"ALLOWED_HOSTS=" + inst.AllowedHosts(s.cfg.BaseDomain),
			"DATABASE_URL=sqlite:///db/db.sqlite3",
		},
		Binds: []string{
			dataDir + "/db:/app/db:rw",
			dataDir + "/media:/app/media:rw",
			dataDir + "/logs:/app/logs:rw",
		},
		HostPort:       inst.Port,
		AppPort:        appPort,
		HealthPath:     healthPath,
		HealthInterval: healthInterval,
		HealthTimeout:  healthTimeout,
		HealthRetries:  healthRetries,
	}
}

func (s *InstanceService) createDataDirectories(inst *models.Instance) error {
	dataDir := inst.DataDirectory(s.cfg.DataRoot)
	for _, sub := range []string{"db", "media", "logs"} {
		if err := os.MkdirAll(dataDir+"/"+sub, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	return nil
}

// Start starts a stopped instance. A missing container falls back to a
// full re-provision.
func (s *InstanceService) Start(ctx context.Context, inst *models.Instance) error {
	unlock := s.locks.Lock(inst.ID)
	defer unlock()
	if err := s.refresh(ctx, inst); err != nil {
		return err
	}
	return s.start(ctx, inst)
}

func (s *InstanceService) start(ctx context.Context, inst *models.Instance) error {
	if inst.ContainerID == "" {
		s.record(ctx, inst.ID, models.ActionStart, fmt.Sprintf("No container yet, provisioning %s", inst.Subdomain), nil)
		return s.provision(ctx, inst)
	}

	found, err := s.runtime.Start(ctx, inst.ContainerID)
	if err != nil {
		if terr := s.transition(ctx, inst, models.StatusError, err.Error(), models.ActionError); terr != nil {
			log.Printf("[instance] persist error status for %s: %v", inst.Subdomain, terr)
		}
		s.record(ctx, inst.ID, models.ActionError, fmt.Sprintf("Failed to start %s: %v", inst.Subdomain, err), nil)
		return err
	}
	if !found {
		s.record(ctx, inst.ID, models.ActionStart, fmt.Sprintf("Container not found, reprovisioning %s", inst.Subdomain), nil)
		return s.provision(ctx, inst)
	}

	if err := s.transition(ctx, inst, models.StatusRunning, "", models.ActionStart); err != nil {
		return err
	}
	s.record(ctx, inst.ID, models.ActionStart, fmt.Sprintf("Started %s", inst.Subdomain), nil)
	return nil
}

// Stop stops a running instance. A container that is already gone means
// the desired end state is reached, so it is treated as success.
func (s *InstanceService) Stop(ctx context.Context, inst *models.Instance) error {
	unlock := s.locks.Lock(inst.ID)
	defer unlock()
	if err := s.refresh(ctx, inst); err != nil {
		return err
	}
	return s.stop(ctx, inst)
}

func (s *InstanceService) stop(ctx context.Context, inst *models.Instance) error {
	found := false
	if inst.ContainerID != "" {
		var err error
		found, err = s.runtime.Stop(ctx, inst.ContainerID, stopGrace)
		if err != nil {
			s.record(ctx, inst.ID, models.ActionError, fmt.Sprintf("Failed to stop %s: %v", inst.Subdomain, err), nil)
			return err
		}
	}

	if err := s.transition(ctx, inst, models.StatusStopped, "", models.ActionStop); err != nil {
		return err
	}

	if found {
		s.record(ctx, inst.ID, models.ActionStop, fmt.Sprintf("Stopped %s", inst.Subdomain), nil)
	} else {
		s.record(ctx, inst.ID, models.ActionStop, fmt.Sprintf("Container already removed for %s", inst.Subdomain), nil)
	}
	return nil
}

// Restart restarts the instance's container, e.g. to pick up a changed
// allowed-hosts list.
func (s *InstanceService) Restart(ctx context.Context, inst *models.Instance) error {
	unlock := s.locks.Lock(inst.ID)
	defer unlock()
	if err := s.refresh(ctx, inst); err != nil {
		return err
	}
	return s.restart(ctx, inst)
}

func (s *InstanceService) restart(ctx context.Context, inst *models.Instance) error {
	if inst.ContainerID == "" {
		err := fmt.Errorf("no container to restart for %s", inst.Subdomain)
		s.record(ctx, inst.ID, models.ActionError, err.Error(), nil)
		return err
	}

	found, err := s.runtime.Restart(ctx, inst.ContainerID, stopGrace)
	if err != nil {
		s.record(ctx, inst.ID, models.ActionError, fmt.Sprintf("Failed to restart %s: %v", inst.Subdomain, err), nil)
		return err
	}
	if !found {
		err := fmt.Errorf("container not found for %s", inst.Subdomain)
		s.record(ctx, inst.ID, models.ActionError, err.Error(), nil)
		return err
	}

	if err := s.transition(ctx, inst, models.StatusRunning, "", models.ActionRestart); err != nil {
		return err
	}
	s.record(ctx, inst.ID, models.ActionRestart, fmt.Sprintf("Restarted %s", inst.Subdomain), nil)
	return nil
}

// Delete stops and removes the instance's container, optionally deleting
// its data directory, and marks the instance deleted.
func (s *InstanceService) Delete(ctx context.Context, inst *models.Instance, removeData bool) error {
	unlock := s.locks.Lock(inst.ID)
	defer unlock()
	if err := s.refresh(ctx, inst); err != nil {
		return err
	}
	return s.delete(ctx, inst, removeData)
}

func (s *InstanceService) delete(ctx context.Context, inst *models.Instance, removeData bool) error {
	if inst.ContainerID != "" {
		if _, err := s.runtime.Remove(ctx, inst.ContainerID, deleteStopGrace); err != nil {
			s.record(ctx, inst.ID, models.ActionError, fmt.Sprintf("Failed to delete %s: %v", inst.Subdomain, err), nil)
			return err
		}
	}

	if removeData {
		if err := os.RemoveAll(inst.DataDirectory(s.cfg.DataRoot)); err != nil {
			log.Printf("[instance] remove data for %s: %v", inst.Subdomain, err)
		}
	}

	if err := s.transition(ctx, inst, models.StatusDeleted, "", models.ActionDelete); err != nil {
		return err
	}
	s.record(ctx, inst.ID, models.ActionDelete, fmt.Sprintf("Deleted %s", inst.Subdomain),
		map[string]interface{}{"data_removed": removeData})
	return nil
}

// HealthCheck probes the instance. It never fails: every problem degrades
// to false, and the check outcome and timestamp are recorded regardless.
func (s *InstanceService) HealthCheck(ctx context.Context, inst *models.Instance) bool {
	healthy := s.probe(ctx, inst)

	now := time.Now().UTC()
	if err := s.store.TouchHealthCheck(ctx, inst.ID, now); err != nil {
		log.Printf("[instance] record health check for %s: %v", inst.Subdomain, err)
	}
	inst.LastHealthCheck = &now

	outcome := "FAILED"
	if healthy {
		outcome = "OK"
	}
	s.record(ctx, inst.ID, models.ActionHealthCheck, fmt.Sprintf("Health check: %s", outcome), nil)

	return healthy
}

func (s *InstanceService) probe(ctx context.Context, inst *models.Instance) bool {
	if inst.ContainerID == "" || inst.Port == 0 {
		return false
	}

	state, found, err := s.runtime.State(ctx, inst.ContainerID)
	if err != nil || !found || state != models.ContainerRunning {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d%s", inst.Port, healthPath)
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := s.probeCli.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Stats returns a best-effort resource snapshot, nil when unavailable.
func (s *InstanceService) Stats(ctx context.Context, inst *models.Instance) *models.ContainerStats {
	if inst.ContainerID == "" {
		return nil
	}
	stats, err := s.runtime.Stats(ctx, inst.ContainerID)
	if err != nil {
		return nil
	}
	return stats
}

// UpdateImage replaces the instance's container with one running the
// latest image, reusing its data directories.
func (s *InstanceService) UpdateImage(ctx context.Context, inst *models.Instance) error {
	unlock := s.locks.Lock(inst.ID)
	defer unlock()
	if err := s.refresh(ctx, inst); err != nil {
		return err
	}

	s.record(ctx, inst.ID, models.ActionRestart, fmt.Sprintf("Starting update for %s", inst.Subdomain), nil)

	if inst.ContainerID != "" {
		if _, err := s.runtime.Remove(ctx, inst.ContainerID, stopGrace); err != nil {
			s.record(ctx, inst.ID, models.ActionError, fmt.Sprintf("Failed to update %s: %v", inst.Subdomain, err), nil)
			return err
		}
		inst.ContainerID = ""
		if err := s.transition(ctx, inst, models.StatusStopped, "updating", models.ActionStop); err != nil {
			return err
		}
	}

	if err := s.runtime.PullImage(ctx, s.cfg.Image); err != nil {
		s.record(ctx, inst.ID, models.ActionError, fmt.Sprintf("Failed to pull image: %v", err), nil)
		return err
	}

	return s.provision(ctx, inst)
}

// Destroy tears an instance down completely: container, data directory,
// routing config, and (optionally) the ledger row itself.
func (s *InstanceService) Destroy(ctx context.Context, inst *models.Instance, hard bool) error {
	unlock := s.locks.Lock(inst.ID)
	defer unlock()
	if err := s.refresh(ctx, inst); err != nil {
		return err
	}

	if inst.ContainerID != "" {
		if _, err := s.runtime.Remove(ctx, inst.ContainerID, deleteStopGrace); err != nil {
			return fmt.Errorf("remove container: %w", err)
		}
	}

	if err := os.RemoveAll(inst.DataDirectory(s.cfg.DataRoot)); err != nil {
		log.Printf("[instance] remove data for %s: %v", inst.Subdomain, err)
	}

	if err := s.router.RemoveConfig(inst.Subdomain); err != nil {
		log.Printf("[instance] remove routing config for %s: %v", inst.Subdomain, err)
	} else if err := s.router.Apply(ctx); err != nil {
		log.Printf("[instance] apply routing after destroy of %s: %v", inst.Subdomain, err)
	}

	if hard {
		if err := s.store.HardDelete(ctx, inst.ID); err != nil {
			return err
		}
	} else {
		inst.ContainerID = ""
		inst.ContainerName = ""
		if err := s.store.Update(ctx, inst); err != nil {
			return err
		}
		// Re-destroying an already soft-deleted instance is a no-op here,
		// matching the other operations' treatment of re-invocation.
		if inst.Status != models.StatusDeleted {
			if err := s.transition(ctx, inst, models.StatusDeleted, "", models.ActionDelete); err != nil {
				return err
			}
		}
	}

	s.record(ctx, "", models.ActionDelete, fmt.Sprintf("Instance %s destroyed", inst.Subdomain),
		map[string]interface{}{"hard_delete": hard})
	return nil
}

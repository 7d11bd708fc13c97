package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/shopkite/platform/provisioner/internal/config"
	"github.com/shopkite/platform/provisioner/internal/models"
)

type serviceFixture struct {
	cfg     config.InstanceConfig
	runtime *fakeRuntime
	router  *fakeRouter
	store   *fakeInstanceStore
	audit   *fakeAuditStore
	locks   *InstanceLocks
	svc     *InstanceService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	cfg := config.InstanceConfig{
		Image:          "shopkite/shop:latest",
		BaseDomain:     "shopkite.app",
		ServerIP:       "203.0.113.10",
		Network:        "shopkite_net",
		DataRoot:       t.TempDir(),
		PortRangeStart: 10000,
		PortRangeEnd:   10099,
	}

	runtime := newFakeRuntime()
	router := newFakeRouter()
	store := newFakeInstanceStore()
	audit := &fakeAuditStore{}
	locks := NewInstanceLocks()
	ports := NewPortAllocator(cfg.PortRangeStart, cfg.PortRangeEnd, store)

	return &serviceFixture{
		cfg:     cfg,
		runtime: runtime,
		router:  router,
		store:   store,
		audit:   audit,
		locks:   locks,
		svc:     NewInstanceService(cfg, runtime, router, store, audit, ports, locks),
	}
}

func (f *serviceFixture) newInstance(t *testing.T, subdomain string) *models.Instance {
	t.Helper()
	inst := &models.Instance{
		Subdomain:  subdomain,
		SiteName:   subdomain,
		AdminEmail: "owner@example.com",
		Status:     models.StatusPending,
	}
	if err := f.store.Create(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
	return inst
}

func TestProvision(t *testing.T) {
	f := newServiceFixture(t)
	inst := f.newInstance(t, "janes-shop")

	if err := f.svc.Provision(context.Background(), inst); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	if inst.Status != models.StatusRunning {
		t.Errorf("status = %s, want running", inst.Status)
	}
	if inst.ContainerID == "" {
		t.Error("container id not recorded")
	}
	if inst.ContainerName != "shopkite_janes-shop" {
		t.Errorf("container name = %q", inst.ContainerName)
	}
	if inst.Port < 10000 || inst.Port > 10099 {
		t.Errorf("port = %d outside range", inst.Port)
	}

	// the ledger row reflects the same state
	stored, err := f.store.GetByID(context.Background(), inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.StatusRunning || stored.ContainerID != inst.ContainerID {
		t.Errorf("stored instance not updated: %+v", stored)
	}

	// data directories created
	for _, sub := range []string{"db", "media", "logs"} {
		dir := filepath.Join(f.cfg.DataRoot, inst.ID, sub)
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("data directory %s missing: %v", sub, err)
		}
	}

	// container spec carries the environment the app expects
	ctr := f.runtime.containers[inst.ContainerID]
	if ctr == nil {
		t.Fatal("container not present in runtime")
	}
	envHas := func(prefix string) bool {
		for _, e := range ctr.spec.Env {
			if strings.HasPrefix(e, prefix) {
				return true
			}
		}
		return false
	}
	for _, want := range []string{"SITE_NAME=", "ADMIN_PASSWORD=", "SECRET_KEY=", "DEBUG=False", "ALLOWED_HOSTS=janes-shop.shopkite.app,localhost"} {
		if !envHas(want) {
			t.Errorf("container env missing %s", want)
		}
	}
}

func TestProvisionFailureMarksError(t *testing.T) {
	f := newServiceFixture(t)
	f.runtime.createErr = errors.New("image pull refused")
	inst := f.newInstance(t, "janes-shop")

	err := f.svc.Provision(context.Background(), inst)
	if err == nil {
		t.Fatal("expected error")
	}

	stored, _ := f.store.GetByID(context.Background(), inst.ID)
	if stored.Status != models.StatusError {
		t.Errorf("status = %s, want error", stored.Status)
	}
	if !strings.Contains(stored.StatusMessage, "image pull refused") {
		t.Errorf("status message = %q", stored.StatusMessage)
	}
	if !f.audit.hasAction(models.ActionError) {
		t.Error("no error audit entry recorded")
	}
}

func TestStopMissingContainerSucceeds(t *testing.T) {
	f := newServiceFixture(t)
	inst := f.newInstance(t, "janes-shop")
	if err := f.svc.Provision(context.Background(), inst); err != nil {
		t.Fatal(err)
	}

	// someone removed the container out of band
	if _, err := f.runtime.Remove(context.Background(), inst.ContainerID, 0); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Stop(context.Background(), inst); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if inst.Status != models.StatusStopped {
		t.Errorf("status = %s, want stopped", inst.Status)
	}
}

func TestStartFallsBackToProvision(t *testing.T) {
	f := newServiceFixture(t)
	inst := f.newInstance(t, "janes-shop")
	if err := f.svc.Provision(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Stop(context.Background(), inst); err != nil {
		t.Fatal(err)
	}

	// container vanished while stopped
	if _, err := f.runtime.Remove(context.Background(), inst.ContainerID, 0); err != nil {
		t.Fatal(err)
	}
	before := f.runtime.created

	if err := f.svc.Start(context.Background(), inst); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if inst.Status != models.StatusRunning {
		t.Errorf("status = %s, want running", inst.Status)
	}
	if f.runtime.created != before+1 {
		t.Error("expected a fresh container to be provisioned")
	}
}

func TestStartRefreshesStaleSnapshot(t *testing.T) {
	f := newServiceFixture(t)
	inst := f.newInstance(t, "janes-shop")
	stale := *inst

	if err := f.svc.Provision(context.Background(), inst); err != nil {
		t.Fatal(err)
	}

	// a snapshot read before provisioning must not drive a second one
	if err := f.svc.Start(context.Background(), &stale); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.runtime.created != 1 {
		t.Errorf("created %d containers, want 1", f.runtime.created)
	}
	if stale.ContainerID != inst.ContainerID {
		t.Errorf("snapshot not reloaded: container %q, want %q", stale.ContainerID, inst.ContainerID)
	}
}

func TestRestartMissingContainerFails(t *testing.T) {
	f := newServiceFixture(t)
	inst := f.newInstance(t, "janes-shop")
	if err := f.svc.Provision(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
	if _, err := f.runtime.Remove(context.Background(), inst.ContainerID, 0); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Restart(context.Background(), inst); err == nil {
		t.Fatal("expected error restarting a missing container")
	}
}

func TestDeleteRemovesDataWhenAsked(t *testing.T) {
	f := newServiceFixture(t)
	inst := f.newInstance(t, "janes-shop")
	if err := f.svc.Provision(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
	dataDir := inst.DataDirectory(f.cfg.DataRoot)

	if err := f.svc.Delete(context.Background(), inst, true); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if inst.Status != models.StatusDeleted {
		t.Errorf("status = %s, want deleted", inst.Status)
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Error("data directory still present")
	}
	if len(f.runtime.containers) != 0 {
		t.Error("container still present in runtime")
	}
}

func TestHealthCheck(t *testing.T) {
	f := newServiceFixture(t)
	inst := f.newInstance(t, "janes-shop")
	if err := f.svc.Provision(context.Background(), inst); err != nil {
		t.Fatal(err)
	}

	t.Run("healthy endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health/" {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		u, _ := url.Parse(srv.URL)
		port, _ := strconv.Atoi(u.Port())
		inst.Port = port

		if !f.svc.HealthCheck(context.Background(), inst) {
			t.Error("healthy instance reported unhealthy")
		}
		if inst.LastHealthCheck == nil {
			t.Error("health check timestamp not recorded")
		}
	})

	t.Run("no listener", func(t *testing.T) {
		inst.Port = 1 // nothing listens there
		if f.svc.HealthCheck(context.Background(), inst) {
			t.Error("unreachable instance reported healthy")
		}
	})

	t.Run("container not running", func(t *testing.T) {
		f.runtime.containers[inst.ContainerID].state = models.ContainerExited
		if f.svc.HealthCheck(context.Background(), inst) {
			t.Error("exited container reported healthy")
		}
	})
}

func TestStats(t *testing.T) {
	f := newServiceFixture(t)
	inst := f.newInstance(t, "janes-shop")

	if got := f.svc.Stats(context.Background(), inst); got != nil {
		t.Error("stats for unprovisioned instance should be nil")
	}

	if err := f.svc.Provision(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
	stats := f.svc.Stats(context.Background(), inst)
	if stats == nil {
		t.Fatal("stats = nil for running container")
	}
	if stats.MemoryUsageMB != 128 {
		t.Errorf("memory = %v", stats.MemoryUsageMB)
	}
}

func TestDestroyHard(t *testing.T) {
	f := newServiceFixture(t)
	inst := f.newInstance(t, "janes-shop")
	if err := f.svc.Provision(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
	if err := f.router.WriteConfig(inst); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Destroy(context.Background(), inst, true); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if _, err := f.store.GetByID(context.Background(), inst.ID); err == nil {
		t.Error("ledger row still present after hard destroy")
	}
	if len(f.runtime.containers) != 0 {
		t.Error("container still present")
	}
	if _, ok := f.router.configs[inst.Subdomain]; ok {
		t.Error("routing config still present")
	}
}

func TestDestroySoftIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	inst := f.newInstance(t, "janes-shop")
	if err := f.svc.Provision(context.Background(), inst); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Destroy(context.Background(), inst, false); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := f.svc.Destroy(context.Background(), inst, false); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}

	got, err := f.store.GetByID(context.Background(), inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusDeleted {
		t.Errorf("status = %s, want deleted", got.Status)
	}
}

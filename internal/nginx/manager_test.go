package nginx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopkite/platform/provisioner/internal/models"
)

type recordingRunner struct {
	calls [][]string
	err   error
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) error {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.err
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	return NewManager(dir, nil, "shopkite.app", "/etc/letsencrypt/live", &recordingRunner{}), dir
}

func TestRenderSubdomainOnly(t *testing.T) {
	m, _ := newTestManager(t)
	inst := &models.Instance{Subdomain: "janes-shop", Port: 10001}

	out, err := m.Render(inst)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if !strings.Contains(out, "server_name janes-shop.shopkite.app;") {
		t.Error("missing subdomain server_name")
	}
	if !strings.Contains(out, "proxy_pass http://127.0.0.1:10001;") {
		t.Error("missing proxy_pass to instance port")
	}
	if strings.Contains(out, "443") || strings.Contains(out, "ssl_certificate") {
		t.Error("unexpected TLS directives without a custom domain")
	}
}

func TestRenderCustomDomainHTTPOnly(t *testing.T) {
	m, _ := newTestManager(t)
	inst := &models.Instance{
		Subdomain:    "janes-shop",
		Port:         10001,
		CustomDomain: "janes.example.com",
	}

	out, err := m.Render(inst)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if !strings.Contains(out, "server_name janes.example.com www.janes.example.com;") {
		t.Error("missing custom domain server_name")
	}
	if strings.Contains(out, "ssl_certificate") {
		t.Error("TLS directives present before certificate issuance")
	}
	if strings.Contains(out, "return 301") {
		t.Error("HTTPS redirect present before certificate issuance")
	}
}

func TestRenderCustomDomainWithTLS(t *testing.T) {
	m, _ := newTestManager(t)
	inst := &models.Instance{
		Subdomain:       "janes-shop",
		Port:            10001,
		CustomDomain:    "janes.example.com",
		CustomDomainSSL: true,
	}

	out, err := m.Render(inst)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if !strings.Contains(out, "listen 443 ssl;") {
		t.Error("missing 443 listener")
	}
	if !strings.Contains(out, "ssl_certificate /etc/letsencrypt/live/janes.example.com/fullchain.pem;") {
		t.Error("missing certificate path")
	}
	if !strings.Contains(out, "return 301 https://$host$request_uri;") {
		t.Error("missing HTTP to HTTPS redirect")
	}
}

func TestWriteAndRemoveConfig(t *testing.T) {
	m, dir := newTestManager(t)
	inst := &models.Instance{Subdomain: "janes-shop", Port: 10001}

	if err := m.WriteConfig(inst); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}

	path := filepath.Join(dir, "shopkite-janes-shop.conf")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(content), "janes-shop.shopkite.app") {
		t.Error("written config missing server_name")
	}

	// rewrite is idempotent
	if err := m.WriteConfig(inst); err != nil {
		t.Fatalf("WriteConfig again: %v", err)
	}

	// no temp files left behind
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}

	if err := m.RemoveConfig("janes-shop"); err != nil {
		t.Fatalf("RemoveConfig: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("config file still present after RemoveConfig")
	}

	// removing a missing config is fine
	if err := m.RemoveConfig("janes-shop"); err != nil {
		t.Fatalf("RemoveConfig missing: %v", err)
	}
}

func TestApply(t *testing.T) {
	runner := &recordingRunner{}
	m := NewManager(t.TempDir(), nil, "shopkite.app", "/etc/letsencrypt/live", runner)

	if err := m.Apply(context.Background()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(runner.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(runner.calls))
	}
	if runner.calls[0][0] != "nginx" || runner.calls[0][1] != "-t" {
		t.Errorf("first call = %v, want nginx -t", runner.calls[0])
	}
	if runner.calls[1][0] != "systemctl" {
		t.Errorf("second call = %v, want systemctl reload", runner.calls[1])
	}
}

func TestFindConflict(t *testing.T) {
	dir := t.TempDir()
	external := t.TempDir()
	m := NewManager(dir, []string{external, "/nonexistent"}, "shopkite.app", "/etc/letsencrypt/live", &recordingRunner{})

	write := func(t *testing.T, base, name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(base, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write(t, dir, "shopkite-janes-shop.conf",
		"server {\n    server_name janes.example.com www.janes.example.com;\n}\n")
	write(t, external, "legacy.conf",
		"server {\n    server_name old.example.com;\n}\n")

	t.Run("own file excluded", func(t *testing.T) {
		_, conflict, err := m.FindConflict("janes.example.com", "janes-shop")
		if err != nil {
			t.Fatal(err)
		}
		if conflict {
			t.Error("instance's own config reported as conflict")
		}
	})

	t.Run("other managed file conflicts", func(t *testing.T) {
		file, conflict, err := m.FindConflict("janes.example.com", "other-shop")
		if err != nil {
			t.Fatal(err)
		}
		if !conflict {
			t.Fatal("expected conflict")
		}
		if filepath.Base(file) != "shopkite-janes-shop.conf" {
			t.Errorf("conflict file = %s", file)
		}
	})

	t.Run("external dir scanned", func(t *testing.T) {
		_, conflict, err := m.FindConflict("old.example.com", "janes-shop")
		if err != nil {
			t.Fatal(err)
		}
		if !conflict {
			t.Error("external config not detected")
		}
	})

	t.Run("whole token match only", func(t *testing.T) {
		_, conflict, err := m.FindConflict("example.com", "")
		if err != nil {
			t.Fatal(err)
		}
		if conflict {
			t.Error("substring of server_name token reported as conflict")
		}
	})

	t.Run("free domain", func(t *testing.T) {
		_, conflict, err := m.FindConflict("fresh.example.net", "")
		if err != nil {
			t.Fatal(err)
		}
		if conflict {
			t.Error("unexpected conflict for unused domain")
		}
	})
}

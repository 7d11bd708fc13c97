package nginx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/shopkite/platform/provisioner/internal/models"
)

// CommandRunner executes an external command. Injected so config validation
// and reload can be faked in tests.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Manager generates and applies per-instance nginx virtual host configs.
// Config generation is deterministic from instance fields; applying (test +
// reload) is a separate fallible step so a bad write never goes live.
type Manager struct {
	configDir   string
	scanDirs    []string
	baseDomain  string
	certLiveDir string
	runner      CommandRunner
}

func NewManager(configDir string, scanDirs []string, baseDomain, certLiveDir string, runner CommandRunner) *Manager {
	return &Manager{
		configDir:   configDir,
		scanDirs:    scanDirs,
		baseDomain:  baseDomain,
		certLiveDir: certLiveDir,
		runner:      runner,
	}
}

// ConfigPath returns where an instance's vhost config lives.
func (m *Manager) ConfigPath(subdomain string) string {
	return filepath.Join(m.configDir, configFileName(subdomain))
}

func configFileName(subdomain string) string {
	return "shopkite-" + subdomain + ".conf"
}

var vhostTemplate = template.Must(template.New("vhost").Parse(`# Managed by provisioner. Do not edit; changes are overwritten.
server {
    listen 80;
    server_name {{.Subdomain}}.{{.BaseDomain}};

    location / {
        proxy_pass http://127.0.0.1:{{.Port}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
{{if .CustomDomain}}{{if .SSL}}
server {
    listen 80;
    server_name {{.CustomDomain}} www.{{.CustomDomain}};
    return 301 https://$host$request_uri;
}

server {
    listen 443 ssl;
    server_name {{.CustomDomain}} www.{{.CustomDomain}};

    ssl_certificate {{.CertLiveDir}}/{{.CustomDomain}}/fullchain.pem;
    ssl_certificate_key {{.CertLiveDir}}/{{.CustomDomain}}/privkey.pem;

    location / {
        proxy_pass http://127.0.0.1:{{.Port}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
{{else}}
server {
    listen 80;
    server_name {{.CustomDomain}} www.{{.CustomDomain}};

    location / {
        proxy_pass http://127.0.0.1:{{.Port}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
{{end}}{{end}}`))

type vhostData struct {
	Subdomain    string
	BaseDomain   string
	Port         int
	CustomDomain string
	SSL          bool
	CertLiveDir  string
}

// Render produces the vhost config for the instance's current fields:
// always the subdomain HTTP server, plus the custom domain server when set
// (HTTP-only until TLS is active, then HTTPS with an HTTP redirect).
func (m *Manager) Render(inst *models.Instance) (string, error) {
	data := vhostData{
		Subdomain:    inst.Subdomain,
		BaseDomain:   m.baseDomain,
		Port:         inst.Port,
		CustomDomain: inst.CustomDomain,
		SSL:          inst.CustomDomainSSL,
		CertLiveDir:  m.certLiveDir,
	}

	var buf bytes.Buffer
	if err := vhostTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render vhost config: %w", err)
	}
	return buf.String(), nil
}

// WriteConfig atomically (re)generates the instance's vhost config file.
// The caller decides when to Apply.
func (m *Manager) WriteConfig(inst *models.Instance) error {
	content, err := m.Render(inst)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(m.configDir, 0o755); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}

	// Write-temp-then-rename so nginx never sees a half-written file.
	tmp, err := os.CreateTemp(m.configDir, configFileName(inst.Subdomain)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp config: %w", err)
	}

	if err := os.Rename(tmpName, m.ConfigPath(inst.Subdomain)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("activate config: %w", err)
	}
	return nil
}

// RemoveConfig deletes the instance's vhost config. Missing file is fine.
func (m *Manager) RemoveConfig(subdomain string) error {
	err := os.Remove(m.ConfigPath(subdomain))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove config: %w", err)
	}
	return nil
}

// Apply validates the full nginx configuration and reloads the service.
// Validation failure leaves the running config untouched.
func (m *Manager) Apply(ctx context.Context) error {
	if err := m.runner.Run(ctx, "nginx", "-t"); err != nil {
		return fmt.Errorf("nginx config test: %w", err)
	}
	if err := m.runner.Run(ctx, "systemctl", "reload", "nginx"); err != nil {
		return fmt.Errorf("nginx reload: %w", err)
	}
	return nil
}

// FindConflict scans all managed and external nginx configs for a
// server_name referencing the candidate domain, skipping the excluded
// instance's own file. Returns the conflicting file path, if any.
func (m *Manager) FindConflict(domain, excludeSubdomain string) (string, bool, error) {
	excludeFile := ""
	if excludeSubdomain != "" {
		excludeFile = configFileName(excludeSubdomain)
	}

	dirs := append([]string{m.configDir}, m.scanDirs...)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", false, fmt.Errorf("scan %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if excludeFile != "" && entry.Name() == excludeFile {
				continue
			}

			path := filepath.Join(dir, entry.Name())
			content, err := os.ReadFile(path)
			if err != nil {
				continue // unreadable configs are someone else's problem
			}

			text := string(content)
			if strings.Contains(text, "server_name") && containsDomain(text, domain) {
				return path, true, nil
			}
		}
	}

	return "", false, nil
}

// containsDomain matches the domain as a whole server_name token so that
// "shop.example.com" does not collide with "myshop.example.com".
func containsDomain(content, domain string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "server_name") {
			continue
		}
		names := strings.Fields(strings.TrimSuffix(strings.TrimPrefix(trimmed, "server_name"), ";"))
		for _, name := range names {
			if strings.TrimSuffix(name, ";") == domain {
				return true
			}
		}
	}
	return false
}

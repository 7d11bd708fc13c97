package certs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandRunner executes an external command, injected for tests.
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

// Manager issues and removes domain-validated certificates via certbot.
type Manager struct {
	liveDir string
	email   string
	runner  CommandRunner
}

func NewManager(liveDir, email string, runner CommandRunner) *Manager {
	return &Manager{liveDir: liveDir, email: email, runner: runner}
}

// Exists reports whether a certificate is already present on disk for the
// domain. Expected to be false routinely; not an error.
func (m *Manager) Exists(domain string) bool {
	_, err := os.Stat(filepath.Join(m.liveDir, domain, "fullchain.pem"))
	return err == nil
}

// Obtain runs certbot non-interactively for the domain and its www variant.
func (m *Manager) Obtain(ctx context.Context, domain string) error {
	err := m.runner.Run(ctx, "certbot",
		"--nginx",
		"-d", domain,
		"-d", "www."+domain,
		"--non-interactive",
		"--agree-tos",
		"--email", m.email,
	)
	if err != nil {
		return fmt.Errorf("obtain certificate for %s: %w", domain, err)
	}
	return nil
}

// Delete removes the certificate for a domain.
func (m *Manager) Delete(ctx context.Context, domain string) error {
	err := m.runner.Run(ctx, "certbot",
		"delete",
		"--cert-name", domain,
		"--non-interactive",
	)
	if err != nil {
		return fmt.Errorf("delete certificate for %s: %w", domain, err)
	}
	return nil
}

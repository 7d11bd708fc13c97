package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopkite/platform/provisioner/internal/models"
)

type InstanceRepository struct {
	pool *pgxpool.Pool
}

func NewInstanceRepository(pool *pgxpool.Pool) *InstanceRepository {
	return &InstanceRepository{pool: pool}
}

const instanceColumns = `
	id, customer_id, subdomain, custom_domain, container_id, container_name, port,
	status, status_message, site_name, admin_email, admin_password, secret_key,
	welcome_email_sent, custom_domain_verified, custom_domain_ssl,
	created_at, updated_at, last_health_check
`

// Create inserts a new instance. Secrets are generated here, once, if unset.
func (r *InstanceRepository) Create(ctx context.Context, inst *models.Instance) error {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.SecretKey == "" {
		inst.SecretKey = models.GenerateSecretKey()
	}
	if inst.AdminPassword == "" {
		inst.AdminPassword = models.GenerateTempPassword(12)
	}

	query := `
		INSERT INTO instances (
			id, customer_id, subdomain, custom_domain, container_id, container_name,
			port, status, status_message, site_name, admin_email, admin_password,
			secret_key, welcome_email_sent, custom_domain_verified, custom_domain_ssl
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.pool.Exec(ctx, query,
		inst.ID, inst.CustomerID, inst.Subdomain, inst.CustomDomain, inst.ContainerID,
		inst.ContainerName, inst.Port, inst.Status, inst.StatusMessage, inst.SiteName,
		inst.AdminEmail, inst.AdminPassword, inst.SecretKey, inst.WelcomeEmailSent,
		inst.CustomDomainVerified, inst.CustomDomainSSL,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}

	return nil
}

// GetByID retrieves an instance by ID.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = $1`

	return r.scanInstance(r.pool.QueryRow(ctx, query, id))
}

// GetBySubdomain retrieves the non-deleted instance holding a subdomain.
func (r *InstanceRepository) GetBySubdomain(ctx context.Context, subdomain string) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM instances
		WHERE subdomain = $1 AND status <> $2
	`

	return r.scanInstance(r.pool.QueryRow(ctx, query, subdomain, models.StatusDeleted))
}

// GetByCustomer retrieves the customer's non-deleted instance.
func (r *InstanceRepository) GetByCustomer(ctx context.Context, customerID string) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM instances
		WHERE customer_id = $1 AND status <> $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	return r.scanInstance(r.pool.QueryRow(ctx, query, customerID, models.StatusDeleted))
}

// GetByCustomDomain finds the non-deleted instance owning a custom domain,
// excluding one instance ID (pass "" to exclude none).
func (r *InstanceRepository) GetByCustomDomain(ctx context.Context, domain, excludeID string) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM instances
		WHERE custom_domain = $1 AND status <> $2 AND id <> $3
		LIMIT 1
	`

	return r.scanInstance(r.pool.QueryRow(ctx, query, domain, models.StatusDeleted, excludeID))
}

// SubdomainTaken reports whether a subdomain is held by any non-deleted instance.
func (r *InstanceRepository) SubdomainTaken(ctx context.Context, subdomain string) (bool, error) {
	var taken bool
	query := `SELECT EXISTS (SELECT 1 FROM instances WHERE subdomain = $1 AND status <> $2)`
	if err := r.pool.QueryRow(ctx, query, subdomain, models.StatusDeleted).Scan(&taken); err != nil {
		return false, fmt.Errorf("check subdomain: %w", err)
	}
	return taken, nil
}

// Update persists the mutable instance fields.
func (r *InstanceRepository) Update(ctx context.Context, inst *models.Instance) error {
	query := `
		UPDATE instances SET
			custom_domain = $2, container_id = $3, container_name = $4, port = $5,
			status = $6, status_message = $7, site_name = $8,
			welcome_email_sent = $9, custom_domain_verified = $10, custom_domain_ssl = $11,
			last_health_check = $12, updated_at = now()
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query,
		inst.ID, inst.CustomDomain, inst.ContainerID, inst.ContainerName, inst.Port,
		inst.Status, inst.StatusMessage, inst.SiteName,
		inst.WelcomeEmailSent, inst.CustomDomainVerified, inst.CustomDomainSSL,
		inst.LastHealthCheck,
	)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}

	return nil
}

// SetStatus persists a status transition and its message.
func (r *InstanceRepository) SetStatus(ctx context.Context, id, status, message string) error {
	query := `
		UPDATE instances SET status = $2, status_message = $3, updated_at = now()
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, status, message)
	if err != nil {
		return fmt.Errorf("update instance status: %w", err)
	}

	return nil
}

// AssignPort persists a freshly allocated port.
func (r *InstanceRepository) AssignPort(ctx context.Context, id string, port int) error {
	query := `UPDATE instances SET port = $2, updated_at = now() WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, port)
	if err != nil {
		return fmt.Errorf("assign port: %w", err)
	}

	return nil
}

// UsedPorts returns every port held by a non-deleted instance.
func (r *InstanceRepository) UsedPorts(ctx context.Context) ([]int, error) {
	query := `SELECT port FROM instances WHERE status <> $1 AND port > 0`

	rows, err := r.pool.Query(ctx, query, models.StatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("query used ports: %w", err)
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan port: %w", err)
		}
		ports = append(ports, p)
	}

	return ports, rows.Err()
}

// TouchHealthCheck records when the instance was last probed.
func (r *InstanceRepository) TouchHealthCheck(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE instances SET last_health_check = $2, updated_at = now() WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("touch health check: %w", err)
	}

	return nil
}

// ListByStatus returns all instances in one status.
func (r *InstanceRepository) ListByStatus(ctx context.Context, status string) ([]*models.Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM instances
		WHERE status = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

// ListSyncable returns instances with a container identity that the drift
// sweep should compare against the runtime (everything but deleted/pending).
func (r *InstanceRepository) ListSyncable(ctx context.Context) ([]*models.Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM instances
		WHERE status NOT IN ($1, $2) AND container_id <> ''
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, models.StatusDeleted, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("query syncable instances: %w", err)
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

// ListAll returns every instance row.
func (r *InstanceRepository) ListAll(ctx context.Context) ([]*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

// CountByStatus returns instance counts grouped by status.
func (r *InstanceRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	query := `SELECT status, count(*) FROM instances GROUP BY status`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count instances: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}

	return counts, rows.Err()
}

// HardDelete removes the instance row entirely, releasing its subdomain and
// port for reuse. Audit rows referencing it are detached first.
func (r *InstanceRepository) HardDelete(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE audit_logs SET instance_id = NULL WHERE instance_id = $1`, id); err != nil {
		return fmt.Errorf("detach audit logs: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM instances WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *InstanceRepository) scanInstance(row pgx.Row) (*models.Instance, error) {
	inst := &models.Instance{}
	err := row.Scan(
		&inst.ID, &inst.CustomerID, &inst.Subdomain, &inst.CustomDomain,
		&inst.ContainerID, &inst.ContainerName, &inst.Port,
		&inst.Status, &inst.StatusMessage, &inst.SiteName, &inst.AdminEmail,
		&inst.AdminPassword, &inst.SecretKey, &inst.WelcomeEmailSent,
		&inst.CustomDomainVerified, &inst.CustomDomainSSL,
		&inst.CreatedAt, &inst.UpdatedAt, &inst.LastHealthCheck,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	return inst, nil
}

func (r *InstanceRepository) scanInstances(rows pgx.Rows) ([]*models.Instance, error) {
	var instances []*models.Instance
	for rows.Next() {
		inst, err := r.scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopkite/platform/provisioner/internal/models"
)

// AuditRepository is the append-only audit trail. Entries are never updated
// or deleted.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Create appends one audit entry.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Details == nil {
		entry.Details = map[string]interface{}{}
	}

	query := `
		INSERT INTO audit_logs (id, instance_id, action, message, details)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.InstanceID, entry.Action, entry.Message, entry.Details,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

// GetByInstanceID retrieves recent entries for an instance.
func (r *AuditRepository) GetByInstanceID(ctx context.Context, instanceID string, limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, instance_id, action, message, details, created_at
		FROM audit_logs
		WHERE instance_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, instanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry := &models.AuditEntry{}
		err := rows.Scan(&entry.ID, &entry.InstanceID, &entry.Action,
			&entry.Message, &entry.Details, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Record is a helper to append an entry for an instance. Pass an empty
// instanceID for a system-level event.
func (r *AuditRepository) Record(ctx context.Context, instanceID, action, message string, details map[string]interface{}) error {
	entry := &models.AuditEntry{
		Action:  action,
		Message: message,
		Details: details,
	}
	if instanceID != "" {
		entry.InstanceID = &instanceID
	}
	return r.Create(ctx, entry)
}

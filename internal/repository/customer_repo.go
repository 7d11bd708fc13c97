package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopkite/platform/provisioner/internal/models"
)

var ErrNotFound = errors.New("not found")

type CustomerRepository struct {
	pool *pgxpool.Pool
}

func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// Create inserts a new customer.
func (r *CustomerRepository) Create(ctx context.Context, c *models.Customer) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	query := `
		INSERT INTO customers (id, email, name, billing_customer_id, portal_password)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query, c.ID, c.Email, c.Name, c.BillingCustomerID, c.PortalPassword)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}

	return nil
}

// GetByBillingID retrieves a customer by billing-provider customer reference.
func (r *CustomerRepository) GetByBillingID(ctx context.Context, billingCustomerID string) (*models.Customer, error) {
	query := `
		SELECT id, email, name, billing_customer_id, portal_password, created_at, updated_at
		FROM customers
		WHERE billing_customer_id = $1
	`

	return r.scanCustomer(r.pool.QueryRow(ctx, query, billingCustomerID))
}

// GetByID retrieves a customer by ID.
func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	query := `
		SELECT id, email, name, billing_customer_id, portal_password, created_at, updated_at
		FROM customers
		WHERE id = $1
	`

	return r.scanCustomer(r.pool.QueryRow(ctx, query, id))
}

// UpdateEmail records a changed contact email.
func (r *CustomerRepository) UpdateEmail(ctx context.Context, id, email string) error {
	query := `UPDATE customers SET email = $2, updated_at = now() WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, email)
	if err != nil {
		return fmt.Errorf("update customer email: %w", err)
	}

	return nil
}

// SetPortalPassword stores the hashed portal credential.
func (r *CustomerRepository) SetPortalPassword(ctx context.Context, id, hashed string) error {
	query := `UPDATE customers SET portal_password = $2, updated_at = now() WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, hashed)
	if err != nil {
		return fmt.Errorf("update portal password: %w", err)
	}

	return nil
}

// Count returns the total number of customers.
func (r *CustomerRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM customers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count customers: %w", err)
	}
	return n, nil
}

func (r *CustomerRepository) scanCustomer(row pgx.Row) (*models.Customer, error) {
	c := &models.Customer{}
	err := row.Scan(&c.ID, &c.Email, &c.Name, &c.BillingCustomerID, &c.PortalPassword,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	return c, nil
}

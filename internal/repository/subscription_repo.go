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

type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

const subscriptionColumns = `
	id, customer_id, billing_subscription_id, billing_price_id, status,
	current_period_start, current_period_end, cancelled_at, created_at, updated_at
`

// Upsert inserts a subscription row keyed by the billing subscription id,
// updating status, price and period on redelivery.
func (r *SubscriptionRepository) Upsert(ctx context.Context, s *models.Subscription) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	query := `
		INSERT INTO subscriptions (
			id, customer_id, billing_subscription_id, billing_price_id, status,
			current_period_start, current_period_end
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (billing_subscription_id) DO UPDATE SET
			billing_price_id = EXCLUDED.billing_price_id,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = now()
	`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.CustomerID, s.BillingSubscriptionID, s.BillingPriceID, s.Status,
		s.CurrentPeriodStart, s.CurrentPeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	return nil
}

// GetByBillingID retrieves a subscription by billing-provider reference.
func (r *SubscriptionRepository) GetByBillingID(ctx context.Context, billingSubscriptionID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE billing_subscription_id = $1
	`

	return r.scanSubscription(r.pool.QueryRow(ctx, query, billingSubscriptionID))
}

// GetLatestByCustomer returns the customer's most recent subscription row,
// or ErrNotFound when the customer has none.
func (r *SubscriptionRepository) GetLatestByCustomer(ctx context.Context, customerID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	return r.scanSubscription(r.pool.QueryRow(ctx, query, customerID))
}

// GetActiveByCustomer resolves the customer's current entitlement: the most
// recent row whose status is active or trialing.
func (r *SubscriptionRepository) GetActiveByCustomer(ctx context.Context, customerID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE customer_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	return r.scanSubscription(r.pool.QueryRow(ctx, query, customerID,
		models.SubStatusActive, models.SubStatusTrialing))
}

// SetStatus updates a subscription's status.
func (r *SubscriptionRepository) SetStatus(ctx context.Context, id, status string) error {
	query := `UPDATE subscriptions SET status = $2, updated_at = now() WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}

	return nil
}

// Cancel marks a subscription cancelled with a timestamp. The row is kept.
func (r *SubscriptionRepository) Cancel(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE subscriptions
		SET status = $2, cancelled_at = $3, updated_at = now()
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, models.SubStatusCancelled, at)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}

	return nil
}

// CountActive returns the number of active subscriptions.
func (r *SubscriptionRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	query := `SELECT count(*) FROM subscriptions WHERE status = $1`
	if err := r.pool.QueryRow(ctx, query, models.SubStatusActive).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active subscriptions: %w", err)
	}
	return n, nil
}

func (r *SubscriptionRepository) scanSubscription(row pgx.Row) (*models.Subscription, error) {
	s := &models.Subscription{}
	err := row.Scan(
		&s.ID, &s.CustomerID, &s.BillingSubscriptionID, &s.BillingPriceID, &s.Status,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelledAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return s, nil
}

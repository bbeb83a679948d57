package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionRepository interface {
	// GetOrCreate returns the user's subscription, creating an INACTIVE one on first use.
	GetOrCreate(ctx context.Context, userID int64) (*domain.Subscription, error)
	// Update applies fn to the row while holding its lock and persists the
	// result. An error from fn aborts without writing.
	Update(ctx context.Context, userID int64, fn func(*domain.Subscription) error) (*domain.Subscription, error)
	// MarkExpired flips ACTIVE to INACTIVE only if valid_until still equals the
	// value the caller observed, so a concurrent renewal is never overwritten.
	MarkExpired(ctx context.Context, userID int64, observedValidUntil time.Time) (bool, error)
	FindByBillingID(ctx context.Context, billingID string) (*domain.Subscription, error)
}

type subscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepository(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepository{pool: pool}
}

const subscriptionCols = `user_id, status, start_date, valid_until, consecutive_payment_failures,
COALESCE(billing_subscription_id, ''), created_at, updated_at`

func scanSubscription(row scanner) (*domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(
		&s.UserID, &s.Status, &s.StartDate, &s.ValidUntil, &s.ConsecutivePaymentFailures,
		&s.BillingSubscriptionID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *subscriptionRepository) GetOrCreate(ctx context.Context, userID int64) (*domain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	const insertQ = `INSERT INTO subscriptions (user_id, status) VALUES ($1, 'INACTIVE')
	ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, insertQ, userID); err != nil {
		return nil, err
	}

	const q = `SELECT ` + subscriptionCols + ` FROM subscriptions WHERE user_id=$1`
	return scanSubscription(r.pool.QueryRow(ctx, q, userID))
}

func (r *subscriptionRepository) Update(ctx context.Context, userID int64, fn func(*domain.Subscription) error) (*domain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialises concurrent billing events for the same user.
	const lockQ = `SELECT ` + subscriptionCols + ` FROM subscriptions WHERE user_id=$1 FOR UPDATE`
	s, err := scanSubscription(tx.QueryRow(ctx, lockQ, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := fn(s); err != nil {
		return nil, err
	}

	const q = `UPDATE subscriptions SET
		status = $2,
		start_date = $3,
		valid_until = $4,
		consecutive_payment_failures = $5,
		billing_subscription_id = NULLIF($6, ''),
		updated_at = now()
	WHERE user_id = $1
	RETURNING updated_at`

	err = tx.QueryRow(ctx, q,
		s.UserID, s.Status, s.StartDate, s.ValidUntil, s.ConsecutivePaymentFailures, s.BillingSubscriptionID,
	).Scan(&s.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s, nil
}

func (r *subscriptionRepository) MarkExpired(ctx context.Context, userID int64, observedValidUntil time.Time) (bool, error) {
	const q = `UPDATE subscriptions SET status='INACTIVE', updated_at=now()
	WHERE user_id=$1 AND status='ACTIVE' AND valid_until=$2`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, userID, observedValidUntil)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *subscriptionRepository) FindByBillingID(ctx context.Context, billingID string) (*domain.Subscription, error) {
	const q = `SELECT ` + subscriptionCols + ` FROM subscriptions WHERE billing_subscription_id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	s, err := scanSubscription(r.pool.QueryRow(ctx, q, billingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

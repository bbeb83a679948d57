package service

import (
	"context"
	"fmt"

	"github.com/diagnosis/afyaplus/pkg/events"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/diagnosis/afyaplus/services/api/internal/repository"
)

// BillingRef identifies the subscription a billing event belongs to. The
// external id wins; UserID is only used to link a first event.
type BillingRef struct {
	SubscriptionID string
	UserID         int64
}

// SubscriptionService owns the cover lifecycle. Every read goes through lazy
// expiry first; there is no background sweeper.
type SubscriptionService interface {
	Get(ctx context.Context, userID int64) (*domain.Subscription, error)
	Status(ctx context.Context, userID int64) (domain.SubscriptionView, error)
	Activate(ctx context.Context, userID int64, source string) (*domain.Subscription, error)
	Cancel(ctx context.Context, userID int64) (*domain.Subscription, error)
	PaymentSucceeded(ctx context.Context, ref BillingRef) (*domain.Subscription, error)
	PaymentFailed(ctx context.Context, ref BillingRef) (*domain.Subscription, error)
	BillingCanceled(ctx context.Context, ref BillingRef) (*domain.Subscription, error)
}

type subscriptionService struct {
	repo           repository.SubscriptionRepository
	publisher      events.Publisher
	activationDays int
	graceFailures  int
	now            Clock
}

func NewSubscriptionService(
	repo repository.SubscriptionRepository,
	publisher events.Publisher,
	activationDays, graceFailures int,
	now Clock,
) SubscriptionService {
	return &subscriptionService{
		repo:           repo,
		publisher:      publisher,
		activationDays: activationDays,
		graceFailures:  graceFailures,
		now:            orSystemClock(now),
	}
}

func (s *subscriptionService) Get(ctx context.Context, userID int64) (*domain.Subscription, error) {
	sub, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return s.normalize(ctx, sub)
}

// normalize persists lazy expiry. If a concurrent writer changed valid_until
// in between, the fresh row is evaluated instead.
func (s *subscriptionService) normalize(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	now := s.now()
	if !sub.Expired(now) {
		return sub, nil
	}

	observed := *sub.ValidUntil
	updated, err := s.repo.MarkExpired(ctx, sub.UserID, observed)
	if err != nil {
		return nil, fmt.Errorf("failed to expire subscription: %w", err)
	}
	if !updated {
		fresh, err := s.repo.GetOrCreate(ctx, sub.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload subscription: %w", err)
		}
		fresh.Normalize(now)
		return fresh, nil
	}

	sub.Normalize(now)
	logger.InfoContext(ctx, "Subscription expired", "user_id", sub.UserID, "valid_until", observed)
	s.publishChange(ctx, sub, "expiry")
	return sub, nil
}

func (s *subscriptionService) Status(ctx context.Context, userID int64) (domain.SubscriptionView, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return domain.SubscriptionView{}, err
	}
	return sub.View(), nil
}

func (s *subscriptionService) Activate(ctx context.Context, userID int64, source string) (*domain.Subscription, error) {
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}
	return s.activate(ctx, userID, "", source)
}

func (s *subscriptionService) activate(ctx context.Context, userID int64, link, source string) (*domain.Subscription, error) {
	sub, err := s.repo.Update(ctx, userID, func(sub *domain.Subscription) error {
		s.link(ctx, sub, link)
		sub.Activate(s.now(), s.activationDays)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to activate subscription: %w", err)
	}

	logger.InfoContext(ctx, "Subscription activated", "user_id", sub.UserID, "valid_until", sub.ValidUntil, "source", source)
	s.publishChange(ctx, sub, source)
	return sub, nil
}

func (s *subscriptionService) Cancel(ctx context.Context, userID int64) (*domain.Subscription, error) {
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}
	return s.cancel(ctx, userID, "", "api")
}

func (s *subscriptionService) cancel(ctx context.Context, userID int64, link, source string) (*domain.Subscription, error) {
	sub, err := s.repo.Update(ctx, userID, func(sub *domain.Subscription) error {
		s.link(ctx, sub, link)
		sub.Cancel()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	logger.InfoContext(ctx, "Subscription canceled", "user_id", sub.UserID, "source", source)
	s.publishChange(ctx, sub, source)
	return sub, nil
}

func (s *subscriptionService) PaymentSucceeded(ctx context.Context, ref BillingRef) (*domain.Subscription, error) {
	userID, link, err := s.locate(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.activate(ctx, userID, link, "billing")
}

// PaymentFailed increments the failure counter on the locked row, so
// concurrent deliveries each count once.
func (s *subscriptionService) PaymentFailed(ctx context.Context, ref BillingRef) (*domain.Subscription, error) {
	userID, link, err := s.locate(ctx, ref)
	if err != nil {
		return nil, err
	}

	var before domain.SubscriptionStatus
	sub, err := s.repo.Update(ctx, userID, func(sub *domain.Subscription) error {
		s.link(ctx, sub, link)
		sub.Normalize(s.now())
		before = sub.Status
		sub.RecordPaymentFailure(s.graceFailures)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record payment failure: %w", err)
	}

	logger.WarnContext(ctx, "Subscription payment failed",
		"user_id", sub.UserID,
		"consecutive_failures", sub.ConsecutivePaymentFailures,
		"status", sub.Status,
	)
	if before != sub.Status {
		s.publishChange(ctx, sub, "billing")
	}
	return sub, nil
}

func (s *subscriptionService) BillingCanceled(ctx context.Context, ref BillingRef) (*domain.Subscription, error) {
	userID, link, err := s.locate(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, userID, link, "billing")
}

// locate resolves a billing event to its user. link is the external id to
// record on the row when the event arrived by metadata rather than by id.
func (s *subscriptionService) locate(ctx context.Context, ref BillingRef) (userID int64, link string, err error) {
	if ref.SubscriptionID != "" {
		sub, err := s.repo.FindByBillingID(ctx, ref.SubscriptionID)
		if err != nil {
			return 0, "", fmt.Errorf("failed to find subscription by billing id: %w", err)
		}
		if sub != nil {
			if _, err := s.normalize(ctx, sub); err != nil {
				return 0, "", err
			}
			return sub.UserID, "", nil
		}
	}
	if ref.UserID == 0 {
		return 0, "", domain.ErrNotFound
	}

	if _, err := s.Get(ctx, ref.UserID); err != nil {
		return 0, "", err
	}
	return ref.UserID, ref.SubscriptionID, nil
}

func (s *subscriptionService) link(ctx context.Context, sub *domain.Subscription, billingID string) {
	if billingID == "" || sub.BillingSubscriptionID == billingID {
		return
	}
	if sub.BillingSubscriptionID != "" {
		logger.WarnContext(ctx, "Replacing billing subscription id",
			"user_id", sub.UserID, "old", sub.BillingSubscriptionID, "new", billingID)
	}
	sub.BillingSubscriptionID = billingID
}

func (s *subscriptionService) publishChange(ctx context.Context, sub *domain.Subscription, source string) {
	subject := events.SubscriptionChanged
	if sub.Status == domain.SubscriptionActive {
		subject = events.SubscriptionActivated
	}
	event := events.SubscriptionChangedEvent{
		UserID:     sub.UserID,
		Status:     string(sub.Status),
		ValidUntil: sub.ValidUntil,
		Source:     source,
		ChangedAt:  s.now(),
	}
	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish subscription event", logger.Err(err), "user_id", sub.UserID)
	}
}

package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/afyaplus/pkg/events"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/diagnosis/afyaplus/services/api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_StatusCreatesInactive(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "patient")

	view, err := f.subscriptions.Status(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionInactive, view.Status)
	assert.Nil(t, view.StartDate)
	assert.Nil(t, view.ValidUntil)
}

func TestSubscription_ActivateSetsSevenDays(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "patient")

	sub, err := f.subscriptions.Activate(context.Background(), u.ID, "test")
	require.NoError(t, err)

	now := f.clock.Now()
	assert.Equal(t, domain.SubscriptionActive, sub.Status)
	require.NotNil(t, sub.ValidUntil)
	assert.WithinDuration(t, now.Add(7*24*time.Hour), *sub.ValidUntil, time.Second)
	assert.Contains(t, f.publisher.published(), events.SubscriptionActivated)
}

func TestSubscription_LazyExpiryIsPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "patient")

	_, err := f.subscriptions.Activate(ctx, u.ID, "test")
	require.NoError(t, err)

	f.clock.Advance(7*24*time.Hour + time.Minute)

	stored, err := f.store.Subscriptions().GetOrCreate(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, stored.Status, "nothing sweeps in the background")

	view, err := f.subscriptions.Status(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionInactive, view.Status)
	assert.NotNil(t, view.ValidUntil)

	stored, err = f.store.Subscriptions().GetOrCreate(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionInactive, stored.Status)
	assert.Contains(t, f.publisher.published(), events.SubscriptionChanged)
}

func TestSubscription_StillValidAtBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "patient")

	_, err := f.subscriptions.Activate(ctx, u.ID, "test")
	require.NoError(t, err)
	f.clock.Advance(7 * 24 * time.Hour)

	view, err := f.subscriptions.Status(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, view.Status)
}

func TestSubscription_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "patient")

	_, err := f.subscriptions.Activate(ctx, u.ID, "test")
	require.NoError(t, err)

	sub, err := f.subscriptions.Cancel(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionCanceled, sub.Status)

	view, err := f.subscriptions.Status(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionCanceled, view.Status)
}

func TestSubscription_BillingLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "patient")

	// First contact links the external id through metadata.
	sub, err := f.subscriptions.PaymentSucceeded(ctx, service.BillingRef{SubscriptionID: "sub_123", UserID: u.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, sub.Status)
	assert.Equal(t, "sub_123", sub.BillingSubscriptionID)

	byBilling := service.BillingRef{SubscriptionID: "sub_123"}
	for i := 1; i <= 2; i++ {
		sub, err = f.subscriptions.PaymentFailed(ctx, byBilling)
		require.NoError(t, err)
		assert.Equal(t, i, sub.ConsecutivePaymentFailures)
		assert.Equal(t, domain.SubscriptionActive, sub.Status)
	}

	sub, err = f.subscriptions.PaymentFailed(ctx, byBilling)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionPaused, sub.Status)

	sub, err = f.subscriptions.PaymentSucceeded(ctx, byBilling)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, sub.Status)
	assert.Zero(t, sub.ConsecutivePaymentFailures)

	sub, err = f.subscriptions.BillingCanceled(ctx, byBilling)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionCanceled, sub.Status)

	view, err := f.subscriptions.Status(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionCanceled, view.Status)
}

func TestSubscription_ConcurrentPaymentFailuresAllCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "patient")

	_, err := f.subscriptions.PaymentSucceeded(ctx, service.BillingRef{SubscriptionID: "sub_race", UserID: u.ID})
	require.NoError(t, err)

	const deliveries = 12
	var wg sync.WaitGroup
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.subscriptions.PaymentFailed(ctx, service.BillingRef{SubscriptionID: "sub_race"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.store.Subscriptions().GetOrCreate(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, deliveries, stored.ConsecutivePaymentFailures)
	assert.Equal(t, domain.SubscriptionPaused, stored.Status)

	changes := 0
	for _, subject := range f.publisher.published() {
		if subject == events.SubscriptionChanged {
			changes++
		}
	}
	assert.Equal(t, 1, changes, "only the delivery that crossed the grace limit publishes")
}

func TestSubscription_PaymentFailureKeepsCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "patient")

	_, err := f.subscriptions.PaymentSucceeded(ctx, service.BillingRef{SubscriptionID: "sub_late", UserID: u.ID})
	require.NoError(t, err)
	_, err = f.subscriptions.BillingCanceled(ctx, service.BillingRef{SubscriptionID: "sub_late"})
	require.NoError(t, err)

	sub, err := f.subscriptions.PaymentFailed(ctx, service.BillingRef{SubscriptionID: "sub_late"})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionCanceled, sub.Status)
	assert.Equal(t, "sub_late", sub.BillingSubscriptionID)
}

func TestSubscription_UnknownBillingReference(t *testing.T) {
	f := newFixture(t)

	_, err := f.subscriptions.PaymentFailed(context.Background(), service.BillingRef{SubscriptionID: "sub_missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

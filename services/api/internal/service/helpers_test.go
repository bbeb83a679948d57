package service_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/afyaplus/pkg/auth"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/diagnosis/afyaplus/pkg/notify"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/diagnosis/afyaplus/services/api/internal/repository/memstore"
	"github.com/diagnosis/afyaplus/services/api/internal/service"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetDefault(logger.New(io.Discard, "error"))
}

// ---------- Fakes ----------

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeVerifier struct {
	identities map[string]*auth.Identity
	err        error
}

func (f *fakeVerifier) Verify(_ context.Context, credential string) (*auth.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.identities[credential]
	if !ok {
		return nil, auth.ErrInvalidCredential
	}
	cp := *id
	return &cp, nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg notify.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
}

func (d *recordingDispatcher) byType(typ string) []notify.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []notify.Message
	for _, m := range d.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}

// ---------- Fixture ----------

type fixture struct {
	clock         *fakeClock
	store         *memstore.Store
	dispatcher    *recordingDispatcher
	publisher     *recordingPublisher
	marketplace   service.MarketplaceService
	subscriptions service.SubscriptionService
	profiles      service.ProfileService
	ussd          service.USSDService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := newFakeClock()
	store := memstore.New().WithClock(clock.Now)
	dispatcher := &recordingDispatcher{}
	publisher := &recordingPublisher{}

	subs := service.NewSubscriptionService(store.Subscriptions(), publisher, 7, 3, clock.Now)
	return &fixture{
		clock:         clock,
		store:         store,
		dispatcher:    dispatcher,
		publisher:     publisher,
		marketplace:   service.NewMarketplaceService(store.Requests(), store.Users(), dispatcher, publisher, "TZS", clock.Now),
		subscriptions: subs,
		profiles:      service.NewProfileService(store.Doctors(), store.Users()),
		ussd:          service.NewUSSDService(service.NewPhoneResolver(store.Users()), subs, "AfyaPlus", 7, clock.Now),
	}
}

// user provisions a bearer identity with a push token so notifications route.
func (f *fixture) user(t *testing.T, subject string) *domain.User {
	t.Helper()
	ctx := context.Background()

	u, _, err := f.store.Users().GetOrCreate(ctx, &domain.User{
		Origin:      domain.OriginFirebase,
		ExternalID:  subject,
		DisplayName: subject,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Users().SetPushToken(ctx, u.ID, "fcm-"+subject))
	u.PushToken = "fcm-" + subject
	return u
}

func ptr(v float64) *float64 { return &v }

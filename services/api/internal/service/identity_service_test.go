package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/diagnosis/afyaplus/pkg/auth"
	"github.com/diagnosis/afyaplus/services/api/internal/domain"
	"github.com/diagnosis/afyaplus/services/api/internal/repository/memstore"
	"github.com/diagnosis/afyaplus/services/api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_ResolveProvisionsOnce(t *testing.T) {
	store := memstore.New()
	verifier := &fakeVerifier{identities: map[string]*auth.Identity{
		"good-token": {Subject: "uid-1", Email: "Asha@Example.com", Name: "Asha"},
	}}
	identity := service.NewIdentityService(verifier, store.Users())
	ctx := context.Background()

	first, err := identity.Resolve(ctx, "good-token")
	require.NoError(t, err)
	assert.Equal(t, domain.OriginFirebase, first.Origin)
	assert.Equal(t, "uid-1", first.ExternalID)
	assert.Equal(t, "Asha", first.DisplayName)
	assert.Equal(t, "asha@example.com", first.Email)

	second, err := identity.Resolve(ctx, "good-token")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestIdentity_ConcurrentFirstSightCreatesOneUser(t *testing.T) {
	store := memstore.New()
	verifier := &fakeVerifier{identities: map[string]*auth.Identity{
		"tok": {Subject: "uid-race"},
	}}
	identity := service.NewIdentityService(verifier, store.Users())

	const n = 16
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := identity.Resolve(context.Background(), "tok")
			if assert.NoError(t, err) {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestIdentity_Errors(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	_, err := service.NewIdentityService(&fakeVerifier{}, store.Users()).Resolve(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = service.NewIdentityService(&fakeVerifier{}, store.Users()).Resolve(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	down := &fakeVerifier{err: auth.ErrVerifierUnavailable}
	_, err = service.NewIdentityService(down, store.Users()).Resolve(ctx, "any")
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestIdentity_DisplayNameFallsBackToEmailLocalPart(t *testing.T) {
	store := memstore.New()
	verifier := &fakeVerifier{identities: map[string]*auth.Identity{
		"tok": {Subject: "uid-2", Email: "doc@clinic.tz"},
	}}

	u, err := service.NewIdentityService(verifier, store.Users()).Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "doc", u.DisplayName)
}

func TestPhoneResolver_SeparateTrustDomain(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	// A bearer identity whose subject happens to be a phone number.
	bearer, _, err := store.Users().GetOrCreate(ctx, &domain.User{
		Origin: domain.OriginFirebase, ExternalID: "+255700000001",
	})
	require.NoError(t, err)

	phones := service.NewPhoneResolver(store.Users())
	ussdUser, err := phones.ResolveByPhone(ctx, "+255 700 000 001")
	require.NoError(t, err)
	assert.NotEqual(t, bearer.ID, ussdUser.ID)
	assert.Equal(t, domain.OriginUSSD, ussdUser.Origin)
	assert.Equal(t, "user_+255700000001", ussdUser.DisplayName)

	again, err := phones.ResolveByPhone(ctx, "+255700000001")
	require.NoError(t, err)
	assert.Equal(t, ussdUser.ID, again.ID)

	_, err = phones.ResolveByPhone(ctx, "12")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

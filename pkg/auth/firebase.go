package auth

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/sony/gobreaker/v2"
)

// FirebaseVerifier validates Firebase ID tokens. Repeated verifier outages trip
// a breaker so requests fail fast with ErrVerifierUnavailable.
type FirebaseVerifier struct {
	client  *fbauth.Client
	breaker *gobreaker.CircuitBreaker[*fbauth.Token]
}

func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[*fbauth.Token](gobreaker.Settings{
		Name:        "firebase-auth",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// Rejected tokens do not count as failures.
		IsSuccessful: func(err error) bool {
			return err == nil || isCredentialError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &FirebaseVerifier{client: client, breaker: breaker}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	token, err := v.breaker.Execute(func() (*fbauth.Token, error) {
		return v.client.VerifyIDToken(ctx, credential)
	})
	if err != nil {
		if isCredentialError(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		}
		// Open breaker, certificate fetch failures and transport errors.
		return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}

	id := &Identity{Subject: token.UID}
	id.Email, _ = token.Claims["email"].(string)
	id.Name, _ = token.Claims["name"].(string)
	id.Phone, _ = token.Claims["phone_number"].(string)
	return id, nil
}

func isCredentialError(err error) bool {
	return fbauth.IsIDTokenInvalid(err) ||
		fbauth.IsIDTokenExpired(err) ||
		fbauth.IsIDTokenRevoked(err) ||
		fbauth.IsUserDisabled(err)
}

package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrInvalidCredential covers malformed, expired and forged credentials.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrVerifierUnavailable means the credential could not be checked at all.
	ErrVerifierUnavailable = errors.New("credential verifier unavailable")
	// ErrMalformedHeader is returned for an Authorization header that is not "Bearer <token>".
	ErrMalformedHeader = errors.New("malformed authorization header")
)

// Identity is what a verifier vouches for.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Phone   string
}

// Verifier checks an opaque bearer credential and returns the stable subject behind it.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// BearerToken extracts the token from an Authorization header value.
// An empty header yields ("", nil): the caller is anonymous.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.Contains(token, " ") {
		return "", ErrMalformedHeader
	}
	return token, nil
}

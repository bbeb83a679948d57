package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/diagnosis/afyaplus/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "", want: ""},
		{header: "   ", want: ""},
		{header: "Bearer abc.def", want: "abc.def"},
		{header: "bearer abc", want: "abc"},
		{header: "Bearer  abc ", want: "abc"},
		{header: "Bearer", wantErr: true},
		{header: "Bearer ", wantErr: true},
		{header: "Token abc", wantErr: true},
		{header: "Bearer a b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := auth.BearerToken(tt.header)
			if tt.wantErr {
				assert.ErrorIs(t, err, auth.ErrMalformedHeader)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJWTVerifier(t *testing.T) {
	const secret = "test-secret"
	verifier := auth.NewJWTVerifier(secret, "afyaplus-test")
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		token, err := auth.NewToken("uid-1", "a@b.tz", "Asha", "afyaplus-test", secret, time.Hour)
		require.NoError(t, err)

		id, err := verifier.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, &auth.Identity{Subject: "uid-1", Email: "a@b.tz", Name: "Asha"}, id)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := auth.NewToken("uid-1", "", "", "afyaplus-test", secret, -time.Minute)
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, token)
		assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := auth.NewToken("uid-1", "", "", "afyaplus-test", "other", time.Hour)
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, token)
		assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := auth.NewToken("uid-1", "", "", "someone-else", secret, time.Hour)
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, token)
		assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	})

	t.Run("missing subject", func(t *testing.T) {
		token, err := auth.NewToken("", "", "", "afyaplus-test", secret, time.Hour)
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, token)
		assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := verifier.Verify(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	})
}

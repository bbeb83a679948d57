package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "firebase", cfg.Auth.Verifier)
	assert.Equal(t, "inline", cfg.Notify.Mode)
	assert.Equal(t, 7, cfg.Subscription.ActivationDays)
	assert.Equal(t, 3, cfg.Subscription.GraceFailures)
	assert.Equal(t, "TZS", cfg.Subscription.Currency)
	assert.Empty(t, cfg.USSD.ServiceCodes)
	assert.Equal(t, time.Minute, cfg.Redis.RateLimitWindow)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.Firebase.Enabled())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "production")
	t.Setenv("PORT", "9000")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("AUTH_VERIFIER", "jwt")
	t.Setenv("JWT_SECRET", "rotated-production-secret")
	t.Setenv("NOTIFY_MODE", "nats")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("AFYA_PLUS_ACTIVATION_DAYS", "30")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("FIREBASE_PROJECT_ID", "afyaplus-prod")
	t.Setenv("USSD_SERVICE_CODES", "*384*1#,*150*00#")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "rotated-production-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 30, cfg.Subscription.ActivationDays)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Firebase.Enabled())
	assert.Equal(t, []string{"*384*1#", "*150*00#"}, cfg.USSD.ServiceCodes)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown storage", map[string]string{"STORAGE_DRIVER": "sqlite"}},
		{"unknown verifier", map[string]string{"AUTH_VERIFIER": "basic"}},
		{"unknown notify mode", map[string]string{"NOTIFY_MODE": "carrier-pigeon"}},
		{"nats mode without url", map[string]string{"NOTIFY_MODE": "nats"}},
		{"non positive activation", map[string]string{"AFYA_PLUS_ACTIVATION_DAYS": "0"}},
		{"default jwt secret in production", map[string]string{"APP_ENV": "production", "AUTH_VERIFIER": "jwt"}},
		{"empty jwt secret in production", map[string]string{"APP_ENV": "Production", "AUTH_VERIFIER": "jwt", "JWT_SECRET": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("ADMIN_EMAIL", "")
	t.Setenv("ADMIN_PASSWORD", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 24*time.Hour, cfg.JWTTTL)
	require.Equal(t, "orcamentos", cfg.JWTIssuer)
	require.Equal(t, 5, cfg.LoginMaxAttempts)
	require.Equal(t, 15*time.Minute, cfg.LoginLockoutWindow)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.False(t, cfg.IsProduction())

	tc := cfg.TokenConfig()
	require.Equal(t, []byte(cfg.JWTSecret), tc.Secret)
	require.Equal(t, cfg.JWTTTL, tc.TTL)
}

func TestLoadConfigRejects(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("ADMIN_EMAIL", "admin@example.com")
	t.Setenv("ADMIN_PASSWORD", "")
	_, err = LoadConfig()
	require.Error(t, err)
}

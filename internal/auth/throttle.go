package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ThrottleConfig bounds failed login attempts per subject.
type ThrottleConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// Throttle counts failed logins per normalized email in Redis. Redis failures never block
// a login: every method fails open and logs.
type Throttle struct {
	client *redis.Client
	cfg    ThrottleConfig
	logger *slog.Logger
}

// NewThrottle constructs a Throttle.
func NewThrottle(client *redis.Client, cfg ThrottleConfig, logger *slog.Logger) *Throttle {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttle{client: client, cfg: cfg, logger: logger}
}

func (t *Throttle) key(subject string) string {
	return "auth:login_failures:" + subject
}

// Locked reports whether subject has exhausted its attempts inside the window.
func (t *Throttle) Locked(ctx context.Context, subject string) bool {
	if t == nil || t.client == nil {
		return false
	}
	n, err := t.client.Get(ctx, t.key(subject)).Int()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			t.logger.Warn("login throttle read", slog.Any("error", err))
		}
		return false
	}
	return n >= t.cfg.MaxAttempts
}

// Fail records a failed attempt. The window starts at the first failure: the counter is
// created with its TTL and incremented in one MULTI, so it can never outlive the window.
func (t *Throttle) Fail(ctx context.Context, subject string) {
	if t == nil || t.client == nil {
		return
	}
	key := t.key(subject)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, t.cfg.Window)
		pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		t.logger.Warn("login throttle fail", slog.Any("error", err))
	}
}

// Reset clears the counter after a successful login.
func (t *Throttle) Reset(ctx context.Context, subject string) {
	if t == nil || t.client == nil {
		return
	}
	if err := t.client.Del(ctx, t.key(subject)).Err(); err != nil {
		t.logger.Warn("login throttle reset", slog.Any("error", err))
	}
}

package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/orcamentos/orcamentos/internal/shared"
)

// MinSecretLength is the minimum accepted signing secret size in bytes.
const MinSecretLength = 32

// TokenConfig configures the session token codec.
type TokenConfig struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// Token is an issued bearer token.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenCodec issues and verifies HS256 tokens carrying only the user id as subject. The
// remaining claims are the issuer check plus issued-at and expiry.
type TokenCodec struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenCodec validates cfg and returns a codec.
func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: token secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &TokenCodec{cfg: cfg, now: time.Now}, nil
}

// TTL returns the configured token lifetime.
func (c *TokenCodec) TTL() time.Duration {
	return c.cfg.TTL
}

// Issue signs a token for userID.
func (c *TokenCodec) Issue(userID int64) (Token, error) {
	now := c.now()
	expires := now.Add(c.cfg.TTL)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    c.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.Secret)
	if err != nil {
		return Token{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: expires.UTC()}, nil
}

// Verify returns the user id carried by token. Failures are shared.ErrTokenMissing,
// shared.ErrTokenExpired or shared.ErrTokenMalformed.
func (c *TokenCodec) Verify(token string) (int64, error) {
	if token == "" {
		return 0, shared.ErrTokenMissing
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.cfg.Issuer))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return c.cfg.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, shared.ErrTokenExpired
		}
		return 0, fmt.Errorf("%w: %v", shared.ErrTokenMalformed, err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad subject", shared.ErrTokenMalformed)
	}
	return id, nil
}

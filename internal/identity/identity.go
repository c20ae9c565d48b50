// Package identity issues and verifies credentials: API keys for machine
// and CLI callers, and short-lived JWT access tokens paired with rotating
// refresh tokens for interactive sessions.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrSecretMissing      = errors.New("jwt secret not configured")
	// ErrUnknownKey is what a KeyStore returns for a hash it does not hold.
	// Any other lookup error is passed through as a storage failure.
	ErrUnknownKey = errors.New("unknown api key")
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
	keyPrefix   = "tl_"
)

// KeyStore looks up stored API keys by hash, returning ErrUnknownKey when
// none matches.
type KeyStore interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)
}

// RevocationStore answers whether a refresh token id was invalidated.
type RevocationStore interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type Service struct {
	Secret      []byte
	Issuer      string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	Keys        KeyStore
	Revocations RevocationStore
	Now         func() time.Time
}

type Tokens struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// RefreshClaims is what a verified refresh token carries.
type RefreshClaims struct {
	ID        string
	Subject   string
	ExpiresAt time.Time
}

// claims carry identity only. Roles are looked up on every call so a
// revoked role takes effect before the token expires.
type claims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind"`
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// HashKey returns a stable SHA-256 hex digest for the provided key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// NewKey returns a fresh random API key.
func NewKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return keyPrefix + hex.EncodeToString(buf), nil
}

// Authenticate resolves an API key to the principal that owns it. Roles are
// not attached here.
func (s Service) Authenticate(ctx context.Context, key string) (auth.Principal, error) {
	key = strings.TrimSpace(key)
	if key == "" || s.Keys == nil {
		return auth.Principal{}, ErrInvalidCredentials
	}
	k, err := s.Keys.GetAPIKeyByHash(ctx, HashKey(key))
	if errors.Is(err, ErrUnknownKey) {
		return auth.Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return auth.Principal{}, fmt.Errorf("lookup api key: %w", err)
	}
	if k.ActorID == "" {
		return auth.Principal{}, ErrInvalidCredentials
	}
	return auth.Principal{ID: k.ActorID}, nil
}

// Issue mints an access and refresh token pair for p.
func (s Service) Issue(p auth.Principal) (Tokens, error) {
	if len(s.Secret) == 0 {
		return Tokens{}, ErrSecretMissing
	}
	if p.ID == "" {
		return Tokens{}, errors.New("principal id required")
	}
	now := s.now().UTC()
	accessExp := now.Add(s.AccessTTL)
	refreshExp := now.Add(s.RefreshTTL)
	access, err := s.sign(claims{
		RegisteredClaims: s.registered(p.ID, now, accessExp),
		Kind:             kindAccess,
	})
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.sign(claims{
		RegisteredClaims: s.registered(p.ID, now, refreshExp),
		Kind:             kindRefresh,
	})
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s Service) registered(subject string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    s.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (s Service) sign(c claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.Secret)
}

func (s Service) parse(token, kind string) (*claims, error) {
	if len(s.Secret) == 0 {
		return nil, ErrSecretMissing
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Issuer))
	}
	c := &claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return s.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !parsed.Valid || c.Subject == "" || c.Kind != kind {
		return nil, ErrInvalidCredentials
	}
	return c, nil
}

// Verify checks an access token and returns its principal. The principal
// has no roles attached.
func (s Service) Verify(token string) (auth.Principal, error) {
	c, err := s.parse(token, kindAccess)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{ID: c.Subject}, nil
}

// VerifyRefresh checks a refresh token, including revocation.
func (s Service) VerifyRefresh(ctx context.Context, token string) (RefreshClaims, error) {
	c, err := s.parse(token, kindRefresh)
	if err != nil {
		return RefreshClaims{}, err
	}
	if s.Revocations != nil {
		revoked, err := s.Revocations.IsTokenRevoked(ctx, c.ID)
		if err != nil {
			return RefreshClaims{}, err
		}
		if revoked {
			return RefreshClaims{}, ErrTokenRevoked
		}
	}
	return RefreshClaims{ID: c.ID, Subject: c.Subject, ExpiresAt: c.ExpiresAt.Time}, nil
}

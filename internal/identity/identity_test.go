package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/domain"
	"taskline/internal/engine/auth"
)

type memKeys map[string]domain.APIKey

func (m memKeys) GetAPIKeyByHash(_ context.Context, hash string) (domain.APIKey, error) {
	k, ok := m[hash]
	if !ok {
		return domain.APIKey{}, ErrUnknownKey
	}
	return k, nil
}

type memRevoked map[string]bool

func (m memRevoked) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	return m[jti], nil
}

func newService(now *time.Time) Service {
	return Service{
		Secret:      []byte("test-secret"),
		Issuer:      "taskline",
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  24 * time.Hour,
		Revocations: memRevoked{},
		Now:         func() time.Time { return *now },
	}
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newService(&now)

	tokens, err := svc.Issue(auth.Principal{ID: "u", Roles: []string{"manager"}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tokens.TokenType)

	p, err := svc.Verify(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u", p.ID)
	assert.Empty(t, p.Roles, "roles are resolved from storage, not the token")

	// A refresh token is not an access token.
	_, err = svc.Verify(tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	rc, err := svc.VerifyRefresh(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "u", rc.Subject)
	assert.NotEmpty(t, rc.ID)
}

func TestAccessTokenExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newService(&now)
	tokens, err := svc.Issue(auth.Principal{ID: "u"})
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	_, err = svc.Verify(tokens.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.VerifyRefresh(context.Background(), tokens.RefreshToken)
	assert.NoError(t, err)
}

func TestRevokedRefreshRejected(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newService(&now)
	tokens, err := svc.Issue(auth.Principal{ID: "u"})
	require.NoError(t, err)
	rc, err := svc.VerifyRefresh(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)

	svc.Revocations.(memRevoked)[rc.ID] = true
	_, err = svc.VerifyRefresh(context.Background(), tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestWrongSecretRejected(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newService(&now)
	tokens, err := svc.Issue(auth.Principal{ID: "u"})
	require.NoError(t, err)

	other := svc
	other.Secret = []byte("another")
	_, err = other.Verify(tokens.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestIssueRequiresSecret(t *testing.T) {
	_, err := Service{}.Issue(auth.Principal{ID: "u"})
	assert.ErrorIs(t, err, ErrSecretMissing)
}

func TestAuthenticateAPIKey(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "tl_"))

	svc := Service{Keys: memKeys{HashKey(key): {ID: "k1", ActorID: "u"}}}
	p, err := svc.Authenticate(context.Background(), " "+key+" ")
	require.NoError(t, err)
	assert.Equal(t, "u", p.ID)

	_, err = svc.Authenticate(context.Background(), "tl_unknown")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

type brokenKeys struct{ err error }

func (b brokenKeys) GetAPIKeyByHash(context.Context, string) (domain.APIKey, error) {
	return domain.APIKey{}, b.err
}

func TestAuthenticateStoreFailureIsNotACredentialError(t *testing.T) {
	down := errors.New("database is locked")
	svc := Service{Keys: brokenKeys{err: down}}
	_, err := svc.Authenticate(context.Background(), "tl_whatever")
	require.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

package banking

import (
	"context"
	"time"

	"finlink/internal/provider"
)

const (
	// DefaultScope is requested when the caller does not name one.
	DefaultScope = "login transfer"

	// expiryBuffer guards against clock skew and request latency: a token
	// inside this window is treated as already expired.
	expiryBuffer = 2 * time.Minute
)

// TokenStore persists per-user provider token sets.
type TokenStore interface {
	GetTokenSet(ctx context.Context, userID int64) (TokenSet, error)
	ReplaceTokenSet(ctx context.Context, userID int64, set TokenSet) error
}

// TokenRefresher is the provider refresh grant.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken, scope, userSeqNo string) (provider.TokenResponse, error)
}

// TokenManager is the single choke point through which every provider call
// obtains an access token. Callers never read raw token rows directly.
type TokenManager struct {
	store  TokenStore
	client TokenRefresher
	now    func() time.Time
}

func NewTokenManager(store TokenStore, client TokenRefresher) *TokenManager {
	return &TokenManager{
		store:  store,
		client: client,
		now:    time.Now,
	}
}

// EnsureAccessToken returns a usable access token for the user, silently
// refreshing when the cached one is absent, of unknown expiry, or within the
// buffer window. Concurrent refreshes for one user are last-write-wins; each
// persisted set is individually valid.
func (m *TokenManager) EnsureAccessToken(ctx context.Context, userID int64, scope string) (string, error) {
	if scope == "" {
		scope = DefaultScope
	}

	set, err := m.store.GetTokenSet(ctx, userID)
	if err != nil {
		return "", err
	}

	now := m.now().UTC()
	if set.AccessToken != "" && !set.ExpiresAt.IsZero() && set.ExpiresAt.Sub(now) > expiryBuffer {
		return set.AccessToken, nil
	}

	if set.RefreshToken == "" {
		return "", ErrRefreshTokenMissing
	}

	resp, err := m.client.Refresh(ctx, set.RefreshToken, scope, set.UserSeqNo)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", ErrRefreshResponseInvalid
	}

	next := TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: set.RefreshToken,
		UserSeqNo:    set.UserSeqNo,
	}
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
	}
	if resp.UserSeqNo != "" {
		next.UserSeqNo = resp.UserSeqNo
	}
	if resp.ExpiresIn > 0 {
		next.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	if err := m.store.ReplaceTokenSet(ctx, userID, next); err != nil {
		return "", err
	}

	return next.AccessToken, nil
}

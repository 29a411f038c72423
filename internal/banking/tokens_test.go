package banking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finlink/internal/provider"
)

type fakeTokenStore struct {
	sets       map[int64]TokenSet
	replaced   []TokenSet
	replaceErr error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{sets: make(map[int64]TokenSet)}
}

func (f *fakeTokenStore) GetTokenSet(ctx context.Context, userID int64) (TokenSet, error) {
	set, ok := f.sets[userID]
	if !ok {
		return TokenSet{}, ErrUserNotFound
	}
	return set, nil
}

func (f *fakeTokenStore) ReplaceTokenSet(ctx context.Context, userID int64, set TokenSet) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	if _, ok := f.sets[userID]; !ok {
		return ErrUserNotFound
	}
	f.sets[userID] = set
	f.replaced = append(f.replaced, set)
	return nil
}

type fakeRefresher struct {
	resp  provider.TokenResponse
	err   error
	calls int

	gotRefreshToken string
	gotScope        string
	gotUserSeqNo    string
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken, scope, userSeqNo string) (provider.TokenResponse, error) {
	f.calls++
	f.gotRefreshToken = refreshToken
	f.gotScope = scope
	f.gotUserSeqNo = userSeqNo
	return f.resp, f.err
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestEnsureAccessTokenUsesCachedToken(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	store := newFakeTokenStore()
	store.sets[7] = TokenSet{
		AccessToken:  "cached",
		RefreshToken: "R1",
		ExpiresAt:    now.Add(time.Hour),
	}
	refresher := &fakeRefresher{}

	manager := NewTokenManager(store, refresher)
	manager.now = fixedClock(now)

	token, err := manager.EnsureAccessToken(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
	assert.Equal(t, 0, refresher.calls, "a token outside the buffer window must not trigger a refresh")
	assert.Empty(t, store.replaced)
}

func TestEnsureAccessTokenRefreshesInsideBufferWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	store := newFakeTokenStore()
	store.sets[7] = TokenSet{
		AccessToken:  "stale",
		RefreshToken: "R1",
		UserSeqNo:    "1100012345",
		ExpiresAt:    now.Add(time.Minute),
	}
	refresher := &fakeRefresher{
		resp: provider.TokenResponse{AccessToken: "fresh", ExpiresIn: 3600},
	}

	manager := NewTokenManager(store, refresher)
	manager.now = fixedClock(now)

	token, err := manager.EnsureAccessToken(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, "R1", refresher.gotRefreshToken)
	assert.Equal(t, DefaultScope, refresher.gotScope)
	assert.Equal(t, "1100012345", refresher.gotUserSeqNo)

	persisted := store.sets[7]
	assert.Equal(t, "fresh", persisted.AccessToken)
	assert.Equal(t, "R1", persisted.RefreshToken, "missing refresh_token in the response keeps the prior one")
	assert.Equal(t, "1100012345", persisted.UserSeqNo)
	assert.Equal(t, now.Add(time.Hour), persisted.ExpiresAt)
}

func TestEnsureAccessTokenRefreshesWhenExpiryUnknown(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	store := newFakeTokenStore()
	store.sets[7] = TokenSet{AccessToken: "unknown-expiry", RefreshToken: "R1"}
	refresher := &fakeRefresher{
		resp: provider.TokenResponse{AccessToken: "fresh", RefreshToken: "R2", UserSeqNo: "1100099999"},
	}

	manager := NewTokenManager(store, refresher)
	manager.now = fixedClock(now)

	token, err := manager.EnsureAccessToken(context.Background(), 7, "login")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, "login", refresher.gotScope)

	persisted := store.sets[7]
	assert.Equal(t, "R2", persisted.RefreshToken, "a new refresh_token replaces the old one")
	assert.Equal(t, "1100099999", persisted.UserSeqNo)
	assert.True(t, persisted.ExpiresAt.IsZero(), "absent expires_in leaves the expiry unknown")
}

func TestEnsureAccessTokenMissingRefreshToken(t *testing.T) {
	store := newFakeTokenStore()
	store.sets[7] = TokenSet{AccessToken: "stale"}

	manager := NewTokenManager(store, &fakeRefresher{})

	_, err := manager.EnsureAccessToken(context.Background(), 7, "")
	assert.ErrorIs(t, err, ErrRefreshTokenMissing)
}

func TestEnsureAccessTokenUnknownUser(t *testing.T) {
	manager := NewTokenManager(newFakeTokenStore(), &fakeRefresher{})

	_, err := manager.EnsureAccessToken(context.Background(), 404, "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestEnsureAccessTokenInvalidRefreshResponse(t *testing.T) {
	store := newFakeTokenStore()
	store.sets[7] = TokenSet{RefreshToken: "R1"}
	refresher := &fakeRefresher{resp: provider.TokenResponse{ExpiresIn: 3600}}

	manager := NewTokenManager(store, refresher)

	_, err := manager.EnsureAccessToken(context.Background(), 7, "")
	assert.ErrorIs(t, err, ErrRefreshResponseInvalid)
	assert.Empty(t, store.replaced, "an invalid refresh response must not be persisted")
}

func TestEnsureAccessTokenRefreshFailurePassesThrough(t *testing.T) {
	store := newFakeTokenStore()
	store.sets[7] = TokenSet{RefreshToken: "revoked"}
	upstream := &provider.RefreshError{Status: 401, Body: `{"rsp_code":"O0002"}`}
	refresher := &fakeRefresher{err: upstream}

	manager := NewTokenManager(store, refresher)

	_, err := manager.EnsureAccessToken(context.Background(), 7, "")
	var refreshErr *provider.RefreshError
	require.True(t, errors.As(err, &refreshErr))
	assert.Equal(t, 401, refreshErr.Status)
}

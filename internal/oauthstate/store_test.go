package oauthstate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndConsumeOnce(t *testing.T) {
	store := NewStore(0)

	token, err := store.Issue()
	require.NoError(t, err)
	require.Len(t, token, 32)

	assert.True(t, store.ValidateAndConsume(token))
	assert.False(t, store.ValidateAndConsume(token), "a consumed state must not validate again")
}

func TestUnknownStateFails(t *testing.T) {
	store := NewStore(0)

	assert.False(t, store.ValidateAndConsume("never-issued"))
}

func TestExpiredStateFailsAndIsRemoved(t *testing.T) {
	store := NewStore(10 * time.Minute)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store.now = func() time.Time { return current }

	token, err := store.Issue()
	require.NoError(t, err)

	current = base.Add(10*time.Minute + time.Second)
	assert.False(t, store.ValidateAndConsume(token))
	assert.False(t, store.ValidateAndConsume(token), "expired state is consumed on first lookup")
	assert.Equal(t, 0, store.Pending())
}

func TestStateValidJustBeforeTTL(t *testing.T) {
	store := NewStore(10 * time.Minute)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store.now = func() time.Time { return current }

	token, err := store.Issue()
	require.NoError(t, err)

	current = base.Add(10*time.Minute - time.Second)
	assert.True(t, store.ValidateAndConsume(token))
}

func TestSweepExpired(t *testing.T) {
	store := NewStore(10 * time.Minute)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store.now = func() time.Time { return current }

	_, err := store.Issue()
	require.NoError(t, err)

	current = base.Add(5 * time.Minute)
	fresh, err := store.Issue()
	require.NoError(t, err)

	removed := store.SweepExpired(base.Add(11 * time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Pending())

	current = base.Add(12 * time.Minute)
	assert.True(t, store.ValidateAndConsume(fresh))
}

func TestConcurrentIssueAndConsume(t *testing.T) {
	store := NewStore(time.Minute)

	tokens := make([]string, 50)
	for i := range tokens {
		token, err := store.Issue()
		require.NoError(t, err)
		tokens[i] = token
	}

	var wg sync.WaitGroup
	consumed := make([]bool, len(tokens))
	for i, token := range tokens {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			consumed[i] = store.ValidateAndConsume(token)
		}(i, token)
	}
	wg.Wait()

	for i := range consumed {
		assert.True(t, consumed[i])
	}
	assert.Equal(t, 0, store.Pending())
}

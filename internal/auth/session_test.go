package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStorePutAndGet(t *testing.T) {
	store := NewSessionStore(0)
	sess := &Session{ID: "s1", TokenJTI: "jti1", ExpiresAt: time.Now().Add(time.Hour)}

	require.NoError(t, store.Put(sess))

	got, ok := store.Get("jti1")
	require.True(t, ok)
	assert.Equal(t, "s1", got.ID)
}

func TestSessionStoreGetMissingReturnsFalse(t *testing.T) {
	store := NewSessionStore(0)
	_, ok := store.Get("missing")
	assert.False(t, ok)
}

func TestSessionStoreRejectsOverCapacity(t *testing.T) {
	store := NewSessionStore(1)
	require.NoError(t, store.Put(&Session{TokenJTI: "a"}))

	err := store.Put(&Session{TokenJTI: "b"})
	require.Error(t, err)
	assert.Equal(t, 1, store.Count())
}

func TestSessionStoreReplaceExistingJTIDoesNotCountAsNew(t *testing.T) {
	store := NewSessionStore(1)
	require.NoError(t, store.Put(&Session{TokenJTI: "a", Disabled: false}))
	require.NoError(t, store.Put(&Session{TokenJTI: "a", Disabled: true}))

	got, ok := store.Get("a")
	require.True(t, ok)
	assert.True(t, got.Disabled)
}

func TestSessionStoreRevokeDisablesInPlace(t *testing.T) {
	store := NewSessionStore(0)
	require.NoError(t, store.Put(&Session{TokenJTI: "a"}))

	store.Revoke("a")

	got, ok := store.Get("a")
	require.True(t, ok)
	assert.True(t, got.Disabled)
}

func TestSessionStorePruneRemovesExpired(t *testing.T) {
	store := NewSessionStore(0)
	now := time.Now()
	require.NoError(t, store.Put(&Session{TokenJTI: "expired", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, store.Put(&Session{TokenJTI: "live", ExpiresAt: now.Add(time.Hour)}))

	removed := store.Prune(now)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Count())

	_, ok := store.Get("live")
	assert.True(t, ok)
}

package testutil

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewTestSessionRecord builds a session issued at issuedAt lasting one hour.
func NewTestSessionRecord(id string, issuedAt int64) *persistence.SessionRecord {
	return &persistence.SessionRecord{
		ID:         id,
		Controller: "0x00000000000000000000000000000000000000c0",
		Capabilities: []types.ResourceAbility{
			{Resource: types.WildcardPattern(types.ResourceKind_CustodiedKey), Ability: types.Ability_AccountSigning},
		},
		IssuedAt:  issuedAt,
		NotBefore: issuedAt,
		ExpiresAt: issuedAt + 3600,
	}
}

// RunSessionPersistenceSuite exercises the ISessionPersistence contract against a backend.
// newStore must return an empty store; the suite closes it.
func RunSessionPersistenceSuite(t *testing.T, newStore func(t *testing.T) persistence.ISessionPersistence) {
	t.Run("SaveAndLoad", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		record := NewTestSessionRecord("session-save-load", 1000)
		require.NoError(t, store.SaveSession(record))

		loaded, err := store.LoadSession(record.ID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, record, loaded)

		// Mutating the loaded copy must not leak into the store
		loaded.Capabilities[0].Ability = types.Ability_ActionExecution
		again, err := store.LoadSession(record.ID)
		require.NoError(t, err)
		assert.Equal(t, types.Ability_AccountSigning, again.Capabilities[0].Ability)
	})

	t.Run("LoadMissing", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		loaded, err := store.LoadSession("does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("SaveRejectsInvalid", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.Error(t, store.SaveSession(nil))
		require.Error(t, store.SaveSession(&persistence.SessionRecord{}))
	})

	t.Run("ListSorted", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		for _, issued := range []int64{3000, 1000, 2000} {
			require.NoError(t, store.SaveSession(NewTestSessionRecord(fmt.Sprintf("session-list-%d", issued), issued)))
		}

		sessions, err := store.ListSessions()
		require.NoError(t, err)
		require.Len(t, sessions, 3)
		assert.Equal(t, int64(1000), sessions[0].IssuedAt)
		assert.Equal(t, int64(2000), sessions[1].IssuedAt)
		assert.Equal(t, int64(3000), sessions[2].IssuedAt)
	})

	t.Run("Revoke", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		record := NewTestSessionRecord("session-revoke", 1000)
		require.NoError(t, store.SaveSession(record))
		require.NoError(t, store.RevokeSession(record.ID))

		loaded, err := store.LoadSession(record.ID)
		require.NoError(t, err)
		assert.True(t, loaded.Revoked)

		require.ErrorIs(t, store.RevokeSession("missing"), persistence.ErrSessionNotFound)
	})

	t.Run("RecordSignature", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		record := NewTestSessionRecord("session-count", 1000)
		require.NoError(t, store.SaveSession(record))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.RecordSignature(record.ID, 1500))
			}()
		}
		wg.Wait()

		loaded, err := store.LoadSession(record.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), loaded.SignCount)
		assert.Equal(t, int64(1500), loaded.LastUsedAt)

		require.ErrorIs(t, store.RecordSignature("missing", 1500), persistence.ErrSessionNotFound)
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.SaveSession(NewTestSessionRecord("session-old", 1000))) // expires 4600
		require.NoError(t, store.SaveSession(NewTestSessionRecord("session-new", 5000))) // expires 8600

		deleted, err := store.DeleteExpiredSessions(4600)
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)

		old, err := store.LoadSession("session-old")
		require.NoError(t, err)
		assert.Nil(t, old)

		sessions, err := store.ListSessions()
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "session-new", sessions[0].ID)
	})

	t.Run("ClosedStore", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.HealthCheck())
		require.NoError(t, store.Close())
		require.NoError(t, store.Close())

		require.Error(t, store.SaveSession(NewTestSessionRecord("after-close", 1)))
		_, err := store.LoadSession("after-close")
		require.Error(t, err)
		require.Error(t, store.HealthCheck())
	})
}

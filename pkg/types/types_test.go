package types

import (
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourcePattern(t *testing.T) {
	wildcard := WildcardPattern(ResourceKind_CustodiedKey)
	exact := ExactPattern(ResourceKind_SigningAction, "hello-action")

	assert.True(t, wildcard.Matches(ResourceKind_CustodiedKey, "any-key"))
	assert.False(t, wildcard.Matches(ResourceKind_SigningAction, "any-key"))
	assert.True(t, exact.Matches(ResourceKind_SigningAction, "hello-action"))
	assert.False(t, exact.Matches(ResourceKind_SigningAction, "other-action"))

	parsed, err := ParseResourcePattern(wildcard.String())
	require.NoError(t, err)
	assert.Equal(t, wildcard, parsed)

	_, err = ParseResourcePattern("custodied-key:/broken")
	require.Error(t, err)
	_, err = ParseResourcePattern("bucket://x")
	require.Error(t, err)
}

func TestCapabilityGrant(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	caps := []ResourceAbility{
		{Resource: WildcardPattern(ResourceKind_CustodiedKey), Ability: Ability_AccountSigning},
	}
	grant := NewCapabilityGrant("session-1", common.HexToAddress("0x01"), caps, NewValidityWindow(now, time.Hour), "token")

	t.Run("covers only granted ability", func(t *testing.T) {
		assert.True(t, grant.Covers(ResourceKind_CustodiedKey, "key-1", Ability_AccountSigning))
		assert.False(t, grant.Covers(ResourceKind_CustodiedKey, "key-1", Ability_ActionExecution))
		assert.False(t, grant.Covers(ResourceKind_SigningAction, "key-1", Ability_AccountSigning))
	})

	t.Run("window bounds", func(t *testing.T) {
		assert.True(t, grant.IsValidAt(now))
		assert.True(t, grant.IsValidAt(now.Add(59*time.Minute)))
		assert.False(t, grant.IsValidAt(now.Add(time.Hour)))
		assert.False(t, grant.IsValidAt(now.Add(-time.Second)))
	})

	t.Run("capabilities cannot be mutated by holders", func(t *testing.T) {
		got := grant.Capabilities()
		got[0].Ability = Ability_ActionExecution
		caps[0].Ability = Ability_ActionExecution
		assert.False(t, grant.Covers(ResourceKind_CustodiedKey, "key-1", Ability_ActionExecution))
	})
}

func TestAbility_IsSupported(t *testing.T) {
	assert.True(t, Ability_AccountSigning.IsSupported())
	assert.True(t, Ability_ActionExecution.IsSupported())
	assert.False(t, Ability("key-export").IsSupported())
}

func TestSignPayload(t *testing.T) {
	t.Run("raw message is EIP-191 hashed", func(t *testing.T) {
		p := NewRawMessage([]byte("hello world"))
		hash, err := p.SigningHash()
		require.NoError(t, err)
		assert.Equal(t, common.BytesToHash(TextHash([]byte("hello world"))), hash)
	})

	t.Run("digest is signed verbatim", func(t *testing.T) {
		digest := crypto.Keccak256Hash([]byte("payload"))
		p := NewPrehashedDigest(digest)
		hash, err := p.SigningHash()
		require.NoError(t, err)
		assert.Equal(t, digest, hash)
	})

	t.Run("wire digest of wrong length", func(t *testing.T) {
		_, err := PayloadFromWire(PayloadKind_PrehashedDigest, []byte{1, 2, 3})
		require.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("zero value payload is invalid", func(t *testing.T) {
		var p SignPayload
		require.ErrorIs(t, p.Validate(), ErrInvalidPayload)
	})
}

func TestCustodiedKeyHandle_Address(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	handle := CustodiedKeyHandle{KeyId: "key-1", PublicKey: crypto.FromECDSAPub(&key.PublicKey)}
	addr, err := handle.Address()
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)
	require.NoError(t, handle.Validate())

	require.Error(t, CustodiedKeyHandle{KeyId: "key-2", PublicKey: []byte{4, 1}}.Validate())
}

func TestErrorCodes(t *testing.T) {
	wrapped := fmt.Errorf("%w: %w", ErrSigningUnavailable, fmt.Errorf("dial tcp: refused"))
	assert.Equal(t, "signing_unavailable", ErrorCode(wrapped))
	assert.Equal(t, ErrSigningUnavailable, ErrorFromCode("signing_unavailable"))

	scoped := fmt.Errorf("%w: %w", ErrSigningUnavailable, ErrCapabilityExpired)
	assert.Equal(t, "capability_expired", ErrorCode(scoped))

	assert.Equal(t, "internal", ErrorCode(fmt.Errorf("boom")))
	assert.Nil(t, ErrorFromCode("nope"))
}

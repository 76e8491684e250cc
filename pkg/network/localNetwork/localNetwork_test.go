package localNetwork

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/auth"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/custody/localCustodian"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/network"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testHarness struct {
	net        *LocalNetwork
	store      *memory.MemoryPersistence
	keyId      string
	keyAddress common.Address
	controller *ecdsa.PrivateKey
	now        time.Time
}

func newHarness(t *testing.T, mutate func(cfg *Config)) *testHarness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	h := &testHarness{now: time.Unix(1700000000, 0)}
	cfg := NewDefaultConfig()
	cfg.Clock = func() time.Time { return h.now }
	if mutate != nil {
		mutate(cfg)
	}

	custodian := localCustodian.NewLocalCustodian(logger)
	key, err := custodian.GenerateKey(context.Background(), "session-signer", "")
	require.NoError(t, err)

	h.store = memory.NewMemoryPersistence()
	h.net, err = NewLocalNetwork(cfg, custodian, h.store, logger)
	require.NoError(t, err)

	h.keyId = key.KeyId
	h.keyAddress = key.Address
	h.controller, err = crypto.GenerateKey()
	require.NoError(t, err)
	h.net.PermitControllers(h.keyId, crypto.PubkeyToAddress(h.controller.PublicKey))
	return h
}

func (h *testHarness) authenticateAs(t *testing.T, key *ecdsa.PrivateKey) (*types.AuthProof, error) {
	t.Helper()
	ctx := context.Background()

	nonce, err := h.net.Nonce(ctx)
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)
	message := auth.BuildAuthMessage(address, auth.NewChallenge(nonce, h.now))
	sig, err := auth.SignAuthMessage(key, message)
	require.NoError(t, err)

	return h.net.Authenticate(ctx, &types.AuthRequest{Address: address.Hex(), Message: message, Signature: sig})
}

func (h *testHarness) authenticate(t *testing.T) *types.AuthProof {
	t.Helper()
	proof, err := h.authenticateAs(t, h.controller)
	require.NoError(t, err)
	return proof
}

func (h *testHarness) grant(t *testing.T, caps ...types.ResourceAbility) *types.CapabilityGrant {
	t.Helper()
	g, err := h.net.RequestCapability(context.Background(), h.authenticate(t), caps, types.ValidityWindow{})
	require.NoError(t, err)
	return g
}

var (
	accountSigning = types.ResourceAbility{
		Resource: types.WildcardPattern(types.ResourceKind_CustodiedKey),
		Ability:  types.Ability_AccountSigning,
	}
	actionExecution = types.ResourceAbility{
		Resource: types.WildcardPattern(types.ResourceKind_SigningAction),
		Ability:  types.Ability_ActionExecution,
	}
)

func recoverSigner(t *testing.T, hash []byte, sig []byte) common.Address {
	t.Helper()
	require.Len(t, sig, 65)
	require.True(t, sig[64] == 27 || sig[64] == 28)
	raw := append([]byte{}, sig...)
	raw[64] -= 27
	pub, err := crypto.SigToPub(hash, raw)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(*pub)
}

func TestNewLocalNetwork_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	custodian := localCustodian.NewLocalCustodian(logger)
	store := memory.NewMemoryPersistence()

	_, err := NewLocalNetwork(nil, custodian, store, logger)
	require.Error(t, err)
	_, err = NewLocalNetwork(NewDefaultConfig(), nil, store, logger)
	require.Error(t, err)
	_, err = NewLocalNetwork(NewDefaultConfig(), custodian, nil, logger)
	require.Error(t, err)
	_, err = NewLocalNetwork(NewDefaultConfig(), custodian, store, nil)
	require.Error(t, err)

	cfg := NewDefaultConfig()
	cfg.MaxSessionTTL = time.Minute
	_, err = NewLocalNetwork(cfg, custodian, store, logger)
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	t.Run("issues proof for the signer", func(t *testing.T) {
		proof := h.authenticate(t)
		assert.Equal(t, crypto.PubkeyToAddress(h.controller.PublicKey), proof.Controller)
		assert.NotEmpty(t, proof.Token)
		assert.Equal(t, h.now.Add(NewDefaultConfig().AuthTokenTTL), proof.ExpiresAt)
	})

	t.Run("nonce is single use", func(t *testing.T) {
		nonce, err := h.net.Nonce(ctx)
		require.NoError(t, err)
		address := crypto.PubkeyToAddress(h.controller.PublicKey)
		message := auth.BuildAuthMessage(address, auth.NewChallenge(nonce, h.now))
		sig, err := auth.SignAuthMessage(h.controller, message)
		require.NoError(t, err)
		req := &types.AuthRequest{Address: address.Hex(), Message: message, Signature: sig}

		_, err = h.net.Authenticate(ctx, req)
		require.NoError(t, err)
		_, err = h.net.Authenticate(ctx, req)
		require.ErrorIs(t, err, types.ErrAuthenticationFailed)
	})

	t.Run("unknown nonce", func(t *testing.T) {
		nonce, err := auth.GenerateNonce()
		require.NoError(t, err)
		address := crypto.PubkeyToAddress(h.controller.PublicKey)
		message := auth.BuildAuthMessage(address, auth.NewChallenge(nonce, h.now))
		sig, err := auth.SignAuthMessage(h.controller, message)
		require.NoError(t, err)

		_, err = h.net.Authenticate(ctx, &types.AuthRequest{Address: address.Hex(), Message: message, Signature: sig})
		require.ErrorIs(t, err, types.ErrAuthenticationFailed)
	})

	t.Run("bad signature", func(t *testing.T) {
		nonce, err := h.net.Nonce(ctx)
		require.NoError(t, err)
		address := crypto.PubkeyToAddress(h.controller.PublicKey)
		message := auth.BuildAuthMessage(address, auth.NewChallenge(nonce, h.now))
		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		sig, err := auth.SignAuthMessage(other, message)
		require.NoError(t, err)

		_, err = h.net.Authenticate(ctx, &types.AuthRequest{Address: address.Hex(), Message: message, Signature: sig})
		require.ErrorIs(t, err, types.ErrAuthenticationFailed)
	})
}

func TestRequestCapability(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	t.Run("default window", func(t *testing.T) {
		g := h.grant(t, accountSigning)
		assert.NotEmpty(t, g.Id())
		assert.Equal(t, crypto.PubkeyToAddress(h.controller.PublicKey), g.Controller())
		assert.Equal(t, h.now, g.Window().NotBefore)
		assert.Equal(t, h.now.Add(time.Hour), g.Window().ExpiresAt)
		assert.True(t, g.Covers(types.ResourceKind_CustodiedKey, h.keyId, types.Ability_AccountSigning))

		record, err := h.store.LoadSession(g.Id())
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, g.Controller().Hex(), record.Controller)
	})

	t.Run("unsupported ability", func(t *testing.T) {
		_, err := h.net.RequestCapability(ctx, h.authenticate(t), []types.ResourceAbility{{
			Resource: types.WildcardPattern(types.ResourceKind_CustodiedKey),
			Ability:  types.Ability("key-export"),
		}}, types.ValidityWindow{})
		require.ErrorIs(t, err, types.ErrUnsupportedAbility)
	})

	t.Run("empty capabilities", func(t *testing.T) {
		_, err := h.net.RequestCapability(ctx, h.authenticate(t), nil, types.ValidityWindow{})
		require.ErrorIs(t, err, types.ErrUnsupportedAbility)
	})

	t.Run("window longer than max", func(t *testing.T) {
		_, err := h.net.RequestCapability(ctx, h.authenticate(t), []types.ResourceAbility{accountSigning},
			types.NewValidityWindow(h.now, 48*time.Hour))
		require.ErrorIs(t, err, types.ErrCapabilityScopeMismatch)
	})

	t.Run("window already over", func(t *testing.T) {
		_, err := h.net.RequestCapability(ctx, h.authenticate(t), []types.ResourceAbility{accountSigning},
			types.NewValidityWindow(h.now.Add(-2*time.Hour), time.Hour))
		require.ErrorIs(t, err, types.ErrCapabilityExpired)
	})

	t.Run("forged auth token", func(t *testing.T) {
		proof := h.authenticate(t)
		proof.Token = proof.Token + "x"
		_, err := h.net.RequestCapability(ctx, proof, []types.ResourceAbility{accountSigning}, types.ValidityWindow{})
		require.ErrorIs(t, err, types.ErrAuthenticationFailed)
	})

	t.Run("expired auth token", func(t *testing.T) {
		proof := h.authenticate(t)
		h.now = h.now.Add(time.Hour)
		defer func() { h.now = h.now.Add(-time.Hour) }()
		_, err := h.net.RequestCapability(ctx, proof, []types.ResourceAbility{accountSigning}, types.ValidityWindow{})
		require.ErrorIs(t, err, types.ErrAuthenticationFailed)
	})

	t.Run("session token is not an auth token", func(t *testing.T) {
		g := h.grant(t, accountSigning)
		_, err := h.net.RequestCapability(ctx, &types.AuthProof{Token: g.Token()}, []types.ResourceAbility{accountSigning}, types.ValidityWindow{})
		require.ErrorIs(t, err, types.ErrAuthenticationFailed)
	})
}

func TestSign(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	g := h.grant(t, accountSigning)

	t.Run("digest is signed verbatim", func(t *testing.T) {
		digest := crypto.Keccak256Hash([]byte("digest"))
		sig, err := h.net.Sign(ctx, g, &network.SignRequest{KeyId: h.keyId, Payload: types.NewPrehashedDigest(digest)})
		require.NoError(t, err)
		assert.Equal(t, h.keyAddress, recoverSigner(t, digest.Bytes(), sig))
	})

	t.Run("raw message is EIP-191 hashed", func(t *testing.T) {
		sig, err := h.net.Sign(ctx, g, &network.SignRequest{KeyId: h.keyId, Payload: types.NewRawMessage([]byte("hello world"))})
		require.NoError(t, err)
		assert.Equal(t, h.keyAddress, recoverSigner(t, types.TextHash([]byte("hello world")), sig))
	})

	t.Run("usage is recorded", func(t *testing.T) {
		record, err := h.store.LoadSession(g.Id())
		require.NoError(t, err)
		assert.Equal(t, uint64(2), record.SignCount)
		assert.Equal(t, h.now.Unix(), record.LastUsedAt)
	})

	t.Run("account signing grant cannot execute actions", func(t *testing.T) {
		_, err := h.net.Sign(ctx, g, &network.SignRequest{
			KeyId:    h.keyId,
			ActionId: "rotate",
			Payload:  types.NewRawMessage([]byte("hello")),
		})
		require.ErrorIs(t, err, types.ErrCapabilityScopeMismatch)
	})

	t.Run("action grant", func(t *testing.T) {
		ag := h.grant(t, actionExecution)
		_, err := h.net.Sign(ctx, ag, &network.SignRequest{KeyId: h.keyId, ActionId: "rotate", Payload: types.NewRawMessage([]byte("hello"))})
		require.NoError(t, err)

		_, err = h.net.Sign(ctx, ag, &network.SignRequest{KeyId: h.keyId, Payload: types.NewRawMessage([]byte("hello"))})
		require.ErrorIs(t, err, types.ErrCapabilityScopeMismatch)
	})

	t.Run("exact key grant", func(t *testing.T) {
		h.net.PermitControllers("other-key", crypto.PubkeyToAddress(h.controller.PublicKey))
		eg := h.grant(t, types.ResourceAbility{
			Resource: types.ExactPattern(types.ResourceKind_CustodiedKey, "other-key"),
			Ability:  types.Ability_AccountSigning,
		})
		_, err := h.net.Sign(ctx, eg, &network.SignRequest{KeyId: h.keyId, Payload: types.NewRawMessage([]byte("hello"))})
		require.ErrorIs(t, err, types.ErrCapabilityScopeMismatch)
	})

	t.Run("malformed digest", func(t *testing.T) {
		payload, err := types.PayloadFromWire(types.PayloadKind_PrehashedDigest, make([]byte, 32))
		require.NoError(t, err)
		_, err = h.net.Sign(ctx, g, &network.SignRequest{KeyId: h.keyId, Payload: payload})
		require.NoError(t, err)

		_, err = h.net.Sign(ctx, g, &network.SignRequest{KeyId: h.keyId, Payload: types.SignPayload{}})
		require.ErrorIs(t, err, types.ErrInvalidPayload)
	})

	t.Run("unknown key", func(t *testing.T) {
		h.net.PermitControllers("missing", crypto.PubkeyToAddress(h.controller.PublicKey))
		_, err := h.net.Sign(ctx, g, &network.SignRequest{KeyId: "missing", Payload: types.NewRawMessage([]byte("hello"))})
		require.ErrorIs(t, err, types.ErrSigningUnavailable)
	})

	t.Run("expired session", func(t *testing.T) {
		h.now = h.now.Add(2 * time.Hour)
		defer func() { h.now = h.now.Add(-2 * time.Hour) }()
		_, err := h.net.Sign(ctx, g, &network.SignRequest{KeyId: h.keyId, Payload: types.NewRawMessage([]byte("hello"))})
		require.ErrorIs(t, err, types.ErrCapabilityExpired)
	})

	t.Run("revoked session", func(t *testing.T) {
		rg := h.grant(t, accountSigning)
		require.NoError(t, h.net.RevokeSession(ctx, rg.Token()))
		_, err := h.net.Sign(ctx, rg, &network.SignRequest{KeyId: h.keyId, Payload: types.NewRawMessage([]byte("hello"))})
		require.ErrorIs(t, err, types.ErrCapabilityExpired)
	})

	t.Run("only the token is trusted", func(t *testing.T) {
		ag := h.grant(t, actionExecution)
		widened := types.NewCapabilityGrant(ag.Id(), ag.Controller(), []types.ResourceAbility{accountSigning}, ag.Window(), ag.Token())
		_, err := h.net.Sign(ctx, widened, &network.SignRequest{KeyId: h.keyId, Payload: types.NewRawMessage([]byte("hello"))})
		require.ErrorIs(t, err, types.ErrCapabilityScopeMismatch)
	})
}

func TestControllerPermissions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	digest := crypto.Keccak256Hash([]byte("transfer everything"))

	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)
	strangerAddress := crypto.PubkeyToAddress(stranger.PublicKey)

	t.Run("controller without a key is refused", func(t *testing.T) {
		_, err := h.authenticateAs(t, stranger)
		require.ErrorIs(t, err, types.ErrAuthenticationFailed)
	})

	t.Run("valid auth token for an unknown controller is refused", func(t *testing.T) {
		token, _, err := h.net.tokens.sign(AuthJWTAudience, strangerAddress.Hex(), h.now, types.NewValidityWindow(h.now, time.Minute), nil)
		require.NoError(t, err)
		_, err = h.net.RequestCapability(ctx, &types.AuthProof{Controller: strangerAddress, Token: token},
			[]types.ResourceAbility{accountSigning}, types.ValidityWindow{})
		require.ErrorIs(t, err, types.ErrAuthenticationFailed)
	})

	own, err := h.net.MintKey(ctx, "stranger-key", strangerAddress)
	require.NoError(t, err)
	ownAddress, err := own.Address()
	require.NoError(t, err)

	proof, err := h.authenticateAs(t, stranger)
	require.NoError(t, err)

	t.Run("exact grant over another controller's key is refused", func(t *testing.T) {
		_, err := h.net.RequestCapability(ctx, proof, []types.ResourceAbility{{
			Resource: types.ExactPattern(types.ResourceKind_CustodiedKey, h.keyId),
			Ability:  types.Ability_AccountSigning,
		}}, types.ValidityWindow{})
		require.ErrorIs(t, err, types.ErrCapabilityScopeMismatch)
	})

	wildcard, err := h.net.RequestCapability(ctx, proof, []types.ResourceAbility{accountSigning}, types.ValidityWindow{})
	require.NoError(t, err)

	t.Run("wildcard grant does not reach another controller's key", func(t *testing.T) {
		_, err := h.net.Sign(ctx, wildcard, &network.SignRequest{KeyId: h.keyId, Payload: types.NewPrehashedDigest(digest)})
		require.ErrorIs(t, err, types.ErrCapabilityScopeMismatch)
	})

	t.Run("wildcard grant signs with the permitted key", func(t *testing.T) {
		sig, err := h.net.Sign(ctx, wildcard, &network.SignRequest{KeyId: own.KeyId, Payload: types.NewPrehashedDigest(digest)})
		require.NoError(t, err)
		assert.Equal(t, ownAddress, recoverSigner(t, digest.Bytes(), sig))
	})

	t.Run("owner cannot reach the minted key", func(t *testing.T) {
		g := h.grant(t, accountSigning)
		_, err := h.net.Sign(ctx, g, &network.SignRequest{KeyId: own.KeyId, Payload: types.NewPrehashedDigest(digest)})
		require.ErrorIs(t, err, types.ErrCapabilityScopeMismatch)
	})
}

func TestSign_RateLimited(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.SignRateLimit = 1
		cfg.SignRateBurst = 2
	})
	ctx := context.Background()
	g := h.grant(t, accountSigning)
	req := &network.SignRequest{KeyId: h.keyId, Payload: types.NewRawMessage([]byte("hello"))}

	for i := 0; i < 2; i++ {
		_, err := h.net.Sign(ctx, g, req)
		require.NoError(t, err)
	}
	_, err := h.net.Sign(ctx, g, req)
	require.ErrorIs(t, err, types.ErrSigningUnavailable)

	h.now = h.now.Add(time.Second)
	_, err = h.net.Sign(ctx, g, req)
	require.NoError(t, err)
}

func TestGetKeyHandle(t *testing.T) {
	h := newHarness(t, nil)

	handle, err := h.net.GetKeyHandle(context.Background(), h.keyId)
	require.NoError(t, err)
	addr, err := handle.Address()
	require.NoError(t, err)
	assert.Equal(t, h.keyAddress, addr)

	_, err = h.net.GetKeyHandle(context.Background(), "missing")
	require.True(t, errors.Is(err, types.ErrSigningUnavailable))
}

func TestPruneExpired(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.grant(t, accountSigning)
	sessions, err := h.net.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	deleted, err := h.net.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	h.now = h.now.Add(2 * time.Hour)
	deleted, err = h.net.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	sessions, err = h.net.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

package testutil

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/auth"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/custody/localCustodian"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/network"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/network/localNetwork"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// NewTestLocalNetwork builds an in-process network with one minted key
func NewTestLocalNetwork(t *testing.T, mutate func(cfg *localNetwork.Config)) (*localNetwork.LocalNetwork, *types.CustodiedKeyHandle) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := localNetwork.NewDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	net, err := localNetwork.NewLocalNetwork(cfg, localCustodian.NewLocalCustodian(logger), memory.NewMemoryPersistence(), logger)
	require.NoError(t, err)

	handle, err := net.MintKey(context.Background(), "test-key")
	require.NoError(t, err)
	return net, handle
}

// NewPermittedController generates a controller key that net permits to sign with handle
func NewPermittedController(t *testing.T, net *localNetwork.LocalNetwork, handle *types.CustodiedKeyHandle) *ecdsa.PrivateKey {
	t.Helper()
	key := GenerateKey(t)
	net.PermitControllers(handle.KeyId, crypto.PubkeyToAddress(key.PublicKey))
	return key
}

// AuthenticateController runs the nonce/challenge exchange for key against net
func AuthenticateController(t *testing.T, net network.INetwork, key *ecdsa.PrivateKey) *types.AuthProof {
	t.Helper()
	ctx := context.Background()

	nonce, err := net.Nonce(ctx)
	require.NoError(t, err)

	address := crypto.PubkeyToAddress(key.PublicKey)
	message := auth.BuildAuthMessage(address, auth.NewChallenge(nonce, time.Now()))
	sig, err := auth.SignAuthMessage(key, message)
	require.NoError(t, err)

	proof, err := net.Authenticate(ctx, &types.AuthRequest{Address: address.Hex(), Message: message, Signature: sig})
	require.NoError(t, err)
	return proof
}

// AllCapabilities grants both abilities over every resource
func AllCapabilities() []types.ResourceAbility {
	return []types.ResourceAbility{
		{Resource: types.WildcardPattern(types.ResourceKind_CustodiedKey), Ability: types.Ability_AccountSigning},
		{Resource: types.WildcardPattern(types.ResourceKind_SigningAction), Ability: types.Ability_ActionExecution},
	}
}

// CountingNetwork records every call made through it. When Err is set, every call
// fails with it without reaching Inner.
type CountingNetwork struct {
	Inner network.INetwork
	Err   error

	mu    sync.Mutex
	calls map[string]int
}

var _ network.INetwork = (*CountingNetwork)(nil)

func NewCountingNetwork(inner network.INetwork) *CountingNetwork {
	return &CountingNetwork{Inner: inner, calls: make(map[string]int)}
}

func (c *CountingNetwork) record(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
	return c.Err
}

func (c *CountingNetwork) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *CountingNetwork) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func (c *CountingNetwork) Nonce(ctx context.Context) (string, error) {
	if err := c.record("Nonce"); err != nil {
		return "", err
	}
	return c.Inner.Nonce(ctx)
}

func (c *CountingNetwork) Authenticate(ctx context.Context, req *types.AuthRequest) (*types.AuthProof, error) {
	if err := c.record("Authenticate"); err != nil {
		return nil, err
	}
	return c.Inner.Authenticate(ctx, req)
}

func (c *CountingNetwork) RequestCapability(ctx context.Context, proof *types.AuthProof, capabilities []types.ResourceAbility, window types.ValidityWindow) (*types.CapabilityGrant, error) {
	if err := c.record("RequestCapability"); err != nil {
		return nil, err
	}
	return c.Inner.RequestCapability(ctx, proof, capabilities, window)
}

func (c *CountingNetwork) Sign(ctx context.Context, grant *types.CapabilityGrant, req *network.SignRequest) ([]byte, error) {
	if err := c.record("Sign"); err != nil {
		return nil, err
	}
	return c.Inner.Sign(ctx, grant, req)
}

func (c *CountingNetwork) GetKeyHandle(ctx context.Context, keyId string) (*types.CustodiedKeyHandle, error) {
	if err := c.record("GetKeyHandle"); err != nil {
		return nil, err
	}
	return c.Inner.GetKeyHandle(ctx, keyId)
}

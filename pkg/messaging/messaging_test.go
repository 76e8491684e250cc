package messaging_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/chainIdentifier"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/config"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/messaging"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/signingRouter"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/smartAccount"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/testutil"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/testutil/fakeChain"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewIdentity(t *testing.T) {
	ctx := context.Background()
	sepolia := big.NewInt(int64(config.ChainId_EthereumSepolia))
	chain := fakeChain.NewWithKernel(sepolia)

	factory, err := smartAccount.NewFactory(ctx, &smartAccount.FactoryConfig{
		EntryPointVersion: config.EntryPointVersion_V07,
		AccountVersion:    config.AccountVersion_Kernel_V3_1,
	}, chain, zaptest.NewLogger(t))
	require.NoError(t, err)

	local, err := signingRouter.NewLocalKeySigner(testutil.GenerateKey(t))
	require.NoError(t, err)
	account, err := factory.DeriveAccount(ctx, smartAccount.ValidatorConfig{
		Signer:            signingRouter.NewWalletCompatibleSigner(local),
		EntryPointVersion: config.EntryPointVersion_V07,
		AccountVersion:    config.AccountVersion_Kernel_V3_1,
	}, factory.ChainContext())
	require.NoError(t, err)

	id := chainIdentifier.Format(sepolia, account.Address())
	identity, err := messaging.NewIdentity(ctx, id, account)
	require.NoError(t, err)
	assert.Equal(t, id, identity.Identifier())
	assert.Equal(t, 0, identity.ChainId().Cmp(sepolia))

	address, err := identity.GetAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, account.Address(), address)

	sig, err := identity.SignMessage(ctx, []byte("hello world"))
	require.NoError(t, err)
	assert.True(t, smartAccount.IsERC6492(sig))

	t.Run("invalid identifier", func(t *testing.T) {
		_, err := messaging.NewIdentity(ctx, "scw:eip900:1:"+account.Address().Hex(), account)
		require.ErrorIs(t, err, types.ErrInvalidPayload)
	})

	t.Run("identifier of another account", func(t *testing.T) {
		other := chainIdentifier.Format(sepolia, common.HexToAddress("0x1111111111111111111111111111111111111111"))
		_, err := messaging.NewIdentity(ctx, other, account)
		require.ErrorIs(t, err, types.ErrInvalidPayload)
	})

	t.Run("nil signer", func(t *testing.T) {
		_, err := messaging.NewIdentity(ctx, id, nil)
		require.Error(t, err)
	})
}

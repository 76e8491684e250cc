package signatureVerifier_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/config"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/signatureVerifier"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/signingRouter"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/smartAccount"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/testutil"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/testutil/fakeChain"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/thresholdSigner"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var sepolia = big.NewInt(int64(config.ChainId_EthereumSepolia))

type fixture struct {
	chain    *fakeChain.FakeChain
	factory  *smartAccount.Factory
	verifier *signatureVerifier.Verifier
	account  *smartAccount.SmartAccount
}

func newFixture(t *testing.T, signer smartAccount.IAccountSigner) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	chain := fakeChain.NewWithKernel(sepolia)
	factory, err := smartAccount.NewFactory(ctx, &smartAccount.FactoryConfig{
		EntryPointVersion: config.EntryPointVersion_V07,
		AccountVersion:    config.AccountVersion_Kernel_V3_1,
	}, chain, logger)
	require.NoError(t, err)

	account, err := factory.DeriveAccount(ctx, smartAccount.ValidatorConfig{
		Signer:            signer,
		EntryPointVersion: config.EntryPointVersion_V07,
		AccountVersion:    config.AccountVersion_Kernel_V3_1,
	}, factory.ChainContext())
	require.NoError(t, err)

	verifier, err := signatureVerifier.NewVerifier(chain, logger)
	require.NoError(t, err)

	return &fixture{chain: chain, factory: factory, verifier: verifier, account: account}
}

func custodiedWallet(t *testing.T) *signingRouter.WalletCompatibleSigner {
	t.Helper()
	net, handle := testutil.NewTestLocalNetwork(t, nil)
	proof := testutil.AuthenticateController(t, net, testutil.NewPermittedController(t, net, handle))
	grant, err := net.RequestCapability(context.Background(), proof, testutil.AllCapabilities(), types.ValidityWindow{})
	require.NoError(t, err)
	signer, err := thresholdSigner.NewThresholdSigner(net, handle, zaptest.NewLogger(t))
	require.NoError(t, err)
	return signingRouter.AdaptSigner(signer, grant)
}

func localWallet(t *testing.T) *signingRouter.WalletCompatibleSigner {
	t.Helper()
	local, err := signingRouter.NewLocalKeySigner(testutil.GenerateKey(t))
	require.NoError(t, err)
	return signingRouter.NewWalletCompatibleSigner(local)
}

func TestNewVerifier(t *testing.T) {
	_, err := signatureVerifier.NewVerifier(nil, zaptest.NewLogger(t))
	require.Error(t, err)
	_, err = signatureVerifier.NewVerifier(fakeChain.New(sepolia), nil)
	require.Error(t, err)
}

func TestVerify_SurvivesDeployment(t *testing.T) {
	signers := map[string]func(*testing.T) *signingRouter.WalletCompatibleSigner{
		"custodied": custodiedWallet,
		"local key": localWallet,
	}

	for name, newSigner := range signers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, newSigner(t))
			cc := f.factory.ChainContext()
			message := []byte("hello world")
			hash := common.BytesToHash(types.TextHash(message))
			otherHash := crypto.Keccak256Hash([]byte("something else"))

			sig, err := f.factory.AccountSign(ctx, f.account, message)
			require.NoError(t, err)
			require.Equal(t, types.SignatureMode_ERC6492, sig.Mode)

			valid, err := f.verifier.Verify(ctx, f.account.Address(), hash, sig.Bytes, cc)
			require.NoError(t, err)
			assert.True(t, valid)
			assert.Equal(t, 1, f.chain.Calls("CallContract"), "undeployed accounts are verified by a deployless eth_call")

			valid, err = f.verifier.Verify(ctx, f.account.Address(), otherHash, sig.Bytes, cc)
			require.NoError(t, err)
			assert.False(t, valid)

			_, err = f.chain.Deploy(f.account.FactoryAddress(), f.account.FactoryData())
			require.NoError(t, err)

			valid, err = f.verifier.Verify(ctx, f.account.Address(), hash, sig.Bytes, cc)
			require.NoError(t, err)
			assert.True(t, valid, "a pre-deployment signature stays valid after deployment")
			assert.Equal(t, 3, f.chain.Calls("CallContract"))

			deployedSig, err := f.factory.AccountSign(ctx, f.account, message)
			require.NoError(t, err)
			require.Equal(t, types.SignatureMode_ERC1271, deployedSig.Mode)

			valid, err = f.verifier.Verify(ctx, f.account.Address(), hash, deployedSig.Bytes, cc)
			require.NoError(t, err)
			assert.True(t, valid)

			valid, err = f.verifier.Verify(ctx, f.account.Address(), otherHash, deployedSig.Bytes, cc)
			require.NoError(t, err)
			assert.False(t, valid)
		})
	}
}

func TestVerify_CounterfactualChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, localWallet(t))
	cc := f.factory.ChainContext()
	hash := common.BytesToHash(types.TextHash([]byte("hello world")))

	sig, err := f.factory.AccountSign(ctx, f.account, []byte("hello world"))
	require.NoError(t, err)
	wrapped, err := smartAccount.UnwrapERC6492(sig.Bytes)
	require.NoError(t, err)

	t.Run("deployment of another account", func(t *testing.T) {
		other := common.HexToAddress("0x2222222222222222222222222222222222222222")
		valid, err := f.verifier.Verify(ctx, other, hash, sig.Bytes, cc)
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("chain id taken from the endpoint", func(t *testing.T) {
		valid, err := f.verifier.Verify(ctx, f.account.Address(), hash, sig.Bytes, smartAccount.ChainContext{})
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("signature for another chain", func(t *testing.T) {
		valid, err := f.verifier.Verify(ctx, f.account.Address(), hash, sig.Bytes, smartAccount.ChainContext{ChainID: big.NewInt(1)})
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("factory without code is a clean false", func(t *testing.T) {
		foreign, err := smartAccount.WrapERC6492(common.HexToAddress("0x3333333333333333333333333333333333333333"), wrapped.FactoryData, wrapped.Signature)
		require.NoError(t, err)
		valid, err := f.verifier.Verify(ctx, f.account.Address(), hash, foreign, cc)
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("endpoint without deployless calls falls back to replay", func(t *testing.T) {
		f.chain.RejectDeployless = true
		defer func() { f.chain.RejectDeployless = false }()

		valid, err := f.verifier.Verify(ctx, f.account.Address(), hash, sig.Bytes, cc)
		require.NoError(t, err)
		assert.True(t, valid)

		valid, err = f.verifier.Verify(ctx, f.account.Address(), crypto.Keccak256Hash([]byte("other")), sig.Bytes, cc)
		require.NoError(t, err)
		assert.False(t, valid)

		foreign, err := smartAccount.WrapERC6492(common.HexToAddress("0x3333333333333333333333333333333333333333"), wrapped.FactoryData, wrapped.Signature)
		require.NoError(t, err)
		valid, err = f.verifier.Verify(ctx, f.account.Address(), hash, foreign, cc)
		require.ErrorIs(t, err, types.ErrVerificationUnavailable, "replay only knows Kernel factories")
		assert.False(t, valid)
	})

	t.Run("malformed wrapper", func(t *testing.T) {
		junk := append([]byte{0x01, 0x02, 0x03}, smartAccount.ERC6492MagicSuffix...)
		valid, err := f.verifier.Verify(ctx, f.account.Address(), hash, junk, cc)
		require.NoError(t, err)
		assert.False(t, valid)
	})
}

func TestVerify_ForeignFactory(t *testing.T) {
	ctx := context.Background()
	chain := fakeChain.New(sepolia)
	verifier, err := signatureVerifier.NewVerifier(chain, zaptest.NewLogger(t))
	require.NoError(t, err)

	owner := testutil.GenerateKey(t)
	factory := common.HexToAddress("0x6666666666666666666666666666666666666666")
	account := common.HexToAddress("0x7777777777777777777777777777777777777777")
	factoryData := []byte("createAccount")
	chain.AddFactory(factory, func(data []byte) (common.Address, fakeChain.Validator, error) {
		if string(data) != string(factoryData) {
			return common.Address{}, nil, errors.New("unknown calldata")
		}
		return account, func(_ *big.Int, hash common.Hash, sig []byte) bool {
			return recoverSigner(hash, sig) == crypto.PubkeyToAddress(owner.PublicKey)
		}, nil
	})

	hash := crypto.Keccak256Hash([]byte("hello world"))
	inner, err := crypto.Sign(hash.Bytes(), owner)
	require.NoError(t, err)
	sig, err := smartAccount.WrapERC6492(factory, factoryData, inner)
	require.NoError(t, err)
	cc := smartAccount.ChainContext{ChainID: sepolia}

	valid, err := verifier.Verify(ctx, account, hash, sig, cc)
	require.NoError(t, err)
	assert.True(t, valid, "non-Kernel factories are verified on chain")

	valid, err = verifier.Verify(ctx, account, crypto.Keccak256Hash([]byte("other")), sig, cc)
	require.NoError(t, err)
	assert.False(t, valid)

	wrongData, err := smartAccount.WrapERC6492(factory, []byte("other"), inner)
	require.NoError(t, err)
	valid, err = verifier.Verify(ctx, account, hash, wrongData, cc)
	require.NoError(t, err)
	assert.False(t, valid)

	chain.RejectDeployless = true
	valid, err = verifier.Verify(ctx, account, hash, sig, cc)
	require.ErrorIs(t, err, types.ErrVerificationUnavailable)
	assert.False(t, valid)
}

func recoverSigner(hash common.Hash, sig []byte) common.Address {
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(*pub)
}

func TestVerify_EOA(t *testing.T) {
	ctx := context.Background()
	chain := fakeChain.New(sepolia)
	verifier, err := signatureVerifier.NewVerifier(chain, zaptest.NewLogger(t))
	require.NoError(t, err)

	key := testutil.GenerateKey(t)
	address := crypto.PubkeyToAddress(key.PublicKey)
	hash := crypto.Keccak256Hash([]byte("hello world"))
	sig, err := crypto.Sign(hash.Bytes(), key)
	require.NoError(t, err)

	valid, err := verifier.Verify(ctx, address, hash, sig, smartAccount.ChainContext{ChainID: sepolia})
	require.NoError(t, err)
	assert.True(t, valid)

	sig[64] += 27
	valid, err = verifier.Verify(ctx, address, hash, sig, smartAccount.ChainContext{ChainID: sepolia})
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = verifier.Verify(ctx, common.HexToAddress("0x4444444444444444444444444444444444444444"), hash, sig, smartAccount.ChainContext{ChainID: sepolia})
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = verifier.Verify(ctx, address, hash, sig[:64], smartAccount.ChainContext{ChainID: sepolia})
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerify_ChainFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, localWallet(t))
	cc := f.factory.ChainContext()
	hash := common.BytesToHash(types.TextHash([]byte("hello world")))

	sig, err := f.factory.AccountSign(ctx, f.account, []byte("hello world"))
	require.NoError(t, err)

	t.Run("deployless eth_call fails", func(t *testing.T) {
		f.chain.CallErr = errors.New("503 service unavailable")
		defer func() { f.chain.CallErr = nil }()

		valid, err := f.verifier.Verify(ctx, f.account.Address(), hash, sig.Bytes, cc)
		require.ErrorIs(t, err, types.ErrVerificationUnavailable, "a failing endpoint is not a reason to replay")
		assert.False(t, valid)
	})

	t.Run("code lookup fails", func(t *testing.T) {
		f.chain.Err = errors.New("connection reset by peer")
		defer func() { f.chain.Err = nil }()

		valid, err := f.verifier.Verify(ctx, f.account.Address(), hash, sig.Bytes, cc)
		require.ErrorIs(t, err, types.ErrVerificationUnavailable)
		assert.False(t, valid)
	})

	_, err = f.chain.Deploy(f.account.FactoryAddress(), f.account.FactoryData())
	require.NoError(t, err)

	t.Run("eth_call fails", func(t *testing.T) {
		f.chain.CallErr = errors.New("503 service unavailable")
		defer func() { f.chain.CallErr = nil }()

		valid, err := f.verifier.Verify(ctx, f.account.Address(), hash, sig.Bytes, cc)
		require.ErrorIs(t, err, types.ErrVerificationUnavailable)
		assert.False(t, valid)
	})

	t.Run("revert is a clean false", func(t *testing.T) {
		contract := common.HexToAddress("0x5555555555555555555555555555555555555555")
		f.chain.SetCode(contract, []byte{0x00})

		valid, err := f.verifier.Verify(ctx, contract, hash, sig.Bytes, cc)
		require.NoError(t, err)
		assert.False(t, valid)
	})
}

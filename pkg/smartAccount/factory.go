package smartAccount

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/chain"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/config"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/signingRouter"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
)

// IAccountSigner is the validator authority of an account. Custodied and local key
// signers both satisfy it through signingRouter.WalletCompatibleSigner.
type IAccountSigner interface {
	GetAddress(ctx context.Context) (common.Address, error)
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
	SignTypedData(ctx context.Context, typedData *apitypes.TypedData) ([]byte, error)
}

var _ IAccountSigner = (signingRouter.IWalletSigner)(nil)

type FactoryConfig struct {
	EntryPointVersion config.EntryPointVersion
	AccountVersion    config.AccountVersion
}

// ValidatorConfig selects the root validator authority of an account.
type ValidatorConfig struct {
	Signer            IAccountSigner
	EntryPointVersion config.EntryPointVersion
	AccountVersion    config.AccountVersion
	// Index distinguishes several accounts of one owner
	Index uint64
}

type ChainContext struct {
	ChainID *big.Int
}

// Factory derives Kernel accounts on one chain and signs for them.
type Factory struct {
	entryPointVersion config.EntryPointVersion
	accountVersion    config.AccountVersion
	contracts         *config.KernelContractAddresses
	chain             chain.IChainReader
	chainID           *big.Int
	logger            *zap.Logger
}

// NewFactory checks that every singleton contract of the requested versions is deployed
// on the chain behind reader.
func NewFactory(ctx context.Context, cfg *FactoryConfig, reader chain.IChainReader, logger *zap.Logger) (*Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if reader == nil {
		return nil, fmt.Errorf("chain reader is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	contracts, err := config.GetKernelContracts(cfg.EntryPointVersion, cfg.AccountVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrUnsupportedAccountVersion, err)
	}

	chainID, err := reader.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}

	singletons := contracts.All()
	names := make([]string, 0, len(singletons))
	for name := range singletons {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		deployed, err := chain.HasCode(ctx, reader, singletons[name])
		if err != nil {
			return nil, fmt.Errorf("failed to check %s contract: %w", name, err)
		}
		if !deployed {
			return nil, fmt.Errorf("%w: %s contract %s of Kernel %s is not deployed on chain %s",
				types.ErrUnsupportedAccountVersion, name, singletons[name].Hex(), cfg.AccountVersion, chainID)
		}
	}

	logger.Sugar().Infow("Kernel account factory ready",
		"entryPointVersion", cfg.EntryPointVersion,
		"accountVersion", cfg.AccountVersion,
		"chainId", chainID.String(),
	)

	return &Factory{
		entryPointVersion: cfg.EntryPointVersion,
		accountVersion:    cfg.AccountVersion,
		contracts:         contracts,
		chain:             reader,
		chainID:           chainID,
		logger:            logger,
	}, nil
}

func (f *Factory) ChainContext() ChainContext {
	return ChainContext{ChainID: new(big.Int).Set(f.chainID)}
}

func (f *Factory) Contracts() *config.KernelContractAddresses {
	return f.contracts
}

// DeriveAccount computes the counterfactual account of vc. It makes no chain queries:
// the same inputs give the same address whether or not the account is deployed.
func (f *Factory) DeriveAccount(ctx context.Context, vc ValidatorConfig, cc ChainContext) (*SmartAccount, error) {
	if vc.Signer == nil {
		return nil, fmt.Errorf("validator signer is required")
	}
	if vc.EntryPointVersion != f.entryPointVersion || vc.AccountVersion != f.accountVersion {
		return nil, fmt.Errorf("%w: factory serves Kernel %s on entry point %s, requested %s on %s",
			types.ErrUnsupportedAccountVersion, f.accountVersion, f.entryPointVersion, vc.AccountVersion, vc.EntryPointVersion)
	}
	if cc.ChainID == nil || cc.ChainID.Cmp(f.chainID) != 0 {
		return nil, fmt.Errorf("chain context %v does not match factory chain %s", cc.ChainID, f.chainID)
	}

	owner, err := vc.Signer.GetAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get validator signer address: %w", err)
	}

	initData, err := EncodeInitData(f.accountVersion, f.contracts, owner)
	if err != nil {
		return nil, err
	}
	index := util.Uint64ToBytes32(vc.Index)
	factoryData, err := EncodeFactoryData(f.contracts, initData, index)
	if err != nil {
		return nil, err
	}

	account := &SmartAccount{
		address:     ComputeAccountAddress(f.contracts, initData, index),
		owner:       owner,
		signer:      vc.Signer,
		index:       vc.Index,
		chainID:     new(big.Int).Set(cc.ChainID),
		version:     f.accountVersion,
		factoryData: factoryData,
		factory:     f,
	}

	f.logger.Sugar().Debugw("Derived smart account",
		"account", account.address.Hex(),
		"owner", owner.Hex(),
		"index", vc.Index,
	)
	return account, nil
}

// AccountSign signs message as account: the EIP-191 hash of message, wrapped by the
// Kernel domain, signed by the root validator. Signatures for undeployed accounts are
// ERC-6492 wrapped with the deployment call.
func (f *Factory) AccountSign(ctx context.Context, account *SmartAccount, message []byte) (*types.Signature, error) {
	return f.signHash(ctx, account, common.BytesToHash(types.TextHash(message)))
}

// AccountSignTypedData signs the EIP-712 hash of typedData as account.
func (f *Factory) AccountSignTypedData(ctx context.Context, account *SmartAccount, typedData *apitypes.TypedData) (*types.Signature, error) {
	hash, err := signingRouter.HashTypedData(typedData)
	if err != nil {
		return nil, err
	}
	return f.signHash(ctx, account, hash)
}

func (f *Factory) signHash(ctx context.Context, account *SmartAccount, hash common.Hash) (*types.Signature, error) {
	if account == nil {
		return nil, fmt.Errorf("account is required")
	}
	if account.factory != f {
		return nil, fmt.Errorf("account %s was not derived by this factory", account.address.Hex())
	}

	wrapped := KernelWrapHash(hash, account.version, account.chainID, account.address)

	// The hex form of the wrapped digest classifies as a prehashed digest and is signed verbatim
	raw, err := account.signer.SignMessage(ctx, []byte(hexutil.Encode(wrapped.Bytes())))
	if err != nil {
		return nil, err
	}
	if err := checkValidatorSignature(account.owner, wrapped, raw); err != nil {
		return nil, err
	}
	sig := append([]byte{rootValidatorMode}, raw...)

	deployed, err := chain.HasCode(ctx, f.chain, account.address)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to check deployment of %s: %w", types.ErrSigningUnavailable, account.address.Hex(), err)
	}
	if deployed {
		return &types.Signature{Bytes: sig, Mode: types.SignatureMode_ERC1271}, nil
	}

	wrappedSig, err := WrapERC6492(f.contracts.MetaFactory, account.factoryData, sig)
	if err != nil {
		return nil, err
	}
	return &types.Signature{Bytes: wrappedSig, Mode: types.SignatureMode_ERC6492}, nil
}

func checkValidatorSignature(owner common.Address, wrapped common.Hash, sig []byte) error {
	signers, err := RecoverValidatorSigner(wrapped, sig)
	if err != nil {
		return fmt.Errorf("%w: validator signer returned an unusable signature: %w", types.ErrSigningUnavailable, err)
	}
	for _, s := range signers {
		if s == owner {
			return nil
		}
	}
	return fmt.Errorf("%w: validator signature does not recover to owner %s", types.ErrSigningUnavailable, owner.Hex())
}

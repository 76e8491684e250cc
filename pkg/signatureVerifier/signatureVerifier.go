package signatureVerifier

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/chain"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/smartAccount"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	goEthereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// revertErrorCode is the JSON-RPC error code nodes return for a reverted eth_call
const revertErrorCode = 3

// errSimulationUnsupported marks a deployless eth_call the endpoint could not run
var errSimulationUnsupported = errors.New("deployless eth_call unsupported")

// Verifier checks signatures against an account whether or not it is deployed.
//
// A false result always means the signature is invalid. Failing chain queries, and
// deployments this package can neither simulate nor replay, are reported as
// ErrVerificationUnavailable.
type Verifier struct {
	chain  chain.IChainReader
	logger *zap.Logger
}

func NewVerifier(reader chain.IChainReader, logger *zap.Logger) (*Verifier, error) {
	if reader == nil {
		return nil, fmt.Errorf("chain reader is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Verifier{chain: reader, logger: logger}, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", types.ErrVerificationUnavailable, err)
}

// Verify reports whether signature is valid for hash on behalf of account.
//
//   - ERC-6492 wrapped, account deployed: the inner signature is checked with ERC-1271.
//   - ERC-6492 wrapped, not deployed: the ERC-6492 validator runs as a deployless
//     eth_call, deploying the account in the simulation and calling isValidSignature.
//     When the endpoint cannot run it, or cc names a chain other than the endpoint's,
//     the deployment is replayed locally for Kernel accounts.
//   - plain, deployed: ERC-1271.
//   - plain, not deployed: ecrecover against account.
func (v *Verifier) Verify(ctx context.Context, account common.Address, hash common.Hash, signature []byte, cc smartAccount.ChainContext) (bool, error) {
	deployed, err := chain.HasCode(ctx, v.chain, account)
	if err != nil {
		return false, unavailable(fmt.Errorf("failed to read code of %s: %w", account.Hex(), err))
	}

	if smartAccount.IsERC6492(signature) {
		wrapped, err := smartAccount.UnwrapERC6492(signature)
		if err != nil {
			v.logger.Sugar().Debugw("Malformed ERC-6492 signature", "account", account.Hex(), "error", err)
			return false, nil
		}
		if deployed {
			return v.isValidSignature(ctx, account, hash, wrapped.Signature)
		}
		return v.verifyCounterfactual(ctx, account, hash, signature, wrapped, cc)
	}

	if deployed {
		return v.isValidSignature(ctx, account, hash, signature)
	}
	return recoversTo(account, hash, signature), nil
}

// isValidSignature runs the account's ERC-1271 check with eth_call.
func (v *Verifier) isValidSignature(ctx context.Context, account common.Address, hash common.Hash, signature []byte) (bool, error) {
	data, err := smartAccount.EncodeIsValidSignature(hash, signature)
	if err != nil {
		return false, err
	}
	result, err := v.chain.CallContract(ctx, goEthereum.CallMsg{To: &account, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			v.logger.Sugar().Debugw("isValidSignature reverted", "account", account.Hex(), "error", err)
			return false, nil
		}
		return false, unavailable(fmt.Errorf("isValidSignature call to %s failed: %w", account.Hex(), err))
	}
	return smartAccount.IsMagicValue(result), nil
}

func (v *Verifier) verifyCounterfactual(ctx context.Context, account common.Address, hash common.Hash, signature []byte, wrapped *smartAccount.ERC6492Signature, cc smartAccount.ChainContext) (bool, error) {
	if cc.ChainID != nil {
		endpointChainID, err := v.chain.ChainID(ctx)
		if err != nil {
			return false, unavailable(fmt.Errorf("failed to query chain id: %w", err))
		}
		if endpointChainID.Cmp(cc.ChainID) != 0 {
			v.logger.Sugar().Debugw("Replaying ERC-6492 deployment for another chain",
				"account", account.Hex(),
				"chain_id", cc.ChainID.String(),
				"endpoint_chain_id", endpointChainID.String(),
			)
			return v.replayDeployment(ctx, account, hash, wrapped, cc)
		}
	}

	valid, err := v.simulate(ctx, account, hash, signature)
	if err == nil {
		return valid, nil
	}
	if !errors.Is(err, errSimulationUnsupported) {
		return false, err
	}
	v.logger.Sugar().Infow("Deployless ERC-6492 validation failed, replaying deployment locally",
		"account", account.Hex(),
		"error", err,
	)
	return v.replayDeployment(ctx, account, hash, wrapped, cc)
}

// simulate runs the ERC-6492 validator as a contract creation in eth_call.
func (v *Verifier) simulate(ctx context.Context, account common.Address, hash common.Hash, signature []byte) (bool, error) {
	data, err := smartAccount.EncodeERC6492Validation(account, hash, signature)
	if err != nil {
		return false, err
	}
	result, err := v.chain.CallContract(ctx, goEthereum.CallMsg{Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			return false, fmt.Errorf("%w: %w", errSimulationUnsupported, err)
		}
		return false, unavailable(fmt.Errorf("deployless ERC-6492 validation of %s failed: %w", account.Hex(), err))
	}
	valid, err := smartAccount.ParseERC6492ValidationResult(result)
	if err != nil {
		return false, fmt.Errorf("%w: %w", errSimulationUnsupported, err)
	}
	return valid, nil
}

func (v *Verifier) replayDeployment(ctx context.Context, account common.Address, hash common.Hash, wrapped *smartAccount.ERC6492Signature, cc smartAccount.ChainContext) (bool, error) {
	deployment, err := smartAccount.DecodeDeployment(wrapped.Factory, wrapped.FactoryData)
	if err != nil {
		if errors.Is(err, smartAccount.ErrUnsupportedDeployment) {
			return false, unavailable(err)
		}
		v.logger.Sugar().Debugw("Undecodable ERC-6492 deployment", "account", account.Hex(), "error", err)
		return false, nil
	}
	if deployment.Account != account {
		v.logger.Sugar().Debugw("ERC-6492 deployment derives another account",
			"account", account.Hex(),
			"derived", deployment.Account.Hex(),
		)
		return false, nil
	}

	chainID := cc.ChainID
	if chainID == nil {
		chainID, err = v.chain.ChainID(ctx)
		if err != nil {
			return false, unavailable(fmt.Errorf("failed to query chain id: %w", err))
		}
	}
	return deployment.IsValidSignature(chainID, hash, wrapped.Signature), nil
}

func recoversTo(account common.Address, hash common.Hash, signature []byte) bool {
	if len(signature) != crypto.SignatureLength {
		return false
	}
	raw := append([]byte{}, signature...)
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := crypto.SigToPub(hash.Bytes(), raw)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == account
}

func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// ChainContext returns the chain id of the configured endpoint.
func (v *Verifier) ChainContext(ctx context.Context) (smartAccount.ChainContext, error) {
	chainID, err := v.chain.ChainID(ctx)
	if err != nil {
		return smartAccount.ChainContext{}, unavailable(err)
	}
	return smartAccount.ChainContext{ChainID: new(big.Int).Set(chainID)}, nil
}

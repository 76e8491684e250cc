package smartAccount

import (
	"context"
	"math/big"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/chain"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SmartAccount is a Kernel account derived by a Factory. It signs through its validator
// signer and answers address queries locally.
type SmartAccount struct {
	address     common.Address
	owner       common.Address
	signer      IAccountSigner
	index       uint64
	chainID     *big.Int
	version     config.AccountVersion
	factoryData []byte
	factory     *Factory
}

var _ IAccountSigner = (*SmartAccount)(nil)

func (a *SmartAccount) Address() common.Address { return a.address }

// Owner is the address of the root ECDSA validator signer.
func (a *SmartAccount) Owner() common.Address { return a.owner }

func (a *SmartAccount) Index() uint64 { return a.index }

func (a *SmartAccount) ChainID() *big.Int { return new(big.Int).Set(a.chainID) }

func (a *SmartAccount) AccountVersion() config.AccountVersion { return a.version }

// FactoryAddress and FactoryData are the ERC-4337 initCode halves that deploy the account.
func (a *SmartAccount) FactoryAddress() common.Address { return a.factory.contracts.MetaFactory }

func (a *SmartAccount) FactoryData() []byte { return append([]byte{}, a.factoryData...) }

func (a *SmartAccount) IsDeployed(ctx context.Context) (bool, error) {
	return chain.HasCode(ctx, a.factory.chain, a.address)
}

func (a *SmartAccount) GetAddress(ctx context.Context) (common.Address, error) {
	return a.address, nil
}

func (a *SmartAccount) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	sig, err := a.factory.AccountSign(ctx, a, message)
	if err != nil {
		return nil, err
	}
	return sig.Bytes, nil
}

func (a *SmartAccount) SignTypedData(ctx context.Context, typedData *apitypes.TypedData) ([]byte, error) {
	sig, err := a.factory.AccountSignTypedData(ctx, a, typedData)
	if err != nil {
		return nil, err
	}
	return sig.Bytes, nil
}

package smartAccount

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/config"
	"github.com/ethereum/go-ethereum/common"
)

// ErrUnsupportedDeployment marks deployment data this package cannot replay: an unknown
// factory or a root validator other than the ECDSA validator.
var ErrUnsupportedDeployment = errors.New("unsupported account deployment")

// Deployment is a Kernel account deployment recovered from factory calldata.
type Deployment struct {
	Account           common.Address
	Owner             common.Address
	EntryPointVersion config.EntryPointVersion
	AccountVersion    config.AccountVersion
	Contracts         *config.KernelContractAddresses
	InitData          []byte
	Index             [32]byte
}

// lookupFactory finds the Kernel release whose singletons include factory. The call either
// goes through the meta factory, naming the inner factory, or straight to the inner factory.
func lookupFactory(factory, innerFactory common.Address) (config.EntryPointVersion, config.AccountVersion, *config.KernelContractAddresses, bool) {
	for entryPoint, byAccount := range config.KernelContracts {
		for account, contracts := range byAccount {
			if contracts.Factory != innerFactory {
				continue
			}
			if factory == contracts.MetaFactory || factory == contracts.Factory {
				return entryPoint, account, contracts, true
			}
		}
	}
	return "", "", nil, false
}

// DecodeDeployment replays the address derivation of a deployWithFactory or createAccount
// call without executing it.
func DecodeDeployment(factory common.Address, factoryData []byte) (*Deployment, error) {
	if len(factoryData) < 4 {
		return nil, fmt.Errorf("%w: factory data has no selector", ErrUnsupportedDeployment)
	}

	var (
		innerFactory common.Address
		initData     []byte
		index        [32]byte
		err          error
	)
	switch selector := factoryData[:4]; {
	case bytes.Equal(selector, metaFactory.Methods["deployWithFactory"].ID):
		innerFactory, initData, index, err = decodeDeployWithFactory(factoryData[4:])
	case bytes.Equal(selector, kernelFactory.Methods["createAccount"].ID):
		innerFactory = factory
		initData, index, err = decodeCreateAccount(factoryData[4:])
	default:
		return nil, fmt.Errorf("%w: factory data selector %x", ErrUnsupportedDeployment, selector)
	}
	if err != nil {
		return nil, err
	}

	entryPoint, accountVersion, contracts, ok := lookupFactory(factory, innerFactory)
	if !ok {
		return nil, fmt.Errorf("%w: unknown factory %s via %s", ErrUnsupportedDeployment, innerFactory.Hex(), factory.Hex())
	}

	owner, err := decodeECDSAOwner(accountVersion, contracts, initData)
	if err != nil {
		return nil, err
	}

	return &Deployment{
		Account:           ComputeAccountAddress(contracts, initData, index),
		Owner:             owner,
		EntryPointVersion: entryPoint,
		AccountVersion:    accountVersion,
		Contracts:         contracts,
		InitData:          initData,
		Index:             index,
	}, nil
}

func decodeDeployWithFactory(args []byte) (common.Address, []byte, [32]byte, error) {
	values, err := metaFactory.Methods["deployWithFactory"].Inputs.Unpack(args)
	if err != nil {
		return common.Address{}, nil, [32]byte{}, fmt.Errorf("failed to decode deployWithFactory: %w", err)
	}
	innerFactory, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, nil, [32]byte{}, fmt.Errorf("unexpected factory type %T", values[0])
	}
	initData, index, err := initDataAndSalt(values[1], values[2])
	return innerFactory, initData, index, err
}

func decodeCreateAccount(args []byte) ([]byte, [32]byte, error) {
	values, err := kernelFactory.Methods["createAccount"].Inputs.Unpack(args)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("failed to decode createAccount: %w", err)
	}
	return initDataAndSalt(values[0], values[1])
}

func initDataAndSalt(data, salt interface{}) ([]byte, [32]byte, error) {
	initData, ok := data.([]byte)
	if !ok {
		return nil, [32]byte{}, fmt.Errorf("unexpected create data type %T", data)
	}
	index, ok := salt.([32]byte)
	if !ok {
		return nil, [32]byte{}, fmt.Errorf("unexpected salt type %T", salt)
	}
	return initData, index, nil
}

// decodeECDSAOwner extracts the owner from a Kernel initialize call that installs the ECDSA
// validator as root.
func decodeECDSAOwner(version config.AccountVersion, contracts *config.KernelContractAddresses, initData []byte) (common.Address, error) {
	kernel, err := kernelABI(version)
	if err != nil {
		return common.Address{}, err
	}
	method := kernel.Methods["initialize"]
	if len(initData) < 4 || !bytes.Equal(initData[:4], method.ID) {
		return common.Address{}, fmt.Errorf("create data is not a Kernel %s initialize call", version)
	}
	values, err := method.Inputs.Unpack(initData[4:])
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode Kernel initialize: %w", err)
	}

	validatorId, ok := values[0].([21]byte)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected root validator type %T", values[0])
	}
	if validatorId != rootValidatorId(contracts.ECDSAValidator) {
		return common.Address{}, fmt.Errorf("%w: root validator %x is not the ECDSA validator", ErrUnsupportedDeployment, validatorId)
	}
	validatorData, ok := values[2].([]byte)
	if !ok || len(validatorData) != common.AddressLength {
		return common.Address{}, fmt.Errorf("ECDSA validator data must be a %d byte owner address", common.AddressLength)
	}
	return common.BytesToAddress(validatorData), nil
}

// FactoryData re-encodes the deployWithFactory call of d.
func (d *Deployment) FactoryData() ([]byte, error) {
	return EncodeFactoryData(d.Contracts, d.InitData, d.Index)
}

// IsValidSignature runs the deployed account's ERC-1271 check for hash on chainID.
func (d *Deployment) IsValidSignature(chainID *big.Int, hash common.Hash, sig []byte) bool {
	return IsRootSignatureValid(d.Owner, KernelWrapHash(hash, d.AccountVersion, chainID, d.Account), sig)
}

package fakeChain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/chain"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/config"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/smartAccount"
	goEthereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// placeholderCode stands in for any deployed contract
var placeholderCode = []byte{0x60, 0x80, 0x60, 0x40}

// RevertError mirrors the JSON-RPC error of a reverted eth_call
type RevertError struct{}

func (RevertError) Error() string  { return "execution reverted" }
func (RevertError) ErrorCode() int { return 3 }

// Validator answers isValidSignature for a deployed account.
type Validator func(chainID *big.Int, hash common.Hash, signature []byte) bool

// AccountFactory deploys an account from the calldata sent to its factory.
type AccountFactory func(factoryData []byte) (common.Address, Validator, error)

// FakeChain is an in-memory chain for accounts and signature checks. Deployed accounts
// answer isValidSignature through their Validator, and deployless eth_calls of the
// ERC-6492 validator are simulated without changing state; any other call reverts.
type FakeChain struct {
	mu         sync.Mutex
	chainID    *big.Int
	code       map[common.Address][]byte
	validators map[common.Address]Validator
	factories  map[common.Address]AccountFactory
	calls      map[string]int

	// Err fails every call when set
	Err error
	// CallErr fails eth_call only
	CallErr error
	// RejectDeployless reverts contract creation calls, as some endpoints do
	RejectDeployless bool
}

var _ chain.IChainReader = (*FakeChain)(nil)

func New(chainID *big.Int) *FakeChain {
	return &FakeChain{
		chainID:    new(big.Int).Set(chainID),
		code:       make(map[common.Address][]byte),
		validators: make(map[common.Address]Validator),
		factories:  make(map[common.Address]AccountFactory),
		calls:      make(map[string]int),
	}
}

// NewWithKernel returns a chain with the singleton contracts of every supported Kernel
// version deployed.
func NewWithKernel(chainID *big.Int) *FakeChain {
	f := New(chainID)
	for _, byAccount := range config.KernelContracts {
		for _, contracts := range byAccount {
			f.DeploySingletons(contracts)
		}
	}
	return f
}

func (f *FakeChain) DeploySingletons(contracts *config.KernelContractAddresses) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, address := range contracts.All() {
		f.code[address] = placeholderCode
	}
}

func (f *FakeChain) SetCode(address common.Address, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code[address] = append([]byte{}, code...)
}

// AddFactory deploys a non-Kernel account factory at address.
func (f *FakeChain) AddFactory(address common.Address, factory AccountFactory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code[address] = placeholderCode
	f.factories[address] = factory
}

// Deploy executes a factory call and returns the new account.
func (f *FakeChain) Deploy(factory common.Address, factoryData []byte) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, validator, err := f.resolveDeployment(factory, factoryData)
	if err != nil {
		return common.Address{}, err
	}
	f.code[account] = placeholderCode
	f.validators[account] = validator
	return account, nil
}

// resolveDeployment must be called with f.mu held.
func (f *FakeChain) resolveDeployment(factory common.Address, factoryData []byte) (common.Address, Validator, error) {
	if accountFactory, ok := f.factories[factory]; ok {
		return accountFactory(factoryData)
	}
	deployment, err := smartAccount.DecodeDeployment(factory, factoryData)
	if err != nil {
		return common.Address{}, nil, err
	}
	if _, ok := f.code[deployment.Contracts.Factory]; !ok {
		return common.Address{}, nil, fmt.Errorf("factory %s is not deployed", deployment.Contracts.Factory.Hex())
	}
	return deployment.Account, deployment.IsValidSignature, nil
}

// simulateValidation mirrors the ERC-6492 validator: a wrapped signature for a signer
// without code deploys it first, a factory call that fails or yields another account
// leaves it without code and the check fails.
func (f *FakeChain) simulateValidation(signer common.Address, hash common.Hash, signature []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	validator := f.validators[signer]
	if smartAccount.IsERC6492(signature) {
		wrapped, err := smartAccount.UnwrapERC6492(signature)
		if err != nil {
			return false
		}
		signature = wrapped.Signature
		if validator == nil {
			account, deployed, err := f.resolveDeployment(wrapped.Factory, wrapped.FactoryData)
			if err != nil || account != signer {
				return false
			}
			validator = deployed
		}
	}
	if validator == nil {
		return false
	}
	return validator(f.chainID, hash, signature)
}

func (f *FakeChain) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeChain) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.Err
}

func (f *FakeChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if err := f.record("CodeAt"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte{}, f.code[account]...), nil
}

func (f *FakeChain) CallContract(ctx context.Context, msg goEthereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := f.record("CallContract"); err != nil {
		return nil, err
	}
	if f.CallErr != nil {
		return nil, f.CallErr
	}
	if msg.To == nil {
		signer, hash, signature, err := smartAccount.DecodeERC6492Validation(msg.Data)
		if err != nil || f.RejectDeployless {
			return nil, RevertError{}
		}
		return smartAccount.EncodeERC6492ValidationResult(f.simulateValidation(signer, hash, signature)), nil
	}

	f.mu.Lock()
	validator, ok := f.validators[*msg.To]
	f.mu.Unlock()
	if !ok {
		return nil, RevertError{}
	}

	hash, sig, err := smartAccount.DecodeIsValidSignature(msg.Data)
	if err != nil {
		return nil, RevertError{}
	}
	return smartAccount.EncodeIsValidSignatureResult(validator(f.chainID, hash, sig))
}

func (f *FakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	if err := f.record("ChainID"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(f.chainID), nil
}

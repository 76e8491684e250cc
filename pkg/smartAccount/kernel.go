package smartAccount

import (
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/config"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/util"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// validationTypeValidator tags a plain validator in a Kernel ValidationId
	validationTypeValidator byte = 0x01

	// rootValidatorMode prefixes signatures checked by the account's root validator
	rootValidatorMode byte = 0x00

	kernelDomainName = "Kernel"
)

var (
	// Solady ERC1967 minimal proxy creation code around the implementation address
	erc1967InitCodePrefix = common.FromHex("0x603d3d8160223d3973")
	erc1967InitCodeInfix  = common.FromHex("0x6009")
	erc1967InitCodeSuffix = common.FromHex("0x5155f3363d3d373d3d363d7f360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc545af43d6000803e6038573d6000fd5b3d6000f3")

	eip712DomainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	kernelWrapTypeHash   = crypto.Keccak256Hash([]byte("Kernel(bytes32 hash)"))
)

// ProxyInitCodeHash is keccak256 of the proxy creation code the Kernel factory deploys
// for implementation.
func ProxyInitCodeHash(implementation common.Address) common.Hash {
	return crypto.Keccak256Hash(erc1967InitCodePrefix, implementation.Bytes(), erc1967InitCodeInfix, erc1967InitCodeSuffix)
}

// ComputeAccountAddress is the CREATE2 address the Kernel factory assigns to initData
// at index.
func ComputeAccountAddress(contracts *config.KernelContractAddresses, initData []byte, index [32]byte) common.Address {
	salt := crypto.Keccak256Hash(initData, index[:])
	initCodeHash := ProxyInitCodeHash(contracts.Implementation)
	return crypto.CreateAddress2(contracts.Factory, salt, initCodeHash.Bytes())
}

// rootValidatorId packs the ValidationId of a plain validator: type byte then address.
func rootValidatorId(validator common.Address) [21]byte {
	var id [21]byte
	id[0] = validationTypeValidator
	copy(id[1:], validator.Bytes())
	return id
}

func kernelABI(version config.AccountVersion) (*abi.ABI, error) {
	switch version {
	case config.AccountVersion_Kernel_V3_0:
		return &kernelV3_0, nil
	case config.AccountVersion_Kernel_V3_1:
		return &kernelV3_1, nil
	default:
		return nil, fmt.Errorf("%w: no Kernel ABI for account version %s", types.ErrUnsupportedAccountVersion, version)
	}
}

// EncodeInitData is the Kernel initialize call installing the ECDSA validator for owner as
// the root validator, without hook.
func EncodeInitData(version config.AccountVersion, contracts *config.KernelContractAddresses, owner common.Address) ([]byte, error) {
	kernel, err := kernelABI(version)
	if err != nil {
		return nil, err
	}

	args := []interface{}{
		rootValidatorId(contracts.ECDSAValidator),
		common.Address{},
		owner.Bytes(),
		[]byte{},
	}
	if version == config.AccountVersion_Kernel_V3_1 {
		args = append(args, [][]byte{})
	}

	data, err := kernel.Pack("initialize", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode Kernel initialize: %w", err)
	}
	return data, nil
}

// EncodeFactoryData is the meta factory call deploying the account, the factory data of
// an ERC-6492 signature.
func EncodeFactoryData(contracts *config.KernelContractAddresses, initData []byte, index [32]byte) ([]byte, error) {
	data, err := metaFactory.Pack("deployWithFactory", contracts.Factory, initData, index)
	if err != nil {
		return nil, fmt.Errorf("failed to encode deployWithFactory: %w", err)
	}
	return data, nil
}

// EncodeCreateAccountData is the direct Factory call deploying the account.
func EncodeCreateAccountData(initData []byte, index [32]byte) ([]byte, error) {
	data, err := kernelFactory.Pack("createAccount", initData, index)
	if err != nil {
		return nil, fmt.Errorf("failed to encode createAccount: %w", err)
	}
	return data, nil
}

// KernelWrapHash is the EIP-712 digest a Kernel account hands its validator in place of
// hash: Kernel(bytes32 hash) under the account's own domain.
func KernelWrapHash(hash common.Hash, version config.AccountVersion, chainID *big.Int, account common.Address) common.Hash {
	domainSeparator := crypto.Keccak256Hash(
		eip712DomainTypeHash.Bytes(),
		crypto.Keccak256([]byte(kernelDomainName)),
		crypto.Keccak256([]byte(version)),
		util.Uint256Bytes(chainID),
		common.LeftPadBytes(account.Bytes(), 32),
	)
	structHash := crypto.Keccak256Hash(kernelWrapTypeHash.Bytes(), hash.Bytes())
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator.Bytes(), structHash.Bytes())
}

// RecoverValidatorSigner applies the ECDSA validator's check to a root validator signature
// over wrapped: the signer may have signed wrapped directly or its EIP-191 hash. It returns
// both candidate signers.
func RecoverValidatorSigner(wrapped common.Hash, sig []byte) ([]common.Address, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("validator signature must be 65 bytes, got %d", len(sig))
	}
	raw := append([]byte{}, sig...)
	if raw[64] >= 27 {
		raw[64] -= 27
	}

	var signers []common.Address
	for _, digest := range [][]byte{wrapped.Bytes(), types.TextHash(wrapped.Bytes())} {
		pub, err := crypto.SigToPub(digest, raw)
		if err != nil {
			continue
		}
		signers = append(signers, crypto.PubkeyToAddress(*pub))
	}
	if len(signers) == 0 {
		return nil, fmt.Errorf("signature does not recover")
	}
	return signers, nil
}

// IsRootSignatureValid reports whether sig is a root validator signature by owner over
// the Kernel wrapped form of hash.
func IsRootSignatureValid(owner common.Address, wrapped common.Hash, sig []byte) bool {
	if len(sig) != 66 || sig[0] != rootValidatorMode {
		return false
	}
	signers, err := RecoverValidatorSigner(wrapped, sig[1:])
	if err != nil {
		return false
	}
	for _, s := range signers {
		if s == owner {
			return true
		}
	}
	return false
}

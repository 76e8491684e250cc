package chainIdentifier

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// AccountTypeSmartContractWallet tags identifiers of smart contract wallets
	AccountTypeSmartContractWallet = "scw"
	// NamespaceEIP155 is the chain namespace of EVM chains
	NamespaceEIP155 = "eip155"

	separator = ":"
)

// Format builds "scw:eip155:<chainId>:<address>" with a checksummed address.
func Format(chainId *big.Int, address common.Address) string {
	return strings.Join([]string{AccountTypeSmartContractWallet, NamespaceEIP155, chainId.String(), address.Hex()}, separator)
}

// IsValid reports whether identifier is a well formed smart contract wallet id. Malformed
// input yields false, never an error or a panic.
func IsValid(identifier string) (valid bool) {
	defer func() {
		if r := recover(); r != nil {
			valid = false
		}
	}()
	return Parse(identifier) == nil
}

// Parse explains why identifier is invalid, or returns nil.
func Parse(identifier string) error {
	parts := strings.Split(identifier, separator)
	if len(parts) != 4 {
		return fmt.Errorf("expected 4 components, got %d", len(parts))
	}
	accountType, namespace, chainId, address := parts[0], parts[1], parts[2], parts[3]

	if accountType != AccountTypeSmartContractWallet {
		return fmt.Errorf("unsupported account type %q", accountType)
	}
	if namespace != NamespaceEIP155 {
		return fmt.Errorf("unsupported chain namespace %q", namespace)
	}
	if err := validateChainId(chainId); err != nil {
		return err
	}
	return validateAddress(address)
}

// validateChainId accepts positive decimal integers without sign or leading zeros
func validateChainId(chainId string) error {
	if chainId == "" {
		return fmt.Errorf("chain id is empty")
	}
	for _, c := range chainId {
		if c < '0' || c > '9' {
			return fmt.Errorf("chain id %q is not a positive decimal integer", chainId)
		}
	}
	if chainId[0] == '0' {
		return fmt.Errorf("chain id %q must be positive without leading zeros", chainId)
	}
	return nil
}

// validateAddress accepts 0x addresses that are all lower case or carry a valid EIP-55
// checksum.
func validateAddress(address string) error {
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return fmt.Errorf("malformed address %q", address)
	}
	digits := address[2:]
	if digits == strings.ToLower(digits) {
		return nil
	}
	if common.HexToAddress(address).Hex() != address {
		return fmt.Errorf("address %q has an invalid checksum", address)
	}
	return nil
}

package util

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// MustParseABI parses a JSON ABI definition compiled into the binary. It panics on a
// malformed definition.
func MustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI definition: %v", err))
	}
	return parsed
}

// NewArguments builds unnamed ABI arguments from solidity type names, e.g. "address", "bytes".
func NewArguments(typeNames ...string) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(typeNames))
	for _, name := range typeNames {
		t, err := abi.NewType(name, "", nil)
		if err != nil {
			return nil, fmt.Errorf("invalid abi type %q: %w", name, err)
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args, nil
}

// EncodeArguments is abi.encode(values...) for the given types.
func EncodeArguments(typeNames []string, values ...interface{}) ([]byte, error) {
	args, err := NewArguments(typeNames...)
	if err != nil {
		return nil, err
	}
	return args.Pack(values...)
}

// DecodeArguments is abi.decode(data, (types...)).
func DecodeArguments(typeNames []string, data []byte) ([]interface{}, error) {
	args, err := NewArguments(typeNames...)
	if err != nil {
		return nil, err
	}
	return args.Unpack(data)
}

// Uint256Bytes returns n as a 32 byte big-endian word.
func Uint256Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

// Uint64ToBytes32 returns n as a 32 byte big-endian word, the form used for salts.
func Uint64ToBytes32(n uint64) [32]byte {
	var out [32]byte
	copy(out[:], Uint256Bytes(new(big.Int).SetUint64(n)))
	return out
}

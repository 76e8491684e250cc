package smartAccount

import (
	"bytes"
	"fmt"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/util"
	"github.com/ethereum/go-ethereum/common"
)

// ERC6492MagicSuffix terminates every ERC-6492 wrapped signature.
var ERC6492MagicSuffix = common.FromHex("0x6492649264926492649264926492649264926492649264926492649264926492")

var erc6492Types = []string{"address", "bytes", "bytes"}

// ERC6492Signature is a signature for a counterfactual account: the call that deploys it
// and the signature the deployed account validates.
type ERC6492Signature struct {
	Factory     common.Address
	FactoryData []byte
	Signature   []byte
}

// WrapERC6492 encodes abi.encode(factory, factoryData, signature) followed by the magic suffix.
func WrapERC6492(factory common.Address, factoryData []byte, signature []byte) ([]byte, error) {
	encoded, err := util.EncodeArguments(erc6492Types, factory, factoryData, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ERC-6492 signature: %w", err)
	}
	return append(encoded, ERC6492MagicSuffix...), nil
}

func IsERC6492(signature []byte) bool {
	return len(signature) >= len(ERC6492MagicSuffix) && bytes.HasSuffix(signature, ERC6492MagicSuffix)
}

// UnwrapERC6492 decodes a wrapped signature. Signatures without the magic suffix fail.
func UnwrapERC6492(signature []byte) (*ERC6492Signature, error) {
	if !IsERC6492(signature) {
		return nil, fmt.Errorf("signature is not ERC-6492 wrapped")
	}
	values, err := util.DecodeArguments(erc6492Types, signature[:len(signature)-len(ERC6492MagicSuffix)])
	if err != nil {
		return nil, fmt.Errorf("failed to decode ERC-6492 signature: %w", err)
	}

	factory, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected ERC-6492 factory type %T", values[0])
	}
	factoryData, ok := values[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected ERC-6492 factory data type %T", values[1])
	}
	inner, ok := values[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected ERC-6492 signature type %T", values[2])
	}
	return &ERC6492Signature{Factory: factory, FactoryData: factoryData, Signature: inner}, nil
}

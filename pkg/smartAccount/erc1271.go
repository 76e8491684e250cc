package smartAccount

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ERC1271MagicValue is returned by isValidSignature for a valid signature.
var ERC1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

// EncodeIsValidSignature is the calldata of isValidSignature(hash, signature).
func EncodeIsValidSignature(hash common.Hash, signature []byte) ([]byte, error) {
	data, err := erc1271.Pack("isValidSignature", [32]byte(hash), signature)
	if err != nil {
		return nil, fmt.Errorf("failed to encode isValidSignature: %w", err)
	}
	return data, nil
}

// DecodeIsValidSignature parses isValidSignature calldata.
func DecodeIsValidSignature(data []byte) (common.Hash, []byte, error) {
	method := erc1271.Methods["isValidSignature"]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return common.Hash{}, nil, fmt.Errorf("calldata is not an isValidSignature call")
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("failed to decode isValidSignature: %w", err)
	}
	hash, ok := values[0].([32]byte)
	if !ok {
		return common.Hash{}, nil, fmt.Errorf("unexpected hash type %T", values[0])
	}
	sig, ok := values[1].([]byte)
	if !ok {
		return common.Hash{}, nil, fmt.Errorf("unexpected signature type %T", values[1])
	}
	return common.Hash(hash), sig, nil
}

// EncodeIsValidSignatureResult is the return data of isValidSignature.
func EncodeIsValidSignatureResult(valid bool) ([]byte, error) {
	var result [4]byte
	if valid {
		result = ERC1271MagicValue
	}
	return erc1271.Methods["isValidSignature"].Outputs.Pack(result)
}

// IsMagicValue reports whether isValidSignature return data accepts the signature.
func IsMagicValue(result []byte) bool {
	values, err := erc1271.Methods["isValidSignature"].Outputs.Unpack(result)
	if err != nil || len(values) != 1 {
		return false
	}
	magic, ok := values[0].([4]byte)
	return ok && magic == ERC1271MagicValue
}

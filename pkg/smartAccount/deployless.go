package smartAccount

import (
	"bytes"
	"fmt"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
)

// Memory layout of the validator.
const (
	slotCalldata  = 0x00 // offset of the isValidSignature calldata
	slotSignature = 0x20 // offset of the length word of the signature to check
	slotResult    = 0x40 // isValidSignature return word
	argsOffset    = 0x80 // constructor arguments

	identityPrecompile = 0x04
)

var erc6492ValidationTypes = []string{"address", "bytes32", "bytes"}

// ERC6492ValidatorCode is the creation code of a contract whose constructor checks
// abi.encode(signer, hash, signature), appended to it, and returns a single byte: 0x01
// when the signature is valid. It is run with a deployless eth_call, so nothing is
// written on chain:
//
//   - a wrapped signature for a signer without code first calls the factory with the
//     factory calldata, then checks the inner signature;
//   - the check is isValidSignature(hash, signature) on the signer, which must return
//     the ERC-1271 magic value.
var ERC6492ValidatorCode = erc6492ValidatorProgram().mustAssemble()

func erc6492ValidatorProgram() *evmProgram {
	magic := common.RightPadBytes(ERC1271MagicValue[:], 32)
	p := newEVMProgram()

	// copy the arguments after the code to argsOffset, calldata goes after them
	p.pushLabel("args").op(vm.CODESIZE, vm.SUB)
	p.op(vm.DUP1).pushLabel("args").pushInt(argsOffset).op(vm.CODECOPY)
	p.pushInt(argsOffset + 0x20).op(vm.ADD).pushInt(slotCalldata).op(vm.MSTORE)
	p.pushInt(argsOffset + 0x40).op(vm.MLOAD).pushInt(argsOffset).op(vm.ADD).pushInt(slotSignature).op(vm.MSTORE)

	// wrapped: at least one word long and ending with the magic suffix
	p.pushInt(slotSignature).op(vm.MLOAD, vm.DUP1, vm.MLOAD, vm.ADD, vm.MLOAD).push(ERC6492MagicSuffix).op(vm.EQ)
	p.pushInt(slotSignature).op(vm.MLOAD, vm.MLOAD).pushInt(0x20).op(vm.GT, vm.ISZERO, vm.AND)
	p.op(vm.ISZERO).pushLabel("validate").op(vm.JUMPI)

	// abi.encode(factory, factoryCalldata, signature): point at the inner signature
	p.pushInt(slotSignature).op(vm.MLOAD).pushInt(0x20).op(vm.ADD)
	p.op(vm.DUP1).pushInt(0x40).op(vm.ADD, vm.MLOAD, vm.DUP2, vm.ADD).pushInt(slotSignature).op(vm.MSTORE)

	p.pushInt(argsOffset).op(vm.MLOAD, vm.EXTCODESIZE).pushLabel("deployed").op(vm.JUMPI)
	p.pushInt(0).pushInt(0)
	p.op(vm.DUP3, vm.DUP1).pushInt(0x20).op(vm.ADD, vm.MLOAD, vm.ADD)
	p.op(vm.DUP1, vm.MLOAD, vm.SWAP1).pushInt(0x20).op(vm.ADD)
	p.pushInt(0).op(vm.DUP6, vm.MLOAD, vm.GAS, vm.CALL, vm.POP)
	p.jumpdest("deployed").op(vm.POP)

	p.jumpdest("validate")
	p.pushInt(0).pushInt(slotResult).op(vm.MSTORE)
	p.push(magic).pushInt(slotCalldata).op(vm.MLOAD, vm.MSTORE)
	p.pushInt(argsOffset + 0x20).op(vm.MLOAD).pushInt(slotCalldata).op(vm.MLOAD).pushInt(0x04).op(vm.ADD, vm.MSTORE)
	p.pushInt(0x40).pushInt(slotCalldata).op(vm.MLOAD).pushInt(0x24).op(vm.ADD, vm.MSTORE)

	// length word and signature bytes through the identity precompile
	p.pushInt(slotSignature).op(vm.MLOAD, vm.MLOAD).pushInt(0x20).op(vm.ADD)
	p.pushInt(slotCalldata).op(vm.MLOAD).pushInt(0x44).op(vm.ADD)
	p.op(vm.DUP2).pushInt(slotSignature).op(vm.MLOAD).pushInt(identityPrecompile).op(vm.GAS, vm.STATICCALL, vm.POP)

	p.pushInt(0x20).pushInt(slotResult)
	p.pushInt(slotSignature).op(vm.MLOAD, vm.MLOAD).pushInt(0x1f).op(vm.ADD).pushInt(0x1f).op(vm.NOT, vm.AND).pushInt(0x64).op(vm.ADD)
	p.pushInt(slotCalldata).op(vm.MLOAD).pushInt(argsOffset).op(vm.MLOAD, vm.GAS, vm.STATICCALL)

	// success && returndatasize >= 32 && word == magic
	p.pushInt(slotResult).op(vm.MLOAD).push(magic).op(vm.EQ, vm.AND)
	p.op(vm.RETURNDATASIZE).pushInt(0x20).op(vm.GT, vm.ISZERO, vm.AND)
	p.pushInt(0).op(vm.MSTORE8).pushInt(1).pushInt(0).op(vm.RETURN)

	p.mark("args")
	return p
}

// EncodeERC6492Validation is the data of a deployless eth_call checking signature for
// signer over hash.
func EncodeERC6492Validation(signer common.Address, hash common.Hash, signature []byte) ([]byte, error) {
	args, err := util.EncodeArguments(erc6492ValidationTypes, signer, [32]byte(hash), signature)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ERC-6492 validation: %w", err)
	}
	data := make([]byte, 0, len(ERC6492ValidatorCode)+len(args))
	data = append(data, ERC6492ValidatorCode...)
	return append(data, args...), nil
}

// DecodeERC6492Validation parses data built by EncodeERC6492Validation.
func DecodeERC6492Validation(data []byte) (common.Address, common.Hash, []byte, error) {
	if !bytes.HasPrefix(data, ERC6492ValidatorCode) {
		return common.Address{}, common.Hash{}, nil, fmt.Errorf("data does not start with the ERC-6492 validator")
	}
	values, err := util.DecodeArguments(erc6492ValidationTypes, data[len(ERC6492ValidatorCode):])
	if err != nil {
		return common.Address{}, common.Hash{}, nil, fmt.Errorf("failed to decode ERC-6492 validation: %w", err)
	}
	signer, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, common.Hash{}, nil, fmt.Errorf("unexpected signer type %T", values[0])
	}
	hash, ok := values[1].([32]byte)
	if !ok {
		return common.Address{}, common.Hash{}, nil, fmt.Errorf("unexpected hash type %T", values[1])
	}
	signature, ok := values[2].([]byte)
	if !ok {
		return common.Address{}, common.Hash{}, nil, fmt.Errorf("unexpected signature type %T", values[2])
	}
	return signer, common.Hash(hash), signature, nil
}

// EncodeERC6492ValidationResult is what the validator returns.
func EncodeERC6492ValidationResult(valid bool) []byte {
	if valid {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// ParseERC6492ValidationResult reads the validator's return data. Anything but a single
// 0x00 or 0x01 byte is an error.
func ParseERC6492ValidationResult(result []byte) (bool, error) {
	if len(result) != 1 || result[0] > 1 {
		return false, fmt.Errorf("unexpected ERC-6492 validation result %x", result)
	}
	return result[0] == 0x01, nil
}

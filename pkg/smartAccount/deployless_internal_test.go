package smartAccount

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// accountRuntime accepts one hash and a signature starting with sigWord.
func accountRuntime(hash common.Hash, sigWord common.Hash) []byte {
	p := newEVMProgram()
	p.pushInt(0x04).op(vm.CALLDATALOAD).push(hash.Bytes()).op(vm.EQ)
	p.pushInt(0x64).op(vm.CALLDATALOAD).push(sigWord.Bytes()).op(vm.EQ, vm.AND)
	p.pushLabel("valid").op(vm.JUMPI, vm.STOP)
	p.jumpdest("valid").push(common.RightPadBytes(ERC1271MagicValue[:], 32)).pushInt(0).op(vm.MSTORE)
	p.pushInt(0x20).pushInt(0).op(vm.RETURN)
	return p.mustAssemble()
}

func deployer(runtimeCode []byte) []byte {
	p := newEVMProgram()
	p.pushInt(uint64(len(runtimeCode))).pushLabel("runtime").pushInt(0).op(vm.CODECOPY)
	p.pushInt(uint64(len(runtimeCode))).pushInt(0).op(vm.RETURN)
	p.mark("runtime").raw(runtimeCode)
	return p.mustAssemble()
}

// create2Factory deploys initCode with a zero salt whatever it is called with.
func create2Factory(initCode []byte) []byte {
	p := newEVMProgram()
	p.pushInt(uint64(len(initCode))).pushLabel("initCode").pushInt(0).op(vm.CODECOPY)
	p.pushInt(0).pushInt(uint64(len(initCode))).pushInt(0).pushInt(0).op(vm.CREATE2, vm.POP, vm.STOP)
	p.mark("initCode").raw(initCode)
	return p.mustAssemble()
}

func newEVMState(t *testing.T) *state.StateDB {
	t.Helper()
	statedb, err := state.New(types.EmptyRootHash, state.NewDatabaseForTesting())
	require.NoError(t, err)
	return statedb
}

// runValidation executes the validator the way a node runs a deployless eth_call.
func runValidation(t *testing.T, statedb *state.StateDB, signer common.Address, hash common.Hash, signature []byte) bool {
	t.Helper()
	data, err := EncodeERC6492Validation(signer, hash, signature)
	require.NoError(t, err)
	ret, _, _, err := runtime.Create(data, &runtime.Config{State: statedb})
	require.NoError(t, err)
	valid, err := ParseERC6492ValidationResult(ret)
	require.NoError(t, err)
	return valid
}

func TestERC6492Validator_EVM(t *testing.T) {
	hash := crypto.Keccak256Hash([]byte("hello world"))
	sigWord := crypto.Keccak256Hash([]byte("account signature"))
	accountCode := accountRuntime(hash, sigWord)
	accountInit := deployer(accountCode)

	factory := common.HexToAddress("0x000000000000000000000000000000000000fac7")
	account := crypto.CreateAddress2(factory, [32]byte{}, crypto.Keccak256(accountInit))
	factoryData := []byte("deploy")

	withFactory := func(t *testing.T) *state.StateDB {
		statedb := newEVMState(t)
		statedb.SetCode(factory, create2Factory(accountInit), tracing.CodeChangeUnspecified)
		return statedb
	}
	wrap := func(t *testing.T, factory common.Address, inner []byte) []byte {
		wrapped, err := WrapERC6492(factory, factoryData, inner)
		require.NoError(t, err)
		return wrapped
	}

	t.Run("deploys and validates a counterfactual account", func(t *testing.T) {
		statedb := withFactory(t)
		assert.True(t, runValidation(t, statedb, account, hash, wrap(t, factory, sigWord.Bytes())))
		assert.Equal(t, accountCode, statedb.GetCode(account), "the simulation ran the factory")
	})

	t.Run("wrong hash", func(t *testing.T) {
		other := crypto.Keccak256Hash([]byte("other"))
		assert.False(t, runValidation(t, withFactory(t), account, other, wrap(t, factory, sigWord.Bytes())))
	})

	t.Run("wrong inner signature", func(t *testing.T) {
		other := crypto.Keccak256Hash([]byte("other"))
		assert.False(t, runValidation(t, withFactory(t), account, hash, wrap(t, factory, other.Bytes())))
	})

	t.Run("factory without code", func(t *testing.T) {
		assert.False(t, runValidation(t, newEVMState(t), account, hash, wrap(t, factory, sigWord.Bytes())))
	})

	t.Run("factory deploys another account", func(t *testing.T) {
		other := common.HexToAddress("0x1111111111111111111111111111111111111111")
		assert.False(t, runValidation(t, withFactory(t), other, hash, wrap(t, factory, sigWord.Bytes())))
	})

	t.Run("deployed account", func(t *testing.T) {
		statedb := newEVMState(t)
		statedb.SetCode(account, accountCode, tracing.CodeChangeUnspecified)

		assert.True(t, runValidation(t, statedb, account, hash, sigWord.Bytes()))
		assert.True(t, runValidation(t, statedb, account, hash, wrap(t, factory, sigWord.Bytes())), "wrapped signatures skip the factory")
		assert.False(t, runValidation(t, statedb, account, hash, hash.Bytes()))
	})
}

func TestERC6492Validation_Encoding(t *testing.T) {
	signer := common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	hash := crypto.Keccak256Hash([]byte("hello world"))
	data, err := EncodeERC6492Validation(signer, hash, []byte{0x01, 0x02})
	require.NoError(t, err)

	gotSigner, gotHash, gotSig, err := DecodeERC6492Validation(data)
	require.NoError(t, err)
	assert.Equal(t, signer, gotSigner)
	assert.Equal(t, hash, gotHash)
	assert.Equal(t, []byte{0x01, 0x02}, gotSig)

	_, _, _, err = DecodeERC6492Validation(data[1:])
	require.Error(t, err)

	for _, result := range [][]byte{nil, {0x02}, {0x00, 0x01}, common.LeftPadBytes([]byte{0x01}, 32)} {
		_, err := ParseERC6492ValidationResult(result)
		assert.Error(t, err, "%x", result)
	}
	valid, err := ParseERC6492ValidationResult(EncodeERC6492ValidationResult(true))
	require.NoError(t, err)
	assert.True(t, valid)
}

package util

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func FuzzEncodeArgumentsRoundTrip(f *testing.F) {
	f.Add([]byte{}, []byte{}, []byte{})
	f.Add([]byte{0x01}, []byte("deployWithFactory"), make([]byte, 65))
	f.Add(common.FromHex("0xd703aaE79538628d27099B8c4f621bE4CCd142d5"), []byte{0xde, 0xad}, []byte{0x00})

	typeNames := []string{"address", "bytes", "bytes"}

	f.Fuzz(func(t *testing.T, addr []byte, data []byte, sig []byte) {
		// Keep memory bounded for fuzzing.
		if len(data) > 4096 {
			data = data[:4096]
		}
		if len(sig) > 4096 {
			sig = sig[:4096]
		}
		address := common.BytesToAddress(addr)

		encoded, err := EncodeArguments(typeNames, address, data, sig)
		require.NoError(t, err)
		require.Zero(t, len(encoded)%32)

		out, err := DecodeArguments(typeNames, encoded)
		require.NoError(t, err)
		require.Len(t, out, 3)
		require.Equal(t, address, out[0])
		require.True(t, bytes.Equal(data, out[1].([]byte)))
		require.True(t, bytes.Equal(sig, out[2].([]byte)))
	})
}

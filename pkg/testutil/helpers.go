package testutil

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// GenerateKey returns a fresh secp256k1 key
func GenerateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

// RecoverSigner recovers the address behind a 65 byte signature with v in {27, 28}
func RecoverSigner(t *testing.T, hash []byte, sig []byte) common.Address {
	t.Helper()
	require.Len(t, sig, 65)
	raw := append([]byte{}, sig...)
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := crypto.SigToPub(hash, raw)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(*pub)
}

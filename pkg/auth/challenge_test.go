package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedRequest(t *testing.T, now time.Time) (*types.AuthRequest, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := GenerateNonce()
	require.NoError(t, err)
	message := BuildAuthMessage(address, NewChallenge(nonce, now))
	sig, err := SignAuthMessage(key, message)
	require.NoError(t, err)

	return &types.AuthRequest{Address: address.Hex(), Message: message, Signature: sig}, nonce
}

func TestGenerateNonce(t *testing.T) {
	a, err := GenerateNonce()
	require.NoError(t, err)
	b, err := GenerateNonce()
	require.NoError(t, err)

	assert.Len(t, a, NonceLength*2)
	assert.NotEqual(t, a, b)
}

func TestParseChallenge(t *testing.T) {
	nonce := strings.Repeat("ab", NonceLength)

	ts, parsed, err := ParseChallenge(NewChallenge(nonce, time.Unix(1700000000, 0)))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts)
	assert.Equal(t, nonce, parsed)

	tests := []struct {
		name      string
		challenge string
	}{
		{"empty", ""},
		{"no separator", "1700000000"},
		{"short nonce", "1700000000-abcd"},
		{"non hex nonce", "1700000000-" + strings.Repeat("zz", NonceLength)},
		{"non numeric timestamp", "abc-" + nonce},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseChallenge(tt.challenge)
			require.Error(t, err)
		})
	}
}

func TestParseAuthMessage(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	parsedAddr, challenge, err := ParseAuthMessage(BuildAuthMessage(address, "123-abc"))
	require.NoError(t, err)
	assert.Equal(t, address, parsedAddr)
	assert.Equal(t, "123-abc", challenge)

	_, _, err = ParseAuthMessage("hello world")
	require.Error(t, err)
}

func TestVerifyAuthRequest(t *testing.T) {
	now := time.Unix(1700000000, 0)

	t.Run("valid", func(t *testing.T) {
		req, nonce := signedRequest(t, now)
		addr, gotNonce, err := VerifyAuthRequest(req, DefaultChallengeTimeWindow, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, req.Address, addr.Hex())
		assert.Equal(t, nonce, gotNonce)
	})

	t.Run("expired challenge", func(t *testing.T) {
		req, _ := signedRequest(t, now)
		_, _, err := VerifyAuthRequest(req, DefaultChallengeTimeWindow, now.Add(10*time.Minute))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("future challenge", func(t *testing.T) {
		req, _ := signedRequest(t, now.Add(time.Hour))
		_, _, err := VerifyAuthRequest(req, DefaultChallengeTimeWindow, now)
		require.Error(t, err)
	})

	t.Run("signature from another key", func(t *testing.T) {
		req, _ := signedRequest(t, now)
		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		req.Signature, err = SignAuthMessage(other, req.Message)
		require.NoError(t, err)

		_, _, err = VerifyAuthRequest(req, DefaultChallengeTimeWindow, now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signature verification failed")
	})

	t.Run("address mismatch", func(t *testing.T) {
		req, _ := signedRequest(t, now)
		req.Address = "0x0000000000000000000000000000000000000001"
		_, _, err := VerifyAuthRequest(req, DefaultChallengeTimeWindow, now)
		require.Error(t, err)
	})

	t.Run("truncated signature", func(t *testing.T) {
		req, _ := signedRequest(t, now)
		req.Signature = req.Signature[:64]
		_, _, err := VerifyAuthRequest(req, DefaultChallengeTimeWindow, now)
		require.Error(t, err)
	})
}

func TestRecoverEIP191Signer_AcceptsBothVForms(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	message := []byte("hello world")

	sig, err := SignAuthMessage(key, string(message))
	require.NoError(t, err)
	require.True(t, sig[64] == 27 || sig[64] == 28)

	addr, err := RecoverEIP191Signer(message, sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)

	raw := append([]byte{}, sig...)
	raw[64] -= 27
	addr, err = RecoverEIP191Signer(message, raw)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)
}

package auth

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

/*
Controller authentication

A controller proves it holds its identity key by signing a short, network-issued
challenge with EIP-191 personal_sign.

Protocol Flow:
 1. Client fetches a nonce from the network (GET /nonce)
 2. Client builds challenge "<timestamp>-<nonce_hex>" and the auth message below
 3. Client signs keccak256("\x19Ethereum Signed Message:\n" || len || message)
 4. Network recovers the signer, checks it matches the claimed address, the
    challenge is fresh and the nonce was issued by it and not yet consumed

Auth message:

	eigenx-session-signer authentication
	Address: <checksummed address>
	Challenge: <timestamp>-<nonce_hex>
*/

const (
	// DefaultChallengeTimeWindow is the maximum age of a challenge
	DefaultChallengeTimeWindow = 5 * time.Minute

	// NonceLength is the nonce length in bytes
	NonceLength = 32

	authMessageHeader = "eigenx-session-signer authentication"
	addressLinePrefix = "Address: "
	challengePrefix   = "Challenge: "
)

// GenerateNonce returns 32 random bytes, hex encoded
func GenerateNonce() (string, error) {
	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to read random nonce: %w", err)
	}
	return hex.EncodeToString(nonce), nil
}

func NewChallenge(nonceHex string, now time.Time) string {
	return fmt.Sprintf("%d-%s", now.Unix(), nonceHex)
}

// ParseChallenge splits "<timestamp>-<nonce_hex>"
func ParseChallenge(challenge string) (int64, string, error) {
	if challenge == "" {
		return 0, "", fmt.Errorf("challenge is empty")
	}

	var timestamp int64
	var nonce string
	n, err := fmt.Sscanf(challenge, "%d-%s", &timestamp, &nonce)
	if err != nil || n != 2 {
		return 0, "", fmt.Errorf("challenge must be in format '<timestamp>-<nonce_hex>'")
	}
	if len(nonce) != NonceLength*2 {
		return 0, "", fmt.Errorf("invalid nonce length: expected %d hex chars, got %d", NonceLength*2, len(nonce))
	}
	if _, err := hex.DecodeString(nonce); err != nil {
		return 0, "", fmt.Errorf("nonce is not hex: %w", err)
	}
	return timestamp, nonce, nil
}

func BuildAuthMessage(address common.Address, challenge string) string {
	return strings.Join([]string{
		authMessageHeader,
		addressLinePrefix + address.Hex(),
		challengePrefix + challenge,
	}, "\n")
}

// ParseAuthMessage extracts the claimed address and challenge from an auth message
func ParseAuthMessage(message string) (common.Address, string, error) {
	lines := strings.Split(message, "\n")
	if len(lines) != 3 || lines[0] != authMessageHeader {
		return common.Address{}, "", fmt.Errorf("malformed auth message")
	}
	addrHex, ok := strings.CutPrefix(lines[1], addressLinePrefix)
	if !ok || !common.IsHexAddress(addrHex) {
		return common.Address{}, "", fmt.Errorf("auth message has no valid address line")
	}
	challenge, ok := strings.CutPrefix(lines[2], challengePrefix)
	if !ok {
		return common.Address{}, "", fmt.Errorf("auth message has no challenge line")
	}
	return common.HexToAddress(addrHex), challenge, nil
}

// SignAuthMessage produces an EIP-191 signature with v in {27, 28}
func SignAuthMessage(privateKey *ecdsa.PrivateKey, message string) ([]byte, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key is nil")
	}
	sig, err := crypto.Sign(types.TextHash([]byte(message)), privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign auth message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverEIP191Signer returns the address that personal_signed message
func RecoverEIP191Signer(message []byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: expected 65, got %d", len(signature))
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(types.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifyAuthRequest checks the signature and freshness of an auth request and returns
// the authenticated address and the nonce it consumed. Nonce issuance is checked by the caller.
func VerifyAuthRequest(req *types.AuthRequest, window time.Duration, now time.Time) (common.Address, string, error) {
	if req == nil {
		return common.Address{}, "", fmt.Errorf("auth request is nil")
	}
	if window == 0 {
		window = DefaultChallengeTimeWindow
	}

	claimed, challenge, err := ParseAuthMessage(req.Message)
	if err != nil {
		return common.Address{}, "", err
	}
	if !common.IsHexAddress(req.Address) || common.HexToAddress(req.Address) != claimed {
		return common.Address{}, "", fmt.Errorf("request address does not match auth message")
	}

	timestamp, nonce, err := ParseChallenge(challenge)
	if err != nil {
		return common.Address{}, "", fmt.Errorf("invalid challenge: %w", err)
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age < -time.Minute {
		return common.Address{}, "", fmt.Errorf("challenge timestamp is in the future")
	}
	if age > window {
		return common.Address{}, "", fmt.Errorf("challenge expired (age: %v, max: %v)", age, window)
	}

	recovered, err := RecoverEIP191Signer([]byte(req.Message), req.Signature)
	if err != nil {
		return common.Address{}, "", err
	}
	if recovered != claimed {
		return common.Address{}, "", fmt.Errorf("signature verification failed")
	}

	return claimed, nonce, nil
}

package custody

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	cryptoLibsEcdsa "github.com/Layr-Labs/crypto-libs/pkg/ecdsa"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// CustodiedKey describes a secp256k1 key held by a custody backend.
type CustodiedKey struct {
	PublicKey *ecdsa.PublicKey
	Address   common.Address
	KeyId     string
}

// NewCustodiedKey derives the Ethereum address of pub and binds it to keyId.
func NewCustodiedKey(keyId string, pub *ecdsa.PublicKey) (*CustodiedKey, error) {
	if pub == nil {
		return nil, fmt.Errorf("public key is nil")
	}
	pk := &cryptoLibsEcdsa.PublicKey{
		X: pub.X,
		Y: pub.Y,
	}
	addr, err := pk.DeriveAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to derive Ethereum address from public key: %w", err)
	}
	return &CustodiedKey{
		PublicKey: pub,
		Address:   addr,
		KeyId:     keyId,
	}, nil
}

// GetPublicKeyBytes returns the 65 byte uncompressed public key
func (ck *CustodiedKey) GetPublicKeyBytes() ([]byte, error) {
	if ck.PublicKey == nil {
		return nil, fmt.Errorf("public key is nil")
	}
	return crypto.FromECDSAPub(ck.PublicKey), nil
}

func (ck *CustodiedKey) GetPublicKeyHex() (string, error) {
	pubKeyBytes, err := ck.GetPublicKeyBytes()
	if err != nil {
		return "", fmt.Errorf("failed to get public key bytes: %w", err)
	}
	return hexutil.Encode(pubKeyBytes), nil
}

func (ck *CustodiedKey) Handle() (*types.CustodiedKeyHandle, error) {
	pubKeyBytes, err := ck.GetPublicKeyBytes()
	if err != nil {
		return nil, err
	}
	return &types.CustodiedKeyHandle{KeyId: ck.KeyId, PublicKey: pubKeyBytes}, nil
}

// ICustodian holds signing keys on behalf of the network. Private key material never
// leaves the backend.
type ICustodian interface {
	GenerateKey(ctx context.Context, keyName string, aliasName string) (*CustodiedKey, error)
	GetKeyById(ctx context.Context, keyId string) (*CustodiedKey, error)
	// SignDigest signs a 32 byte digest and returns r||s||v with v in {27, 28}.
	SignDigest(ctx context.Context, keyId string, digest []byte) ([]byte, error)
}

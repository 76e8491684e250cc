package signingRouter

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalKeySigner signs with a private key held in process, the conventional EOA
// counterpart to a custodied signer.
type LocalKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ IPayloadSigner = (*LocalKeySigner)(nil)

func NewLocalKeySigner(key *ecdsa.PrivateKey) (*LocalKeySigner, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	return &LocalKeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *LocalKeySigner) Address() common.Address {
	return s.address
}

func (s *LocalKeySigner) SignPayload(ctx context.Context, payload types.SignPayload) ([]byte, error) {
	hash, err := payload.SigningHash()
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

package messaging

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/chainIdentifier"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/signingRouter"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Identity is what a messaging inbox needs from an account: a chain scoped identifier and
// a signer answering for the identified address.
type Identity struct {
	identifier string
	chainId    *big.Int
	address    common.Address
	signer     signingRouter.IWalletSigner
}

var _ signingRouter.IWalletSigner = (*Identity)(nil)

// NewIdentity binds signer to identifier. The identifier must be valid and name the
// signer's own address.
func NewIdentity(ctx context.Context, identifier string, signer signingRouter.IWalletSigner) (*Identity, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if err := chainIdentifier.Parse(identifier); err != nil {
		return nil, fmt.Errorf("%w: invalid account identifier: %w", types.ErrInvalidPayload, err)
	}

	parts := strings.Split(identifier, ":")
	chainId, ok := new(big.Int).SetString(parts[2], 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid chain id %q", types.ErrInvalidPayload, parts[2])
	}
	address := common.HexToAddress(parts[3])

	signerAddress, err := signer.GetAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get signer address: %w", err)
	}
	if signerAddress != address {
		return nil, fmt.Errorf("%w: identifier names %s but signer is %s", types.ErrInvalidPayload, address.Hex(), signerAddress.Hex())
	}

	return &Identity{identifier: identifier, chainId: chainId, address: address, signer: signer}, nil
}

func (i *Identity) Identifier() string { return i.identifier }

func (i *Identity) ChainId() *big.Int { return new(big.Int).Set(i.chainId) }

func (i *Identity) GetAddress(ctx context.Context) (common.Address, error) {
	return i.address, nil
}

func (i *Identity) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return i.signer.SignMessage(ctx, message)
}

func (i *Identity) SignTypedData(ctx context.Context, typedData *apitypes.TypedData) ([]byte, error) {
	return i.signer.SignTypedData(ctx, typedData)
}

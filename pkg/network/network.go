package network

import (
	"context"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
)

// SignRequest names the custodied key and the payload to sign. ActionId is set when the
// signature is produced by a named signing action rather than direct account signing.
type SignRequest struct {
	KeyId    string
	ActionId string
	Payload  types.SignPayload
}

// RequiredCapability names the resource and ability a grant must cover for this request
func (r *SignRequest) RequiredCapability() (types.ResourceKind, string, types.Ability) {
	if r.ActionId != "" {
		return types.ResourceKind_SigningAction, r.ActionId, types.Ability_ActionExecution
	}
	return types.ResourceKind_CustodiedKey, r.KeyId, types.Ability_AccountSigning
}

// INetwork is the boundary to a threshold signer network. Implementations are remote
// services; callers interpret errors through the types.Err* kinds.
type INetwork interface {
	// Nonce returns a fresh single-use value to embed in an authentication challenge.
	Nonce(ctx context.Context) (string, error)

	// Authenticate verifies a signed challenge and returns proof of the controller identity.
	Authenticate(ctx context.Context, req *types.AuthRequest) (*types.AuthProof, error)

	// RequestCapability exchanges an auth proof for a session grant covering the capabilities.
	RequestCapability(ctx context.Context, proof *types.AuthProof, capabilities []types.ResourceAbility, window types.ValidityWindow) (*types.CapabilityGrant, error)

	// Sign returns a 65 byte r||s||v signature. Digest payloads are signed verbatim and raw
	// messages are EIP-191 hashed by the network.
	Sign(ctx context.Context, grant *types.CapabilityGrant, req *SignRequest) ([]byte, error)

	// GetKeyHandle resolves the public half of a custodied key.
	GetKeyHandle(ctx context.Context, keyId string) (*types.CustodiedKeyHandle, error)
}

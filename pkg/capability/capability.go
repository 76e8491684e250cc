package capability

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/auth"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/network"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// AccountSigning grants signing with the custodied keys matched by resource
func AccountSigning(resource types.ResourcePattern) types.ResourceAbility {
	return types.ResourceAbility{Resource: resource, Ability: types.Ability_AccountSigning}
}

// ActionExecution grants running the signing actions matched by resource
func ActionExecution(resource types.ResourcePattern) types.ResourceAbility {
	return types.ResourceAbility{Resource: resource, Ability: types.Ability_ActionExecution}
}

// Issuer authenticates controllers and exchanges their proof for session grants.
// It keeps no state between calls.
type Issuer struct {
	network network.INetwork
	logger  *zap.Logger
}

func NewIssuer(net network.INetwork, logger *zap.Logger) (*Issuer, error) {
	if net == nil {
		return nil, fmt.Errorf("network is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Issuer{network: net, logger: logger}, nil
}

func authFailed(err error) error {
	if errors.Is(err, types.ErrAuthenticationFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
}

// Authenticate proves possession of identity to the network. Failures are never retried.
func (i *Issuer) Authenticate(ctx context.Context, identity *ecdsa.PrivateKey) (*types.AuthProof, error) {
	if identity == nil {
		return nil, fmt.Errorf("%w: controller identity is nil", types.ErrAuthenticationFailed)
	}
	address := crypto.PubkeyToAddress(identity.PublicKey)

	nonce, err := i.network.Nonce(ctx)
	if err != nil {
		return nil, authFailed(fmt.Errorf("failed to fetch nonce: %w", err))
	}

	message := auth.BuildAuthMessage(address, auth.NewChallenge(nonce, time.Now()))
	sig, err := auth.SignAuthMessage(identity, message)
	if err != nil {
		return nil, authFailed(err)
	}

	proof, err := i.network.Authenticate(ctx, &types.AuthRequest{
		Address:   address.Hex(),
		Message:   message,
		Signature: sig,
	})
	if err != nil {
		return nil, authFailed(err)
	}
	if proof.Controller != address {
		return nil, fmt.Errorf("%w: network authenticated %s, expected %s", types.ErrAuthenticationFailed, proof.Controller.Hex(), address.Hex())
	}

	i.logger.Sugar().Debugw("Controller authenticated", "controller", address.Hex())
	return proof, nil
}

// ValidateRequests rejects ability requests the network could never grant
func ValidateRequests(requests []types.ResourceAbility) error {
	if len(requests) == 0 {
		return fmt.Errorf("%w: at least one capability must be requested", types.ErrUnsupportedAbility)
	}
	for _, r := range requests {
		if !r.Ability.IsSupported() {
			return fmt.Errorf("%w: %q", types.ErrUnsupportedAbility, r.Ability)
		}
		if _, err := types.ParseResourcePattern(r.Resource.String()); err != nil {
			return fmt.Errorf("%w: %w", types.ErrUnsupportedAbility, err)
		}
	}
	return nil
}

// IssueCapability exchanges proof for a grant covering requests. A zero window lets the
// network apply its default session length.
func (i *Issuer) IssueCapability(ctx context.Context, proof *types.AuthProof, requests []types.ResourceAbility, window types.ValidityWindow) (*types.CapabilityGrant, error) {
	if err := ValidateRequests(requests); err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, fmt.Errorf("%w: auth proof is nil", types.ErrAuthenticationFailed)
	}

	grant, err := i.network.RequestCapability(ctx, proof, requests, window)
	if err != nil {
		if types.ErrorCode(err) == "internal" {
			return nil, authFailed(err)
		}
		return nil, err
	}

	i.logger.Sugar().Infow("Session capability issued",
		"session_id", grant.Id(),
		"controller", grant.Controller().Hex(),
		"expires_at", grant.Window().ExpiresAt,
	)
	return grant, nil
}

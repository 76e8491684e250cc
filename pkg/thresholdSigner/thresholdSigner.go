package thresholdSigner

import (
	"context"
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/network"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// ThresholdSigner signs with a key custodied by the threshold network. The private key is
// never materialized locally; every signature is requested under a capability grant.
type ThresholdSigner struct {
	network network.INetwork
	handle  types.CustodiedKeyHandle
	address common.Address
	logger  *zap.Logger

	// Clock overrides time.Now for grant window checks
	Clock func() time.Time
}

// NewThresholdSigner binds a signer to handle. The account address is derived from the
// handle's public key, without asking the network.
func NewThresholdSigner(net network.INetwork, handle *types.CustodiedKeyHandle, logger *zap.Logger) (*ThresholdSigner, error) {
	if net == nil {
		return nil, fmt.Errorf("network is required")
	}
	if handle == nil {
		return nil, fmt.Errorf("key handle is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := handle.Validate(); err != nil {
		return nil, fmt.Errorf("invalid key handle: %w", err)
	}
	address, err := handle.Address()
	if err != nil {
		return nil, err
	}

	return &ThresholdSigner{
		network: net,
		handle:  types.CustodiedKeyHandle{KeyId: handle.KeyId, PublicKey: append([]byte{}, handle.PublicKey...)},
		address: address,
		logger:  logger,
	}, nil
}

func (s *ThresholdSigner) Address() common.Address {
	return s.address
}

func (s *ThresholdSigner) KeyId() string {
	return s.handle.KeyId
}

func (s *ThresholdSigner) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Sign signs payload as the custodied account. The grant must cover account-signing
// over this key.
func (s *ThresholdSigner) Sign(ctx context.Context, grant *types.CapabilityGrant, payload types.SignPayload) (*types.Signature, error) {
	return s.sign(ctx, grant, &network.SignRequest{KeyId: s.handle.KeyId, Payload: payload})
}

// SignWithAction signs payload through the named signing action. The grant must cover
// action-execution over actionId.
func (s *ThresholdSigner) SignWithAction(ctx context.Context, grant *types.CapabilityGrant, actionId string, payload types.SignPayload) (*types.Signature, error) {
	if actionId == "" {
		return nil, fmt.Errorf("%w: action id is required", types.ErrInvalidPayload)
	}
	return s.sign(ctx, grant, &network.SignRequest{KeyId: s.handle.KeyId, ActionId: actionId, Payload: payload})
}

// CheckGrant rejects grants that cannot authorize req before anything is sent
func (s *ThresholdSigner) CheckGrant(grant *types.CapabilityGrant, req *network.SignRequest) error {
	if grant == nil {
		return fmt.Errorf("%w: no capability grant presented", types.ErrCapabilityScopeMismatch)
	}
	if !grant.IsValidAt(s.now()) {
		window := grant.Window()
		return fmt.Errorf("%w: grant %s is valid from %s until %s", types.ErrCapabilityExpired,
			grant.Id(), window.NotBefore.Format(time.RFC3339), window.ExpiresAt.Format(time.RFC3339))
	}
	kind, id, ability := req.RequiredCapability()
	if !grant.Covers(kind, id, ability) {
		return fmt.Errorf("%w: grant %s does not cover %s over %s", types.ErrCapabilityScopeMismatch,
			grant.Id(), ability, types.ExactPattern(kind, id))
	}
	return nil
}

func (s *ThresholdSigner) sign(ctx context.Context, grant *types.CapabilityGrant, req *network.SignRequest) (*types.Signature, error) {
	if err := s.CheckGrant(grant, req); err != nil {
		return nil, err
	}
	hash, err := req.Payload.SigningHash()
	if err != nil {
		return nil, err
	}

	sig, err := s.network.Sign(ctx, grant, req)
	if err != nil {
		if types.ErrorCode(err) == "internal" {
			return nil, fmt.Errorf("%w: %w", types.ErrSigningUnavailable, err)
		}
		return nil, err
	}

	if err := s.checkSigner(hash.Bytes(), sig); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrSigningUnavailable, err)
	}

	s.logger.Debug("Threshold signature produced",
		zap.String("key_id", req.KeyId),
		zap.String("action_id", req.ActionId),
		zap.String("kind", string(req.Payload.Kind())),
	)
	return &types.Signature{Bytes: sig, Mode: types.SignatureMode_ECDSA}, nil
}

// checkSigner confirms the network answered with this key's signature over hash
func (s *ThresholdSigner) checkSigner(hash []byte, sig []byte) error {
	if len(sig) != 65 {
		return fmt.Errorf("network returned %d byte signature", len(sig))
	}
	raw := append([]byte{}, sig...)
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := crypto.SigToPub(hash, raw)
	if err != nil {
		return fmt.Errorf("network returned unrecoverable signature: %w", err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != s.address {
		return fmt.Errorf("network signed with %s, expected %s", signer.Hex(), s.address.Hex())
	}
	return nil
}

package signingRouter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// IPayloadSigner produces 65 byte r||s||v signatures over classified payloads.
type IPayloadSigner interface {
	// Address returns the signing account. Implementations answer this locally.
	Address() common.Address

	// SignPayload signs a digest verbatim, or the EIP-191 hash of a raw message.
	SignPayload(ctx context.Context, payload types.SignPayload) ([]byte, error)
}

// IGrantSigner signs under a capability grant, as ThresholdSigner does.
type IGrantSigner interface {
	Address() common.Address
	Sign(ctx context.Context, grant *types.CapabilityGrant, payload types.SignPayload) (*types.Signature, error)
}

// IWalletSigner is the conventional wallet surface smart accounts and messaging
// identities are built on.
type IWalletSigner interface {
	// GetAddress returns the signer's account address.
	GetAddress(ctx context.Context) (common.Address, error)

	// SignMessage signs message after classifying it as a digest or a raw message.
	SignMessage(ctx context.Context, message []byte) ([]byte, error)

	// SignTypedData signs the EIP-712 hash of typedData.
	SignTypedData(ctx context.Context, typedData *apitypes.TypedData) ([]byte, error)
}

// grantSigner binds a grant so a grant signer can be driven as a payload signer
type grantSigner struct {
	signer IGrantSigner
	grant  *types.CapabilityGrant
}

func (g *grantSigner) Address() common.Address {
	return g.signer.Address()
}

func (g *grantSigner) SignPayload(ctx context.Context, payload types.SignPayload) ([]byte, error) {
	sig, err := g.signer.Sign(ctx, g.grant, payload)
	if err != nil {
		return nil, err
	}
	return sig.Bytes, nil
}

// WalletCompatibleSigner exposes a payload signer through the wallet interface. Account
// discovery never leaves the process: the threshold network has no notion of an active
// account.
type WalletCompatibleSigner struct {
	signer IPayloadSigner
}

var _ IWalletSigner = (*WalletCompatibleSigner)(nil)

func NewWalletCompatibleSigner(signer IPayloadSigner) *WalletCompatibleSigner {
	return &WalletCompatibleSigner{signer: signer}
}

// AdaptSigner wraps a grant signer, usually a ThresholdSigner, with grant as the
// authorization for every signature it produces.
func AdaptSigner(signer IGrantSigner, grant *types.CapabilityGrant) *WalletCompatibleSigner {
	return NewWalletCompatibleSigner(&grantSigner{signer: signer, grant: grant})
}

func (w *WalletCompatibleSigner) GetAddress(ctx context.Context) (common.Address, error) {
	return w.signer.Address(), nil
}

func (w *WalletCompatibleSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return w.signer.SignPayload(ctx, Classify(message))
}

func (w *WalletCompatibleSigner) SignTypedData(ctx context.Context, typedData *apitypes.TypedData) ([]byte, error) {
	hash, err := HashTypedData(typedData)
	if err != nil {
		return nil, err
	}
	return w.signer.SignPayload(ctx, types.NewPrehashedDigest(hash))
}

// SignTransaction always fails. A smart account key does not sign raw transactions.
func (w *WalletCompatibleSigner) SignTransaction(ctx context.Context, tx *ethTypes.Transaction) ([]byte, error) {
	return nil, fmt.Errorf("%w: smart account signers cannot sign transactions", types.ErrUnsupportedOperation)
}

// Request serves the subset of the wallet JSON-RPC surface a smart account signer can.
// Signatures are returned as 0x hex strings, accounts as a list of checksummed addresses.
func (w *WalletCompatibleSigner) Request(ctx context.Context, method string, params []json.RawMessage) (interface{}, error) {
	switch method {
	case "eth_accounts", "eth_requestAccounts":
		return []string{w.signer.Address().Hex()}, nil

	case "personal_sign":
		// personal_sign(data, address)
		data, err := w.stringParams(params, 0, 1)
		if err != nil {
			return nil, err
		}
		return w.signHex(ctx, classifyRPCData(data))

	case "eth_sign":
		// eth_sign(address, data)
		data, err := w.stringParams(params, 1, 0)
		if err != nil {
			return nil, err
		}
		return w.signHex(ctx, classifyRPCData(data))

	case "eth_signTypedData_v4":
		if len(params) != 2 {
			return nil, fmt.Errorf("%w: %s expects 2 params, got %d", types.ErrInvalidPayload, method, len(params))
		}
		if err := w.checkAddressParam(params[0]); err != nil {
			return nil, err
		}
		typedData, err := decodeTypedData(params[1])
		if err != nil {
			return nil, err
		}
		sig, err := w.SignTypedData(ctx, typedData)
		if err != nil {
			return nil, err
		}
		return hexutil.Encode(sig), nil

	case "eth_signTransaction", "eth_sendTransaction", "eth_sendRawTransaction":
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedOperation, method)

	default:
		return nil, fmt.Errorf("%w: unknown method %s", types.ErrUnsupportedOperation, method)
	}
}

func (w *WalletCompatibleSigner) signHex(ctx context.Context, payload types.SignPayload) (string, error) {
	sig, err := w.signer.SignPayload(ctx, payload)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// stringParams returns the data param after checking the address param names this signer
func (w *WalletCompatibleSigner) stringParams(params []json.RawMessage, dataIdx, addressIdx int) (string, error) {
	if len(params) != 2 {
		return "", fmt.Errorf("%w: expected 2 params, got %d", types.ErrInvalidPayload, len(params))
	}
	if err := w.checkAddressParam(params[addressIdx]); err != nil {
		return "", err
	}
	var data string
	if err := json.Unmarshal(params[dataIdx], &data); err != nil {
		return "", fmt.Errorf("%w: data param must be a string: %w", types.ErrInvalidPayload, err)
	}
	return data, nil
}

func (w *WalletCompatibleSigner) checkAddressParam(raw json.RawMessage) error {
	var address string
	if err := json.Unmarshal(raw, &address); err != nil {
		return fmt.Errorf("%w: address param must be a string: %w", types.ErrInvalidPayload, err)
	}
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: invalid address %q", types.ErrInvalidPayload, address)
	}
	if common.HexToAddress(address) != w.signer.Address() {
		return fmt.Errorf("%w: signer is %s, request names %s", types.ErrInvalidPayload, w.signer.Address().Hex(), address)
	}
	return nil
}

// decodeTypedData accepts the typed data as a JSON object or as a JSON encoded string
func decodeTypedData(raw json.RawMessage) (*apitypes.TypedData, error) {
	body := []byte(raw)
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: invalid typed data string: %w", types.ErrInvalidPayload, err)
		}
		body = []byte(s)
	}

	var typedData apitypes.TypedData
	if err := json.Unmarshal(body, &typedData); err != nil {
		return nil, fmt.Errorf("%w: invalid typed data: %w", types.ErrInvalidPayload, err)
	}
	return &typedData, nil
}

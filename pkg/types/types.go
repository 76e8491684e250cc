package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const SessionJWTAudience = "EigenX Session Signer"

// Ability is an action a capability grant may authorize. The set is closed.
type Ability string

const (
	Ability_ActionExecution Ability = "action-execution"
	Ability_AccountSigning  Ability = "account-signing"
)

var SupportedAbilities = []Ability{
	Ability_ActionExecution,
	Ability_AccountSigning,
}

func (a Ability) IsSupported() bool {
	for _, s := range SupportedAbilities {
		if s == a {
			return true
		}
	}
	return false
}

func (a Ability) String() string {
	return string(a)
}

type ResourceKind string

const (
	ResourceKind_CustodiedKey  ResourceKind = "custodied-key"
	ResourceKind_SigningAction ResourceKind = "signing-action"
)

// WildcardResource matches every resource of a kind
const WildcardResource = "*"

// ResourcePattern selects the resources of one kind a grant applies to.
type ResourcePattern struct {
	Kind ResourceKind `json:"kind"`
	Id   string       `json:"id"`
}

func WildcardPattern(kind ResourceKind) ResourcePattern {
	return ResourcePattern{Kind: kind, Id: WildcardResource}
}

func ExactPattern(kind ResourceKind, id string) ResourcePattern {
	return ResourcePattern{Kind: kind, Id: id}
}

func (p ResourcePattern) Matches(kind ResourceKind, id string) bool {
	if p.Kind != kind {
		return false
	}
	return p.Id == WildcardResource || p.Id == id
}

// String renders the pattern as <kind>://<id>
func (p ResourcePattern) String() string {
	return fmt.Sprintf("%s://%s", p.Kind, p.Id)
}

func ParseResourcePattern(s string) (ResourcePattern, error) {
	kind, id, ok := strings.Cut(s, "://")
	if !ok || id == "" {
		return ResourcePattern{}, fmt.Errorf("malformed resource pattern: %q", s)
	}
	switch ResourceKind(kind) {
	case ResourceKind_CustodiedKey, ResourceKind_SigningAction:
	default:
		return ResourcePattern{}, fmt.Errorf("unknown resource kind: %q", kind)
	}
	return ResourcePattern{Kind: ResourceKind(kind), Id: id}, nil
}

// ResourceAbility pairs a resource pattern with the ability granted over it.
type ResourceAbility struct {
	Resource ResourcePattern `json:"resource"`
	Ability  Ability         `json:"ability"`
}

type ValidityWindow struct {
	NotBefore time.Time `json:"notBefore"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func NewValidityWindow(start time.Time, ttl time.Duration) ValidityWindow {
	return ValidityWindow{NotBefore: start, ExpiresAt: start.Add(ttl)}
}

func (w ValidityWindow) Contains(t time.Time) bool {
	return !t.Before(w.NotBefore) && t.Before(w.ExpiresAt)
}

func (w ValidityWindow) Duration() time.Duration {
	return w.ExpiresAt.Sub(w.NotBefore)
}

func (w ValidityWindow) Validate() error {
	if w.NotBefore.IsZero() || w.ExpiresAt.IsZero() {
		return fmt.Errorf("validity window bounds must be set")
	}
	if !w.ExpiresAt.After(w.NotBefore) {
		return fmt.Errorf("validity window ends before it starts")
	}
	return nil
}

// CapabilityGrant is a session authorization issued by the threshold network.
// It is read-only for holders and must be presented to the network unmodified.
type CapabilityGrant struct {
	id           string
	controller   common.Address
	capabilities []ResourceAbility
	window       ValidityWindow
	token        string
}

func NewCapabilityGrant(id string, controller common.Address, capabilities []ResourceAbility, window ValidityWindow, token string) *CapabilityGrant {
	caps := make([]ResourceAbility, len(capabilities))
	copy(caps, capabilities)
	return &CapabilityGrant{
		id:           id,
		controller:   controller,
		capabilities: caps,
		window:       window,
		token:        token,
	}
}

func (g *CapabilityGrant) Id() string                 { return g.id }
func (g *CapabilityGrant) Controller() common.Address { return g.controller }
func (g *CapabilityGrant) Window() ValidityWindow     { return g.window }
func (g *CapabilityGrant) Token() string              { return g.token }

func (g *CapabilityGrant) Capabilities() []ResourceAbility {
	caps := make([]ResourceAbility, len(g.capabilities))
	copy(caps, g.capabilities)
	return caps
}

func (g *CapabilityGrant) IsValidAt(t time.Time) bool {
	return g.window.Contains(t)
}

// Covers reports whether any capability in the grant authorizes ability over the resource.
func (g *CapabilityGrant) Covers(kind ResourceKind, id string, ability Ability) bool {
	for _, c := range g.capabilities {
		if c.Ability == ability && c.Resource.Matches(kind, id) {
			return true
		}
	}
	return false
}

// AuthProof is the network's acknowledgement of an authenticated controller.
type AuthProof struct {
	Controller common.Address `json:"controller"`
	Token      string         `json:"token"`
	ExpiresAt  time.Time      `json:"expiresAt"`
}

// CustodiedKeyHandle references a key whose private half lives in the threshold network.
type CustodiedKeyHandle struct {
	KeyId     string `json:"keyId"`
	PublicKey []byte `json:"publicKey"` // 65 byte uncompressed secp256k1 point
}

func (h CustodiedKeyHandle) Address() (common.Address, error) {
	pub, err := crypto.UnmarshalPubkey(h.PublicKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid custodied public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func (h CustodiedKeyHandle) Validate() error {
	if h.KeyId == "" {
		return fmt.Errorf("key id is required")
	}
	_, err := h.Address()
	return err
}

type PayloadKind string

const (
	PayloadKind_RawMessage      PayloadKind = "message"
	PayloadKind_PrehashedDigest PayloadKind = "digest"
)

// SignPayload is either a raw message, hashed with the EIP-191 prefix by the signer,
// or a 32 byte digest signed verbatim.
type SignPayload struct {
	kind PayloadKind
	data []byte
}

func NewRawMessage(message []byte) SignPayload {
	return SignPayload{kind: PayloadKind_RawMessage, data: append([]byte{}, message...)}
}

func NewPrehashedDigest(digest common.Hash) SignPayload {
	return SignPayload{kind: PayloadKind_PrehashedDigest, data: digest.Bytes()}
}

func (p SignPayload) Kind() PayloadKind { return p.kind }
func (p SignPayload) Data() []byte      { return append([]byte{}, p.data...) }
func (p SignPayload) IsDigest() bool    { return p.kind == PayloadKind_PrehashedDigest }

// SigningHash is the 32 byte value an ECDSA key signs for this payload.
func (p SignPayload) SigningHash() (common.Hash, error) {
	if err := p.Validate(); err != nil {
		return common.Hash{}, err
	}
	if p.IsDigest() {
		return common.BytesToHash(p.data), nil
	}
	return common.BytesToHash(TextHash(p.data)), nil
}

func (p SignPayload) Validate() error {
	switch p.kind {
	case PayloadKind_PrehashedDigest:
		if len(p.data) != common.HashLength {
			return fmt.Errorf("%w: digest must be %d bytes, got %d", ErrInvalidPayload, common.HashLength, len(p.data))
		}
	case PayloadKind_RawMessage:
	default:
		return fmt.Errorf("%w: unknown payload kind %q", ErrInvalidPayload, p.kind)
	}
	return nil
}

// PayloadFromWire rebuilds a payload received over the node API.
func PayloadFromWire(kind PayloadKind, data []byte) (SignPayload, error) {
	p := SignPayload{kind: kind, data: append([]byte{}, data...)}
	if err := p.Validate(); err != nil {
		return SignPayload{}, err
	}
	return p, nil
}

// TextHash is keccak256("\x19Ethereum Signed Message:\n" + len(message) + message).
func TextHash(message []byte) []byte {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(msg))
}

type SignatureMode string

const (
	SignatureMode_ECDSA   SignatureMode = "ecdsa"
	SignatureMode_ERC1271 SignatureMode = "erc1271"
	SignatureMode_ERC6492 SignatureMode = "erc6492"
)

type Signature struct {
	Bytes []byte        `json:"bytes"`
	Mode  SignatureMode `json:"mode"`
}

func (s *Signature) Hex() string {
	return hexutil.Encode(s.Bytes)
}

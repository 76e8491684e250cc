package types

import "github.com/ethereum/go-ethereum/common/hexutil"

// NonceResponse is returned by GET /nonce
type NonceResponse struct {
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"`
}

// AuthRequest carries an EIP-191 signed challenge from a controller
type AuthRequest struct {
	Address   string        `json:"address"`
	Message   string        `json:"message"`
	Signature hexutil.Bytes `json:"signature"`
}

type AuthResponse struct {
	Controller string `json:"controller"`
	Token      string `json:"token"`
	ExpiresAt  int64  `json:"expiresAt"`
}

// CapabilityRequest exchanges an auth token for a session grant
type CapabilityRequest struct {
	AuthToken    string            `json:"authToken"`
	Capabilities []ResourceAbility `json:"capabilities"`
	NotBefore    int64             `json:"notBefore"`
	ExpiresAt    int64             `json:"expiresAt"`
}

type CapabilityResponse struct {
	SessionId    string            `json:"sessionId"`
	Controller   string            `json:"controller"`
	Capabilities []ResourceAbility `json:"capabilities"`
	NotBefore    int64             `json:"notBefore"`
	ExpiresAt    int64             `json:"expiresAt"`
	Token        string            `json:"token"`
}

// SignRequest asks the network to sign with a custodied key under a session grant
type SignRequest struct {
	SessionToken string        `json:"sessionToken"`
	KeyId        string        `json:"keyId"`
	ActionId     string        `json:"actionId,omitempty"`
	Kind         PayloadKind   `json:"kind"`
	Data         hexutil.Bytes `json:"data"`
}

type SignResponse struct {
	KeyId     string        `json:"keyId"`
	Signature hexutil.Bytes `json:"signature"`
}

type KeyHandleResponse struct {
	KeyId     string        `json:"keyId"`
	PublicKey hexutil.Bytes `json:"publicKey"`
	Address   string        `json:"address"`
}

type RevokeSessionRequest struct {
	SessionToken string `json:"sessionToken"`
}

// ErrorResponse is the JSON body of every non-2xx node response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

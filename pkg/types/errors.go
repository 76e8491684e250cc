package types

import "errors"

var (
	ErrAuthenticationFailed      = errors.New("authentication failed")
	ErrUnsupportedAbility        = errors.New("unsupported ability")
	ErrCapabilityExpired         = errors.New("capability expired")
	ErrCapabilityScopeMismatch   = errors.New("capability scope mismatch")
	ErrInvalidPayload            = errors.New("invalid payload")
	ErrSigningUnavailable        = errors.New("signing unavailable")
	ErrUnsupportedOperation      = errors.New("unsupported operation")
	ErrAmbiguousPrimaryType      = errors.New("ambiguous primary type")
	ErrUnsupportedAccountVersion = errors.New("unsupported account version")
	ErrVerificationUnavailable   = errors.New("verification unavailable")
)

type errorCode struct {
	code string
	kind error
}

// Wire codes let the node API carry error kinds across HTTP. Order decides which
// kind wins when an error wraps more than one.
var errorCodes = []errorCode{
	{"authentication_failed", ErrAuthenticationFailed},
	{"unsupported_ability", ErrUnsupportedAbility},
	{"capability_expired", ErrCapabilityExpired},
	{"capability_scope_mismatch", ErrCapabilityScopeMismatch},
	{"invalid_payload", ErrInvalidPayload},
	{"unsupported_operation", ErrUnsupportedOperation},
	{"ambiguous_primary_type", ErrAmbiguousPrimaryType},
	{"unsupported_account_version", ErrUnsupportedAccountVersion},
	{"signing_unavailable", ErrSigningUnavailable},
	{"verification_unavailable", ErrVerificationUnavailable},
}

// ErrorCode returns the wire code of the first known error kind in err's chain.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return "internal"
}

// ErrorFromCode maps a wire code back to its error kind, or nil when unknown.
func ErrorFromCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.kind
		}
	}
	return nil
}

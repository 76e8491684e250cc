package localNetwork

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

const (
	// AuthJWTAudience marks short-lived tokens proving a controller authenticated
	AuthJWTAudience = "auth"

	capabilitiesClaim = "cap"
)

// tokenClaims is the subset of registered and private claims the network reads back
type tokenClaims struct {
	Id           string                  `json:"jti"`
	Subject      string                  `json:"sub"`
	IssuedAt     int64                   `json:"iat"`
	NotBefore    int64                   `json:"nbf"`
	ExpiresAt    int64                   `json:"exp"`
	Capabilities []types.ResourceAbility `json:"cap,omitempty"`
}

func (c *tokenClaims) window() types.ValidityWindow {
	return types.ValidityWindow{
		NotBefore: time.Unix(c.NotBefore, 0),
		ExpiresAt: time.Unix(c.ExpiresAt, 0),
	}
}

// tokenIssuer signs and verifies the network's EdDSA tokens
type tokenIssuer struct {
	issuer     string
	signingKey jwk.Key
	publicKeys jwk.Set
}

func newTokenIssuer(issuer string) (*tokenIssuer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token signing key: %w", err)
	}
	keyID := uuid.New().String()

	signingKey, err := jwk.Import(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to import signing key: %w", err)
	}
	if err := signingKey.Set(jwk.KeyIDKey, keyID); err != nil {
		return nil, err
	}
	if err := signingKey.Set(jwk.AlgorithmKey, jwa.EdDSA()); err != nil {
		return nil, err
	}

	publicKey, err := jwk.Import(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("failed to import public key: %w", err)
	}
	if err := publicKey.Set(jwk.KeyIDKey, keyID); err != nil {
		return nil, err
	}
	if err := publicKey.Set(jwk.AlgorithmKey, jwa.EdDSA()); err != nil {
		return nil, err
	}
	if err := publicKey.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, err
	}

	publicKeys := jwk.NewSet()
	if err := publicKeys.AddKey(publicKey); err != nil {
		return nil, fmt.Errorf("failed to build key set: %w", err)
	}

	return &tokenIssuer{
		issuer:     issuer,
		signingKey: signingKey,
		publicKeys: publicKeys,
	}, nil
}

func (ti *tokenIssuer) sign(audience string, subject string, issuedAt time.Time, window types.ValidityWindow, capabilities []types.ResourceAbility) (string, string, error) {
	jti := uuid.New().String()

	token := jwt.New()
	claims := map[string]any{
		jwt.JwtIDKey:      jti,
		jwt.IssuerKey:     ti.issuer,
		jwt.AudienceKey:   []string{audience},
		jwt.SubjectKey:    subject,
		jwt.IssuedAtKey:   issuedAt,
		jwt.NotBeforeKey:  window.NotBefore,
		jwt.ExpirationKey: window.ExpiresAt,
	}
	if len(capabilities) > 0 {
		claims[capabilitiesClaim] = capabilities
	}
	for key, value := range claims {
		if err := token.Set(key, value); err != nil {
			return "", "", fmt.Errorf("failed to set claim %s: %w", key, err)
		}
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.EdDSA(), ti.signingKey))
	if err != nil {
		return "", "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), jti, nil
}

// verify checks signature, issuer and audience. Time bounds are left to the caller so
// expiry maps onto the network's own error kinds.
func (ti *tokenIssuer) verify(tokenString string, audience string) (*tokenClaims, error) {
	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(ti.publicKeys),
		jwt.WithValidate(false),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	issuer, ok := token.Issuer()
	if !ok || issuer != ti.issuer {
		return nil, fmt.Errorf("invalid issuer: expected %s, got %s", ti.issuer, issuer)
	}
	audiences, ok := token.Audience()
	if !ok || len(audiences) != 1 {
		return nil, fmt.Errorf("audience must contain exactly one value")
	}
	if audiences[0] != audience {
		return nil, fmt.Errorf("invalid audience: expected %s, got %s", audience, audiences[0])
	}

	claims := &tokenClaims{}
	tokenBytes, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token to JSON: %w", err)
	}
	if err := json.Unmarshal(tokenBytes, claims); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token claims: %w", err)
	}
	if claims.Id == "" || claims.Subject == "" {
		return nil, fmt.Errorf("token is missing jti or sub")
	}
	return claims, nil
}

package localNetwork

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/auth"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/config"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/custody"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/metrics"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/network"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes session issuance and signing limits
type Config struct {
	Issuer            string
	DefaultSessionTTL time.Duration
	MaxSessionTTL     time.Duration
	AuthTokenTTL      time.Duration
	ChallengeWindow   time.Duration
	SignRateLimit     float64
	SignRateBurst     int

	// Clock overrides time.Now, used by tests
	Clock func() time.Time
}

func NewDefaultConfig() *Config {
	return &Config{
		Issuer:            config.DefaultSignerNodeIssuer,
		DefaultSessionTTL: config.DefaultSessionTTL,
		MaxSessionTTL:     config.MaxSessionTTL,
		AuthTokenTTL:      config.DefaultAuthTokenTTL,
		ChallengeWindow:   auth.DefaultChallengeTimeWindow,
		SignRateLimit:     config.DefaultSignRateLimit,
		SignRateBurst:     config.DefaultSignRateBurst,
	}
}

// LocalNetwork is an in-process threshold network. It stands in for the remote signer
// nodes during development and backs the reference node server.
type LocalNetwork struct {
	cfg       *Config
	custodian custody.ICustodian
	store     persistence.ISessionPersistence
	tokens    *tokenIssuer
	logger    *zap.Logger

	mu       sync.Mutex
	nonces   map[string]time.Time
	limiters map[common.Address]*rate.Limiter
	// key id to the controllers allowed to sign with it
	permits map[string]map[common.Address]struct{}
}

var _ network.INetwork = (*LocalNetwork)(nil)

func NewLocalNetwork(cfg *Config, custodian custody.ICustodian, store persistence.ISessionPersistence, logger *zap.Logger) (*LocalNetwork, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if custodian == nil {
		return nil, fmt.Errorf("custodian is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session persistence is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.MaxSessionTTL < cfg.DefaultSessionTTL {
		return nil, fmt.Errorf("max session TTL %s is shorter than default %s", cfg.MaxSessionTTL, cfg.DefaultSessionTTL)
	}

	tokens, err := newTokenIssuer(cfg.Issuer)
	if err != nil {
		return nil, err
	}

	return &LocalNetwork{
		cfg:       cfg,
		custodian: custodian,
		store:     store,
		tokens:    tokens,
		logger:    logger,
		nonces:    make(map[string]time.Time),
		limiters:  make(map[common.Address]*rate.Limiter),
		permits:   make(map[string]map[common.Address]struct{}),
	}, nil
}

func (n *LocalNetwork) now() time.Time {
	if n.cfg.Clock != nil {
		return n.cfg.Clock()
	}
	return time.Now()
}

// PermitControllers allows controllers to authenticate and sign with keyId. A controller
// with no permitted key is refused at authentication.
func (n *LocalNetwork) PermitControllers(keyId string, controllers ...common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()

	permitted, ok := n.permits[keyId]
	if !ok {
		permitted = make(map[common.Address]struct{})
		n.permits[keyId] = permitted
	}
	for _, controller := range controllers {
		permitted[controller] = struct{}{}
	}
}

func (n *LocalNetwork) isPermitted(keyId string, controller common.Address) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, ok := n.permits[keyId][controller]
	return ok
}

// isKnownController reports whether controller is permitted for any key
func (n *LocalNetwork) isKnownController(controller common.Address) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, permitted := range n.permits {
		if _, ok := permitted[controller]; ok {
			return true
		}
	}
	return false
}

// PublicKeySet returns the JWKS that verifies session tokens
func (n *LocalNetwork) PublicKeySet() jwk.Set {
	return n.tokens.publicKeys
}

func (n *LocalNetwork) Nonce(ctx context.Context) (string, error) {
	nonce, err := auth.GenerateNonce()
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
	}

	n.mu.Lock()
	n.nonces[nonce] = n.now().Add(n.cfg.ChallengeWindow)
	n.mu.Unlock()

	return nonce, nil
}

// consumeNonce removes nonce and reports whether it was outstanding
func (n *LocalNetwork) consumeNonce(nonce string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	expiresAt, ok := n.nonces[nonce]
	if !ok {
		return false
	}
	delete(n.nonces, nonce)
	return n.now().Before(expiresAt)
}

func (n *LocalNetwork) Authenticate(ctx context.Context, req *types.AuthRequest) (*types.AuthProof, error) {
	now := n.now()

	controller, nonce, err := auth.VerifyAuthRequest(req, n.cfg.ChallengeWindow, now)
	if err != nil {
		metrics.AuthenticationsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
	}
	if !n.consumeNonce(nonce) {
		metrics.AuthenticationsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: nonce was not issued or has already been used", types.ErrAuthenticationFailed)
	}
	if !n.isKnownController(controller) {
		metrics.AuthenticationsTotal.WithLabelValues("rejected").Inc()
		n.logger.Sugar().Warnw("Rejected unknown controller", "controller", controller.Hex())
		return nil, fmt.Errorf("%w: controller %s is not permitted for any key", types.ErrAuthenticationFailed, controller.Hex())
	}

	window := types.NewValidityWindow(now.Truncate(time.Second), n.cfg.AuthTokenTTL)
	token, _, err := n.tokens.sign(AuthJWTAudience, controller.Hex(), now, window, nil)
	if err != nil {
		metrics.AuthenticationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
	}

	metrics.AuthenticationsTotal.WithLabelValues("success").Inc()
	n.logger.Sugar().Infow("Controller authenticated", "controller", controller.Hex())

	return &types.AuthProof{
		Controller: controller,
		Token:      token,
		ExpiresAt:  window.ExpiresAt,
	}, nil
}

func (n *LocalNetwork) verifyAuthProof(proof *types.AuthProof, now time.Time) (common.Address, error) {
	if proof == nil || proof.Token == "" {
		return common.Address{}, fmt.Errorf("%w: auth proof is missing", types.ErrAuthenticationFailed)
	}
	claims, err := n.tokens.verify(proof.Token, AuthJWTAudience)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
	}
	if !claims.window().Contains(now) {
		return common.Address{}, fmt.Errorf("%w: auth token expired", types.ErrAuthenticationFailed)
	}
	if !common.IsHexAddress(claims.Subject) {
		return common.Address{}, fmt.Errorf("%w: auth token subject is not an address", types.ErrAuthenticationFailed)
	}
	controller := common.HexToAddress(claims.Subject)
	if proof.Controller != (common.Address{}) && proof.Controller != controller {
		return common.Address{}, fmt.Errorf("%w: auth proof controller does not match token", types.ErrAuthenticationFailed)
	}
	return controller, nil
}

// checkPermittedResources rejects exact key resources controller may not sign with.
// Wildcards are narrowed at sign time.
func (n *LocalNetwork) checkPermittedResources(controller common.Address, capabilities []types.ResourceAbility) error {
	for _, c := range capabilities {
		if c.Resource.Kind != types.ResourceKind_CustodiedKey || c.Resource.Id == types.WildcardResource {
			continue
		}
		if !n.isPermitted(c.Resource.Id, controller) {
			return fmt.Errorf("%w: controller %s is not permitted for key %s", types.ErrCapabilityScopeMismatch, controller.Hex(), c.Resource.Id)
		}
	}
	return nil
}

func validateCapabilities(capabilities []types.ResourceAbility) error {
	if len(capabilities) == 0 {
		return fmt.Errorf("%w: no capabilities requested", types.ErrUnsupportedAbility)
	}
	for _, c := range capabilities {
		if !c.Ability.IsSupported() {
			return fmt.Errorf("%w: %q", types.ErrUnsupportedAbility, c.Ability)
		}
		if _, err := types.ParseResourcePattern(c.Resource.String()); err != nil {
			return fmt.Errorf("%w: %w", types.ErrUnsupportedAbility, err)
		}
	}
	return nil
}

// resolveWindow fills unset bounds with defaults and truncates to token precision
func (n *LocalNetwork) resolveWindow(requested types.ValidityWindow, now time.Time) (types.ValidityWindow, error) {
	window := requested
	if window.NotBefore.IsZero() {
		window.NotBefore = now
	}
	if window.ExpiresAt.IsZero() {
		window.ExpiresAt = window.NotBefore.Add(n.cfg.DefaultSessionTTL)
	}
	window.NotBefore = window.NotBefore.Truncate(time.Second)
	window.ExpiresAt = window.ExpiresAt.Truncate(time.Second)

	if err := window.Validate(); err != nil {
		return types.ValidityWindow{}, fmt.Errorf("%w: %w", types.ErrCapabilityScopeMismatch, err)
	}
	if !window.ExpiresAt.After(now) {
		return types.ValidityWindow{}, fmt.Errorf("%w: requested window has already ended", types.ErrCapabilityExpired)
	}
	if window.Duration() > n.cfg.MaxSessionTTL {
		return types.ValidityWindow{}, fmt.Errorf("%w: session window %s exceeds maximum %s", types.ErrCapabilityScopeMismatch, window.Duration(), n.cfg.MaxSessionTTL)
	}
	return window, nil
}

func (n *LocalNetwork) RequestCapability(ctx context.Context, proof *types.AuthProof, capabilities []types.ResourceAbility, window types.ValidityWindow) (*types.CapabilityGrant, error) {
	now := n.now()

	controller, err := n.verifyAuthProof(proof, now)
	if err != nil {
		metrics.SessionsIssuedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if !n.isKnownController(controller) {
		metrics.SessionsIssuedTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: controller %s is not permitted for any key", types.ErrAuthenticationFailed, controller.Hex())
	}
	if err := validateCapabilities(capabilities); err != nil {
		metrics.SessionsIssuedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if err := n.checkPermittedResources(controller, capabilities); err != nil {
		metrics.SessionsIssuedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	resolved, err := n.resolveWindow(window, now)
	if err != nil {
		metrics.SessionsIssuedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	token, sessionId, err := n.tokens.sign(types.SessionJWTAudience, controller.Hex(), now, resolved, capabilities)
	if err != nil {
		metrics.SessionsIssuedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", types.ErrSigningUnavailable, err)
	}

	record := &persistence.SessionRecord{
		ID:           sessionId,
		Controller:   controller.Hex(),
		Capabilities: capabilities,
		IssuedAt:     now.Unix(),
		NotBefore:    resolved.NotBefore.Unix(),
		ExpiresAt:    resolved.ExpiresAt.Unix(),
	}
	if err := n.store.SaveSession(record); err != nil {
		metrics.SessionsIssuedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: failed to persist session: %w", types.ErrSigningUnavailable, err)
	}

	metrics.SessionsIssuedTotal.WithLabelValues("success").Inc()
	n.logger.Sugar().Infow("Session capability issued",
		"session_id", sessionId,
		"controller", controller.Hex(),
		"capabilities", len(capabilities),
		"expires_at", resolved.ExpiresAt.Unix(),
	)

	return types.NewCapabilityGrant(sessionId, controller, capabilities, resolved, token), nil
}

// resolveSession verifies a session token against signature, window and revocation state.
// Only the token is trusted; the other grant fields are the holder's copy.
func (n *LocalNetwork) resolveSession(tokenString string, now time.Time) (*types.CapabilityGrant, error) {
	claims, err := n.tokens.verify(tokenString, types.SessionJWTAudience)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
	}
	window := claims.window()
	if !window.Contains(now) {
		return nil, fmt.Errorf("%w: session %s is outside its validity window", types.ErrCapabilityExpired, claims.Id)
	}

	record, err := n.store.LoadSession(claims.Id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrSigningUnavailable, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: session %s is unknown", types.ErrCapabilityExpired, claims.Id)
	}
	if record.Revoked {
		return nil, fmt.Errorf("%w: session %s was revoked", types.ErrCapabilityExpired, claims.Id)
	}

	return types.NewCapabilityGrant(claims.Id, common.HexToAddress(claims.Subject), claims.Capabilities, window, tokenString), nil
}

func (n *LocalNetwork) limiterFor(controller common.Address) *rate.Limiter {
	n.mu.Lock()
	defer n.mu.Unlock()

	limiter, ok := n.limiters[controller]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(n.cfg.SignRateLimit), n.cfg.SignRateBurst)
		n.limiters[controller] = limiter
	}
	return limiter
}

func (n *LocalNetwork) Sign(ctx context.Context, grant *types.CapabilityGrant, req *network.SignRequest) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: sign request is nil", types.ErrInvalidPayload)
	}
	kind := string(req.Payload.Kind())
	start := time.Now()
	now := n.now()

	sig, err := n.sign(ctx, grant, req, now)
	status := "success"
	if err != nil {
		status = types.ErrorCode(err)
	}
	metrics.SignRequestsTotal.WithLabelValues(kind, status).Inc()
	if err != nil {
		return nil, err
	}
	metrics.SignDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	return sig, nil
}

func (n *LocalNetwork) sign(ctx context.Context, grant *types.CapabilityGrant, req *network.SignRequest, now time.Time) ([]byte, error) {
	if grant == nil {
		return nil, fmt.Errorf("%w: no capability grant presented", types.ErrAuthenticationFailed)
	}
	if req.KeyId == "" {
		return nil, fmt.Errorf("%w: key id is required", types.ErrInvalidPayload)
	}

	session, err := n.resolveSession(grant.Token(), now)
	if err != nil {
		return nil, err
	}

	resourceKind, resourceId, ability := req.RequiredCapability()
	if !session.Covers(resourceKind, resourceId, ability) {
		return nil, fmt.Errorf("%w: session %s does not grant %s over %s", types.ErrCapabilityScopeMismatch,
			session.Id(), ability, types.ExactPattern(resourceKind, resourceId))
	}
	if !n.isPermitted(req.KeyId, session.Controller()) {
		return nil, fmt.Errorf("%w: controller %s is not permitted for key %s", types.ErrCapabilityScopeMismatch,
			session.Controller().Hex(), req.KeyId)
	}

	hash, err := req.Payload.SigningHash()
	if err != nil {
		return nil, err
	}

	if !n.limiterFor(session.Controller()).AllowN(now, 1) {
		return nil, fmt.Errorf("%w: sign rate limit exceeded for %s", types.ErrSigningUnavailable, session.Controller().Hex())
	}

	sig, err := n.custodian.SignDigest(ctx, req.KeyId, hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrSigningUnavailable, err)
	}

	if err := n.store.RecordSignature(session.Id(), now.Unix()); err != nil {
		n.logger.Sugar().Warnw("Failed to record signature usage", "session_id", session.Id(), "error", err)
	}

	n.logger.Debug("Signed payload",
		zap.String("session_id", session.Id()),
		zap.String("key_id", req.KeyId),
		zap.String("kind", string(req.Payload.Kind())),
	)
	return sig, nil
}

func (n *LocalNetwork) GetKeyHandle(ctx context.Context, keyId string) (*types.CustodiedKeyHandle, error) {
	key, err := n.custodian.GetKeyById(ctx, keyId)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrSigningUnavailable, err)
	}
	return key.Handle()
}

// MintKey provisions a new custodied key, permits controllers to use it and returns its handle
func (n *LocalNetwork) MintKey(ctx context.Context, keyName string, controllers ...common.Address) (*types.CustodiedKeyHandle, error) {
	key, err := n.custodian.GenerateKey(ctx, keyName, keyName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrSigningUnavailable, err)
	}
	n.PermitControllers(key.KeyId, controllers...)
	n.logger.Sugar().Infow("Minted custodied key", "key_id", key.KeyId, "address", key.Address.Hex(), "controllers", len(controllers))
	return key.Handle()
}

// RevokeSession invalidates the session behind sessionToken. The token only needs a
// valid signature so holders can revoke sessions that have not started yet.
func (n *LocalNetwork) RevokeSession(ctx context.Context, sessionToken string) error {
	claims, err := n.tokens.verify(sessionToken, types.SessionJWTAudience)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
	}
	if err := n.store.RevokeSession(claims.Id); err != nil {
		return fmt.Errorf("failed to revoke session %s: %w", claims.Id, err)
	}
	metrics.SessionsRevokedTotal.Inc()
	n.logger.Sugar().Infow("Session revoked", "session_id", claims.Id, "controller", claims.Subject)
	return nil
}

// HealthCheck reports whether the session store is usable
func (n *LocalNetwork) HealthCheck() error {
	return n.store.HealthCheck()
}

func (n *LocalNetwork) ListSessions(ctx context.Context) ([]*persistence.SessionRecord, error) {
	return n.store.ListSessions()
}

// PruneExpired drops sessions whose window has closed and nonces that can no longer be used
func (n *LocalNetwork) PruneExpired(ctx context.Context) (int, error) {
	now := n.now()

	n.mu.Lock()
	for nonce, expiresAt := range n.nonces {
		if !now.Before(expiresAt) {
			delete(n.nonces, nonce)
		}
	}
	n.mu.Unlock()

	return n.store.DeleteExpiredSessions(now.Unix())
}

// RunPruner calls PruneExpired every interval until ctx is done
func (n *LocalNetwork) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := n.PruneExpired(ctx)
			if err != nil {
				n.logger.Sugar().Warnw("Failed to prune expired sessions", "error", err)
				continue
			}
			if deleted > 0 {
				n.logger.Sugar().Infow("Pruned expired sessions", "count", deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}

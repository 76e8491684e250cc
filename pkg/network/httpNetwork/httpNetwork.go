package httpNetwork

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/network"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"go.uber.org/zap"
)

const (
	DefaultRequestTimeout = 30 * time.Second

	jwksPath = "/.well-known/jwks.json"
)

// ClientConfig holds the configuration for a signer node client
type ClientConfig struct {
	NodeURL string
	Timeout time.Duration // Optional, defaults to DefaultRequestTimeout
	Logger  *zap.Logger

	// JWKSRefreshInterval enables local verification of issued session tokens
	// against the node's published keys. Zero disables it.
	JWKSRefreshInterval time.Duration
}

// Client talks to a signer node over its HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	sessionKey jwk.Set
}

var _ network.INetwork = (*Client)(nil)

// NewClient creates a node client, fetching the node's JWKS once when token
// verification is enabled
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.NodeURL == "" {
		return nil, fmt.Errorf("node URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.NodeURL); err != nil {
		return nil, fmt.Errorf("invalid node URL %q: %w", cfg.NodeURL, err)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.NodeURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}

	if cfg.JWKSRefreshInterval > 0 {
		keySet, err := newJWKCache(ctx, c.baseURL+jwksPath, cfg.JWKSRefreshInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to load node session keys: %w", err)
		}
		c.sessionKey = keySet
	}

	return c, nil
}

func newJWKCache(ctx context.Context, jwkUrl string, refreshInterval time.Duration) (jwk.Set, error) {
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create jwk cache: %w", err)
	}

	err = cache.Register(ctx, jwkUrl, jwk.WithConstantInterval(refreshInterval))
	if err != nil {
		return nil, fmt.Errorf("failed to register jwk location: %w", err)
	}

	// fetch once on startup
	if _, err := cache.Refresh(ctx, jwkUrl); err != nil {
		return nil, fmt.Errorf("failed to fetch on startup: %w", err)
	}

	return cache.CachedSet(jwkUrl)
}

// nodeError rebuilds the error kind carried in a node error response
func nodeError(status int, body []byte) error {
	var errResp types.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Code == "" {
		return fmt.Errorf("node returned status %d: %s", status, strings.TrimSpace(string(body)))
	}
	if kind := types.ErrorFromCode(errResp.Code); kind != nil {
		return fmt.Errorf("%w: %s", kind, errResp.Error)
	}
	return fmt.Errorf("node returned status %d (%s): %s", status, errResp.Code, errResp.Error)
}

// transportError marks failures to reach the node. A node answer is returned as is.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// asKind tags transport failures with kind so callers can tell the network was unreachable
func asKind(err error, kind error) error {
	var te *transportError
	if errors.As(err, &te) {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method string, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &transportError{err: fmt.Errorf("failed to build request: %w", err)}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: fmt.Errorf("request to %s failed: %w", path, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: fmt.Errorf("failed to read response from %s: %w", path, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Sugar().Debugw("Node request failed", "path", path, "status", resp.StatusCode)
		return nodeError(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) Nonce(ctx context.Context) (string, error) {
	var resp types.NonceResponse
	if err := c.do(ctx, http.MethodGet, "/nonce", nil, &resp); err != nil {
		return "", asKind(err, types.ErrAuthenticationFailed)
	}
	return resp.Nonce, nil
}

func (c *Client) Authenticate(ctx context.Context, req *types.AuthRequest) (*types.AuthProof, error) {
	var resp types.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth", req, &resp); err != nil {
		return nil, asKind(err, types.ErrAuthenticationFailed)
	}
	if !common.IsHexAddress(resp.Controller) {
		return nil, fmt.Errorf("%w: node returned invalid controller %q", types.ErrAuthenticationFailed, resp.Controller)
	}
	return &types.AuthProof{
		Controller: common.HexToAddress(resp.Controller),
		Token:      resp.Token,
		ExpiresAt:  time.Unix(resp.ExpiresAt, 0),
	}, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func (c *Client) RequestCapability(ctx context.Context, proof *types.AuthProof, capabilities []types.ResourceAbility, window types.ValidityWindow) (*types.CapabilityGrant, error) {
	if proof == nil {
		return nil, fmt.Errorf("%w: auth proof is missing", types.ErrAuthenticationFailed)
	}

	var resp types.CapabilityResponse
	err := c.do(ctx, http.MethodPost, "/session", &types.CapabilityRequest{
		AuthToken:    proof.Token,
		Capabilities: capabilities,
		NotBefore:    unixOrZero(window.NotBefore),
		ExpiresAt:    unixOrZero(window.ExpiresAt),
	}, &resp)
	if err != nil {
		return nil, asKind(err, types.ErrAuthenticationFailed)
	}

	if err := c.verifySessionToken(resp.Token, resp.SessionId); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationFailed, err)
	}

	return types.NewCapabilityGrant(
		resp.SessionId,
		common.HexToAddress(resp.Controller),
		resp.Capabilities,
		types.ValidityWindow{NotBefore: time.Unix(resp.NotBefore, 0), ExpiresAt: time.Unix(resp.ExpiresAt, 0)},
		resp.Token,
	), nil
}

// verifySessionToken checks the token was signed by the node and names the returned session
func (c *Client) verifySessionToken(token string, sessionId string) error {
	if c.sessionKey == nil {
		return nil
	}
	parsed, err := jwt.Parse([]byte(token), jwt.WithKeySet(c.sessionKey), jwt.WithValidate(false))
	if err != nil {
		return fmt.Errorf("session token verification failed: %w", err)
	}
	jti, ok := parsed.JwtID()
	if !ok || jti != sessionId {
		return fmt.Errorf("session token does not match session %s", sessionId)
	}
	return nil
}

func (c *Client) Sign(ctx context.Context, grant *types.CapabilityGrant, req *network.SignRequest) ([]byte, error) {
	if grant == nil {
		return nil, fmt.Errorf("%w: no capability grant presented", types.ErrAuthenticationFailed)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: sign request is nil", types.ErrInvalidPayload)
	}

	var resp types.SignResponse
	err := c.do(ctx, http.MethodPost, "/sign", &types.SignRequest{
		SessionToken: grant.Token(),
		KeyId:        req.KeyId,
		ActionId:     req.ActionId,
		Kind:         req.Payload.Kind(),
		Data:         req.Payload.Data(),
	}, &resp)
	if err != nil {
		return nil, asKind(err, types.ErrSigningUnavailable)
	}
	if len(resp.Signature) != 65 {
		return nil, fmt.Errorf("%w: node returned %d byte signature", types.ErrSigningUnavailable, len(resp.Signature))
	}
	return resp.Signature, nil
}

func (c *Client) GetKeyHandle(ctx context.Context, keyId string) (*types.CustodiedKeyHandle, error) {
	var resp types.KeyHandleResponse
	if err := c.do(ctx, http.MethodGet, "/keys/"+url.PathEscape(keyId), nil, &resp); err != nil {
		return nil, asKind(err, types.ErrSigningUnavailable)
	}

	handle := &types.CustodiedKeyHandle{KeyId: resp.KeyId, PublicKey: resp.PublicKey}
	if err := handle.Validate(); err != nil {
		return nil, fmt.Errorf("%w: node returned invalid key handle: %w", types.ErrSigningUnavailable, err)
	}
	address, err := handle.Address()
	if err != nil {
		return nil, err
	}
	if resp.Address != "" && common.HexToAddress(resp.Address) != address {
		return nil, fmt.Errorf("%w: node key address does not match its public key", types.ErrSigningUnavailable)
	}
	return handle, nil
}

// RevokeSession asks the node to invalidate grant
func (c *Client) RevokeSession(ctx context.Context, grant *types.CapabilityGrant) error {
	if grant == nil {
		return fmt.Errorf("grant is nil")
	}
	return c.do(ctx, http.MethodPost, "/session/revoke", &types.RevokeSessionRequest{SessionToken: grant.Token()}, nil)
}

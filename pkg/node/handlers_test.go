package node

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/auth"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/testutil"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) (http.Handler, *types.CustodiedKeyHandle, *ecdsa.PrivateKey) {
	t.Helper()
	net, handle := testutil.NewTestLocalNetwork(t, nil)
	n, err := NewNode(Config{Port: 8080, Logger: zaptest.NewLogger(t)}, net)
	require.NoError(t, err)
	return n.GetServer().GetHandler(), handle, testutil.NewPermittedController(t, net, handle)
}

// postAuth fetches a nonce and answers the challenge with controller
func postAuth(t *testing.T, h http.Handler, controller *ecdsa.PrivateKey) *httptest.ResponseRecorder {
	t.Helper()
	w := doJSON(t, h, http.MethodGet, "/nonce", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var nonceResp types.NonceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nonceResp))

	address := crypto.PubkeyToAddress(controller.PublicKey)
	message := auth.BuildAuthMessage(address, auth.NewChallenge(nonceResp.Nonce, time.Now()))
	sig, err := auth.SignAuthMessage(controller, message)
	require.NoError(t, err)
	return doJSON(t, h, http.MethodPost, "/auth", types.AuthRequest{Address: address.Hex(), Message: message, Signature: sig})
}

func doJSON(t *testing.T, h http.Handler, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestNewNode_Validation(t *testing.T) {
	net, _ := testutil.NewTestLocalNetwork(t, nil)

	_, err := NewNode(Config{Port: 8080, Logger: zaptest.NewLogger(t)}, nil)
	require.Error(t, err)
	_, err = NewNode(Config{Port: 8080}, net)
	require.Error(t, err)
	_, err = NewNode(Config{Port: 0, Logger: zaptest.NewLogger(t)}, net)
	require.Error(t, err)
}

func TestServer_SessionFlow(t *testing.T) {
	h, handle, controller := newTestServer(t)
	address := crypto.PubkeyToAddress(controller.PublicKey)

	// unknown controller
	w := postAuth(t, h, testutil.GenerateKey(t))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication_failed", decodeError(t, w).Code)

	// auth
	w = postAuth(t, h, controller)
	require.Equal(t, http.StatusOK, w.Code)
	var authResp types.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &authResp))
	assert.Equal(t, address.Hex(), authResp.Controller)

	// session
	w = doJSON(t, h, http.MethodPost, "/session", types.CapabilityRequest{
		AuthToken:    authResp.Token,
		Capabilities: testutil.AllCapabilities(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var capResp types.CapabilityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &capResp))
	assert.Equal(t, int64(3600), capResp.ExpiresAt-capResp.NotBefore)

	// sign digest
	digest := crypto.Keccak256Hash([]byte("payload"))
	w = doJSON(t, h, http.MethodPost, "/sign", types.SignRequest{
		SessionToken: capResp.Token,
		KeyId:        handle.KeyId,
		Kind:         types.PayloadKind_PrehashedDigest,
		Data:         digest.Bytes(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var signResp types.SignResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &signResp))
	keyAddress, err := handle.Address()
	require.NoError(t, err)
	assert.Equal(t, keyAddress, testutil.RecoverSigner(t, digest.Bytes(), signResp.Signature))

	// malformed digest
	w = doJSON(t, h, http.MethodPost, "/sign", types.SignRequest{
		SessionToken: capResp.Token,
		KeyId:        handle.KeyId,
		Kind:         types.PayloadKind_PrehashedDigest,
		Data:         []byte{1, 2, 3},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_payload", decodeError(t, w).Code)

	// revoke, then signing is refused
	w = doJSON(t, h, http.MethodPost, "/session/revoke", types.RevokeSessionRequest{SessionToken: capResp.Token})
	require.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, h, http.MethodPost, "/sign", types.SignRequest{
		SessionToken: capResp.Token,
		KeyId:        handle.KeyId,
		Kind:         types.PayloadKind_RawMessage,
		Data:         []byte("hello"),
	})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "capability_expired", decodeError(t, w).Code)
}

func TestServer_Errors(t *testing.T) {
	h, _, _ := newTestServer(t)

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth", bytes.NewReader([]byte("invalid json")))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := doJSON(t, h, http.MethodGet, "/sign", nil)
		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("bad auth", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/auth", types.AuthRequest{Address: "0x0", Message: "nope"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "authentication_failed", decodeError(t, w).Code)
	})

	t.Run("missing auth token", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/session", types.CapabilityRequest{})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing session token", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/sign", types.SignRequest{KeyId: "k"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestServer_KeysAndHealth(t *testing.T) {
	h, handle, _ := newTestServer(t)

	w := doJSON(t, h, http.MethodGet, "/keys/"+handle.KeyId, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var keyResp types.KeyHandleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &keyResp))
	address, err := handle.Address()
	require.NoError(t, err)
	assert.Equal(t, address.Hex(), keyResp.Address)
	assert.Equal(t, handle.PublicKey, []byte(keyResp.PublicKey))

	w = doJSON(t, h, http.MethodGet, "/keys/missing", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, h, http.MethodGet, "/.well-known/jwks.json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, "OKP", jwks.Keys[0]["kty"])
	assert.NotContains(t, jwks.Keys[0], "d")

	w = doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

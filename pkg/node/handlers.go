package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/auth"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/network"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.node.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// errorStatus maps an error kind onto an HTTP status
func errorStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrUnsupportedAbility),
		errors.Is(err, types.ErrInvalidPayload),
		errors.Is(err, types.ErrUnsupportedOperation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrCapabilityExpired),
		errors.Is(err, types.ErrCapabilityScopeMismatch):
		return http.StatusForbidden
	case errors.Is(err, types.ErrSigningUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.node.logger.Sugar().Errorw("Request failed", "error", err)
	}
	s.writeJSON(w, status, types.ErrorResponse{Error: err.Error(), Code: types.ErrorCode(err)})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: failed to read request: %w", types.ErrInvalidPayload, err))
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid JSON: %w", types.ErrInvalidPayload, err))
		return false
	}
	return true
}

func unixOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.node.network.HealthCheck(); err != nil {
		s.node.logger.Sugar().Warnw("Health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("UNHEALTHY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	nonce, err := s.node.network.Nonce(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, types.NonceResponse{
		Nonce:     nonce,
		ExpiresAt: time.Now().Add(auth.DefaultChallengeTimeWindow).Unix(),
	})
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req types.AuthRequest
	if !s.decode(w, r, &req) {
		return
	}

	proof, err := s.node.network.Authenticate(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, types.AuthResponse{
		Controller: proof.Controller.Hex(),
		Token:      proof.Token,
		ExpiresAt:  proof.ExpiresAt.Unix(),
	})
}

func (s *Server) handleRequestCapability(w http.ResponseWriter, r *http.Request) {
	var req types.CapabilityRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.AuthToken == "" {
		s.writeError(w, fmt.Errorf("%w: authToken is required", types.ErrAuthenticationFailed))
		return
	}

	window := types.ValidityWindow{NotBefore: unixOrZero(req.NotBefore), ExpiresAt: unixOrZero(req.ExpiresAt)}
	grant, err := s.node.network.RequestCapability(r.Context(), &types.AuthProof{Token: req.AuthToken}, req.Capabilities, window)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, types.CapabilityResponse{
		SessionId:    grant.Id(),
		Controller:   grant.Controller().Hex(),
		Capabilities: grant.Capabilities(),
		NotBefore:    grant.Window().NotBefore.Unix(),
		ExpiresAt:    grant.Window().ExpiresAt.Unix(),
		Token:        grant.Token(),
	})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req types.SignRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionToken == "" {
		s.writeError(w, fmt.Errorf("%w: sessionToken is required", types.ErrAuthenticationFailed))
		return
	}

	payload, err := types.PayloadFromWire(req.Kind, req.Data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// the network trusts only the token, so a token-only grant is sufficient
	grant := types.NewCapabilityGrant("", common.Address{}, nil, types.ValidityWindow{}, req.SessionToken)
	sig, err := s.node.network.Sign(r.Context(), grant, &network.SignRequest{
		KeyId:    req.KeyId,
		ActionId: req.ActionId,
		Payload:  payload,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, types.SignResponse{KeyId: req.KeyId, Signature: sig})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	var req types.RevokeSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.node.network.RevokeSession(r.Context(), req.SessionToken); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetKeyHandle(w http.ResponseWriter, r *http.Request) {
	keyId := chi.URLParam(r, "keyId")

	handle, err := s.node.network.GetKeyHandle(r.Context(), keyId)
	if err != nil {
		s.writeError(w, err)
		return
	}
	address, err := handle.Address()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, types.KeyHandleResponse{
		KeyId:     handle.KeyId,
		PublicKey: handle.PublicKey,
		Address:   address.Hex(),
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.network.PublicKeySet())
}

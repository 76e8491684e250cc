package node

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/*
Server exposes the signer network to controllers over HTTP.

Session Flow:
  Step 1: Authentication
    - GET /nonce: Fresh single-use nonce (5 minute lifetime)
    - Controller signs "<timestamp>-<nonce_hex>" challenge with EIP-191
    - POST /auth: { address, message, signature } -> short-lived auth token

  Step 2: Session Capability
    - POST /session: { authToken, capabilities, notBefore, expiresAt }
    - Abilities must be in the closed set (action-execution, account-signing)
    - Window defaults to 1 hour, at most 24 hours
    - Response carries the EdDSA session token; the grant's scope lives inside it

  Step 3: Signing
    - POST /sign: { sessionToken, keyId, actionId?, kind, data }
    - kind "digest": 32 bytes signed verbatim
    - kind "message": EIP-191 prefixed and hashed by the node
    - Response: 65 byte r||s||v, v in {27, 28}

  Revocation:
    - POST /session/revoke: { sessionToken }

Key Discovery:
  GET /keys/{keyId}:
    - Uncompressed public key and address of a custodied key
    - Clients derive addresses locally from this and never ask the node again

  GET /.well-known/jwks.json:
    - Public keys that verify session tokens, for client-side grant checks

Errors:
  - Every failure is JSON { error, code }; code maps back onto the client's error kinds
*/

const (
	defaultHTTPReadTimeout  = 15 * time.Second
	defaultHTTPWriteTimeout = 30 * time.Second
	defaultHTTPIdleTimeout  = 60 * time.Second
	defaultRequestTimeout   = 30 * time.Second

	maxRequestBodyBytes = 1 << 20
)

// Server handles HTTP requests for the node
type Server struct {
	node       *Node
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(node *Node, port int) *Server {
	s := &Server{
		node: node,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Session lifecycle
	r.Get("/nonce", s.handleNonce)
	r.Post("/auth", s.handleAuthenticate)
	r.Post("/session", s.handleRequestCapability)
	r.Post("/session/revoke", s.handleRevokeSession)

	// Signing
	r.Post("/sign", s.handleSign)

	// Key discovery
	r.Get("/keys/{keyId}", s.handleGetKeyHandle)
	r.Get("/.well-known/jwks.json", s.handleJWKS)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  defaultHTTPReadTimeout,
		WriteTimeout: defaultHTTPWriteTimeout,
		IdleTimeout:  defaultHTTPIdleTimeout,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.node.logger.Sugar().Infow("Starting HTTP server", "port", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.node.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

package persistence

import "errors"

var ErrSessionNotFound = errors.New("session not found")

// ISessionPersistence stores the sessions a signer node has issued so they can be
// looked up, revoked and audited across restarts.
// All implementations must be thread-safe as the node serves concurrent requests.
//
// The interface supports:
// - Session records (save, load, list)
// - Revocation and per-session signature accounting
// - Pruning of expired sessions
// - Lifecycle management (close, health check)
type ISessionPersistence interface {
	// Session Management

	// SaveSession persists a session record keyed by its ID.
	// Overwrites an existing record with the same ID.
	SaveSession(session *SessionRecord) error

	// LoadSession retrieves a session by ID.
	// Returns nil if the session doesn't exist, error only on storage failure.
	LoadSession(id string) (*SessionRecord, error)

	// ListSessions returns all sessions sorted by issue time (ascending).
	// Returns empty slice if no sessions exist, error only on storage failure.
	ListSessions() ([]*SessionRecord, error)

	// RevokeSession marks a session as revoked. Revocation is permanent.
	// Returns ErrSessionNotFound if the session doesn't exist.
	RevokeSession(id string) error

	// RecordSignature increments the signature counter of a session and stamps
	// its last use time (unix seconds).
	// Returns ErrSessionNotFound if the session doesn't exist.
	RecordSignature(id string, usedAt int64) error

	// DeleteExpiredSessions removes sessions whose ExpiresAt is at or before the cutoff
	// (unix seconds) and returns how many were removed.
	DeleteExpiredSessions(cutoff int64) (int, error)

	// Lifecycle Management

	// Close releases all resources held by the persistence layer.
	// Subsequent operations fail. Idempotent.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}

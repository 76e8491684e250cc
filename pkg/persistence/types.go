package persistence

import (
	"sort"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
)

// SessionRecord is the node-side view of an issued capability grant.
type SessionRecord struct {
	// ID is the grant identifier (the session token's jti).
	ID string `json:"id"`

	// Controller is the hex address of the authenticated controller.
	Controller string `json:"controller"`

	// Capabilities are the resource/ability pairs the session was granted.
	Capabilities []types.ResourceAbility `json:"capabilities"`

	// IssuedAt, NotBefore and ExpiresAt are unix seconds.
	IssuedAt  int64 `json:"issuedAt"`
	NotBefore int64 `json:"notBefore"`
	ExpiresAt int64 `json:"expiresAt"`

	Revoked bool `json:"revoked"`

	// SignCount counts signatures produced under the session.
	SignCount  uint64 `json:"signCount"`
	LastUsedAt int64  `json:"lastUsedAt"`
}

// Copy returns a deep copy so stores never hand out shared state.
func (s *SessionRecord) Copy() *SessionRecord {
	if s == nil {
		return nil
	}
	c := *s
	c.Capabilities = make([]types.ResourceAbility, len(s.Capabilities))
	copy(c.Capabilities, s.Capabilities)
	return &c
}

// IsExpiredAt reports whether the session window has closed at unix time t.
func (s *SessionRecord) IsExpiredAt(t int64) bool {
	return s.ExpiresAt <= t
}

// SortSessions orders sessions by IssuedAt, then ID.
func SortSessions(sessions []*SessionRecord) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].IssuedAt == sessions[j].IssuedAt {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].IssuedAt < sessions[j].IssuedAt
	})
}

package model

import "time"

// Participant is one device admitted to a session. Disconnects set
// DisconnectedAt rather than deleting the row so the same device can
// reconnect with its original token.
type Participant struct {
	ID             string          `db:"participant_id" json:"participantId"`
	SessionID      string          `db:"session_id" json:"sessionId"`
	Role           ParticipantRole `db:"role" json:"role"`
	TokenHash      string          `db:"token_hash" json:"-"`
	LastSeenAt     time.Time       `db:"last_seen_at" json:"lastSeenAt"`
	DisconnectedAt *time.Time      `db:"disconnected_at" json:"disconnectedAt,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
}

type CreateParticipantParams struct {
	ID        string
	SessionID string
	Role      ParticipantRole
	TokenHash string
}

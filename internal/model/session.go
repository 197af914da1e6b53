package model

import "time"

type Session struct {
	ID               string              `db:"session_id" json:"sessionId"`
	TableToken       string              `db:"table_token" json:"tableToken"`
	RestaurantID     string              `db:"restaurant_id" json:"restaurantId"`
	Context          RelationshipContext `db:"context" json:"context"`
	Mode             SessionMode         `db:"mode" json:"mode"`
	SessionGroupID   string              `db:"session_group_id" json:"sessionGroupId"`
	DualStatus       *DualStatus         `db:"dual_status" json:"dualStatus,omitempty"`
	PairingCodeHash  *string             `db:"pairing_code_hash" json:"-"`
	PairingExpiresAt *time.Time          `db:"pairing_expires_at" json:"pairingExpiresAt,omitempty"`
	ExpiresAt        time.Time           `db:"expires_at" json:"expiresAt"`
	LastActivityAt   time.Time           `db:"last_activity_at" json:"lastActivityAt"`
	CreatedAt        time.Time           `db:"created_at" json:"createdAt"`
}

func (s *Session) IsDual() bool {
	return s.Mode == ModeDualPhone
}

func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// PairingOpen reports whether the session is still waiting for a partner
// device with a live pairing code.
func (s *Session) PairingOpen(now time.Time) bool {
	if !s.IsDual() || s.DualStatus == nil || *s.DualStatus != DualStatusWaiting {
		return false
	}
	return s.PairingCodeHash != nil && s.PairingExpiresAt != nil && now.Before(*s.PairingExpiresAt)
}

type CreateSessionParams struct {
	ID               string
	TableToken       string
	RestaurantID     string
	Context          RelationshipContext
	Mode             SessionMode
	SessionGroupID   string
	DualStatus       *DualStatus
	PairingCodeHash  *string
	PairingExpiresAt *time.Time
	ExpiresAt        time.Time
}

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionExpired(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	s := &Session{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, s.Expired(now))

	s.ExpiresAt = now.Add(-time.Second)
	assert.True(t, s.Expired(now))
}

func TestSessionPairingOpen(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	waiting := DualStatusWaiting
	paired := DualStatusPaired
	hash := "somehash"
	future := now.Add(5 * time.Minute)
	past := now.Add(-5 * time.Minute)

	t.Run("open while waiting with a live code", func(t *testing.T) {
		s := &Session{
			Mode:             ModeDualPhone,
			DualStatus:       &waiting,
			PairingCodeHash:  &hash,
			PairingExpiresAt: &future,
		}
		assert.True(t, s.PairingOpen(now))
	})

	t.Run("closed for single-phone sessions", func(t *testing.T) {
		s := &Session{Mode: ModeSinglePhone}
		assert.False(t, s.PairingOpen(now))
	})

	t.Run("closed once paired", func(t *testing.T) {
		s := &Session{Mode: ModeDualPhone, DualStatus: &paired}
		assert.False(t, s.PairingOpen(now))
	})

	t.Run("closed after the code expires", func(t *testing.T) {
		s := &Session{
			Mode:             ModeDualPhone,
			DualStatus:       &waiting,
			PairingCodeHash:  &hash,
			PairingExpiresAt: &past,
		}
		assert.False(t, s.PairingOpen(now))
	})

	t.Run("closed when the hash was cleared", func(t *testing.T) {
		s := &Session{
			Mode:             ModeDualPhone,
			DualStatus:       &waiting,
			PairingExpiresAt: &future,
		}
		assert.False(t, s.PairingOpen(now))
	})
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, ContextExploring.Valid())
	assert.True(t, ContextEstablished.Valid())
	assert.True(t, ContextMature.Valid())
	assert.False(t, RelationshipContext("exploring").Valid())
	assert.False(t, RelationshipContext("").Valid())

	assert.True(t, ModeSinglePhone.Valid())
	assert.True(t, ModeDualPhone.Valid())
	assert.False(t, SessionMode("triple-phone").Valid())
}

func TestQuestionMatchesContext(t *testing.T) {
	established := ContextEstablished

	global := &Question{ID: "q-1"}
	assert.True(t, global.MatchesContext(ContextExploring))
	assert.True(t, global.MatchesContext(ContextEstablished))

	scoped := &Question{ID: "q-2", Context: &established}
	assert.True(t, scoped.MatchesContext(ContextEstablished))
	assert.False(t, scoped.MatchesContext(ContextExploring))
}

package model

// RelationshipContext selects which slice of the question pool a session draws from.
type RelationshipContext string

const (
	ContextExploring   RelationshipContext = "Exploring"
	ContextEstablished RelationshipContext = "Established"
	ContextMature      RelationshipContext = "Mature"
)

func (c RelationshipContext) Valid() bool {
	switch c {
	case ContextExploring, ContextEstablished, ContextMature:
		return true
	}
	return false
}

// SessionMode distinguishes the one-device flow from the paired-device flow.
// Single-phone sessions have no pairing fields and advance immediately on
// request; dual-phone sessions negotiate every advance.
type SessionMode string

const (
	ModeSinglePhone SessionMode = "single-phone"
	ModeDualPhone   SessionMode = "dual-phone"
)

func (m SessionMode) Valid() bool {
	return m == ModeSinglePhone || m == ModeDualPhone
}

// DualStatus tracks the pairing lifecycle of a dual-phone session.
type DualStatus string

const (
	DualStatusWaiting DualStatus = "waiting"
	DualStatusPaired  DualStatus = "paired"
	DualStatusEnded   DualStatus = "ended"
)

// ParticipantRole identifies a device within a session. Exactly one A and at
// most one B exist per session, enforced by a uniqueness constraint.
type ParticipantRole string

const (
	RoleA ParticipantRole = "A"
	RoleB ParticipantRole = "B"
)

// QuestionType controls which ritual a question runs in dual-phone mode.
type QuestionType string

const (
	QuestionOpenEnded      QuestionType = "open-ended"
	QuestionMultipleChoice QuestionType = "multiple-choice"
)

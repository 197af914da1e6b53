package model

import (
	"encoding/json"
	"time"
)

// GameEventType names an entry in the append-only game event log.
type GameEventType string

const (
	EventSessionCreated   GameEventType = "session_created"
	EventSessionEnded     GameEventType = "session_ended"
	EventSessionPaired    GameEventType = "session_paired"
	EventQuestionViewed   GameEventType = "question_viewed"
	EventReadyToggled     GameEventType = "ready_toggled"
	EventAnswerSubmitted  GameEventType = "answer_submitted"
	EventAnswerRevealed   GameEventType = "answer_revealed"
	EventNextClicked      GameEventType = "next_clicked"
	EventPrevClicked      GameEventType = "prev_clicked"
	EventAdvanced         GameEventType = "advanced"
	EventWaitTimeout      GameEventType = "wait_timeout"
	EventCleanupCompleted GameEventType = "cleanup_completed"
)

// GameEvent mirrors every ritual transition and advancement to durable
// storage. The log is written by the core and never read back by it.
type GameEvent struct {
	ID        int64            `db:"event_id" json:"eventId"`
	SessionID *string          `db:"session_id" json:"sessionId,omitempty"`
	Type      GameEventType    `db:"event_type" json:"eventType"`
	Data      *json.RawMessage `db:"event_data" json:"eventData,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

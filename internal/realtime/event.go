package realtime

import "encoding/json"

// Event names on the realtime surface.
const (
	EventPartnerJoined       = "partner_joined"
	EventPartnerDisconnected = "partner_disconnected"
	EventReadyStatusUpdate   = "ready_status_update"
	EventBothReady           = "both_ready"
	EventRevealAnswers       = "reveal_answers"
	EventWaitingForPartner   = "waiting_for_partner"
	EventAdvanceQuestion     = "advance_question"
	EventWaitTimeout         = "wait_timeout"
	EventAnswerRevealed      = "answer_revealed"
	EventConnected           = "connected"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals payload into an Event. Marshal failures are programming
// errors (all payloads are map/struct literals), so they collapse to an empty
// body rather than an error return at every call site.
func NewEvent(eventType string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	return Event{Type: eventType, Data: data}
}

package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tabletalk/tabletalk-server-go/internal/common/clock"
	"github.com/tabletalk/tabletalk-server-go/internal/deck"
	apperrors "github.com/tabletalk/tabletalk-server-go/internal/errors"
	"github.com/tabletalk/tabletalk-server-go/internal/model"
	"github.com/tabletalk/tabletalk-server-go/internal/repository"
)

// Publisher is the broadcast half of the Broker, split out so the coordinator
// can be tested with a capture fake.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, event Event) error
	PublishExcept(ctx context.Context, sessionID, excludeParticipantID string, event Event) error
}

// Members reports live connection counts per session. Live means an admitted
// transport connection, not a recent heartbeat.
type Members interface {
	MemberCount(sessionID string) int
}

// Coordinator drives the dual-phone rituals: ready handshakes, simultaneous
// answer reveals, and synchronized advancement. Single-phone sessions bypass
// it entirely and advance through the question handlers.
type Coordinator struct {
	rooms           *Rooms
	publisher       Publisher
	members         Members
	sessionRepo     repository.SessionRepository
	participantRepo repository.ParticipantRepository
	eventRepo       repository.GameEventRepository
	engine          *deck.Engine
	clock           clock.Clock
	watchdogTimeout time.Duration
}

func NewCoordinator(
	rooms *Rooms,
	publisher Publisher,
	members Members,
	sessionRepo repository.SessionRepository,
	participantRepo repository.ParticipantRepository,
	eventRepo repository.GameEventRepository,
	engine *deck.Engine,
	clk clock.Clock,
	watchdogTimeout time.Duration,
) *Coordinator {
	return &Coordinator{
		rooms:           rooms,
		publisher:       publisher,
		members:         members,
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
		eventRepo:       eventRepo,
		engine:          engine,
		clock:           clk,
		watchdogTimeout: watchdogTimeout,
	}
}

// Join admits a participant's connection to the session room. It refreshes
// liveness, tells the rest of the room who arrived, and returns a snapshot
// event so the new connection can render current ready state immediately.
func (c *Coordinator) Join(ctx context.Context, session *model.Session, participant *model.Participant) Event {
	if err := c.participantRepo.Touch(ctx, participant.ID); err != nil {
		log.Warn().Err(err).Str("participantId", participant.ID).Msg("failed to touch participant on join")
	}
	if err := c.sessionRepo.Touch(ctx, session.ID); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to touch session on join")
	}

	connected := c.members.MemberCount(session.ID)
	c.publishOrLog(ctx, session.ID, NewEvent(EventPartnerJoined, map[string]any{
		"participantId":  participant.ID,
		"role":           string(participant.Role),
		"usersConnected": connected,
	}))

	room := c.rooms.get(session.ID)
	return NewEvent(EventConnected, map[string]any{
		"sessionId":      session.ID,
		"participantId":  participant.ID,
		"usersConnected": connected,
		"readyState":     room.readySnapshot(),
	})
}

// Disconnect marks the participant's departure durably and tells whoever is
// left. Ritual state stays put: a pending advance click from the departed
// partner still counts.
func (c *Coordinator) Disconnect(ctx context.Context, client *Client) {
	if err := c.participantRepo.MarkDisconnected(ctx, client.ParticipantID); err != nil {
		log.Warn().Err(err).Str("participantId", client.ParticipantID).Msg("failed to mark participant disconnected")
	}

	c.publishOrLog(ctx, client.SessionID, NewEvent(EventPartnerDisconnected, map[string]any{
		"participantId":  client.ParticipantID,
		"usersConnected": c.members.MemberCount(client.SessionID),
	}))
}

// SetReady records a ready toggle and rebroadcasts it. When both live
// participants are ready for the current question, both_ready fires once.
// Repeat toggles to the same value are idempotent.
func (c *Coordinator) SetReady(ctx context.Context, session *model.Session, participantID string, ready bool) error {
	room := c.rooms.get(session.ID)
	fire := room.setReady(participantID, ready, c.members.MemberCount(session.ID))

	c.publishOrLog(ctx, session.ID, NewEvent(EventReadyStatusUpdate, map[string]any{
		"participantId": participantID,
		"ready":         ready,
		"readyState":    room.readySnapshot(),
	}))

	c.recordEvent(ctx, session.ID, model.EventReadyToggled, map[string]any{
		"participantId": participantID,
		"ready":         ready,
	})

	if fire {
		c.publishOrLog(ctx, session.ID, NewEvent(EventBothReady, map[string]any{
			"sessionId": session.ID,
		}))
	}
	return nil
}

// SubmitAnswer records a multiple-choice selection. Once both live
// participants have answered, every connection gets the full selection set in
// one reveal_answers broadcast, so neither side sees the other's pick early.
// Until then the caller gets a waiting_for_partner reply and the room hears
// nothing.
func (c *Coordinator) SubmitAnswer(ctx context.Context, session *model.Session, participantID, optionID string) (Event, error) {
	room := c.rooms.get(session.ID)
	selections, reveal := room.setAnswer(participantID, optionID, c.members.MemberCount(session.ID))

	c.recordEvent(ctx, session.ID, model.EventAnswerSubmitted, map[string]any{
		"participantId": participantID,
	})

	if !reveal {
		return NewEvent(EventWaitingForPartner, map[string]any{
			"waitingOn": "answer",
		}), nil
	}

	c.publishOrLog(ctx, session.ID, NewEvent(EventRevealAnswers, map[string]any{
		"selections": selections,
	}))

	c.recordEvent(ctx, session.ID, model.EventAnswerRevealed, map[string]any{
		"participants": len(selections),
	})

	return NewEvent(EventRevealAnswers, map[string]any{
		"selections": selections,
	}), nil
}

// RequestNext registers an advance click. Single-phone sessions advance
// immediately. In dual mode the deck moves only when the number of distinct
// clickers reaches the larger of two and the live member count; until then
// the caller gets a waiting_for_partner reply. The first click arms a
// watchdog that voids the attempt if the partner never answers.
func (c *Coordinator) RequestNext(ctx context.Context, session *model.Session, participantID string) (Event, error) {
	room := c.rooms.get(session.ID)

	c.recordEvent(ctx, session.ID, model.EventNextClicked, map[string]any{
		"participantId": participantID,
	})

	if !session.IsDual() {
		return c.advance(ctx, session, room)
	}

	count, first := room.addPending(participantID)

	threshold := 2
	if live := c.members.MemberCount(session.ID); live > threshold {
		threshold = live
	}

	if count < threshold {
		if first {
			sessionID := session.ID
			room.armWatchdog(c.clock, c.watchdogTimeout, func() {
				c.expirePending(sessionID)
			})
		}
		return NewEvent(EventWaitingForPartner, map[string]any{
			"waitingOn":    "advance",
			"pendingCount": count,
		}), nil
	}

	return c.advance(ctx, session, room)
}

// advance moves the deck cursor and resets the room for the next question.
// On a storage failure the pending set is left intact, so a retry click from
// either participant completes the advance without re-gathering consensus.
func (c *Coordinator) advance(ctx context.Context, session *model.Session, room *room) (Event, error) {
	key := deck.KeyFor(session, c.clock.Now())

	if _, err := c.engine.Advance(ctx, key); err != nil {
		if errors.Is(err, deck.ErrNoQuestions) {
			return Event{}, apperrors.NoQuestions()
		}
		log.Error().Err(err).Str("sessionId", session.ID).Msg("deck advance failed, pending retained")
		return Event{}, apperrors.Database(err)
	}

	room.reset()

	current, err := c.engine.Current(ctx, key)
	if err != nil {
		if errors.Is(err, deck.ErrNoQuestions) {
			return Event{}, apperrors.NoQuestions()
		}
		return Event{}, apperrors.Database(err)
	}

	c.recordEvent(ctx, session.ID, model.EventAdvanced, map[string]any{
		"position":      current.Position,
		"deckContextId": current.DeckContextID,
	})

	event := NewEvent(EventAdvanceQuestion, current)
	c.publishOrLog(ctx, session.ID, event)
	return event, nil
}

// RevealAnswer pushes a participant's open-ended answer to everyone else in
// the room. The sender is excluded; they already have their own text.
func (c *Coordinator) RevealAnswer(ctx context.Context, session *model.Session, participantID string, answer string) error {
	if err := c.publisher.PublishExcept(ctx, session.ID, participantID, NewEvent(EventAnswerRevealed, map[string]any{
		"participantId": participantID,
		"answer":        answer,
	})); err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("failed to publish answer reveal")
		return apperrors.Internal("Failed to broadcast answer")
	}

	c.recordEvent(ctx, session.ID, model.EventAnswerRevealed, map[string]any{
		"participantId": participantID,
	})
	return nil
}

// DropSession discards a session's ritual state when the session ends.
func (c *Coordinator) DropSession(sessionID string) {
	c.rooms.Drop(sessionID)
}

// expirePending is the watchdog path: an advance attempt sat half-agreed for
// too long, so it is voided and the room told to re-click.
func (c *Coordinator) expirePending(sessionID string) {
	room := c.rooms.get(sessionID)
	if !room.clearPending() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info().Str("sessionId", sessionID).Msg("advance attempt timed out")

	c.publishOrLog(ctx, sessionID, NewEvent(EventWaitTimeout, map[string]any{
		"waitingOn": "advance",
	}))
	c.recordEvent(ctx, sessionID, model.EventWaitTimeout, nil)
}

func (c *Coordinator) publishOrLog(ctx context.Context, sessionID string, event Event) {
	if err := c.publisher.Publish(ctx, sessionID, event); err != nil {
		log.Error().Err(err).
			Str("sessionId", sessionID).
			Str("eventType", event.Type).
			Msg("failed to publish realtime event")
	}
}

func (c *Coordinator) recordEvent(ctx context.Context, sessionID string, eventType model.GameEventType, data map[string]any) {
	if err := c.eventRepo.Insert(ctx, &sessionID, eventType, data); err != nil {
		log.Warn().Err(err).
			Str("sessionId", sessionID).
			Str("eventType", string(eventType)).
			Msg("failed to record game event")
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/tabletalk/tabletalk-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 100
)

// envelope is what travels over the redis channel. Exclude lets a publisher
// address "everyone in the room except the sender" (the hint-reveal path).
type envelope struct {
	Event   Event  `json:"event"`
	Exclude string `json:"exclude,omitempty"`
}

// Client is one admitted transport connection for one participant.
type Client struct {
	SessionID     string
	ParticipantID string
	Events        chan Event
	Done          chan struct{}
}

// sessionSub owns the redis subscription backing one session's room. Rooms
// empty and refill constantly as phones reconnect, so each subscription
// carries its own cancel; done closes when the subscriber goroutine has
// fully exited.
type sessionSub struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Broker fans realtime events out to every admitted connection of a session.
// Delivery goes through redis pub/sub, matching how the rest of the stack
// broadcasts; per-session ritual state stays in-process (see Rooms).
type Broker struct {
	redis    *redisclient.Client
	sessions map[string]*sessionSub
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:    redisClient,
		sessions: make(map[string]*sessionSub),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (b *Broker) Subscribe(sessionID, participantID string) *Client {
	client := &Client{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Events:        make(chan Event, clientBufferSize),
		Done:          make(chan struct{}),
	}

	b.mu.Lock()
	sub := b.sessions[sessionID]
	if sub == nil {
		subCtx, subCancel := context.WithCancel(b.ctx)
		sub = &sessionSub{
			clients: make(map[*Client]bool),
			cancel:  subCancel,
			done:    make(chan struct{}),
		}
		b.sessions[sessionID] = sub
		go b.subscribeToRedis(subCtx, sessionID, sub.done)
	}
	sub.clients[client] = true
	clientCount := len(sub.clients)
	b.mu.Unlock()

	log.Info().
		Str("sessionId", sessionID).
		Str("participantId", participantID).
		Int("clientCount", clientCount).
		Msg("realtime client subscribed")

	return client
}

// Unsubscribe removes the connection from its room. The last connection out
// also tears down the room's redis subscription; a later reconnect starts a
// fresh one, so a session never accumulates more than one subscriber.
func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.sessions[client.SessionID]; ok {
		delete(sub.clients, client)
		close(client.Done)

		if len(sub.clients) == 0 {
			sub.cancel()
			delete(b.sessions, client.SessionID)
		}

		log.Info().
			Str("sessionId", client.SessionID).
			Str("participantId", client.ParticipantID).
			Int("clientCount", len(sub.clients)).
			Msg("realtime client unsubscribed")
	}
}

// Publish sends an event to every admitted connection in the session's room.
func (b *Broker) Publish(ctx context.Context, sessionID string, event Event) error {
	return b.publish(ctx, sessionID, envelope{Event: event})
}

// PublishExcept sends an event to the room, skipping the named participant's
// connections.
func (b *Broker) PublishExcept(ctx context.Context, sessionID, excludeParticipantID string, event Event) error {
	return b.publish(ctx, sessionID, envelope{Event: event, Exclude: excludeParticipantID})
}

func (b *Broker) publish(ctx context.Context, sessionID string, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	channel := redisclient.SessionChannel(sessionID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, sessionID string, done chan struct{}) {
	defer close(done)

	channel := redisclient.SessionChannel(sessionID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("sessionId", sessionID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal realtime envelope")
				continue
			}

			b.broadcast(sessionID, env)
		}
	}
}

func (b *Broker) broadcast(sessionID string, env envelope) {
	b.mu.RLock()
	var clients []*Client
	if sub := b.sessions[sessionID]; sub != nil {
		clients = make([]*Client, 0, len(sub.clients))
		for client := range sub.clients {
			clients = append(clients, client)
		}
	}
	b.mu.RUnlock()

	for _, client := range clients {
		if env.Exclude != "" && client.ParticipantID == env.Exclude {
			continue
		}
		select {
		case client.Events <- env.Event:
		default:
			log.Warn().
				Str("sessionId", sessionID).
				Str("participantId", client.ParticipantID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.sessions {
		for client := range sub.clients {
			close(client.Done)
		}
	}
	b.sessions = make(map[string]*sessionSub)
}

// MemberCount reports how many connections are currently admitted to the
// session's room. This is the live-member figure the rituals gate on;
// heartbeats play no part in it.
func (b *Broker) MemberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub := b.sessions[sessionID]; sub != nil {
		return len(sub.clients)
	}
	return 0
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, sub := range b.sessions {
		total += len(sub.clients)
	}
	return total
}

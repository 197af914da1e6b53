package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tabletalk/tabletalk-server-go/internal/middleware"
	"github.com/tabletalk/tabletalk-server-go/internal/realtime"
)

// EventsHandler is the outbound realtime stream. Each connection is admitted
// to its session's room; room membership drives the live-member count the
// rituals gate on, so the stream closing is what marks a partner departed.
type EventsHandler struct {
	broker      *realtime.Broker
	coordinator *realtime.Coordinator
}

func NewEventsHandler(broker *realtime.Broker, coordinator *realtime.Coordinator) *EventsHandler {
	return &EventsHandler{broker: broker, coordinator: coordinator}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	participant := middleware.GetParticipant(r.Context())
	if session == nil || participant == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(session.ID, participant.ID)

	// Unsubscribe first so the departure broadcast carries the member count
	// without this connection. The request context is canceled by the time
	// the stream closes, so the departure writes get their own deadline.
	defer func() {
		h.broker.Unsubscribe(client)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.coordinator.Disconnect(ctx, client)
	}()

	// Join after Subscribe so the member count already includes this
	// connection when partner_joined goes out.
	snapshot := h.coordinator.Join(r.Context(), session, participant)

	if err := h.sendEvent(w, flusher, snapshot); err != nil {
		log.Error().Err(err).Msg("failed to send connected event")
		return
	}

	ctx := r.Context()

	heartbeat := time.NewTicker(realtime.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("sessionId", session.ID).
				Str("participantId", participant.ID).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("sessionId", session.ID).
				Str("participantId", participant.ID).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("sessionId", session.ID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event realtime.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tabletalk/tabletalk-server-go/internal/common/clock"
	"github.com/tabletalk/tabletalk-server-go/internal/deck"
	apperrors "github.com/tabletalk/tabletalk-server-go/internal/errors"
	"github.com/tabletalk/tabletalk-server-go/internal/middleware"
	"github.com/tabletalk/tabletalk-server-go/internal/model"
	"github.com/tabletalk/tabletalk-server-go/internal/repository"
)

// QuestionHandler serves the deck cursor over plain HTTP. Next and Prev are
// the single-phone path only; dual-phone sessions advance through the
// realtime consensus flow and get a conflict here.
type QuestionHandler struct {
	engine    *deck.Engine
	eventRepo repository.GameEventRepository
	clock     clock.Clock
}

func NewQuestionHandler(engine *deck.Engine, eventRepo repository.GameEventRepository, clk clock.Clock) *QuestionHandler {
	return &QuestionHandler{engine: engine, eventRepo: eventRepo, clock: clk}
}

func (h *QuestionHandler) Current(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	key := deck.KeyFor(session, h.clock.Now())
	current, err := h.engine.Current(r.Context(), key)
	if err != nil {
		writeError(w, translateDeckError(err))
		return
	}

	h.recordEvent(r, session.ID, model.EventQuestionViewed, map[string]any{
		"position":      current.Position,
		"deckContextId": current.DeckContextID,
	})

	writeJSON(w, http.StatusOK, current)
}

func (h *QuestionHandler) Next(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, +1)
}

func (h *QuestionHandler) Prev(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, -1)
}

func (h *QuestionHandler) step(w http.ResponseWriter, r *http.Request, delta int) {
	session, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	if session.IsDual() {
		writeError(w, apperrors.New(apperrors.ErrCodeConflict,
			"Dual-phone sessions advance through the realtime channel"))
		return
	}

	key := deck.KeyFor(session, h.clock.Now())

	var err error
	if delta > 0 {
		_, err = h.engine.Advance(r.Context(), key)
	} else {
		_, err = h.engine.Rewind(r.Context(), key)
	}
	if err != nil {
		writeError(w, translateDeckError(err))
		return
	}

	clickType := model.EventNextClicked
	if delta < 0 {
		clickType = model.EventPrevClicked
	}
	h.recordEvent(r, session.ID, clickType, nil)

	current, err := h.engine.Current(r.Context(), key)
	if err != nil {
		writeError(w, translateDeckError(err))
		return
	}

	writeJSON(w, http.StatusOK, current)
}

func (h *QuestionHandler) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*model.Session, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	session := middleware.GetSession(r.Context())
	if session == nil || session.ID != sessionID {
		writeError(w, apperrors.NotFound("Session"))
		return nil, false
	}
	return session, true
}

func (h *QuestionHandler) recordEvent(r *http.Request, sessionID string, eventType model.GameEventType, data map[string]any) {
	if err := h.eventRepo.Insert(r.Context(), &sessionID, eventType, data); err != nil {
		log.Warn().Err(err).
			Str("sessionId", sessionID).
			Str("eventType", string(eventType)).
			Msg("failed to record game event")
	}
}

func translateDeckError(err error) error {
	if errors.Is(err, deck.ErrNoQuestions) {
		return apperrors.NoQuestions()
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.Database(err)
}

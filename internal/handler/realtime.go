package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/tabletalk/tabletalk-server-go/internal/errors"
	"github.com/tabletalk/tabletalk-server-go/internal/middleware"
	"github.com/tabletalk/tabletalk-server-go/internal/model"
	"github.com/tabletalk/tabletalk-server-go/internal/realtime"
)

// RealtimeHandler accepts the inbound half of the realtime surface. Events
// flow out over the SSE stream; these POSTs carry the participant actions in.
// Ready, answer and reveal are dual-phone rituals; next works in both modes.
type RealtimeHandler struct {
	coordinator *realtime.Coordinator
}

func NewRealtimeHandler(coordinator *realtime.Coordinator) *RealtimeHandler {
	return &RealtimeHandler{coordinator: coordinator}
}

func (h *RealtimeHandler) requireDual(w http.ResponseWriter, r *http.Request) (*model.Session, *model.Participant, bool) {
	session := middleware.GetSession(r.Context())
	participant := middleware.GetParticipant(r.Context())
	if session == nil || participant == nil {
		writeError(w, apperrors.Unauthorized("Missing participant"))
		return nil, nil, false
	}
	if !session.IsDual() {
		writeError(w, apperrors.New(apperrors.ErrCodeConflict,
			"Realtime actions require a dual-phone session"))
		return nil, nil, false
	}
	return session, participant, true
}

type readyRequest struct {
	Ready bool `json:"ready"`
}

func (h *RealtimeHandler) Ready(w http.ResponseWriter, r *http.Request) {
	session, participant, ok := h.requireDual(w, r)
	if !ok {
		return
	}

	var req readyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	if err := h.coordinator.SetReady(r.Context(), session, participant.ID, req.Ready); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type answerRequest struct {
	OptionID string `json:"optionId"`
}

func (h *RealtimeHandler) Answer(w http.ResponseWriter, r *http.Request) {
	session, participant, ok := h.requireDual(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.OptionID == "" {
		writeError(w, apperrors.MissingRequired("optionId"))
		return
	}

	reply, err := h.coordinator.SubmitAnswer(r.Context(), session, participant.ID, req.OptionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

// Next works in both modes: single-phone advances on the spot, dual-phone
// feeds the consensus flow.
func (h *RealtimeHandler) Next(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	participant := middleware.GetParticipant(r.Context())
	if session == nil || participant == nil {
		writeError(w, apperrors.Unauthorized("Missing participant"))
		return
	}

	reply, err := h.coordinator.RequestNext(r.Context(), session, participant.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

type revealRequest struct {
	Answer string `json:"answer"`
}

func (h *RealtimeHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	session, participant, ok := h.requireDual(w, r)
	if !ok {
		return
	}

	var req revealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.Answer == "" {
		writeError(w, apperrors.MissingRequired("answer"))
		return
	}

	if err := h.coordinator.RevealAnswer(r.Context(), session, participant.ID, req.Answer); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

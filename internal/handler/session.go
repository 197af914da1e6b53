package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tabletalk/tabletalk-server-go/internal/audit"
	apperrors "github.com/tabletalk/tabletalk-server-go/internal/errors"
	"github.com/tabletalk/tabletalk-server-go/internal/middleware"
	"github.com/tabletalk/tabletalk-server-go/internal/model"
	"github.com/tabletalk/tabletalk-server-go/internal/realtime"
	"github.com/tabletalk/tabletalk-server-go/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
	pairingService *service.PairingService
	coordinator    *realtime.Coordinator
}

func NewSessionHandler(
	sessionService *service.SessionService,
	pairingService *service.PairingService,
	coordinator *realtime.Coordinator,
) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		pairingService: pairingService,
		coordinator:    coordinator,
	}
}

type createSessionRequest struct {
	TableToken   string `json:"tableToken"`
	RestaurantID string `json:"restaurantId"`
	Context      string `json:"context"`
	Mode         string `json:"mode"`
}

// Create starts a new session. Dual-phone sessions come back with the
// plaintext pairing code; this response is the only place it ever appears.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	if req.TableToken == "" {
		writeError(w, apperrors.MissingRequired("tableToken"))
		return
	}
	if req.RestaurantID == "" {
		writeError(w, apperrors.MissingRequired("restaurantId"))
		return
	}

	rctx := model.RelationshipContext(req.Context)
	if !rctx.Valid() {
		writeError(w, apperrors.InvalidInput("context", "must be one of Exploring, Established, Mature"))
		return
	}

	mode := model.SessionMode(req.Mode)
	if req.Mode == "" {
		mode = model.ModeSinglePhone
	}
	if !mode.Valid() {
		writeError(w, apperrors.InvalidInput("mode", "must be single-phone or dual-phone"))
		return
	}

	result, err := h.sessionService.Create(r.Context(), service.CreateSessionParams{
		TableToken:   req.TableToken,
		RestaurantID: req.RestaurantID,
		Context:      rctx,
		Mode:         mode,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionCreate,
		SessionID: result.Session.ID,
		Details:   map[string]interface{}{"mode": string(mode)},
	})

	writeJSON(w, http.StatusCreated, result)
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session := middleware.GetSession(r.Context())
	if session == nil || session.ID != sessionID {
		writeError(w, apperrors.NotFound("Session"))
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// End deletes the session and drops its realtime room. Idempotent from the
// client's point of view in that a second call gets 404, not an error page.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session := middleware.GetSession(r.Context())
	if session == nil || session.ID != sessionID {
		writeError(w, apperrors.NotFound("Session"))
		return
	}

	if err := h.sessionService.End(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}

	h.coordinator.DropSession(sessionID)

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionDelete,
		SessionID: sessionID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

type pairRequest struct {
	RestaurantID string `json:"restaurantId"`
	TableToken   string `json:"tableToken"`
	Code         string `json:"code"`
}

// Pair redeems a 6-digit code against the waiting sessions at a table. The
// route sits behind the per-IP rate limiter.
func (h *SessionHandler) Pair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	if req.TableToken == "" {
		writeError(w, apperrors.MissingRequired("tableToken"))
		return
	}
	if req.RestaurantID == "" {
		writeError(w, apperrors.MissingRequired("restaurantId"))
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventPairAttempt})

	result, err := h.pairingService.Redeem(r.Context(), req.RestaurantID, req.TableToken, req.Code)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventPairFailure,
			Details: map[string]interface{}{"code": string(apperrors.GetCode(err))},
		})
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:          audit.EventPairSuccess,
		SessionID:     result.Session.ID,
		ParticipantID: result.ParticipantID,
	})

	writeJSON(w, http.StatusOK, result)
}

// Heartbeat refreshes the caller's liveness and the session's activity clock.
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	participant := middleware.GetParticipant(r.Context())
	if participant == nil {
		writeError(w, apperrors.Unauthorized("Missing participant"))
		return
	}

	if err := h.sessionService.Heartbeat(r.Context(), participant); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tabletalk/tabletalk-server-go/internal/audit"
	"github.com/tabletalk/tabletalk-server-go/internal/model"
	"github.com/tabletalk/tabletalk-server-go/internal/repository"
	"github.com/tabletalk/tabletalk-server-go/internal/util"
)

type contextKey string

const (
	ParticipantContextKey contextKey = "participant"
	SessionContextKey     contextKey = "session"
)

func GetParticipant(ctx context.Context) *model.Participant {
	if participant, ok := ctx.Value(ParticipantContextKey).(*model.Participant); ok {
		return participant
	}
	return nil
}

func GetSession(ctx context.Context) *model.Session {
	if session, ok := ctx.Value(SessionContextKey).(*model.Session); ok {
		return session
	}
	return nil
}

// AuthMiddleware resolves a participant bearer token to its participant and
// session rows. Requests against expired sessions are rejected here so no
// handler has to re-check.
type AuthMiddleware struct {
	participantRepo repository.ParticipantRepository
	sessionRepo     repository.SessionRepository
}

func NewAuthMiddleware(participantRepo repository.ParticipantRepository, sessionRepo repository.SessionRepository) *AuthMiddleware {
	return &AuthMiddleware{participantRepo: participantRepo, sessionRepo: sessionRepo}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		tokenHash := util.HashToken(token)
		participant, err := m.participantRepo.FindByTokenHash(r.Context(), tokenHash)
		if err != nil {
			log.Error().Err(err).Msg("auth middleware: database error")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Authentication failed",
			})
			return
		}

		if participant == nil {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		session, err := m.sessionRepo.FindByID(r.Context(), participant.SessionID)
		if err != nil {
			log.Error().Err(err).Msg("auth middleware: database error")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Authentication failed",
			})
			return
		}

		if session == nil || session.Expired(time.Now()) {
			writeJSON(w, http.StatusGone, map[string]string{
				"error": "Session has expired",
			})
			return
		}

		ctx := context.WithValue(r.Context(), ParticipantContextKey, participant)
		ctx = context.WithValue(ctx, SessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	// SSE connections cannot set headers from EventSource, so the token may
	// arrive as a query parameter.
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}

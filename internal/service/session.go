package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/tabletalk/tabletalk-server-go/internal/database"
	apperrors "github.com/tabletalk/tabletalk-server-go/internal/errors"
	"github.com/tabletalk/tabletalk-server-go/internal/model"
	"github.com/tabletalk/tabletalk-server-go/internal/repository"
	"github.com/tabletalk/tabletalk-server-go/internal/util"
)

func newID() string {
	return uuid.NewString()
}

type CreateSessionParams struct {
	TableToken   string
	RestaurantID string
	Context      model.RelationshipContext
	Mode         model.SessionMode
}

type CreateSessionResult struct {
	Session          *model.Session `json:"session"`
	ParticipantID    string         `json:"participantId"`
	ParticipantToken string         `json:"participantToken"`
	Role             string         `json:"role"`
	// PairingCode is only present for dual-phone sessions, and this is the
	// only time the plaintext ever leaves the process.
	PairingCode string `json:"pairingCode,omitempty"`
}

type SessionService struct {
	db              *database.DB
	sessionRepo     repository.SessionRepository
	participantRepo repository.ParticipantRepository
	eventRepo       repository.GameEventRepository
	pairing         *PairingService
	sessionTTL      time.Duration
	pairingExpiry   time.Duration
}

func NewSessionService(
	db *database.DB,
	sessionRepo repository.SessionRepository,
	participantRepo repository.ParticipantRepository,
	eventRepo repository.GameEventRepository,
	pairing *PairingService,
	sessionTTL, pairingExpiry time.Duration,
) *SessionService {
	return &SessionService{
		db:              db,
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
		eventRepo:       eventRepo,
		pairing:         pairing,
		sessionTTL:      sessionTTL,
		pairingExpiry:   pairingExpiry,
	}
}

// Create starts a session and its role-A participant in one transaction.
// Every call mints a fresh session_group_id: a brand-new session can never
// inherit another group's deck progress, even at the same table on the same
// day.
func (s *SessionService) Create(ctx context.Context, params CreateSessionParams) (*CreateSessionResult, error) {
	sessionID := newID()
	now := time.Now()

	createParams := model.CreateSessionParams{
		ID:             sessionID,
		TableToken:     params.TableToken,
		RestaurantID:   params.RestaurantID,
		Context:        params.Context,
		Mode:           params.Mode,
		SessionGroupID: newID(),
		ExpiresAt:      now.Add(s.sessionTTL),
	}

	var plaintextCode string
	if params.Mode == model.ModeDualPhone {
		code, err := GenerateCode()
		if err != nil {
			return nil, apperrors.Internal("Failed to generate pairing code").WithCause(err)
		}
		plaintextCode = code

		waiting := model.DualStatusWaiting
		codeHash := s.pairing.HashCode(code, sessionID)
		pairingExpiresAt := now.Add(s.pairingExpiry)
		createParams.DualStatus = &waiting
		createParams.PairingCodeHash = &codeHash
		createParams.PairingExpiresAt = &pairingExpiresAt
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.Internal("Failed to generate participant token").WithCause(err)
	}

	var session *model.Session
	var participant *model.Participant
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		session, err = s.sessionRepo.WithTx(tx).Create(ctx, createParams)
		if err != nil {
			return err
		}
		participant, err = s.participantRepo.WithTx(tx).Create(ctx, model.CreateParticipantParams{
			ID:        newID(),
			SessionID: session.ID,
			Role:      model.RoleA,
			TokenHash: util.HashToken(token),
		})
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("tableToken", params.TableToken).Msg("create session failed")
		return nil, apperrors.Database(err)
	}

	if evErr := s.eventRepo.Insert(ctx, &session.ID, model.EventSessionCreated, map[string]any{
		"tableToken": params.TableToken,
		"context":    string(params.Context),
		"mode":       string(params.Mode),
	}); evErr != nil {
		log.Warn().Err(evErr).Str("sessionId", session.ID).Msg("failed to record session_created event")
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("sessionGroupId", session.SessionGroupID).
		Str("mode", string(params.Mode)).
		Msg("session created")

	return &CreateSessionResult{
		Session:          session,
		ParticipantID:    participant.ID,
		ParticipantToken: token,
		Role:             string(model.RoleA),
		PairingCode:      plaintextCode,
	}, nil
}

func (s *SessionService) Get(ctx context.Context, id string) (*model.Session, error) {
	session, err := s.sessionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

// Heartbeat extends participant liveness and session activity. It clears any
// disconnect marker so a reconnecting device is live again. Liveness never
// gates advancement; it only feeds the expiry sweeper.
func (s *SessionService) Heartbeat(ctx context.Context, participant *model.Participant) error {
	if err := s.participantRepo.Touch(ctx, participant.ID); err != nil {
		return apperrors.Database(err)
	}
	if err := s.sessionRepo.Touch(ctx, participant.SessionID); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// End removes the session; participants cascade via the schema. The event log
// keeps its rows (no foreign key) so the session's history survives.
func (s *SessionService) End(ctx context.Context, id string) error {
	session, err := s.sessionRepo.FindByID(ctx, id)
	if err != nil {
		return apperrors.Database(err)
	}
	if session == nil {
		return apperrors.NotFound("Session")
	}

	if err := s.sessionRepo.Delete(ctx, id); err != nil {
		return apperrors.Database(err)
	}

	if evErr := s.eventRepo.Insert(ctx, &id, model.EventSessionEnded, nil); evErr != nil {
		log.Warn().Err(evErr).Str("sessionId", id).Msg("failed to record session_ended event")
	}

	log.Info().Str("sessionId", id).Msg("session ended")
	return nil
}

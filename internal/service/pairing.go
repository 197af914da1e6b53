package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/tabletalk/tabletalk-server-go/internal/database"
	apperrors "github.com/tabletalk/tabletalk-server-go/internal/errors"
	"github.com/tabletalk/tabletalk-server-go/internal/model"
	"github.com/tabletalk/tabletalk-server-go/internal/repository"
	"github.com/tabletalk/tabletalk-server-go/internal/util"
)

// txRunner is the slice of database.DB the pairing transaction needs.
type txRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

var pairingCodePattern = regexp.MustCompile(`^[0-9]{6}$`)

// codeSpace is 10^6: pairing codes are uniform 6-digit strings. crypto/rand's
// Int is already rejection-free over an arbitrary bound, so no modulo bias.
var codeSpace = big.NewInt(1_000_000)

type RedeemResult struct {
	Session          *model.Session `json:"session"`
	ParticipantID    string         `json:"participantId"`
	ParticipantToken string         `json:"participantToken"`
	Role             string         `json:"role"`
}

// PairingService issues and redeems the one-time codes that bind a second
// device to a waiting dual-phone session. Only a salted, per-session hash of
// the code is ever stored.
type PairingService struct {
	db              txRunner
	sessionRepo     repository.SessionRepository
	participantRepo repository.ParticipantRepository
	eventRepo       repository.GameEventRepository
	secret          string
}

func NewPairingService(
	db txRunner,
	sessionRepo repository.SessionRepository,
	participantRepo repository.ParticipantRepository,
	eventRepo repository.GameEventRepository,
	secret string,
) *PairingService {
	return &PairingService{
		db:              db,
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
		eventRepo:       eventRepo,
		secret:          secret,
	}
}

// GenerateCode returns a fresh plaintext 6-digit pairing code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// HashCode binds a code to one session: the session id is folded into the
// HMAC input, so the same 6-digit string stored by two concurrent waiting
// sessions hashes differently and can never redeem against the wrong one.
func (s *PairingService) HashCode(code, sessionID string) string {
	return util.HmacSHA256(s.secret, code+":"+sessionID)
}

// Redeem scans the waiting sessions at a table for one whose stored hash
// matches the presented code. The externally visible failure is always
// INVALID_CODE whether no session was waiting or the code was wrong, except
// for the structurally distinct SESSION_FULL.
func (s *PairingService) Redeem(ctx context.Context, restaurantID, tableToken, code string) (*RedeemResult, error) {
	normalized := strings.TrimSpace(code)
	if !pairingCodePattern.MatchString(normalized) {
		return nil, apperrors.InvalidCode()
	}

	candidates, err := s.sessionRepo.FindWaitingByTable(ctx, restaurantID, tableToken)
	if err != nil {
		log.Error().Err(err).Msg("redeem pairing code: database error")
		return nil, apperrors.Database(err)
	}

	var matched *model.Session
	for i := range candidates {
		candidate := &candidates[i]
		if candidate.PairingCodeHash == nil {
			continue
		}
		if util.ConstantTimeEqual(s.HashCode(normalized, candidate.ID), *candidate.PairingCodeHash) {
			matched = candidate
			break
		}
	}

	if matched == nil {
		log.Warn().
			Str("tableToken", tableToken).
			Str("code", util.MaskCode(normalized)).
			Msg("pairing code did not match any waiting session")
		return nil, apperrors.InvalidCode()
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.Internal("Failed to generate participant token").WithCause(err)
	}

	var participant *model.Participant
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		participant, err = s.participantRepo.WithTx(tx).Create(ctx, model.CreateParticipantParams{
			ID:        newID(),
			SessionID: matched.ID,
			Role:      model.RoleB,
			TokenHash: util.HashToken(token),
		})
		if err != nil {
			return err
		}
		return s.sessionRepo.WithTx(tx).MarkPaired(ctx, matched.ID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrRoleTaken) {
			return nil, apperrors.SessionFull()
		}
		log.Error().Err(err).Str("sessionId", matched.ID).Msg("redeem pairing code: pairing transaction failed")
		return nil, apperrors.Database(err)
	}

	if evErr := s.eventRepo.Insert(ctx, &matched.ID, model.EventSessionPaired, map[string]any{
		"participantId": participant.ID,
		"role":          string(model.RoleB),
	}); evErr != nil {
		log.Warn().Err(evErr).Str("sessionId", matched.ID).Msg("failed to record pairing event")
	}

	log.Info().
		Str("sessionId", matched.ID).
		Str("participantId", participant.ID).
		Msg("session paired")

	paired := model.DualStatusPaired
	matched.DualStatus = &paired
	matched.PairingCodeHash = nil
	matched.PairingExpiresAt = nil

	return &RedeemResult{
		Session:          matched,
		ParticipantID:    participant.ID,
		ParticipantToken: token,
		Role:             string(model.RoleB),
	}, nil
}

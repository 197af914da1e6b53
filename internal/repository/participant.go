package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tabletalk/tabletalk-server-go/internal/model"
)

// ErrRoleTaken signals that the (session, role) slot is already occupied.
// The UNIQUE(session_id, role) constraint is the source of truth; this
// translates the Postgres unique-violation so the service layer never has to
// know driver error codes.
var ErrRoleTaken = errors.New("participant role already taken for session")

const pqUniqueViolation = "23505"

type ParticipantRepository interface {
	FindByID(ctx context.Context, id string) (*model.Participant, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Participant, error)
	FindBySessionID(ctx context.Context, sessionID string) ([]model.Participant, error)
	Create(ctx context.Context, params model.CreateParticipantParams) (*model.Participant, error)
	// Touch refreshes liveness and clears any disconnect marker, admitting a
	// reconnecting device back without recreating the row.
	Touch(ctx context.Context, id string) error
	MarkDisconnected(ctx context.Context, id string) error
	MarkStaleDisconnected(ctx context.Context, staleCutoff time.Duration) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ParticipantRepository
}

type participantRepo struct {
	db sessionDB
}

func NewParticipantRepository(db *sqlx.DB) ParticipantRepository {
	return &participantRepo{db: db}
}

func (r *participantRepo) WithTx(tx *sqlx.Tx) ParticipantRepository {
	return &participantRepo{db: tx}
}

func (r *participantRepo) FindByID(ctx context.Context, id string) (*model.Participant, error) {
	var participant model.Participant
	err := r.db.GetContext(ctx, &participant, `
		SELECT * FROM session_participants WHERE participant_id = $1
	`, id)
	return HandleNotFound(&participant, err)
}

func (r *participantRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Participant, error) {
	var participant model.Participant
	err := r.db.GetContext(ctx, &participant, `
		SELECT * FROM session_participants WHERE token_hash = $1
	`, tokenHash)
	return HandleNotFound(&participant, err)
}

func (r *participantRepo) FindBySessionID(ctx context.Context, sessionID string) ([]model.Participant, error) {
	var participants []model.Participant
	err := r.db.SelectContext(ctx, &participants, `
		SELECT * FROM session_participants
		WHERE session_id = $1
		ORDER BY role
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return participants, nil
}

func (r *participantRepo) Create(ctx context.Context, params model.CreateParticipantParams) (*model.Participant, error) {
	var participant model.Participant
	err := r.db.GetContext(ctx, &participant, `
		INSERT INTO session_participants (participant_id, session_id, role, token_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.ID, params.SessionID, params.Role, params.TokenHash)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return nil, ErrRoleTaken
		}
		return nil, err
	}
	return &participant, nil
}

func (r *participantRepo) Touch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE session_participants SET
			last_seen_at = NOW(),
			disconnected_at = NULL
		WHERE participant_id = $1
	`, id)
	return err
}

func (r *participantRepo) MarkDisconnected(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE session_participants SET disconnected_at = NOW()
		WHERE participant_id = $1 AND disconnected_at IS NULL
	`, id)
	return err
}

func (r *participantRepo) MarkStaleDisconnected(ctx context.Context, staleCutoff time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE session_participants SET disconnected_at = NOW()
		WHERE last_seen_at < NOW() - ($1 * INTERVAL '1 second')
		AND disconnected_at IS NULL
	`, int64(staleCutoff.Seconds()))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

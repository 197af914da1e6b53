package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tabletalk/tabletalk-server-go/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// FindWaitingByTable returns unexpired dual sessions still waiting for a
	// partner at the given table, newest first. These are the redemption
	// candidates for a pairing code.
	FindWaitingByTable(ctx context.Context, restaurantID, tableToken string) ([]model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	// MarkPaired consumes the pairing code: status flips to paired and the
	// stored hash/expiry are cleared so the code cannot be redeemed twice.
	MarkPaired(ctx context.Context, id string) error
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ExpireWaiting(ctx context.Context) (int64, error)
	ExpireInactive(ctx context.Context, idleCutoff time.Duration) (int64, error)
	DeleteExpired(ctx context.Context, retention time.Duration) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

// sessionDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type sessionRepo struct {
	db sessionDB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE session_id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindWaitingByTable(ctx context.Context, restaurantID, tableToken string) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE restaurant_id = $1
		AND table_token = $2
		AND mode = 'dual-phone'
		AND dual_status = 'waiting'
		AND pairing_code_hash IS NOT NULL
		AND pairing_expires_at > NOW()
		AND expires_at > NOW()
		ORDER BY created_at DESC
	`, restaurantID, tableToken)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions
			(session_id, table_token, restaurant_id, context, mode, session_group_id,
			 dual_status, pairing_code_hash, pairing_expires_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING *
	`, params.ID, params.TableToken, params.RestaurantID, params.Context, params.Mode,
		params.SessionGroupID, params.DualStatus, params.PairingCodeHash,
		params.PairingExpiresAt, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) MarkPaired(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			dual_status = 'paired',
			pairing_code_hash = NULL,
			pairing_expires_at = NULL,
			last_activity_at = NOW()
		WHERE session_id = $1 AND dual_status = 'waiting'
	`, id)
	return err
}

func (r *sessionRepo) Touch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity_at = NOW() WHERE session_id = $1
	`, id)
	return err
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE session_id = $1
	`, id)
	return err
}

func (r *sessionRepo) ExpireWaiting(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			dual_status = 'ended',
			expires_at = NOW(),
			pairing_code_hash = NULL,
			pairing_expires_at = NULL
		WHERE dual_status = 'waiting'
		AND pairing_expires_at < NOW()
		AND expires_at > NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *sessionRepo) ExpireInactive(ctx context.Context, idleCutoff time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET expires_at = NOW()
		WHERE last_activity_at < NOW() - ($1 * INTERVAL '1 second')
		AND expires_at > NOW()
	`, int64(idleCutoff.Seconds()))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE expires_at < NOW() - ($1 * INTERVAL '1 second')
	`, int64(retention.Seconds()))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

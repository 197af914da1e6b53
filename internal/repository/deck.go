package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/tabletalk/tabletalk-server-go/internal/model"
)

type DeckSessionRepository interface {
	// FindByTuple looks up strictly by the full isolation tuple. There is
	// deliberately no table/context fallback: a new session group must never
	// inherit another group's cursor.
	FindByTuple(ctx context.Context, restaurantID, tableToken string, rctx model.RelationshipContext, serviceDay, sessionGroupID string) (*model.DeckSession, error)
	Create(ctx context.Context, params model.CreateDeckSessionParams) (*model.DeckSession, error)
	UpdatePosition(ctx context.Context, deckContextID string, position int) error
	WithTx(tx *sqlx.Tx) DeckSessionRepository
}

type deckSessionRepo struct {
	db sessionDB
}

func NewDeckSessionRepository(db *sqlx.DB) DeckSessionRepository {
	return &deckSessionRepo{db: db}
}

func (r *deckSessionRepo) WithTx(tx *sqlx.Tx) DeckSessionRepository {
	return &deckSessionRepo{db: tx}
}

func (r *deckSessionRepo) FindByTuple(ctx context.Context, restaurantID, tableToken string, rctx model.RelationshipContext, serviceDay, sessionGroupID string) (*model.DeckSession, error) {
	var deck model.DeckSession
	err := r.db.GetContext(ctx, &deck, `
		SELECT * FROM deck_sessions
		WHERE restaurant_id = $1
		AND table_token = $2
		AND relationship_context = $3
		AND service_day = $4
		AND session_group_id = $5
	`, restaurantID, tableToken, rctx, serviceDay, sessionGroupID)
	return HandleNotFound(&deck, err)
}

func (r *deckSessionRepo) Create(ctx context.Context, params model.CreateDeckSessionParams) (*model.DeckSession, error) {
	var deck model.DeckSession
	err := r.db.GetContext(ctx, &deck, `
		INSERT INTO deck_sessions
			(deck_context_id, restaurant_id, table_token, relationship_context,
			 service_day, session_group_id, seed, position_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		RETURNING *
	`, params.DeckContextID, params.RestaurantID, params.TableToken,
		params.Context, params.ServiceDay, params.SessionGroupID, params.Seed)
	if err != nil {
		return nil, err
	}
	return &deck, nil
}

func (r *deckSessionRepo) UpdatePosition(ctx context.Context, deckContextID string, position int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deck_sessions
		SET position_index = $1, updated_at = NOW()
		WHERE deck_context_id = $2
	`, position, deckContextID)
	return err
}

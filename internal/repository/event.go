package repository

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/tabletalk/tabletalk-server-go/internal/model"
)

// GameEventRepository is the append-only mirror of ritual transitions and
// advancements. Nothing in the core reads it back.
type GameEventRepository interface {
	Insert(ctx context.Context, sessionID *string, eventType model.GameEventType, data map[string]any) error
}

type gameEventRepo struct {
	db sessionDB
}

func NewGameEventRepository(db *sqlx.DB) GameEventRepository {
	return &gameEventRepo{db: db}
}

func (r *gameEventRepo) Insert(ctx context.Context, sessionID *string, eventType model.GameEventType, data map[string]any) error {
	var payload *json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw := json.RawMessage(encoded)
		payload = &raw
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO game_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, sessionID, eventType, payload)
	return err
}

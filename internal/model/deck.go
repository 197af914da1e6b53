package model

import "time"

// DeckSession caches which permutation a session group is on and how far into
// it they are. The (restaurant, table, context, day, group) tuple is the
// primary key; the permutation itself is never stored, only the seed it is
// reconstructed from.
type DeckSession struct {
	DeckContextID  string              `db:"deck_context_id" json:"deckContextId"`
	RestaurantID   string              `db:"restaurant_id" json:"restaurantId"`
	TableToken     string              `db:"table_token" json:"tableToken"`
	Context        RelationshipContext `db:"relationship_context" json:"relationshipContext"`
	ServiceDay     string              `db:"service_day" json:"serviceDay"`
	SessionGroupID string              `db:"session_group_id" json:"sessionGroupId"`
	Seed           string              `db:"seed" json:"-"`
	PositionIndex  int                 `db:"position_index" json:"positionIndex"`
	CreatedAt      time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updatedAt"`
}

type CreateDeckSessionParams struct {
	DeckContextID  string
	RestaurantID   string
	TableToken     string
	Context        RelationshipContext
	ServiceDay     string
	SessionGroupID string
	Seed           string
}

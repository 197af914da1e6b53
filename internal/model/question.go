package model

import "encoding/json"

// Question is static discussion content. The core reads it, never writes it.
type Question struct {
	ID      string               `db:"question_id" json:"questionId"`
	Text    string               `db:"text" json:"text"`
	Context *RelationshipContext `db:"context" json:"context,omitempty"`
	Type    QuestionType         `db:"question_type" json:"questionType"`
	Options *json.RawMessage     `db:"options" json:"options,omitempty"`
	Active  bool                 `db:"active" json:"-"`
}

// MatchesContext reports whether the question belongs in a deck for the given
// context. Context-less questions are global and match everything.
func (q *Question) MatchesContext(ctx RelationshipContext) bool {
	return q.Context == nil || *q.Context == ctx
}

package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/tabletalk/tabletalk-server-go/internal/model"
)

type QuestionRepository interface {
	FindActive(ctx context.Context) ([]model.Question, error)
}

type questionRepo struct {
	db sessionDB
}

func NewQuestionRepository(db *sqlx.DB) QuestionRepository {
	return &questionRepo{db: db}
}

func (r *questionRepo) FindActive(ctx context.Context) ([]model.Question, error) {
	var questions []model.Question
	err := r.db.SelectContext(ctx, &questions, `
		SELECT * FROM questions
		WHERE active = true
		ORDER BY question_id
	`)
	if err != nil {
		return nil, err
	}
	return questions, nil
}

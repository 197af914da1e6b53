package deck

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletalk/tabletalk-server-go/internal/model"
	"github.com/tabletalk/tabletalk-server-go/internal/repository"
)

type mockQuestionRepo struct {
	questions []model.Question
	findErr   error
	calls     int
}

func (m *mockQuestionRepo) FindActive(ctx context.Context) ([]model.Question, error) {
	m.calls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.questions, nil
}

type mockDeckRepo struct {
	decks     map[string]*model.DeckSession
	updateErr error
}

func newMockDeckRepo() *mockDeckRepo {
	return &mockDeckRepo{decks: make(map[string]*model.DeckSession)}
}

func (m *mockDeckRepo) tupleKey(restaurantID, tableToken string, rctx model.RelationshipContext, serviceDay, sessionGroupID string) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", restaurantID, tableToken, rctx, serviceDay, sessionGroupID)
}

func (m *mockDeckRepo) FindByTuple(ctx context.Context, restaurantID, tableToken string, rctx model.RelationshipContext, serviceDay, sessionGroupID string) (*model.DeckSession, error) {
	if deck, ok := m.decks[m.tupleKey(restaurantID, tableToken, rctx, serviceDay, sessionGroupID)]; ok {
		copied := *deck
		return &copied, nil
	}
	return nil, nil
}

func (m *mockDeckRepo) Create(ctx context.Context, params model.CreateDeckSessionParams) (*model.DeckSession, error) {
	deck := &model.DeckSession{
		DeckContextID:  params.DeckContextID,
		RestaurantID:   params.RestaurantID,
		TableToken:     params.TableToken,
		Context:        params.Context,
		ServiceDay:     params.ServiceDay,
		SessionGroupID: params.SessionGroupID,
		Seed:           params.Seed,
		PositionIndex:  0,
	}
	m.decks[m.tupleKey(params.RestaurantID, params.TableToken, params.Context, params.ServiceDay, params.SessionGroupID)] = deck
	return deck, nil
}

func (m *mockDeckRepo) UpdatePosition(ctx context.Context, deckContextID string, position int) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	for _, deck := range m.decks {
		if deck.DeckContextID == deckContextID {
			deck.PositionIndex = position
			return nil
		}
	}
	return errors.New("deck not found")
}

func (m *mockDeckRepo) WithTx(tx *sqlx.Tx) repository.DeckSessionRepository {
	return m
}

func testQuestions(n int) []model.Question {
	questions := make([]model.Question, n)
	for i := range questions {
		questions[i] = model.Question{
			ID:     fmt.Sprintf("q-%02d", i),
			Text:   fmt.Sprintf("question %d", i),
			Type:   model.QuestionOpenEnded,
			Active: true,
		}
	}
	return questions
}

func testKey() Key {
	return Key{
		RestaurantID:   "rest-1",
		TableToken:     "table-7",
		Context:        model.ContextExploring,
		ServiceDay:     "2026-08-31",
		SessionGroupID: "group-1",
	}
}

func TestKeyFor(t *testing.T) {
	session := &model.Session{
		RestaurantID:   "rest-1",
		TableToken:     "table-7",
		Context:        model.ContextEstablished,
		SessionGroupID: "group-9",
	}

	// 23:30 in UTC-negative terms: the service day follows UTC, not local time.
	now := time.Date(2026, 8, 31, 23, 30, 0, 0, time.UTC)
	key := KeyFor(session, now)

	assert.Equal(t, "2026-08-31", key.ServiceDay)
	assert.Equal(t, "group-9", key.SessionGroupID)
	assert.Equal(t, model.ContextEstablished, key.Context)
}

func TestEngineCurrent(t *testing.T) {
	ctx := context.Background()

	t.Run("same tuple yields same question on every engine", func(t *testing.T) {
		questions := testQuestions(10)
		key := testKey()

		deckRepo := newMockDeckRepo()
		first := NewEngine(&mockQuestionRepo{questions: questions}, deckRepo)
		second := NewEngine(&mockQuestionRepo{questions: questions}, deckRepo)

		a, err := first.Current(ctx, key)
		require.NoError(t, err)
		b, err := second.Current(ctx, key)
		require.NoError(t, err)

		assert.Equal(t, a.Question.ID, b.Question.ID)
		assert.Equal(t, a.DeckContextID, b.DeckContextID)
		assert.Equal(t, 1, a.Position)
		assert.Equal(t, 10, a.Total)
	})

	t.Run("different session groups derive different seeds", func(t *testing.T) {
		keyA := testKey()
		keyB := testKey()
		keyB.SessionGroupID = "group-2"

		seedA, deckA := deriveSeed(keyA)
		seedB, deckB := deriveSeed(keyB)

		assert.NotEqual(t, seedA, seedB)
		assert.NotEqual(t, deckA, deckB)
		assert.Len(t, seedA, storedSeedLen)
		assert.Len(t, deckA, 64)
	})

	t.Run("filters questions by context", func(t *testing.T) {
		established := model.ContextEstablished
		questions := []model.Question{
			{ID: "q-global", Active: true},
			{ID: "q-established", Context: &established, Active: true},
		}

		engine := NewEngine(&mockQuestionRepo{questions: questions}, newMockDeckRepo())

		current, err := engine.Current(ctx, testKey())
		require.NoError(t, err)

		// Exploring deck: the Established-only question is excluded, the
		// context-less one is global and stays.
		assert.Equal(t, 1, current.Total)
		assert.Equal(t, "q-global", current.Question.ID)
	})

	t.Run("returns ErrNoQuestions for empty filtered set", func(t *testing.T) {
		established := model.ContextEstablished
		questions := []model.Question{
			{ID: "q-established", Context: &established, Active: true},
		}

		engine := NewEngine(&mockQuestionRepo{questions: questions}, newMockDeckRepo())

		_, err := engine.Current(ctx, testKey())
		assert.ErrorIs(t, err, ErrNoQuestions)
	})

	t.Run("repairs out of range cursor by modulo", func(t *testing.T) {
		key := testKey()
		deckRepo := newMockDeckRepo()
		engine := NewEngine(&mockQuestionRepo{questions: testQuestions(3)}, deckRepo)

		first, err := engine.Current(ctx, key)
		require.NoError(t, err)

		// Simulate a deck that shrank after the cursor was written.
		require.NoError(t, deckRepo.UpdatePosition(ctx, first.DeckContextID, 5))

		current, err := engine.Current(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 3, current.Position) // 5 % 3 = 2, 1-based 3
	})

	t.Run("caches the question pool until invalidated", func(t *testing.T) {
		questionRepo := &mockQuestionRepo{questions: testQuestions(4)}
		engine := NewEngine(questionRepo, newMockDeckRepo())

		_, err := engine.Current(ctx, testKey())
		require.NoError(t, err)
		_, err = engine.Current(ctx, testKey())
		require.NoError(t, err)
		assert.Equal(t, 1, questionRepo.calls)

		engine.Invalidate()
		_, err = engine.Current(ctx, testKey())
		require.NoError(t, err)
		assert.Equal(t, 2, questionRepo.calls)
	})
}

func TestEngineAdvanceRewind(t *testing.T) {
	ctx := context.Background()

	t.Run("advance wraps past the last question", func(t *testing.T) {
		key := testKey()
		engine := NewEngine(&mockQuestionRepo{questions: testQuestions(3)}, newMockDeckRepo())

		pos, err := engine.Advance(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 2, pos)

		pos, err = engine.Advance(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 3, pos)

		pos, err = engine.Advance(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 1, pos)
	})

	t.Run("rewind from the first question wraps to the last", func(t *testing.T) {
		key := testKey()
		engine := NewEngine(&mockQuestionRepo{questions: testQuestions(3)}, newMockDeckRepo())

		pos, err := engine.Rewind(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 3, pos)
	})

	t.Run("advance and rewind are symmetric", func(t *testing.T) {
		key := testKey()
		engine := NewEngine(&mockQuestionRepo{questions: testQuestions(5)}, newMockDeckRepo())

		before, err := engine.Current(ctx, key)
		require.NoError(t, err)

		_, err = engine.Advance(ctx, key)
		require.NoError(t, err)
		_, err = engine.Rewind(ctx, key)
		require.NoError(t, err)

		after, err := engine.Current(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, before.Question.ID, after.Question.ID)
	})

	t.Run("propagates storage errors", func(t *testing.T) {
		key := testKey()
		deckRepo := newMockDeckRepo()
		engine := NewEngine(&mockQuestionRepo{questions: testQuestions(3)}, deckRepo)

		_, err := engine.Current(ctx, key)
		require.NoError(t, err)

		deckRepo.updateErr = errors.New("connection reset")
		_, err = engine.Advance(ctx, key)
		assert.Error(t, err)
	})
}

func TestShuffle(t *testing.T) {
	t.Run("is deterministic per seed", func(t *testing.T) {
		questions := testQuestions(20)

		a := shuffle(questions, "deadbeefcafef00d")
		b := shuffle(questions, "deadbeefcafef00d")

		for i := range a {
			assert.Equal(t, a[i].ID, b[i].ID)
		}
	})

	t.Run("different seeds give different orders", func(t *testing.T) {
		questions := testQuestions(20)

		a := shuffle(questions, "deadbeefcafef00d")
		b := shuffle(questions, "0123456789abcdef")

		same := true
		for i := range a {
			if a[i].ID != b[i].ID {
				same = false
				break
			}
		}
		assert.False(t, same)
	})

	t.Run("does not mutate the input slice", func(t *testing.T) {
		questions := testQuestions(10)
		_ = shuffle(questions, "deadbeefcafef00d")

		for i, q := range questions {
			assert.Equal(t, fmt.Sprintf("q-%02d", i), q.ID)
		}
	})

	t.Run("permutation contains every question exactly once", func(t *testing.T) {
		questions := testQuestions(15)
		shuffled := shuffle(questions, "deadbeefcafef00d")

		seen := make(map[string]bool, len(shuffled))
		for _, q := range shuffled {
			assert.False(t, seen[q.ID])
			seen[q.ID] = true
		}
		assert.Len(t, seen, 15)
	})
}

package deck

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tabletalk/tabletalk-server-go/internal/model"
	"github.com/tabletalk/tabletalk-server-go/internal/repository"
)

// ErrNoQuestions is returned when the filtered question set for a context is
// empty. Callers must not show a question in that case.
var ErrNoQuestions = errors.New("no active questions for context")

const (
	lcgMultiplier = 1664525
	lcgIncrement  = 1013904223
	storedSeedLen = 16
)

// Key is the deck isolation tuple. Two sessions share deck progress only when
// every field matches, including the per-creation session group id.
type Key struct {
	RestaurantID   string
	TableToken     string
	Context        model.RelationshipContext
	ServiceDay     string
	SessionGroupID string
}

// KeyFor builds the deck tuple for a session on the given instant. Service
// days roll over at UTC midnight.
func KeyFor(session *model.Session, now time.Time) Key {
	return Key{
		RestaurantID:   session.RestaurantID,
		TableToken:     session.TableToken,
		Context:        session.Context,
		ServiceDay:     now.UTC().Format("2006-01-02"),
		SessionGroupID: session.SessionGroupID,
	}
}

func (k Key) seedInput() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		k.RestaurantID, k.TableToken, k.Context, k.ServiceDay, k.SessionGroupID)
}

// QuestionAt is a question resolved at a position in a session group's deck.
type QuestionAt struct {
	Question      model.Question `json:"question"`
	Position      int            `json:"position"` // 1-based
	Total         int            `json:"total"`
	DeckContextID string         `json:"deckContextId"`
}

// Engine reconstructs a session group's question permutation on demand from a
// derived seed. Only the seed and an integer cursor are ever persisted, so
// deck storage is O(1) per group and the same tuple yields the same order on
// any process or replica.
type Engine struct {
	questionRepo repository.QuestionRepository
	deckRepo     repository.DeckSessionRepository

	mu    sync.RWMutex
	cache []model.Question
}

func NewEngine(questionRepo repository.QuestionRepository, deckRepo repository.DeckSessionRepository) *Engine {
	return &Engine{
		questionRepo: questionRepo,
		deckRepo:     deckRepo,
	}
}

// Current resolves the question the group is on right now. The stored cursor
// is taken modulo the current deck size, so a deck that shrank since the
// cursor was written still resolves to a valid index (best-effort repair).
func (e *Engine) Current(ctx context.Context, key Key) (*QuestionAt, error) {
	deckSession, err := e.resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	questions, err := e.questionsFor(ctx, key.Context)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	shuffled := shuffle(questions, deckSession.Seed)
	index := deckSession.PositionIndex % len(shuffled)

	return &QuestionAt{
		Question:      shuffled[index],
		Position:      index + 1,
		Total:         len(shuffled),
		DeckContextID: deckSession.DeckContextID,
	}, nil
}

// Advance moves the cursor forward one step, wrapping to 0 past the end.
// Returns the new 1-based position.
func (e *Engine) Advance(ctx context.Context, key Key) (int, error) {
	return e.move(ctx, key, +1)
}

// Rewind moves the cursor back one step, wrapping to the last question at the
// front. Returns the new 1-based position.
func (e *Engine) Rewind(ctx context.Context, key Key) (int, error) {
	return e.move(ctx, key, -1)
}

func (e *Engine) move(ctx context.Context, key Key, delta int) (int, error) {
	deckSession, err := e.resolve(ctx, key)
	if err != nil {
		return 0, err
	}

	questions, err := e.questionsFor(ctx, key.Context)
	if err != nil {
		return 0, err
	}
	total := len(questions)
	if total == 0 {
		return 0, ErrNoQuestions
	}

	newIndex := deckSession.PositionIndex + delta
	if newIndex >= total {
		newIndex = 0
	}
	if newIndex < 0 {
		newIndex = total - 1
	}

	if err := e.deckRepo.UpdatePosition(ctx, deckSession.DeckContextID, newIndex); err != nil {
		return 0, err
	}

	return newIndex + 1, nil
}

// Invalidate drops the in-memory question cache; the next resolve re-reads
// the store. Called after content edits.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.cache = nil
	e.mu.Unlock()
}

func (e *Engine) resolve(ctx context.Context, key Key) (*model.DeckSession, error) {
	existing, err := e.deckRepo.FindByTuple(ctx, key.RestaurantID, key.TableToken,
		key.Context, key.ServiceDay, key.SessionGroupID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	seed, deckContextID := deriveSeed(key)

	log.Info().
		Str("tableToken", key.TableToken).
		Str("context", string(key.Context)).
		Str("sessionGroupId", key.SessionGroupID).
		Msg("creating deck session")

	return e.deckRepo.Create(ctx, model.CreateDeckSessionParams{
		DeckContextID:  deckContextID,
		RestaurantID:   key.RestaurantID,
		TableToken:     key.TableToken,
		Context:        key.Context,
		ServiceDay:     key.ServiceDay,
		SessionGroupID: key.SessionGroupID,
		Seed:           seed,
	})
}

func (e *Engine) questionsFor(ctx context.Context, rctx model.RelationshipContext) ([]model.Question, error) {
	all, err := e.activeQuestions(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]model.Question, 0, len(all))
	for _, q := range all {
		if q.MatchesContext(rctx) {
			filtered = append(filtered, q)
		}
	}
	return filtered, nil
}

func (e *Engine) activeQuestions(ctx context.Context) ([]model.Question, error) {
	e.mu.RLock()
	cached := e.cache
	e.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	questions, err := e.questionRepo.FindActive(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache = questions
	e.mu.Unlock()
	return questions, nil
}

// deriveSeed hashes the tuple and returns the stored seed (a fixed-width
// digest prefix) and the deck context id (the full digest). The seed is a
// pure function of the tuple: no random state is persisted.
func deriveSeed(key Key) (seed, deckContextID string) {
	digest := sha256.Sum256([]byte(key.seedInput()))
	full := hex.EncodeToString(digest[:])
	return full[:storedSeedLen], full
}

// shuffle runs a Fisher-Yates pass driven by a 32-bit LCG whose initial state
// is derived from the stored seed. Same seed, same permutation, always.
func shuffle(questions []model.Question, seed string) []model.Question {
	shuffled := make([]model.Question, len(questions))
	copy(shuffled, questions)

	state := seedState(seed)
	for i := len(shuffled) - 1; i > 0; i-- {
		state = state*lcgMultiplier + lcgIncrement
		j := int(uint64(state) * uint64(i+1) >> 32)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled
}

func seedState(seed string) uint32 {
	digest := sha256.Sum256([]byte(seed))
	n, _ := strconv.ParseUint(hex.EncodeToString(digest[:])[:8], 16, 32)
	return uint32(n)
}

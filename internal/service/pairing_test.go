package service

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletalk/tabletalk-server-go/internal/database"
	apperrors "github.com/tabletalk/tabletalk-server-go/internal/errors"
	"github.com/tabletalk/tabletalk-server-go/internal/model"
	"github.com/tabletalk/tabletalk-server-go/internal/repository"
)

// fakeTxRunner runs the transactional function directly; the repositories
// under it are mocks, so no real transaction is needed.
type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type mockParticipantRepo struct {
	createFunc func(ctx context.Context, params model.CreateParticipantParams) (*model.Participant, error)
}

func (m *mockParticipantRepo) FindByID(ctx context.Context, id string) (*model.Participant, error) {
	return nil, nil
}

func (m *mockParticipantRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Participant, error) {
	return nil, nil
}

func (m *mockParticipantRepo) FindBySessionID(ctx context.Context, sessionID string) ([]model.Participant, error) {
	return nil, nil
}

func (m *mockParticipantRepo) Create(ctx context.Context, params model.CreateParticipantParams) (*model.Participant, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, params)
	}
	return nil, nil
}

func (m *mockParticipantRepo) Touch(ctx context.Context, id string) error            { return nil }
func (m *mockParticipantRepo) MarkDisconnected(ctx context.Context, id string) error { return nil }

func (m *mockParticipantRepo) MarkStaleDisconnected(ctx context.Context, staleCutoff time.Duration) (int64, error) {
	return 0, nil
}

func (m *mockParticipantRepo) WithTx(tx *sqlx.Tx) repository.ParticipantRepository { return m }

type mockEventRepo struct{}

func (m *mockEventRepo) Insert(ctx context.Context, sessionID *string, eventType model.GameEventType, data map[string]any) error {
	return nil
}

type mockSessionRepo struct {
	findWaitingFunc func(ctx context.Context, restaurantID, tableToken string) ([]model.Session, error)
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}

func (m *mockSessionRepo) FindWaitingByTable(ctx context.Context, restaurantID, tableToken string) ([]model.Session, error) {
	if m.findWaitingFunc != nil {
		return m.findWaitingFunc(ctx, restaurantID, tableToken)
	}
	return nil, nil
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	return nil, nil
}

func (m *mockSessionRepo) MarkPaired(ctx context.Context, id string) error { return nil }
func (m *mockSessionRepo) Touch(ctx context.Context, id string) error      { return nil }
func (m *mockSessionRepo) Delete(ctx context.Context, id string) error     { return nil }

func (m *mockSessionRepo) ExpireWaiting(ctx context.Context) (int64, error) { return 0, nil }

func (m *mockSessionRepo) ExpireInactive(ctx context.Context, idleCutoff time.Duration) (int64, error) {
	return 0, nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository { return m }

func TestGenerateCode(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9]{6}$`)

	t.Run("codes are six zero-padded digits", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			code, err := GenerateCode()
			require.NoError(t, err)
			assert.Regexp(t, pattern, code)
		}
	})
}

func TestHashCode(t *testing.T) {
	svc := &PairingService{secret: "test-secret-test-secret-32-chars"}

	t.Run("is deterministic", func(t *testing.T) {
		assert.Equal(t,
			svc.HashCode("123456", "sess-1"),
			svc.HashCode("123456", "sess-1"))
	})

	t.Run("same code hashes differently per session", func(t *testing.T) {
		assert.NotEqual(t,
			svc.HashCode("123456", "sess-1"),
			svc.HashCode("123456", "sess-2"))
	})

	t.Run("different secrets disagree", func(t *testing.T) {
		other := &PairingService{secret: "another-secret-another-secret-32"}
		assert.NotEqual(t,
			svc.HashCode("123456", "sess-1"),
			other.HashCode("123456", "sess-1"))
	})
}

func TestRedeem(t *testing.T) {
	ctx := context.Background()

	newService := func(sessionRepo repository.SessionRepository) *PairingService {
		return &PairingService{
			sessionRepo: sessionRepo,
			secret:      "test-secret-test-secret-32-chars",
		}
	}

	t.Run("rejects malformed codes without touching storage", func(t *testing.T) {
		svc := newService(&mockSessionRepo{
			findWaitingFunc: func(ctx context.Context, restaurantID, tableToken string) ([]model.Session, error) {
				t.Fatal("repository should not be queried for a malformed code")
				return nil, nil
			},
		})

		for _, code := range []string{"", "12345", "1234567", "abcdef", "12 456"} {
			_, err := svc.Redeem(ctx, "rest-1", "table-7", code)
			appErr, ok := apperrors.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrCodeInvalidCode, appErr.Code)
		}
	})

	t.Run("trims surrounding whitespace before validating", func(t *testing.T) {
		queried := false
		svc := newService(&mockSessionRepo{
			findWaitingFunc: func(ctx context.Context, restaurantID, tableToken string) ([]model.Session, error) {
				queried = true
				return nil, nil
			},
		})

		_, err := svc.Redeem(ctx, "rest-1", "table-7", "  123456  ")
		require.Error(t, err)
		assert.True(t, queried)
	})

	t.Run("no waiting session reads as invalid code", func(t *testing.T) {
		svc := newService(&mockSessionRepo{})

		_, err := svc.Redeem(ctx, "rest-1", "table-7", "123456")
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeInvalidCode, appErr.Code)
	})

	t.Run("wrong code against a waiting session reads as invalid code", func(t *testing.T) {
		svc := newService(nil)
		hash := svc.HashCode("111111", "sess-1")
		waiting := model.DualStatusWaiting
		svc.sessionRepo = &mockSessionRepo{
			findWaitingFunc: func(ctx context.Context, restaurantID, tableToken string) ([]model.Session, error) {
				return []model.Session{{
					ID:              "sess-1",
					Mode:            model.ModeDualPhone,
					DualStatus:      &waiting,
					PairingCodeHash: &hash,
				}}, nil
			},
		}

		_, err := svc.Redeem(ctx, "rest-1", "table-7", "222222")
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeInvalidCode, appErr.Code)
	})

	t.Run("code bound to another session cannot cross-redeem", func(t *testing.T) {
		svc := newService(nil)
		// The stored hash was minted for sess-other; presenting the same six
		// digits against sess-1 must not match.
		hash := svc.HashCode("123456", "sess-other")
		waiting := model.DualStatusWaiting
		svc.sessionRepo = &mockSessionRepo{
			findWaitingFunc: func(ctx context.Context, restaurantID, tableToken string) ([]model.Session, error) {
				return []model.Session{{
					ID:              "sess-1",
					Mode:            model.ModeDualPhone,
					DualStatus:      &waiting,
					PairingCodeHash: &hash,
				}}, nil
			},
		}

		_, err := svc.Redeem(ctx, "rest-1", "table-7", "123456")
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeInvalidCode, appErr.Code)
	})

	waitingWithCode := func(svc *PairingService, sessionID, code string) repository.SessionRepository {
		hash := svc.HashCode(code, sessionID)
		waiting := model.DualStatusWaiting
		return &mockSessionRepo{
			findWaitingFunc: func(ctx context.Context, restaurantID, tableToken string) ([]model.Session, error) {
				return []model.Session{{
					ID:              sessionID,
					Mode:            model.ModeDualPhone,
					DualStatus:      &waiting,
					PairingCodeHash: &hash,
				}}, nil
			},
		}
	}

	t.Run("occupied role B slot reads as session full, never replacing B", func(t *testing.T) {
		svc := newService(nil)
		svc.db = fakeTxRunner{}
		svc.eventRepo = &mockEventRepo{}
		svc.sessionRepo = waitingWithCode(svc, "sess-1", "123456")
		svc.participantRepo = &mockParticipantRepo{
			createFunc: func(ctx context.Context, params model.CreateParticipantParams) (*model.Participant, error) {
				assert.Equal(t, model.RoleB, params.Role)
				return nil, repository.ErrRoleTaken
			},
		}

		_, err := svc.Redeem(ctx, "rest-1", "table-7", "123456")
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeSessionFull, appErr.Code)
	})

	t.Run("wrapped role conflict still reads as session full", func(t *testing.T) {
		svc := newService(nil)
		svc.db = fakeTxRunner{}
		svc.eventRepo = &mockEventRepo{}
		svc.sessionRepo = waitingWithCode(svc, "sess-1", "123456")
		svc.participantRepo = &mockParticipantRepo{
			createFunc: func(ctx context.Context, params model.CreateParticipantParams) (*model.Participant, error) {
				return nil, fmt.Errorf("insert participant: %w", repository.ErrRoleTaken)
			},
		}

		_, err := svc.Redeem(ctx, "rest-1", "table-7", "123456")
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeSessionFull, appErr.Code)
	})

	t.Run("successful redemption pairs the session and mints role B", func(t *testing.T) {
		svc := newService(nil)
		svc.db = fakeTxRunner{}
		svc.eventRepo = &mockEventRepo{}
		svc.sessionRepo = waitingWithCode(svc, "sess-1", "123456")
		svc.participantRepo = &mockParticipantRepo{
			createFunc: func(ctx context.Context, params model.CreateParticipantParams) (*model.Participant, error) {
				return &model.Participant{
					ID:        params.ID,
					SessionID: params.SessionID,
					Role:      params.Role,
				}, nil
			},
		}

		result, err := svc.Redeem(ctx, "rest-1", "table-7", "123456")
		require.NoError(t, err)
		require.NotNil(t, result.Session.DualStatus)
		assert.Equal(t, model.DualStatusPaired, *result.Session.DualStatus)
		assert.Nil(t, result.Session.PairingCodeHash)
		assert.Equal(t, string(model.RoleB), result.Role)
		assert.NotEmpty(t, result.ParticipantToken)
	})
}

package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tabletalk/tabletalk-server-go/internal/model"
	"github.com/tabletalk/tabletalk-server-go/internal/repository"
)

// Sweeper runs the background expiry rules: void stale pairings, expire idle
// sessions, flag silent participants, and hard-delete long-expired rows. Each
// rule is independent and best-effort; a failure in one never blocks the rest.
type Sweeper struct {
	sessionRepo     repository.SessionRepository
	participantRepo repository.ParticipantRepository
	eventRepo       repository.GameEventRepository
	interval        time.Duration
	idleTimeout     time.Duration
	staleTimeout    time.Duration
	retention       time.Duration
	done            chan struct{}
}

func NewSweeper(
	sessionRepo repository.SessionRepository,
	participantRepo repository.ParticipantRepository,
	eventRepo repository.GameEventRepository,
	interval, idleTimeout, staleTimeout, retention time.Duration,
) *Sweeper {
	return &Sweeper{
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
		eventRepo:       eventRepo,
		interval:        interval,
		idleTimeout:     idleTimeout,
		staleTimeout:    staleTimeout,
		retention:       retention,
		done:            make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
	log.Info().Dur("interval", s.interval).Msg("expiry sweeper started")
}

func (s *Sweeper) Stop() {
	close(s.done)
	log.Info().Msg("expiry sweeper stopped")
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	total := int64(0)
	total += s.runRule(ctx, "waiting sessions past pairing expiry", s.sessionRepo.ExpireWaiting)
	total += s.runRule(ctx, "idle sessions", func(ctx context.Context) (int64, error) {
		return s.sessionRepo.ExpireInactive(ctx, s.idleTimeout)
	})
	total += s.runRule(ctx, "stale participants", func(ctx context.Context) (int64, error) {
		return s.participantRepo.MarkStaleDisconnected(ctx, s.staleTimeout)
	})
	total += s.runRule(ctx, "long-expired sessions", func(ctx context.Context) (int64, error) {
		return s.sessionRepo.DeleteExpired(ctx, s.retention)
	})

	if total > 0 {
		if err := s.eventRepo.Insert(ctx, nil, model.EventCleanupCompleted, map[string]any{
			"affected": total,
		}); err != nil {
			log.Warn().Err(err).Msg("failed to record cleanup event")
		}
	}
}

func (s *Sweeper) runRule(ctx context.Context, name string, fn func(context.Context) (int64, error)) int64 {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to sweep %s", name)
		return 0
	}
	if count > 0 {
		log.Info().Int64("count", count).Msgf("swept %s", name)
	}
	return count
}

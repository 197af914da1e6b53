package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tabletalk/tabletalk-server-go/internal/common/clock"
	"github.com/tabletalk/tabletalk-server-go/internal/config"
	"github.com/tabletalk/tabletalk-server-go/internal/database"
	"github.com/tabletalk/tabletalk-server-go/internal/deck"
	"github.com/tabletalk/tabletalk-server-go/internal/handler"
	"github.com/tabletalk/tabletalk-server-go/internal/jobs"
	"github.com/tabletalk/tabletalk-server-go/internal/middleware"
	"github.com/tabletalk/tabletalk-server-go/internal/realtime"
	"github.com/tabletalk/tabletalk-server-go/internal/redis"
	"github.com/tabletalk/tabletalk-server-go/internal/repository"
	"github.com/tabletalk/tabletalk-server-go/internal/service"
)

func main() {
	// Best-effort: production injects env directly, .env is for development.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionRepo := repository.NewSessionRepository(db.DB)
	participantRepo := repository.NewParticipantRepository(db.DB)
	deckRepo := repository.NewDeckSessionRepository(db.DB)
	questionRepo := repository.NewQuestionRepository(db.DB)
	eventRepo := repository.NewGameEventRepository(db.DB)

	broker := realtime.NewBroker(redisClient)
	defer broker.Close()

	clk := clock.New()
	engine := deck.NewEngine(questionRepo, deckRepo)

	pairingService := service.NewPairingService(db, sessionRepo, participantRepo, eventRepo, cfg.PairingCodeSecret)
	sessionService := service.NewSessionService(
		db, sessionRepo, participantRepo, eventRepo, pairingService,
		cfg.SessionTTL(), cfg.PairingExpiry(),
	)
	rateLimiter := service.NewRateLimiter(redisClient.Client)

	rooms := realtime.NewRooms()
	coordinator := realtime.NewCoordinator(
		rooms, broker, broker, sessionRepo, participantRepo, eventRepo,
		engine, clk, cfg.AdvanceWatchdog(),
	)

	authMiddleware := middleware.NewAuthMiddleware(participantRepo, sessionRepo)
	pairLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		rateLimiter, cfg.PairRedeemPerMin, time.Minute, "pair",
	)

	sessionHandler := handler.NewSessionHandler(sessionService, pairingService, coordinator)
	questionHandler := handler.NewQuestionHandler(engine, eventRepo, clk)
	realtimeHandler := handler.NewRealtimeHandler(coordinator)
	eventsHandler := handler.NewEventsHandler(broker, coordinator)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

			r.Post("/sessions", sessionHandler.Create)

			r.Group(func(r chi.Router) {
				r.Use(pairLimitMiddleware.Handler)
				r.Post("/sessions/pair", sessionHandler.Pair)
			})

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Handler)

				r.Get("/sessions/{sessionID}", sessionHandler.Get)
				r.Delete("/sessions/{sessionID}", sessionHandler.End)
				r.Get("/sessions/{sessionID}/question", questionHandler.Current)
				r.Post("/sessions/{sessionID}/question/next", questionHandler.Next)
				r.Post("/sessions/{sessionID}/question/prev", questionHandler.Prev)

				r.Post("/participants/heartbeat", sessionHandler.Heartbeat)

				r.Post("/realtime/ready", realtimeHandler.Ready)
				r.Post("/realtime/answer", realtimeHandler.Answer)
				r.Post("/realtime/next", realtimeHandler.Next)
				r.Post("/realtime/reveal", realtimeHandler.Reveal)
			})
		})

		// The request timeout middleware would sever long-lived streams, so
		// the SSE route stays outside it and relies on write deadlines being
		// disabled on the server below.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Get("/events", eventsHandler.ServeHTTP)
		})
	})

	sweeper := jobs.NewSweeper(
		sessionRepo, participantRepo, eventRepo,
		config.SweeperInterval, config.SessionIdleTimeout,
		config.HeartbeatStaleTimeout, config.ExpiredSessionRetention,
	)
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

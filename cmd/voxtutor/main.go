// Command voxtutor runs the tutoring session orchestrator: the HTTP and
// WebSocket gateway, the session manager, and the leaderboard reconciler.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/voxtutor/voxtutor/migrations"
	"github.com/voxtutor/voxtutor/pkg/checkpoint"
	"github.com/voxtutor/voxtutor/pkg/curriculum"
	"github.com/voxtutor/voxtutor/pkg/gateway/config"
	"github.com/voxtutor/voxtutor/pkg/gateway/live"
	"github.com/voxtutor/voxtutor/pkg/gateway/metrics"
	gatewayserver "github.com/voxtutor/voxtutor/pkg/gateway/server"
	"github.com/voxtutor/voxtutor/pkg/gateway/sessions"
	"github.com/voxtutor/voxtutor/pkg/handoff"
	"github.com/voxtutor/voxtutor/pkg/score"
	"github.com/voxtutor/voxtutor/pkg/session"
)

func main() {
	os.Exit(run(context.Background(), os.Stderr))
}

func run(ctx context.Context, stderr io.Writer) int {
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("no .env file loaded", "error", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "voxtutor: %v\n", err)
		return 1
	}

	if err := serve(ctx, cfg, logger); err != nil {
		fmt.Fprintf(stderr, "voxtutor: %v\n", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: Postgres when configured, in-memory otherwise.
	var (
		checkpoints checkpoint.Store
		leaderboard score.Leaderboard
	)
	if cfg.DatabaseURL != "" {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		checkpoints = checkpoint.NewPostgresStore(pool)
		leaderboard = score.NewPostgresLeaderboard(pool)
		logger.Info("using postgres stores")
	} else {
		checkpoints = checkpoint.NewMemoryStore()
		leaderboard = score.NewMemoryLeaderboard()
		logger.Warn("VOX_DATABASE_URL not set, using in-memory stores")
	}

	var queue score.ReconcileQueue
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		queue = score.NewRedisQueue(client, "")
		logger.Info("using redis reconcile queue", "addr", cfg.RedisAddr)
	} else {
		queue = score.NewMemoryQueue()
		logger.Warn("VOX_REDIS_ADDR not set, using in-process reconcile queue")
	}

	var provider handoff.Provider
	if cfg.GeminiAPIKey != "" {
		p, err := handoff.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return fmt.Errorf("gemini provider: %w", err)
		}
		provider = p
		logger.Info("using gemini provider", "model", cfg.GeminiModel)
	} else {
		provider = handoff.NewStaticProvider()
		logger.Warn("VOX_GEMINI_API_KEY not set, serving all content from the fallback bank")
	}

	updater := score.NewUpdater(leaderboard, queue, score.DefaultScoringConfig(), logger)
	reconciler := score.NewReconciler(updater, queue, logger)
	go reconciler.Run(ctx)

	var manager *session.Manager
	m := metrics.New(func() float64 {
		if manager == nil {
			return 0
		}
		return float64(manager.Len())
	})
	hub := live.NewHub(logger, m)
	tracker := sessions.NewTracker()

	sessionCfg := session.DefaultConfig()
	sessionCfg.Timer.WrapUpAfter = cfg.WrapUpAfter
	sessionCfg.Timer.ConcludeAfter = cfg.ConcludeAfter
	sessionCfg.AutosaveInterval = cfg.AutosaveInterval

	manager = session.NewManager(sessionCfg, logger, session.Deps{
		Coordinator: handoff.NewCoordinator(provider, handoff.DefaultConfig(), logger),
		Checkpoints: checkpoints,
		Updater:     updater,
		Curriculum:  curriculum.NewStaticProvider(nil),
		Transcriber: session.StubTranscriber{},
		Synthesizer: session.StubSynthesizer{},
		Notifier:    hub,
	}, cfg.MaxSessionsPerUser)

	gw := gatewayserver.New(cfg, logger, manager, leaderboard, m, hub, tracker)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}

	logger.Info("starting voxtutor", "addr", cfg.Addr, "auth_mode", cfg.AuthMode)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	tracker.WarnAll("draining", "server is shutting down; your session will be checkpointed")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	// Checkpoint every live session so nothing is lost across the restart.
	pauseCtx, pauseCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	manager.PauseAll(pauseCtx)
	pauseCancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if !tracker.Wait(waitCtx) {
		tracker.CancelAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("voxtutor stopped")
	return nil
}

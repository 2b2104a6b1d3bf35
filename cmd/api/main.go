package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	v1 "stepmatch/cmd/api/router/v1"
	cacheAdapter "stepmatch/internal/infrastructure/cache/adapter"
	"stepmatch/internal/infrastructure/database"
	feedAdapter "stepmatch/internal/infrastructure/feed/adapter"
	"stepmatch/internal/infrastructure/push"
	queueAdapter "stepmatch/internal/infrastructure/queue/adapter"
	"stepmatch/internal/pkg/identity"
	backendAdapter "stepmatch/internal/pkg/messaging/backend/adapter"
	"stepmatch/internal/pkg/messaging/presence"
	"stepmatch/internal/pkg/messaging/session"
	"stepmatch/internal/pkg/messaging/task"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Warn().Err(err).Msg(".env file not found or could not be loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	who, err := identity.FromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve local identity")
	}

	// Connect to the database on startup
	dbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pool, err := database.NewPoolFromEnv(dbCtx)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	backend := backendAdapter.NewPgBackend(pool)

	cache, err := cacheAdapter.NewRedisAdapter()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer cache.Close()

	qClient, err := queueAdapter.NewAsynqClientFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create queue client")
	}
	defer qClient.Close()

	qServer, err := queueAdapter.NewAsynqServer(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create queue server")
	}
	task.RegisterMarkReadTask(qServer, backend)

	feed, err := feedAdapter.NewWSFeedFromEnv(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure change feed")
	}
	if err := feed.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to change feed")
	}
	defer feed.Close()

	sess, err := session.New(session.Config{
		UserID:   who.UserID,
		Backend:  backend,
		Feed:     feed,
		Reads:    task.NewScheduler(qClient, who.UserID),
		Presence: presence.NewTracker(cache),
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build session")
	}

	hub := push.NewHub()
	defer hub.Close()

	r := gin.Default()
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "user_id": who.UserID})
	})
	v1.RegisterRoutes(r, sess, hub)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error { return qServer.Run(gctx) })
	g.Go(func() error {
		// Forward session notifications to attached view sockets.
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case ev := <-sess.Events():
				if payload, err := json.Marshal(ev); err == nil {
					hub.Broadcast(payload)
				}
			}
		}
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info().Str("addr", addr).Str("user_id", who.UserID).Msg("messaging sync service started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("service exited")
	}
}

// Package main provides the arena server binary: a WebSocket endpoint that
// places connections into rooms and runs each room's tick loop.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/arenalabs/arena/internal/config"
	"github.com/arenalabs/arena/internal/gameserver"
	"github.com/arenalabs/arena/internal/observability"
	"github.com/arenalabs/arena/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting arena server",
		zap.String("addr", cfg.Server.Addr()),
		zap.Int("tick_rate", cfg.Game.TickRate),
		zap.Int("max_players", cfg.Game.MaxPlayers),
	)

	svc := gameserver.NewService(cfg.Game, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: gameserver.NewMux(svc, logger),
	}

	// Wire lifecycle. Services stop in reverse order, so the room drivers
	// are torn down after the listener stops accepting connections.
	lifecycle := server.NewLifecycle(logger)

	roomsDone := make(chan struct{})
	lifecycle.Add("rooms", &server.FuncService{
		StartFn: func() error {
			<-roomsDone
			return nil
		},
		StopFn: func() {
			svc.Shutdown()
			close(roomsDone)
		},
	})

	lifecycle.Add("http", &server.FuncService{
		StartFn: func() error {
			logger.Info("http server listening",
				zap.String("addr", cfg.Server.Addr()),
			)
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
		},
	})

	logger.Info("arena server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linemk/naijahub/internal/app"
	"github.com/linemk/naijahub/internal/config"
	"github.com/linemk/naijahub/internal/lib/logger"
	"github.com/pkg/errors"
)

func main() {
	cfg := config.MustLoad()

	log := logger.SetupLogger(cfg.Env)
	log.Info("starting naijahub", slog.String("env", cfg.Env), slog.String("store", cfg.Store.Driver))

	// фоновые воркеры останавливаются при отмене контекста
	ctx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	application, err := app.NewApp(ctx, log, cfg)
	if err != nil {
		log.Error("failed to initialize app", logger.Err(err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.Error("failed to close app", logger.Err(err))
		}
	}()

	go application.Limiter.RunSweeper(ctx, time.Minute)
	if application.Watcher != nil {
		go func() {
			if err := application.Watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("realtime watcher stopped", logger.Err(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      application.Router(),
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", logger.Err(err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", logger.Err(err))
	}
	stopWorkers()
	// ждём фоновые обновления кэша до закрытия соединений
	application.Cache.Wait()

	log.Info("server gracefully stopped")
}

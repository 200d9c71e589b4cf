package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailsweep/internal/api"
	"mailsweep/internal/app"
	"mailsweep/internal/config"
	"mailsweep/internal/httpserver"
	pkgconfig "mailsweep/pkg/config"
	"mailsweep/pkg/logger"
)

func main() {
	// 1. Load config
	cfg, err := config.Load(pkgconfig.GetConfigEnv(), pkgconfig.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		// no logger yet
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Config invalid", zap.Error(err))
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.JWT.Secret == "" {
		log.Fatal("jwt.secret is required to serve the API")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Wire the engine: Gmail, Postgres, Redis, RabbitMQ as configured
	engine, err := app.Build(ctx, cfg, app.Options{}, log)
	if err != nil {
		log.Fatal("Engine initialization failed", zap.Error(err))
	}
	engine.Start(ctx)

	// 3. Init handlers and router
	router := httpserver.NewRouter(
		api.NewAnalysisHandler(engine.Service, log),
		api.NewCleanupHandler(engine.Service, log),
		api.NewRuleHandler(engine.Service, log),
		cfg.JWT.Secret,
		engine.ReadyChecks(),
	)
	srv := router.Server(cfg.Server.Port)

	// 4. Run server until a signal arrives
	go func() {
		log.Info("HTTP server listening", zap.String("port", cfg.Server.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	// running cleanups finish their in-flight batches before the engine closes
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	engine.Close()
}

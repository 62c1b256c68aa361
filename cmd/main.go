package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Fabelwerk/server/internal/config"
	"Fabelwerk/server/internal/continuity"
	"Fabelwerk/server/internal/engine"
	"Fabelwerk/server/internal/interfaces"
	"Fabelwerk/server/internal/logger"
	"Fabelwerk/server/internal/storage"
	"Fabelwerk/server/internal/web"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logg.Sync()

	if cfg.AI.Text.APIKey == "" {
		logg.Warn("no API key for the text model, generation requests will fail")
	}

	mysqlStore, err := storage.NewMySQLStore(cfg.Database.MySQL, cfg.Logging.Mode != "prod")
	if err != nil {
		logg.Fatal("failed to connect to mysql", "error", err)
	}
	defer mysqlStore.Close()
	logg.Info("mysql connected", "host", cfg.Database.MySQL.Host, "database", cfg.Database.MySQL.Database)

	checks := map[string]web.Pinger{"mysql": mysqlStore}

	var store interfaces.ContinuityStore
	switch cfg.Continuity.Backend {
	case "memory":
		logg.Warn("continuity state is kept in memory and lost on restart")
		store = storage.NewMemoryStore(cfg.Continuity.LockTTL)
	default:
		redisStore, err := storage.NewRedisStore(cfg.Database.Redis, cfg.Continuity)
		if err != nil {
			logg.Fatal("failed to connect to redis", "error", err)
		}
		defer redisStore.Close()
		logg.Info("redis connected", "host", cfg.Database.Redis.Host)
		store = redisStore
		checks["redis"] = redisStore
	}

	history := storage.NewHistoryRepository(mysqlStore.DB())
	storyEngine := engine.NewStoryEngine(engine.Deps{
		Rules:      storage.NewRuleRepository(mysqlStore.DB()),
		History:    history,
		Recorder:   history,
		Generator:  engine.NewOpenAIGenerator(cfg.AI.Text, engine.OutputFormat, logg),
		Store:      store,
		Reconciler: continuity.NewReconciler(logg, nil),
		Log:        logg,
	})

	r := web.NewRouter(web.NewHandlers(storyEngine, checks, logg))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logg.Info("server starting", "addr", server.Addr, "continuity_backend", cfg.Continuity.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatal("server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logg.Error("server shutdown error", "error", err)
	}

	logg.Info("server stopped")
}

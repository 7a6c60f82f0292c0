package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/camden-git/rsvpbackend/auth"
	"github.com/camden-git/rsvpbackend/config"
	"github.com/camden-git/rsvpbackend/database"
	"github.com/camden-git/rsvpbackend/handlers"
	"github.com/camden-git/rsvpbackend/importer"
	"github.com/camden-git/rsvpbackend/metrics"
	"github.com/camden-git/rsvpbackend/realtime"
	"github.com/camden-git/rsvpbackend/repository"
	"github.com/camden-git/rsvpbackend/services"
	"github.com/camden-git/rsvpbackend/workers"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	zerolog.SetGlobalLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Development() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	logger := log.Logger
	if envErr != nil {
		logger.Info().Err(envErr).Msg("no .env file loaded")
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal().Err(err).Str("dir", dir).Msg("failed to create database directory")
		}
	}

	db, err := database.InitGormDB(cfg.DatabasePath, database.Options{
		BusyTimeout:  cfg.SQLiteBusyTimeout,
		MaxWait:      cfg.StoreTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		Logger:       database.NewGormLogger(logger, gormlogger.Warn),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Error().Err(err).Msg("failed to close database")
		}
	}()

	applied, err := database.Migrate(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	logger.Info().Ints("applied", applied).Str("path", cfg.DatabasePath).Msg("database ready")

	store := repository.NewStore(db, cfg.StoreTimeout)
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)

	identity := services.NewIdentityStore(store, hasher, logger)
	relationships := services.NewRelationshipManager(store, logger)
	plusOnes := services.NewPlusOneProvisioner(store, logger)
	ledger := services.NewResponseLedger(store, plusOnes, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub(logger, cfg.AllowedOrigins)
	go hub.Run(ctx)

	guestImporter := importer.New(identity, relationships, logger)
	imports := workers.NewImportProcessor(guestImporter, cfg.ImportQueueSize, cfg.NumImportWorkers, logger,
		func(state workers.JobState) {
			hub.Broadcast(realtime.Event{
				Type:   realtime.EventImportStatus,
				Status: string(state.Status),
				Error:  state.Error,
				Extra:  map[string]interface{}{"job_id": state.ID, "name": state.Name},
			})
		})
	defer imports.Stop()

	if cfg.GuestImportPath != "" {
		queueStartupImport(imports, cfg.GuestImportPath, logger)
	}

	router := handlers.NewRouter(handlers.Deps{
		Identity:       identity,
		Relationships:  relationships,
		Ledger:         ledger,
		PlusOnes:       plusOnes,
		Reports:        store,
		Imports:        imports,
		Tokens:         tokens,
		Events:         hub,
		EventsHandler:  hub.ServeWS,
		Metrics:        metrics.Handler(),
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            logger,
	})

	// No WriteTimeout: /api/admin/events holds websocket connections open.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Str("env", cfg.Env).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func queueStartupImport(imports *workers.ImportProcessor, path string, logger zerolog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to read guest list")
		return
	}
	state, err := imports.QueueJob(filepath.Base(path), data)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to queue guest list import")
		return
	}
	logger.Info().Str("job_id", state.ID).Str("path", path).Msg("queued guest list import")
}

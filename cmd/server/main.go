package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/transformhub/be-tm-approvals/internal/client"
	"github.com/transformhub/be-tm-approvals/internal/config"
	"github.com/transformhub/be-tm-approvals/internal/database"
	"github.com/transformhub/be-tm-approvals/internal/handler"
	"github.com/transformhub/be-tm-approvals/internal/logger"
	"github.com/transformhub/be-tm-approvals/internal/repository"
	"github.com/transformhub/be-tm-approvals/internal/service"
	"github.com/transformhub/be-tm-approvals/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting TM Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Workflow definition registry: built-in defaults, optionally layered
	// with a deployment definitions file.
	layers := [][]workflow.Definition{workflow.DefaultDefinitions()}
	if cfg.Workflow.DefinitionsFile != "" {
		defs, err := workflow.LoadDefinitionsFile(cfg.Workflow.DefinitionsFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.Workflow.DefinitionsFile).Msg("Failed to load workflow definitions")
		}
		layers = append(layers, defs)
		log.Info().Str("file", cfg.Workflow.DefinitionsFile).Int("definitions", len(defs)).Msg("Workflow definitions file loaded")
	}
	registry, err := workflow.NewRegistry(layers...)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid workflow definitions")
	}
	log.Info().Strs("entity_types", registry.EntityTypes()).Msg("Workflow registry initialized")

	// Notification sink (NATS, optional)
	var events service.EventSink = service.NopSink{}
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.Service.Name))
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable; notifications disabled")
		} else {
			defer nc.Close()
			events = client.NewNotificationPublisher(nc, log)
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	// Collaborator clients
	roster := client.NewRosterClient(cfg.Roster.BaseURL)
	catalog := client.NewEntityCatalogClient(cfg.Catalog.BaseURL)
	log.Info().
		Str("roster", cfg.Roster.BaseURL).
		Str("catalog", cfg.Catalog.BaseURL).
		Msg("Collaborator clients initialized")

	// Storage and services
	store := repository.NewPostgresStore(db)
	submission := service.NewSubmissionService(store, registry, roster, events, log)
	decision := service.NewDecisionService(store, roster, events, log)
	query := service.NewQueryService(store, catalog, log)

	// HTTP server
	httpHandler := handler.NewHTTPHandler(submission, decision, query, log)

	var h http.Handler = httpHandler.Router()
	h = handler.Timeout(cfg.Server.RequestTimeout)(h)
	h = handler.CORS([]string{"*"})(h)
	h = handler.Recovery(log)(h)
	h = handler.Logger(log)(h)
	h = handler.RequestID(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/composer-registry/server/internal/adapters/auth"
	"github.com/composer-registry/server/internal/adapters/metadata"
	"github.com/composer-registry/server/internal/adapters/storage"
	"github.com/composer-registry/server/internal/api/handlers"
	"github.com/composer-registry/server/internal/composer"
	"github.com/composer-registry/server/internal/config"
	"github.com/composer-registry/server/internal/upstream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "composer-registry").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize blob storage.
	blobs, err := storage.NewDiskBlobStorage(cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize blob storage")
	}

	// Initialize the component catalog.
	catalog, err := metadata.NewSQLiteCatalog(cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize catalog")
	}
	defer catalog.Close()

	// Initialize authenticator for the write endpoints.
	authenticator := auth.NewTokenAuth(cfg.Auth.Tokens)

	// Initialize the document processor and its collaborators.
	extractor := composer.NewZipExtractor()
	proc := composer.NewProcessor(blobs, extractor, logger)
	client := upstream.NewHTTPClient(30 * time.Second)

	handler := handlers.New(cfg.Repository, proc, extractor, blobs, catalog, authenticator, client, logger)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler.Router(),
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("shutting down server")
		srv.Close()
	}()

	logger.Info().
		Str("addr", addr).
		Str("mode", cfg.Repository.Mode).
		Str("base_url", cfg.Repository.URL()).
		Msg("starting Composer registry server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}
}

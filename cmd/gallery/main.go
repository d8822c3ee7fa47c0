package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zots0127/gallery/internal/alias"
	"github.com/zots0127/gallery/internal/api"
	"github.com/zots0127/gallery/internal/auth"
	"github.com/zots0127/gallery/internal/media"
	"github.com/zots0127/gallery/internal/quota"
	"github.com/zots0127/gallery/internal/repository"
	"github.com/zots0127/gallery/internal/storage"
	"github.com/zots0127/gallery/internal/thumbs"
	"github.com/zots0127/gallery/internal/upload"
	"github.com/zots0127/gallery/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	repo, err := repository.New(cfg.Storage.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer repo.Close()

	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	publisher := alias.New(store.SymlinksRoot())
	ledger := quota.NewLedger(repo, cfg.Quota)

	generator := thumbs.NewGenerator(repo, store, publisher, cfg.Thumbs)
	generator.Start(ctx, cfg.Thumbs.Workers)
	defer generator.Stop()

	admission := upload.NewAdmission(store, ledger, repo, cfg.Quota, cfg.Thumbs.MaxAvatarSize)
	admission.StartJanitor(ctx)

	mediaSvc := media.NewService(repo, store, publisher, generator, ledger)
	mediaSvc.StartSweeper(ctx, cfg.Storage.SweepInterval)

	authSvc := auth.NewService(repo, nil, cfg.Auth)

	if level > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	handler := api.NewHandler(admission, mediaSvc, authSvc, ledger, store, cfg)
	handler.RegisterRoutes(router)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("starting server")
	if err := router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

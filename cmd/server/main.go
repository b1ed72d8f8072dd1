package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/org/envvault/internal/api"
	"github.com/org/envvault/internal/audit"
	"github.com/org/envvault/internal/auth"
	"github.com/org/envvault/internal/core"
	"github.com/org/envvault/internal/ledger"
	"github.com/org/envvault/internal/policy"
	"github.com/org/envvault/internal/rotation"
	"github.com/org/envvault/internal/storage"
	"github.com/org/envvault/internal/vault"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("ENVVAULT_CONFIG"); v != "" {
		cfgFile = v
	}
	cfg, found, err := loadConfig(cfgFile, os.Getenv)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if !found {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open storage")
	}
	defer store.Close()

	var opts []vault.Option
	if cfg.MasterKey != "" {
		kr, err := core.NewKeyringFromBase64(cfg.MasterKey)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid master key")
		}
		defer kr.Lock()
		opts = append(opts, vault.WithCodec(kr))
		log.Info().Msg("at-rest encryption enabled")
	} else {
		log.Warn().Msg("no master key configured, values are stored as sent")
	}

	auditLog := audit.NewLogger(store, log.Logger)
	tokens := auth.NewTokenService(store)
	scheduler := rotation.NewScheduler(store)
	engine := vault.New(store, ledger.New(store, cfg.Ledger, log.Logger), log.Logger,
		append(opts, vault.WithAudit(auditLog), vault.WithPagination(cfg.Pagination))...)

	if cfg.Bootstrap || cfg.Storage.Driver == "memory" {
		_, plaintext, err := tokens.CreateToken(ctx, "root", []string{storage.PolicyRoot}, 0)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create root token")
		}
		log.Warn().Str("token", plaintext).Msg("root token created; store it now, it is not shown again")
	}

	srv := api.NewServer(api.Deps{
		Store:     store,
		Tokens:    tokens,
		Gate:      policy.NewEngine(store),
		Vault:     engine,
		Audit:     auditLog,
		Scheduler: scheduler,
	}, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		RateLimit:   cfg.RateLimit.RequestsPerSecond,
		RateBurst:   cfg.RateLimit.Burst,
		Pagination:  cfg.Pagination,
	})
	poller := rotation.NewPoller(scheduler, rotation.LogNotifier{Logger: log.Logger}, cfg.Rotation.PollInterval, log.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return poller.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info().Str("addr", cfg.ListenAddr).Str("driver", cfg.Storage.Driver).Msg("server started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

// openStore connects the configured backend, applying migrations for postgres.
func openStore(ctx context.Context, cfg storageConfig) (storage.Backend, error) {
	switch cfg.Driver {
	case "sqlite":
		return storage.OpenSQLite(ctx, cfg.SQLitePath)
	case "memory":
		log.Warn().Msg("using in-memory storage; data is lost on exit")
		return storage.NewMemoryBackend(), nil
	default:
		if _, err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir, log.Logger); err != nil {
			return nil, err
		}
		return storage.NewPostgresBackend(ctx, cfg.DBUrl)
	}
}

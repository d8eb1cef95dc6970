package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"reportdesk/api/internal/app"
	"reportdesk/api/internal/archive"
	"reportdesk/api/internal/blob"
	"reportdesk/api/internal/config"
	"reportdesk/api/internal/export"
	"reportdesk/api/internal/report"
	"reportdesk/api/internal/search"
	"reportdesk/api/internal/store"
)

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "reportdesk-api",
		Short:        "Report editing and approval API",
		SilenceUsage: true,
		RunE:         runServer,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to a YAML config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServer,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations and exit",
		RunE:  runMigrate,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the Meilisearch index from Postgres snapshots",
		RunE:  runReindex,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("parse log level: %w", err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	return cfg, logger, nil
}

// backend is the report store plus what it needs closed on exit.
type backend struct {
	store   report.Store
	pgfts   *search.PgFTS
	closers []io.Closer
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i].Close()
	}
}

func openBackend(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*backend, error) {
	b := &backend{}
	switch cfg.Store {
	case config.StorePostgres:
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL, store.PoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		b.closers = append(b.closers, db)
		if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		b.store = store.NewPostgresStore(db)
		b.pgfts = search.NewPgFTS(db)
	case config.StoreRedis:
		redisStore, err := store.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		b.closers = append(b.closers, redisStore)
		b.store = redisStore
	case config.StoreBadger:
		badgerStore, err := store.OpenBadger(cfg.BadgerPath, logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, badgerStore)
		b.store = badgerStore
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store)
	}
	logger.Info().Str("store", cfg.Store).Msg("report store ready")
	return b, nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx := logger.WithContext(cmd.Context())

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	exporter := export.NewService(b.store, export.WithLogger(logger.With().Str("component", "export").Logger()))

	var archiveSvc *archive.Service
	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			return fmt.Errorf("create archive dir: %w", err)
		}
		archiveSvc = archive.New(cfg.ArchiveDir, logger.With().Str("component", "archive").Logger())
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.With().Str("component", "meili").Logger())
		defer meiliClient.Close()
	}
	var searchSvc *search.Service
	if meiliClient != nil || b.pgfts != nil {
		searchSvc = search.NewService(meiliClient, b.pgfts, logger.With().Str("component", "search").Logger())
	}

	if meiliClient != nil && b.pgfts != nil {
		go searchSvc.ReindexAllFromPG(ctx)
	}

	var hooks []report.SnapshotHook
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := blob.New(blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, logger.With().Str("component", "blob").Logger())
		if err != nil {
			return fmt.Errorf("object storage: %w", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("object storage: %w", err)
		}
		hooks = append(hooks, blob.NewArtifactHook(objects, exporter, nil, logger.With().Str("component", "artifacts").Logger()))
	}

	service := app.NewService(app.Deps{
		Store:         b.store,
		Archive:       archiveSvc,
		Search:        searchSvc,
		Exporter:      exporter,
		Hooks:         hooks,
		AutosaveDelay: cfg.AutosaveDelay,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("reportdesk API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	service.Shutdown(shutdownCtx)
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("migrate needs the postgres store, configured %q", cfg.Store)
	}
	db, err := store.OpenPostgres(cmd.Context(), cfg.DatabaseURL, store.PoolConfig{MaxOpen: 2})
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir, logger)
	if err != nil {
		return err
	}
	logger.Info().Int("applied", applied).Msg("migrations complete")
	return nil
}

func runReindex(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.MeiliURL) == "" {
		return errors.New("reindex needs meili_url")
	}
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("reindex reads snapshots from postgres, configured %q", cfg.Store)
	}
	db, err := store.OpenPostgres(cmd.Context(), cfg.DatabaseURL, store.PoolConfig{MaxOpen: 2})
	if err != nil {
		return err
	}
	defer db.Close()

	meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	defer meiliClient.Close()
	search.NewService(meiliClient, search.NewPgFTS(db), logger).ReindexAllFromPG(cmd.Context())
	return nil
}

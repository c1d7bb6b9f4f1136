package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"archgen/internal/adapter/repo"
	"archgen/internal/assets"
	"archgen/internal/cache"
	"archgen/internal/database"
	"archgen/internal/errclass"
	"archgen/internal/http/handlers"
	"archgen/internal/http/httpapi"
	"archgen/internal/infra"
	"archgen/internal/infra/credentials"
	"archgen/internal/lifecycle"
	"archgen/internal/metrics"
	"archgen/internal/providers/generation"
	"archgen/internal/storage"
)

func main() {
	// .env is optional outside development.
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx := context.Background()

	migrator, err := database.NewMigrator(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open migrator")
	}
	if err := migrator.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	_ = migrator.Close()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	sqlRunner := infra.NewSQLRunner(dbpool, logger)

	var (
		store     storage.ObjectStore
		staticDir string
	)
	if cfg.UsesSupabase() {
		store, err = storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.StorageBucket)
	} else {
		var fs *storage.FileStore
		fs, err = storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if fs != nil {
			store, staticDir = fs, fs.BasePath()
		}
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object storage")
	}

	apiKey, source, err := credentials.NewStore(sqlRunner).ResolveGeneratorAPIKey(ctx, cfg.GeneratorAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("could not load stored generator key")
	}
	logger.Info().Str("source", string(source)).Str("fingerprint", credentials.Fingerprint(apiKey)).Msg("generator key resolved")
	generator, err := generation.NewClient(generation.Options{
		BaseURL: cfg.GeneratorBaseURL,
		APIKey:  apiKey,
		Model:   cfg.GeneratorModel,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init generation client")
	}

	m := metrics.New()
	blobs := cache.NewBlobCache(cfg.BlobCacheSize, cfg.BlobCacheTTL)
	markers := cache.NewMarkers(0, time.Hour)
	persister := assets.New(assets.Options{
		Store:        store,
		Blobs:        blobs,
		HTTPClient:   &http.Client{Timeout: 2 * time.Minute},
		ProxyBaseURL: cfg.ProxyBaseURL,
		MaxDimension: cfg.MaxAssetDimension,
		Logger:       logger,
		Metrics:      m,
	})

	jobs := repo.NewJobRepository(sqlRunner, repo.JobOptions{
		Persister:  persister,
		Markers:    markers,
		Logger:     logger,
		Retries:    cfg.JobCreateRetries,
		RetryDelay: 250 * time.Millisecond,
	})
	ledger := repo.NewCreditLedger(sqlRunner, logger)
	tools := repo.NewToolRepository(sqlRunner)

	manager := lifecycle.NewManager(lifecycle.ManagerOptions{
		Jobs:        jobs,
		Ledger:      ledger,
		Generator:   generator,
		Persister:   persister,
		Markers:     markers,
		Classifier:  errclass.New(logger),
		Metrics:     m,
		Logger:      logger,
		Concurrency: cfg.GenerationConcurrency,
	})
	reaper := lifecycle.NewReaper(lifecycle.ReaperOptions{
		Jobs:           jobs,
		Ledger:         ledger,
		Tools:          tools,
		Metrics:        m,
		Logger:         logger,
		Threshold:      cfg.StuckJobThreshold,
		VideoThreshold: cfg.VideoJobThreshold,
	})

	app := handlers.NewApp(handlers.Options{
		Config:  cfg,
		Logger:  logger,
		Jobs:    jobs,
		Ledger:  ledger,
		Tools:   tools,
		Runner:  manager,
		Sweeper: reaper,
		Blobs:   blobs,
		Markers: markers,
	})
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Config:    cfg,
		Logger:    logger,
		Metrics:   m.Handler(),
		StaticDir: staticDir,
	})

	server := infra.NewHTTPServer(cfg, router)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Msgf("API listening on :%s", cfg.Port)
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
		return
	}
	logger.Info().Msg("server stopped")
}

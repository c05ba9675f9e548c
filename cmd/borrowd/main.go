package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"

	"borrow-analytics-backend/config"
	"borrow-analytics-backend/internal/api"
	"borrow-analytics-backend/internal/category"
	"borrow-analytics-backend/internal/db"
	"borrow-analytics-backend/internal/interval"
	"borrow-analytics-backend/internal/metrics"
	"borrow-analytics-backend/internal/mw"
	"borrow-analytics-backend/internal/notification"
	"borrow-analytics-backend/internal/refresh"
	"borrow-analytics-backend/internal/source"
	"borrow-analytics-backend/internal/store"
)

func main() {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "./config/config.yaml" // Default path for local development
	}
	configPath := flag.String("config", defaultConfig, "path to the YAML configuration")
	loadHistorical := flag.Bool("load-historical", false, "load the historical export and exit")
	refreshOnce := flag.Bool("refresh-once", false, "run one live refresh and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load configuration")
	}
	logger := newLogger(cfg.Logging)
	logger.Info().Str("path", *configPath).Msg("configuration loaded")

	if err := run(cfg, logger, *loadHistorical, *refreshOnce); err != nil {
		logger.Fatal().Err(err).Msg("borrowd stopped")
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", "borrowd").Logger()
}

func gormLevel(l zerolog.Level) gormlogger.LogLevel {
	switch {
	case l <= zerolog.DebugLevel:
		return gormlogger.Info
	case l <= zerolog.WarnLevel:
		return gormlogger.Warn
	}
	return gormlogger.Error
}

func run(cfg *config.Config, logger zerolog.Logger, loadHistorical, refreshOnce bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gormDB, err := db.Init(&cfg.Database, gormLevel(logger.GetLevel()), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	appStore := store.NewGormStore(gormDB)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var mapper *category.Mapper
	if path := cfg.Sources.CategoryMapFile; path != "" {
		if mapper, err = category.LoadFile(path); err != nil {
			return fmt.Errorf("failed to load category map: %w", err)
		}
		logger.Info().Str("file", path).Int("entries", mapper.Len()).Msg("category map loaded")
	}

	var live refresh.LiveSource
	if cfg.Sources.SpreadsheetID != "" {
		sheets, err := source.NewGoogleSheets(ctx, cfg.Sources.SpreadsheetID, cfg.Sources.CredentialsFile)
		if err != nil {
			return err
		}
		live = source.NewLiveLoader(sheets, cfg.Sources.Tabs, mapper, logger)
	} else {
		logger.Warn().Msg("no spreadsheet configured, live refresh disabled")
	}

	var historical refresh.HistoricalSource
	if cfg.Sources.HistoricalFile != "" {
		historical = source.NewHistoricalLoader(cfg.Sources.HistoricalFile, cfg.Sources.HistoricalLayouts, cfg.Sources.Location, logger)
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}
	var notifier refresh.Notifier
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions, m, logger)
		pool.Start(ctx)
		notifier = pool
	} else {
		logger.Warn().Msg("VAPID keys not configured, availability notifications disabled")
	}

	svc := refresh.NewService(cfg, appStore, live, historical, notifier, m, logger)
	responseCache := mw.NewResponseCache(time.Duration(cfg.Server.CacheTTLSeconds) * time.Second)
	svc.OnSuccess(responseCache.Flush)

	switch {
	case loadHistorical:
		_, err := svc.LoadHistorical(ctx)
		return err
	case refreshOnce:
		_, err := svc.RefreshOnce(ctx)
		return err
	}

	if historical != nil {
		if err := loadHistoricalIfEmpty(ctx, appStore, svc, logger); err != nil {
			logger.Error().Err(err).Msg("initial historical load failed")
		}
	}
	if live != nil {
		go func() {
			if err := svc.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("refresh service stopped")
			}
		}()
	}

	var refresher api.Refresher
	if live != nil {
		refresher = svc
	}
	handler := api.NewHandler(appStore, &webpushOptions, refresher, cfg.Sources, logger)
	router := api.NewRouter(handler, cfg, responseCache, reg, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	logger.Info().Msg("server gracefully stopped")
	return nil
}

// loadHistoricalIfEmpty loads the export on first start only; later reloads
// go through -load-historical.
func loadHistoricalIfEmpty(ctx context.Context, st store.Store, svc *refresh.Service, logger zerolog.Logger) error {
	stats, err := st.Statistics(ctx)
	if err != nil {
		return err
	}
	if stats.BySource[string(interval.SourceHistorical)] > 0 {
		return nil
	}
	logger.Info().Msg("no historical records stored, loading export")
	_, err = svc.LoadHistorical(ctx)
	return err
}

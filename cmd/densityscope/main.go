package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rewired-gh/densityscope/internal/api"
	"github.com/rewired-gh/densityscope/internal/binance"
	"github.com/rewired-gh/densityscope/internal/config"
	"github.com/rewired-gh/densityscope/internal/density"
	"github.com/rewired-gh/densityscope/internal/logger"
	"github.com/rewired-gh/densityscope/internal/models"
	"github.com/rewired-gh/densityscope/internal/monitor"
	"github.com/rewired-gh/densityscope/internal/retry"
	"github.com/rewired-gh/densityscope/internal/storage"
	"github.com/rewired-gh/densityscope/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if cfg.Logging.File != "" {
		if err := logger.SetFile(logger.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   true,
		}); err != nil {
			logger.Fatal("Failed to set up log file: %v", err)
		}
	}
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	upstream := binance.NewClient(binance.ClientConfig{
		BaseURL:             cfg.Binance.BaseURL,
		Timeout:             cfg.Binance.Timeout,
		RequestsPerSecond:   cfg.Binance.RequestsPerSecond,
		Burst:               cfg.Binance.Burst,
		MaxIdleConns:        cfg.Binance.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Binance.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Binance.IdleConnTimeout,
	})

	history := storage.NewHistory(storage.Options{
		TTL:                  cfg.History.TTL,
		RelocateTolerancePct: cfg.Density.DisplayGapPct,
		RelocateMinAge:       cfg.History.RelocateMinAge,
		TouchThresholdPct:    cfg.History.TouchThresholdPct,
	})
	go history.Run(ctx, cfg.History.SweepInterval)

	var telegramClient *telegram.Client
	var notifier monitor.Notifier
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	mon := monitor.New(history, upstream, notifier, monitorConfig(cfg))

	if telegramClient != nil {
		telegramClient.SetTopProvider(func() []models.Density {
			if latest := mon.Latest(); latest != nil {
				return latest.Data
			}
			return nil
		})
		telegramClient.ListenForCommands(ctx)
	}

	hub := api.NewHub()
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewServer(mon, hub, cfg.Server.StaticDir).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("HTTP server listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed: %v", err)
		}
	}()

	if cfg.Scan.Interval > 0 {
		runScanLoop(ctx, mon, hub, telegramClient, cfg)
	} else {
		<-ctx.Done()
	}

	logger.Info("Shutdown signal received, cleaning up...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown: %v", err)
	}
	mon.Shutdown()
	logger.Info("Service stopped")
}

func monitorConfig(cfg *config.Config) monitor.Config {
	mc := monitor.DefaultConfig()
	mc.Params = density.Params{
		CalibrationGapPct:  cfg.Density.CalibrationGapPct,
		DisplayGapPct:      cfg.Density.DisplayGapPct,
		MinClusterNotional: cfg.Density.MinClusterNotional,
		MinClusterLevels:   cfg.Density.MinClusterLevels,
		DefaultBase:        cfg.Density.DefaultBase,
	}
	mc.KlineInterval = cfg.Scan.KlineInterval
	mc.KlineLimit = cfg.Scan.KlineLimit
	mc.Retry = retry.Policy{
		Attempts:  cfg.Binance.RetryAttempts,
		BaseDelay: cfg.Binance.RetryBaseDelay,
		MaxDelay:  cfg.Binance.RetryMaxDelay,
		Retryable: binance.IsRetryable,
	}
	mc.AlertMinScore = cfg.Alerts.MinScore
	mc.AlertMaxDistancePct = cfg.Alerts.MaxDistancePct
	mc.AlertCooldown = cfg.Alerts.Cooldown
	mc.CacheTTL = cfg.Cache.TTL
	mc.PollTimeout = cfg.Scan.PollTimeout
	mc.Excluded = cfg.Scan.Excluded
	mc.DefaultQuery = defaultQuery(cfg)
	return mc
}

func defaultQuery(cfg *config.Config) models.Query {
	return models.Query{
		MinNotional:    cfg.Scan.MinNotional,
		WindowPct:      cfg.Scan.WindowPct,
		DepthLimit:     cfg.Scan.DepthLimit,
		Concurrency:    cfg.Scan.Concurrency,
		LimitSymbols:   cfg.Scan.LimitSymbols,
		SeedMultiplier: cfg.Scan.SeedMultiplier,
		TopPerSide:     cfg.Scan.TopPerSide,
	}
}

// runScanLoop scans with the default query on every tick, pushes results to
// websocket clients and reports failure streaks over Telegram.
func runScanLoop(ctx context.Context, mon *monitor.Monitor, hub *api.Hub, telegramClient *telegram.Client, cfg *config.Config) {
	logger.Info("Starting background scans (interval: %v, symbols: %d, concurrency: %d)",
		cfg.Scan.Interval, cfg.Scan.LimitSymbols, cfg.Scan.Concurrency)

	ticker := time.NewTicker(cfg.Scan.Interval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Scan cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && telegramClient != nil {
			if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	runCycle := func() error {
		start := time.Now()
		res, err := mon.Scan(ctx, defaultQuery(cfg))
		if err != nil {
			return err
		}
		hub.Broadcast("scan", res)
		logger.Info("Scan cycle completed in %v: %d densities", time.Since(start), res.Count)
		return nil
	}

	handleCycleResult(runCycle())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handleCycleResult(runCycle())
		}
	}
}

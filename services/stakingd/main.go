package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	poolconfig "stakepool/config"
	"stakepool/core/events"
	"stakepool/gateway/middleware"
	"stakepool/integrations/webhooks"
	"stakepool/native/bank"
	nativecommon "stakepool/native/common"
	"stakepool/native/staking"
	"stakepool/observability"
	"stakepool/observability/logging"
	"stakepool/observability/metrics"
	telemetry "stakepool/observability/otel"
	"stakepool/services/stakingd/config"
	"stakepool/services/stakingd/server"
	journalstore "stakepool/services/stakingd/storage"
	"stakepool/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/stakingd/config.yaml", "path to stakingd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("stakingd: load config: %v", err)
	}
	logger := logging.SetupWithOptions(logging.Options{
		Service:    "stakingd",
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	logger.Info("stakingd: starting",
		slog.String("listen", cfg.ListenAddress),
		slog.Bool("auth", cfg.Auth.Enabled),
		logging.MaskField("hmac_secret", cfg.Auth.HMACSecret),
		slog.String("webhook", cfg.Webhook.URL),
		logging.MaskField("webhook_secret", cfg.Webhook.Secret))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "stakingd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("stakingd: init telemetry: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(flushCtx)
	}()

	poolCfg, err := poolconfig.Load(cfg.PoolConfigPath)
	if err != nil {
		log.Fatalf("stakingd: load pool config: %v", err)
	}
	params, err := poolCfg.Params()
	if err != nil {
		log.Fatalf("stakingd: pool params: %v", err)
	}
	initialRate, err := poolCfg.RewardRate()
	if err != nil {
		log.Fatalf("stakingd: initial reward rate: %v", err)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		log.Fatalf("stakingd: open state: %v", err)
	}
	defer db.Close()

	ledger := bank.NewLedger(db, params.StakeAsset, params.RewardAsset)
	if applied, err := applyGenesis(db, ledger, cfg.Genesis); err != nil {
		log.Fatalf("stakingd: apply genesis: %v", err)
	} else if applied {
		logger.Info("stakingd: genesis allocations minted", slog.Int("count", len(cfg.Genesis)))
	}
	stakeToken, err := ledger.Token(params.StakeAsset)
	if err != nil {
		log.Fatalf("stakingd: stake asset: %v", err)
	}
	rewardToken, err := ledger.Token(params.RewardAsset)
	if err != nil {
		log.Fatalf("stakingd: reward asset: %v", err)
	}

	engine := staking.NewEngine(params, storage.NewPoolStore(db), stakeToken, rewardToken)
	engine.SetLogger(logger)
	engine.SetMetrics(observability.Staking())
	pauses := nativecommon.NewPauseSet(poolCfg.Pauses.PausedModules()...)
	if paused := pauses.Paused(); len(paused) > 0 {
		logger.Warn("stakingd: modules paused by pool config", slog.Any("modules", paused))
	}
	engine.SetPauses(pauses)
	if err := engine.Bootstrap(initialRate); err != nil {
		log.Fatalf("stakingd: bootstrap pool: %v", err)
	}

	dsn, err := journalstore.FileDSN(cfg.JournalPath)
	if err != nil {
		log.Fatalf("stakingd: resolve journal DSN: %v", err)
	}
	journal, err := journalstore.Open(dsn)
	if err != nil {
		log.Fatalf("stakingd: open journal: %v", err)
	}
	defer journal.Close()

	eventMetrics := observability.Events()
	hub := server.NewHub(eventMetrics)
	recorder := server.NewJournalRecorder(journal, hub, eventMetrics, logger)
	defer recorder.Close()
	emitters := events.MultiEmitter{recorder}
	if cfg.Webhook.URL != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret),
			webhooks.WithLogger(logger),
			webhooks.WithDropRecorder(eventMetrics),
			webhooks.WithFailureRecorder(metrics.Reserve()),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, cfg.Webhook.MinBackoff.Duration, cfg.Webhook.MaxBackoff.Duration))
		if err != nil {
			log.Fatalf("stakingd: webhook dispatcher: %v", err)
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
	}
	engine.SetEmitter(emitters)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}, logger)
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		server.LimitRead: {
			RatePerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:         cfg.RateLimit.Burst,
			DefaultTokens: 1,
		},
		server.LimitWrite: {
			RatePerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:         cfg.RateLimit.Burst,
			DefaultTokens: cfg.RateLimit.WriteTokens,
		},
	}, logger)
	limiter.SetMetrics(observability.ModuleMetrics())
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "stakingd",
		Module:      "staking",
		LogRequests: cfg.Environment == "dev",
		Enabled:     true,
	}, observability.ModuleMetrics(), logger)

	rewardPrice, stakePrice := cfg.Prices.PriceInputs()
	srv, err := server.New(server.Config{
		ListenAddress:   cfg.ListenAddress,
		ServiceName:     "stakingd",
		ShutdownTimeout: cfg.ShutdownTimeout.Duration,
		RewardPrice:     rewardPrice,
		StakePrice:      stakePrice,
		CORSOrigins:     cfg.CORSOrigins,
		ExportLimit:     cfg.ExportLimit,
		FaucetAmount:    cfg.Faucet(),
	}, server.Deps{
		Engine:        engine,
		Ledger:        ledger,
		Journal:       journal,
		Hub:           hub,
		Auth:          auth,
		Limiter:       limiter,
		Observability: obs,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("stakingd: build server: %v", err)
	}

	monitor := server.NewMonitor(engine, cfg.InvariantInterval.Duration, metrics.Reserve(), logger)
	go func() {
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("stakingd: invariant monitor stopped", slog.Any("error", err))
		}
	}()

	if err := srv.Run(ctx); err != nil {
		logger.Error("stakingd: server exited", slog.Any("error", err))
		stop()
		return
	}
	logger.Info("stakingd: shut down")
}

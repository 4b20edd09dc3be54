package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"moto-alarm/ingestion/internal/alarm"
	"moto-alarm/ingestion/internal/auth"
	"moto-alarm/ingestion/internal/config"
	"moto-alarm/ingestion/internal/ingest"
	"moto-alarm/ingestion/internal/live"
	"moto-alarm/ingestion/internal/logging"
	"moto-alarm/ingestion/internal/monitor"
	"moto-alarm/ingestion/internal/notify"
	"moto-alarm/ingestion/internal/pipeline"
	"moto-alarm/ingestion/internal/store"
	httptransport "moto-alarm/ingestion/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// sampleStore is what both storage backends provide.
type sampleStore interface {
	ingest.SampleStore
	notify.RecordStore
	pipeline.AccessLogStore
	httptransport.AccessLogReader
	httptransport.SampleHistory
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid_config", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("service_failed", "error", err)
		os.Exit(1)
	}
	logger.Info("service_stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var samples sampleStore
	switch cfg.StorageBackend {
	case "memory":
		logger.Warn("memory_storage_enabled", "note", "samples and access logs are lost on restart")
		samples = store.NewMemoryStore()
	default:
		db, err := store.NewTimescaleStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		samples = db
	}

	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.PushoverEnabled() {
		sender = notify.NewPushoverSender(cfg.PushoverAppToken, cfg.PushoverUserKey)
	} else {
		logger.Warn("pushover_disabled", "note", "notifications are only logged")
	}
	throttler := notify.NewThrottler(samples, logger)
	notifications := notify.NewDispatcher(sender, cfg.NotificationChannelSize, logger)
	notifier := notify.NewNotifier(throttler, notifications)

	registry := alarm.NewRegistry(rdb, logger)
	dispatcher := pipeline.NewDispatcher(cfg.StateChannelSize, cfg.AccessLogChannelSize)

	svc := ingest.NewService(registry, samples, notifier, dispatcher, ingest.Options{
		LowBatteryPercent: cfg.IngestLowBatteryPercent,
		AlarmCategory:     notify.AlarmTriggered.WithInterval(cfg.AlarmNotifyInterval),
	}, logger)

	connectivity := monitor.NewConnectivityMonitor(cfg.DefaultEntityID, samples, notifier,
		cfg.ConnectivityCheckEvery, cfg.ConnectivityThreshold, logger)
	battery := monitor.NewBatteryMonitor(cfg.DefaultEntityID, samples, notifier,
		cfg.BatteryCheckEvery, cfg.BatteryCheckThreshold, cfg.BatteryCheckMaxAge, logger)

	hub := live.NewHub(logger)

	router := httptransport.NewRouter(httptransport.Deps{
		Ingest:        svc,
		Registry:      registry,
		DeviceAuth:    auth.NewAuthenticator(cfg, rdb, logger),
		AdminAuth:     auth.NewAdminAuth(cfg.AdminUsername, cfg.AdminPasswordHash, cfg.JWTSecret, cfg.JWTTTL),
		Security:      rdb,
		AccessLogs:    samples,
		AccessLogSink: dispatcher,
		Samples:       samples,
		Records:       throttler,
		Notifier:      notifier,
		Connectivity:  connectivity,
		Battery:       battery,
		Live:          hub.ServeWS,
		DefaultEntity: cfg.DefaultEntityID,
		Logger:        logger,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { notifications.Run(gctx); return nil })
	for i := 0; i < cfg.StateWriterWorkers; i++ {
		w := pipeline.NewStateWriter(dispatcher.StateChan, rdb, logger)
		g.Go(func() error { w.Run(gctx); return nil })
	}
	for i := 0; i < cfg.AccessLogWriterWorkers; i++ {
		w := pipeline.NewAccessLogWriter(dispatcher.AccessLogChan, samples,
			cfg.AccessLogBatchSize, cfg.AccessLogFlushIntervalMS, logger)
		g.Go(func() error { w.Run(gctx); return nil })
	}
	g.Go(func() error { connectivity.Run(gctx); return nil })
	g.Go(func() error { battery.Run(gctx); return nil })
	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error {
		err := live.Relay(gctx, rdb.Client(), store.LivePattern, hub, logger)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("http_server_listening",
			"addr", srv.Addr,
			"storage", cfg.StorageBackend,
			"entity", cfg.DefaultEntityID,
			"trust_proxy_headers", cfg.TrustProxyHeaders,
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown_requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

var _ sampleStore = (*store.MemoryStore)(nil)
var _ sampleStore = (*store.TimescaleStore)(nil)

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logpkg "github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/common/logger"
	rediscommon "github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/common/redis"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/alerting"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/backend"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/cache"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/config"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/consumer"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/report"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/service"
	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/tracker"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "evidence-tracker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting evidence-tracker service", zap.String("transport", cfg.Transport))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis backs the stream transport, the notification stream and the
	// snapshot mirror; it is only dialed when one of them is enabled.
	var redisClient *redis.Client
	if cfg.Transport == config.TransportRedisStream || cfg.Notify.Stream != "" || cfg.Cache.Enabled {
		redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, redisClient); err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer rediscommon.Close(redisClient)
	}

	var transport consumer.Transport
	switch cfg.Transport {
	case config.TransportMQTT:
		transport = consumer.NewMQTTTransport(&cfg.MQTT, log)
	case config.TransportRedisStream:
		transport = consumer.NewRedisStreamTransport(redisClient, cfg.Tracker.EventStreamPrefix, 0, log)
	default:
		transport = consumer.NewWebSocketTransport(&cfg.WebSocket, log)
	}
	client := consumer.NewClient(transport, consumer.Options{QueueSize: cfg.Tracker.InboundQueueSize}, log)

	sinks := []alerting.Sink{alerting.NewLogSink(log)}
	if cfg.Notify.Stream != "" {
		sinks = append(sinks, alerting.NewRedisStreamSink(redisClient, cfg.Notify.Stream, cfg.Notify.StreamMaxLen))
	}
	notifier := alerting.NewAsyncNotifier(cfg.Notify.QueueSize, log, sinks...)
	notifier.Start(ctx)

	svc, err := service.NewTrackingService(client, backend.NewClient(&cfg.Backend, cfg.Token, log), service.Options{
		Credential:        cfg.Token,
		PathCapacity:      cfg.Tracker.PathCapacity,
		DuplicatePolicy:   tracker.DuplicatePolicy(cfg.Tracker.DuplicatePolicy),
		AlertCapacity:     cfg.Tracker.AlertCapacity,
		RecentAlertLimit:  cfg.Tracker.RecentAlertLimit,
		RefreshInterval:   cfg.Tracker.RefreshInterval,
		LostTimeout:       cfg.Tracker.LostTimeout,
		TagTTL:            cfg.Tracker.TagTTL,
		ReconcileAttempts: cfg.Tracker.ReconcileAttempts,
		ReconcileBackoff:  cfg.Tracker.ReconcileBackoff,
		Notifier:          notifier,
		OnDegraded: func(err error) {
			log.Warn("Serving stale tracking data", zap.Error(err))
		},
	}, log)
	if err != nil {
		log.Fatal("Failed to create tracking service", zap.Error(err))
	}

	var mirror *cache.Mirror
	mirrorDone := make(chan struct{})
	if cfg.Cache.Enabled {
		mirror = cache.NewMirror(cache.NewRedisStore(redisClient), svc, cfg.Cache.KeyPrefix, cfg.Cache.Interval, cfg.Cache.TTL, log)
		go func() {
			defer close(mirrorDone)
			mirror.Run(ctx)
		}()
	} else {
		close(mirrorDone)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := svc.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("Service error", zap.Error(err))
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := svc.Stop(stopCtx); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}
	notifier.Stop()

	<-mirrorDone
	if mirror != nil {
		// viewers see a stopped tracker as absent rather than stale
		if err := mirror.Clear(stopCtx); err != nil {
			log.Warn("Failed to clear mirrored snapshots", zap.Error(err))
		}
	}

	if cfg.Export.Path != "" {
		snapshot := report.Snapshot{
			Sessions: svc.SnapshotSessions(),
			Alerts:   svc.SnapshotAlerts(),
			Tags:     svc.SnapshotTags(),
		}
		if err := report.WriteFile(cfg.Export.Path, snapshot); err != nil {
			log.Error("Failed to export report", zap.Error(err))
		} else {
			log.Info("Exported tracking report", zap.String("path", cfg.Export.Path))
		}
	}

	log.Info("Service stopped")
}

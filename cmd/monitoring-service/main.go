package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"monitoring-service/internal/alert"
	"monitoring-service/internal/config"
	"monitoring-service/internal/events"
	"monitoring-service/internal/httpapi"
	"monitoring-service/internal/ingest"
	"monitoring-service/internal/mqtt"
	"monitoring-service/internal/store"
)

func main() {
	godotenv.Load()

	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if strings.TrimSpace(cfg.MQTTBrokerURL) == "" {
		slog.Error("missing required env", "key", "MQTT_BROKER_URL")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.Postgres.User) == "" {
		slog.Error("missing required env", "key", "POSTGRES_USER")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.Postgres.DBName) == "" {
		slog.Error("missing required env", "key", "POSTGRES_DB")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.Postgres.Host) == "" {
		slog.Error("missing required env", "key", "POSTGRES_HOST")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.Postgres.Port) == "" {
		slog.Error("missing required env", "key", "POSTGRES_PORT")
		os.Exit(1)
	}

	db, err := store.OpenPostgres(cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.SSLMode)
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	repo, err := store.New(db)
	if err != nil {
		slog.Error("db migrate failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub()
	pipeline := ingest.NewPipeline(repo, hub, cfg.StoreTimeout)

	var notifier alert.Notifier
	if cfg.NotifierURL != "" {
		notifier = alert.NewHTTPNotifier(cfg.NotifierURL, nil)
	}
	evaluator := &alert.Evaluator{Repo: repo, Notifier: notifier, Hub: hub, StoreTimeout: cfg.StoreTimeout}

	mq, err := mqtt.Connect(cfg.MQTTBrokerURL, cfg.MQTTClientID)
	if err != nil {
		slog.Error("mqtt connect failed", "error", err)
		os.Exit(1)
	}
	defer mq.Close()

	ing := &ingest.Ingestor{Pipeline: pipeline, Evaluator: evaluator, TopicPrefix: cfg.TopicPrefix, AllowRetains: cfg.IngestRetained}
	subTopic := strings.TrimRight(cfg.TopicPrefix, "/") + "/#"
	if err := mq.Subscribe(subTopic, func(m mqtt.Message) {
		ing.HandleMessage(ctx, m)
	}); err != nil {
		slog.Error("mqtt subscribe failed", "topic", subTopic, "error", err)
		os.Exit(1)
	}
	slog.Info("telemetry ingest subscribed", "topic", subTopic)

	sweeper := &alert.Sweeper{Repo: repo, Evaluator: evaluator, OfflineAfter: cfg.OfflineAfter}
	cr := cron.New()
	if _, err := cr.AddFunc(cfg.SweepSchedule, func() {
		if err := sweeper.Sweep(ctx); err != nil {
			slog.Warn("offline sweep failed", "error", err)
		}
	}); err != nil {
		slog.Error("invalid sweep schedule", "schedule", cfg.SweepSchedule, "error", err)
		os.Exit(1)
	}
	cr.Start()
	defer cr.Stop()

	srv := httpapi.New(repo, pipeline, evaluator, hub)
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("monitoring-service listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	slog.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	cancel()
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

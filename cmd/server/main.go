package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/viniciushammett/go-log-analytics/internal/analytics"
	"github.com/viniciushammett/go-log-analytics/internal/api"
	"github.com/viniciushammett/go-log-analytics/internal/ingest"
	"github.com/viniciushammett/go-log-analytics/internal/logger"
	"github.com/viniciushammett/go-log-analytics/internal/metrics"
	"github.com/viniciushammett/go-log-analytics/internal/notify"
	"github.com/viniciushammett/go-log-analytics/internal/store"
	"github.com/viniciushammett/go-log-analytics/internal/tracing"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Uploads struct {
		Dir   string `yaml:"dir"`
		MaxMB int    `yaml:"maxMB"`
	} `yaml:"uploads"`
	AuthToken string `yaml:"authToken"`
	Slack     struct {
		Enabled bool   `yaml:"enabled"`
		Webhook string `yaml:"webhook"`
	} `yaml:"slack"`
	Tracing struct {
		Enabled      bool    `yaml:"enabled"`
		ServiceName  string  `yaml:"serviceName"`
		OTLPEndpoint string  `yaml:"otlpEndpoint"`
		SampleRatio  float64 `yaml:"sampleRatio"`
	} `yaml:"tracing"`
}

func main() {
	log := logger.New(env("LOG_LEVEL", "info"))
	cfgPath := env("CONFIG_PATH", "configs/config.yaml")

	var cfg Config
	if b, err := os.ReadFile(cfgPath); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			log.Fatal().Err(err).Str("path", cfgPath).Msg("parse config")
		}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/log-analytics.db"
	}

	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	closer, err := tracing.Init(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  first(cfg.Tracing.ServiceName, "go-log-analytics"),
		OTLPEndpoint: first(cfg.Tracing.OTLPEndpoint, "localhost:4317"),
		SampleRatio:  ifzero(cfg.Tracing.SampleRatio, 1.0),
	})
	if err != nil {
		log.Error().Err(err).Msg("tracing init failed")
	} else {
		defer func() { _ = closer(context.Background()) }()
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("open store")
	}
	defer db.Close()

	notifier := notify.NewSlack(cfg.Slack.Enabled, cfg.Slack.Webhook)

	runner := analytics.NewRunner(log, db, notifier)
	runner.Start(ctx)

	ing := ingest.New(log, db, runner)

	srv := api.NewServer(api.Deps{
		Log:       log,
		Store:     db,
		Ingest:    ing,
		Runner:    runner,
		AuthToken: cfg.AuthToken,
	}, api.Config{
		Addr:        cfg.Server.Addr,
		UploadDir:   first(cfg.Uploads.Dir, "uploads"),
		MaxUploadMB: cfg.Uploads.MaxMB,
	})
	log.Info().Str("addr", cfg.Server.Addr).Msg("server starting")
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func ifzero(f, def float64) float64 {
	if f == 0 {
		return def
	}
	return f
}

func first(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

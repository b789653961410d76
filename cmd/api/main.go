package main

import (
	"context"
	"log"
	"net/http"

	"go.uber.org/zap"

	"github.com/netprobe-io/netprobe/internal/alert"
	"github.com/netprobe-io/netprobe/internal/config"
	"github.com/netprobe-io/netprobe/internal/httpapi"
	apimw "github.com/netprobe-io/netprobe/internal/httpapi/middleware"
	"github.com/netprobe-io/netprobe/internal/logging"
	"github.com/netprobe-io/netprobe/internal/notify"
	"github.com/netprobe-io/netprobe/internal/repo"
	"github.com/netprobe-io/netprobe/internal/repo/memory"
	"github.com/netprobe-io/netprobe/internal/repo/postgres"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	var (
		results repo.ResultStore
		alerts  repo.AlertStore
	)
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres_connect", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("postgres_migrate", zap.Error(err))
		}
		results, alerts = pg, pg
		logger.Info("store", zap.String("backend", "postgres"))
	} else {
		mem := memory.New()
		results, alerts = mem, mem
		logger.Info("store", zap.String("backend", "memory"))
	}

	api := httpapi.NewServer(logger, results, httpapi.Defaults{
		Interval:             cfg.Interval,
		Timeout:              cfg.Timeout,
		Concurrency:          cfg.Concurrency,
		Window:               cfg.Window,
		ResolveFailThreshold: cfg.ResolveFailThreshold,
	})

	if slack := notify.NewSlack(cfg.SlackWebhook); slack != nil {
		alerter := alert.New(logger, api, alerts, notify.Multi{slack}, alert.Config{
			LossThreshold:   cfg.LossAlertThreshold,
			AlertOnRecovery: cfg.AlertOnRecovery,
			Cooldown:        cfg.AlertCooldown,
			PollInterval:    cfg.AlertPollInterval,
		})
		go func() {
			if err := alerter.Run(ctx); err != nil {
				logger.Error("alerter_stopped", zap.Error(err))
			}
		}()
	}

	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	router := api.Router(keys, cfg.AllowedOrigins,
		cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst)

	logger.Info("api_listen", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		log.Fatal(err)
	}
}

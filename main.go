package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"quoteflow/config"
	"quoteflow/engine"
	"quoteflow/gateway"
	"quoteflow/internal/channel/quoting"
	"quoteflow/internal/dashboard"
	"quoteflow/logger"
	"quoteflow/processor"
	"quoteflow/reader/binance"
	"quoteflow/reader/bybit"
	"quoteflow/state"
	"quoteflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	resolved := config.ResolveEnvSpecificPath(*configPath, "config/config.yml", map[string]string{
		config.EnvironmentProduction: "config/config.prod.yml",
		config.EnvironmentStaging:    "config/config.stag.yml",
	})
	cfg, err := config.LoadConfig(resolved)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Quoteflow.Name,
		"version": cfg.Quoteflow.Version,
		"symbol":  cfg.Strategy.Symbol,
	}).Info("starting quoteflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Storage.S3.Enabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Quoteflow.Name, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := quoting.NewChannels(
		cfg.Channels.MarketBuffer,
		cfg.Channels.PrivateBuffer,
		cfg.Channels.FillBuffer,
	)
	defer channels.Close()

	st := state.New(cfg.Strategy.Symbol, cfg.Strategy.AccountSize, cfg.Strategy.MaxKlines)
	gw := gateway.New(cfg.Gateway, cfg.Strategy.Symbol)

	marketFeed := bybit.NewMarketFeed(cfg, channels)
	privateFeed := bybit.NewPrivateFeed(cfg, channels, gw)
	applier := processor.NewApplier(cfg, channels, st)
	quoteEngine := engine.New(cfg, st, gw)

	var crossFeed *binance.CrossFeed
	if cfg.Source.Binance.Enabled {
		crossFeed = binance.NewCrossFeed(cfg, channels)
	}

	var recorder *writer.FillRecorder
	if cfg.Storage.S3.Enabled || cfg.Storage.Kafka.Enabled {
		recorder, err = writer.NewFillRecorder(cfg, channels.Fills)
		if err != nil {
			log.WithError(err).Error("failed to create fill recorder")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("fill sinks disabled; skipping recorder")
	}

	if err := applier.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start state applier")
		os.Exit(1)
	}
	if recorder != nil {
		if err := recorder.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start fill recorder")
			os.Exit(1)
		}
	}
	if err := marketFeed.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start market feed")
		os.Exit(1)
	}
	if err := privateFeed.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start private feed")
		os.Exit(1)
	}
	if crossFeed != nil {
		if err := crossFeed.Start(ctx); err != nil {
			log.WithError(err).Warn("cross-exchange feed failed to start")
			crossFeed = nil
		}
	}
	if err := quoteEngine.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start quote engine")
		os.Exit(1)
	}

	dash := dashboard.NewServer(cfg.Dashboard, st, channels)
	if dash != nil {
		go func() {
			if err := dash.Run(ctx); err != nil {
				log.WithError(err).Warn("dashboard server exited")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	// The engine cancels open quotes before the feeds wind down.
	log.Info("stopping quote engine")
	quoteEngine.Stop()

	if crossFeed != nil {
		log.Info("stopping cross-exchange feed")
		crossFeed.Stop()
	}

	log.Info("stopping private feed")
	privateFeed.Stop()

	log.Info("stopping market feed")
	marketFeed.Stop()

	log.Info("stopping state applier")
	applier.Stop()

	if recorder != nil {
		log.Info("stopping fill recorder")
		recorder.Stop()
	}

	log.Info("quoteflow stopped")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"pointaged/internal/alerts"
	"pointaged/internal/config"
	"pointaged/internal/database"
	"pointaged/internal/hub"
	"pointaged/internal/metrics"
	"pointaged/internal/registry"
	"pointaged/internal/web"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("pointaged v1.0.0\nBuild: %s\n", getBuildInfo())
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file": *configFile,
		"port":        cfg.Server.Port,
		"database":    cfg.Database.Path,
	}).Info("Starting pointage server")

	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	metricsCollector := metrics.NewCollector(store)

	reg := registry.New()
	eventHub := hub.New(cfg.Hub, cfg.Database.StoreTimeout, store, reg, metricsCollector)

	webServer := web.NewServer(cfg, store, eventHub, metricsCollector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Alerts.Enabled {
		sweeper := alerts.NewSweeper(store, cfg.Alerts, metricsCollector)
		go sweeper.Start(ctx)
	}

	go webServer.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Web server shutdown failed")
	}

	logrus.Info("Shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

func getBuildInfo() string {
	return "dev-build"
}

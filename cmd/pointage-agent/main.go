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

	"pointaged/internal/agent"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8000/ws/agent", "Server WebSocket URL")
	apiURL := flag.String("api", "http://localhost:8000", "Server HTTP base URL for the fallback path")
	identityPath := flag.String("identity", defaultIdentityPath(), "Identity file path")
	heartbeat := flag.Duration("heartbeat", 30*time.Second, "Heartbeat interval")
	logLevel := flag.String("log-level", "info", "Log level")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Println("pointage-agent v1.0.0")
		os.Exit(0)
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	a, err := agent.New(agent.Options{
		ServerURL:         *serverURL,
		APIURL:            *apiURL,
		IdentityPath:      *identityPath,
		HeartbeatInterval: *heartbeat,
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize agent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logrus.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	if err := a.Run(ctx); err != nil {
		logrus.Fatalf("Agent failed: %v", err)
	}

	logrus.Info("Agent stopped")
}

func defaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pointage-agent.json"
	}
	return home + "/.config/pointage-agent/identity.json"
}

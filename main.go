// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lighting-hub/internal/api"
	"lighting-hub/internal/config"
	"lighting-hub/internal/faststreamer"
	"lighting-hub/internal/http"
	"lighting-hub/internal/hub"
	"lighting-hub/internal/modbus"
	"lighting-hub/internal/mqtt"
	"lighting-hub/internal/planner"
	"lighting-hub/internal/plans"
	"lighting-hub/internal/push"
	"lighting-hub/internal/repeater"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		logLevel   = flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
		dryRun     = flag.Bool("dry-run", false, "Validate config and exit")
	)
	flag.Parse()

	level := parseLogLevel(*logLevel)
	opts := &slog.HandlerOptions{Level: level}
	handler := slog.NewTextHandler(os.Stdout, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("lighting hub starting", "version", "1.0.0")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	devices := cfg.AllDevices()
	logger.Info("configuration loaded",
		"rooms", len(cfg.Rooms),
		"devices", len(devices),
		"http", cfg.Server.HTTP)

	if *dryRun {
		logger.Info("dry run mode - configuration is valid")
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	deviceByID := make(map[string]config.DeviceConfig, len(devices))
	setStaticTopics := make(map[string]string, len(devices))
	for _, dev := range devices {
		deviceByID[dev.DeviceID] = dev
		if dev.Topics.SetStatic != "" {
			setStaticTopics[dev.DeviceID] = dev.Topics.SetStatic
		}
	}

	state := hub.NewState(cfg, logger)

	planStore, err := plans.NewStore(cfg.Plans.Dir, logger)
	if err != nil {
		logger.Error("failed to initialize plan store", "error", err)
		os.Exit(1)
	}
	planCache := plans.NewCache(planStore, time.Duration(cfg.Plans.CacheTTLSec)*time.Second)

	mqttClient := mqtt.NewClient(cfg.MQTT, devices, state, logger)
	mqttClient.Start()

	broadcaster := push.New(state, logger)
	broadcaster.Start()

	apiHandler := api.New(state, planCache, planStore, mqttClient, broadcaster, setStaticTopics)

	plannerLoop := planner.New(cfg.Planner, deviceByID, state, planCache, mqttClient, logger)
	plannerLoop.Start()

	streamer, err := faststreamer.New(cfg.UDP.SendRateHz, deviceByID, state, logger)
	if err != nil {
		logger.Error("failed to initialize fast streamer", "error", err)
		os.Exit(1)
	}
	streamer.Start()

	var udpRepeater *repeater.Repeater
	if cfg.UDPRepeater.Enabled {
		udpRepeater = repeater.New(cfg.UDPRepeater, deviceByID, state, logger)
		if err := udpRepeater.Start(); err != nil {
			logger.Error("failed to start udp repeater, continuing without it", "error", err)
			udpRepeater = nil
		}
	}

	var modbusServer *modbus.Server
	if cfg.Modbus != nil {
		modbusServer = modbus.NewServer(cfg.Modbus, cfg, state, logger)
		if err := modbusServer.Start(); err != nil {
			logger.Error("failed to start modbus bridge, continuing without it", "error", err)
			modbusServer = nil
		}
	}

	httpServer := http.NewServer(cfg, apiHandler, broadcaster, logger)
	if err := httpServer.Start(); err != nil {
		logger.Error("failed to start http server", "error", err)
		os.Exit(1)
	}

	logger.Info("lighting hub ready",
		"http", cfg.Server.HTTP,
		"udp_repeater", cfg.UDPRepeater.Enabled,
		"modbus", cfg.Modbus != nil)

	<-ctx.Done()

	logger.Info("initiating graceful shutdown...")

	plannerLoop.Stop()
	streamer.Stop()
	if udpRepeater != nil {
		udpRepeater.Stop()
	}
	broadcaster.Stop()
	mqttClient.Stop()
	if modbusServer != nil {
		modbusServer.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("lighting hub stopped")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

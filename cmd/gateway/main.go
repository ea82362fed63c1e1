package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voicebridge/audiohook-gateway/internal/config"
	"github.com/voicebridge/audiohook-gateway/internal/engine"
	"github.com/voicebridge/audiohook-gateway/internal/metrics"
	"github.com/voicebridge/audiohook-gateway/internal/server"
	"github.com/voicebridge/audiohook-gateway/internal/transcode"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "audiohook-gateway"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration; a missing file falls back to built-in defaults so
	// the gateway runs out of the box.
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("ws_port", cfg.Server.Port),
		slog.String("ws_path", cfg.Server.Path),
		slog.String("audio_dir", cfg.Audio.Dir),
		slog.String("decode_mode", cfg.Audio.DecodeMode),
		slog.Float64("prompt_at", cfg.Playback.PromptAt),
		slog.Float64("pause_at", cfg.Playback.PauseAt),
		slog.Float64("disconnect_at", cfg.Playback.DisconnectAt),
		slog.String("transcode_mode", cfg.Transcode.Mode),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := os.MkdirAll(cfg.Audio.Dir, 0755); err != nil {
		logger.Error("Failed to create audio directory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Select the conversion backend.
	var converter transcode.Converter
	switch cfg.Transcode.Mode {
	case "external":
		converter = &transcode.External{
			Command: cfg.Transcode.Command,
			Timeout: cfg.Transcode.GetTimeout(),
		}
	default:
		converter = &transcode.InProcess{
			SampleRate: cfg.Audio.SampleRate,
			DecodePCM:  cfg.Audio.DecodeMode == "pcm",
		}
	}
	runner := transcode.NewRunner(converter, logger, cfg.Transcode.MaxConcurrent)

	eng := engine.NewEngine(engine.Config{
		AudioDir:     cfg.Audio.Dir,
		SampleRate:   cfg.Audio.SampleRate,
		PromptPath:   cfg.Audio.PromptFile,
		PromptAt:     cfg.Playback.PromptAt,
		PauseAt:      cfg.Playback.PauseAt,
		DisconnectAt: cfg.Playback.DisconnectAt,
		IdleTimeout:  cfg.Session.GetIdleTimeout(),
	}, logger, appMetrics, runner)
	logger.Info("Protocol engine initialized",
		slog.Duration("idle_timeout", cfg.Session.GetIdleTimeout()),
	)

	wsServer := server.NewWSServer(cfg.Server, eng, logger)

	var apiServer *server.API
	if cfg.HTTP.Enabled {
		logPath := ""
		if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" && cfg.Logging.Output != "" {
			logPath = cfg.Logging.Output
		}
		apiServer = server.NewAPI(cfg.HTTP, cfg.Audio.Dir, logPath, eng.Store(), appMetrics, logger)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	errChan := make(chan error, 2)

	go func() {
		if err := wsServer.Start(); err != nil {
			errChan <- err
		}
	}()

	if apiServer != nil {
		go func() {
			if err := apiServer.Start(); err != nil {
				errChan <- err
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("ws_address", fmt.Sprintf("%s:%d%s", cfg.Server.BindAddress, cfg.Server.Port, cfg.Server.Path)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("Server failed", slog.String("error", err.Error()))
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP API", slog.String("error", err.Error()))
		}
	}

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping WebSocket server", slog.String("error", err.Error()))
	}

	// Finalize whatever sessions the shutdown left behind.
	remaining := eng.Store().Len()
	eng.Stop()

	logger.Info("Service stopped",
		slog.Int("sessions_at_shutdown", remaining),
	)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

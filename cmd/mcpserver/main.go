// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mcpserver runs an MCP provider process over a shared-memory
// duplex transport.
//
// This is the server-side entry point for the MCP runtime: it exposes a
// tool table to whatever client opens the same shared-memory path, and
// serves tools/call, tools/list, ping, and the rest of the MCP method
// table until it receives SIGINT/SIGTERM or a shutdown request.
//
// # Environment Variables
//
//   - MCP_SHM_PATH: base path for the shared-memory duplex (default: /tmp/mcp-server)
//   - MCP_RING_CAPACITY: bytes per ring, must be a multiple of 64 (default: 1048576)
//   - MCP_SESSION_TTL_SECONDS: session lifetime after initialize (default: 1800)
//   - MCP_LOG_LEVEL: operator log level - debug, info, warn, error (default: info)
//   - MCP_LOG_DIR: directory for JSON log files (default: stderr only)
//   - MCP_TRACE_ENABLED: emit OpenTelemetry spans to stdout when "true" (default: false)
//
// # Usage
//
//	# Build
//	go build -o mcpserver ./cmd/mcpserver
//
//	# Run
//	MCP_SHM_PATH=/tmp/my-mcp ./mcpserver serve
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianMCP/pkg/logging"
	"github.com/AleutianAI/AleutianMCP/services/mcp/control"
	"github.com/AleutianAI/AleutianMCP/services/mcp/executor"
	"github.com/AleutianAI/AleutianMCP/services/mcp/jobs"
	"github.com/AleutianAI/AleutianMCP/services/mcp/layer"
	"github.com/AleutianAI/AleutianMCP/services/mcp/peer"
	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
	"github.com/AleutianAI/AleutianMCP/services/mcp/server"
	"github.com/AleutianAI/AleutianMCP/services/mcp/session"
	"github.com/AleutianAI/AleutianMCP/services/mcp/shm"
	"github.com/AleutianAI/AleutianMCP/services/mcp/telemetry"
	"github.com/AleutianAI/AleutianMCP/services/mcp/tools"
)

// config collects the server's environment-derived settings.
type config struct {
	ShmPath      string
	RingCapacity uint64
	SessionTTL   time.Duration
	LogLevel     string
	LogDir       string
	TraceEnabled bool
}

func configFromEnv() config {
	return config{
		ShmPath:      getEnvString("MCP_SHM_PATH", "/tmp/mcp-server"),
		RingCapacity: uint64(getEnvInt("MCP_RING_CAPACITY", 1<<20)),
		SessionTTL:   time.Duration(getEnvInt("MCP_SESSION_TTL_SECONDS", 1800)) * time.Second,
		LogLevel:     getEnvString("MCP_LOG_LEVEL", "info"),
		LogDir:       getEnvString("MCP_LOG_DIR", ""),
		TraceEnabled: getEnvString("MCP_TRACE_ENABLED", "false") == "true",
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcpserver",
	Short: "Run an MCP provider process over a shared-memory duplex transport",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start serving tools/call, tools/list, and the rest of the MCP method table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("mcpserver: %v", err)
	}
}

func runServe() error {
	cfg := configFromEnv()

	level, _ := logging.ParseLevel(cfg.LogLevel)
	opLogger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: "mcpserver",
		JSON:    true,
	})
	defer opLogger.Close()
	logger := opLogger.Slog()
	slog.SetDefault(logger)

	if cfg.TraceEnabled {
		shutdownTracing, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName:    "mcpserver",
			ServiceVersion: "0.1.0",
			Writer:         os.Stdout,
		})
		if err != nil {
			return fmt.Errorf("mcpserver: initializing tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	logger.Info("starting mcp server",
		slog.String("shm_path", cfg.ShmPath),
		slog.Uint64("ring_capacity", cfg.RingCapacity),
		slog.Duration("session_ttl", cfg.SessionTTL),
	)

	duplex, err := shm.CreateDuplex(cfg.ShmPath, cfg.RingCapacity)
	if err != nil {
		return fmt.Errorf("mcpserver: creating shared-memory duplex: %w", err)
	}
	defer duplex.Close()

	chain := layer.NewChain()
	if cfg.LogLevel == "debug" {
		chain.Append(layer.NewTraceLayer(logger))
	}

	sessions := session.NewStore(logger)
	defer sessions.Close()
	bus := control.NewBus()
	metrics := jobs.NewMetrics()

	sp := peer.NewServerPeer(duplex, chain, "", logger)
	dispatcherCfg := server.Config{
		ServerInfo: schema.Implementation{Name: "mcpserver", Version: "0.1.0"},
		Logger:     logger,
		Sessions:   sessions,
		ControlBus: bus,
		Metrics:    metrics,
		SessionTTL: cfg.SessionTTL,
	}
	dispatcher := server.New(dispatcherCfg, sp.Send)
	dispatcher.RegisterToolHandler(tools.EchoTool, tools.Echo)
	sp.AttachDispatcher(dispatcher)

	recv := bus.Subscribe()
	defer bus.Unsubscribe(recv)

	exec := executor.New(logger)
	done := exec.Spawn(sp, recv)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		dispatcher.Stop()
		<-done
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mcpserver: peer serve loop exited: %w", err)
		}
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

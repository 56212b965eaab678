// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mcpclient is a host-side MCP client for a shared-memory MCP
// server, useful for driving a running mcpserver from a shell.
//
// # Environment Variables
//
//   - MCP_SHM_PATH: base path of the shared-memory duplex to open (default: /tmp/mcp-server)
//   - MCP_CLIENT_NAME: clientInfo.name sent during initialize (default: mcpclient)
//   - MCP_CALL_TIMEOUT_SECONDS: per-call timeout in seconds, also used as each call's context deadline (default: 10); there is no wait-forever setting: 0 or less makes every call fail at once
//
// # Usage
//
//	mcpclient tools
//	mcpclient call echo '{"text":"hello there"}'
//	mcpclient ping
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianMCP/pkg/logging"
	"github.com/AleutianAI/AleutianMCP/services/mcp/client"
	"github.com/AleutianAI/AleutianMCP/services/mcp/layer"
	"github.com/AleutianAI/AleutianMCP/services/mcp/peer"
	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
	"github.com/AleutianAI/AleutianMCP/services/mcp/shm"
)

type config struct {
	ShmPath     string
	ClientName  string
	CallTimeout time.Duration
}

func configFromEnv() config {
	return config{
		ShmPath:     getEnvString("MCP_SHM_PATH", "/tmp/mcp-server"),
		ClientName:  getEnvString("MCP_CLIENT_NAME", "mcpclient"),
		CallTimeout: time.Duration(getEnvInt("MCP_CALL_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

var (
	cfg    config
	duplex *shm.Duplex
	cli    *client.Client
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "mcpclient",
	Short:         "Drive a shared-memory MCP server from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = configFromEnv()
		logger = logging.New(logging.Config{Service: "mcpclient", JSON: true}).Slog()
		slog.SetDefault(logger)

		var err error
		duplex, err = shm.OpenDuplex(cfg.ShmPath)
		if err != nil {
			return fmt.Errorf("mcpclient: opening shared-memory duplex at %q: %w", cfg.ShmPath, err)
		}

		io := peer.NewTransportIO(duplex, layer.NewChain())
		cli = client.New(io.Send, wrapReceive(io), client.NoopProvider{}, logger)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
		defer cancel()
		_, err = cli.Initialize(ctx, schema.Implementation{Name: cfg.ClientName, Version: "0.1.0"}, cfg.CallTimeout)
		if err != nil {
			return fmt.Errorf("mcpclient: initialize handshake failed: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cli != nil {
			cli.Close()
		}
		if duplex != nil {
			duplex.Close()
		}
	},
}

// wrapReceive adapts peer.TransportIO.Receive (which may return
// ErrSwallowedFrame for a layer-dropped frame) to client.Receive's
// contract of blocking until the next real message.
func wrapReceive(io *peer.TransportIO) client.Receive {
	return func() (schema.Message, error) {
		for {
			msg, err := io.Receive()
			if errors.Is(err, peer.ErrSwallowedFrame) {
				continue
			}
			return msg, err
		}
	}
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools this server advertises",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
		defer cancel()
		result, err := cli.ListTools(ctx, "", cfg.CallTimeout)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var callCmd = &cobra.Command{
	Use:   "call <tool> <json-args>",
	Short: "Invoke a tool and print its first streamed result fragment",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		argsJSON := "{}"
		if len(args) == 2 {
			argsJSON = args[1]
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
		defer cancel()
		result, err := cli.CallTool(ctx, schema.CallToolParams{Name: args[0], Arguments: json.RawMessage(argsJSON)}, cfg.CallTimeout)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping the server and report round-trip success",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
		defer cancel()
		if err := cli.Ping(ctx, cfg.CallTimeout); err != nil {
			return err
		}
		fmt.Println("pong")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd, callCmd, pingCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("mcpclient: %v", err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
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

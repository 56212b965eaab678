// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry tracing for the MCP runtime.
//
// Description:
//
//	Init installs a global tracer provider exporting spans to stdout,
//	so a locally-run server can be inspected without an OTLP collector.
//	Packages that record spans obtain their tracer from the global
//	provider (otel.Tracer), which stays a no-op until Init runs.
//
// Thread Safety: Init must be called once, before serving begins.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config configures the runtime's tracing.
type Config struct {
	// ServiceName is the service name attached to every span. Required.
	ServiceName string

	// ServiceVersion is optional.
	ServiceVersion string

	// Writer receives the exported spans. Required (typically os.Stdout
	// or a log file).
	Writer io.Writer
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("telemetry: service name is required")
	}
	if c.Writer == nil {
		return errors.New("telemetry: writer is required")
	}
	return nil
}

// Init installs a global tracer provider per cfg and returns a shutdown
// function that flushes and stops it.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating stdout exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

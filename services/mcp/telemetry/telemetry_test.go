// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestConfig_Validate(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, (&Config{Writer: &buf}).Validate())
	assert.Error(t, (&Config{ServiceName: "x"}).Validate())
	assert.NoError(t, (&Config{ServiceName: "x", Writer: &buf}).Validate())
}

func TestInit_ExportsSpansToWriter(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		ServiceName:    "telemetry-test",
		ServiceVersion: "0.0.1",
		Writer:         &buf,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "test.span")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "test.span")
	assert.Contains(t, buf.String(), "telemetry-test")
}

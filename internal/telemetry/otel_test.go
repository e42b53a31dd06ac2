// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOTelProvider(t *testing.T) {
	p, err := New("stepflow-test")
	require.NoError(t, err)
	require.NotNil(t, p)
	defer p.Shutdown(context.Background())

	tracer := p.Tracer("stepflow.flow")
	assert.NotNil(t, tracer)
}

func TestOTelSpanLifecycle(t *testing.T) {
	p, err := New("stepflow-test")
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	tracer := p.Tracer("stepflow.flow")
	ctx, span := tracer.Start(context.Background(), "step.fetch", WithSpanKind(SpanKindInternal), WithAttributes(map[string]any{
		"step_key": "fetch-1",
	}))
	assert.NotNil(t, ctx)
	require.NotNil(t, span)

	span.AddEvent("attempt", map[string]any{"attempt": 1})
	span.RecordError(errors.New("boom"))
	span.SetStatus(StatusCodeError, "boom")
	span.End()

	sc := span.SpanContext()
	assert.NotEmpty(t, sc.TraceID)
	assert.NotEmpty(t, sc.SpanID)

	// Ending twice must not panic.
	assert.NotPanics(t, func() { span.End() })
}

func TestNoopProviderDiscardsEverything(t *testing.T) {
	var p NoopProvider
	tracer := p.Tracer("anything")
	ctx, span := tracer.Start(context.Background(), "noop")
	assert.NotNil(t, ctx)
	span.SetAttributes(map[string]any{"x": 1})
	span.AddEvent("e", nil)
	span.RecordError(errors.New("ignored"))
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.ForceFlush(context.Background()))
}

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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/tombee/stepflow/pkg/flow"
)

func TestNewEventSinkNilArgsReturnsNil(t *testing.T) {
	assert.Nil(t, NewEventSink(nil, nil))
}

func TestNewEventSinkRecordsRunAndStepMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollector(reg)
	sink := NewEventSink(nil, mc)

	sink(flow.WorkflowEvent{Type: flow.EventWorkflowStart, WorkflowID: "wf-1", Name: "demo"})
	sink(flow.WorkflowEvent{Type: flow.EventStepStart, WorkflowID: "wf-1", StepID: "s-1", Name: "fetch"})
	sink(flow.WorkflowEvent{Type: flow.EventStepCacheMiss, WorkflowID: "wf-1", StepKey: "k1"})
	sink(flow.WorkflowEvent{Type: flow.EventStepSuccess, WorkflowID: "wf-1", StepID: "s-1", Name: "fetch", DurationMs: 10})
	sink(flow.WorkflowEvent{Type: flow.EventWorkflowSuccess, WorkflowID: "wf-1", DurationMs: 20})

	assert.Equal(t, float64(1), testutil.ToFloat64(mc.stepsTotal.WithLabelValues("fetch", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.runsTotal.WithLabelValues("demo", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.cacheTotal.WithLabelValues("miss")))
}

func TestNewEventSinkSpansCloseOnStepError(t *testing.T) {
	sink := NewEventSink(NoopProvider{}.Tracer("test"), nil)

	assert.NotPanics(t, func() {
		sink(flow.WorkflowEvent{Type: flow.EventWorkflowStart, WorkflowID: "wf-2"})
		sink(flow.WorkflowEvent{Type: flow.EventStepStart, WorkflowID: "wf-2", StepID: "s-1", Name: "fetch"})
		sink(flow.WorkflowEvent{Type: flow.EventStepError, WorkflowID: "wf-2", StepID: "s-1", Name: "fetch", Error: "boom", DurationMs: 1})
		sink(flow.WorkflowEvent{Type: flow.EventWorkflowError, WorkflowID: "wf-2", Error: "boom", DurationMs: 2})
	})
}

func TestNewEventSinkRecordsScopeAndRetryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollector(reg)
	sink := NewEventSink(nil, mc)

	sink(flow.WorkflowEvent{Type: flow.EventStepRetry, WorkflowID: "wf-3", Name: "fetch"})
	sink(flow.WorkflowEvent{Type: flow.EventStepRetriesExhausted, WorkflowID: "wf-3", Name: "fetch"})
	sink(flow.WorkflowEvent{Type: flow.EventStepTimeout, WorkflowID: "wf-3", Name: "fetch"})
	sink(flow.WorkflowEvent{Type: flow.EventScopeEnd, WorkflowID: "wf-3", ScopeType: flow.ScopeParallel, State: "error", DurationMs: time.Millisecond.Milliseconds()})

	assert.Equal(t, float64(1), testutil.ToFloat64(mc.retriesTotal.WithLabelValues("fetch", "attempt")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.retriesTotal.WithLabelValues("fetch", "exhausted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.timeoutsTotal.WithLabelValues("fetch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.scopeTotal.WithLabelValues("parallel", "error")))
}

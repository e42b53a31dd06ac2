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
	"fmt"
	"sync"
	"time"

	"github.com/tombee/stepflow/pkg/flow"
)

// NewEventSink adapts a Tracer and/or MetricsCollector into a flow.EventSink:
// one span per workflow run, one span per step (opened on step_start/closed
// on step_success or step_error; step_timeout does not close it), and metric
// observations on every completion event. Either argument may be nil. As
// with internal/log's bridge, this is composed at the call site via
// flow.CombineSinks rather than threaded into the engine itself — spec.md
// §4.1 specifies exactly one sink per run, and telemetry is "orthogonal to
// it" (SPEC_FULL.md §4), not a replacement for it.
func NewEventSink(tracer Tracer, metrics *MetricsCollector) flow.EventSink {
	if tracer == nil && metrics == nil {
		return nil
	}
	if tracer == nil {
		tracer = NoopProvider{}.Tracer("stepflow")
	}

	b := &sinkBridge{tracer: tracer, metrics: metrics}
	return b.handle
}

type sinkBridge struct {
	tracer  Tracer
	metrics *MetricsCollector

	mu     sync.Mutex
	runs   map[string]runSpan
	steps  map[string]stepSpan // keyed by workflowID+stepID
}

type runSpan struct {
	ctx  context.Context
	span SpanHandle
	name string
}

type stepSpan struct {
	ctx   context.Context
	span  SpanHandle
	start time.Time
	name  string
}

func stepKey(workflowID, stepID string) string { return workflowID + "/" + stepID }

func (b *sinkBridge) handle(ev flow.WorkflowEvent) {
	b.mu.Lock()
	if b.runs == nil {
		b.runs = make(map[string]runSpan)
		b.steps = make(map[string]stepSpan)
	}
	b.mu.Unlock()

	switch ev.Type {
	case flow.EventWorkflowStart:
		ctx, span := b.tracer.Start(context.Background(), "workflow."+nonEmpty(ev.Name, "run"), WithSpanKind(SpanKindClient))
		span.SetAttributes(map[string]any{"workflow_id": ev.WorkflowID})
		b.mu.Lock()
		b.runs[ev.WorkflowID] = runSpan{ctx: ctx, span: span, name: ev.Name}
		b.mu.Unlock()

	case flow.EventWorkflowSuccess, flow.EventWorkflowError, flow.EventWorkflowCancelled:
		b.mu.Lock()
		run, ok := b.runs[ev.WorkflowID]
		delete(b.runs, ev.WorkflowID)
		b.mu.Unlock()
		outcome := outcomeLabel(ev.Type)
		if ok {
			if ev.Type == flow.EventWorkflowError {
				run.span.RecordError(fmt.Errorf("%v", ev.Error))
			}
			run.span.SetStatus(statusFor(ev.Type), outcome)
			run.span.End()
		}
		if b.metrics != nil {
			b.metrics.RecordRun(run.name, outcome, time.Duration(ev.DurationMs)*time.Millisecond)
		}

	case flow.EventStepStart:
		b.mu.Lock()
		run := b.runs[ev.WorkflowID]
		b.mu.Unlock()
		parent := run.ctx
		if parent == nil {
			parent = context.Background()
		}
		ctx, span := b.tracer.Start(parent, "step."+nonEmpty(ev.Name, ev.StepID), WithSpanKind(SpanKindInternal))
		span.SetAttributes(map[string]any{"step_id": ev.StepID, "step_key": ev.StepKey})
		b.mu.Lock()
		b.steps[stepKey(ev.WorkflowID, ev.StepID)] = stepSpan{ctx: ctx, span: span, start: time.Now(), name: ev.Name}
		b.mu.Unlock()

	case flow.EventStepSuccess, flow.EventStepError:
		b.mu.Lock()
		sp, ok := b.steps[stepKey(ev.WorkflowID, ev.StepID)]
		delete(b.steps, stepKey(ev.WorkflowID, ev.StepID))
		b.mu.Unlock()
		outcome := "success"
		if ev.Type == flow.EventStepError {
			outcome = "error"
		}
		if ok {
			if ev.Type == flow.EventStepError {
				sp.span.RecordError(fmt.Errorf("%v", ev.Error))
			}
			sp.span.SetStatus(statusFor(ev.Type), outcome)
			sp.span.End()
		}
		if b.metrics != nil {
			b.metrics.RecordStep(ev.Name, outcome, time.Duration(ev.DurationMs)*time.Millisecond)
		}

	case flow.EventStepCacheHit:
		if b.metrics != nil {
			b.metrics.RecordCacheHit()
		}
	case flow.EventStepCacheMiss:
		if b.metrics != nil {
			b.metrics.RecordCacheMiss()
		}
	case flow.EventStepRetry:
		if b.metrics != nil {
			b.metrics.RecordRetry(ev.Name)
		}
	case flow.EventStepRetriesExhausted:
		if b.metrics != nil {
			b.metrics.RecordRetriesExhausted(ev.Name)
		}
	case flow.EventStepTimeout:
		if b.metrics != nil {
			b.metrics.RecordTimeout(ev.Name)
		}
	case flow.EventScopeEnd:
		if b.metrics != nil {
			b.metrics.RecordScope(string(ev.ScopeType), ev.State)
		}
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func outcomeLabel(t flow.EventType) string {
	switch t {
	case flow.EventWorkflowSuccess:
		return "success"
	case flow.EventWorkflowCancelled:
		return "cancelled"
	default:
		return "error"
	}
}

func statusFor(t flow.EventType) StatusCode {
	switch t {
	case flow.EventWorkflowSuccess, flow.EventStepSuccess:
		return StatusCodeOK
	case flow.EventWorkflowError, flow.EventStepError:
		return StatusCodeError
	default:
		return StatusCodeUnset
	}
}

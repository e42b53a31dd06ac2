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

package log

import (
	"context"
	"log/slog"

	"github.com/tombee/stepflow/pkg/flow"
)

// NewEventSink adapts logger into a flow.EventSink, so a workflow's event
// stream doubles as structured log lines without the engine importing this
// package directly (composed at the call site via flow.CombineSinks, per
// spec.md §4.1's single-sink contract). Routine step lifecycle events (and a
// successful scope_end) log at LevelTrace; step failures, failed scopes,
// timeouts, retries and cancellation log at Warn; step_retries_exhausted
// and workflow_error log at Error — the same level discipline the teacher's
// executor applies to loop/parallel steps.
func NewEventSink(logger *slog.Logger) flow.EventSink {
	if logger == nil {
		return nil
	}
	return func(ev flow.WorkflowEvent) {
		attrs := []slog.Attr{slog.String(WorkflowIDKey, ev.WorkflowID)}
		if ev.StepID != "" {
			attrs = append(attrs, slog.String(StepIDKey, ev.StepID))
		}
		if ev.StepKey != "" {
			attrs = append(attrs, slog.String(StepKeyKey, ev.StepKey))
		}
		if ev.Name != "" {
			attrs = append(attrs, slog.String(WorkflowKey, ev.Name))
		}
		if ev.DurationMs > 0 {
			attrs = append(attrs, Duration(DurationKey, ev.DurationMs))
		}
		attrs = append(attrs, slog.String(EventKey, string(ev.Type)))

		switch ev.Type {
		case flow.EventWorkflowError:
			logger.LogAttrs(context.Background(), slog.LevelError, "workflow failed", append(attrs, slog.Any("error", ev.Error))...)
		case flow.EventStepRetriesExhausted:
			logger.LogAttrs(context.Background(), slog.LevelError, "step retries exhausted", append(attrs, slog.Int("attempts", ev.Attempts), slog.Any("last_error", ev.LastError))...)
		case flow.EventStepError, flow.EventScopeEnd:
			if ev.Type == flow.EventScopeEnd && ev.State != "error" {
				logger.LogAttrs(context.Background(), LevelTrace, "scope completed", attrs...)
				return
			}
			logger.LogAttrs(context.Background(), slog.LevelWarn, "step failed", append(attrs, slog.Any("error", ev.Error))...)
		case flow.EventStepTimeout, flow.EventStepRetry:
			logger.LogAttrs(context.Background(), slog.LevelWarn, "step attempt did not succeed", append(attrs, slog.Any("error", ev.Error))...)
		case flow.EventWorkflowCancelled:
			logger.LogAttrs(context.Background(), slog.LevelWarn, "workflow cancelled", append(attrs, slog.String("reason", ev.Reason))...)
		default:
			Trace(logger, eventMessage(ev.Type), attrs...)
		}
	}
}

func eventMessage(t flow.EventType) string {
	switch t {
	case flow.EventWorkflowStart:
		return "workflow started"
	case flow.EventWorkflowSuccess:
		return "workflow succeeded"
	case flow.EventStepStart:
		return "step started"
	case flow.EventStepSuccess:
		return "step succeeded"
	case flow.EventStepSkipped:
		return "step skipped"
	case flow.EventStepComplete:
		return "step result cached"
	case flow.EventStepCacheHit:
		return "step cache hit"
	case flow.EventStepCacheMiss:
		return "step cache miss"
	case flow.EventScopeStart:
		return "scope started"
	case flow.EventDecisionStart:
		return "decision started"
	case flow.EventDecisionBranch:
		return "decision branch"
	case flow.EventDecisionEnd:
		return "decision ended"
	default:
		return string(t)
	}
}

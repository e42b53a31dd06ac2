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

package flow

// EventType discriminates the members of the WorkflowEvent wire contract
// (§6.3). Every event shares {type, workflowId, ts, context?}; the fields
// below are the type-specific payload.
type EventType string

const (
	EventWorkflowStart     EventType = "workflow_start"
	EventWorkflowSuccess   EventType = "workflow_success"
	EventWorkflowError     EventType = "workflow_error"
	EventWorkflowCancelled EventType = "workflow_cancelled"

	EventStepStart            EventType = "step_start"
	EventStepSuccess          EventType = "step_success"
	EventStepError            EventType = "step_error"
	EventStepTimeout          EventType = "step_timeout"
	EventStepRetry            EventType = "step_retry"
	EventStepRetriesExhausted EventType = "step_retries_exhausted"
	EventStepSkipped          EventType = "step_skipped"
	EventStepComplete         EventType = "step_complete"
	EventStepCacheHit         EventType = "step_cache_hit"
	EventStepCacheMiss        EventType = "step_cache_miss"

	EventScopeStart EventType = "scope_start"
	EventScopeEnd   EventType = "scope_end"

	EventDecisionStart  EventType = "decision_start"
	EventDecisionBranch EventType = "decision_branch"
	EventDecisionEnd    EventType = "decision_end"
)

// ScopeType distinguishes parallel fan-out from race fan-in in scope_start.
type ScopeType string

const (
	ScopeParallel ScopeType = "parallel"
	ScopeRace     ScopeType = "race"
)

// CompleteMeta is the meta payload of a step_complete event and of a cache
// entry (§3 StepCache): it records which primitive produced the outcome and,
// for throwing steps, a reference to the original thrown value.
type CompleteMeta struct {
	Origin      string `json:"origin"`
	Thrown      any    `json:"thrown,omitempty"`
	ResultCause any    `json:"resultCause,omitempty"`
}

// WorkflowEvent is the single concrete type backing every member of the
// §6.3 tagged union. Fields not relevant to Type are left zero; consumers
// switch on Type the same way the engine's own emit call sites populate only
// the fields their event kind defines.
type WorkflowEvent struct {
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflowId"`
	TS         int64     `json:"ts"`
	Context    any       `json:"context,omitempty"`

	// workflow_* fields. Reason also carries a step_skipped event's skip
	// reason: the two never appear on the same event, so they share the
	// single "reason" wire field rather than colliding on the json tag.
	Name       string `json:"name,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Reason     string `json:"reason,omitempty"`

	// step_* fields
	StepID      string        `json:"stepId,omitempty"`
	StepKey     string        `json:"stepKey,omitempty"`
	Description string        `json:"description,omitempty"`
	Error       any           `json:"error,omitempty"`
	TimeoutMs   int64         `json:"timeoutMs,omitempty"`
	Attempt     int           `json:"attempt,omitempty"`
	MaxAttempts int           `json:"maxAttempts,omitempty"`
	Delay       int64         `json:"delay,omitempty"`
	Attempts    int           `json:"attempts,omitempty"`
	LastError   any           `json:"lastError,omitempty"`
	Result      any           `json:"result,omitempty"`
	Meta        *CompleteMeta `json:"meta,omitempty"`

	// scope_* fields
	ScopeID   string    `json:"scopeId,omitempty"`
	ScopeType ScopeType `json:"scopeType,omitempty"`
	State     string    `json:"state,omitempty"`

	// decision_* fields
	DecisionID  string `json:"decisionId,omitempty"`
	BranchLabel string `json:"branchLabel,omitempty"`
	Taken       bool   `json:"taken,omitempty"`
	BranchTaken string `json:"branchTaken,omitempty"`
}

// EventSink receives the totally-ordered event stream for a single workflow
// invocation (§4.1). The engine invokes it synchronously at each emission
// point; a sink that panics must not corrupt engine state, so emit recovers
// and drops the panic, the same way the teacher's emitSync continues past a
// listener failure instead of aborting the run.
type EventSink func(ev WorkflowEvent)

// emit calls sink with ev, swallowing any panic raised by the sink itself.
func emit(sink EventSink, ev WorkflowEvent) {
	if sink == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	sink(ev)
}

// CombineSinks fans a single run's event stream out to every sink in sinks,
// in order, so a caller can attach independent consumers — a domain event
// handler, internal/log's logging bridge, internal/telemetry's tracing/
// metrics bridge — without any of them knowing about the others. This is the
// composition point the engine's single-sink contract (§4.1) deliberately
// pushes to the caller rather than growing a second hook per concern.
// A panicking sink does not stop the remaining sinks from receiving ev; emit
// already swallows it the same way a single configured sink's panic would
// be swallowed.
func CombineSinks(sinks ...EventSink) EventSink {
	live := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return nil
	}
	return func(ev WorkflowEvent) {
		for _, s := range live {
			emit(s, ev)
		}
	}
}

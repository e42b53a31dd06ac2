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

package flow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tombee/stepflow/pkg/flow"
	"github.com/tombee/stepflow/pkg/result"
)

// S1 — happy sequential (spec.md §8).
func TestScenarioSequentialHappyPath(t *testing.T) {
	var events []flow.WorkflowEvent
	wf := flow.NewWorkflow(func(ctx context.Context, h *flow.Handle[error]) string {
		a := flow.Step(h, func(ctx context.Context) result.Result[int, error] {
			return result.Ok[int, error](10)
		}, flow.StepOptions{Name: "a"})
		b := flow.Step(h, func(ctx context.Context) result.Result[int, error] {
			return result.Ok[int, error](20)
		}, flow.StepOptions{Name: "b"})
		if a+b != 30 {
			t.Fatalf("expected steps to unwrap to 10 and 20")
		}
		return "done"
	}, flow.WithEventSink[string, error](func(ev flow.WorkflowEvent) {
		events = append(events, ev)
	}))

	res := wf.Run(context.Background())
	if !res.IsOk() || res.Value() != "done" {
		t.Fatalf("expected ok(done), got %+v", res)
	}

	want := []flow.EventType{
		flow.EventWorkflowStart,
		flow.EventStepStart, flow.EventStepSuccess,
		flow.EventStepStart, flow.EventStepSuccess,
		flow.EventWorkflowSuccess,
	}
	assertEventTypes(t, events, want)
	assertMonotonicSameRun(t, events)
}

// S2 — short-circuit on first failure (spec.md §8).
func TestScenarioShortCircuit(t *testing.T) {
	var events []flow.WorkflowEvent
	thirdRan := false

	wf := flow.NewWorkflow(func(ctx context.Context, h *flow.Handle[error]) int {
		flow.Step(h, func(ctx context.Context) result.Result[int, error] {
			return result.Ok[int, error](1)
		}, flow.StepOptions{Name: "first"})
		flow.Step(h, func(ctx context.Context) result.Result[int, error] {
			return result.Err[int, error](errors.New("NOPE"))
		}, flow.StepOptions{Name: "second"})
		flow.Step(h, func(ctx context.Context) result.Result[int, error] {
			thirdRan = true
			return result.Ok[int, error](3)
		}, flow.StepOptions{Name: "third"})
		return 0
	}, flow.WithEventSink[int, error](func(ev flow.WorkflowEvent) {
		events = append(events, ev)
	}))

	res := wf.Run(context.Background())
	if !res.IsErr() || res.Error().Error() != "NOPE" {
		t.Fatalf("expected err(NOPE), got %+v", res)
	}
	if thirdRan {
		t.Fatalf("expected the third step to never run")
	}

	errCount := 0
	for _, ev := range events {
		if ev.Type == flow.EventStepError {
			errCount++
		}
	}
	if errCount != 1 {
		t.Fatalf("expected exactly one step_error event, got %d", errCount)
	}
	want := []flow.EventType{
		flow.EventWorkflowStart,
		flow.EventStepStart, flow.EventStepSuccess,
		flow.EventStepStart, flow.EventStepError,
		flow.EventWorkflowError,
	}
	assertEventTypes(t, events, want)
}

// S3 — retry then succeed (spec.md §8).
func TestScenarioRetryThenSucceed(t *testing.T) {
	var events []flow.WorkflowEvent
	attempts := 0

	wf := flow.NewWorkflow(func(ctx context.Context, h *flow.Handle[error]) int {
		return flow.Step(h, func(ctx context.Context) result.Result[int, error] {
			attempts++
			if attempts < 3 {
				return result.Err[int, error](errors.New("T"))
			}
			return result.Ok[int, error](5)
		}, flow.StepOptions{
			Name: "flaky",
			Retry: &flow.RetryOptions{
				Attempts:     3,
				Backoff:      flow.BackoffFixed,
				InitialDelay: time.Millisecond,
			},
		})
	}, flow.WithEventSink[int, error](func(ev flow.WorkflowEvent) {
		events = append(events, ev)
	}))

	res := wf.Run(context.Background())
	if !res.IsOk() || res.Value() != 5 {
		t.Fatalf("expected ok(5), got %+v", res)
	}

	retries, exhausted := 0, 0
	for _, ev := range events {
		switch ev.Type {
		case flow.EventStepRetry:
			retries++
			if ev.Attempt != 2 && ev.Attempt != 3 {
				t.Fatalf("expected retry attempt in {2,3}, got %d", ev.Attempt)
			}
		case flow.EventStepRetriesExhausted:
			exhausted++
		}
	}
	if retries != 2 {
		t.Fatalf("expected exactly 2 step_retry events, got %d", retries)
	}
	if exhausted != 0 {
		t.Fatalf("expected no step_retries_exhausted event, got %d", exhausted)
	}
}

// S4 — timeout and recover (spec.md §8).
func TestScenarioTimeoutAndRecover(t *testing.T) {
	var events []flow.WorkflowEvent
	attempts := 0

	wf := flow.NewWorkflow(func(ctx context.Context, h *flow.Handle[error]) string {
		return flow.Step(h, func(ctx context.Context) result.Result[string, error] {
			attempts++
			if attempts < 3 {
				time.Sleep(50 * time.Millisecond)
				return result.Ok[string, error]("too slow")
			}
			return result.Ok[string, error]("ok")
		}, flow.StepOptions{
			Name:    "slow",
			Timeout: &flow.TimeoutOptions{Ms: 5},
			Retry: &flow.RetryOptions{
				Attempts:     3,
				Backoff:      flow.BackoffFixed,
				InitialDelay: time.Millisecond,
				RetryOn: func(err any, attempt int) bool {
					return result.IsStepTimeoutError(err)
				},
			},
		})
	}, flow.WithEventSink[string, error](func(ev flow.WorkflowEvent) {
		events = append(events, ev)
	}))

	res := wf.Run(context.Background())
	if !res.IsOk() || res.Value() != "ok" {
		t.Fatalf("expected ok(ok), got %+v", res)
	}

	timeouts, retries := 0, 0
	for _, ev := range events {
		switch ev.Type {
		case flow.EventStepTimeout:
			timeouts++
		case flow.EventStepRetry:
			retries++
		}
	}
	if timeouts != 2 {
		t.Fatalf("expected 2 step_timeout events, got %d", timeouts)
	}
	if retries != 2 {
		t.Fatalf("expected 2 step_retry events, got %d", retries)
	}
}

// S5 — parallel fail-fast (spec.md §8).
func TestScenarioParallelFailFast(t *testing.T) {
	var events []flow.WorkflowEvent

	wf := flow.NewWorkflow(func(ctx context.Context, h *flow.Handle[error]) map[string]any {
		return flow.Parallel(h, map[string]func(ctx context.Context) result.Result[any, error]{
			"a": func(ctx context.Context) result.Result[any, error] {
				time.Sleep(100 * time.Millisecond)
				return result.Ok[any, error]("A")
			},
			"b": func(ctx context.Context) result.Result[any, error] {
				return result.Err[any, error](errors.New("X"))
			},
		}, flow.StepOptions{Name: "fan-out"})
	}, flow.WithEventSink[map[string]any, error](func(ev flow.WorkflowEvent) {
		events = append(events, ev)
	}))

	started := time.Now()
	res := wf.Run(context.Background())
	elapsed := time.Since(started)

	if !res.IsErr() || res.Error().Error() != "X" {
		t.Fatalf("expected err(X), got %+v", res)
	}
	if elapsed >= 90*time.Millisecond {
		t.Fatalf("expected Parallel to return before the slow branch finishes, took %s", elapsed)
	}

	foundScopeError := false
	for _, ev := range events {
		if ev.Type == flow.EventScopeEnd && ev.ScopeType == flow.ScopeParallel {
			if ev.State != "error" {
				t.Fatalf("expected scope_end state=error, got %s", ev.State)
			}
			foundScopeError = true
		}
	}
	if !foundScopeError {
		t.Fatalf("expected a scope_end error event")
	}
}

// S6 — resume (spec.md §8).
func TestScenarioResume(t *testing.T) {
	compute := func(calls *int, fail map[string]bool) func(key string) func(ctx context.Context) result.Result[string, error] {
		return func(key string) func(ctx context.Context) result.Result[string, error] {
			return func(ctx context.Context) result.Result[string, error] {
				*calls++
				if fail[key] {
					return result.Err[string, error](errors.New("boom"))
				}
				return result.Ok[string, error](key + "-val")
			}
		}
	}

	// First run: "u" succeeds, "v" fails.
	var firstEvents []flow.WorkflowEvent
	firstCalls := 0
	mk1 := compute(&firstCalls, map[string]bool{"v": true})
	wf1 := flow.NewWorkflow(func(ctx context.Context, h *flow.Handle[error]) string {
		u := flow.Step(h, mk1("u"), flow.StepOptions{Name: "compute-u", Key: "u"})
		v := flow.Step(h, mk1("v"), flow.StepOptions{Name: "compute-v", Key: "v"})
		return u + v
	}, flow.WithEventSink[string, error](func(ev flow.WorkflowEvent) {
		firstEvents = append(firstEvents, ev)
	}))
	res1 := wf1.Run(context.Background())
	if !res1.IsErr() {
		t.Fatalf("expected the first run to fail on step v")
	}
	if firstCalls != 2 {
		t.Fatalf("expected both u and v to run on the first pass, got %d calls", firstCalls)
	}

	// A real resume snapshot only persists steps that actually completed
	// successfully; a failed keyed step's step_complete is deliberately
	// left out so the second pass re-executes it against the fixed compute.
	resumeState := flow.ResumeState{Steps: map[string]flow.CacheEntry{}}
	for _, ev := range firstEvents {
		if ev.Type != flow.EventStepComplete {
			continue
		}
		meta := CompleteMetaOrZero(ev)
		if meta.Origin == "" && ev.Result != nil {
			resumeState.Steps[ev.StepKey] = flow.CacheEntry{Outcome: flow.Outcome{Value: ev.Result}}
		}
	}
	if _, ok := resumeState.Steps["u"]; !ok {
		t.Fatalf("expected a cache entry for u from step_complete events")
	}
	if _, ok := resumeState.Steps["v"]; ok {
		t.Fatalf("expected no cache entry for the failed step v")
	}

	var secondEvents []flow.WorkflowEvent
	secondCalls := 0
	mk2 := compute(&secondCalls, map[string]bool{})
	wf2 := flow.NewWorkflow(func(ctx context.Context, h *flow.Handle[error]) string {
		u := flow.Step(h, mk2("u"), flow.StepOptions{Name: "compute-u", Key: "u"})
		v := flow.Step(h, mk2("v"), flow.StepOptions{Name: "compute-v", Key: "v"})
		return u + v
	}, flow.WithEventSink[string, error](func(ev flow.WorkflowEvent) {
		secondEvents = append(secondEvents, ev)
	}), flow.WithResumeState[string, error](resumeState))

	res2 := wf2.Run(context.Background())
	if !res2.IsOk() || res2.Value() != "u-valv-val" {
		t.Fatalf("expected ok(u-valv-val), got %+v", res2)
	}
	if secondCalls != 1 {
		t.Fatalf("expected compute to run exactly once (for v) on the second pass, got %d calls", secondCalls)
	}

	hits := 0
	for _, ev := range secondEvents {
		if ev.Type == flow.EventStepCacheHit {
			hits++
		}
	}
	if hits != 1 {
		t.Fatalf("expected exactly one cache hit on the second pass, got %d", hits)
	}
}

// CompleteMetaOrZero extracts the Meta payload of a step_complete event,
// defaulting to the zero value when absent.
func CompleteMetaOrZero(ev flow.WorkflowEvent) flow.CompleteMeta {
	if ev.Meta == nil {
		return flow.CompleteMeta{}
	}
	return *ev.Meta
}

func assertEventTypes(t *testing.T, events []flow.WorkflowEvent, want []flow.EventType) {
	t.Helper()
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Fatalf("event %d: expected %s, got %s", i, w, events[i].Type)
		}
	}
}

func assertMonotonicSameRun(t *testing.T, events []flow.WorkflowEvent) {
	t.Helper()
	if len(events) == 0 {
		return
	}
	id := events[0].WorkflowID
	for i, ev := range events {
		if ev.WorkflowID != id {
			t.Fatalf("event %d: workflowId mismatch", i)
		}
		if i > 0 && ev.TS < events[i-1].TS {
			t.Fatalf("event %d: ts went backwards", i)
		}
	}
}

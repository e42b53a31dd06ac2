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

import (
	"context"
	"time"

	"github.com/tombee/stepflow/pkg/result"
)

// Handle is the per-invocation step entry point threaded through a workflow
// body (§4.5): every call to Step, Try, FromResult, Parallel, Race, Retry,
// WithTimeout, or When goes through one of these, bound to a single running
// workflow. E is the workflow's own step-error domain, shared by every step
// in the body; callers that want the safe-default UnexpectedError /
// StepTimeoutError wrapping to type-check should instantiate E as `error` or
// `any` — a concrete non-interface E only receives the mapped error when
// Strict and CatchUnexpected are both supplied.
type Handle[E any] struct {
	ctx        context.Context
	workflowID string
	sink       EventSink
	cache      StepCache
	wfContext  any
	clk        *monotonicClock

	onAfterStep func(stepKey string, stepResult result.Result[any, E], workflowID string, wfContext any) error

	strict          bool
	catchUnexpected func(cause result.UnexpectedCause) E
}

// shortCircuit is the private panic sentinel the step primitives use to
// unwind a workflow body to the engine boundary the moment a step reports a
// typed failure (§9: "use... a dedicated abort channel" — Go's sanctioned
// analog for this is a recoverable panic that never escapes the package).
// Run's deferred recover is the only place this is ever caught.
type shortCircuit[E any] struct {
	err E
}

// StepOptions configures a single step invocation (§3 StepOptions).
type StepOptions struct {
	// Name is an optional human-readable label carried on every event this
	// step emits.
	Name string
	// Key is the caller-chosen cache/resume key. Empty means "not cached":
	// the step always runs and never reads or writes the cache.
	Key     string
	Retry   *RetryOptions
	Timeout *TimeoutOptions
}

// rawAttempt is what every step primitive reduces its operation down to
// before handing off to the shared pre/post protocol: a single attempt
// returning either a success value or a typed failure plus its cache/event
// metadata. Errors are carried as `any` here (matching retry.go/timeout.go)
// so the retry and timeout harnesses stay oblivious to E; runStep converts
// back to E once at the very end.
type rawAttempt func(ctx context.Context) (value any, err any, meta CompleteMeta, isErr bool)

// mapUnexpected turns a recovered panic or hook failure into the value the
// engine surfaces to the caller: the strict-mode caller's own mapping if
// configured, otherwise the safe-default *result.UnexpectedError (§7).
func (h *Handle[E]) mapUnexpected(cause result.UnexpectedCause) any {
	if h.strict && h.catchUnexpected != nil {
		return h.catchUnexpected(cause)
	}
	return &result.UnexpectedError{Cause: cause}
}

// runStep implements §4.5's "common pre/post protocol for keyed lazy
// steps": cache lookup, step_start, timeout-then-retry around the attempt,
// step_success/step_error, cache write, step_complete, onAfterStep. It is
// shared by Step, Try, and FromResult, which differ only in how they reduce
// their operation down to a rawAttempt.
func runStep[E any](h *Handle[E], opts StepOptions, attempt rawAttempt) (value any, errOut E, isErr bool) {
	if opts.Key != "" {
		if entry, ok := h.cache.Get(opts.Key); ok {
			emit(h.sink, WorkflowEvent{
				Type: EventStepCacheHit, WorkflowID: h.workflowID, TS: h.clk.now(),
				StepKey: opts.Key, Name: opts.Name, Context: h.wfContext,
			})
			if entry.Outcome.IsErr {
				typed, _ := entry.Outcome.Err.(E)
				return nil, typed, true
			}
			return entry.Outcome.Value, errOut, false
		}
		emit(h.sink, WorkflowEvent{
			Type: EventStepCacheMiss, WorkflowID: h.workflowID, TS: h.clk.now(),
			StepKey: opts.Key, Name: opts.Name, Context: h.wfContext,
		})
	}

	stepID := newID()
	emit(h.sink, WorkflowEvent{
		Type: EventStepStart, WorkflowID: h.workflowID, TS: h.clk.now(),
		StepID: stepID, StepKey: opts.Key, Name: opts.Name, Context: h.wfContext,
	})
	start := time.Now()

	runOnce := func(ctx context.Context) (out attemptResult) {
		defer func() {
			if r := recover(); r != nil {
				out = attemptResult{Err: h.mapUnexpected(result.UnexpectedCause{
					Type: result.CauseUncaughtException, Thrown: r,
				})}
			}
		}()
		v, e, meta, bad := attempt(ctx)
		if bad {
			return attemptResult{Err: e, Cause: meta}
		}
		return attemptResult{Value: v}
	}

	var final attemptResult
	switch {
	case opts.Timeout != nil && opts.Retry != nil:
		final = runWithRetry(*opts.Retry, h.sink, h.workflowID, stepID, opts.Name, h.wfContext, h.clk, func(int) attemptResult {
			raw := runWithTimeout(h.ctx, *opts.Timeout, h.sink, h.workflowID, stepID, opts.Name, h.wfContext, h.clk, func(ctx context.Context) any {
				return runOnce(ctx)
			})
			if ar, ok := raw.(attemptResult); ok {
				return ar
			}
			// the timer won the race: raw is the *result.StepTimeoutError
			return attemptResult{Err: raw}
		})
	case opts.Timeout != nil:
		raw := runWithTimeout(h.ctx, *opts.Timeout, h.sink, h.workflowID, stepID, opts.Name, h.wfContext, h.clk, func(ctx context.Context) any {
			return runOnce(ctx)
		})
		if ar, ok := raw.(attemptResult); ok {
			final = ar
		} else {
			final = attemptResult{Err: raw}
		}
	case opts.Retry != nil:
		final = runWithRetry(*opts.Retry, h.sink, h.workflowID, stepID, opts.Name, h.wfContext, h.clk, func(int) attemptResult {
			return runOnce(h.ctx)
		})
	default:
		final = runOnce(h.ctx)
	}

	duration := time.Since(start).Milliseconds()

	if final.failed() {
		emit(h.sink, WorkflowEvent{
			Type: EventStepError, WorkflowID: h.workflowID, TS: h.clk.now(),
			StepID: stepID, StepKey: opts.Key, Name: opts.Name,
			Error: final.Err, DurationMs: duration, Context: h.wfContext,
		})
		meta, _ := final.Cause.(CompleteMeta)
		if meta.Origin == "" {
			meta.Origin = "result"
		}
		if opts.Key != "" {
			entry := CacheEntry{Outcome: Outcome{IsErr: true, Err: final.Err, Cause: meta.ResultCause}, Meta: meta}
			h.cache.Set(opts.Key, entry)
			emit(h.sink, WorkflowEvent{
				Type: EventStepComplete, WorkflowID: h.workflowID, TS: h.clk.now(),
				StepKey: opts.Key, Name: opts.Name, DurationMs: duration, Meta: &meta, Context: h.wfContext,
			})
			h.runAfterStep(opts.Key, result.Err[any, E](typedOrZero[E](final.Err), meta.ResultCause))
		}
		typed, _ := final.Err.(E)
		return nil, typed, true
	}

	emit(h.sink, WorkflowEvent{
		Type: EventStepSuccess, WorkflowID: h.workflowID, TS: h.clk.now(),
		StepID: stepID, StepKey: opts.Key, Name: opts.Name, DurationMs: duration, Context: h.wfContext,
	})
	if opts.Key != "" {
		entry := CacheEntry{Outcome: Outcome{Value: final.Value}}
		h.cache.Set(opts.Key, entry)
		emit(h.sink, WorkflowEvent{
			Type: EventStepComplete, WorkflowID: h.workflowID, TS: h.clk.now(),
			StepKey: opts.Key, Name: opts.Name, Result: final.Value, DurationMs: duration, Context: h.wfContext,
		})
		h.runAfterStep(opts.Key, result.Ok[any, E](final.Value))
	}
	return final.Value, errOut, false
}

// typedOrZero asserts v into E, returning the zero value of E on mismatch
// rather than panicking — used only to build the Result handed to
// onAfterStep, which is best-effort diagnostic plumbing, not the value that
// decides the step's own short-circuit.
func typedOrZero[E any](v any) E {
	typed, _ := v.(E)
	return typed
}

// runAfterStep invokes the onAfterStep hook (§4.7) for a keyed, non-cache-hit
// step. A panic or error from the hook is swallowed here the same way a
// throwing event sink is: onAfterStep is diagnostic plumbing that must never
// destabilize a step whose outcome is already computed (§7: "post-step hooks
// running after a step do not alter the step's already-computed outcome").
func (h *Handle[E]) runAfterStep(stepKey string, stepResult result.Result[any, E]) {
	if h.onAfterStep == nil {
		return
	}
	defer func() { _ = recover() }()
	_ = h.onAfterStep(stepKey, stepResult, h.workflowID, h.wfContext)
}

// Step is the result-returning primitive (§4.5.1): op returns a Result
// directly. Success unwraps to T; a typed failure short-circuits the body.
func Step[T any, E any](h *Handle[E], op func(ctx context.Context) result.Result[T, E], opts StepOptions) T {
	v, errOut, isErr := runStep[E](h, opts, func(ctx context.Context) (any, any, CompleteMeta, bool) {
		r := op(ctx)
		if r.IsOk() {
			return r.Value(), nil, CompleteMeta{}, false
		}
		return nil, r.Error(), CompleteMeta{Origin: "result", ResultCause: r.Cause()}, true
	})
	if isErr {
		panic(shortCircuit[E]{err: errOut})
	}
	var zero T
	if v == nil {
		return zero
	}
	return v.(T)
}

// ErrorMapping is the sum-type rendering of §9's "error | onError shorthand":
// exactly one of Error (a static value) or OnError (a mapper) should be set.
// OnError takes precedence if both are set.
type ErrorMapping[E any] struct {
	Error   *E
	OnError func(cause any) E
}

func (m ErrorMapping[E]) resolve(cause any) E {
	if m.OnError != nil {
		return m.OnError(cause)
	}
	if m.Error != nil {
		return *m.Error
	}
	var zero E
	return zero
}

// Try is the throwing-capture primitive (§4.5.2): op may panic; any
// recovered value is converted to a typed E via mapping, with
// meta.origin="throw" preserving the original thrown value.
func Try[T any, E any](h *Handle[E], op func(ctx context.Context) T, mapping ErrorMapping[E], opts StepOptions) T {
	v, errOut, isErr := runStep[E](h, opts, func(ctx context.Context) (value any, err any, meta CompleteMeta, bad bool) {
		var thrown any
		ok := true
		func() {
			defer func() {
				if r := recover(); r != nil {
					ok = false
					thrown = r
				}
			}()
			value = op(ctx)
		}()
		if !ok {
			mapped := mapping.resolve(thrown)
			return nil, mapped, CompleteMeta{Origin: "throw", Thrown: thrown}, true
		}
		return value, nil, CompleteMeta{}, false
	})
	if isErr {
		panic(shortCircuit[E]{err: errOut})
	}
	var zero T
	if v == nil {
		return zero
	}
	return v.(T)
}

// ErrorMapping2 is ErrorMapping for FromResult, where the original error
// type E2 need not match the workflow's own error domain E.
type ErrorMapping2[E2 any, E any] struct {
	Error   *E
	OnError func(origErr E2) E
}

func (m ErrorMapping2[E2, E]) resolve(orig E2) E {
	if m.OnError != nil {
		return m.OnError(orig)
	}
	if m.Error != nil {
		return *m.Error
	}
	var zero E
	return zero
}

// FromResult is the result-error-remapping primitive (§4.5.3): like Step,
// but the operation's own error domain E2 is remapped into the workflow's E
// via mapping; the original error is preserved as the cause.
func FromResult[T any, E2 any, E any](h *Handle[E], op func(ctx context.Context) result.Result[T, E2], mapping ErrorMapping2[E2, E], opts StepOptions) T {
	v, errOut, isErr := runStep[E](h, opts, func(ctx context.Context) (any, any, CompleteMeta, bool) {
		r := op(ctx)
		if r.IsOk() {
			return r.Value(), nil, CompleteMeta{}, false
		}
		mapped := mapping.resolve(r.Error())
		return nil, mapped, CompleteMeta{Origin: "result", ResultCause: r.Error()}, true
	})
	if isErr {
		panic(shortCircuit[E]{err: errOut})
	}
	var zero T
	if v == nil {
		return zero
	}
	return v.(T)
}

// Retry is the §4.5.6 shorthand: Step(op, {Retry: retryOpts, Name: name}).
func Retry[T any, E any](h *Handle[E], op func(ctx context.Context) result.Result[T, E], retryOpts RetryOptions, name string) T {
	return Step(h, op, StepOptions{Name: name, Retry: &retryOpts})
}

// WithTimeout is the §4.5.7 shorthand: Step(op, {Timeout: timeoutOpts, Name: name}).
func WithTimeout[T any, E any](h *Handle[E], op func(ctx context.Context) result.Result[T, E], timeoutOpts TimeoutOptions, name string) T {
	return Step(h, op, StepOptions{Name: name, Timeout: &timeoutOpts})
}

// When is the skip/conditional primitive (§4.5.8): if condition is false, it
// emits step_skipped and returns placeholder without ever starting the step;
// no step_start/step_success is paired with a skip. If condition is true it
// behaves exactly like Step.
func When[T any, E any](h *Handle[E], condition bool, reason string, op func(ctx context.Context) result.Result[T, E], placeholder T, opts StepOptions) T {
	if !condition {
		emit(h.sink, WorkflowEvent{
			Type: EventStepSkipped, WorkflowID: h.workflowID, TS: h.clk.now(),
			Name: opts.Name, StepKey: opts.Key, Reason: reason, Context: h.wfContext,
		})
		return placeholder
	}
	return Step(h, op, opts)
}

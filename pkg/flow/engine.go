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

// engineConfig holds everything an Option can set (§4.7's option table).
type engineConfig[T any, E any] struct {
	name string

	onEvent       EventSink
	createContext func() any
	onError       func(err E, stepName string, ctx any) error

	cache          StepCache
	resumeState    *ResumeState
	resumeProducer ResumeStateProducer

	shouldRun     func(workflowID string, ctx any) bool
	onBeforeStart func(workflowID string, ctx any) bool
	onAfterStep   func(stepKey string, stepResult result.Result[any, E], workflowID string, ctx any) error

	strict          bool
	catchUnexpected func(cause result.UnexpectedCause) E

	signal <-chan struct{}
}

// Option configures a Workflow at construction (§4.7's option table).
type Option[T any, E any] func(*engineConfig[T, E])

// WithName sets the name attached to workflow_start events.
func WithName[T any, E any](name string) Option[T, E] {
	return func(c *engineConfig[T, E]) { c.name = name }
}

// WithEventSink installs the event emitter (§4.1).
func WithEventSink[T any, E any](sink EventSink) Option[T, E] {
	return func(c *engineConfig[T, E]) { c.onEvent = sink }
}

// WithContextFactory installs CreateContext: invoked once per invocation,
// its result is passed to every hook and attached to every event.
func WithContextFactory[T any, E any](fn func() any) Option[T, E] {
	return func(c *engineConfig[T, E]) { c.createContext = fn }
}

// WithOnError installs the terminal-error hook, called once with the
// workflow's final typed error.
func WithOnError[T any, E any](fn func(err E, stepName string, ctx any) error) Option[T, E] {
	return func(c *engineConfig[T, E]) { c.onError = fn }
}

// WithCache installs a shared StepCache. If omitted and WithResumeState is
// supplied, a fresh in-memory cache is created internally (§4.7).
func WithCache[T any, E any](cache StepCache) Option[T, E] {
	return func(c *engineConfig[T, E]) { c.cache = cache }
}

// WithResumeState installs a fixed ResumeState, merged into the cache once
// before the body runs.
func WithResumeState[T any, E any](state ResumeState) Option[T, E] {
	return func(c *engineConfig[T, E]) { c.resumeState = &state }
}

// WithResumeStateProducer installs the async-producer form of resume state.
func WithResumeStateProducer[T any, E any](fn ResumeStateProducer) Option[T, E] {
	return func(c *engineConfig[T, E]) { c.resumeProducer = fn }
}

// WithShouldRun installs the pre-flight gate: a falsy return skips the
// workflow with a synthetic SkippedError.
func WithShouldRun[T any, E any](fn func(workflowID string, ctx any) bool) Option[T, E] {
	return func(c *engineConfig[T, E]) { c.shouldRun = fn }
}

// WithOnBeforeStart installs the hook run after ShouldRun, same
// falsy-means-skip semantics.
func WithOnBeforeStart[T any, E any](fn func(workflowID string, ctx any) bool) Option[T, E] {
	return func(c *engineConfig[T, E]) { c.onBeforeStart = fn }
}

// WithOnAfterStep installs the post-step hook, called only for keyed,
// non-cache-hit steps (§9 Open Question 1).
func WithOnAfterStep[T any, E any](fn func(stepKey string, stepResult result.Result[any, E], workflowID string, ctx any) error) Option[T, E] {
	return func(c *engineConfig[T, E]) { c.onAfterStep = fn }
}

// WithStrict enables strict mode: every uncaught exception is mapped
// through catchUnexpected exactly once instead of becoming UnexpectedError.
func WithStrict[T any, E any](catchUnexpected func(cause result.UnexpectedCause) E) Option[T, E] {
	return func(c *engineConfig[T, E]) {
		c.strict = true
		c.catchUnexpected = catchUnexpected
	}
}

// WithCancelSignal installs a cancellation channel. Run checks it once,
// right after workflow_start and before ShouldRun: if it is already closed
// (or has a value ready), the run ends with workflow_cancelled and the body
// never starts. A signal that fires after that check is not observed; steps
// keep starting and the run ends as it otherwise would.
func WithCancelSignal[T any, E any](signal <-chan struct{}) Option[T, E] {
	return func(c *engineConfig[T, E]) { c.signal = signal }
}

// Workflow is a typed asynchronous workflow: a factory producing a fresh
// Handle per invocation, per spec.md §9's "module-level mutable state: none
// exists in the core; the engine is a factory producing fresh closures per
// call."
type Workflow[T any, E any] struct {
	body func(ctx context.Context, h *Handle[E]) T
	cfg  engineConfig[T, E]
}

// NewWorkflow builds a Workflow around body, a native Go function composing
// steps through the Handle it receives. body returns its success value
// directly; a step's typed failure short-circuits body via panic/recover
// internal to this package (§9) and never reaches body's own return path.
func NewWorkflow[T any, E any](body func(ctx context.Context, h *Handle[E]) T, opts ...Option[T, E]) *Workflow[T, E] {
	cfg := engineConfig[T, E]{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Workflow[T, E]{body: body, cfg: cfg}
}

func (w *Workflow[T, E]) mapUnexpected(cause result.UnexpectedCause) E {
	if w.cfg.strict && w.cfg.catchUnexpected != nil {
		return w.cfg.catchUnexpected(cause)
	}
	var boxed any = &result.UnexpectedError{Cause: cause}
	typed, _ := boxed.(E)
	return typed
}

// Run executes one invocation of the workflow (§4.7's invocation protocol):
// it generates a workflowId, merges resume state into the cache, emits
// workflow_start, runs ShouldRun/OnBeforeStart, runs body, and converts the
// outcome — success, short-circuit, cancellation, or uncaught exception —
// into a single Result. Run never panics: every failure mode is caught at
// this boundary and returned as result.Err.
func (w *Workflow[T, E]) Run(ctx context.Context) result.Result[T, E] {
	workflowID := newID()
	clk := newClock()

	var wfContext any
	if w.cfg.createContext != nil {
		wfContext = w.cfg.createContext()
	}

	cache := w.cfg.cache
	if cache == nil {
		cache = newDefaultCache()
	}
	if w.cfg.resumeProducer != nil {
		if state, err := w.cfg.resumeProducer(ctx); err == nil {
			mergeResumeState(cache, state)
		}
	} else if w.cfg.resumeState != nil {
		mergeResumeState(cache, *w.cfg.resumeState)
	}

	emit(w.cfg.onEvent, WorkflowEvent{
		Type: EventWorkflowStart, WorkflowID: workflowID, TS: clk.now(),
		Name: w.cfg.name, Context: wfContext,
	})
	start := time.Now()

	if w.isCancelled() {
		return w.terminateCancelled(workflowID, wfContext, clk, start, "cancelled before start")
	}

	h := &Handle[E]{
		ctx: ctx, workflowID: workflowID, sink: w.cfg.onEvent, cache: cache,
		wfContext: wfContext, clk: clk,
		onAfterStep: w.cfg.onAfterStep, strict: w.cfg.strict, catchUnexpected: w.cfg.catchUnexpected,
	}

	if w.cfg.shouldRun != nil {
		proceed, hookPanic := safeGate(func() bool { return w.cfg.shouldRun(workflowID, wfContext) })
		if hookPanic != nil {
			return w.terminateHookFailure(workflowID, wfContext, clk, start, hookPanic)
		}
		if !proceed {
			return w.terminateSkip(workflowID, wfContext, clk, start, "shouldRun")
		}
	}
	if w.cfg.onBeforeStart != nil {
		proceed, hookPanic := safeGate(func() bool { return w.cfg.onBeforeStart(workflowID, wfContext) })
		if hookPanic != nil {
			return w.terminateHookFailure(workflowID, wfContext, clk, start, hookPanic)
		}
		if !proceed {
			return w.terminateSkip(workflowID, wfContext, clk, start, "onBeforeStart")
		}
	}

	return w.runBody(h, workflowID, wfContext, clk, start)
}

// isCancelled reports whether the configured cancel signal has already
// fired, without blocking.
func (w *Workflow[T, E]) isCancelled() bool {
	if w.cfg.signal == nil {
		return false
	}
	select {
	case <-w.cfg.signal:
		return true
	default:
		return false
	}
}

// safeGate invokes fn, recovering any panic so a throwing hook is routed
// through the same uncaught-exception handling as a step would be.
func safeGate(fn func() bool) (proceed bool, recovered any) {
	defer func() {
		recovered = recover()
	}()
	proceed = fn()
	return proceed, nil
}

func (w *Workflow[T, E]) terminateCancelled(workflowID string, wfContext any, clk *monotonicClock, start time.Time, reason string) result.Result[T, E] {
	emit(w.cfg.onEvent, WorkflowEvent{
		Type: EventWorkflowCancelled, WorkflowID: workflowID, TS: clk.now(),
		Reason: reason, DurationMs: time.Since(start).Milliseconds(), Context: wfContext,
	})
	var zero E
	return result.Err[T, E](zero)
}

func (w *Workflow[T, E]) terminateSkip(workflowID string, wfContext any, clk *monotonicClock, start time.Time, hook string) result.Result[T, E] {
	var boxed any = &result.SkippedError{Reason: hook}
	errVal, _ := boxed.(E)
	return w.terminateError(workflowID, wfContext, clk, start, errVal)
}

func (w *Workflow[T, E]) terminateHookFailure(workflowID string, wfContext any, clk *monotonicClock, start time.Time, thrown any) result.Result[T, E] {
	errVal := w.mapUnexpected(result.UnexpectedCause{Type: result.CauseUncaughtException, Thrown: thrown})
	return w.terminateError(workflowID, wfContext, clk, start, errVal)
}

func (w *Workflow[T, E]) terminateError(workflowID string, wfContext any, clk *monotonicClock, start time.Time, errVal E) result.Result[T, E] {
	duration := time.Since(start).Milliseconds()
	emit(w.cfg.onEvent, WorkflowEvent{
		Type: EventWorkflowError, WorkflowID: workflowID, TS: clk.now(),
		Error: errVal, DurationMs: duration, Context: wfContext,
	})
	if w.cfg.onError != nil {
		_ = w.cfg.onError(errVal, "", wfContext)
	}
	return result.Err[T, E](errVal)
}

// runBody runs the user's body and converts its outcome into a Result. The
// deferred recover is the single place a step's short-circuit panic, or any
// other uncaught panic from deep inside body, is ever caught.
func (w *Workflow[T, E]) runBody(h *Handle[E], workflowID string, wfContext any, clk *monotonicClock, start time.Time) (res result.Result[T, E]) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var errVal E
		if sc, ok := r.(shortCircuit[E]); ok {
			errVal = sc.err
		} else {
			errVal = w.mapUnexpected(result.UnexpectedCause{Type: result.CauseUncaughtException, Thrown: r})
		}
		res = w.terminateError(workflowID, wfContext, clk, start, errVal)
	}()

	value := w.body(h.ctx, h)

	duration := time.Since(start).Milliseconds()
	emit(w.cfg.onEvent, WorkflowEvent{
		Type: EventWorkflowSuccess, WorkflowID: workflowID, TS: clk.now(),
		DurationMs: duration, Context: wfContext,
	})
	return result.Ok[T, E](value)
}

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
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/stepflow/pkg/result"
)

// Parallel is the named-object concurrent fan-out primitive (§4.5.4): spec
// maps a caller-chosen key to a producer. All producers launch concurrently
// as one errgroup.Group (replacing the teacher's hand-rolled channel and
// semaphore fan-out in executeParallel with the idiomatic ecosystem
// primitive for the same shape). The scope is fail-fast: the first typed
// error observed closes the done signal and Parallel returns without
// waiting on the stragglers — they keep running in the background and their
// late results are discarded, exactly as §4.5.4 specifies. Producer keys are
// sorted before launch, which fixes only the launch order. The scope's error
// is that of the first producer to report a failure, in completion order;
// when two producers fail at nearly the same moment, which of them is
// reported is not defined (§9 Open Question 2).
func Parallel[E any](h *Handle[E], spec map[string]func(ctx context.Context) result.Result[any, E], opts StepOptions) map[string]any {
	scopeID := newID()
	emit(h.sink, WorkflowEvent{
		Type: EventScopeStart, WorkflowID: h.workflowID, TS: h.clk.now(),
		ScopeID: scopeID, ScopeType: ScopeParallel, Name: opts.Name,
		Context: h.wfContext,
	})
	start := time.Now()

	if len(spec) == 0 {
		emit(h.sink, WorkflowEvent{
			Type: EventScopeEnd, WorkflowID: h.workflowID, TS: h.clk.now(),
			ScopeID: scopeID, ScopeType: ScopeParallel, State: "success",
			DurationMs: time.Since(start).Milliseconds(),
			Context: h.wfContext,
		})
		return map[string]any{}
	}

	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	g, gctx := errgroup.WithContext(h.ctx)
	results := make(map[string]any, len(spec))

	var mu sync.Mutex
	var once sync.Once
	done := make(chan struct{})
	var failed bool
	var failErr any

	for _, key := range keys {
		key, producer := key, spec[key]
		g.Go(func() error {
			r := producer(gctx)
			mu.Lock()
			defer mu.Unlock()
			if r.IsErr() {
				if !failed {
					failed = true
					failErr = r.Error()
					once.Do(func() { close(done) })
				}
				return nil
			}
			results[key] = r.Value()
			if len(results) == len(spec) && !failed {
				once.Do(func() { close(done) })
			}
			return nil
		})
	}

	// Waiting happens off the caller's path: the first failure (or the
	// last success) closes done immediately, and slow siblings are left to
	// finish on their own time instead of blocking the scope's return.
	go func() { _ = g.Wait() }()
	<-done

	mu.Lock()
	out := make(map[string]any, len(results))
	for k, v := range results {
		out[k] = v
	}
	isFailed, errVal := failed, failErr
	mu.Unlock()

	duration := time.Since(start).Milliseconds()
	if isFailed {
		emit(h.sink, WorkflowEvent{
			Type: EventScopeEnd, WorkflowID: h.workflowID, TS: h.clk.now(),
			ScopeID: scopeID, ScopeType: ScopeParallel, State: "error",
			Error: errVal, DurationMs: duration,
			Context: h.wfContext,
		})
		typed, _ := errVal.(E)
		panic(shortCircuit[E]{err: typed})
	}

	emit(h.sink, WorkflowEvent{
		Type: EventScopeEnd, WorkflowID: h.workflowID, TS: h.clk.now(),
		ScopeID: scopeID, ScopeType: ScopeParallel, State: "success", DurationMs: duration,
		Context: h.wfContext,
	})
	return out
}

// Race is the first-success primitive (§4.5.5): producers run concurrently
// and Race resolves to the first one to report success. If every producer
// fails, it short-circuits with the last typed error observed; an empty
// producer list short-circuits immediately with *result.EmptyInputError
// (§9 Open Question 3), without emitting scope_start/scope_end for a scope
// that never ran.
func Race[T any, E any](h *Handle[E], producers []func(ctx context.Context) result.Result[T, E], opts StepOptions) T {
	if len(producers) == 0 {
		var boxed any = &result.EmptyInputError{}
		typed, _ := boxed.(E)
		panic(shortCircuit[E]{err: typed})
	}

	scopeID := newID()
	emit(h.sink, WorkflowEvent{
		Type: EventScopeStart, WorkflowID: h.workflowID, TS: h.clk.now(),
		ScopeID: scopeID, ScopeType: ScopeRace, Name: opts.Name,
		Context: h.wfContext,
	})
	start := time.Now()

	g, gctx := errgroup.WithContext(h.ctx)

	var mu sync.Mutex
	var once sync.Once
	done := make(chan struct{})
	remaining := len(producers)
	var won bool
	var winner T
	var lastErr any

	for _, producer := range producers {
		producer := producer
		g.Go(func() error {
			r := producer(gctx)
			mu.Lock()
			defer mu.Unlock()
			remaining--
			if r.IsErr() {
				lastErr = r.Error()
				if remaining == 0 && !won {
					once.Do(func() { close(done) })
				}
				return nil
			}
			if !won {
				won = true
				winner = r.Value()
				once.Do(func() { close(done) })
			}
			return nil
		})
	}

	go func() { _ = g.Wait() }()
	<-done

	mu.Lock()
	wonLocal, winnerLocal, errVal := won, winner, lastErr
	mu.Unlock()

	duration := time.Since(start).Milliseconds()
	if !wonLocal {
		emit(h.sink, WorkflowEvent{
			Type: EventScopeEnd, WorkflowID: h.workflowID, TS: h.clk.now(),
			ScopeID: scopeID, ScopeType: ScopeRace, State: "error",
			Error: errVal, DurationMs: duration,
			Context: h.wfContext,
		})
		typed, _ := errVal.(E)
		panic(shortCircuit[E]{err: typed})
	}

	emit(h.sink, WorkflowEvent{
		Type: EventScopeEnd, WorkflowID: h.workflowID, TS: h.clk.now(),
		ScopeID: scopeID, ScopeType: ScopeRace, State: "success", DurationMs: duration,
		Context: h.wfContext,
	})
	return winnerLocal
}

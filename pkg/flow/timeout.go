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

// TimeoutOptions configures the per-attempt timeout harness (§3, §4.4).
type TimeoutOptions struct {
	// Ms is the deadline in milliseconds; must be > 0.
	Ms int64
}

// runWithTimeout races op against a timer of opts.Ms milliseconds. If the
// timer wins, it emits step_timeout and returns a *result.StepTimeoutError;
// the goroutine running op is never cancelled or waited for — it may keep
// running in the background, per §4.4's explicit non-cancellation design.
// op's result is untyped for the same reason runWithRetry's is: step errors
// are arbitrary caller-chosen types, not necessarily Go errors.
func runWithTimeout(
	ctx context.Context,
	opts TimeoutOptions,
	sink EventSink,
	workflowID, stepID, name string,
	wfContext any,
	clk *monotonicClock,
	op func(ctx context.Context) any,
) any {
	if opts.Ms <= 0 {
		return op(ctx)
	}

	done := make(chan any, 1)
	go func() {
		done <- op(ctx)
	}()

	timer := time.NewTimer(time.Duration(opts.Ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		emit(sink, WorkflowEvent{
			Type:       EventStepTimeout,
			WorkflowID: workflowID,
			TS:         clk.now(),
			StepID:     stepID,
			Name:       name,
			TimeoutMs:  opts.Ms,
			Context:    wfContext,
		})
		return result.NewStepTimeoutError(opts.Ms, name)
	}
}

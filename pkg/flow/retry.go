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
	"math/rand/v2"
	"time"
)

// BackoffStrategy selects one of the three pure delay schedules of §4.3.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryOptions configures the retry controller (§3 RetryOptions, §4.3).
type RetryOptions struct {
	// Attempts is the total number of attempts, the initial try included.
	Attempts int
	Backoff  BackoffStrategy
	// InitialDelay is the base delay used by every backoff formula.
	InitialDelay time.Duration
	// MaxDelay caps the computed delay when non-zero.
	MaxDelay time.Duration
	// Jitter multiplies the capped delay by a uniform [0.5, 1.5) factor.
	Jitter bool
	// RetryOn decides whether attempt should be retried given err. err is
	// untyped because step errors are arbitrary caller-chosen types, not
	// necessarily Go errors. A nil RetryOn retries any error (the
	// documented default).
	RetryOn func(err any, attempt int) bool
	// OnRetry is an optional observer called with the same information as
	// the step_retry event, before the controller sleeps.
	OnRetry func(err any, attempt int, delay time.Duration)
}

func (o RetryOptions) shouldRetry(err any, attempt int) bool {
	if o.RetryOn == nil {
		return true
	}
	return o.RetryOn(err, attempt)
}

// nextDelay computes the un-jittered, capped delay to wait before attempt
// i, per the three pure formulas in §4.3:
//
//	fixed(i)       = initialDelay
//	linear(i)      = initialDelay × i
//	exponential(i) = initialDelay × 2^(i-1)
func nextDelay(i int, o RetryOptions) time.Duration {
	var d time.Duration
	switch o.Backoff {
	case BackoffLinear:
		d = o.InitialDelay * time.Duration(i)
	case BackoffExponential:
		shift := i - 1
		if shift < 0 {
			shift = 0
		}
		d = o.InitialDelay * time.Duration(int64(1)<<uint(shift))
	case BackoffFixed, "":
		d = o.InitialDelay
	default:
		d = o.InitialDelay
	}
	if o.MaxDelay > 0 && d > o.MaxDelay {
		d = o.MaxDelay
	}
	return d
}

// applyJitter multiplies d by a uniform [0.5, 1.5) factor when jitter is
// enabled, per §4.3.
func applyJitter(d time.Duration, jitter bool) time.Duration {
	if !jitter {
		return d
	}
	factor := 0.5 + rand.Float64()
	return time.Duration(float64(d) * factor)
}

// attemptResult is the self-contained outcome of a single step attempt.
// Passing it wholesale through channels and return values (rather than
// writing into shared outer variables) keeps an abandoned, still-running
// attempt — e.g. one discarded by a timeout — from racing with the
// variables the next attempt or the caller reads.
type attemptResult struct {
	Value any
	Err   any
	Cause any
}

func (r attemptResult) failed() bool { return r.Err != nil }

// runWithRetry runs op up to o.Attempts times, sleeping between attempts per
// the backoff schedule, emitting step_retry / step_retries_exhausted
// through sink as specified by §4.3. runWithRetry returns the last attempt's
// result, successful or not. stepID/name feed the emitted events; clk
// supplies ts.
func runWithRetry(
	opts RetryOptions,
	sink EventSink,
	workflowID, stepID, name string,
	wfContext any,
	clk *monotonicClock,
	op func(attempt int) attemptResult,
) attemptResult {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last attemptResult
	for attempt := 1; attempt <= attempts; attempt++ {
		res := op(attempt)
		if !res.failed() {
			return res
		}
		last = res

		if attempt == attempts || !opts.shouldRetry(res.Err, attempt) {
			if attempt == attempts && opts.shouldRetry(res.Err, attempt) {
				emit(sink, WorkflowEvent{
					Type:       EventStepRetriesExhausted,
					WorkflowID: workflowID,
					TS:         clk.now(),
					StepID:     stepID,
					Name:       name,
					Attempts:   attempts,
					LastError:  res.Err,
					Context:    wfContext,
				})
			}
			return last
		}

		next := attempt + 1
		delay := applyJitter(nextDelay(next, opts), opts.Jitter)

		if opts.OnRetry != nil {
			opts.OnRetry(res.Err, next, delay)
		}
		emit(sink, WorkflowEvent{
			Type:        EventStepRetry,
			WorkflowID:  workflowID,
			TS:          clk.now(),
			StepID:      stepID,
			Name:        name,
			Attempt:     next,
			MaxAttempts: attempts,
			Delay:       delay.Milliseconds(),
			Error:       res.Err,
			Context:     wfContext,
		})
		time.Sleep(delay)
	}
	return last
}

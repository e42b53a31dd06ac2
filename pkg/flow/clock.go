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
	"sync"
	"time"
)

// monotonicClock hands out millisecond timestamps that never decrease
// within a single process, even if the wall clock is adjusted backwards.
// Every WorkflowEvent's ts comes from here so §8's "ts is monotonically
// non-decreasing" invariant holds regardless of the underlying OS clock.
type monotonicClock struct {
	mu   sync.Mutex
	last int64
}

func (c *monotonicClock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := time.Now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}

// newClock returns a fresh monotonicClock for one Run invocation. Per-run
// instances, not a shared package-level one, keep spec.md §9's "module-level
// mutable state: none exists in the core" invariant intact.
func newClock() *monotonicClock {
	return &monotonicClock{}
}

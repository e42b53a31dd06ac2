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

import "sync"

// Outcome is the cached shape of a step's completed result: either a
// success value or a typed failure, recorded exactly as it was first
// reported so a cache hit can re-signal it without re-running the step.
type Outcome struct {
	IsErr bool
	Value any
	Err   any
	Cause any
}

// CacheEntry is the value stored per stepKey (§3 StepCache: "Mapping from
// stepKey -> {result, meta?}").
type CacheEntry struct {
	Outcome Outcome
	Meta    CompleteMeta
}

// StepCache is the externally owned mapping keyed steps read on entry and
// write on completion (§4.2). The engine never clears it and never
// serializes concurrent access to the same key — "at most one concurrent
// execution per (cache, key) is the caller's responsibility."
type StepCache interface {
	Get(key string) (CacheEntry, bool)
	Set(key string, entry CacheEntry)
	Has(key string) bool
}

// defaultCache is a minimal sync.Map-backed StepCache used when the caller
// supplies resumeState without an explicit cache (§4.7: "If absent but
// resumeState provided, a fresh cache is created internally"). It lives
// here, rather than importing pkg/flow/store, purely to avoid a store->flow
// ->store import cycle; pkg/flow/store.Memory is the equivalent standalone
// implementation for callers who want to hold a named reference to one.
type defaultCache struct {
	m sync.Map
}

func newDefaultCache() *defaultCache {
	return &defaultCache{}
}

func (c *defaultCache) Get(key string) (CacheEntry, bool) {
	v, ok := c.m.Load(key)
	if !ok {
		return CacheEntry{}, false
	}
	return v.(CacheEntry), true
}

func (c *defaultCache) Set(key string, entry CacheEntry) {
	c.m.Store(key, entry)
}

func (c *defaultCache) Has(key string) bool {
	_, ok := c.m.Load(key)
	return ok
}

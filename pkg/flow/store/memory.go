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

// Package store provides flow.StepCache implementations for persisting and
// resuming keyed step outcomes across process restarts, alongside the
// in-memory default every Workflow falls back to when none is configured.
package store

import (
	"sync"

	"github.com/tombee/stepflow/pkg/flow"
)

// Memory is a sync.Map-backed flow.StepCache. It is the standalone,
// named-reference equivalent of the unexported default cache the engine
// creates internally when a caller supplies resume state without a cache
// of its own.
type Memory struct {
	m sync.Map
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(key string) (flow.CacheEntry, bool) {
	v, ok := m.m.Load(key)
	if !ok {
		return flow.CacheEntry{}, false
	}
	return v.(flow.CacheEntry), true
}

func (m *Memory) Set(key string, entry flow.CacheEntry) {
	m.m.Store(key, entry)
}

func (m *Memory) Has(key string) bool {
	_, ok := m.m.Load(key)
	return ok
}

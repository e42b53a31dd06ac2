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

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tombee/stepflow/pkg/flow"
)

// File is a JSON-file-backed flow.StepCache. Entries live in memory during a
// run and are written to a single file per workflow ID on Persist, the same
// save-the-whole-snapshot-on-demand shape as the teacher's checkpoint
// manager rather than a per-entry file.
type File struct {
	mu      sync.RWMutex
	dir     string
	enabled bool
	entries map[string]flow.CacheEntry
}

// FileConfig configures a File store.
type FileConfig struct {
	// Dir is the directory JSON snapshots are written to. If empty, the
	// store behaves as an in-memory cache with Persist/Load disabled.
	Dir string
}

// NewFile creates the snapshot directory (if configured) and returns a
// ready-to-use store.
func NewFile(cfg FileConfig) (*File, error) {
	f := &File{
		dir:     cfg.Dir,
		enabled: cfg.Dir != "",
		entries: make(map[string]flow.CacheEntry),
	}
	if f.enabled {
		if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return f, nil
}

func (f *File) Get(key string) (flow.CacheEntry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[key]
	return e, ok
}

func (f *File) Set(key string, entry flow.CacheEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = entry
}

func (f *File) Has(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.entries[key]
	return ok
}

// fileDocument is the on-disk shape of a persisted snapshot.
type fileDocument struct {
	WorkflowID string                     `json:"workflow_id"`
	Steps      map[string]flow.CacheEntry `json:"steps"`
	CreatedAt  time.Time                  `json:"created_at"`
}

// Persist writes the store's current entries to workflowID's snapshot file.
// A no-op if the store was constructed without a directory.
func (f *File) Persist(workflowID string) error {
	if !f.enabled {
		return nil
	}
	f.mu.RLock()
	doc := fileDocument{WorkflowID: workflowID, Steps: make(map[string]flow.CacheEntry, len(f.entries)), CreatedAt: time.Now()}
	for k, v := range f.entries {
		doc.Steps[k] = v
	}
	f.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(f.path(workflowID), data, 0600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load reads workflowID's snapshot file, if any, as a flow.ResumeState
// suitable for flow.WithResumeState. A missing file is not an error: it
// returns an empty ResumeState, matching a first-ever run.
func (f *File) Load(workflowID string) (flow.ResumeState, error) {
	if !f.enabled {
		return flow.ResumeState{}, nil
	}
	data, err := os.ReadFile(f.path(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return flow.ResumeState{}, nil
		}
		return flow.ResumeState{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return flow.ResumeState{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return flow.ResumeState{Steps: doc.Steps}, nil
}

// Delete removes workflowID's snapshot file, if present.
func (f *File) Delete(workflowID string) error {
	if !f.enabled {
		return nil
	}
	if err := os.Remove(f.path(workflowID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (f *File) path(workflowID string) string {
	return filepath.Join(f.dir, workflowID+".json")
}

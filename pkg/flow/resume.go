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

import "context"

// ResumeState is a snapshot of keyed step outcomes (§3) consumed exactly
// once at workflow start and merged into the run's cache, letting a resumed
// invocation skip steps that already completed.
type ResumeState struct {
	Steps map[string]CacheEntry
}

// ResumeStateProducer is the async-producer form accepted alongside a
// direct ResumeState value (§3: "May be provided as value or async
// producer").
type ResumeStateProducer func(ctx context.Context) (ResumeState, error)

// mergeResumeState writes every entry of state into cache. Later keys
// overwrite earlier ones if duplicated; resume state is consumed exactly
// once, before the body runs, so there is no concurrent writer to race
// against.
func mergeResumeState(cache StepCache, state ResumeState) {
	for key, entry := range state.Steps {
		cache.Set(key, entry)
	}
}

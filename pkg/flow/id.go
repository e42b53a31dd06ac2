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

import "github.com/google/uuid"

// newID returns a time-ordered unique identifier, used for workflowId,
// stepId, scopeId and decisionId alike. UUIDv7 embeds a millisecond
// timestamp in its high bits, matching the teacher's use of uuid.New() for
// trace IDs (executor.go) while giving callers sortable, roughly
// chronological identifiers for free.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the entropy source is broken; fall back
		// to a random v4 rather than panicking inside engine plumbing.
		id = uuid.New()
	}
	return id.String()
}

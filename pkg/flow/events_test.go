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

import "testing"

func TestCombineSinksFansOutToEvery(t *testing.T) {
	var a, b []EventType
	combined := CombineSinks(
		func(ev WorkflowEvent) { a = append(a, ev.Type) },
		func(ev WorkflowEvent) { b = append(b, ev.Type) },
	)

	combined(WorkflowEvent{Type: EventWorkflowStart})
	combined(WorkflowEvent{Type: EventWorkflowSuccess})

	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("expected both sinks to observe 2 events, got a=%v b=%v", a, b)
	}
	if a[0] != EventWorkflowStart || b[1] != EventWorkflowSuccess {
		t.Errorf("unexpected event order: a=%v b=%v", a, b)
	}
}

func TestCombineSinksSkipsNilEntries(t *testing.T) {
	var seen int
	combined := CombineSinks(nil, func(ev WorkflowEvent) { seen++ }, nil)
	combined(WorkflowEvent{Type: EventWorkflowStart})
	if seen != 1 {
		t.Errorf("expected the single non-nil sink to be invoked once, got %d", seen)
	}
}

func TestCombineSinksAllNilReturnsNil(t *testing.T) {
	if CombineSinks(nil, nil) != nil {
		t.Errorf("expected CombineSinks of only nils to itself be nil")
	}
}

func TestCombineSinksSwallowsPanicsFromOneSink(t *testing.T) {
	var secondRan bool
	combined := CombineSinks(
		func(WorkflowEvent) { panic("boom") },
		func(WorkflowEvent) { secondRan = true },
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("CombineSinks must not let a sink's panic escape, got %v", r)
			}
		}()
		combined(WorkflowEvent{Type: EventStepStart})
	}()

	if !secondRan {
		t.Errorf("expected the second sink to still run after the first panicked")
	}
}

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

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tombee/stepflow/pkg/flow"
)

func TestNewEventSinkNilLogger(t *testing.T) {
	if sink := NewEventSink(nil); sink != nil {
		t.Errorf("expected nil sink for nil logger")
	}
}

func TestNewEventSinkLogsStepFailureAtWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	sink := NewEventSink(logger)

	sink(flow.WorkflowEvent{
		Type: flow.EventStepError, WorkflowID: "wf-1", StepID: "s-1",
		Name: "fetch", Error: "boom", DurationMs: 5,
	})

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single JSON log line, got %q: %v", buf.String(), err)
	}
	if line["level"] != "WARN" {
		t.Errorf("expected level WARN, got %v", line["level"])
	}
	if line[WorkflowIDKey] != "wf-1" {
		t.Errorf("expected workflow_id wf-1, got %v", line[WorkflowIDKey])
	}
}

func TestNewEventSinkLogsRetriesExhaustedAtError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	sink := NewEventSink(logger)

	sink(flow.WorkflowEvent{
		Type: flow.EventStepRetriesExhausted, WorkflowID: "wf-1", StepID: "s-1",
		Name: "fetch", Attempts: 3, LastError: "timeout",
	})

	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("expected ERROR level log, got %q", buf.String())
	}
}

func TestNewEventSinkRoutineEventsAreQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	sink := NewEventSink(logger)

	sink(flow.WorkflowEvent{Type: flow.EventStepStart, WorkflowID: "wf-1", StepID: "s-1"})

	if buf.Len() != 0 {
		t.Errorf("expected step_start to log at trace level (suppressed at info), got %q", buf.String())
	}
}

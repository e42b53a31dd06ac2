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

package result

import "testing"

func TestIsStepTimeoutError(t *testing.T) {
	err := NewStepTimeoutError(50, "fetch")
	if !IsStepTimeoutError(err) {
		t.Fatalf("expected IsStepTimeoutError to recognize its own error")
	}
	if IsStepTimeoutError("not a timeout") {
		t.Fatalf("expected IsStepTimeoutError to reject unrelated values")
	}
	if IsStepTimeoutError(nil) {
		t.Fatalf("expected IsStepTimeoutError(nil) to be false")
	}
}

func TestUnexpectedErrorMessages(t *testing.T) {
	cases := []struct {
		name string
		err  *UnexpectedError
	}{
		{"uncaught", &UnexpectedError{Cause: UnexpectedCause{Type: CauseUncaughtException, Thrown: "boom"}}},
		{"stepfailure", &UnexpectedError{Cause: UnexpectedCause{Type: CauseStepFailure, Origin: "throw", StepError: "NOPE"}}},
		{"rejected", &UnexpectedError{Cause: UnexpectedCause{Type: CausePromiseRejected, Reason: "disconnected"}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.err.Error() == "" {
				t.Fatalf("expected non-empty message")
			}
		})
	}
}

func TestEmptyInputError(t *testing.T) {
	err := &EmptyInputError{}
	if err.Error() == "" {
		t.Fatalf("expected non-empty message")
	}
}

func TestSkippedError(t *testing.T) {
	err := &SkippedError{Reason: "shouldRun"}
	if err.Error() != "workflow skipped: shouldRun" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

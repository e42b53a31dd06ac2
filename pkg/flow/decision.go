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

import "time"

// Decision is the in-band handle trackIf/trackSwitch return (§4.6): a
// workflow body calls TakeBranch once per branch it executes — possibly
// after running the branch's own steps, since "the body marks the branch
// later than it starts executing it" is explicitly allowed — and End exactly
// once to close it out. decisionId is the sole pairing key; decisions may
// nest freely.
type Decision struct {
	sink        EventSink
	workflowID  string
	wfContext   any
	clk         *monotonicClock
	decisionID  string
	start       time.Time
	branchTaken string
	ended       bool
}

func newDecision(sink EventSink, workflowID string, wfContext any, clk *monotonicClock, decisionID, name string) *Decision {
	emit(sink, WorkflowEvent{
		Type: EventDecisionStart, WorkflowID: workflowID, TS: clk.now(),
		DecisionID: decisionID, Name: name, Context: wfContext,
	})
	return &Decision{sink: sink, workflowID: workflowID, wfContext: wfContext, clk: clk, decisionID: decisionID, start: time.Now()}
}

// TakeBranch records that label was taken. The last call before End wins as
// the decision's recorded branchTaken.
func (d *Decision) TakeBranch(label string) {
	emit(d.sink, WorkflowEvent{
		Type: EventDecisionBranch, WorkflowID: d.workflowID, TS: d.clk.now(),
		DecisionID: d.decisionID, BranchLabel: label, Taken: true, Context: d.wfContext,
	})
	d.branchTaken = label
}

// SkipBranch records that label was evaluated but not taken (used by
// TrackSwitch to log the cases that did not match).
func (d *Decision) SkipBranch(label string) {
	emit(d.sink, WorkflowEvent{
		Type: EventDecisionBranch, WorkflowID: d.workflowID, TS: d.clk.now(),
		DecisionID: d.decisionID, BranchLabel: label, Taken: false, Context: d.wfContext,
	})
}

// End closes the decision. Calling End more than once is a no-op — an
// unbalanced extra End is discarded silently rather than corrupting the
// event stream for a consumer that only expects one per start (§4.6).
func (d *Decision) End() {
	if d.ended {
		return
	}
	d.ended = true
	emit(d.sink, WorkflowEvent{
		Type: EventDecisionEnd, WorkflowID: d.workflowID, TS: d.clk.now(),
		DecisionID: d.decisionID, BranchTaken: d.branchTaken,
		DurationMs: time.Since(d.start).Milliseconds(), Context: d.wfContext,
	})
}

// TrackIf starts an if/else decision (§4.6) and immediately records which
// side condition took, since for a plain if/else the branch is known at the
// call site; the caller still controls when End is invoked so steps run
// inside either arm can complete first.
func (h *Handle[E]) TrackIf(decisionID string, condition bool, name string) *Decision {
	d := newDecision(h.sink, h.workflowID, h.wfContext, h.clk, decisionID, name)
	if condition {
		d.TakeBranch("if")
	} else {
		d.TakeBranch("else")
	}
	return d
}

// TrackSwitch starts a multi-branch decision (§4.6). Unlike TrackIf it does
// not pre-select a branch: the caller calls TakeBranch for whichever case
// matched (and, optionally, SkipBranch for cases it ruled out) as its own
// dispatch logic discovers them.
func (h *Handle[E]) TrackSwitch(decisionID, name string) *Decision {
	return newDecision(h.sink, h.workflowID, h.wfContext, h.clk, decisionID, name)
}

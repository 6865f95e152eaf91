package models

import (
	"sync"
	"testing"
)

func TestRecordState_HappyPath(t *testing.T) {
	rs := NewRecordState("post-1")
	for _, s := range []State{StateResolving, StateUploadingMedia, StateUpserting, StateDone} {
		if err := rs.Advance(s); err != nil {
			t.Fatalf("Advance(%s): %v", s, err)
		}
	}
	if !rs.Current().Terminal() {
		t.Errorf("Current() = %s, want terminal", rs.Current())
	}
	if got := len(rs.History()); got != 5 {
		t.Errorf("History() has %d states, want 5", got)
	}
}

func TestRecordState_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		fails State
	}{
		{"skip media", []State{StateResolving}, StateUpserting},
		{"terminal done back to pending", []State{StateResolving, StateUploadingMedia, StateUpserting, StateDone}, StatePending},
		{"terminal error back to pending", []State{StateResolving, StateError}, StatePending},
		{"error after done", []State{StateDone}, StateError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rs := NewRecordState("post-1")
			for _, s := range tc.path {
				if err := rs.Advance(s); err != nil {
					t.Fatalf("Advance(%s): %v", s, err)
				}
			}
			if err := rs.Advance(tc.fails); err == nil {
				t.Errorf("Advance(%s) from %s should fail", tc.fails, rs.Current())
			}
		})
	}
}

func TestRunResult_SummaryAndErrors(t *testing.T) {
	r := NewRunResult("run-1", false)
	var wg sync.WaitGroup
	actions := []Action{ActionCreated, ActionCreated, ActionUpdated, ActionSkipped, ActionError}
	for i, a := range actions {
		wg.Add(1)
		go func(i int, a Action) {
			defer wg.Done()
			r.Append(Outcome{SourceID: string(rune('a' + i)), Action: a})
		}(i, a)
	}
	wg.Wait()

	s := r.Summary()
	if s.Total != 5 || s.Created != 2 || s.Updated != 1 || s.Skipped != 1 || s.Errors != 1 {
		t.Errorf("Summary() = %+v", s)
	}
	if errs := r.Errors(); len(errs) != 1 || errs[0].SourceID != "e" {
		t.Errorf("Errors() = %+v", errs)
	}
	if _, ok := r.Outcome("a"); !ok {
		t.Error("Outcome(a) not found")
	}
}

func TestRunResult_Snapshot(t *testing.T) {
	r := NewRunResult("run-2", true)
	r.Append(Outcome{SourceID: "x", Action: ActionCreated})
	r.AddUndispatched(3)
	r.Abort("ledger unavailable")
	r.Abort("second reason is ignored")
	r.Finish()

	snap := r.Snapshot()
	if !snap.DryRun || snap.Undispatched != 3 || snap.Aborted != "ledger unavailable" {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if snap.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if len(snap.Outcomes) != 1 || snap.Summary.Created != 1 {
		t.Errorf("Snapshot outcomes = %+v", snap.Outcomes)
	}
}

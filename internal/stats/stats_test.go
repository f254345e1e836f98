package stats

import (
	"testing"
	"time"

	"telegram-forwarder/internal/domain/model"
)

func TestRecorder_AccumulatesWithinDay(t *testing.T) {
	r := New()
	day := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return day }

	r.RecordCycle("acct1", model.CycleSession{SessionID: "a", TotalTargets: 3, Successful: 2, Failed: 1, Errors: []string{"x: boom"}})
	r.RecordCycle("acct1", model.CycleSession{SessionID: "b", TotalTargets: 2, Successful: 2})

	summary, ok := r.Summary("acct1")
	if !ok {
		t.Fatalf("expected a summary to exist")
	}
	if summary.Cycles != 2 || summary.Successful != 4 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.RecentErrors) != 1 || summary.RecentErrors[0] != "x: boom" {
		t.Fatalf("unexpected recent errors: %v", summary.RecentErrors)
	}
}

func TestRecorder_RollsOverToNewDay(t *testing.T) {
	r := New()
	d1 := time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return d1 }
	r.RecordCycle("acct1", model.CycleSession{Successful: 1})

	d2 := time.Date(2026, 1, 6, 0, 1, 0, 0, time.UTC)
	r.clock = func() time.Time { return d2 }
	r.RecordCycle("acct1", model.CycleSession{Successful: 5})

	summary, _ := r.Summary("acct1")
	if summary.Day != "2026-01-06" || summary.Cycles != 1 || summary.Successful != 5 {
		t.Fatalf("expected fresh day's counters only, got %+v", summary)
	}
}

func TestRecorder_RecentErrorsBounded(t *testing.T) {
	r := New()
	r.clock = func() time.Time { return time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) }
	for i := 0; i < recentErrorsCap+5; i++ {
		r.RecordCycle("acct1", model.CycleSession{Errors: []string{"err"}})
	}
	summary, _ := r.Summary("acct1")
	if len(summary.RecentErrors) != recentErrorsCap {
		t.Fatalf("expected ring bounded to %d, got %d", recentErrorsCap, len(summary.RecentErrors))
	}
}

func TestRecorder_SummaryMissingAccount(t *testing.T) {
	r := New()
	if _, ok := r.Summary("nope"); ok {
		t.Fatalf("expected no summary for an untracked account")
	}
}

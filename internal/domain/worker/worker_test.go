package worker

import (
	"context"
	"testing"
	"time"

	"telegram-forwarder/internal/domain/classify"
)

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateInit:       "init",
		StateAuth:       "auth",
		StateReady:      "ready",
		StateRunning:    "running",
		StateWaiting:    "waiting",
		StateTerminated: "terminated",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestPreview_TruncatesLongText(t *testing.T) {
	short := "hello"
	if got := preview(short); got != short {
		t.Fatalf("preview(short) = %q, want unchanged", got)
	}

	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	got := preview(long)
	if len([]rune(got)) != 81 { // 80 chars + ellipsis rune
		t.Fatalf("preview(long) length = %d, want 81", len([]rune(got)))
	}
}

func TestSeedFor_DeterministicAndVariesByAttempt(t *testing.T) {
	a := seedFor("acct1", "https://t.me/x", 1)
	b := seedFor("acct1", "https://t.me/x", 1)
	if a != b {
		t.Fatalf("seedFor not deterministic: %d != %d", a, b)
	}
	if c := seedFor("acct1", "https://t.me/x", 2); c == a {
		t.Fatalf("seedFor did not vary by attempt")
	}
}

func TestWorker_Sleep_CancelledByContext(t *testing.T) {
	w := &Worker{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if w.sleep(ctx, 5*time.Second) {
		t.Fatalf("sleep should report false on an already-cancelled context")
	}
}

func TestWorker_Sleep_ZeroDurationNonCancelled(t *testing.T) {
	w := &Worker{}
	if !w.sleep(context.Background(), 0) {
		t.Fatalf("sleep(0) on a live context should return true immediately")
	}
}

func TestWorker_Run_StopsWhenSnapshotReportsExpired(t *testing.T) {
	w := New("acct1", nil, nil, nil, classify.RetryPolicy{}, func() Snapshot {
		return Snapshot{Expired: true}
	}, nil)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not terminate on an expired snapshot")
	}

	if got := w.State(); got != StateTerminated {
		t.Fatalf("state = %v, want %v", got, StateTerminated)
	}
}

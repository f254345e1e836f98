package supervisor

import (
	"path/filepath"
	"testing"
	"time"

	"telegram-forwarder/internal/domain/model"
	"telegram-forwarder/internal/store"
)

func TestDecideTransition(t *testing.T) {
	cases := []struct {
		name      string
		known     bool
		prevStart bool
		effective bool
		want      transition
	}{
		{"new account, effectively started", false, false, true, transitionStart},
		{"new account, not started", false, false, false, transitionNone},
		{"toggled on", true, false, true, transitionStart},
		{"toggled off", true, true, false, transitionStop},
		{"expired while started", true, true, false, transitionStop},
		{"stays started", true, true, true, transitionNone},
		{"stays stopped", true, false, false, transitionNone},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := decideTransition(c.known, c.prevStart, c.effective)
			if got != c.want {
				t.Fatalf("decideTransition(%v, %v, %v) = %v, want %v", c.known, c.prevStart, c.effective, got, c.want)
			}
		})
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(
		filepath.Join(dir, "credentials.json"),
		filepath.Join(dir, "targets.json"),
		filepath.Join(dir, "operators.json"),
		filepath.Join(dir, "global_policy.json"),
		12345,
	)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return s
}

func TestSnapshotFor_EnrolledAccountModeAndTargets(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if err := s.EnrollAccount("acct1", 1, "hash", "+100000", "", now); err != nil {
		t.Fatalf("EnrollAccount: %v", err)
	}
	if err := s.AddTargets("acct1", []string{"https://t.me/example"}, now); err != nil {
		t.Fatalf("AddTargets: %v", err)
	}

	sup := New(Options{Store: s})
	snap := sup.snapshotFor("acct1")()

	if snap.Mode != model.ModePreserveOriginal {
		t.Fatalf("expected enrolment mode %v, got %v", model.ModePreserveOriginal, snap.Mode)
	}
	if len(snap.Targets) != 1 || snap.Targets[0].URL != "https://t.me/example" {
		t.Fatalf("unexpected targets: %+v", snap.Targets)
	}
}

func TestSnapshotFor_HonorsExplicitMode(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if err := s.EnrollAccount("acct1", 1, "hash", "+100000", "", now); err != nil {
		t.Fatalf("EnrollAccount: %v", err)
	}
	if err := s.SetForwardMode("acct1", model.ModeSilent, now); err != nil {
		t.Fatalf("SetForwardMode: %v", err)
	}

	sup := New(Options{Store: s})
	snap := sup.snapshotFor("acct1")()

	if snap.Mode != model.ModeSilent {
		t.Fatalf("expected explicit mode to win over global default, got %v", snap.Mode)
	}
}

func TestSnapshotFor_UnknownAccountReturnsZeroValue(t *testing.T) {
	s := newTestStore(t)
	sup := New(Options{Store: s})
	snap := sup.snapshotFor("missing")()
	if snap.Targets != nil || snap.Mode != 0 {
		t.Fatalf("expected zero-value snapshot for unknown account, got %+v", snap)
	}
}

func TestDecideTransition_StopsExpiredAccount(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if err := s.EnrollAccount("acct1", 1, "hash", "+100000", "", now); err != nil {
		t.Fatalf("EnrollAccount: %v", err)
	}
	if err := s.SetStart("acct1", true, now); err != nil {
		t.Fatalf("SetStart: %v", err)
	}

	sup := New(Options{Store: s})
	accounts := s.Accounts()
	acc := accounts["acct1"]
	if !acc.EffectiveStart(now) {
		t.Fatalf("expected account to be effectively started before expiry")
	}

	past := now.Add(-24 * time.Hour)
	if err := s.SetExpiry("acct1", &past, now); err != nil {
		t.Fatalf("SetExpiry: %v", err)
	}
	accounts = s.Accounts()
	acc = accounts["acct1"]
	if acc.EffectiveStart(now) {
		t.Fatalf("expected account to be forced stopped once expired")
	}
	if !acc.IsExpired(now) {
		t.Fatalf("expected account to report expired")
	}

	// Seeded state claimed the account was running; reconciliation should
	// decide to stop it now that it has expired.
	sup.mu.Lock()
	sup.configs["acct1"] = accountConfig{start: true, expired: false}
	sup.mu.Unlock()

	got := decideTransition(true, sup.configs["acct1"].start, acc.EffectiveStart(now))
	if got != transitionStop {
		t.Fatalf("expected transitionStop for expired account, got %v", got)
	}
}

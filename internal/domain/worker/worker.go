// Package worker implements the per-account forwarding worker of §4.4: a
// state machine (INIT→AUTH→READY→RUNNING⇄WAITING→TERMINATED) driving the
// fixed per-cycle algorithm (snapshot config, fetch latest Saved Messages,
// forward to each active target under the retry policy, sleep, repeat).
//
// Grounded on original_source/multi_user.py's run_user_loop (the
// snapshot-at-cycle-boundary rule, the 30s skip-sleep when no targets are
// configured, and the delay-driven cycle cadence), reimplemented as an
// explicit state machine instead of a single while-loop function, in the
// idiom of the teacher's one-goroutine-per-session workers
// (internal/app/runner.go, not copied — that file assumes exactly one
// client per process).
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/tg"

	"telegram-forwarder/internal/domain/classify"
	"telegram-forwarder/internal/domain/forward"
	"telegram-forwarder/internal/domain/model"
	"telegram-forwarder/internal/domain/resolve"
	"telegram-forwarder/internal/domain/urlparse"
	"telegram-forwarder/internal/infra/logger"
)

// State is a worker's position in the §4.4 state machine.
type State int

const (
	StateInit State = iota
	StateAuth
	StateReady
	StateRunning
	StateWaiting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAuth:
		return "auth"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateTerminated:
		return "terminated"
	default:
		return "init"
	}
}

// Snapshot is the account configuration as read at one cycle boundary (§4.4
// step 1): targets, mode, and delay are frozen for the whole cycle so a
// mid-cycle config edit only takes effect at the next cycle. Expired is
// re-evaluated against the wall clock on every snapshot (not frozen from
// enrolment), so a worker notices its own expiry without waiting on a
// document edit or an admin-triggered reload (§3, S6).
type Snapshot struct {
	Targets []model.Target
	Mode    model.ForwardMode
	Delay   time.Duration
	Expired bool
}

// SnapshotFunc is supplied by the supervisor and returns the account's
// current live configuration; called exactly once per cycle.
type SnapshotFunc func() Snapshot

// StatsRecorder receives a completed cycle's summary (§4.8). Implemented by
// internal/stats; kept as a narrow interface here to avoid a dependency
// cycle between worker and stats.
type StatsRecorder interface {
	RecordCycle(accountID string, session model.CycleSession)
}

// noopStats discards cycle summaries; used when the caller wires no recorder.
type noopStats struct{}

func (noopStats) RecordCycle(string, model.CycleSession) {}

// Worker drives one account's forwarding loop. One Worker per account,
// created and owned by the supervisor (§4.5).
type Worker struct {
	accountID string
	api       *tg.Client
	forwarder *forward.Forwarder
	resolver  *resolve.Cache
	retry     classify.RetryPolicy
	snapshot  SnapshotFunc
	stats     StatsRecorder

	mu           sync.RWMutex
	state        State
	successCount int
	failedCount  int
	lastTotal    int
	startTime    time.Time
}

// New builds a Worker for accountID. stats may be nil, in which case cycle
// summaries are discarded (used by callers that don't need §4.8 reporting,
// e.g. tests).
func New(accountID string, api *tg.Client, forwarder *forward.Forwarder, resolver *resolve.Cache, retry classify.RetryPolicy, snapshot SnapshotFunc, stats StatsRecorder) *Worker {
	if stats == nil {
		stats = noopStats{}
	}
	return &Worker{
		accountID: accountID,
		api:       api,
		forwarder: forwarder,
		resolver:  resolver,
		retry:     retry,
		snapshot:  snapshot,
		stats:     stats,
		state:     StateReady,
	}
}

// State returns the worker's current state (thread-safe snapshot read).
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Stats is a thread-safe snapshot of worker-visible accumulators (§4.4).
type Stats struct {
	SuccessCount int
	FailedCount  int
	LastTotal    int
	StartTime    time.Time
}

func (w *Worker) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Stats{SuccessCount: w.successCount, FailedCount: w.failedCount, LastTotal: w.lastTotal, StartTime: w.startTime}
}

// Run drives the RUNNING⇄WAITING loop until ctx is cancelled, at which point
// the worker transitions to TERMINATED and returns. Auth/session setup is the
// caller's responsibility (internal/telegram/client) — Run assumes the
// client is already authorised.
func (w *Worker) Run(ctx context.Context) {
	w.mu.Lock()
	if w.startTime.IsZero() {
		w.startTime = time.Now()
	}
	w.mu.Unlock()

	cycleNumber := 0
	for {
		if ctx.Err() != nil {
			w.setState(StateTerminated)
			return
		}

		w.setState(StateRunning)
		snap := w.snapshot()
		cycleNumber++

		if snap.Expired {
			logger.Sink(logger.SinkMain).Sugar().Infow("account expired, stopping worker", "account", w.accountID)
			w.setState(StateTerminated)
			return
		}

		if len(snap.Targets) == 0 {
			if !w.sleep(ctx, 30*time.Second) {
				w.setState(StateTerminated)
				return
			}
			continue
		}

		w.runCycle(ctx, cycleNumber, snap)
		if ctx.Err() != nil {
			w.setState(StateTerminated)
			return
		}

		w.setState(StateWaiting)
		if !w.sleep(ctx, snap.Delay) {
			w.setState(StateTerminated)
			return
		}
	}
}

// sleep waits for d or ctx cancellation, whichever comes first. Returns false
// if ctx was cancelled (an interrupt point per §4.4).
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// runCycle executes the §4.4 cycle algorithm steps 3-5 against a single
// frozen snapshot.
func (w *Worker) runCycle(ctx context.Context, cycleNumber int, snap Snapshot) {
	session := model.CycleSession{
		SessionID: fmt.Sprintf("%s-cycle-%d", w.accountID, cycleNumber),
		StartTime: time.Now(),
	}

	msg, err := w.forwarder.LatestSavedMessage(ctx)
	if err != nil {
		session.Errors = append(session.Errors, err.Error())
		session.EndTime = time.Now()
		w.finishCycle(session)
		return
	}
	session.SourcePreview = preview(msg.Message)
	session.TotalTargets = len(snap.Targets)

	for _, target := range snap.Targets {
		if ctx.Err() != nil {
			break
		}

		result, lastRetryAfter := w.forwardOneTarget(ctx, msg, target, snap.Mode)
		if result.Success {
			session.Successful++
		} else {
			session.Failed++
			session.Errors = append(session.Errors, fmt.Sprintf("%s: %s", target.URL, result.Detail))
		}

		wait := snap.Delay
		if lastRetryAfter > 0 {
			wait = time.Duration(lastRetryAfter) * time.Second
		}
		if !w.sleep(ctx, wait) {
			break
		}
	}

	session.EndTime = time.Now()
	w.finishCycle(session)
}

// forwardOneTarget resolves target and forwards msg to it, retrying per the
// classifier's policy (§4.3) until it succeeds, exhausts retries, or hits a
// non-retryable error kind. Returns the final attempt's result and its
// retry_after (for the inter-target sleep rule, §4.4 step 4d).
func (w *Worker) forwardOneTarget(ctx context.Context, msg *tg.Message, target model.Target, mode model.ForwardMode) (forward.Result, int64) {
	parsed := urlparse.Parse(target.URL)
	resolved, err := w.resolver.Resolve(ctx, w.api, parsed)
	if err != nil {
		logger.Sink(logger.SinkError).Sugar().Warnw("resolve target failed", "account", w.accountID, "target", target.URL, "err", err)
		return forward.Result{Success: false, ErrorKind: classify.KindInvalidTarget, Detail: err.Error()}, 0
	}

	var last forward.Result
	for attempt := 1; ; attempt++ {
		last = w.forwarder.ForwardTo(ctx, msg, resolved, mode, seedFor(w.accountID, target.URL, attempt))
		if last.Success {
			return last, 0
		}

		decision := w.retry.Next(classify.Classified{Kind: last.ErrorKind, RetryAfter: time.Duration(last.RetryAfter) * time.Second}, attempt)
		if !decision.Retry {
			return last, last.RetryAfter
		}
		if !w.sleep(ctx, decision.Wait) {
			return last, last.RetryAfter
		}
	}
}

func (w *Worker) finishCycle(session model.CycleSession) {
	w.mu.Lock()
	w.successCount += session.Successful
	w.failedCount += session.Failed
	w.lastTotal = session.TotalTargets
	w.mu.Unlock()
	w.stats.RecordCycle(w.accountID, session)
}

func preview(text string) string {
	const maxLen = 80
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "…"
}

// seedFor derives a per-(account,target,attempt) seed for random_id
// generation: the same account, target and attempt always give the same
// seed, and each retry attempt gets a distinct one so Telegram does not
// deduplicate a retried send as a repeat of an earlier attempt.
func seedFor(accountID, url string, attempt int) int64 {
	h := int64(0)
	for _, r := range accountID + "|" + url {
		h = h*31 + int64(r)
	}
	return h + int64(attempt)
}

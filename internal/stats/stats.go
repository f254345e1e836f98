// Package stats implements the Logging & Statistics responsibilities of
// §4.8: per-cycle summaries written to the stats sink, a bounded recent-
// errors ring per account, and a daily aggregate rollup. Logging here is
// descriptive, not behavioural — nothing in the forwarding path consults
// these numbers to make a decision.
//
// Grounded on original_source/multi_user.py's per-user rolling error window
// and daily-summary aggregation, reimplemented against the teacher's
// per-sink zap logger (internal/infra/logger) instead of bespoke file
// writes.
package stats

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"telegram-forwarder/internal/domain/model"
	"telegram-forwarder/internal/infra/logger"
)

// recentErrorsCap bounds the per-account ring of recent cycle errors kept in
// memory for the current day and returned by Summary; the admin bot's
// /accounts view shows only the day's success and failure counts.
const recentErrorsCap = 20

// accountDay accumulates one account's counters for the current calendar day.
type accountDay struct {
	day            string
	cycles         int
	successful     int
	failed         int
	recentErrors   []string
	lastCyclEnd    time.Time
}

// Recorder implements worker.StatsRecorder: it logs every completed cycle to
// the stats sink and maintains a rolling daily summary per account, emitting
// a digest line whenever the calendar day rolls over.
type Recorder struct {
	mu    sync.Mutex
	days  map[string]*accountDay
	clock func() time.Time
}

// New builds a Recorder. clock defaults to time.Now; tests may override it.
func New() *Recorder {
	return &Recorder{days: map[string]*accountDay{}, clock: time.Now}
}

// RecordCycle logs session's outcome and folds it into accountID's running
// daily summary (§4.8).
func (r *Recorder) RecordCycle(accountID string, session model.CycleSession) {
	now := r.clock()
	today := now.Format("2006-01-02")

	logger.Sink(logger.SinkStats).Info("cycle complete",
		zap.String("account", accountID),
		zap.String("session_id", session.SessionID),
		zap.Int("total_targets", session.TotalTargets),
		zap.Int("successful", session.Successful),
		zap.Int("failed", session.Failed),
		zap.Duration("duration", session.Duration(now)),
	)
	for _, e := range session.Errors {
		logger.Sink(logger.SinkError).Warn("forward attempt failed",
			zap.String("account", accountID), zap.String("detail", e))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	day, ok := r.days[accountID]
	if !ok || day.day != today {
		if ok {
			r.emitDailySummary(accountID, day)
		}
		day = &accountDay{day: today}
		r.days[accountID] = day
	}

	day.cycles++
	day.successful += session.Successful
	day.failed += session.Failed
	day.lastCyclEnd = session.EndTime
	for _, e := range session.Errors {
		day.recentErrors = append(day.recentErrors, e)
	}
	if over := len(day.recentErrors) - recentErrorsCap; over > 0 {
		day.recentErrors = day.recentErrors[over:]
	}
}

func (r *Recorder) emitDailySummary(accountID string, day *accountDay) {
	logger.Sink(logger.SinkStats).Info("daily summary",
		zap.String("account", accountID),
		zap.String("day", day.day),
		zap.Int("cycles", day.cycles),
		zap.Int("successful", day.successful),
		zap.Int("failed", day.failed),
	)
}

// DailySummary is a point-in-time view of an account's current-day counters,
// surfaced by the admin bot's status command (§4.7).
type DailySummary struct {
	Day          string
	Cycles       int
	Successful   int
	Failed       int
	RecentErrors []string
	LastCycleEnd time.Time
}

// Summary returns accountID's current daily summary. The second return value
// is false if no cycle has been recorded yet today.
func (r *Recorder) Summary(accountID string) (DailySummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day, ok := r.days[accountID]
	if !ok {
		return DailySummary{}, false
	}
	out := DailySummary{
		Day:          day.day,
		Cycles:       day.cycles,
		Successful:   day.successful,
		Failed:       day.failed,
		LastCycleEnd: day.lastCyclEnd,
	}
	out.RecentErrors = append(out.RecentErrors, day.recentErrors...)
	return out, true
}

// FlushAll emits a daily-summary line for every tracked account regardless of
// whether the day rolled over; used at shutdown so the day's partial
// counters aren't lost silently.
func (r *Recorder) FlushAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for accountID, day := range r.days {
		r.emitDailySummary(accountID, day)
	}
}

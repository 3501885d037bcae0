// Package reminder fires tiered appointment reminders, once per threshold.
//
// A bucket (appointment, threshold) fires on the first tick where the
// appointment is at most threshold minutes away, so a skipped or late tick
// still fires it. When several buckets become due together only the
// tightest one is shown.
package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/carewatch/internal/clock"
	apperrors "github.com/gmsas95/carewatch/internal/errors"
	"github.com/gmsas95/carewatch/internal/lifecycle"
	"github.com/gmsas95/carewatch/internal/metrics"
	"github.com/gmsas95/carewatch/internal/models"
	"github.com/gmsas95/carewatch/internal/poller"
)

// DefaultInterval is the scheduler's tick period
const DefaultInterval = 60 * time.Second

// Title is the notification title for every reminder
const Title = "Appointment reminder"

const loopName = "reminder_scheduler"

// DefaultThresholds are the reminder lead times in minutes: one day, one hour, fifteen minutes
var DefaultThresholds = []int{1440, 60, 15}

// Dispatcher shows a notification. Implementations must not fail loudly.
type Dispatcher interface {
	Dispatch(ctx context.Context, title, body, tag string)
}

// Scheduler starts reminder sessions. Each bucket produces at most one
// notification: when several thresholds are due in the same pass only the
// tightest is dispatched and the looser ones are closed as superseded, and
// buckets reached after the appointment has started are closed as expired.
type Scheduler struct {
	dispatcher Dispatcher
	buckets    BucketStore
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics
	interval   time.Duration
	thresholds []int
	runOnStart bool
}

// NewScheduler creates a reminder scheduler with in-memory fired-state
func NewScheduler(dispatcher Dispatcher, clk clock.Clock, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		dispatcher: dispatcher,
		buckets:    NewMemoryBuckets(),
		clock:      clk,
		logger:     logger,
		interval:   DefaultInterval,
		thresholds: normalizeThresholds(DefaultThresholds),
	}
}

// WithInterval sets the tick period
func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.interval = d
	}
	return s
}

// WithThresholds replaces the reminder lead times. Non-positive and duplicate values are dropped.
func (s *Scheduler) WithThresholds(minutes []int) *Scheduler {
	if t := normalizeThresholds(minutes); len(t) > 0 {
		s.thresholds = t
	}
	return s
}

// WithBuckets sets the fired-state store
func (s *Scheduler) WithBuckets(store BucketStore) *Scheduler {
	if store != nil {
		s.buckets = store
	}
	return s
}

// WithMetrics sets the metrics sink
func (s *Scheduler) WithMetrics(m *metrics.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// WithRunOnStart makes sessions tick once immediately
func (s *Scheduler) WithRunOnStart(v bool) *Scheduler {
	s.runOnStart = v
	return s
}

// Thresholds returns the configured lead times, tightest first
func (s *Scheduler) Thresholds() []int {
	return append([]int(nil), s.thresholds...)
}

// Session is one running scheduler
type Session struct {
	scheduler *Scheduler
	ctx       context.Context
	loop      *poller.Loop
	stopped   atomic.Bool

	mu      sync.Mutex
	appts   []models.Appointment
	pending []models.Appointment
	replace bool
}

// Start begins scheduling reminders for appts
func (s *Scheduler) Start(ctx context.Context, appts []models.Appointment) *Session {
	sess := &Session{
		scheduler: s,
		ctx:       ctx,
		appts:     append([]models.Appointment(nil), appts...),
	}
	s.metrics.SetWatched(loopName, len(appts))

	sess.loop = poller.Start(ctx, poller.Config{
		Name:       loopName,
		Interval:   s.interval,
		RunOnStart: s.runOnStart,
	}, s.clock, s.logger, s.metrics, sess.tick)

	s.logger.Info("Reminder scheduler started",
		zap.Int("appointments", len(appts)),
		zap.Ints("thresholds", s.thresholds),
	)
	return sess
}

// Stop ends the session. Safe to call more than once.
func (sess *Session) Stop() {
	if sess.stopped.CompareAndSwap(false, true) {
		sess.scheduler.logger.Info("Reminder scheduler stopped")
	}
	sess.loop.Stop()
}

// Done is closed when the session's loop has exited
func (sess *Session) Done() <-chan struct{} {
	return sess.loop.Done()
}

// Tick runs one scheduling pass now. It returns false if the pass was skipped.
func (sess *Session) Tick(ctx context.Context) bool {
	return sess.loop.Tick(ctx)
}

// Replace swaps the watched appointments at the start of the next tick.
// Fired-state is kept, so refreshed appointments are not reminded twice.
func (sess *Session) Replace(appts []models.Appointment) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.pending = append([]models.Appointment(nil), appts...)
	sess.replace = true
}

// UpdateStatus applies a status change observed elsewhere, such as by the status monitor
func (sess *Session) UpdateStatus(appointmentID int64, status models.Status) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for i := range sess.appts {
		if sess.appts[i].AppointmentID == appointmentID {
			sess.appts[i].Status = status
		}
	}
}

func (sess *Session) halted() bool {
	return sess.stopped.Load() || sess.ctx.Err() != nil
}

func (sess *Session) tick(ctx context.Context) {
	sess.mu.Lock()
	if sess.replace {
		sess.appts = sess.pending
		sess.pending = nil
		sess.replace = false
		sess.scheduler.metrics.SetWatched(loopName, len(sess.appts))
	}
	work := append([]models.Appointment(nil), sess.appts...)
	sess.mu.Unlock()

	now := sess.scheduler.clock.Now()
	for _, appt := range work {
		if sess.halted() {
			return
		}
		if appt.Status.IsTerminal() {
			continue
		}
		sess.process(ctx, appt, now)
	}
}

// process claims every due bucket of one appointment. Thresholds are
// ordered tightest first, so the first due bucket is the one to show.
func (sess *Session) process(ctx context.Context, appt models.Appointment, now time.Time) {
	s := sess.scheduler
	delta := lifecycle.DeltaMinutes(appt.ScheduledTime, now)

	shown := false
	for _, threshold := range s.thresholds {
		if delta > int64(threshold) {
			continue
		}
		if sess.halted() {
			return
		}

		outcome := OutcomeSent
		switch {
		case delta < 0:
			outcome = OutcomeExpired
		case shown:
			outcome = OutcomeSuperseded
		}
		// the tightest due bucket decides; looser ones never show once it is due
		shown = true

		bucket := models.ReminderBucket{AppointmentID: appt.AppointmentID, ThresholdMinutes: threshold}
		claimed, err := s.buckets.Claim(ctx, bucket, outcome, now)
		if err != nil {
			s.logger.Warn("Failed to claim reminder bucket, will retry next tick",
				zap.String("tag", bucket.Tag()),
				zap.Error(apperrors.Transient("claim reminder bucket", err)),
			)
			continue
		}
		if !claimed {
			continue
		}
		s.metrics.ObserveReminder(threshold, string(outcome))

		if outcome != OutcomeSent {
			s.logger.Debug("Reminder bucket closed without dispatch",
				zap.String("tag", bucket.Tag()),
				zap.String("outcome", string(outcome)),
			)
			continue
		}
		if sess.halted() {
			sess.release(bucket)
			return
		}
		s.logger.Info("Dispatching appointment reminder",
			zap.String("tag", bucket.Tag()),
			zap.Int64("minutes_until", delta),
		)
		if s.dispatcher != nil {
			s.dispatcher.Dispatch(ctx, Title, Body(appt, threshold), bucket.Tag())
		}
	}
}

// release returns a bucket claimed as sent by a pass that stopped before
// dispatching it, so a later session can still deliver the reminder
func (sess *Session) release(bucket models.ReminderBucket) {
	s := sess.scheduler
	ctx, cancel := context.WithTimeout(context.WithoutCancel(sess.ctx), 5*time.Second)
	defer cancel()
	if err := s.buckets.Release(ctx, bucket); err != nil {
		s.logger.Warn("Failed to release undelivered reminder bucket",
			zap.String("tag", bucket.Tag()),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Released undelivered reminder bucket", zap.String("tag", bucket.Tag()))
}

// Body renders the reminder text for one threshold
func Body(appt models.Appointment, thresholdMinutes int) string {
	when := appt.ScheduledTime.Format("Mon Jan 2 15:04")
	msg := fmt.Sprintf("Appointment #%d starts in %s (%s)", appt.AppointmentID, lead(thresholdMinutes), when)
	if appt.Reason != "" {
		msg += ": " + appt.Reason
	}
	return msg
}

func lead(minutes int) string {
	switch {
	case minutes%1440 == 0:
		return plural(minutes/1440, "day")
	case minutes%60 == 0:
		return plural(minutes/60, "hour")
	default:
		return plural(minutes, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func normalizeThresholds(minutes []int) []int {
	seen := make(map[int]bool, len(minutes))
	out := make([]int, 0, len(minutes))
	for _, m := range minutes {
		if m <= 0 || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

// Package monitor keeps persisted appointment statuses in step with wall-clock time.
package monitor

import (
	"context"
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

// DefaultInterval is the monitor's tick period
const DefaultInterval = 60 * time.Second

const loopName = "status_monitor"

// Persister writes an appointment record back to the backend
type Persister interface {
	UpdateAppointment(ctx context.Context, appt models.Appointment) error
}

// ChangeFunc is called after a status change has been persisted
type ChangeFunc func(updated models.Appointment, previous models.Status)

// StatusMonitor starts monitoring sessions
type StatusMonitor struct {
	persister  Persister
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics
	interval   time.Duration
	runOnStart bool
}

// NewStatusMonitor creates a monitor writing through persister
func NewStatusMonitor(persister Persister, clk clock.Clock, logger *zap.Logger) *StatusMonitor {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusMonitor{
		persister: persister,
		clock:     clk,
		logger:    logger,
		interval:  DefaultInterval,
	}
}

// WithInterval sets the tick period
func (m *StatusMonitor) WithInterval(d time.Duration) *StatusMonitor {
	if d > 0 {
		m.interval = d
	}
	return m
}

// WithMetrics sets the metrics sink
func (m *StatusMonitor) WithMetrics(mt *metrics.Metrics) *StatusMonitor {
	m.metrics = mt
	return m
}

// WithRunOnStart makes sessions tick once immediately
func (m *StatusMonitor) WithRunOnStart(v bool) *StatusMonitor {
	m.runOnStart = v
	return m
}

// Session is one running monitor over a private copy of the appointments
type Session struct {
	monitor  *StatusMonitor
	onChange ChangeFunc
	ctx      context.Context
	loop     *poller.Loop
	stopped  atomic.Bool

	mu      sync.Mutex
	appts   []models.Appointment
	pending []models.Appointment
	replace bool
	// terminal statuses this session has persisted, by appointment id
	settled map[int64]models.Status
}

// Start begins watching appts. The caller's slice is copied and never mutated.
func (m *StatusMonitor) Start(ctx context.Context, appts []models.Appointment, onChange ChangeFunc) *Session {
	s := &Session{
		monitor:  m,
		onChange: onChange,
		ctx:      ctx,
		appts:    copyAppointments(appts),
		settled:  make(map[int64]models.Status),
	}
	m.metrics.SetWatched(loopName, len(appts))

	s.loop = poller.Start(ctx, poller.Config{
		Name:       loopName,
		Interval:   m.interval,
		RunOnStart: m.runOnStart,
	}, m.clock, m.logger, m.metrics, s.tick)

	m.logger.Info("Status monitor started",
		zap.Int("appointments", len(appts)),
		zap.Duration("interval", m.interval),
	)
	return s
}

// Stop ends the session. Safe to call more than once; an in-flight tick's
// results are discarded.
func (s *Session) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		s.monitor.logger.Info("Status monitor stopped")
	}
	s.loop.Stop()
}

// Done is closed when the session's loop has exited
func (s *Session) Done() <-chan struct{} {
	return s.loop.Done()
}

// Tick runs one monitoring pass now. It returns false if the pass was skipped.
func (s *Session) Tick(ctx context.Context) bool {
	return s.loop.Tick(ctx)
}

// Replace swaps the watched appointments at the start of the next tick.
// A record that comes back non-terminal after this session persisted a
// terminal status for it keeps the terminal status, so a list fetched while
// the write was in flight cannot reopen it.
func (s *Session) Replace(appts []models.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = copyAppointments(appts)
	s.replace = true
}

// Snapshot returns a copy of the session's current view
func (s *Session) Snapshot() []models.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyAppointments(s.appts)
}

func (s *Session) halted() bool {
	return s.stopped.Load() || s.ctx.Err() != nil
}

func (s *Session) tick(ctx context.Context) {
	s.mu.Lock()
	if s.replace {
		s.appts = s.keepSettled(s.pending)
		s.pending = nil
		s.replace = false
		s.monitor.metrics.SetWatched(loopName, len(s.appts))
	}
	work := copyAppointments(s.appts)
	s.mu.Unlock()

	now := s.monitor.clock.Now()
	logger := s.monitor.logger

	for i, appt := range work {
		if s.halted() {
			return
		}
		if appt.Status.IsTerminal() {
			continue
		}
		target, changed := lifecycle.Target(appt, now)
		if !changed {
			continue
		}

		updated := appt
		updated.Status = target
		err := s.monitor.persister.UpdateAppointment(ctx, updated)
		if s.halted() {
			logger.Debug("Discarding status update after stop", zap.Int64("appointment_id", appt.AppointmentID))
			return
		}
		if err != nil {
			s.monitor.metrics.ObserveBackendError("update_appointment")
			logger.Warn("Failed to persist status change, will retry next tick",
				zap.Int64("appointment_id", appt.AppointmentID),
				zap.String("from", string(appt.Status)),
				zap.String("to", string(target)),
				zap.Error(apperrors.Transient("update appointment", err)),
			)
			continue
		}

		work[i] = updated
		s.apply(updated)
		s.monitor.metrics.ObserveTransition(string(appt.Status), string(target))
		logger.Info("Appointment status changed",
			zap.Int64("appointment_id", appt.AppointmentID),
			zap.String("from", string(appt.Status)),
			zap.String("to", string(target)),
		)
		if s.onChange != nil {
			s.notify(updated, appt.Status)
		}
	}
}

// keepSettled must be called with s.mu held
func (s *Session) keepSettled(appts []models.Appointment) []models.Appointment {
	live := make(map[int64]models.Status, len(s.settled))
	for i := range appts {
		id := appts[i].AppointmentID
		status, ok := s.settled[id]
		if !ok {
			continue
		}
		live[id] = status
		if !appts[i].Status.IsTerminal() {
			s.monitor.logger.Debug("Keeping persisted terminal status over stale record",
				zap.Int64("appointment_id", id),
				zap.String("status", string(status)),
				zap.String("stale", string(appts[i].Status)),
			)
			appts[i].Status = status
		}
	}
	s.settled = live
	return appts
}

func (s *Session) apply(updated models.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if updated.Status.IsTerminal() {
		s.settled[updated.AppointmentID] = updated.Status
	}
	for i := range s.appts {
		if s.appts[i].AppointmentID == updated.AppointmentID {
			s.appts[i].Status = updated.Status
			return
		}
	}
}

func (s *Session) notify(updated models.Appointment, previous models.Status) {
	defer func() {
		if r := recover(); r != nil {
			s.monitor.logger.Error("Panic in status change handler",
				zap.Any("recover", r),
				zap.Int64("appointment_id", updated.AppointmentID),
			)
		}
	}()
	s.onChange(updated, previous)
}

func copyAppointments(appts []models.Appointment) []models.Appointment {
	if appts == nil {
		return nil
	}
	out := make([]models.Appointment, len(appts))
	copy(out, appts)
	return out
}

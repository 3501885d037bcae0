package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/carewatch/internal/clock"
	"github.com/gmsas95/carewatch/internal/models"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakePersister struct {
	mu      sync.Mutex
	writes  []models.Appointment
	fail    map[int64]error
	block   chan struct{}
	entered chan struct{}
}

func (p *fakePersister) UpdateAppointment(ctx context.Context, appt models.Appointment) error {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[appt.AppointmentID]; err != nil {
		return err
	}
	p.writes = append(p.writes, appt)
	return nil
}

func (p *fakePersister) Writes() []models.Appointment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Appointment(nil), p.writes...)
}

type change struct {
	updated  models.Appointment
	previous models.Status
}

type changeLog struct {
	mu      sync.Mutex
	changes []change
}

func (c *changeLog) record(updated models.Appointment, previous models.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change{updated, previous})
}

func (c *changeLog) all() []change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]change(nil), c.changes...)
}

func appt(id int64, offset time.Duration, status models.Status) models.Appointment {
	return models.Appointment{
		AppointmentID: id,
		PatientID:     100 + id,
		PhysicianID:   7,
		ScheduledTime: epoch.Add(offset),
		Status:        status,
	}
}

func newTestMonitor(p Persister, clk clock.Clock) *StatusMonitor {
	// a long interval keeps the loop's own ticker out of the way of direct Tick calls
	return NewStatusMonitor(p, clk, nil).WithInterval(time.Hour)
}

func TestSession_OverdueScheduledBecomesMissed(t *testing.T) {
	clk := clock.NewManual(epoch)
	p := &fakePersister{}
	log := &changeLog{}

	s := newTestMonitor(p, clk).Start(context.Background(),
		[]models.Appointment{appt(1, -45*time.Minute, models.StatusScheduled)}, log.record)
	defer s.Stop()

	require.True(t, s.Tick(context.Background()))

	writes := p.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, models.StatusMissed, writes[0].Status)
	assert.Equal(t, int64(101), writes[0].PatientID, "the full record is written back")

	changes := log.all()
	require.Len(t, changes, 1)
	assert.Equal(t, models.StatusMissed, changes[0].updated.Status)
	assert.Equal(t, models.StatusScheduled, changes[0].previous)
}

func TestSession_RecentScheduledBecomesInProgress(t *testing.T) {
	clk := clock.NewManual(epoch)
	p := &fakePersister{}

	s := newTestMonitor(p, clk).Start(context.Background(),
		[]models.Appointment{appt(2, -10*time.Minute, models.StatusScheduled)}, nil)
	defer s.Stop()

	s.Tick(context.Background())

	require.Len(t, p.Writes(), 1)
	assert.Equal(t, models.StatusInProgress, p.Writes()[0].Status)
	assert.Equal(t, models.StatusInProgress, s.Snapshot()[0].Status)
}

func TestSession_InProgressAdvancesToCompleted(t *testing.T) {
	clk := clock.NewManual(epoch)
	p := &fakePersister{}

	s := newTestMonitor(p, clk).Start(context.Background(),
		[]models.Appointment{appt(3, -10*time.Minute, models.StatusScheduled)}, nil)
	defer s.Stop()

	s.Tick(context.Background())
	clk.Set(epoch.Add(25 * time.Minute))
	s.Tick(context.Background())

	writes := p.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, models.StatusInProgress, writes[0].Status)
	assert.Equal(t, models.StatusCompleted, writes[1].Status)
}

func TestSession_TerminalAndFutureAreLeftAlone(t *testing.T) {
	clk := clock.NewManual(epoch)
	p := &fakePersister{}

	s := newTestMonitor(p, clk).Start(context.Background(), []models.Appointment{
		appt(1, -2*time.Hour, models.StatusCompleted),
		appt(2, -2*time.Hour, models.StatusCancelled),
		appt(3, -2*time.Hour, models.StatusMissed),
		appt(4, 2*time.Hour, models.StatusScheduled),
	}, nil)
	defer s.Stop()

	s.Tick(context.Background())
	s.Tick(context.Background())

	assert.Empty(t, p.Writes())
}

func TestSession_FailedWriteIsRetried(t *testing.T) {
	clk := clock.NewManual(epoch)
	p := &fakePersister{fail: map[int64]error{1: errors.New("connection reset")}}
	log := &changeLog{}

	s := newTestMonitor(p, clk).Start(context.Background(), []models.Appointment{
		appt(1, -10*time.Minute, models.StatusScheduled),
		appt(2, -10*time.Minute, models.StatusScheduled),
	}, log.record)
	defer s.Stop()

	s.Tick(context.Background())
	require.Len(t, p.Writes(), 1, "a failure on one record does not stop the others")
	assert.Equal(t, int64(2), p.Writes()[0].AppointmentID)
	assert.Equal(t, models.StatusScheduled, s.Snapshot()[0].Status)

	p.mu.Lock()
	p.fail = nil
	p.mu.Unlock()

	s.Tick(context.Background())
	require.Len(t, p.Writes(), 2)
	assert.Equal(t, int64(1), p.Writes()[1].AppointmentID)
	assert.Len(t, log.all(), 2)
}

func TestSession_DoesNotMutateCallerSlice(t *testing.T) {
	clk := clock.NewManual(epoch)
	input := []models.Appointment{appt(1, -10*time.Minute, models.StatusScheduled)}

	s := newTestMonitor(&fakePersister{}, clk).Start(context.Background(), input, nil)
	defer s.Stop()
	s.Tick(context.Background())

	assert.Equal(t, models.StatusScheduled, input[0].Status)
}

func TestSession_ReplaceTakesEffectNextTick(t *testing.T) {
	clk := clock.NewManual(epoch)
	p := &fakePersister{}

	s := newTestMonitor(p, clk).Start(context.Background(),
		[]models.Appointment{appt(1, 2*time.Hour, models.StatusScheduled)}, nil)
	defer s.Stop()

	s.Replace([]models.Appointment{appt(9, -10*time.Minute, models.StatusScheduled)})
	assert.Equal(t, int64(1), s.Snapshot()[0].AppointmentID)

	s.Tick(context.Background())

	require.Len(t, p.Writes(), 1)
	assert.Equal(t, int64(9), p.Writes()[0].AppointmentID)
	require.Len(t, s.Snapshot(), 1)
	assert.Equal(t, models.StatusInProgress, s.Snapshot()[0].Status)
}

func TestSession_StaleRefreshDoesNotReopenMissed(t *testing.T) {
	clk := clock.NewManual(epoch)
	p := &fakePersister{}
	log := &changeLog{}
	overdue := appt(1, -45*time.Minute, models.StatusScheduled)

	s := newTestMonitor(p, clk).Start(context.Background(), []models.Appointment{overdue}, log.record)
	defer s.Stop()
	s.Tick(context.Background())
	require.Len(t, p.Writes(), 1)

	// a list fetched before the write landed still says Scheduled
	s.Replace([]models.Appointment{overdue, appt(2, 3*time.Hour, models.StatusScheduled)})
	s.Tick(context.Background())

	assert.Len(t, p.Writes(), 1, "Missed is not written twice")
	assert.Len(t, log.all(), 1)
	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, models.StatusMissed, snap[0].Status)
	assert.Equal(t, models.StatusScheduled, snap[1].Status)
}

func TestSession_StopDiscardsInFlightResult(t *testing.T) {
	clk := clock.NewManual(epoch)
	p := &fakePersister{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	log := &changeLog{}

	s := newTestMonitor(p, clk).Start(context.Background(), []models.Appointment{
		appt(1, -10*time.Minute, models.StatusScheduled),
		appt(2, -10*time.Minute, models.StatusScheduled),
	}, log.record)

	done := make(chan struct{})
	go func() {
		s.Tick(context.Background())
		close(done)
	}()
	<-p.entered

	s.Stop()
	s.Stop()
	close(p.block)
	<-done

	assert.Len(t, p.Writes(), 1, "the call already in flight completes")
	assert.Empty(t, log.all(), "its result is discarded")
	assert.Equal(t, models.StatusScheduled, s.Snapshot()[0].Status)
	assert.False(t, s.Tick(context.Background()))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session loop did not exit")
	}
}

func TestSession_LoopTicksOnInterval(t *testing.T) {
	clk := clock.NewManual(epoch)
	p := &fakePersister{}

	s := NewStatusMonitor(p, clk, nil).WithInterval(time.Minute).Start(context.Background(),
		[]models.Appointment{appt(1, 30*time.Second, models.StatusScheduled)}, nil)
	defer s.Stop()

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(p.Writes()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, models.StatusInProgress, p.Writes()[0].Status)
}

func TestSession_PanickingHandlerDoesNotStopTick(t *testing.T) {
	clk := clock.NewManual(epoch)
	p := &fakePersister{}

	s := newTestMonitor(p, clk).Start(context.Background(), []models.Appointment{
		appt(1, -10*time.Minute, models.StatusScheduled),
		appt(2, -10*time.Minute, models.StatusScheduled),
	}, func(models.Appointment, models.Status) { panic("subscriber bug") })
	defer s.Stop()

	s.Tick(context.Background())
	assert.Len(t, p.Writes(), 2)
}

package reminder

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

type sent struct {
	title, body, tag string
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sent
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, title, body, tag string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sent{title, body, tag})
}

func (d *fakeDispatcher) tags() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, s := range d.sent {
		out = append(out, s.tag)
	}
	return out
}

type flakyBuckets struct {
	*MemoryBuckets
	fail bool
}

func (f *flakyBuckets) Claim(ctx context.Context, b models.ReminderBucket, o Outcome, at time.Time) (bool, error) {
	if f.fail {
		return false, errors.New("disk full")
	}
	return f.MemoryBuckets.Claim(ctx, b, o, at)
}

// stoppingBuckets runs afterClaim once a bucket has been claimed
type stoppingBuckets struct {
	*MemoryBuckets
	afterClaim func()
}

func (b *stoppingBuckets) Claim(ctx context.Context, bucket models.ReminderBucket, o Outcome, at time.Time) (bool, error) {
	ok, err := b.MemoryBuckets.Claim(ctx, bucket, o, at)
	if b.afterClaim != nil {
		b.afterClaim()
	}
	return ok, err
}

func appt(id int64, at time.Time) models.Appointment {
	return models.Appointment{AppointmentID: id, PatientID: 3, ScheduledTime: at, Status: models.StatusScheduled}
}

func newTestScheduler(d Dispatcher, clk clock.Clock) *Scheduler {
	return NewScheduler(d, clk, nil).WithInterval(time.Hour)
}

func TestScheduler_FiresOncePerThreshold(t *testing.T) {
	clk := clock.NewManual(epoch)
	d := &fakeDispatcher{}
	s := newTestScheduler(d, clk).Start(context.Background(), []models.Appointment{appt(42, epoch.Add(61*time.Minute))})
	defer s.Stop()

	clk.Set(epoch.Add(time.Minute))
	s.Tick(context.Background())
	assert.Equal(t, []string{"reminder-60-42"}, d.tags())

	clk.Set(epoch.Add(2 * time.Minute))
	s.Tick(context.Background())
	assert.Equal(t, []string{"reminder-60-42"}, d.tags(), "a fired bucket never fires again")
}

func TestScheduler_SkippedTicksStillFire(t *testing.T) {
	clk := clock.NewManual(epoch)
	d := &fakeDispatcher{}
	s := newTestScheduler(d, clk).Start(context.Background(), []models.Appointment{appt(1, epoch.Add(3*time.Hour))})
	defer s.Stop()

	s.Tick(context.Background())
	assert.Equal(t, []string{"reminder-1440-1"}, d.tags())

	// no tick lands exactly on the 60 minute mark
	clk.Set(epoch.Add(2*time.Hour + 3*time.Minute))
	s.Tick(context.Background())
	assert.Equal(t, []string{"reminder-1440-1", "reminder-60-1"}, d.tags())

	clk.Set(epoch.Add(2*time.Hour + 50*time.Minute))
	s.Tick(context.Background())
	assert.Equal(t, []string{"reminder-1440-1", "reminder-60-1", "reminder-15-1"}, d.tags())
}

func TestScheduler_OnlyTightestDueBucketIsShown(t *testing.T) {
	clk := clock.NewManual(epoch)
	d := &fakeDispatcher{}
	buckets := NewMemoryBuckets()
	s := newTestScheduler(d, clk).WithBuckets(buckets).Start(context.Background(),
		[]models.Appointment{appt(5, epoch.Add(10*time.Minute))})
	defer s.Stop()

	s.Tick(context.Background())
	s.Tick(context.Background())

	assert.Equal(t, []string{"reminder-15-5"}, d.tags())

	outcomes := map[int]string{}
	for _, f := range buckets.Fired(5) {
		outcomes[f.Threshold] = f.Outcome
	}
	assert.Equal(t, map[int]string{15: "sent", 60: "superseded", 1440: "superseded"}, outcomes)
}

func TestScheduler_PastAppointmentsExpireSilently(t *testing.T) {
	clk := clock.NewManual(epoch)
	d := &fakeDispatcher{}
	buckets := NewMemoryBuckets()
	s := newTestScheduler(d, clk).WithBuckets(buckets).Start(context.Background(),
		[]models.Appointment{appt(6, epoch.Add(-5*time.Minute))})
	defer s.Stop()

	s.Tick(context.Background())

	assert.Empty(t, d.tags())
	fired := buckets.Fired(6)
	require.Len(t, fired, 3)
	for _, f := range fired {
		assert.Equal(t, "expired", f.Outcome)
	}
}

func TestScheduler_TerminalAppointmentsAreSkipped(t *testing.T) {
	clk := clock.NewManual(epoch)
	d := &fakeDispatcher{}
	cancelled := appt(7, epoch.Add(10*time.Minute))
	cancelled.Status = models.StatusCancelled

	s := newTestScheduler(d, clk).Start(context.Background(), []models.Appointment{cancelled})
	defer s.Stop()
	s.Tick(context.Background())

	assert.Empty(t, d.tags())
}

func TestScheduler_UpdateStatusStopsReminders(t *testing.T) {
	clk := clock.NewManual(epoch)
	d := &fakeDispatcher{}
	s := newTestScheduler(d, clk).Start(context.Background(), []models.Appointment{appt(8, epoch.Add(10*time.Minute))})
	defer s.Stop()

	s.UpdateStatus(8, models.StatusCancelled)
	s.Tick(context.Background())

	assert.Empty(t, d.tags())
}

func TestScheduler_ReplaceKeepsFiredState(t *testing.T) {
	clk := clock.NewManual(epoch)
	d := &fakeDispatcher{}
	s := newTestScheduler(d, clk).Start(context.Background(), []models.Appointment{appt(9, epoch.Add(50*time.Minute))})
	defer s.Stop()

	s.Tick(context.Background())
	s.Replace([]models.Appointment{appt(9, epoch.Add(50*time.Minute)), appt(10, epoch.Add(30*time.Minute))})
	s.Tick(context.Background())

	assert.Equal(t, []string{"reminder-60-9", "reminder-60-10"}, d.tags())
}

func TestScheduler_ClaimFailureRetriesNextTick(t *testing.T) {
	clk := clock.NewManual(epoch)
	d := &fakeDispatcher{}
	buckets := &flakyBuckets{MemoryBuckets: NewMemoryBuckets(), fail: true}
	s := newTestScheduler(d, clk).WithBuckets(buckets).Start(context.Background(),
		[]models.Appointment{appt(11, epoch.Add(30*time.Minute))})
	defer s.Stop()

	s.Tick(context.Background())
	assert.Empty(t, d.tags())

	buckets.fail = false
	s.Tick(context.Background())
	assert.Equal(t, []string{"reminder-60-11"}, d.tags())
}

func TestScheduler_NoDispatchAfterStop(t *testing.T) {
	clk := clock.NewManual(epoch)
	d := &fakeDispatcher{}
	s := newTestScheduler(d, clk).Start(context.Background(), []models.Appointment{appt(12, epoch.Add(30*time.Minute))})

	s.Stop()
	s.Stop()
	assert.False(t, s.Tick(context.Background()))
	assert.Empty(t, d.tags())

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not exit")
	}
}

func TestScheduler_StopAfterClaimReleasesBucket(t *testing.T) {
	clk := clock.NewManual(epoch)
	d := &fakeDispatcher{}
	buckets := &stoppingBuckets{MemoryBuckets: NewMemoryBuckets()}
	s := newTestScheduler(d, clk).WithBuckets(buckets).Start(context.Background(),
		[]models.Appointment{appt(14, epoch.Add(30*time.Minute))})
	buckets.afterClaim = s.Stop

	s.Tick(context.Background())

	assert.Empty(t, d.tags())
	assert.Empty(t, buckets.Fired(14), "an undelivered reminder stays unclaimed")

	next := newTestScheduler(d, clk).WithBuckets(buckets.MemoryBuckets).Start(context.Background(),
		[]models.Appointment{appt(14, epoch.Add(30*time.Minute))})
	defer next.Stop()
	next.Tick(context.Background())
	assert.Equal(t, []string{"reminder-60-14"}, d.tags())
}

func TestScheduler_LoopFiresOnClockAdvance(t *testing.T) {
	clk := clock.NewManual(epoch)
	d := &fakeDispatcher{}
	s := NewScheduler(d, clk, nil).WithInterval(time.Minute).Start(context.Background(),
		[]models.Appointment{appt(13, epoch.Add(16*time.Minute))})
	defer s.Stop()

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(d.tags()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "reminder-15-13", d.tags()[0])
}

func TestScheduler_WithThresholds(t *testing.T) {
	s := NewScheduler(nil, nil, nil).WithThresholds([]int{30, 0, 120, 30, -5})
	assert.Equal(t, []int{30, 120}, s.Thresholds())

	s.WithThresholds(nil)
	assert.Equal(t, []int{30, 120}, s.Thresholds(), "an empty list keeps the current thresholds")
}

func TestBody(t *testing.T) {
	a := models.Appointment{AppointmentID: 4, ScheduledTime: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC), Reason: "Follow-up"}

	assert.Equal(t, "Appointment #4 starts in 1 day (Mon Mar 2 14:30): Follow-up", Body(a, 1440))
	assert.Equal(t, "Appointment #4 starts in 1 hour (Mon Mar 2 14:30): Follow-up", Body(a, 60))

	a.Reason = ""
	assert.Equal(t, "Appointment #4 starts in 15 minutes (Mon Mar 2 14:30)", Body(a, 15))
}

func TestMemoryBuckets_ClaimOnce(t *testing.T) {
	m := NewMemoryBuckets()
	b := models.ReminderBucket{AppointmentID: 1, ThresholdMinutes: 60}

	ok, err := m.Claim(context.Background(), b, OutcomeSent, epoch)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Claim(context.Background(), b, OutcomeSent, epoch)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Release(context.Background(), b))
	ok, err = m.Claim(context.Background(), b, OutcomeSent, epoch)
	require.NoError(t, err)
	assert.True(t, ok)
}

package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/gmsas95/carewatch/internal/models"
)

// Outcome records what happened to a claimed bucket
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeExpired    Outcome = "expired"
)

// BucketStore holds fired-state for reminder buckets.
// Claim marks the bucket fired and reports whether this call was the one that did it.
// Release undoes a claim whose reminder was never dispatched.
type BucketStore interface {
	Claim(ctx context.Context, bucket models.ReminderBucket, outcome Outcome, at time.Time) (bool, error)
	Release(ctx context.Context, bucket models.ReminderBucket) error
}

// MemoryBuckets keeps fired-state for the lifetime of the process
type MemoryBuckets struct {
	mu    sync.Mutex
	fired map[string]models.FiredReminder
}

func NewMemoryBuckets() *MemoryBuckets {
	return &MemoryBuckets{fired: make(map[string]models.FiredReminder)}
}

func (m *MemoryBuckets) Claim(ctx context.Context, bucket models.ReminderBucket, outcome Outcome, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucket.Key()
	if _, ok := m.fired[key]; ok {
		return false, nil
	}
	m.fired[key] = models.FiredReminder{
		Key:           key,
		AppointmentID: bucket.AppointmentID,
		Threshold:     bucket.ThresholdMinutes,
		Outcome:       string(outcome),
		FiredAt:       at,
	}
	return true, nil
}

func (m *MemoryBuckets) Release(ctx context.Context, bucket models.ReminderBucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fired, bucket.Key())
	return nil
}

// Fired returns the claimed buckets of one appointment
func (m *MemoryBuckets) Fired(appointmentID int64) []models.FiredReminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.FiredReminder
	for _, f := range m.fired {
		if f.AppointmentID == appointmentID {
			out = append(out, f)
		}
	}
	return out
}

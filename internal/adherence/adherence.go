// Package adherence computes medication adherence from prescription reminder records.
package adherence

import (
	"math"
	"time"

	"github.com/gmsas95/carewatch/internal/models"
)

// Snapshot is a freshly computed adherence figure. It is never persisted.
type Snapshot struct {
	TotalDoses    int `json:"totalDoses"`
	TakenDoses    int `json:"takenDoses"`
	AdherenceRate int `json:"adherenceRate"`
}

// NoDosesRate is reported when nothing was due yet.
const NoDosesRate = 100

// Compute sums taken and expected doses across reminders.
//
// Each record contributes totalDoses when present, otherwise
// floor((min(now, expiration) - issued) / interval). Taken doses are
// clamped to the record's total so the rate stays within [0, 100].
func Compute(reminders []models.PrescriptionReminder, now time.Time) Snapshot {
	var snap Snapshot
	for _, r := range reminders {
		r = r.Normalize(now)
		snap.TotalDoses += r.Total(now)
		snap.TakenDoses += r.DosesTaken
	}
	snap.AdherenceRate = Rate(snap.TakenDoses, snap.TotalDoses)
	return snap
}

// Rate is round(100 * taken / total), or NoDosesRate when total is zero.
func Rate(taken, total int) int {
	if total <= 0 {
		return NoDosesRate
	}
	if taken < 0 {
		taken = 0
	}
	if taken > total {
		taken = total
	}
	return int(math.Round(100 * float64(taken) / float64(total)))
}

// ActiveOnly filters out reminders whose expiration date has passed.
func ActiveOnly(reminders []models.PrescriptionReminder, now time.Time) []models.PrescriptionReminder {
	out := make([]models.PrescriptionReminder, 0, len(reminders))
	for _, r := range reminders {
		if r.Active(now) {
			out = append(out, r)
		}
	}
	return out
}

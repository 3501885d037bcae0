// Package lifecycle derives appointment status from wall-clock time.
//
// Every place that needs an appointment's time-driven status goes through
// Target so the thresholds live in exactly one spot.
package lifecycle

import (
	"time"

	"github.com/gmsas95/carewatch/internal/models"
)

// InProgressWindow is how long after the scheduled time an appointment counts as in progress.
const InProgressWindow = 30 * time.Minute

// MissedAfter is how long a still-Scheduled appointment may be overdue before it is Missed.
const MissedAfter = 30 * time.Minute

// DeltaMinutes is scheduledMinutes - nowMinutes, both truncated to the minute.
func DeltaMinutes(scheduled, now time.Time) int64 {
	return int64(scheduled.Truncate(time.Minute).Sub(now.Truncate(time.Minute)) / time.Minute)
}

// Derive classifies an appointment purely from time.
//
//	Δ < -30        Completed
//	-30 <= Δ < 0   InProgress
//	Δ >= 0         Scheduled
func Derive(scheduled, now time.Time) models.Status {
	delta := DeltaMinutes(scheduled, now)
	window := int64(InProgressWindow / time.Minute)
	switch {
	case delta < -window:
		return models.StatusCompleted
	case delta < 0:
		return models.StatusInProgress
	default:
		return models.StatusScheduled
	}
}

// IsMissed applies only to appointments still persisted as Scheduled.
func IsMissed(persisted models.Status, scheduled, now time.Time) bool {
	if persisted != models.StatusScheduled {
		return false
	}
	return -DeltaMinutes(scheduled, now) > int64(MissedAfter/time.Minute)
}

var transitions = map[models.Status][]models.Status{
	models.StatusScheduled:  {models.StatusInProgress, models.StatusMissed, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted, models.StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to models.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Target returns the status the monitor should persist and whether it differs
// from the current one. Terminal appointments never change. Cancelled is a
// manual transition and is never produced here.
func Target(appt models.Appointment, now time.Time) (models.Status, bool) {
	current := appt.Status
	if current == "" {
		current = models.StatusScheduled
	}
	if current.IsTerminal() {
		return current, false
	}
	if IsMissed(current, appt.ScheduledTime, now) {
		return models.StatusMissed, true
	}
	derived := Derive(appt.ScheduledTime, now)
	if derived == current || !CanTransition(current, derived) {
		return current, false
	}
	return derived, true
}

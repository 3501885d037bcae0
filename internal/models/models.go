package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Status is an appointment lifecycle status
type Status string

const (
	StatusScheduled  Status = "Scheduled"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusMissed     Status = "Missed"
	StatusCancelled  Status = "Cancelled"
)

// ParseStatus accepts the spellings the backend and older UI screens have used
func ParseStatus(s string) (Status, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.TrimSpace(s)))
	switch norm {
	case "scheduled", "":
		return StatusScheduled, nil
	case "inprogress":
		return StatusInProgress, nil
	case "completed", "done":
		return StatusCompleted, nil
	case "missed", "noshow":
		return StatusMissed, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

// IsTerminal reports whether the monitor must leave the status alone
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusMissed:
		return true
	}
	return false
}

// UnmarshalText normalizes status values while decoding backend JSON
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Appointment is the backend appointment record
type Appointment struct {
	AppointmentID int64     `json:"appointmentId"`
	PatientID     int64     `json:"patientId"`
	PhysicianID   int64     `json:"physicianId"`
	ScheduledTime time.Time `json:"scheduledTime"`
	Status        Status    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
}

// UnmarshalJSON accepts scheduledTime with or without a zone offset
func (a *Appointment) UnmarshalJSON(data []byte) error {
	type alias Appointment
	aux := struct {
		*alias
		ScheduledTime string `json:"scheduledTime"`
	}{alias: (*alias)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ScheduledTime == "" {
		return nil
	}
	t, err := ParseInstant(aux.ScheduledTime)
	if err != nil {
		return fmt.Errorf("appointment %d: %w", a.AppointmentID, err)
	}
	a.ScheduledTime = t
	return nil
}

// ReminderBucket identifies one reminder threshold of one appointment
type ReminderBucket struct {
	AppointmentID    int64
	ThresholdMinutes int
}

// Tag is the notification dedup tag for the bucket
func (b ReminderBucket) Tag() string {
	return fmt.Sprintf("reminder-%d-%d", b.ThresholdMinutes, b.AppointmentID)
}

// Key is the storage key for fired-state stores
func (b ReminderBucket) Key() string {
	return fmt.Sprintf("%d:%d", b.AppointmentID, b.ThresholdMinutes)
}

// Medication is one line of a prescription
type Medication struct {
	MedicationDetails string `json:"medicationDetails"`
	Dosage            string `json:"dosage"`
	Frequency         string `json:"frequency"`
}

// DefaultFrequencyHours applies when a reminder has no dosing interval
const DefaultFrequencyHours = 24

// PrescriptionReminder is the dosing record of a prescription.
// Dates stay as the backend sends them so a malformed value only
// affects the record it belongs to.
type PrescriptionReminder struct {
	PrescriptionID         int64        `json:"prescriptionId"`
	IssuedDate             string       `json:"issuedDate"`
	ExpirationDate         string       `json:"expirationDate,omitempty"`
	FrequencyIntervalHours *float64     `json:"frequencyIntervalHours,omitempty"`
	DosesTaken             int          `json:"dosesTaken"`
	TotalDoses             *int         `json:"totalDoses,omitempty"`
	Medications            []Medication `json:"medications,omitempty"`
}

// Interval returns the dosing interval, defaulting to 24 hours. Intervals
// shorter than a nanosecond fall back to the default; intervals too long
// for a Duration are clamped.
func (r PrescriptionReminder) Interval() time.Duration {
	if r.FrequencyIntervalHours == nil {
		return DefaultFrequencyHours * time.Hour
	}
	d := *r.FrequencyIntervalHours * float64(time.Hour)
	switch {
	case !(d >= 1):
		return DefaultFrequencyHours * time.Hour
	case d >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ExpectedDoses is the number of doses due between issue and min(now, expiration).
// Malformed or missing dates yield 0.
func (r PrescriptionReminder) ExpectedDoses(now time.Time) int {
	issued, err := ParseInstant(r.IssuedDate)
	if err != nil {
		return 0
	}
	end := now
	if r.ExpirationDate != "" {
		exp, err := ParseInstant(r.ExpirationDate)
		if err != nil {
			return 0
		}
		if exp.Before(end) {
			end = exp
		}
	}
	elapsed := end.Sub(issued)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / r.Interval())
}

// Total is totalDoses when present, otherwise the expected dose count
func (r PrescriptionReminder) Total(now time.Time) int {
	if r.TotalDoses != nil {
		if *r.TotalDoses < 0 {
			return 0
		}
		return *r.TotalDoses
	}
	return r.ExpectedDoses(now)
}

// Normalize clamps DosesTaken into [0, Total(now)]
func (r PrescriptionReminder) Normalize(now time.Time) PrescriptionReminder {
	if r.DosesTaken < 0 {
		r.DosesTaken = 0
	}
	if total := r.Total(now); r.DosesTaken > total {
		r.DosesTaken = total
	}
	return r
}

// Active is false once the expiration date has passed
func (r PrescriptionReminder) Active(now time.Time) bool {
	if r.ExpirationDate == "" {
		return true
	}
	exp, err := ParseInstant(r.ExpirationDate)
	if err != nil {
		return true
	}
	return !exp.Before(now)
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// ParseInstant parses the date formats the backend emits. Values without a zone are UTC.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// StatusTransition is an audit row for an automatic status change
type StatusTransition struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	AppointmentID int64     `json:"appointmentId" gorm:"index"`
	From          Status    `json:"from"`
	To            Status    `json:"to"`
	At            time.Time `json:"at"`
}

// FiredReminder records a claimed reminder bucket
type FiredReminder struct {
	Key           string    `gorm:"primaryKey"`
	AppointmentID int64     `gorm:"index"`
	Threshold     int
	Outcome       string
	FiredAt       time.Time
}

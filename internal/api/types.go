package api

import (
	"github.com/gmsas95/carewatch/internal/models"
)

// AppointmentView is an appointment together with what the monitor would do with it
type AppointmentView struct {
	models.Appointment
	DerivedStatus models.Status `json:"derivedStatus"`
	PendingChange bool          `json:"pendingChange"`
	MinutesUntil  int64         `json:"minutesUntil"`
}

// TakeDoseRequest is the body of POST /api/patients/:patientId/take-dose
type TakeDoseRequest struct {
	PrescriptionID int64 `json:"prescriptionId"`
}

// PermissionResponse answers POST /api/notifications/permission
type PermissionResponse struct {
	Granted bool `json:"granted"`
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

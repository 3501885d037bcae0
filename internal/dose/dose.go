// Package dose handles the user action of marking a medication dose as taken.
package dose

import (
	"context"

	"go.uber.org/zap"

	"github.com/gmsas95/carewatch/internal/adherence"
	"github.com/gmsas95/carewatch/internal/clock"
	apperrors "github.com/gmsas95/carewatch/internal/errors"
	"github.com/gmsas95/carewatch/internal/metrics"
	"github.com/gmsas95/carewatch/internal/models"
)

// Backend is the prescription side of the practice backend
type Backend interface {
	TakeDose(ctx context.Context, patientID, prescriptionID int64) error
	ListReminders(ctx context.Context, patientID int64) ([]models.PrescriptionReminder, error)
}

// Coordinator records taken doses and recomputes adherence
type Coordinator struct {
	backend Backend
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewCoordinator(backend Backend, clk clock.Clock, logger *zap.Logger) *Coordinator {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{backend: backend, clock: clk, logger: logger}
}

// WithMetrics sets the metrics sink
func (c *Coordinator) WithMetrics(m *metrics.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// MarkTaken records one dose and returns the patient's refreshed adherence.
// Missing IDs fail validation before any backend call; backend failures
// are returned as user action errors.
func (c *Coordinator) MarkTaken(ctx context.Context, prescriptionID, patientID int64) (adherence.Snapshot, error) {
	if patientID == 0 {
		c.metrics.ObserveDoseAction("invalid")
		return adherence.Snapshot{}, apperrors.Validation("patientId", "is required")
	}
	if prescriptionID == 0 {
		c.metrics.ObserveDoseAction("invalid")
		return adherence.Snapshot{}, apperrors.Validation("prescriptionId", "is required")
	}

	logger := c.logger.With(zap.Int64("patient_id", patientID), zap.Int64("prescription_id", prescriptionID))

	if err := c.backend.TakeDose(ctx, patientID, prescriptionID); err != nil {
		c.metrics.ObserveDoseAction("failed")
		logger.Warn("Failed to record dose", zap.Error(err))
		return adherence.Snapshot{}, apperrors.UserAction("record dose", err)
	}

	snap, err := c.Adherence(ctx, patientID)
	if err != nil {
		c.metrics.ObserveDoseAction("failed")
		logger.Warn("Dose recorded but adherence refresh failed", zap.Error(err))
		return adherence.Snapshot{}, err
	}

	c.metrics.ObserveDoseAction("recorded")
	logger.Info("Dose recorded",
		zap.Int("taken", snap.TakenDoses),
		zap.Int("total", snap.TotalDoses),
		zap.Int("adherence_rate", snap.AdherenceRate),
	)
	return snap, nil
}

// Adherence fetches a patient's reminders and computes the current snapshot
func (c *Coordinator) Adherence(ctx context.Context, patientID int64) (adherence.Snapshot, error) {
	if patientID == 0 {
		return adherence.Snapshot{}, apperrors.Validation("patientId", "is required")
	}
	reminders, err := c.backend.ListReminders(ctx, patientID)
	if err != nil {
		return adherence.Snapshot{}, apperrors.UserAction("load reminders", err)
	}
	snap := adherence.Compute(reminders, c.clock.Now())
	c.metrics.SetAdherence(patientID, snap.AdherenceRate)
	return snap, nil
}

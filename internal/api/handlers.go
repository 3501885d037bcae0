package api

import (
	"sort"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/carewatch/internal/errors"
	"github.com/gmsas95/carewatch/internal/lifecycle"
)

var errUnavailable = fiber.NewError(fiber.StatusServiceUnavailable, "service not configured")

func (s *Server) handleHealth(c *fiber.Ctx) error {
	watched := 0
	if s.deps.Appointments != nil {
		watched = len(s.deps.Appointments.Snapshot())
	}
	return c.JSON(fiber.Map{
		"status":    "ok",
		"time":      s.deps.Clock.Now(),
		"watched":   watched,
		"wsClients": s.hub.Clients(),
	})
}

func (s *Server) handleListAppointments(c *fiber.Ctx) error {
	if s.deps.Appointments == nil {
		return errUnavailable
	}

	now := s.deps.Clock.Now()
	appts := s.deps.Appointments.Snapshot()
	out := make([]AppointmentView, 0, len(appts))
	for _, a := range appts {
		target, changed := lifecycle.Target(a, now)
		out = append(out, AppointmentView{
			Appointment:   a,
			DerivedStatus: target,
			PendingChange: changed,
			MinutesUntil:  lifecycle.DeltaMinutes(a.ScheduledTime, now),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	return c.JSON(out)
}

func (s *Server) handleListTransitions(c *fiber.Ctx) error {
	if s.deps.Transitions == nil {
		return errUnavailable
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", 100)

	rows, err := s.deps.Transitions.ListTransitions(c.UserContext(), id, limit)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal.Code, "failed to load transitions")
	}
	return c.JSON(rows)
}

func (s *Server) handleAdherence(c *fiber.Ctx) error {
	if s.deps.Doses == nil {
		return errUnavailable
	}
	patientID, err := idParam(c, "patientId")
	if err != nil {
		return err
	}
	snap, err := s.deps.Doses.Adherence(c.UserContext(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (s *Server) handleTakeDose(c *fiber.Ctx) error {
	if s.deps.Doses == nil {
		return errUnavailable
	}
	patientID, err := idParam(c, "patientId")
	if err != nil {
		return err
	}

	var req TakeDoseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("body", "invalid request")
	}

	snap, err := s.deps.Doses.MarkTaken(c.UserContext(), req.PrescriptionID, patientID)
	if err != nil {
		s.logger.Debug("Take dose rejected",
			zap.Int64("patient_id", patientID),
			zap.Int64("prescription_id", req.PrescriptionID),
			zap.Error(err),
		)
		return err
	}
	return c.JSON(snap)
}

func (s *Server) handlePermission(c *fiber.Ctx) error {
	if s.deps.Permissions == nil {
		return c.JSON(PermissionResponse{Granted: false})
	}
	return c.JSON(PermissionResponse{Granted: s.deps.Permissions.RequestPermission(c.UserContext())})
}

// idParam parses a path id. Zero means absent and is rejected.
func idParam(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation(name, "must be a positive integer")
	}
	return id, nil
}

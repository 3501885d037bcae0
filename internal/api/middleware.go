package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/carewatch/internal/errors"
)

const requestIDHeader = "X-Request-ID"

// requestID tags each request, reusing the caller's id when present
func (s *Server) requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Locals("requestid", id)
		return c.Next()
	}
}

func (s *Server) accessLog() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		s.logger.Debug("Request handled",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
			zap.Any("request_id", c.Locals("requestid")),
		)
		return err
	}
}

// statusFor maps an error to the HTTP status the UI layer expects
func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch apperrors.GetCode(err) {
	case apperrors.CodeValidation, apperrors.ErrBadRequest.Code:
		return fiber.StatusBadRequest
	case apperrors.CodeUserAction, apperrors.CodeTransientNetwork:
		return fiber.StatusBadGateway
	case apperrors.ErrUnauthorized.Code:
		return fiber.StatusUnauthorized
	case apperrors.ErrNotFound.Code:
		return fiber.StatusNotFound
	case apperrors.CodeEnvironment:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := statusFor(err)
		if code >= fiber.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("path", c.Path()),
				zap.Int("status", code),
				zap.Error(err),
			)
		}
		resp := ErrorResponse{Error: err.Error()}
		if apperrors.IsAppError(err) {
			resp.Code = apperrors.GetCode(err)
		}
		return c.Status(code).JSON(resp)
	}
}

package notify

import (
	"context"

	"go.uber.org/zap"
)

// Console logs notifications. It is always available and always granted.
type Console struct {
	logger *zap.Logger
}

func NewConsole(logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{logger: logger}
}

func (c *Console) Name() string    { return "console" }
func (c *Console) Available() bool { return true }

func (c *Console) RequestPermission(ctx context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (c *Console) Show(ctx context.Context, n Notification) error {
	c.logger.Info("🔔 "+n.Title,
		zap.String("body", n.Body),
		zap.String("tag", n.Tag),
		zap.Time("at", n.CreatedAt),
	)
	return nil
}

// Package notify delivers user-facing notifications through a pluggable platform.
//
// Dispatch never returns an error: a denied permission or missing platform is
// an environment limitation, logged and counted, and the notification is
// treated as attempted.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/carewatch/internal/errors"
)

// Permission is the platform's notification permission state
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Notification is one message to show
type Notification struct {
	ID        string
	Title     string
	Body      string
	Tag       string
	CreatedAt time.Time
}

// Platform is a concrete notification surface
type Platform interface {
	Name() string
	// Available reports whether the platform can be used at all
	Available() bool
	RequestPermission(ctx context.Context) (Permission, error)
	// Show displays n. A repeated tag replaces the earlier notification.
	Show(ctx context.Context, n Notification) error
}

// Recorder receives dispatch outcomes
type Recorder interface {
	ObserveNotification(platform, result string)
}

// Dispatcher wraps a Platform with permission handling
type Dispatcher struct {
	platform Platform
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	mu         sync.Mutex
	permission Permission
}

// NewDispatcher creates a dispatcher. A nil platform makes every dispatch a logged no-op.
func NewDispatcher(platform Platform, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		platform:   platform,
		logger:     logger,
		now:        time.Now,
		permission: PermissionDefault,
	}
}

// WithRecorder sets the outcome recorder
func (d *Dispatcher) WithRecorder(r Recorder) *Dispatcher {
	d.recorder = r
	return d
}

// Permission returns the cached permission state
func (d *Dispatcher) Permission() Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permission
}

// RequestPermission asks the platform once. Granted and denied answers are final.
func (d *Dispatcher) RequestPermission(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.permission {
	case PermissionGranted:
		return true
	case PermissionDenied:
		return false
	}

	if d.platform == nil || !d.platform.Available() {
		d.logger.Warn("Notification platform unavailable")
		return false
	}

	perm, err := d.platform.RequestPermission(ctx)
	if err != nil {
		d.logger.Warn("Notification permission request failed",
			zap.String("platform", d.platform.Name()),
			zap.Error(err),
		)
		return false
	}
	d.permission = perm
	d.logger.Info("Notification permission resolved",
		zap.String("platform", d.platform.Name()),
		zap.String("permission", string(perm)),
	)
	return perm == PermissionGranted
}

// Dispatch shows a notification. Failures are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, title, body, tag string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic in notification platform", zap.Any("recover", r), zap.String("tag", tag))
			d.record("panic")
		}
	}()

	if d.platform == nil || !d.platform.Available() {
		d.logLimitation(apperrors.Environment("notification platform unavailable"), tag)
		d.record("unavailable")
		return
	}

	if !d.RequestPermission(ctx) {
		d.logLimitation(apperrors.Environment("notification permission not granted"), tag)
		d.record("denied")
		return
	}

	n := Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		Tag:       tag,
		CreatedAt: d.now(),
	}
	if err := d.platform.Show(ctx, n); err != nil {
		d.logLimitation(apperrors.Environment("notification display failed", err), tag)
		d.record("failed")
		return
	}

	d.logger.Debug("Notification dispatched",
		zap.String("platform", d.platform.Name()),
		zap.String("tag", tag),
		zap.String("id", n.ID),
	)
	d.record("sent")
}

func (d *Dispatcher) logLimitation(err error, tag string) {
	d.logger.Warn("Notification not shown", zap.String("tag", tag), zap.Error(err))
}

func (d *Dispatcher) record(result string) {
	if d.recorder == nil {
		return
	}
	name := "none"
	if d.platform != nil {
		name = d.platform.Name()
	}
	d.recorder.ObserveNotification(name, result)
}

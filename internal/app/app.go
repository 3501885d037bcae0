// Package app wires the monitor, reminder engine, dose coordinator and HTTP
// surface into one running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/gmsas95/carewatch/internal/api"
	"github.com/gmsas95/carewatch/internal/backend"
	"github.com/gmsas95/carewatch/internal/clock"
	"github.com/gmsas95/carewatch/internal/config"
	"github.com/gmsas95/carewatch/internal/cron"
	"github.com/gmsas95/carewatch/internal/dose"
	apperrors "github.com/gmsas95/carewatch/internal/errors"
	"github.com/gmsas95/carewatch/internal/logging"
	"github.com/gmsas95/carewatch/internal/metrics"
	"github.com/gmsas95/carewatch/internal/models"
	"github.com/gmsas95/carewatch/internal/monitor"
	"github.com/gmsas95/carewatch/internal/notify"
	"github.com/gmsas95/carewatch/internal/reminder"
	"github.com/gmsas95/carewatch/internal/store"
)

// Cron job names
const (
	JobRefresh = "refresh_appointments"
	JobDigest  = "adherence_digest"
	JobPrune   = "prune_transitions"
)

const missedTitle = "Missed appointment"

type App struct {
	Config     *config.Config
	ConfigPath string
	DataDir    string
	Store      *store.Store
	Logger     *logging.Logger
	Clock      clock.Clock
	Version    string

	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Backend    *backend.Client
	Dispatcher *notify.Dispatcher
	Doses      *dose.Coordinator
	CronRunner *cron.Runner
	Server     *api.Server

	mu        sync.Mutex
	monitor   *monitor.Session
	reminders *reminder.Session
}

func New(cfg *config.Config, st *store.Store, logger *logging.Logger, version string) *App {
	return &App{
		Config:  cfg,
		Store:   st,
		Logger:  logger,
		Clock:   clock.Real{},
		Version: version,
	}
}

func (app *App) log() *zap.Logger {
	if app.Logger == nil {
		return zap.NewNop()
	}
	return app.Logger.Logger
}

// Setup builds the services that do not need a running context: metrics,
// backend client, notification dispatcher and dose coordinator.
func (app *App) Setup() error {
	if app.Config == nil {
		return apperrors.Wrap(errors.New("nil config"), apperrors.ErrConfigNotFound.Code, "app setup")
	}
	logger := app.log()

	if app.Registry == nil {
		app.Registry = prometheus.NewRegistry()
		app.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	app.Metrics = metrics.New(app.Registry)

	bc := app.Config.Backend
	var tokens backend.TokenSource = backend.StaticToken(bc.Token)
	if app.Store != nil {
		tokens = backend.KVToken{Store: app.Store, Key: bc.TokenKey, Fallback: bc.Token}
	}
	app.Backend = backend.New(backend.Config{
		BaseURL:           bc.BaseURL,
		Timeout:           time.Duration(bc.Timeout) * time.Second,
		RequestsPerSecond: bc.RequestsPerSecond,
		Burst:             bc.Burst,
		BreakerFailures:   bc.BreakerFailures,
		BreakerCooldown:   time.Duration(bc.BreakerCooldown) * time.Second,
	}, tokens, logger.Named("backend")).WithMetrics(app.Metrics)

	app.Dispatcher = notify.NewDispatcher(newPlatform(app.Config.Notify, logger), logger.Named("notify")).
		WithRecorder(app.Metrics)

	app.Doses = dose.NewCoordinator(app.Backend, app.Clock, logger.Named("dose")).WithMetrics(app.Metrics)
	return nil
}

// newPlatform picks the configured notification platform. A platform that
// cannot be built falls back to the console.
func newPlatform(cfg config.NotifyConfig, logger *zap.Logger) notify.Platform {
	switch cfg.Platform {
	case config.PlatformTelegram:
		p, err := notify.NewTelegram(notify.TelegramConfig{
			Token:  cfg.Telegram.BotToken,
			ChatID: cfg.Telegram.ChatID,
		}, logger.Named("telegram"))
		if err == nil {
			return p
		}
		logger.Warn("Telegram unavailable, using console notifications", zap.Error(err))
	case config.PlatformDiscord:
		p, err := notify.NewDiscord(notify.DiscordConfig{
			Token:     cfg.Discord.Token,
			ChannelID: cfg.Discord.ChannelID,
		}, logger.Named("discord"))
		if err == nil {
			return p
		}
		logger.Warn("Discord unavailable, using console notifications", zap.Error(err))
	}
	return notify.NewConsole(logger.Named("console"))
}

// bucketStore selects where reminder fired-state lives
func (app *App) bucketStore() reminder.BucketStore {
	if app.Store == nil {
		return reminder.NewMemoryBuckets()
	}
	switch app.Config.Reminders.Store {
	case config.StoreSQLite:
		return app.Store.SQLBuckets()
	case config.StoreBadger:
		return app.Store.BadgerBuckets(time.Duration(app.Config.Reminders.BadgerTTL) * time.Hour)
	default:
		return reminder.NewMemoryBuckets()
	}
}

// Start loads the watched appointments and starts the status monitor,
// the reminder scheduler and the cron jobs. Setup must have run.
func (app *App) Start(ctx context.Context) error {
	logger := app.log()

	appts, err := app.Backend.ListAppointments(ctx)
	if err != nil {
		// the refresh job retries; start with nothing watched
		logger.Warn("Initial appointment load failed", zap.Error(apperrors.Transient("list appointments", err)))
		appts = nil
	}

	mon := monitor.NewStatusMonitor(app.Backend, app.Clock, logger.Named("monitor")).
		WithInterval(app.Config.MonitorInterval()).
		WithRunOnStart(app.Config.Monitor.RunOnStart).
		WithMetrics(app.Metrics)

	sched := reminder.NewScheduler(app.Dispatcher, app.Clock, logger.Named("reminder")).
		WithInterval(app.Config.ReminderInterval()).
		WithThresholds(app.Config.Reminders.Thresholds).
		WithBuckets(app.bucketStore()).
		WithRunOnStart(app.Config.Monitor.RunOnStart).
		WithMetrics(app.Metrics)

	app.mu.Lock()
	app.reminders = sched.Start(ctx, appts)
	app.monitor = mon.Start(ctx, appts, app.onStatusChange(ctx))
	app.mu.Unlock()

	logger.Info("Watching appointments",
		zap.Int("count", len(appts)),
		zap.Ints("reminder_thresholds", sched.Thresholds()),
	)

	app.CronRunner = cron.NewRunner(cron.Config{}, logger.Named("cron"))
	if err := app.registerJobs(); err != nil {
		return err
	}
	return app.CronRunner.Start()
}

// Stop halts the loops and the cron runner. Safe to call more than once.
func (app *App) Stop() {
	app.mu.Lock()
	mon, rem := app.monitor, app.reminders
	app.mu.Unlock()

	if mon != nil {
		mon.Stop()
	}
	if rem != nil {
		rem.Stop()
	}
	if app.CronRunner != nil {
		app.CronRunner.Stop()
	}
}

// Watched returns the appointments the monitor currently holds
func (app *App) Watched() []models.Appointment {
	app.mu.Lock()
	mon := app.monitor
	app.mu.Unlock()
	if mon == nil {
		return nil
	}
	return mon.Snapshot()
}

// Snapshot lets the App serve as the API's appointment source
func (app *App) Snapshot() []models.Appointment {
	return app.Watched()
}

// onStatusChange fans an automatic transition out to the audit trail, the
// reminder scheduler, websocket clients and, for Missed, a notification.
func (app *App) onStatusChange(ctx context.Context) monitor.ChangeFunc {
	return func(updated models.Appointment, previous models.Status) {
		logger := app.log().With(
			zap.Int64("appointment_id", updated.AppointmentID),
			zap.String("from", string(previous)),
			zap.String("to", string(updated.Status)),
		)
		logger.Info("Appointment status changed")

		if app.Store != nil {
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := app.Store.RecordTransition(wctx, &models.StatusTransition{
				AppointmentID: updated.AppointmentID,
				From:          previous,
				To:            updated.Status,
				At:            app.Clock.Now(),
			})
			cancel()
			if err != nil {
				logger.Warn("Failed to record transition", zap.Error(err))
			}
		}

		app.mu.Lock()
		rem := app.reminders
		app.mu.Unlock()
		if rem != nil {
			rem.UpdateStatus(updated.AppointmentID, updated.Status)
		}

		if app.Server != nil {
			app.Server.Hub().StatusChanged(updated, previous)
		}

		if updated.Status == models.StatusMissed && app.Dispatcher != nil {
			app.Dispatcher.Dispatch(ctx, missedTitle, missedBody(updated), fmt.Sprintf("missed-%d", updated.AppointmentID))
		}
	}
}

func missedBody(appt models.Appointment) string {
	body := fmt.Sprintf("Appointment #%d scheduled for %s was missed",
		appt.AppointmentID, appt.ScheduledTime.Local().Format("Mon Jan 2 15:04"))
	if appt.Reason != "" {
		body += ": " + appt.Reason
	}
	return body
}

func (app *App) registerJobs() error {
	cc := app.Config.Cron
	if cc.RefreshSchedule != "" {
		if err := app.CronRunner.AddJob(JobRefresh, cc.RefreshSchedule, app.refreshAppointments); err != nil {
			return err
		}
	}
	if cc.DigestSchedule != "" && len(cc.DigestPatients) > 0 {
		if err := app.CronRunner.AddJob(JobDigest, cc.DigestSchedule, app.adherenceDigest); err != nil {
			return err
		}
	}
	if cc.PruneSchedule != "" && cc.AuditRetentionDays > 0 && app.Store != nil {
		if err := app.CronRunner.AddJob(JobPrune, cc.PruneSchedule, app.pruneTransitions); err != nil {
			return err
		}
	}
	return nil
}

// refreshAppointments reloads the watched list into both loops. Fired
// reminder state is kept across the swap.
func (app *App) refreshAppointments(ctx context.Context) error {
	appts, err := app.Backend.ListAppointments(ctx)
	if err != nil {
		return apperrors.Transient("refresh appointments", err)
	}

	app.mu.Lock()
	mon, rem := app.monitor, app.reminders
	app.mu.Unlock()
	if mon != nil {
		mon.Replace(appts)
	}
	if rem != nil {
		rem.Replace(appts)
	}
	app.log().Debug("Appointments refreshed", zap.Int("count", len(appts)))
	return nil
}

// adherenceDigest sends one adherence notification per configured patient
func (app *App) adherenceDigest(ctx context.Context) error {
	var errs []error
	for _, patientID := range app.Config.Cron.DigestPatients {
		snap, err := app.Doses.Adherence(ctx, patientID)
		if err != nil {
			errs = append(errs, fmt.Errorf("patient %d: %w", patientID, err))
			continue
		}
		body := fmt.Sprintf("Patient #%d: %d%% adherence (%d of %d doses taken)",
			patientID, snap.AdherenceRate, snap.TakenDoses, snap.TotalDoses)
		app.Dispatcher.Dispatch(ctx, "Medication adherence", body, fmt.Sprintf("adherence-%d", patientID))
	}
	return errors.Join(errs...)
}

func (app *App) pruneTransitions(ctx context.Context) error {
	before := app.Clock.Now().AddDate(0, 0, -app.Config.Cron.AuditRetentionDays)
	n, err := app.Store.PruneTransitions(ctx, before)
	if err != nil {
		return err
	}
	if n > 0 {
		app.log().Info("Pruned transition audit rows", zap.Int64("rows", n), zap.Time("before", before))
	}
	return nil
}

// NewServer builds the HTTP surface over the running services
func (app *App) NewServer() *api.Server {
	deps := api.Deps{
		Appointments: app,
		Doses:        app.Doses,
		Permissions:  app.Dispatcher,
		Gatherer:     app.Registry,
		Clock:        app.Clock,
	}
	if app.Store != nil {
		deps.Transitions = app.Store
	}
	app.Server = api.New(app.Config.Server, deps, app.log().Named("api"))
	return app.Server
}

// RunServer runs everything until SIGINT or SIGTERM
func (app *App) RunServer() error {
	logger := app.log()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Setup(); err != nil {
		return err
	}
	server := app.NewServer()

	if err := app.Start(ctx); err != nil {
		app.Stop()
		return err
	}

	go func() {
		err := config.Watch(ctx, app.ConfigPath, app.DataDir, logger.Named("config"), func(cfg *config.Config) {
			if app.Logger != nil {
				if err := app.Logger.SetLevel(cfg.Log.Level); err != nil {
					logger.Warn("Ignoring invalid log level", zap.Error(err))
				}
			}
		})
		if err != nil {
			logger.Warn("Config watch disabled", zap.Error(err))
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	logger.Info("Server started",
		zap.String("version", app.Version),
		zap.String("address", app.Config.Server.Address),
		zap.Int("port", app.Config.Server.Port),
		zap.String("url", fmt.Sprintf("http://localhost:%d", app.Config.Server.Port)),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		logger.Error("Server error", zap.Error(runErr))
	}

	logger.Info("Shutting down...")
	app.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	return runErr
}

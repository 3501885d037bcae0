// Package cron runs named recurring jobs on cron schedules
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc does one run of a job
type JobFunc func(ctx context.Context) error

// Config holds cron runner configuration
type Config struct {
	// JobTimeout bounds a single job run
	JobTimeout time.Duration
	Location   *time.Location
}

// JobInfo describes a registered job
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

type job struct {
	name     string
	schedule string
	fn       JobFunc
	id       robfig.EntryID
}

// Runner manages scheduled job execution
type Runner struct {
	config  Config
	cron    *robfig.Cron
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
	jobs    map[string]*job
}

// NewRunner creates a new cron runner
func NewRunner(config Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}
	if config.Location == nil {
		config.Location = time.Local
	}

	cl := cronLogger{logger: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		config: config,
		cron: robfig.New(
			robfig.WithLocation(config.Location),
			robfig.WithLogger(cl),
			robfig.WithChain(robfig.Recover(cl), robfig.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}
}

// AddJob registers fn under name. Standard 5-field specs and descriptors
// such as "@every 5m" or "@daily" are accepted.
func (r *Runner) AddJob(name, schedule string, fn JobFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	j := &job{name: name, schedule: schedule, fn: fn}
	id, err := r.cron.AddFunc(schedule, func() { r.execute(j) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, name, err)
	}
	j.id = id
	r.jobs[name] = j

	r.logger.Info("Scheduled job registered",
		zap.String("job_id", name),
		zap.String("schedule", schedule),
	)
	return nil
}

// RemoveJob unregisters a job
func (r *Runner) RemoveJob(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[name]; ok {
		r.cron.Remove(j.id)
		delete(r.jobs, name)
	}
}

// RunNow executes a job synchronously outside its schedule
func (r *Runner) RunNow(name string) error {
	r.mu.RLock()
	j, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return r.execute(j)
}

// Jobs lists registered jobs with their next run time
func (r *Runner) Jobs() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]JobInfo, 0, len(r.jobs))
	for _, j := range r.jobs {
		e := r.cron.Entry(j.id)
		out = append(out, JobInfo{Name: j.name, Schedule: j.schedule, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}

	r.running = true
	r.cron.Start()
	r.logger.Info("Cron runner started", zap.Int("jobs", len(r.jobs)))
	return nil
}

// Stop stops the cron runner and waits for running jobs
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// execute runs a single job with a timeout
func (r *Runner) execute(j *job) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.JobTimeout)
	defer cancel()

	start := time.Now()
	r.logger.Debug("Executing scheduled job", zap.String("job_id", j.name))

	err := j.fn(ctx)
	if err != nil {
		r.logger.Error("Job execution failed",
			zap.String("job_id", j.name),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return err
	}

	r.logger.Info("Job completed",
		zap.String("job_id", j.name),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

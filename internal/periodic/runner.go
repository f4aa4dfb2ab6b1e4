// Package periodic runs the hub's fixed-interval jobs on a shared cron.
package periodic

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one unit of periodic work.
type Job func(ctx context.Context)

// Runner owns a cron instance with panic recovery and zerolog output.
//
// Entries are not serialised: if a run outlasts its interval the next run
// starts anyway, so jobs must be idempotent.
type Runner struct {
	cron   *cron.Cron
	logger zerolog.Logger
	ctx    context.Context

	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
}

// NewRunner creates a stopped runner. Jobs receive ctx; it is not cancelled by Stop.
func NewRunner(ctx context.Context, logger zerolog.Logger) *Runner {
	logger = logger.With().Str("component", "periodic").Logger()
	cronLogger := Logger{logger: logger}
	return &Runner{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		logger:  logger,
		ctx:     ctx,
		entries: make(map[string]cron.EntryID),
	}
}

// Every registers job under name to run each interval (rounded up to whole seconds).
// Registering an existing name replaces it.
func (r *Runner) Every(name string, interval time.Duration, job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
	}
	r.entries[name] = r.cron.Schedule(cron.Every(interval), r.wrap(name, job))
	r.logger.Debug().Str("job", name).Dur("interval", interval).Msg("job registered")
}

// Remove unregisters name. Runs already in flight finish normally.
func (r *Runner) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
		delete(r.entries, name)
	}
}

// RunNow executes name's job once, synchronously, outside the cron schedule.
func (r *Runner) RunNow(name string) bool {
	r.mu.Lock()
	id, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.cron.Entry(id).WrappedJob.Run()
	return true
}

// Next returns when name runs next; zero before Start.
func (r *Runner) Next(name string) time.Time {
	r.mu.Lock()
	id, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return r.cron.Entry(id).Next
}

// Start begins scheduling. Safe to call more than once.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.cron.Start()
	r.logger.Info().Int("jobs", len(r.entries)).Msg("periodic runner started")
}

// Stop halts future runs. The returned context is done once in-flight runs finish.
func (r *Runner) Stop() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	r.logger.Info().Msg("periodic runner stopping")
	return r.cron.Stop()
}

func (r *Runner) wrap(name string, job Job) cron.Job {
	return cron.FuncJob(func() {
		start := time.Now()
		job(r.ctx)
		r.logger.Trace().Str("job", name).Dur("took", time.Since(start)).Msg("job ran")
	})
}

// Logger adapts zerolog to cron.Logger.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger wraps logger for use with cron options.
func NewLogger(logger zerolog.Logger) Logger { return Logger{logger: logger} }

// Info implements cron.Logger. cron's info output is schedule chatter, kept at debug.
func (l Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

// Error implements cron.Logger.
func (l Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

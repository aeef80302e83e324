package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RunFunc executes one trigger; the app service supplies it.
type RunFunc func(ctx context.Context, trigger Trigger)

// Runner fires triggers on their cron schedules.
type Runner struct {
	cron    *cron.Cron
	entries map[Trigger]cron.EntryID
	logger  *zap.Logger
}

type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewRunner parses schedule (trigger name to five-field cron spec) and binds
// each trigger to run. Specs are evaluated in loc.
func NewRunner(schedule map[string]string, loc *time.Location, run RunFunc, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{sugar: logger.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{sugar: logger.Sugar()})),
	)
	r := &Runner{cron: c, entries: map[Trigger]cron.EntryID{}, logger: logger}
	names := make([]string, 0, len(schedule))
	for name := range schedule {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		trigger, err := ParseTrigger(name)
		if err != nil {
			return nil, err
		}
		spec := schedule[name]
		id, err := c.AddFunc(spec, func() {
			logger.Info("trigger fired", zap.String("trigger", string(trigger)))
			run(context.Background(), trigger)
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", name, spec, err)
		}
		r.entries[trigger] = id
	}
	return r, nil
}

// Next reports when trigger fires next; zero if it is not scheduled or the
// runner has not started.
func (r *Runner) Next(trigger Trigger) time.Time {
	id, ok := r.entries[trigger]
	if !ok {
		return time.Time{}
	}
	return r.cron.Entry(id).Next
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (r *Runner) Run(ctx context.Context) error {
	r.cron.Start()
	r.logger.Info("scheduler started", zap.Int("triggers", len(r.entries)))
	<-ctx.Done()
	<-r.cron.Stop().Done()
	r.logger.Info("scheduler stopped")
	return nil
}

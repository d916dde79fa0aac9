// Package janitor periodically removes abandoned upload sessions and finished
// run records.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/your-org/shortsplit/pkg/logger"
)

// Sweeper drops upload sessions idle for longer than ttl.
type Sweeper interface {
	SweepExpired(ctx context.Context, ttl time.Duration) (int, error)
}

// Pruner drops terminal runs older than age.
type Pruner interface {
	Prune(age time.Duration) int
}

type Params struct {
	Schedule  string
	Uploads   Sweeper
	Runs      Pruner
	UploadTTL time.Duration
	RunTTL    time.Duration
	Logger    *zap.Logger
}

// Janitor owns a cron scheduler with a single cleanup job.
type Janitor struct {
	cron      *cron.Cron
	uploads   Sweeper
	runs      Pruner
	uploadTTL time.Duration
	runTTL    time.Duration
	logger    *zap.Logger
}

// New registers the cleanup job on schedule. Standard five-field specs and
// descriptors such as "@every 10m" are accepted.
func New(p Params) (*Janitor, error) {
	log := logger.Component(p.Logger, "janitor")
	cl := cronLogger{log.Sugar()}
	j := &Janitor{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		uploads:   p.Uploads,
		runs:      p.Runs,
		uploadTTL: p.UploadTTL,
		runTTL:    p.RunTTL,
		logger:    log,
	}
	if j.runTTL <= 0 {
		j.runTTL = time.Hour
	}
	if _, err := j.cron.AddFunc(p.Schedule, func() { j.Sweep(context.Background()) }); err != nil {
		return nil, err
	}
	return j, nil
}

// Sweep runs one cleanup pass.
func (j *Janitor) Sweep(ctx context.Context) {
	if j.uploads != nil && j.uploadTTL > 0 {
		n, err := j.uploads.SweepExpired(ctx, j.uploadTTL)
		if err != nil {
			j.logger.Warn("sweep uploads failed", zap.Error(err))
		} else if n > 0 {
			j.logger.Info("expired uploads removed", zap.Int("count", n))
		}
	}
	if j.runs != nil {
		if n := j.runs.Prune(j.runTTL); n > 0 {
			j.logger.Info("finished runs pruned", zap.Int("count", n))
		}
	}
}

func (j *Janitor) Start() {
	j.logger.Info("janitor started")
	j.cron.Start()
}

// Stop halts the scheduler and waits for a running pass, bounded by ctx.
func (j *Janitor) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
	j.logger.Info("janitor stopped")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

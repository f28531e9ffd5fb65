package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"radar-engine/internal/logging"
)

type Task func(ctx context.Context) error

// Every runs task immediately and then on each tick until ctx is done.
// Runs never overlap.
func Every(ctx context.Context, interval time.Duration, name string, log *zap.Logger, task Task) {
	log = logging.OrNop(log)
	t := time.NewTicker(interval)
	defer t.Stop()

	run := func() {
		if err := task(ctx); err != nil && ctx.Err() == nil {
			log.Warn("task failed", zap.String("task", name), zap.Error(err))
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run()
		}
	}
}

// Parser accepts 5- or 6-field specs and descriptors like @every 30m.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cron runs task on spec until ctx is done. A run still in progress when the
// next one is due is skipped.
func Cron(ctx context.Context, spec, name string, log *zap.Logger, task Task) error {
	log = logging.OrNop(log)
	sched, err := Parser.Parse(spec)
	if err != nil {
		return err
	}

	c := cron.New(
		cron.WithParser(Parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		if err := task(ctx); err != nil && ctx.Err() == nil {
			log.Warn("task failed", zap.String("task", name), zap.Error(err))
		}
	}))

	log.Info("scheduled", zap.String("task", name), zap.String("spec", spec), zap.Time("next", sched.Next(time.Now())))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

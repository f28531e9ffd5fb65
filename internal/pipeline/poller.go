package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"radar-engine/internal/scheduler"
)

// Status is what the HTTP API reports about the scanner.
type Status struct {
	Running    bool         `json:"running"`
	CycleID    string       `json:"cycle_id,omitempty"`
	LastRunAt  time.Time    `json:"last_run_at,omitempty"`
	LastOkAt   time.Time    `json:"last_ok_at,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
	LastReport *CycleReport `json:"last_report,omitempty"`
}

func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Pipeline) setRunning(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Running = true
	p.status.CycleID = id
	p.status.LastRunAt = p.now().UTC()
}

func (p *Pipeline) setDone(rep CycleReport, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Running = false
	p.status.LastReport = &rep
	if err != nil {
		p.status.LastError = err.Error()
		return
	}
	p.status.LastError = ""
	p.status.LastOkAt = p.now().UTC()
}

// Trigger starts a cycle in the background. It returns false when one is
// already running in this process.
func (p *Pipeline) Trigger(ctx context.Context) bool {
	if p.running.Load() {
		return false
	}
	go func() {
		if _, err := p.RunCycle(ctx); err != nil && !errors.Is(err, ErrLocked) {
			p.log.Warn("triggered scan failed", zap.Error(err))
		}
	}()
	return true
}

// Start runs cycles on the cron schedule until ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context, schedule string) error {
	return scheduler.Cron(ctx, schedule, "scan", p.log, func(ctx context.Context) error {
		_, err := p.RunCycle(ctx)
		if errors.Is(err, ErrLocked) {
			p.log.Info("previous scan still running, skipping tick")
			return nil
		}
		return err
	})
}

package httpapi

import (
	"context"

	"go.uber.org/zap"

	"radar-engine/internal/config"
	"radar-engine/internal/domain"
	"radar-engine/internal/events"
	"radar-engine/internal/pipeline"
	"radar-engine/internal/store"
)

type CandidateStore interface {
	Get(ctx context.Context, fingerprint string) (domain.Candidate, error)
	List(ctx context.Context, f store.Filter) ([]domain.Candidate, error)
	Stats(ctx context.Context) (map[domain.Status]int, error)
}

// Actions applies human decisions; *approval.Machine implements it.
type Actions interface {
	Do(ctx context.Context, action, fp, actor, text string) (domain.Candidate, error)
}

type TokenVerifier interface {
	Verify(token string) (fingerprint, action string, err error)
}

type Scanner interface {
	Trigger(ctx context.Context) bool
	Status() pipeline.Status
}

type Deps struct {
	Store   CandidateStore
	Actions Actions
	Tokens  TokenVerifier // nil disables /actions
	Scanner Scanner       // nil disables /scan
	Hub     *events.Hub

	Config      config.Config
	UserCfgPath string

	// Ping checks the database for /health.
	Ping func(ctx context.Context) error
	// Checkpoint flushes the sqlite WAL; nil for other drivers.
	Checkpoint func(ctx context.Context) error

	// Background outlives requests; triggered scans run under it.
	Background context.Context

	Log *zap.Logger
}

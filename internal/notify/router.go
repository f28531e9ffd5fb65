package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"radar-engine/internal/domain"
	"radar-engine/internal/events"
	"radar-engine/internal/logging"
	"radar-engine/internal/metrics"
)

const (
	StatusDelivered = "delivered"
	StatusTruncated = "truncated"
	StatusFailed    = "failed"
)

type Result struct {
	Truncated bool
	Ref       string
}

// Channel delivers one formatted candidate. Implementations format the
// message for their transport and enforce their own size limit.
type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) (Result, error)
}

// DeliveryLog remembers which channels already received a candidate.
type DeliveryLog interface {
	Delivered(ctx context.Context, fingerprint, channel string) (bool, error)
	RecordDelivery(ctx context.Context, fingerprint, channel, status string, attempts int, errMsg string) error
}

// TokenIssuer signs approve/edit/skip actions for channels without callbacks.
type TokenIssuer interface {
	Issue(fingerprint, action string) (string, error)
}

type DeliveryEntry struct {
	Fingerprint string `json:"fingerprint"`
	Channel     string `json:"channel"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
}

type DeliveryReport struct {
	Entries []DeliveryEntry `json:"entries"`
}

// Counts tallies entries by status.
func (r DeliveryReport) Counts() map[string]int {
	out := map[string]int{}
	for _, e := range r.Entries {
		out[e.Status]++
	}
	return out
}

func (r DeliveryReport) For(fingerprint string) []DeliveryEntry {
	var out []DeliveryEntry
	for _, e := range r.Entries {
		if e.Fingerprint == fingerprint {
			out = append(out, e)
		}
	}
	return out
}

type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Tokens      TokenIssuer
	LinkBaseURL string
	Deliveries  DeliveryLog
	Events      events.Publisher
}

type Router struct {
	channels    []Channel
	maxAttempts int
	retryDelay  time.Duration
	tokens      TokenIssuer
	linkBase    string
	deliveries  DeliveryLog
	events      events.Publisher
	log         *zap.Logger
}

func NewRouter(channels []Channel, opts Options, log *zap.Logger) *Router {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Router{
		channels:    channels,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		tokens:      opts.Tokens,
		linkBase:    strings.TrimRight(opts.LinkBaseURL, "/"),
		deliveries:  opts.Deliveries,
		events:      opts.Events,
		log:         logging.OrNop(log).Named("notify"),
	}
}

func (r *Router) Channels() []string {
	out := make([]string, len(r.channels))
	for i, ch := range r.channels {
		out[i] = ch.Name()
	}
	return out
}

// Notify delivers each candidate to the named channels (all when none are
// named). Channels run independently; a failing channel never blocks another
// and never changes candidate state. NOISE candidates are dropped.
func (r *Router) Notify(ctx context.Context, cs []domain.Candidate, channels ...string) DeliveryReport {
	selected := r.pick(channels)

	msgs := make([]Message, 0, len(cs))
	for _, c := range cs {
		if c.Intent == domain.IntentNoise {
			r.log.Warn("refusing to notify noise candidate", zap.String("fingerprint", c.Fingerprint))
			continue
		}
		msgs = append(msgs, r.message(c))
	}
	if len(msgs) == 0 || len(selected) == 0 {
		return DeliveryReport{}
	}

	perChannel := make([][]DeliveryEntry, len(selected))
	var g errgroup.Group
	for i, ch := range selected {
		g.Go(func() error {
			perChannel[i] = r.deliverAll(ctx, ch, msgs)
			return nil
		})
	}
	_ = g.Wait()

	var rep DeliveryReport
	for _, es := range perChannel {
		rep.Entries = append(rep.Entries, es...)
	}
	return rep
}

func (r *Router) pick(names []string) []Channel {
	if len(names) == 0 {
		return r.channels
	}
	want := map[string]bool{}
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = true
	}
	var out []Channel
	for _, ch := range r.channels {
		if want[ch.Name()] {
			out = append(out, ch)
		}
	}
	return out
}

func (r *Router) message(c domain.Candidate) Message {
	m := Message{Candidate: c, Priority: PriorityFor(c.Intent)}
	if c.Status != domain.StatusPendingApproval {
		return m
	}
	for _, a := range []Action{
		{Kind: ActionApprove, Label: "✅ Post"},
		{Kind: ActionEdit, Label: "✏️ Edit"},
		{Kind: ActionSkip, Label: "❌ Skip"},
	} {
		if r.tokens != nil {
			tok, err := r.tokens.Issue(c.Fingerprint, a.Kind)
			if err != nil {
				r.log.Warn("sign action", zap.String("fingerprint", c.Fingerprint), zap.Error(err))
			} else {
				a.Token = tok
				if r.linkBase != "" {
					a.URL = r.linkBase + "/actions?token=" + url.QueryEscape(tok)
				}
			}
		}
		m.Actions = append(m.Actions, a)
	}
	return m
}

// deliverAll sends candidates in order on one channel.
func (r *Router) deliverAll(ctx context.Context, ch Channel, msgs []Message) []DeliveryEntry {
	var out []DeliveryEntry
	for _, m := range msgs {
		fp := m.Candidate.Fingerprint
		if r.deliveries != nil {
			done, err := r.deliveries.Delivered(ctx, fp, ch.Name())
			if err != nil {
				r.log.Warn("delivery log lookup", zap.String("fingerprint", fp), zap.Error(err))
			} else if done {
				r.log.Debug("already delivered", zap.String("fingerprint", fp), zap.String("channel", ch.Name()))
				continue
			}
		}

		out = append(out, r.deliver(ctx, ch, m))
	}
	return out
}

func (r *Router) deliver(ctx context.Context, ch Channel, m Message) DeliveryEntry {
	fp := m.Candidate.Fingerprint
	e := DeliveryEntry{Fingerprint: fp, Channel: ch.Name()}

	var res Result
	op := func() error {
		e.Attempts++
		var err error
		res, err = ch.Send(ctx, m)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryDelay
	b.MaxInterval = 30 * time.Second
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxAttempts-1)), ctx))

	switch {
	case err != nil:
		e.Status = StatusFailed
		e.Error = err.Error()
		r.log.Warn("delivery failed",
			zap.String("fingerprint", fp), zap.String("channel", ch.Name()),
			zap.Int("attempts", e.Attempts), zap.Error(err))
	case res.Truncated:
		e.Status = StatusTruncated
	default:
		e.Status = StatusDelivered
	}
	metrics.Deliveries.WithLabelValues(ch.Name(), e.Status).Inc()

	if r.deliveries != nil {
		// record even when ctx was cancelled mid-send
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := r.deliveries.RecordDelivery(rctx, fp, ch.Name(), e.Status, e.Attempts, e.Error); err != nil {
			r.log.Warn("record delivery", zap.String("fingerprint", fp), zap.Error(err))
		}
		cancel()
	}
	events.Emit(r.events, "", events.TypeDelivery, e)
	return e
}

// PermanentError marks a send failure that retrying cannot fix (bad request,
// bad credentials).
type PermanentError struct {
	Channel string
	Err     error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("%s: %v", e.Channel, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	cb "github.com/sony/gobreaker"
	"go.uber.org/zap"

	"radar-engine/internal/domain"
	"radar-engine/internal/logging"
	"radar-engine/internal/metrics"
)

// ErrNotConfigured is returned when no API key was supplied.
var ErrNotConfigured = errors.New("ai backend not configured")

type Config struct {
	APIKey            string
	Model             string
	BaseURL           string
	MaxTokensClassify int
	MaxTokensDraft    int
	Timeout           time.Duration
}

// Client is the language-model backend used for classification and drafting.
// Calls go through a circuit breaker so a dead backend fails fast.
type Client struct {
	api     *anthropic.Client
	cfg     Config
	breaker *cb.CircuitBreaker
	log     *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Client {
	log = logging.OrNop(log).Named("ai")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokensClassify <= 0 {
		cfg.MaxTokensClassify = 200
	}
	if cfg.MaxTokensDraft <= 0 {
		cfg.MaxTokensDraft = 500
	}

	c := &Client{cfg: cfg, log: log}
	if strings.TrimSpace(cfg.APIKey) != "" {
		opts := []option.RequestOption{
			option.WithAPIKey(cfg.APIKey),
			option.WithMaxRetries(0),
			option.WithRequestTimeout(cfg.Timeout),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		api := anthropic.NewClient(opts...)
		c.api = &api
	}

	c.breaker = cb.NewCircuitBreaker(cb.Settings{
		Name:        "ai",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// only backend-side trouble trips the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsTransient(err)
		},
		OnStateChange: func(name string, from, to cb.State) {
			log.Warn("circuit breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

func (c *Client) Configured() bool { return c != nil && c.api != nil }

// ClassifyPrompt sends a classification prompt and returns the raw reply text.
func (c *Client) ClassifyPrompt(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, "classify", "", prompt, c.cfg.MaxTokensClassify)
}

// GenerateDraft sends a drafting prompt under the given system prompt.
func (c *Client) GenerateDraft(ctx context.Context, system, prompt string) (string, error) {
	return c.complete(ctx, "draft", system, prompt, c.cfg.MaxTokensDraft)
}

func (c *Client) complete(ctx context.Context, op, system, prompt string, maxTokens int) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(c.cfg.Model),
			MaxTokens: int64(maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}

		resp, err := c.api.Messages.New(ctx, params)
		if err != nil {
			return nil, classifyError(op, err)
		}

		var sb strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		c.log.Debug("ai call",
			zap.String("op", op),
			zap.Int64("input_tokens", resp.Usage.InputTokens),
			zap.Int64("output_tokens", resp.Usage.OutputTokens),
			zap.Duration("duration", time.Since(start)))
		return sb.String(), nil
	})

	if err != nil {
		if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
			err = &domain.TransientError{Op: "ai " + op, Err: err}
		}
		metrics.AIRequests.WithLabelValues(op, "error").Inc()
		return "", err
	}
	metrics.AIRequests.WithLabelValues(op, "ok").Inc()
	return out.(string), nil
}

// classifyError marks rate limits, overload, server errors and timeouts as transient.
func classifyError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientError{Op: "ai " + op, Err: err}
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusTooManyRequests, code == 529, code >= 500:
			return &domain.TransientError{Op: "ai " + op, Err: err}
		default:
			return fmt.Errorf("ai %s: status %d: %w", op, code, err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// transport-level failures
	return &domain.TransientError{Op: "ai " + op, Err: err}
}

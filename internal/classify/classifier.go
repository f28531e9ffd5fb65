package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"radar-engine/internal/domain"
	"radar-engine/internal/logging"
	"radar-engine/internal/metrics"
)

const (
	SourceAI    = "ai"
	SourceRules = "rules"

	maxPromptContent = 1000
)

type Classification struct {
	Intent     domain.Intent
	Confidence float64
	Reasoning  string
	Source     string
	Raw        string
}

// Backend answers a classification prompt with raw model text.
type Backend interface {
	ClassifyPrompt(ctx context.Context, prompt string) (string, error)
}

type Options struct {
	Rules      []Rule
	Timeout    time.Duration
	RetryDelay time.Duration
}

type Classifier struct {
	backend    Backend
	rules      []Rule
	timeout    time.Duration
	retryDelay time.Duration
	log        *zap.Logger
}

// New builds a classifier. A nil backend, or one reporting Configured() == false,
// means rules only.
func New(backend Backend, opts Options, log *zap.Logger) *Classifier {
	if c, ok := backend.(interface{ Configured() bool }); ok && !c.Configured() {
		backend = nil
	}
	if len(opts.Rules) == 0 {
		opts.Rules = DefaultRules()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Classifier{
		backend:    backend,
		rules:      opts.Rules,
		timeout:    opts.Timeout,
		retryDelay: opts.RetryDelay,
		log:        logging.OrNop(log).Named("classify"),
	}
}

// Classify never fails: backend errors are retried once, then the ordered
// keyword rules decide.
func (c *Classifier) Classify(ctx context.Context, p domain.Post) Classification {
	res := c.classify(ctx, p)
	metrics.Classifications.WithLabelValues(string(res.Intent), res.Source).Inc()
	return res
}

func (c *Classifier) classify(ctx context.Context, p domain.Post) Classification {
	if c.backend == nil {
		return MatchRules(c.rules, p)
	}

	prompt := BuildPrompt(p)
	var raw string
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		out, err := c.backend.ClassifyPrompt(attemptCtx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		raw = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 1), ctx)); err != nil {
		c.log.Warn("ai classification failed, using rules",
			zap.String("fingerprint", p.Fingerprint()), zap.Error(err))
		return MatchRules(c.rules, p)
	}

	res, known, err := parseReply(raw)
	if err != nil {
		c.log.Warn("malformed ai classification, using rules",
			zap.String("fingerprint", p.Fingerprint()), zap.Error(err))
		return MatchRules(c.rules, p)
	}
	if !known {
		c.log.Warn("ai returned unknown category, treating as noise",
			zap.String("fingerprint", p.Fingerprint()), zap.String("raw", raw))
	}
	return res
}

// BuildPrompt renders the fixed classification template for p.
func BuildPrompt(p domain.Post) string {
	content := p.Body
	if len(content) > maxPromptContent {
		content = truncateRunes(content, maxPromptContent) + "..."
	}
	return fmt.Sprintf(promptTemplate, p.Title, p.Subreddit, content)
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

const promptTemplate = `Analyze this Reddit post and classify the author's intent.

Title: %s
Subreddit: r/%s
Content: %s

Classify into ONE of these categories:

1. HOT_LEAD - Author is actively looking for a solution, tool, or service.
   Signals: "looking for", "need help with", "recommendations?", "what tool do you use for"

2. COMPETITOR - Author is showcasing or promoting their own solution.
   Signals: "I built", "we launched", "check out my", "introducing"

3. CONTENT_IDEA - Author is asking a question that could become content.
   Signals: "how do I", "what's the best way", "why does", "explain"

4. PARTNERSHIP - Author is looking for contractor, agency, or partner.
   Signals: "hiring", "looking for developer", "need agency", "seeking partner"

5. NOISE - Not relevant for business purposes.
   Signals: memes, off-topic, complaints without asking for solution

Return ONLY valid JSON (no markdown):
{"intent": "HOT_LEAD|COMPETITOR|CONTENT_IDEA|PARTNERSHIP|NOISE", "confidence": 0.0-1.0, "reasoning": "brief explanation"}`

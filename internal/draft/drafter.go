package draft

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"radar-engine/internal/config"
	"radar-engine/internal/domain"
	"radar-engine/internal/logging"
)

const (
	maxBodyChars     = 1500
	maxStyleExamples = 2

	defaultSystemPrompt = "You write short, genuinely helpful forum replies. Never sound like an ad."
	defaultTone         = "professional, helpful"
	defaultApproach     = "Be genuinely helpful."
)

// Generator produces reply text from a system prompt and a user prompt.
type Generator interface {
	GenerateDraft(ctx context.Context, system, prompt string) (string, error)
}

type Drafter struct {
	gen        Generator
	cfg        config.DraftConfig
	intents    map[domain.Intent]bool
	retryDelay time.Duration
	log        *zap.Logger
}

func New(gen Generator, cfg config.DraftConfig, log *zap.Logger) *Drafter {
	if c, ok := gen.(interface{ Configured() bool }); ok && !c.Configured() {
		gen = nil
	}
	intents := make(map[domain.Intent]bool, len(cfg.Intents))
	for _, s := range cfg.Intents {
		if in, ok := domain.ParseIntent(s); ok {
			intents[in] = true
		}
	}
	if len(intents) == 0 {
		intents = map[domain.Intent]bool{
			domain.IntentHotLead: true, domain.IntentPartnership: true, domain.IntentCompetitor: true,
		}
	}
	return &Drafter{
		gen:        gen,
		cfg:        cfg,
		intents:    intents,
		retryDelay: 2 * time.Second,
		log:        logging.OrNop(log).Named("draft"),
	}
}

// Wants reports whether c's classification warrants a reply draft.
func (d *Drafter) Wants(c domain.Candidate) bool {
	if c.Intent == domain.IntentNoise || !d.intents[c.Intent] {
		return false
	}
	return c.Confidence >= d.cfg.MinConfidence
}

// Available is false when no generation backend is configured.
func (d *Drafter) Available() bool { return d.gen != nil }

var errEmptyDraft = errors.New("empty draft")

// Draft returns reply text for c, or "" when c does not warrant one. Errors
// mean generation failed; callers proceed without a draft.
func (d *Drafter) Draft(ctx context.Context, c domain.Candidate) (string, error) {
	if !d.Wants(c) || d.gen == nil {
		return "", nil
	}

	system := strings.TrimSpace(d.cfg.SystemPrompt)
	if system == "" {
		system = defaultSystemPrompt
	}
	prompt := d.BuildPrompt(c)

	var text string
	op := func() error {
		out, err := d.gen.GenerateDraft(ctx, system, prompt)
		if err != nil {
			if !domain.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		text = strings.TrimSpace(out)
		if text == "" {
			return backoff.Permanent(&domain.MalformedResponseError{Raw: out, Err: errEmptyDraft})
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryDelay
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 1), ctx)); err != nil {
		d.log.Warn("draft generation failed", zap.String("fingerprint", c.Fingerprint), zap.Error(err))
		return "", fmt.Errorf("draft %s: %w", c.Fingerprint, err)
	}
	return text, nil
}

// BuildPrompt renders the drafting context for c.
func (d *Drafter) BuildPrompt(c domain.Candidate) string {
	p := c.Post
	var sb strings.Builder

	body := strings.TrimSpace(p.Body)
	if body == "" {
		body = "[No body text]"
	} else if r := []rune(body); len(r) > maxBodyChars {
		body = string(r[:maxBodyChars])
	}

	fmt.Fprintf(&sb, "## Post to Respond To\nTitle: %s\nSubreddit: r/%s\nContent: %s\nScore: %d | Comments: %d\n\n",
		p.Title, p.Subreddit, body, p.Score, p.NumComments)
	fmt.Fprintf(&sb, "## Classification\nIntent: %s\nConfidence: %.0f%%\nReasoning: %s\n\n",
		c.Intent, c.Confidence*100, c.Reasoning)

	name := d.cfg.Company.Name
	if name == "" {
		name = "Our"
	}
	fmt.Fprintf(&sb, "## Relevant %s Services\n%s\n\n", name, d.relevantServices(p))

	adj := d.cfg.SubredditAdjustments[strings.ToLower(p.Subreddit)]
	tone := adj.Tone
	if tone == "" {
		tone = defaultTone
	}
	mention := adj.CanMention
	if len(mention) == 0 {
		mention = []string{"general expertise"}
	}
	fmt.Fprintf(&sb, "## Subreddit Tone\n%s\nCan mention: %s\n\n", tone, strings.Join(mention, ", "))

	approach := defaultApproach
	if ia, ok := d.intentAdjustment(c.Intent); ok && ia.Approach != "" {
		approach = ia.Approach
	}
	fmt.Fprintf(&sb, "## Intent Approach\n%s\n", approach)

	if ex := d.cfg.StyleExamples; len(ex) > 0 {
		sb.WriteString("\n## Style Examples\n")
		for _, e := range ex[:min(len(ex), maxStyleExamples)] {
			fmt.Fprintf(&sb, "\nContext: %s\nResponse:\n%s\n", e.Context, e.Response)
		}
	}

	sb.WriteString("\n---\n\nGenerate a response draft for this post. Remember: helpful first, never salesy. 100-200 words max.")
	return sb.String()
}

func (d *Drafter) intentAdjustment(in domain.Intent) (config.IntentAdjustment, bool) {
	for k, v := range d.cfg.IntentAdjustments {
		if got, ok := domain.ParseIntent(k); ok && got == in {
			return v, true
		}
	}
	return config.IntentAdjustment{}, false
}

// relevantServices lists company services whose keywords appear in the post.
func (d *Drafter) relevantServices(p domain.Post) string {
	text := p.Text()
	keys := make([]string, 0, len(d.cfg.Company.Services))
	for k := range d.cfg.Company.Services {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		svc := d.cfg.Company.Services[k]
		for _, kw := range svc.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(text, kw) {
				lines = append(lines, fmt.Sprintf("- %s: %s", svc.Name, svc.ValueProp))
				break
			}
		}
	}
	if len(lines) == 0 {
		return "No specific service match. Focus on general expertise and helpfulness."
	}
	return strings.Join(lines, "\n")
}

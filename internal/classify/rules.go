package classify

import (
	"strings"

	"radar-engine/internal/config"
	"radar-engine/internal/domain"
)

// Rule maps any matching phrase to an intent. Rules are evaluated in order
// and the first match wins.
type Rule struct {
	Intent     domain.Intent
	Confidence float64
	Any        []string
}

const noiseConfidence = 0.4

func DefaultRules() []Rule {
	return []Rule{
		{
			Intent:     domain.IntentHotLead,
			Confidence: 0.6,
			Any: []string{
				"looking for", "need help", "recommendations", "suggest",
				"what tool", "which software", "any alternatives", "best way to",
				"how do you handle", "what do you use for",
			},
		},
		{
			Intent:     domain.IntentPartnership,
			Confidence: 0.6,
			Any: []string{
				"hiring", "looking for developer", "need contractor",
				"seeking partner", "looking for agency", "freelancer needed",
			},
		},
		{
			Intent:     domain.IntentCompetitor,
			Confidence: 0.6,
			Any: []string{
				"i built", "we built", "i made", "we made", "launched",
				"introducing", "check out", "i created", "my project",
				"show hn", "side project",
			},
		},
		{
			Intent:     domain.IntentContentIdea,
			Confidence: 0.5,
			Any: []string{
				"how do i", "how to", "why does", "explain", "what is",
				"eli5", "help me understand", "what's the difference",
			},
		},
	}
}

// RulesFromConfig converts configured rules. An empty list yields the defaults.
// Entries with an unknown intent are dropped; config validation reports them.
func RulesFromConfig(rs []config.Rule) []Rule {
	if len(rs) == 0 {
		return DefaultRules()
	}
	out := make([]Rule, 0, len(rs))
	for _, r := range rs {
		in, ok := domain.ParseIntent(r.Intent)
		if !ok {
			continue
		}
		terms := make([]string, 0, len(r.Any))
		for _, t := range r.Any {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				terms = append(terms, t)
			}
		}
		out = append(out, Rule{Intent: in, Confidence: r.Confidence, Any: terms})
	}
	return out
}

// MatchRules is the deterministic fallback classifier.
func MatchRules(rules []Rule, p domain.Post) Classification {
	text := p.Text()
	for _, r := range rules {
		for _, term := range r.Any {
			if strings.Contains(text, strings.ToLower(term)) {
				return Classification{
					Intent:     r.Intent,
					Confidence: r.Confidence,
					Reasoning:  "matched " + strings.ToLower(string(r.Intent)) + " phrase \"" + term + "\"",
					Source:     SourceRules,
				}
			}
		}
	}
	return Classification{
		Intent:     domain.IntentNoise,
		Confidence: noiseConfidence,
		Reasoning:  "no strong signals",
		Source:     SourceRules,
	}
}

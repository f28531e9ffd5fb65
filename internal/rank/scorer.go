package rank

import (
	"math"
	"strings"

	"radar-engine/internal/domain"
)

type Scorer interface {
	Score(p domain.Post, intent domain.Intent, subredditWeight float64) float64
}

var defaultBoosts = map[domain.Intent]float64{
	domain.IntentHotLead:     2.0,
	domain.IntentPartnership: 1.5,
	domain.IntentContentIdea: 1.2,
	domain.IntentCompetitor:  1.0,
	domain.IntentNoise:       0,
}

func DefaultBoosts() map[domain.Intent]float64 {
	out := make(map[domain.Intent]float64, len(defaultBoosts))
	for k, v := range defaultBoosts {
		out[k] = v
	}
	return out
}

// EngagementScorer is log-scaled engagement times an intent boost times the
// subreddit weight. It holds no state and never reads the clock.
type EngagementScorer struct {
	Boosts map[domain.Intent]float64 // nil uses the defaults
}

func (s EngagementScorer) Score(p domain.Post, intent domain.Intent, subredditWeight float64) float64 {
	boost, ok := s.Boosts[intent]
	if !ok {
		boost = defaultBoosts[intent]
	}
	if subredditWeight < 0 {
		subredditWeight = 0
	}
	return Base(p) * boost * subredditWeight
}

// Base is ln(1+upvotes) + ln(1+comments); negative counts count as zero.
func Base(p domain.Post) float64 {
	up := math.Max(float64(p.Score), 0)
	cm := math.Max(float64(p.NumComments), 0)
	return math.Log1p(up) + math.Log1p(cm)
}

// SubredditWeights maps lower-cased subreddit names to multipliers.
type SubredditWeights map[string]float64

func (w SubredditWeights) For(subreddit string) float64 {
	if v, ok := w[strings.ToLower(strings.TrimSpace(subreddit))]; ok {
		return v
	}
	return 1.0
}

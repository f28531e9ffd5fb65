package rank

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"radar-engine/internal/domain"
)

func TestScoreIsDeterministic(t *testing.T) {
	p := domain.Post{Score: 42, NumComments: 7}
	s := EngagementScorer{}
	assert.Equal(t, s.Score(p, domain.IntentHotLead, 1.3), s.Score(p, domain.IntentHotLead, 1.3))
}

func TestIntentBoosts(t *testing.T) {
	p := domain.Post{Score: 10, NumComments: 3}
	base := math.Log1p(10) + math.Log1p(3)
	s := EngagementScorer{}

	assert.InDelta(t, base*2.0, s.Score(p, domain.IntentHotLead, 1), 1e-9)
	assert.InDelta(t, base*1.5, s.Score(p, domain.IntentPartnership, 1), 1e-9)
	assert.InDelta(t, base*1.2, s.Score(p, domain.IntentContentIdea, 1), 1e-9)
	assert.InDelta(t, base, s.Score(p, domain.IntentCompetitor, 1), 1e-9)
	assert.Zero(t, s.Score(p, domain.IntentNoise, 1))
	assert.InDelta(t, base*2.0*0.5, s.Score(p, domain.IntentHotLead, 0.5), 1e-9)
}

func TestCustomBoostsFallBackToDefaults(t *testing.T) {
	p := domain.Post{Score: 1}
	s := EngagementScorer{Boosts: map[domain.Intent]float64{domain.IntentHotLead: 3}}
	assert.InDelta(t, Base(p)*3, s.Score(p, domain.IntentHotLead, 1), 1e-9)
	assert.InDelta(t, Base(p)*1.5, s.Score(p, domain.IntentPartnership, 1), 1e-9)
}

func TestNegativeEngagementClamped(t *testing.T) {
	assert.Zero(t, Base(domain.Post{Score: -5, NumComments: -1}))
}

func TestSubredditWeights(t *testing.T) {
	w := SubredditWeights{"saas": 1.5}
	assert.Equal(t, 1.5, w.For("SaaS"))
	assert.Equal(t, 1.0, w.For("golang"))
}

func TestTopNRanksByScoreThenRecency(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(fp string, score float64, age time.Duration) domain.Candidate {
		return domain.Candidate{Fingerprint: fp, Score: score, Post: domain.Post{CreatedAt: now.Add(-age)}}
	}
	in := []domain.Candidate{
		mk("a", 1, time.Hour),
		mk("old", 5, 3*time.Hour),
		mk("new", 5, time.Hour),
		mk("b", 3, time.Hour),
	}

	got := TopN(in, 3)
	assert.Equal(t, []string{"new", "old", "b"}, []string{got[0].Fingerprint, got[1].Fingerprint, got[2].Fingerprint})
	assert.Equal(t, "a", in[0].Fingerprint)
	assert.Len(t, TopN(in, 0), 4)
}

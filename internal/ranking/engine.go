// Package ranking computes personalized relevance scores from a learned
// preference profile. Scoring is deterministic: the same profile and
// candidates always produce the same ordered, contiguously ranked result.
package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/kalambet/feedrank/internal/profile"
)

const (
	// freshnessDecayHours shapes the exponential recency decay.
	freshnessDecayHours = 72.0
	// freshnessFallback applies when a candidate carries no timestamp at all.
	freshnessFallback = 0.2
)

// Engine scores candidates against a preference profile.
type Engine struct {
	weights   Weights
	presenter Presenter
	now       func() time.Time
}

// NewEngine builds an engine. Weights that do not sum to 1 are normalized;
// an all-zero Weights value falls back to DefaultWeights.
func NewEngine(w Weights) *Engine {
	sum := w.Similarity + w.Category + w.Domain + w.Freshness
	if sum <= 0 {
		w = DefaultWeights()
		sum = 1
	}
	if sum != 1 {
		w.Similarity /= sum
		w.Category /= sum
		w.Domain /= sum
		w.Freshness /= sum
	}
	return &Engine{
		weights:   w,
		presenter: EnglishPresenter{},
		now:       time.Now,
	}
}

// ScoreDocuments scores every candidate and returns them ordered best
// first with ranks 1..N. Candidates the profile knows nothing about still
// score via freshness, so a cold feed is ordered by recency.
func (e *Engine) ScoreDocuments(candidates []Candidate, prof *profile.Profile) []Score {
	if len(candidates) == 0 {
		return nil
	}

	now := e.now().UTC()
	coldStart := prof.IsColdStart()

	scores := make([]Score, 0, len(candidates))
	order := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		b := e.components(c, prof, now)
		total := e.weights.Similarity*b.Similarity +
			e.weights.Category*b.Category +
			e.weights.Domain*b.Domain +
			e.weights.Freshness*b.Freshness
		scores = append(scores, Score{
			DocumentID:  c.ID,
			Score:       clamp01(total),
			Components:  b,
			Explanation: e.presenter.Explain(b, coldStart),
			ColdStart:   coldStart,
		})
		order[c.ID] = c
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		ti, iOK := sortKeyTime(order[scores[i].DocumentID])
		tj, jOK := sortKeyTime(order[scores[j].DocumentID])
		switch {
		case iOK && jOK && !ti.Equal(tj):
			return ti.After(tj)
		case iOK != jOK:
			// Timestamped candidates rank ahead of timestampless ones.
			return iOK
		}
		return scores[i].DocumentID < scores[j].DocumentID
	})

	for i := range scores {
		scores[i].Rank = i + 1
	}
	return scores
}

func (e *Engine) components(c Candidate, prof *profile.Profile, now time.Time) Breakdown {
	var b Breakdown

	if prof != nil {
		if cos, ok := cosineSimilarity(prof.Embedding, c.Embedding); ok {
			b.Similarity = clamp01((cos + 1) / 2)
		}
		if c.PrimaryCategory != "" {
			b.Category = clamp01(prof.CategoryWeights[c.PrimaryCategory])
		}
		if c.Domain != "" {
			b.Domain = clamp01(prof.DomainWeights[c.Domain])
		}
	}
	b.Freshness = freshness(c, now)
	return b
}

// freshness decays exponentially with document age. Preference order for
// the age anchor: published, created, updated, fetched.
func freshness(c Candidate, now time.Time) float64 {
	var t *time.Time
	switch {
	case c.PublishedAt != nil:
		t = c.PublishedAt
	case c.CreatedAt != nil:
		t = c.CreatedAt
	case c.UpdatedAt != nil:
		t = c.UpdatedAt
	case c.FetchedAt != nil:
		t = c.FetchedAt
	default:
		return freshnessFallback
	}
	hours := now.Sub(*t).Hours()
	if hours < 0 {
		hours = 0
	}
	return clamp01(math.Exp(-hours / freshnessDecayHours))
}

// sortKeyTime returns the tie-break timestamp for equal scores. The
// preference order differs from the freshness anchor on purpose: ties
// break on when we learned about the document, not when it was published.
func sortKeyTime(c Candidate) (time.Time, bool) {
	switch {
	case c.CreatedAt != nil:
		return *c.CreatedAt, true
	case c.UpdatedAt != nil:
		return *c.UpdatedAt, true
	case c.PublishedAt != nil:
		return *c.PublishedAt, true
	case c.FetchedAt != nil:
		return *c.FetchedAt, true
	}
	return time.Time{}, false
}

// Renumber reassigns contiguous 1..N ranks after a caller filters the
// slice (e.g. dropping already-bookmarked documents from a feed page).
func Renumber(scores []Score) {
	for i := range scores {
		scores[i].Rank = i + 1
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package ranking

import "strings"

// Component thresholds for explanation phrasing.
const (
	strongThreshold = 0.65
	mediumThreshold = 0.35
	freshThreshold  = 0.5
)

// Presenter renders a human-readable reason for a score. The text is
// presentational only; nothing parses it.
type Presenter interface {
	Explain(b Breakdown, coldStart bool) string
}

// EnglishPresenter renders short English fragments joined with " / ".
type EnglishPresenter struct{}

func (EnglishPresenter) Explain(b Breakdown, coldStart bool) string {
	if coldStart {
		if b.Freshness >= freshThreshold {
			return "recently added / save a few more articles to personalize your feed"
		}
		return "save a few more articles to personalize your feed"
	}

	var parts []string
	switch {
	case b.Similarity >= strongThreshold:
		parts = append(parts, "closely matches what you've been reading")
	case b.Similarity >= mediumThreshold:
		parts = append(parts, "related to what you've been reading")
	}
	switch {
	case b.Category >= strongThreshold:
		parts = append(parts, "in a category you save often")
	case b.Category >= mediumThreshold:
		parts = append(parts, "in a category you've saved before")
	}
	switch {
	case b.Domain >= strongThreshold:
		parts = append(parts, "from a site you save often")
	case b.Domain >= mediumThreshold:
		parts = append(parts, "from a site you've saved before")
	}
	if b.Freshness >= freshThreshold {
		parts = append(parts, "recently published")
	}
	if len(parts) == 0 {
		return "ranked by overall relevance"
	}
	return strings.Join(parts, " / ")
}

package ranking

import "time"

// Candidate is a scoreable document. Optional timestamps are nil when the
// source never recorded them.
type Candidate struct {
	ID              string
	Domain          string
	PrimaryCategory string
	Embedding       []float32
	PublishedAt     *time.Time
	CreatedAt       *time.Time
	UpdatedAt       *time.Time
	FetchedAt       *time.Time
}

// Breakdown holds the four scoring components, each already clamped to
// [0,1]. Serialized into the components blob stored with every score.
type Breakdown struct {
	Similarity float64 `json:"similarity"`
	Category   float64 `json:"category"`
	Domain     float64 `json:"domain"`
	Freshness  float64 `json:"freshness"`
}

// Score is one ranked result.
type Score struct {
	DocumentID  string
	Score       float64
	Rank        int
	Components  Breakdown
	Explanation string
	ColdStart   bool
}

// Weights blends the four components. Zero value means "use defaults".
type Weights struct {
	Similarity float64
	Category   float64
	Domain     float64
	Freshness  float64
}

// DefaultWeights returns the standard component blend.
func DefaultWeights() Weights {
	return Weights{
		Similarity: 0.5,
		Category:   0.25,
		Domain:     0.15,
		Freshness:  0.1,
	}
}

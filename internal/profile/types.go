package profile

import "time"

// Status describes how usable a preference profile is.
type Status string

const (
	// StatusColdStart means the user has too few bookmarks to learn from.
	StatusColdStart Status = "cold_start"
	// StatusActive means the profile carries a learned embedding and weights.
	StatusActive Status = "active"
	// StatusError means the last rebuild failed; the previously learned
	// embedding and weights are kept as-is.
	StatusError Status = "error"
)

// defaultColdStartThreshold is the minimum number of bookmarks before a
// profile is learned.
const defaultColdStartThreshold = 3

// Profile is the learned preference state for one user.
type Profile struct {
	ID              string
	UserID          string
	BookmarkCount   int
	Embedding       []float32
	CategoryWeights map[string]float64
	DomainWeights   map[string]float64
	LastBookmarkID  string
	Status          Status
	UpdatedAt       time.Time
}

// IsColdStart reports whether the profile carries no learned signal yet.
func (p *Profile) IsColdStart() bool {
	return p == nil || p.Status == StatusColdStart || p.Status == "" || p.BookmarkCount < defaultColdStartThreshold
}

package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrMixedUsers is returned when a bulk score write resolves to more than one user.
var ErrMixedUsers = errors.New("scores resolve to multiple users")

type Document struct {
	ID           string
	URL          string
	Domain       string
	Title        string
	Author       string
	Lang         string
	ContentText  string
	ShortSummary string
	PublishedAt  *time.Time
	FetchedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Attached by list/get helpers; empty when the document has no
	// classification or embedding rows.
	PrimaryCategory string
	Embedding       []float32
}

type Classification struct {
	ID              string
	DocumentID      string
	PrimaryCategory string
	Confidence      float64
	Method          string
	CreatedAt       time.Time
}

type DocumentEmbedding struct {
	ID         string
	DocumentID string
	ChunkID    int
	Vector     []float32
	ChunkText  string
	CreatedAt  time.Time
}

type Bookmark struct {
	ID         string
	UserID     string
	DocumentID string
	Note       string
	CreatedAt  time.Time

	Document *Document
}

type Job struct {
	ID            string
	UserID        string
	DocumentID    string
	Type          string
	Status        string // "pending", "in_progress", "done", "failed"
	Attempts      int
	MaxAttempts   int
	LastError     string
	NextAttemptAt *time.Time
	ScheduledAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PayloadJSON   string
}

type PreferenceProfile struct {
	ID              string
	UserID          string
	BookmarkCount   int
	Embedding       []float32
	CategoryWeights string // JSON object stored as text
	DomainWeights   string // JSON object stored as text
	LastBookmarkID  string
	Status          string // "cold_start", "active", "error"
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type PersonalizedScore struct {
	ID          string
	ProfileID   string
	UserID      string
	DocumentID  string
	Score       float64
	Rank        int
	Components  string // JSON object stored as text
	Explanation string
	ComputedAt  time.Time
	ColdStart   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Feedback struct {
	ID           string
	UserID       string
	DocumentID   string
	FeedbackType string
	SessionToken string
	Metadata     string // JSON object stored as text
	CreatedAt    time.Time
}

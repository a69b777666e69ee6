// Package feedback handles explicit relevance signals from users and
// turns them into profile rebuilds.
package feedback

import (
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/kalambet/feedrank/internal/identity"
	"github.com/kalambet/feedrank/internal/storage"
)

// FeedbackTypeLowRelevance marks "show me less like this" signals.
const FeedbackTypeLowRelevance = "low_relevance"

// Store is the slice of storage the service needs.
type Store interface {
	GetDocument(id string) (storage.Document, error)
	InsertFeedback(f storage.Feedback) (storage.Feedback, string, error)
	ScheduleProfileRebuild(userID, documentID string) (string, error)
}

// Submission is one incoming feedback event.
type Submission struct {
	UserID       string
	DocumentID   string
	SessionToken string
	Note         string
	Metadata     map[string]any
}

// Result reports what happened to a submission. Created is false for
// duplicates; State names which guard caught them.
type Result struct {
	Created  bool
	State    string
	Feedback storage.Feedback
	JobID    string
}

// Service records feedback and schedules the follow-up rebuild.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store) *Service {
	return &Service{store: store, logger: slog.Default()}
}

// SubmitLowRelevance records a low-relevance signal for a document. A new
// row schedules a profile rebuild for the (normalized) user; duplicates
// are acknowledged without side effects. The rebuild enqueue is best
// effort: if it fails the feedback still stands and JobID stays empty.
func (s *Service) SubmitLowRelevance(sub Submission) (Result, error) {
	if sub.DocumentID == "" {
		return Result{}, fmt.Errorf("document id is required")
	}
	if _, err := s.store.GetDocument(sub.DocumentID); err != nil {
		return Result{}, fmt.Errorf("loading document %s: %w", sub.DocumentID, err)
	}

	metadata, err := encodeMetadata(sub)
	if err != nil {
		return Result{}, err
	}

	row, state, err := s.store.InsertFeedback(storage.Feedback{
		UserID:       sub.UserID,
		DocumentID:   sub.DocumentID,
		FeedbackType: FeedbackTypeLowRelevance,
		SessionToken: sub.SessionToken,
		Metadata:     metadata,
	})
	if err != nil {
		return Result{}, fmt.Errorf("recording feedback: %w", err)
	}

	result := Result{
		Created:  state == storage.FeedbackSubmitted,
		State:    state,
		Feedback: row,
	}
	if !result.Created {
		return result, nil
	}

	jobID, err := s.store.ScheduleProfileRebuild(identity.Normalize(sub.UserID), sub.DocumentID)
	if err != nil {
		s.logger.Warn("scheduling rebuild after feedback failed",
			"document_id", sub.DocumentID, "error", err)
		return result, nil
	}
	result.JobID = jobID
	return result, nil
}

func encodeMetadata(sub Submission) (string, error) {
	meta := make(map[string]any, len(sub.Metadata)+2)
	for k, v := range sub.Metadata {
		meta[k] = v
	}
	if sub.Note != "" {
		meta["note"] = sub.Note
	}
	if sub.SessionToken != "" {
		meta["session_token"] = sub.SessionToken
	}
	if len(meta) == 0 {
		return "", nil
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding feedback metadata: %w", err)
	}
	return string(blob), nil
}

// Package worker drains the preference job queue: it rebuilds profiles,
// re-scores candidate documents, and writes the results back through the
// score repository.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/kalambet/feedrank/internal/identity"
	"github.com/kalambet/feedrank/internal/profile"
	"github.com/kalambet/feedrank/internal/ranking"
	"github.com/kalambet/feedrank/internal/storage"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultDocumentWindow = 200
	maxDocumentWindow     = 500
)

// Store abstracts the storage operations the worker needs.
type Store interface {
	ClaimNextJob() (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocumentsByIDs(ids []string) ([]storage.Document, error)
	ListRecentDocuments(limit int) ([]storage.Document, error)
	BulkUpsertScores(scores []storage.PersonalizedScore, profileID, fallbackUserID string) ([]string, error)
	DeleteScores(userID string, documentIDs []string) (int, error)
	RequeueStaleJobs(olderThan time.Duration) (int, error)
}

// ProfileBuilder rebuilds a user's preference profile.
type ProfileBuilder interface {
	UpdateProfile(ctx context.Context, userID string) (*profile.Profile, error)
}

// Options tunes the worker loop. Zero values mean defaults; a zero
// StaleRequeueAfter disables the stale reaper entirely.
type Options struct {
	PollInterval      time.Duration
	DocumentWindow    int
	StaleRequeueAfter time.Duration
}

// Worker claims preference jobs and runs them through the scoring pipeline.
type Worker struct {
	store      Store
	profiles   ProfileBuilder
	engine     *ranking.Engine
	poll       time.Duration
	docWindow  int
	staleAfter time.Duration
	metrics    *Metrics
	logger     *slog.Logger

	handlers map[JobType]func(ctx context.Context, job *storage.Job) error
	lastReap time.Time
}

func New(store Store, profiles ProfileBuilder, engine *ranking.Engine, metrics *Metrics, opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.DocumentWindow <= 0 {
		opts.DocumentWindow = defaultDocumentWindow
	}
	if opts.DocumentWindow > maxDocumentWindow {
		opts.DocumentWindow = maxDocumentWindow
	}
	w := &Worker{
		store:      store,
		profiles:   profiles,
		engine:     engine,
		poll:       opts.PollInterval,
		docWindow:  opts.DocumentWindow,
		staleAfter: opts.StaleRequeueAfter,
		metrics:    metrics,
		logger:     slog.Default(),
	}
	// profile_rebuild and score_refresh share one pipeline; the split
	// exists so operators can tell why a job was enqueued.
	w.handlers = map[JobType]func(ctx context.Context, job *storage.Job) error{
		JobTypeProfileRebuild: w.handleRebuild,
		JobTypeScoreRefresh:   w.handleRebuild,
	}
	return w
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		w.maybeRequeueStale()

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

func (w *Worker) maybeRequeueStale() {
	if w.staleAfter <= 0 || time.Since(w.lastReap) < w.staleAfter {
		return
	}
	w.lastReap = time.Now()
	n, err := w.store.RequeueStaleJobs(w.staleAfter)
	if err != nil {
		w.logger.Error("requeueing stale jobs failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Warn("requeued stale jobs", "count", n)
		w.metrics.StaleRequeued(n)
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob()
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	handler, ok := w.handlers[JobType(job.Type)]
	if !ok {
		// A type this binary doesn't know, likely written by a newer one.
		// Ack as a no-op so the row doesn't sit pending forever.
		w.logger.Warn("acknowledging job of unknown type", "job_id", job.ID, "type", job.Type)
		w.metrics.JobProcessed(job.Type, "unknown")
		if err := w.store.CompleteJob(job.ID); err != nil {
			return true, fmt.Errorf("completing unknown job %s: %w", job.ID, err)
		}
		return true, nil
	}

	if err := handler(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		result := "retried"
		if job.Attempts+1 >= job.MaxAttempts {
			result = "failed"
		}
		w.metrics.JobProcessed(job.Type, result)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	w.metrics.JobProcessed(job.Type, "done")
	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// rebuildPayload is the optional JSON payload on preference jobs.
type rebuildPayload struct {
	DocumentIDs []string `json:"document_ids"`
	Limit       int      `json:"limit"`
}

func (w *Worker) handleRebuild(ctx context.Context, job *storage.Job) error {
	userID := identity.Normalize(job.UserID)

	var payload rebuildPayload
	if job.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
	}

	prof, err := w.profiles.UpdateProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("updating profile for %s: %w", userID, err)
	}

	limit := payload.Limit
	if limit <= 0 {
		limit = w.docWindow
	}
	if limit > maxDocumentWindow {
		limit = maxDocumentWindow
	}

	targets := targetIDs(job, payload)

	candidates, err := w.loadCandidates(targets, limit)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		// Nothing in the corpus yet. The profile write above still counts.
		w.logger.Info("no documents to score", "user_id", userID)
		return nil
	}

	scores := w.engine.ScoreDocuments(candidates, prof)
	if len(scores) == 0 {
		if len(targets) > 0 {
			if _, err := w.store.DeleteScores(userID, targets); err != nil {
				return fmt.Errorf("deleting scores for %s: %w", userID, err)
			}
		}
		return nil
	}

	rows := make([]storage.PersonalizedScore, 0, len(scores))
	for _, sc := range scores {
		components, err := json.Marshal(sc.Components)
		if err != nil {
			return fmt.Errorf("encoding components for %s: %w", sc.DocumentID, err)
		}
		rows = append(rows, storage.PersonalizedScore{
			UserID:      userID,
			DocumentID:  sc.DocumentID,
			Score:       sc.Score,
			Rank:        sc.Rank,
			Components:  string(components),
			Explanation: sc.Explanation,
			ColdStart:   sc.ColdStart,
		})
	}

	ids, err := w.store.BulkUpsertScores(rows, prof.ID, userID)
	if err != nil {
		return fmt.Errorf("upserting scores for %s: %w", userID, err)
	}
	w.metrics.ScoresUpserted(len(ids))
	w.logger.Info("scored documents", "user_id", userID, "count", len(ids), "cold_start", prof.IsColdStart())
	return nil
}

// targetIDs merges the job's document_id column with any payload ids,
// deduplicated in first-seen order.
func targetIDs(job *storage.Job, payload rebuildPayload) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	add(job.DocumentID)
	for _, id := range payload.DocumentIDs {
		add(id)
	}
	return ids
}

// loadCandidates resolves the scoring window. Explicit targets must all
// resolve to at least one stored document; a job pointed entirely at
// missing documents fails (and retries, in case ingestion is still
// catching up). The window is then topped up with recent documents.
func (w *Worker) loadCandidates(targets []string, limit int) ([]ranking.Candidate, error) {
	var docs []storage.Document

	if len(targets) > 0 {
		found, err := w.store.GetDocumentsByIDs(targets)
		if err != nil {
			return nil, fmt.Errorf("loading target documents: %w", err)
		}
		if len(found) == 0 {
			missing := append([]string(nil), targets...)
			sort.Strings(missing)
			return nil, fmt.Errorf("missing-documents:%s", strings.Join(missing, ","))
		}
		docs = found
	}

	if len(docs) < limit {
		recent, err := w.store.ListRecentDocuments(limit)
		if err != nil {
			return nil, fmt.Errorf("loading recent documents: %w", err)
		}
		seen := make(map[string]bool, len(docs))
		for _, d := range docs {
			seen[d.ID] = true
		}
		for _, d := range recent {
			if len(docs) >= limit {
				break
			}
			if !seen[d.ID] {
				docs = append(docs, d)
			}
		}
	}
	if len(docs) > limit {
		docs = docs[:limit]
	}

	candidates := make([]ranking.Candidate, 0, len(docs))
	for _, d := range docs {
		d := d
		c := ranking.Candidate{
			ID:              d.ID,
			Domain:          d.Domain,
			PrimaryCategory: d.PrimaryCategory,
			Embedding:       d.Embedding,
			PublishedAt:     d.PublishedAt,
			FetchedAt:       d.FetchedAt,
		}
		created := d.CreatedAt
		updated := d.UpdatedAt
		if !created.IsZero() {
			c.CreatedAt = &created
		}
		if !updated.IsZero() {
			c.UpdatedAt = &updated
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

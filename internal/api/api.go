// Package api exposes the personalization system over HTTP and MCP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/feedrank/internal/feedback"
	"github.com/kalambet/feedrank/internal/identity"
	"github.com/kalambet/feedrank/internal/storage"
	"github.com/kalambet/feedrank/internal/worker"
)

// AppDeps holds the dependencies the HTTP handlers need.
type AppDeps struct {
	Store    *storage.Store
	Feedback *feedback.Service
	Token    string
	Registry *prometheus.Registry // optional; nil disables /metrics
}

// NewAppHandler builds the HTTP router. /health and /metrics are open;
// everything else requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	root := chi.NewRouter()

	root.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Registry != nil {
		root.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	root.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/bookmarks", handleCreateBookmark(deps))
		r.Delete("/bookmarks/{id}", handleDeleteBookmark(deps))
		r.Get("/feed", handleFeed(deps))
		r.Post("/documents/{id}/feedback", handleFeedback(deps))
		r.Post("/jobs", handleEnqueueJob(deps))
		r.Post("/jobs/{id}/retry", handleRetryJob(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Get("/jobs", handleJobCounts(deps))
	})

	return root
}

type bookmarkRequest struct {
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
	Note       string `json:"note"`
}

func handleCreateBookmark(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req bookmarkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.DocumentID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document_id is required")
			return
		}

		if _, err := deps.Store.GetDocument(req.DocumentID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load document: %v", err)
			return
		}

		userID := identity.Normalize(req.UserID)
		bookmark := storage.Bookmark{
			ID:         uuid.New().String(),
			UserID:     userID,
			DocumentID: req.DocumentID,
			Note:       req.Note,
			CreatedAt:  time.Now().UTC(),
		}
		if err := deps.Store.SaveBookmark(bookmark); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save bookmark: %v", err)
			return
		}

		jobID, err := deps.Store.ScheduleProfileRebuild(userID, req.DocumentID)
		if err != nil {
			// The bookmark is saved; the rebuild just has to wait for the
			// next trigger.
			jobID = ""
		}

		writeJSON(w, http.StatusCreated, map[string]string{
			"id":     bookmark.ID,
			"job_id": jobID,
			"status": "created",
		})
	}
}

func handleDeleteBookmark(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		bookmark, err := deps.Store.GetBookmark(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "bookmark not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load bookmark: %v", err)
			return
		}

		if err := deps.Store.DeleteBookmark(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete bookmark: %v", err)
			return
		}

		jobID, err := deps.Store.ScheduleProfileRebuild(bookmark.UserID, bookmark.DocumentID)
		if err != nil {
			jobID = ""
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"status": "deleted",
			"job_id": jobID,
		})
	}
}

type feedItem struct {
	DocumentID  string          `json:"document_id"`
	Score       float64         `json:"score"`
	Rank        int             `json:"rank"`
	Explanation string          `json:"explanation"`
	Components  json.RawMessage `json:"components"`
	ColdStart   bool            `json:"cold_start"`
	ComputedAt  string          `json:"computed_at"`
}

func handleFeed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := identity.Normalize(r.URL.Query().Get("user_id"))
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		// Over-fetch so filtering out bookmarked documents still fills the page.
		scores, err := deps.Store.ListScores(userID, limit*2+offset, 0)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list scores: %v", err)
			return
		}

		bookmarked, err := deps.Store.BookmarkedDocumentIDs(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load bookmarks: %v", err)
			return
		}

		items := make([]feedItem, 0, limit)
		rank := 0
		for _, sc := range scores {
			if bookmarked[sc.DocumentID] {
				continue
			}
			rank++
			if rank <= offset {
				continue
			}
			if len(items) >= limit {
				break
			}
			components := sc.Components
			if components == "" {
				components = "{}"
			}
			items = append(items, feedItem{
				DocumentID:  sc.DocumentID,
				Score:       sc.Score,
				Rank:        rank,
				Explanation: sc.Explanation,
				Components:  json.RawMessage(components),
				ColdStart:   sc.ColdStart,
				ComputedAt:  sc.ComputedAt.Format(time.RFC3339),
			})
		}

		writeJSON(w, http.StatusOK, items)
	}
}

type feedbackRequest struct {
	UserID       string         `json:"user_id"`
	SessionToken string         `json:"session_token"`
	Note         string         `json:"note"`
	Metadata     map[string]any `json:"metadata"`
}

func handleFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		result, err := deps.Feedback.SubmitLowRelevance(feedback.Submission{
			UserID:       req.UserID,
			DocumentID:   documentID,
			SessionToken: req.SessionToken,
			Note:         req.Note,
			Metadata:     req.Metadata,
		})
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record feedback: %v", err)
			return
		}

		code := http.StatusOK
		if result.Created {
			code = http.StatusCreated
		}
		writeJSON(w, code, map[string]any{
			"id":     result.Feedback.ID,
			"state":  result.State,
			"job_id": result.JobID,
		})
	}
}

type jobRequest struct {
	Type        string   `json:"type"`
	UserID      string   `json:"user_id"`
	DocumentID  string   `json:"document_id"`
	DocumentIDs []string `json:"document_ids"`
	MaxAttempts int      `json:"max_attempts"`
}

func handleEnqueueJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req jobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Type == "" {
			req.Type = string(worker.JobTypeProfileRebuild)
		}
		if !worker.IsKnownJobType(req.Type) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown job type %q", req.Type)
			return
		}

		payload := ""
		if len(req.DocumentIDs) > 0 {
			b, err := json.Marshal(map[string]any{"document_ids": req.DocumentIDs})
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal payload: %v", err)
				return
			}
			payload = string(b)
		}

		job := storage.Job{
			ID:          uuid.New().String(),
			UserID:      identity.Normalize(req.UserID),
			DocumentID:  req.DocumentID,
			Type:        req.Type,
			MaxAttempts: req.MaxAttempts,
			PayloadJSON: payload,
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     job.ID,
			"status": "queued",
		})
	}
}

func handleRetryJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Store.RetryJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no failed job with that id")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to retry job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "queued"})
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := deps.Store.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		resp := map[string]any{
			"id":           job.ID,
			"type":         job.Type,
			"status":       job.Status,
			"attempts":     job.Attempts,
			"max_attempts": job.MaxAttempts,
			"last_error":   job.LastError,
			"scheduled_at": job.ScheduledAt.Format(time.RFC3339),
		}
		if job.NextAttemptAt != nil {
			resp["next_attempt_at"] = job.NextAttemptAt.Format(time.RFC3339)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleJobCounts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.CountJobsByStatus()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count jobs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

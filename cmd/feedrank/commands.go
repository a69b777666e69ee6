package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/feedrank/internal/config"
	"github.com/kalambet/feedrank/internal/embedding"
	"github.com/kalambet/feedrank/internal/identity"
	"github.com/kalambet/feedrank/internal/ollama"
	"github.com/kalambet/feedrank/internal/storage"
	"github.com/kalambet/feedrank/internal/worker"
)

// --- enqueue ---

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a personalization job",
	Long: `Queue a personalization job directly in the database.

Examples:
  feedrank enqueue --user alice
  feedrank enqueue --type score_refresh --document 0b1f...
  feedrank enqueue --retry 4f2a...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobType, _ := cmd.Flags().GetString("type")
		userID, _ := cmd.Flags().GetString("user")
		documentID, _ := cmd.Flags().GetString("document")
		retryID, _ := cmd.Flags().GetString("retry")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		if retryID != "" {
			if err := store.RetryJob(retryID); err != nil {
				return fmt.Errorf("retrying job %s: %w", retryID, err)
			}
			printSuccess("Requeued failed job %s", retryID)
			return nil
		}

		if !worker.IsKnownJobType(jobType) {
			return fmt.Errorf("unknown job type %q", jobType)
		}

		job := storage.Job{
			ID:         uuid.New().String(),
			UserID:     identity.Normalize(userID),
			DocumentID: documentID,
			Type:       jobType,
		}
		if err := store.EnqueueJob(job); err != nil {
			return fmt.Errorf("enqueueing job: %w", err)
		}
		printSuccess("Queued %s job %s for %s", job.Type, job.ID, job.UserID)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().String("type", string(worker.JobTypeProfileRebuild), "job type (profile_rebuild or score_refresh)")
	enqueueCmd.Flags().String("user", "", "user id (defaults to the guest profile)")
	enqueueCmd.Flags().String("document", "", "document id to target")
	enqueueCmd.Flags().String("retry", "", "id of a failed job to requeue")
}

// --- reembed ---

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Backfill embeddings for documents that have none",
	Long: `Embed recent documents that are missing a vector, so they can be
scored. Useful after importing documents from another tool or after
switching the embedding model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = 200
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		docs, err := store.ListRecentDocuments(limit)
		if err != nil {
			return fmt.Errorf("listing documents: %w", err)
		}

		var missing []storage.Document
		var texts []string
		for _, d := range docs {
			if len(d.Embedding) > 0 {
				continue
			}
			text := d.ContentText
			if text == "" {
				text = d.Title
			}
			if text == "" {
				continue
			}
			missing = append(missing, d)
			texts = append(texts, text)
		}
		if len(missing) == 0 {
			printSuccess("All %d recent documents already have embeddings", len(docs))
			return nil
		}

		embedder := embedding.NewClient(ollama.New(cfg.Ollama.BaseURL), cfg.Ollama.EmbedModel, cfg.Ollama.Timeout)
		vectors, err := embedder.EmbedBatch(cmd.Context(), texts)
		if err != nil {
			return fmt.Errorf("embedding documents: %w", err)
		}

		now := time.Now().UTC()
		for i, d := range missing {
			err := store.SaveDocumentEmbedding(storage.DocumentEmbedding{
				ID:         uuid.New().String(),
				DocumentID: d.ID,
				ChunkID:    0,
				Vector:     vectors[i],
				CreatedAt:  now,
			})
			if err != nil {
				return fmt.Errorf("saving embedding for %s: %w", d.ID, err)
			}
		}
		printSuccess("Embedded %d of %d recent documents", len(missing), len(docs))
		return nil
	},
}

func init() {
	reembedCmd.Flags().Int("limit", 200, "how many recent documents to inspect")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show feedrank system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get("http://" + cfg.Server.Addr + "/health")
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				printStatus("Server", "running on %s", cfg.Server.Addr)
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}

		ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		}
		printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			printError("storage error: %v", err)
			return nil
		}
		defer store.Close()

		counts, err := store.CountJobsByStatus()
		if err != nil {
			printError("counting jobs: %v", err)
			return nil
		}
		for _, status := range []string{"pending", "in_progress", "done", "failed"} {
			if n, ok := counts[status]; ok {
				printStatus("Jobs "+status, "%d", n)
			}
		}

		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

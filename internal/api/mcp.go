package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/feedrank/internal/feedback"
	"github.com/kalambet/feedrank/internal/identity"
	"github.com/kalambet/feedrank/internal/storage"
	"github.com/kalambet/feedrank/internal/worker"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Feedback *feedback.Service
}

// NewMCPServer creates an MCP server exposing the personalized feed to AI
// clients: they can read recommendations, push back on irrelevant ones,
// and force a profile rebuild.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"feedrank",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("feedrank — personalized reading recommendations learned from bookmarks."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_recommendations",
			mcp.WithDescription("List the top personalized document recommendations for a user."),
			mcp.WithString("user_id", mcp.Description("User id; omit for the guest profile")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListRecommendations(deps),
	)

	s.AddTool(
		mcp.NewTool("mark_low_relevance",
			mcp.WithDescription("Record that a recommended document was not relevant, and trigger a profile rebuild."),
			mcp.WithString("document_id", mcp.Description("Document to mark"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User id; omit for the guest profile")),
			mcp.WithString("note", mcp.Description("Optional reason")),
		),
		mcpMarkLowRelevance(deps),
	)

	s.AddTool(
		mcp.NewTool("rebuild_profile",
			mcp.WithDescription("Queue a rebuild of a user's preference profile and personalized scores."),
			mcp.WithString("user_id", mcp.Description("User id; omit for the guest profile")),
		),
		mcpRebuildProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"user://profile",
			"Preference Profile",
			mcp.WithResourceDescription("The guest user's learned preference profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpListRecommendations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := identity.Normalize(req.GetString("user_id", ""))
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		scores, err := deps.Store.ListScores(userID, limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("listing scores failed: %v", err)), nil
		}
		if len(scores) == 0 {
			return mcpText("[]"), nil
		}

		type recommendation struct {
			DocumentID  string  `json:"document_id"`
			Title       string  `json:"title,omitempty"`
			URL         string  `json:"url,omitempty"`
			Score       float64 `json:"score"`
			Rank        int     `json:"rank"`
			Explanation string  `json:"explanation"`
		}

		results := make([]recommendation, 0, len(scores))
		for _, sc := range scores {
			rec := recommendation{
				DocumentID:  sc.DocumentID,
				Score:       sc.Score,
				Rank:        sc.Rank,
				Explanation: sc.Explanation,
			}
			if doc, err := deps.Store.GetDocument(sc.DocumentID); err == nil {
				rec.Title = doc.Title
				rec.URL = doc.URL
			}
			results = append(results, rec)
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpMarkLowRelevance(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		documentID, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}

		result, err := deps.Feedback.SubmitLowRelevance(feedback.Submission{
			UserID:     req.GetString("user_id", ""),
			DocumentID: documentID,
			Note:       req.GetString("note", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("recording feedback failed: %v", err)), nil
		}

		if !result.Created {
			return mcpText(fmt.Sprintf("Feedback already recorded (%s)", result.State)), nil
		}
		return mcpText(fmt.Sprintf("Recorded low-relevance feedback for %s (rebuild job %s)", documentID, result.JobID)), nil
	}
}

func mcpRebuildProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := identity.Normalize(req.GetString("user_id", ""))

		job := storage.Job{
			ID:     uuid.New().String(),
			UserID: userID,
			Type:   string(worker.JobTypeProfileRebuild),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			return mcpError(fmt.Sprintf("failed to enqueue rebuild: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued profile rebuild %s for %s", job.ID, userID)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		row, err := deps.Store.GetPreferenceProfile(identity.GuestUserID)
		if err != nil && err != storage.ErrNotFound {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		view := map[string]any{
			"user_id":          identity.GuestUserID,
			"status":           "cold_start",
			"bookmark_count":   0,
			"category_weights": json.RawMessage("{}"),
			"domain_weights":   json.RawMessage("{}"),
		}
		if err == nil {
			view["status"] = row.Status
			view["bookmark_count"] = row.BookmarkCount
			view["category_weights"] = json.RawMessage(row.CategoryWeights)
			view["domain_weights"] = json.RawMessage(row.DomainWeights)
			view["has_embedding"] = len(row.Embedding) > 0
		}

		b, err := json.Marshal(view)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

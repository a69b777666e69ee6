// Package profile learns per-user preference profiles from bookmark
// history. A profile is an embedding of what the user saves plus
// category and domain affinity weights; the ranking engine consumes it.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/net/html"

	"github.com/kalambet/feedrank/internal/identity"
	"github.com/kalambet/feedrank/internal/storage"
)

const (
	// recentBookmarkWindow bounds how much history one rebuild reads.
	recentBookmarkWindow = 50
	// corpusBudget caps the embedding input, in runes.
	corpusBudget = 4000
	// bodyExcerptLen caps the body fragment used when a document has no summary.
	bodyExcerptLen = 500

	embedMaxRetries = 2
	embedRetryDelay = 1500 * time.Millisecond
)

// Store is the slice of storage the builder needs.
type Store interface {
	ListRecentBookmarks(userID string, limit int) ([]storage.Bookmark, error)
	GetPreferenceProfile(userID string) (storage.PreferenceProfile, error)
	UpsertPreferenceProfile(p storage.PreferenceProfile) (storage.PreferenceProfile, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Builder rebuilds preference profiles from bookmark history.
type Builder struct {
	store    Store
	embedder Embedder

	// sleep is swapped out in tests so retry delays don't slow them down.
	sleep func(time.Duration)
}

func NewBuilder(store Store, embedder Embedder) *Builder {
	return &Builder{
		store:    store,
		embedder: embedder,
		sleep:    time.Sleep,
	}
}

// UpdateProfile recomputes the profile for userID from their recent
// bookmarks and persists it. Only bookmarks whose document still exists
// count; fewer than three of those short-circuits to a cold-start profile
// without calling the embedding service. An embedding failure is isolated:
// the profile is marked "error", the previously learned embedding and
// weights stay in place, and no error is returned so the caller keeps
// serving with what it has.
func (b *Builder) UpdateProfile(ctx context.Context, userID string) (*Profile, error) {
	userID = identity.Normalize(userID)

	bookmarks, err := b.store.ListRecentBookmarks(userID, recentBookmarkWindow)
	if err != nil {
		return nil, fmt.Errorf("loading bookmarks for %s: %w", userID, err)
	}

	// Dangling bookmarks (document deleted since) carry no signal.
	attached := make([]storage.Bookmark, 0, len(bookmarks))
	for _, bm := range bookmarks {
		if bm.Document != nil {
			attached = append(attached, bm)
		}
	}

	if len(attached) < defaultColdStartThreshold {
		row, err := b.store.UpsertPreferenceProfile(storage.PreferenceProfile{
			UserID:        userID,
			BookmarkCount: len(attached),
			Status:        string(StatusColdStart),
		})
		if err != nil {
			return nil, fmt.Errorf("saving cold-start profile for %s: %w", userID, err)
		}
		return fromRow(row)
	}

	categoryWeights, domainWeights := affinityWeights(attached)
	corpus := buildCorpus(attached)

	embedding, embedErr := b.embedWithRetry(ctx, corpus)
	if embedErr != nil {
		slog.Warn("profile embedding failed, keeping previous profile data",
			"user_id", userID, "error", embedErr)
		row, err := b.store.UpsertPreferenceProfile(storage.PreferenceProfile{
			UserID:         userID,
			BookmarkCount:  len(attached),
			LastBookmarkID: attached[0].ID,
			Status:         string(StatusError),
		})
		if err != nil {
			return nil, fmt.Errorf("saving error profile for %s: %w", userID, err)
		}
		return fromRow(row)
	}

	categoryJSON, err := json.Marshal(categoryWeights)
	if err != nil {
		return nil, fmt.Errorf("encoding category weights: %w", err)
	}
	domainJSON, err := json.Marshal(domainWeights)
	if err != nil {
		return nil, fmt.Errorf("encoding domain weights: %w", err)
	}

	row, err := b.store.UpsertPreferenceProfile(storage.PreferenceProfile{
		UserID:          userID,
		BookmarkCount:   len(attached),
		Embedding:       embedding,
		CategoryWeights: string(categoryJSON),
		DomainWeights:   string(domainJSON),
		LastBookmarkID:  attached[0].ID,
		Status:          string(StatusActive),
	})
	if err != nil {
		return nil, fmt.Errorf("saving profile for %s: %w", userID, err)
	}
	return fromRow(row)
}

// Load returns the stored profile for userID, or a synthetic cold-start
// profile when none exists yet.
func (b *Builder) Load(userID string) (*Profile, error) {
	userID = identity.Normalize(userID)
	row, err := b.store.GetPreferenceProfile(userID)
	if err == storage.ErrNotFound {
		return &Profile{UserID: userID, Status: StatusColdStart}, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

func (b *Builder) embedWithRetry(ctx context.Context, corpus string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= embedMaxRetries; attempt++ {
		if attempt > 0 {
			b.sleep(embedRetryDelay)
		}
		embedding, err := b.embedder.Embed(ctx, corpus)
		if err == nil {
			return embedding, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// affinityWeights computes category and domain frequencies over the
// bookmark window, rounded to four decimals. Each map is normalized by
// its own labeled total, so unlabeled documents never dilute the weights
// and every non-empty map sums to 1.
func affinityWeights(bookmarks []storage.Bookmark) (map[string]float64, map[string]float64) {
	categories := make(map[string]int)
	domains := make(map[string]int)
	categoryTotal, domainTotal := 0, 0
	for _, bm := range bookmarks {
		if bm.Document == nil {
			continue
		}
		if c := bm.Document.PrimaryCategory; c != "" {
			categories[c]++
			categoryTotal++
		}
		if d := bm.Document.Domain; d != "" {
			domains[d]++
			domainTotal++
		}
	}
	categoryWeights := make(map[string]float64, len(categories))
	for c, n := range categories {
		categoryWeights[c] = round4(float64(n) / float64(categoryTotal))
	}
	domainWeights := make(map[string]float64, len(domains))
	for d, n := range domains {
		domainWeights[d] = round4(float64(n) / float64(domainTotal))
	}
	return categoryWeights, domainWeights
}

// buildCorpus composes the embedding input: per bookmark the title, the
// summary (or a body excerpt when there is none), and the user's note,
// newest bookmark first, cut at the rune budget.
func buildCorpus(bookmarks []storage.Bookmark) string {
	var parts []string
	for _, bm := range bookmarks {
		if bm.Document == nil {
			continue
		}
		doc := bm.Document
		var fragment []string
		if doc.Title != "" {
			fragment = append(fragment, "Title: "+doc.Title)
		}
		if doc.ShortSummary != "" {
			fragment = append(fragment, "Summary: "+doc.ShortSummary)
		} else if body := stripMarkup(doc.ContentText); body != "" {
			fragment = append(fragment, "Body: "+truncateRunes(body, bodyExcerptLen))
		}
		if bm.Note != "" {
			fragment = append(fragment, "Note: "+bm.Note)
		}
		if len(fragment) > 0 {
			parts = append(parts, strings.Join(fragment, "\n"))
		}
	}
	return truncateRunes(strings.Join(parts, "\n\n"), corpusBudget)
}

// stripMarkup flattens HTML to plain text. Non-markup input passes
// through untouched.
func stripMarkup(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func fromRow(row storage.PreferenceProfile) (*Profile, error) {
	p := &Profile{
		ID:             row.ID,
		UserID:         row.UserID,
		BookmarkCount:  row.BookmarkCount,
		Embedding:      row.Embedding,
		LastBookmarkID: row.LastBookmarkID,
		Status:         Status(row.Status),
		UpdatedAt:      row.UpdatedAt,
	}
	p.CategoryWeights = map[string]float64{}
	p.DomainWeights = map[string]float64{}
	if row.CategoryWeights != "" {
		if err := json.Unmarshal([]byte(row.CategoryWeights), &p.CategoryWeights); err != nil {
			return nil, fmt.Errorf("decoding category weights for %s: %w", row.UserID, err)
		}
	}
	if row.DomainWeights != "" {
		if err := json.Unmarshal([]byte(row.DomainWeights), &p.DomainWeights); err != nil {
			return nil, fmt.Errorf("decoding domain weights for %s: %w", row.UserID, err)
		}
	}
	return p, nil
}

package storage

import (
	"errors"
	"testing"
	"time"
)

func saveTestDocument(t *testing.T, s *Store, id string, createdAt time.Time) {
	t.Helper()
	doc := Document{
		ID:          id,
		URL:         "https://example.com/" + id,
		Domain:      "example.com",
		Title:       "Doc " + id,
		ContentText: "body of " + id,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument(%s): %v", id, err)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	s := openTestStore(t)

	published := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	created := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	doc := Document{
		ID:           "d1",
		URL:          "https://example.com/post",
		Domain:       "example.com",
		Title:        "A Post",
		Author:       "jo",
		Lang:         "en",
		ContentText:  "full text",
		ShortSummary: "summary",
		PublishedAt:  &published,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	got, err := s.GetDocument("d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Title != "A Post" || got.Domain != "example.com" || got.Author != "jo" {
		t.Errorf("unexpected document: %+v", got)
	}
	if got.PublishedAt == nil || !got.PublishedAt.Equal(published) {
		t.Errorf("PublishedAt = %v, want %v", got.PublishedAt, published)
	}
	if got.FetchedAt != nil {
		t.Errorf("FetchedAt = %v, want nil", got.FetchedAt)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.PrimaryCategory != "" || got.Embedding != nil {
		t.Errorf("expected no attachments, got category %q embedding %v", got.PrimaryCategory, got.Embedding)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetDocument("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetDocument_AttachesLatestClassificationAndFirstChunk(t *testing.T) {
	s := openTestStore(t)
	saveTestDocument(t, s, "d1", time.Now().UTC())

	old := Classification{ID: "c1", DocumentID: "d1", PrimaryCategory: "science", Confidence: 0.6, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	latest := Classification{ID: "c2", DocumentID: "d1", PrimaryCategory: "tech", Confidence: 0.9, CreatedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)}
	if err := s.SaveClassification(old); err != nil {
		t.Fatalf("SaveClassification old: %v", err)
	}
	if err := s.SaveClassification(latest); err != nil {
		t.Fatalf("SaveClassification latest: %v", err)
	}

	now := time.Now().UTC()
	second := DocumentEmbedding{ID: "e2", DocumentID: "d1", ChunkID: 1, Vector: []float32{9, 9}, CreatedAt: now}
	first := DocumentEmbedding{ID: "e1", DocumentID: "d1", ChunkID: 0, Vector: []float32{0.1, 0.2}, CreatedAt: now}
	if err := s.SaveDocumentEmbedding(second); err != nil {
		t.Fatalf("SaveDocumentEmbedding second: %v", err)
	}
	if err := s.SaveDocumentEmbedding(first); err != nil {
		t.Fatalf("SaveDocumentEmbedding first: %v", err)
	}

	got, err := s.GetDocument("d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.PrimaryCategory != "tech" {
		t.Errorf("PrimaryCategory = %q, want %q", got.PrimaryCategory, "tech")
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 0.1 || got.Embedding[1] != 0.2 {
		t.Errorf("Embedding = %v, want [0.1 0.2]", got.Embedding)
	}
}

func TestGetDocumentsByIDs(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	saveTestDocument(t, s, "d1", now)
	saveTestDocument(t, s, "d2", now)

	docs, err := s.GetDocumentsByIDs([]string{"d1", "d2", "d-missing"})
	if err != nil {
		t.Fatalf("GetDocumentsByIDs: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}

	docs, err = s.GetDocumentsByIDs(nil)
	if err != nil {
		t.Fatalf("GetDocumentsByIDs(nil): %v", err)
	}
	if docs != nil {
		t.Errorf("GetDocumentsByIDs(nil) = %v, want nil", docs)
	}
}

func TestListRecentDocuments(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	saveTestDocument(t, s, "d-old", base)
	saveTestDocument(t, s, "d-mid", base.Add(time.Hour))
	saveTestDocument(t, s, "d-new", base.Add(2*time.Hour))

	docs, err := s.ListRecentDocuments(2)
	if err != nil {
		t.Fatalf("ListRecentDocuments: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].ID != "d-new" || docs[1].ID != "d-mid" {
		t.Errorf("order = [%s %s], want [d-new d-mid]", docs[0].ID, docs[1].ID)
	}
}

func TestBookmarkRoundTrip(t *testing.T) {
	s := openTestStore(t)
	saveTestDocument(t, s, "d1", time.Now().UTC())

	b := Bookmark{
		ID:         "b1",
		UserID:     "alice",
		DocumentID: "d1",
		Note:       "read later",
		CreatedAt:  time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.SaveBookmark(b); err != nil {
		t.Fatalf("SaveBookmark: %v", err)
	}

	got, err := s.GetBookmark("b1")
	if err != nil {
		t.Fatalf("GetBookmark: %v", err)
	}
	if got.UserID != "alice" || got.DocumentID != "d1" || got.Note != "read later" {
		t.Errorf("unexpected bookmark: %+v", got)
	}

	n, err := s.CountBookmarks("alice")
	if err != nil {
		t.Fatalf("CountBookmarks: %v", err)
	}
	if n != 1 {
		t.Errorf("CountBookmarks = %d, want 1", n)
	}

	if err := s.DeleteBookmark("b1"); err != nil {
		t.Fatalf("DeleteBookmark: %v", err)
	}
	if _, err := s.GetBookmark("b1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteBookmark_NotFound(t *testing.T) {
	s := openTestStore(t)

	if err := s.DeleteBookmark("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBookmarkedDocumentIDs(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	saveTestDocument(t, s, "d1", now)
	saveTestDocument(t, s, "d2", now)

	for i, docID := range []string{"d1", "d2"} {
		b := Bookmark{ID: "b" + string(rune('1'+i)), UserID: "alice", DocumentID: docID, CreatedAt: now}
		if err := s.SaveBookmark(b); err != nil {
			t.Fatalf("SaveBookmark: %v", err)
		}
	}

	ids, err := s.BookmarkedDocumentIDs("alice")
	if err != nil {
		t.Fatalf("BookmarkedDocumentIDs: %v", err)
	}
	if len(ids) != 2 || !ids["d1"] || !ids["d2"] {
		t.Errorf("ids = %v", ids)
	}

	ids, err = s.BookmarkedDocumentIDs("nobody")
	if err != nil {
		t.Fatalf("BookmarkedDocumentIDs empty: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids for unknown user = %v, want empty", ids)
	}
}

func TestListRecentBookmarks(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	saveTestDocument(t, s, "d1", base)
	saveTestDocument(t, s, "d2", base)

	if err := s.SaveClassification(Classification{ID: "c1", DocumentID: "d2", PrimaryCategory: "tech", Confidence: 0.8, CreatedAt: base}); err != nil {
		t.Fatalf("SaveClassification: %v", err)
	}

	bookmarks := []Bookmark{
		{ID: "b-old", UserID: "alice", DocumentID: "d1", CreatedAt: base},
		{ID: "b-new", UserID: "alice", DocumentID: "d2", CreatedAt: base.Add(time.Hour)},
		{ID: "b-other", UserID: "bob", DocumentID: "d1", CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, b := range bookmarks {
		if err := s.SaveBookmark(b); err != nil {
			t.Fatalf("SaveBookmark(%s): %v", b.ID, err)
		}
	}

	got, err := s.ListRecentBookmarks("alice", 10)
	if err != nil {
		t.Fatalf("ListRecentBookmarks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d bookmarks, want 2", len(got))
	}
	if got[0].ID != "b-new" || got[1].ID != "b-old" {
		t.Errorf("order = [%s %s], want [b-new b-old]", got[0].ID, got[1].ID)
	}
	if got[0].Document == nil {
		t.Fatal("document not attached")
	}
	if got[0].Document.ID != "d2" || got[0].Document.PrimaryCategory != "tech" {
		t.Errorf("attached document = %+v", got[0].Document)
	}
}

func TestListRecentBookmarks_ToleratesMissingDocument(t *testing.T) {
	s := openTestStore(t)

	b := Bookmark{ID: "b1", UserID: "alice", DocumentID: "gone", CreatedAt: time.Now().UTC()}
	if err := s.SaveBookmark(b); err != nil {
		t.Fatalf("SaveBookmark: %v", err)
	}

	got, err := s.ListRecentBookmarks("alice", 10)
	if err != nil {
		t.Fatalf("ListRecentBookmarks: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d bookmarks, want 1", len(got))
	}
	if got[0].Document != nil {
		t.Errorf("Document = %+v, want nil", got[0].Document)
	}
}

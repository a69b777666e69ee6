package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

func parseNullTime(field string, value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := parseTime(field, value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Documents ---

func (s *Store) SaveDocument(d Document) error {
	_, err := s.db.Exec(`
		INSERT INTO documents (id, url, domain, title, author, lang, content_text, short_summary, published_at, fetched_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, nullString(d.URL), nullString(d.Domain), d.Title, nullString(d.Author), nullString(d.Lang),
		d.ContentText, nullString(d.ShortSummary),
		formatNullTime(d.PublishedAt), formatNullTime(d.FetchedAt),
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	return err
}

const documentColumns = `d.id, d.url, d.domain, d.title, d.author, d.lang, d.content_text, d.short_summary, d.published_at, d.fetched_at, d.created_at, d.updated_at`

func scanDocument(scan func(dest ...any) error) (Document, error) {
	var d Document
	var url, domain, author, lang, summary, publishedAt, fetchedAt sql.NullString
	var createdAt, updatedAt string
	if err := scan(&d.ID, &url, &domain, &d.Title, &author, &lang, &d.ContentText, &summary,
		&publishedAt, &fetchedAt, &createdAt, &updatedAt); err != nil {
		return Document{}, err
	}
	d.URL = url.String
	d.Domain = domain.String
	d.Author = author.String
	d.Lang = lang.String
	d.ShortSummary = summary.String

	var err error
	if d.PublishedAt, err = parseNullTime("published_at", publishedAt); err != nil {
		return Document{}, err
	}
	if d.FetchedAt, err = parseNullTime("fetched_at", fetchedAt); err != nil {
		return Document{}, err
	}
	if d.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Document{}, err
	}
	if d.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *Store) GetDocument(id string) (Document, error) {
	row := s.db.QueryRow(`SELECT `+documentColumns+` FROM documents d WHERE d.id = ?`, id)
	d, err := scanDocument(row.Scan)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if err := s.attachDocumentData([]*Document{&d}); err != nil {
		return Document{}, err
	}
	return d, nil
}

// GetDocumentsByIDs loads the requested documents with their latest
// classification and embedding attached. Missing ids are silently absent
// from the result.
func (s *Store) GetDocumentsByIDs(ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat(",?", len(ids)-1)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(`SELECT `+documentColumns+` FROM documents d WHERE d.id IN (?`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachDocuments(docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// ListRecentDocuments returns up to limit documents, newest first, with
// classification and embedding attached.
func (s *Store) ListRecentDocuments(limit int) ([]Document, error) {
	rows, err := s.db.Query(`SELECT `+documentColumns+` FROM documents d ORDER BY d.created_at DESC, d.id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachDocuments(docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) attachDocuments(docs []Document) error {
	ptrs := make([]*Document, len(docs))
	for i := range docs {
		ptrs[i] = &docs[i]
	}
	return s.attachDocumentData(ptrs)
}

// attachDocumentData fills PrimaryCategory (latest classification) and
// Embedding (lowest chunk index) for each document.
func (s *Store) attachDocumentData(docs []*Document) error {
	for _, d := range docs {
		var category sql.NullString
		err := s.db.QueryRow(`
			SELECT primary_category FROM classifications
			WHERE document_id = ? ORDER BY created_at DESC, id ASC LIMIT 1`, d.ID,
		).Scan(&category)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("loading classification for document %s: %w", d.ID, err)
		}
		d.PrimaryCategory = category.String

		var blob []byte
		err = s.db.QueryRow(`
			SELECT vec FROM document_embeddings
			WHERE document_id = ? ORDER BY chunk_id ASC LIMIT 1`, d.ID,
		).Scan(&blob)
		if err == sql.ErrNoRows {
			d.Embedding = nil
			continue
		}
		if err != nil {
			return fmt.Errorf("loading embedding for document %s: %w", d.ID, err)
		}
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return fmt.Errorf("decoding embedding for document %s: %w", d.ID, err)
		}
		d.Embedding = vec
	}
	return nil
}

func (s *Store) SaveClassification(c Classification) error {
	method := c.Method
	if method == "" {
		method = "prompt"
	}
	_, err := s.db.Exec(`
		INSERT INTO classifications (id, document_id, primary_category, confidence, method, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.DocumentID, c.PrimaryCategory, c.Confidence, method, formatTime(c.CreatedAt),
	)
	return err
}

func (s *Store) SaveDocumentEmbedding(e DocumentEmbedding) error {
	_, err := s.db.Exec(`
		INSERT INTO document_embeddings (id, document_id, chunk_id, vec, chunk_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.DocumentID, e.ChunkID, encodeFloat32s(e.Vector), e.ChunkText, formatTime(e.CreatedAt),
	)
	return err
}

// --- Bookmarks ---

func (s *Store) SaveBookmark(b Bookmark) error {
	_, err := s.db.Exec(`
		INSERT INTO bookmarks (id, user_id, document_id, note, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.DocumentID, nullString(b.Note), formatTime(b.CreatedAt),
	)
	return err
}

func (s *Store) GetBookmark(id string) (Bookmark, error) {
	var b Bookmark
	var note sql.NullString
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, document_id, note, created_at FROM bookmarks WHERE id = ?`, id,
	).Scan(&b.ID, &b.UserID, &b.DocumentID, &note, &createdAt)
	if err == sql.ErrNoRows {
		return Bookmark{}, ErrNotFound
	}
	if err != nil {
		return Bookmark{}, err
	}
	b.Note = note.String
	if b.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Bookmark{}, err
	}
	return b, nil
}

func (s *Store) DeleteBookmark(id string) error {
	res, err := s.db.Exec(`DELETE FROM bookmarks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountBookmarks returns the number of bookmarks stored for userID.
func (s *Store) CountBookmarks(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM bookmarks WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// BookmarkedDocumentIDs returns the set of document ids the user has bookmarked.
func (s *Store) BookmarkedDocumentIDs(userID string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT document_id FROM bookmarks WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// ListRecentBookmarks returns up to limit bookmarks for the user, newest
// first, each with its document (and the document's classification and
// embedding) attached.
func (s *Store) ListRecentBookmarks(userID string, limit int) ([]Bookmark, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, document_id, note, created_at
		FROM bookmarks WHERE user_id = ?
		ORDER BY created_at DESC, id ASC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookmarks []Bookmark
	for rows.Next() {
		var b Bookmark
		var note sql.NullString
		var createdAt string
		if err := rows.Scan(&b.ID, &b.UserID, &b.DocumentID, &note, &createdAt); err != nil {
			return nil, err
		}
		b.Note = note.String
		if b.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		bookmarks = append(bookmarks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bookmarks {
		doc, err := s.GetDocument(bookmarks[i].DocumentID)
		if err == nil {
			bookmarks[i].Document = &doc
			continue
		}
		if err != ErrNotFound {
			return nil, err
		}
	}
	return bookmarks, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (s *Store) GetPreferenceProfile(userID string) (PreferenceProfile, error) {
	var p PreferenceProfile
	var embedding []byte
	var lastBookmarkID sql.NullString
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, bookmark_count, embedding, category_weights, domain_weights, last_bookmark_id, status, created_at, updated_at
		FROM preference_profiles WHERE user_id = ?`, userID,
	).Scan(&p.ID, &p.UserID, &p.BookmarkCount, &embedding, &p.CategoryWeights, &p.DomainWeights,
		&lastBookmarkID, &p.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return PreferenceProfile{}, ErrNotFound
	}
	if err != nil {
		return PreferenceProfile{}, err
	}
	p.LastBookmarkID = lastBookmarkID.String
	if len(embedding) > 0 {
		if p.Embedding, err = decodeFloat32s(embedding); err != nil {
			return PreferenceProfile{}, fmt.Errorf("decoding profile embedding: %w", err)
		}
	}
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return PreferenceProfile{}, err
	}
	if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return PreferenceProfile{}, err
	}
	return p, nil
}

// UpsertPreferenceProfile writes the single profile row for p.UserID and
// returns the stored row. Two status values get special treatment:
// "error" keeps whatever embedding and weight maps are already stored, and
// "cold_start" clears them.
func (s *Store) UpsertPreferenceProfile(p PreferenceProfile) (PreferenceProfile, error) {
	if p.CategoryWeights == "" {
		p.CategoryWeights = "{}"
	}
	if p.DomainWeights == "" {
		p.DomainWeights = "{}"
	}

	existing, err := s.GetPreferenceProfile(p.UserID)
	switch {
	case err == ErrNotFound:
		existing = PreferenceProfile{}
	case err != nil:
		return PreferenceProfile{}, err
	}

	now := time.Now().UTC()
	switch p.Status {
	case "error":
		p.Embedding = existing.Embedding
		p.CategoryWeights = existing.CategoryWeights
		p.DomainWeights = existing.DomainWeights
		if p.CategoryWeights == "" {
			p.CategoryWeights = "{}"
		}
		if p.DomainWeights == "" {
			p.DomainWeights = "{}"
		}
	case "cold_start":
		p.Embedding = nil
		p.CategoryWeights = "{}"
		p.DomainWeights = "{}"
	}

	var blob any
	if len(p.Embedding) > 0 {
		blob = encodeFloat32s(p.Embedding)
	}

	if existing.ID != "" {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = now
		_, err := s.db.Exec(`
			UPDATE preference_profiles
			SET bookmark_count = ?, embedding = ?, category_weights = ?, domain_weights = ?, last_bookmark_id = ?, status = ?, updated_at = ?
			WHERE user_id = ?`,
			p.BookmarkCount, blob, p.CategoryWeights, p.DomainWeights, nullString(p.LastBookmarkID),
			p.Status, formatTime(now), p.UserID,
		)
		if err != nil {
			return PreferenceProfile{}, err
		}
		return p, nil
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err = s.db.Exec(`
		INSERT INTO preference_profiles (id, user_id, bookmark_count, embedding, category_weights, domain_weights, last_bookmark_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.BookmarkCount, blob, p.CategoryWeights, p.DomainWeights,
		nullString(p.LastBookmarkID), p.Status, formatTime(now), formatTime(now),
	)
	if err != nil {
		return PreferenceProfile{}, err
	}
	return p, nil
}

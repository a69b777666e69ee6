package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/feedrank/internal/identity"
)

// BulkUpsertScores writes one batch of personalized scores. Every row must
// resolve to the same normalized user: a row's own UserID wins, otherwise
// fallbackUserID applies. A batch spanning two users returns ErrMixedUsers
// before anything is written. Rows are keyed by (user_id, document_id), so
// re-scoring a document replaces its previous row. Returns the ids of the
// written rows.
func (s *Store) BulkUpsertScores(scores []PersonalizedScore, profileID, fallbackUserID string) ([]string, error) {
	if len(scores) == 0 {
		return nil, nil
	}

	resolved := ""
	for _, sc := range scores {
		userID := sc.UserID
		if userID == "" {
			userID = fallbackUserID
		}
		userID = identity.Normalize(userID)
		if resolved == "" {
			resolved = userID
			continue
		}
		if userID != resolved {
			return nil, ErrMixedUsers
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning score upsert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	ids := make([]string, 0, len(scores))
	for _, sc := range scores {
		id := sc.ID
		if id == "" {
			id = uuid.NewString()
		}
		components := sc.Components
		if components == "" {
			components = "{}"
		}
		computedAt := sc.ComputedAt
		if computedAt.IsZero() {
			computedAt = now
		}
		_, err := tx.Exec(`
			INSERT INTO personalized_scores (id, profile_id, user_id, document_id, score, rank, components, explanation, computed_at, cold_start, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, document_id) DO UPDATE SET
				profile_id = excluded.profile_id,
				score = excluded.score,
				rank = excluded.rank,
				components = excluded.components,
				explanation = excluded.explanation,
				computed_at = excluded.computed_at,
				cold_start = excluded.cold_start,
				updated_at = excluded.updated_at`,
			id, nullString(profileID), resolved, sc.DocumentID, sc.Score, sc.Rank,
			components, sc.Explanation, formatTime(computedAt), boolInt(sc.ColdStart),
			formatTime(now), formatTime(now),
		)
		if err != nil {
			return nil, fmt.Errorf("upserting score for document %s: %w", sc.DocumentID, err)
		}

		// The conflict branch keeps the original row id.
		var rowID string
		if err := tx.QueryRow(`SELECT id FROM personalized_scores WHERE user_id = ? AND document_id = ?`, resolved, sc.DocumentID).Scan(&rowID); err != nil {
			return nil, fmt.Errorf("reading upserted score id: %w", err)
		}
		ids = append(ids, rowID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing score upsert: %w", err)
	}
	return ids, nil
}

const scoreColumns = `id, profile_id, user_id, document_id, score, rank, components, explanation, computed_at, cold_start, created_at, updated_at`

func scanScore(scan func(dest ...any) error) (PersonalizedScore, error) {
	var sc PersonalizedScore
	var profileID sql.NullString
	var coldStart int
	var computedAt, createdAt, updatedAt string
	if err := scan(&sc.ID, &profileID, &sc.UserID, &sc.DocumentID, &sc.Score, &sc.Rank,
		&sc.Components, &sc.Explanation, &computedAt, &coldStart, &createdAt, &updatedAt); err != nil {
		return PersonalizedScore{}, err
	}
	sc.ProfileID = profileID.String
	sc.ColdStart = coldStart != 0

	var err error
	if sc.ComputedAt, err = parseTime("computed_at", computedAt); err != nil {
		return PersonalizedScore{}, err
	}
	if sc.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return PersonalizedScore{}, err
	}
	if sc.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return PersonalizedScore{}, err
	}
	return sc, nil
}

// ListScores returns the user's scores ordered best first.
func (s *Store) ListScores(userID string, limit, offset int) ([]PersonalizedScore, error) {
	rows, err := s.db.Query(`
		SELECT `+scoreColumns+` FROM personalized_scores
		WHERE user_id = ?
		ORDER BY rank ASC, score DESC, document_id ASC
		LIMIT ? OFFSET ?`, userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []PersonalizedScore
	for rows.Next() {
		sc, err := scanScore(rows.Scan)
		if err != nil {
			return nil, err
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// MapScoresForDocuments returns the user's scores for the given documents,
// keyed by document id. Documents without a score are absent from the map.
func (s *Store) MapScoresForDocuments(userID string, documentIDs []string) (map[string]PersonalizedScore, error) {
	if len(documentIDs) == 0 {
		return map[string]PersonalizedScore{}, nil
	}
	placeholders := strings.Repeat(",?", len(documentIDs)-1)
	args := make([]any, 0, len(documentIDs)+1)
	args = append(args, userID)
	for _, id := range documentIDs {
		args = append(args, id)
	}
	rows, err := s.db.Query(`
		SELECT `+scoreColumns+` FROM personalized_scores
		WHERE user_id = ? AND document_id IN (?`+placeholders+`)`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]PersonalizedScore)
	for rows.Next() {
		sc, err := scanScore(rows.Scan)
		if err != nil {
			return nil, err
		}
		result[sc.DocumentID] = sc
	}
	return result, rows.Err()
}

// DeleteScores removes the user's score rows for the given documents and
// returns how many were deleted. An empty document list clears every score
// the user has, which is how a profile reset drops its stale feed.
func (s *Store) DeleteScores(userID string, documentIDs []string) (int, error) {
	if len(documentIDs) == 0 {
		res, err := s.db.Exec(`DELETE FROM personalized_scores WHERE user_id = ?`, userID)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		return int(n), err
	}
	placeholders := strings.Repeat(",?", len(documentIDs)-1)
	args := make([]any, 0, len(documentIDs)+1)
	args = append(args, userID)
	for _, id := range documentIDs {
		args = append(args, id)
	}
	res, err := s.db.Exec(`DELETE FROM personalized_scores WHERE user_id = ? AND document_id IN (?`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

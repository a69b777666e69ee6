package storage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Feedback insert outcomes. Duplicate submissions are not errors; the
// caller reports which guard caught them.
const (
	FeedbackSubmitted           = "submitted"
	FeedbackDuplicateUser       = "duplicate_user"
	FeedbackDuplicateSession    = "duplicate_session"
	FeedbackDuplicateConstraint = "duplicate_constraint"
)

// InsertFeedback records one feedback row, deduplicating per user and per
// session token. The unique indexes are the last line of defense: if a
// concurrent insert slips past both probes the constraint violation is
// reported as a duplicate, not an error.
func (s *Store) InsertFeedback(f Feedback) (Feedback, string, error) {
	if f.UserID != "" {
		var existingID string
		err := s.db.QueryRow(`
			SELECT id FROM preference_feedback
			WHERE user_id = ? AND document_id = ? AND feedback_type = ?`,
			f.UserID, f.DocumentID, f.FeedbackType,
		).Scan(&existingID)
		if err == nil {
			f.ID = existingID
			return f, FeedbackDuplicateUser, nil
		}
		if err != sql.ErrNoRows {
			return Feedback{}, "", err
		}
	}

	if f.SessionToken != "" {
		var existingID string
		err := s.db.QueryRow(`
			SELECT id FROM preference_feedback
			WHERE session_token = ? AND document_id = ? AND feedback_type = ?`,
			f.SessionToken, f.DocumentID, f.FeedbackType,
		).Scan(&existingID)
		if err == nil {
			f.ID = existingID
			return f, FeedbackDuplicateSession, nil
		}
		if err != sql.ErrNoRows {
			return Feedback{}, "", err
		}
	}

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO preference_feedback (id, user_id, document_id, feedback_type, session_token, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, nullString(f.UserID), f.DocumentID, f.FeedbackType,
		nullString(f.SessionToken), nullString(f.Metadata), formatTime(f.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return f, FeedbackDuplicateConstraint, nil
		}
		return Feedback{}, "", err
	}
	return f, FeedbackSubmitted, nil
}

// ListFeedback returns feedback rows for a document, newest first.
func (s *Store) ListFeedback(documentID string, limit int) ([]Feedback, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, document_id, feedback_type, session_token, metadata, created_at
		FROM preference_feedback WHERE document_id = ?
		ORDER BY created_at DESC LIMIT ?`, documentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Feedback
	for rows.Next() {
		var f Feedback
		var userID, sessionToken, metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&f.ID, &userID, &f.DocumentID, &f.FeedbackType, &sessionToken, &metadata, &createdAt); err != nil {
			return nil, err
		}
		f.UserID = userID.String
		f.SessionToken = sessionToken.String
		f.Metadata = metadata.String
		if f.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	backoffBase = 5 * time.Second
	backoffCap  = 60 * time.Second

	// last_error is operator-facing; long embedding stack traces get cut.
	maxLastErrorLen = 2000
)

// backoffDelay returns the retry delay after the given number of completed
// attempts: base * 2^(attempts-1), capped.
func backoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := backoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	if delay > backoffCap {
		return backoffCap
	}
	return delay
}

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC()
	scheduledAt := job.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO preference_jobs (id, user_id, document_id, job_type, status, attempts, max_attempts, next_attempt_at, scheduled_at, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?, ?, ?)`,
		job.ID, nullString(job.UserID), nullString(job.DocumentID), job.Type, maxAttempts,
		formatNullTime(job.NextAttemptAt), formatTime(scheduledAt), formatTime(now), formatTime(now),
		nullString(job.PayloadJSON),
	)
	return err
}

const jobColumns = `id, user_id, document_id, job_type, status, attempts, max_attempts, last_error, next_attempt_at, scheduled_at, created_at, updated_at, payload`

func scanJob(scan func(dest ...any) error) (Job, error) {
	var j Job
	var userID, documentID, lastError, nextAttemptAt, payload sql.NullString
	var scheduledAt, createdAt, updatedAt string
	if err := scan(&j.ID, &userID, &documentID, &j.Type, &j.Status, &j.Attempts, &j.MaxAttempts,
		&lastError, &nextAttemptAt, &scheduledAt, &createdAt, &updatedAt, &payload); err != nil {
		return Job{}, err
	}
	j.UserID = userID.String
	j.DocumentID = documentID.String
	j.LastError = lastError.String
	j.PayloadJSON = payload.String

	var err error
	if j.NextAttemptAt, err = parseNullTime("next_attempt_at", nextAttemptAt); err != nil {
		return Job{}, err
	}
	if j.ScheduledAt, err = parseTime("scheduled_at", scheduledAt); err != nil {
		return Job{}, err
	}
	if j.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Job{}, err
	}
	if j.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Job{}, err
	}
	return j, nil
}

func (s *Store) GetJob(id string) (Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM preference_jobs WHERE id = ?`, id)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ClaimNextJob leases the oldest eligible pending job regardless of type;
// the worker decides what each type means, so rows written by newer
// binaries still get drained. Eligible means next_attempt_at is unset or
// due. Two pollers racing for the same row resolve through the status
// guard on the UPDATE: the loser sees zero affected rows and walks away
// with (nil, nil).
func (s *Store) ClaimNextJob() (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `SELECT ` + jobColumns + `
		FROM preference_jobs
		WHERE status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY next_attempt_at ASC, scheduled_at ASC, created_at ASC
		LIMIT 1`

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	j, err := scanJob(tx.QueryRow(query, now).Scan)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE preference_jobs SET status = 'in_progress', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "in_progress"
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE preference_jobs SET status = 'done', updated_at = ? WHERE id = ?`, now, id)
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

// FailJob records a failed attempt. While attempts remain the job returns to
// pending with an exponential backoff on next_attempt_at; once attempts
// reach max_attempts the job lands in failed for good. next_attempt_at is
// written in both cases so operators can see when the last retry would have
// run.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM preference_jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if len(errMsg) > maxLastErrorLen {
		errMsg = errMsg[:maxLastErrorLen]
	}

	now := time.Now().UTC()
	attempts++
	nextAttempt := now.Add(backoffDelay(attempts))

	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err = tx.Exec(`UPDATE preference_jobs SET status = ?, attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = ? WHERE id = ?`,
		status, attempts, errMsg, nextAttempt.Format(time.RFC3339), now.Format(time.RFC3339), id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ScheduleProfileRebuild is the best-effort enqueue used by bookmark and
// feedback writes. If the insert fails it re-runs migrations once and
// retries, so a database created by an older binary heals in place. Callers
// treat a returned error as non-fatal.
func (s *Store) ScheduleProfileRebuild(userID, documentID string) (string, error) {
	job := Job{
		ID:         uuid.NewString(),
		UserID:     userID,
		DocumentID: documentID,
		Type:       "profile_rebuild",
	}
	err := s.EnqueueJob(job)
	if err == nil {
		return job.ID, nil
	}
	if merr := s.migrate(); merr != nil {
		return "", fmt.Errorf("enqueueing rebuild: %w", err)
	}
	if err := s.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("enqueueing rebuild after schema repair: %w", err)
	}
	return job.ID, nil
}

// RequeueStaleJobs returns in_progress jobs whose lease is older than
// olderThan to pending. Off by default; only runs when the worker is
// configured with a stale-requeue interval.
func (s *Store) RequeueStaleJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE preference_jobs SET status = 'pending', updated_at = ? WHERE status = 'in_progress' AND updated_at < ?`,
		time.Now().UTC().Format(time.RFC3339), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RetryJob puts a failed job back in the queue with a fresh attempt budget.
func (s *Store) RetryJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE preference_jobs SET status = 'pending', attempts = 0, last_error = NULL, next_attempt_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'failed'`, now, id)
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

func (s *Store) CountJobsByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM preference_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

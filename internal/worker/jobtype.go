package worker

// JobType enumerates the job kinds the worker understands. The queue can
// hold other strings (older binaries, operator typos); those are logged
// and acknowledged so they don't wedge the queue.
type JobType string

const (
	// JobTypeProfileRebuild relearns a user's profile and re-scores their feed.
	JobTypeProfileRebuild JobType = "profile_rebuild"
	// JobTypeScoreRefresh re-scores without new bookmarks having arrived.
	// It runs through the same pipeline as a rebuild.
	JobTypeScoreRefresh JobType = "score_refresh"
)

// IsKnownJobType reports whether t names a job type with a handler.
func IsKnownJobType(t string) bool {
	switch JobType(t) {
	case JobTypeProfileRebuild, JobTypeScoreRefresh:
		return true
	}
	return false
}

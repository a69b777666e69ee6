package feedback

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/feedrank/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDocument(t *testing.T, s *storage.Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	doc := storage.Document{
		ID: id, URL: "https://example.com/" + id, Domain: "example.com",
		Title: "Doc " + id, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
}

func TestSubmitLowRelevance_CreatesFeedbackAndJob(t *testing.T) {
	s := openTestStore(t)
	seedDocument(t, s, "d1")
	svc := NewService(s)

	res, err := svc.SubmitLowRelevance(Submission{
		UserID:     "alice",
		DocumentID: "d1",
		Note:       "not interested",
	})
	if err != nil {
		t.Fatalf("SubmitLowRelevance: %v", err)
	}
	if !res.Created || res.State != storage.FeedbackSubmitted {
		t.Errorf("result = %+v", res)
	}
	if res.Feedback.ID == "" {
		t.Error("no feedback id")
	}
	if res.JobID == "" {
		t.Fatal("no rebuild job scheduled")
	}

	job, err := s.GetJob(res.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Type != "profile_rebuild" || job.UserID != "alice" || job.DocumentID != "d1" {
		t.Errorf("job = %+v", job)
	}

	rows, err := s.ListFeedback("d1", 10)
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d feedback rows, want 1", len(rows))
	}
	if !strings.Contains(rows[0].Metadata, `"note":"not interested"`) {
		t.Errorf("metadata = %q", rows[0].Metadata)
	}
}

func TestSubmitLowRelevance_DuplicateUserNoSecondJob(t *testing.T) {
	s := openTestStore(t)
	seedDocument(t, s, "d1")
	svc := NewService(s)

	sub := Submission{UserID: "alice", DocumentID: "d1"}
	if _, err := svc.SubmitLowRelevance(sub); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	res, err := svc.SubmitLowRelevance(sub)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if res.Created {
		t.Error("duplicate reported as created")
	}
	if res.State != storage.FeedbackDuplicateUser {
		t.Errorf("state = %q, want %q", res.State, storage.FeedbackDuplicateUser)
	}
	if res.JobID != "" {
		t.Errorf("duplicate scheduled a job: %q", res.JobID)
	}

	counts, err := s.CountJobsByStatus()
	if err != nil {
		t.Fatalf("CountJobsByStatus: %v", err)
	}
	if counts["pending"] != 1 {
		t.Errorf("pending jobs = %d, want 1", counts["pending"])
	}
}

func TestSubmitLowRelevance_DuplicateSession(t *testing.T) {
	s := openTestStore(t)
	seedDocument(t, s, "d1")
	svc := NewService(s)

	sub := Submission{DocumentID: "d1", SessionToken: "tok-1"}
	if _, err := svc.SubmitLowRelevance(sub); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	res, err := svc.SubmitLowRelevance(sub)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if res.Created || res.State != storage.FeedbackDuplicateSession {
		t.Errorf("result = %+v", res)
	}
}

func TestSubmitLowRelevance_MissingDocument(t *testing.T) {
	s := openTestStore(t)
	svc := NewService(s)

	_, err := svc.SubmitLowRelevance(Submission{UserID: "alice", DocumentID: "ghost"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	_, err = svc.SubmitLowRelevance(Submission{UserID: "alice"})
	if err == nil {
		t.Error("empty document id accepted")
	}
}

func TestSubmitLowRelevance_AnonymousSchedulesGuestRebuild(t *testing.T) {
	s := openTestStore(t)
	seedDocument(t, s, "d1")
	svc := NewService(s)

	res, err := svc.SubmitLowRelevance(Submission{DocumentID: "d1", SessionToken: "tok-1"})
	if err != nil {
		t.Fatalf("SubmitLowRelevance: %v", err)
	}
	if res.JobID == "" {
		t.Fatal("no job scheduled")
	}

	job, err := s.GetJob(res.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.UserID != "guest" {
		t.Errorf("job user = %q, want guest", job.UserID)
	}
}

func TestEncodeMetadata(t *testing.T) {
	got, err := encodeMetadata(Submission{})
	if err != nil {
		t.Fatalf("encodeMetadata: %v", err)
	}
	if got != "" {
		t.Errorf("empty submission metadata = %q, want empty", got)
	}

	got, err = encodeMetadata(Submission{
		Note:         "meh",
		SessionToken: "tok",
		Metadata:     map[string]any{"source": "feed"},
	})
	if err != nil {
		t.Fatalf("encodeMetadata: %v", err)
	}
	for _, want := range []string{`"note":"meh"`, `"session_token":"tok"`, `"source":"feed"`} {
		if !strings.Contains(got, want) {
			t.Errorf("metadata %q missing %q", got, want)
		}
	}
}

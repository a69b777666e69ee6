package storage

import (
	"errors"
	"testing"
	"time"
)

func TestBulkUpsertScores(t *testing.T) {
	s := openTestStore(t)

	scores := []PersonalizedScore{
		{DocumentID: "d1", Score: 0.9, Rank: 1, Components: `{"similarity":0.8}`, Explanation: "strong match"},
		{DocumentID: "d2", Score: 0.4, Rank: 2},
	}
	ids, err := s.BulkUpsertScores(scores, "p1", "alice")
	if err != nil {
		t.Fatalf("BulkUpsertScores: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}

	stored, err := s.ListScores("alice", 10, 0)
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("got %d scores, want 2", len(stored))
	}
	if stored[0].DocumentID != "d1" || stored[0].Rank != 1 || stored[0].Score != 0.9 {
		t.Errorf("first score = %+v", stored[0])
	}
	if stored[0].ProfileID != "p1" {
		t.Errorf("ProfileID = %q, want p1", stored[0].ProfileID)
	}
	if stored[0].Components != `{"similarity":0.8}` {
		t.Errorf("Components = %q", stored[0].Components)
	}
	if stored[1].Components != "{}" {
		t.Errorf("default Components = %q, want {}", stored[1].Components)
	}
	if stored[0].ComputedAt.IsZero() {
		t.Error("ComputedAt not defaulted")
	}
}

func TestBulkUpsertScores_ConflictKeepsRowID(t *testing.T) {
	s := openTestStore(t)

	first, err := s.BulkUpsertScores([]PersonalizedScore{{DocumentID: "d1", Score: 0.5, Rank: 3}}, "p1", "alice")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second, err := s.BulkUpsertScores([]PersonalizedScore{{DocumentID: "d1", Score: 0.7, Rank: 1, ColdStart: true}}, "p2", "alice")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second[0] != first[0] {
		t.Errorf("row id changed on conflict: %q -> %q", first[0], second[0])
	}

	stored, err := s.ListScores("alice", 10, 0)
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("got %d scores, want 1", len(stored))
	}
	if stored[0].Score != 0.7 || stored[0].Rank != 1 || !stored[0].ColdStart || stored[0].ProfileID != "p2" {
		t.Errorf("row not updated: %+v", stored[0])
	}
}

func TestBulkUpsertScores_MixedUsers(t *testing.T) {
	s := openTestStore(t)

	scores := []PersonalizedScore{
		{UserID: "alice", DocumentID: "d1", Score: 0.5, Rank: 1},
		{UserID: "bob", DocumentID: "d2", Score: 0.5, Rank: 2},
	}
	if _, err := s.BulkUpsertScores(scores, "", "alice"); !errors.Is(err, ErrMixedUsers) {
		t.Fatalf("err = %v, want ErrMixedUsers", err)
	}

	stored, err := s.ListScores("alice", 10, 0)
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("nothing should be written after ErrMixedUsers, got %d rows", len(stored))
	}
}

func TestBulkUpsertScores_GuestFallback(t *testing.T) {
	s := openTestStore(t)

	// Empty row user ids and an empty fallback resolve to the guest profile.
	scores := []PersonalizedScore{
		{DocumentID: "d1", Score: 0.5, Rank: 1},
		{UserID: "  ", DocumentID: "d2", Score: 0.4, Rank: 2},
	}
	if _, err := s.BulkUpsertScores(scores, "", ""); err != nil {
		t.Fatalf("BulkUpsertScores: %v", err)
	}

	stored, err := s.ListScores("guest", 10, 0)
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("got %d guest scores, want 2", len(stored))
	}
}

func TestBulkUpsertScores_Empty(t *testing.T) {
	s := openTestStore(t)

	ids, err := s.BulkUpsertScores(nil, "p1", "alice")
	if err != nil {
		t.Fatalf("BulkUpsertScores(nil): %v", err)
	}
	if ids != nil {
		t.Errorf("ids = %v, want nil", ids)
	}
}

func TestListScores_OrderAndPaging(t *testing.T) {
	s := openTestStore(t)

	scores := []PersonalizedScore{
		{DocumentID: "d3", Score: 0.3, Rank: 3},
		{DocumentID: "d1", Score: 0.9, Rank: 1},
		{DocumentID: "d2", Score: 0.6, Rank: 2},
	}
	if _, err := s.BulkUpsertScores(scores, "p1", "alice"); err != nil {
		t.Fatalf("BulkUpsertScores: %v", err)
	}

	got, err := s.ListScores("alice", 2, 0)
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(got) != 2 || got[0].DocumentID != "d1" || got[1].DocumentID != "d2" {
		t.Errorf("first page = %v", got)
	}

	got, err = s.ListScores("alice", 2, 2)
	if err != nil {
		t.Fatalf("ListScores offset: %v", err)
	}
	if len(got) != 1 || got[0].DocumentID != "d3" {
		t.Errorf("second page = %v", got)
	}
}

func TestMapScoresForDocuments(t *testing.T) {
	s := openTestStore(t)

	scores := []PersonalizedScore{
		{DocumentID: "d1", Score: 0.9, Rank: 1},
		{DocumentID: "d2", Score: 0.6, Rank: 2},
	}
	if _, err := s.BulkUpsertScores(scores, "p1", "alice"); err != nil {
		t.Fatalf("BulkUpsertScores: %v", err)
	}

	m, err := s.MapScoresForDocuments("alice", []string{"d1", "d-missing"})
	if err != nil {
		t.Fatalf("MapScoresForDocuments: %v", err)
	}
	if len(m) != 1 {
		t.Fatalf("got %d entries, want 1", len(m))
	}
	if m["d1"].Score != 0.9 {
		t.Errorf("d1 score = %v", m["d1"].Score)
	}

	m, err = s.MapScoresForDocuments("alice", nil)
	if err != nil {
		t.Fatalf("MapScoresForDocuments(nil): %v", err)
	}
	if len(m) != 0 {
		t.Errorf("empty request returned %d entries", len(m))
	}
}

func TestDeleteScores(t *testing.T) {
	s := openTestStore(t)

	scores := []PersonalizedScore{
		{DocumentID: "d1", Score: 0.9, Rank: 1, ComputedAt: time.Now().UTC()},
		{DocumentID: "d2", Score: 0.6, Rank: 2, ComputedAt: time.Now().UTC()},
	}
	if _, err := s.BulkUpsertScores(scores, "p1", "alice"); err != nil {
		t.Fatalf("BulkUpsertScores: %v", err)
	}

	n, err := s.DeleteScores("alice", []string{"d1", "d-missing"})
	if err != nil {
		t.Fatalf("DeleteScores: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}

	remaining, err := s.ListScores("alice", 10, 0)
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(remaining) != 1 || remaining[0].DocumentID != "d2" {
		t.Errorf("remaining = %v", remaining)
	}
}

func TestDeleteScores_AllForUser(t *testing.T) {
	s := openTestStore(t)

	alice := []PersonalizedScore{
		{DocumentID: "d1", Score: 0.9, Rank: 1},
		{DocumentID: "d2", Score: 0.6, Rank: 2},
	}
	if _, err := s.BulkUpsertScores(alice, "p1", "alice"); err != nil {
		t.Fatalf("BulkUpsertScores alice: %v", err)
	}
	bob := []PersonalizedScore{{DocumentID: "d1", Score: 0.4, Rank: 1}}
	if _, err := s.BulkUpsertScores(bob, "p2", "bob"); err != nil {
		t.Fatalf("BulkUpsertScores bob: %v", err)
	}

	// No document ids clears the user's whole feed, nobody else's.
	n, err := s.DeleteScores("alice", nil)
	if err != nil {
		t.Fatalf("DeleteScores: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}

	remaining, err := s.ListScores("alice", 10, 0)
	if err != nil {
		t.Fatalf("ListScores alice: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("alice still has %d scores", len(remaining))
	}

	remaining, err = s.ListScores("bob", 10, 0)
	if err != nil {
		t.Fatalf("ListScores bob: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("bob has %d scores, want 1", len(remaining))
	}
}

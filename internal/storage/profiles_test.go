package storage

import (
	"errors"
	"testing"
)

func TestUpsertPreferenceProfile_InsertAndUpdate(t *testing.T) {
	s := openTestStore(t)

	p := PreferenceProfile{
		UserID:          "alice",
		BookmarkCount:   5,
		Embedding:       []float32{0.1, 0.2, 0.3},
		CategoryWeights: `{"tech":0.6}`,
		DomainWeights:   `{"example.com":0.4}`,
		LastBookmarkID:  "b5",
		Status:          "active",
	}
	stored, err := s.UpsertPreferenceProfile(p)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stored.ID == "" {
		t.Fatal("no id assigned")
	}

	got, err := s.GetPreferenceProfile("alice")
	if err != nil {
		t.Fatalf("GetPreferenceProfile: %v", err)
	}
	if got.BookmarkCount != 5 || got.Status != "active" || got.LastBookmarkID != "b5" {
		t.Errorf("unexpected profile: %+v", got)
	}
	if len(got.Embedding) != 3 || got.Embedding[2] != 0.3 {
		t.Errorf("embedding = %v", got.Embedding)
	}
	if got.CategoryWeights != `{"tech":0.6}` {
		t.Errorf("category weights = %q", got.CategoryWeights)
	}

	p.BookmarkCount = 7
	p.Embedding = []float32{0.9}
	updated, err := s.UpsertPreferenceProfile(p)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != stored.ID {
		t.Errorf("id changed on update: %q -> %q", stored.ID, updated.ID)
	}

	got, err = s.GetPreferenceProfile("alice")
	if err != nil {
		t.Fatalf("GetPreferenceProfile after update: %v", err)
	}
	if got.BookmarkCount != 7 || len(got.Embedding) != 1 {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestGetPreferenceProfile_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetPreferenceProfile("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// An error-status write must not wipe a previously learned profile.
func TestUpsertPreferenceProfile_ErrorPreservesData(t *testing.T) {
	s := openTestStore(t)

	ready := PreferenceProfile{
		UserID:          "alice",
		BookmarkCount:   4,
		Embedding:       []float32{0.5, 0.5},
		CategoryWeights: `{"tech":1}`,
		DomainWeights:   `{"example.com":1}`,
		Status:          "active",
	}
	if _, err := s.UpsertPreferenceProfile(ready); err != nil {
		t.Fatalf("ready upsert: %v", err)
	}

	errored := PreferenceProfile{
		UserID:        "alice",
		BookmarkCount: 6,
		Status:        "error",
	}
	if _, err := s.UpsertPreferenceProfile(errored); err != nil {
		t.Fatalf("error upsert: %v", err)
	}

	got, err := s.GetPreferenceProfile("alice")
	if err != nil {
		t.Fatalf("GetPreferenceProfile: %v", err)
	}
	if got.Status != "error" {
		t.Errorf("status = %q, want error", got.Status)
	}
	if got.BookmarkCount != 6 {
		t.Errorf("bookmark count = %d, want 6", got.BookmarkCount)
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 0.5 {
		t.Errorf("embedding not preserved: %v", got.Embedding)
	}
	if got.CategoryWeights != `{"tech":1}` || got.DomainWeights != `{"example.com":1}` {
		t.Errorf("weights not preserved: %q / %q", got.CategoryWeights, got.DomainWeights)
	}
}

func TestUpsertPreferenceProfile_ColdStartClears(t *testing.T) {
	s := openTestStore(t)

	ready := PreferenceProfile{
		UserID:          "alice",
		BookmarkCount:   4,
		Embedding:       []float32{0.5},
		CategoryWeights: `{"tech":1}`,
		Status:          "active",
	}
	if _, err := s.UpsertPreferenceProfile(ready); err != nil {
		t.Fatalf("ready upsert: %v", err)
	}

	cold := PreferenceProfile{
		UserID:        "alice",
		BookmarkCount: 1,
		Status:        "cold_start",
	}
	if _, err := s.UpsertPreferenceProfile(cold); err != nil {
		t.Fatalf("cold_start upsert: %v", err)
	}

	got, err := s.GetPreferenceProfile("alice")
	if err != nil {
		t.Fatalf("GetPreferenceProfile: %v", err)
	}
	if got.Status != "cold_start" || got.BookmarkCount != 1 {
		t.Errorf("unexpected profile: %+v", got)
	}
	if got.Embedding != nil {
		t.Errorf("embedding not cleared: %v", got.Embedding)
	}
	if got.CategoryWeights != "{}" || got.DomainWeights != "{}" {
		t.Errorf("weights not cleared: %q / %q", got.CategoryWeights, got.DomainWeights)
	}
}

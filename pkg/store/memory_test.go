package store

import (
	"context"
	"testing"

	"github.com/Namchee/tanyaaja/pkg/models"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(models.OwnerRecord{ID: "u-1", Slug: "namchee"})

	owners, _ := s.FindBySlug(ctx, "namchee")
	if len(owners) != 1 || owners[0].ID != "u-1" {
		t.Fatalf("unexpected owners: %+v", owners)
	}
	if err := s.InsertQuestion(ctx, models.Question{ID: "q-1", OwnerID: "u-1", Text: "a"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertQuestion(ctx, models.Question{ID: "q-1", OwnerID: "u-1", Text: "b"}); err == nil {
		t.Fatal("expected duplicate id error")
	}
	if err := s.InsertQuestion(ctx, models.Question{ID: "q-2", OwnerID: "ghost", Text: "c"}); err == nil {
		t.Fatal("expected unknown owner error")
	}
	if got := s.Questions("u-1"); len(got) != 1 || got[0].Text != "a" {
		t.Fatalf("unexpected questions: %+v", got)
	}

	if err := s.UpsertOwner(ctx, models.OwnerRecord{ID: "u-1", Slug: "renamed"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if owners, _ := s.FindBySlug(ctx, "namchee"); len(owners) != 0 {
		t.Fatalf("expected old slug to be gone, got %+v", owners)
	}
}

package memorystore

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndForget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, "k1", "v1", []string{"a"}, time.Now()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	ok, err := s.Forget(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("expected Forget to report true, got %v, %v", ok, err)
	}
	ok, err = s.Forget(ctx, "k1")
	if err != nil || ok {
		t.Fatalf("expected second Forget to report false, got %v, %v", ok, err)
	}
}

func TestSave_UpsertOverwritesValue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	if err := s.Save(ctx, "k1", "first", nil, now); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, "k1", "second", nil, now.Add(time.Second)); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	results, err := s.Search(ctx, "", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Value != "second" {
		t.Fatalf("expected upsert to overwrite, got %+v", results)
	}
}

func TestSearch_EmptyQueryReturnsMostRecentFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()
	if err := s.Save(ctx, "old", "first", nil, base); err != nil {
		t.Fatalf("Save old: %v", err)
	}
	if err := s.Save(ctx, "new", "second", nil, base.Add(time.Minute)); err != nil {
		t.Fatalf("Save new: %v", err)
	}
	results, err := s.Search(ctx, "", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].Key != "new" || results[1].Key != "old" {
		t.Fatalf("expected most-recent-first, got %+v", results)
	}
}

func TestSearch_KeywordToleratesPunctuation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, "k1", "the user's favorite color is blue", nil, time.Now()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	results, err := s.Search(ctx, "user's favorite", "", 10)
	if err != nil {
		t.Fatalf("Search should tolerate apostrophes, got error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %+v", results)
	}
}

func TestSearch_TagFilterWithEmptyQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, "k1", "v1", []string{"work"}, time.Now()); err != nil {
		t.Fatalf("Save k1: %v", err)
	}
	if err := s.Save(ctx, "k2", "v2", []string{"personal"}, time.Now()); err != nil {
		t.Fatalf("Save k2: %v", err)
	}
	results, err := s.Search(ctx, "", "work", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Key != "k1" {
		t.Fatalf("expected only the tagged entry, got %+v", results)
	}
}

func TestPromptBlock_CapsLength(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if err := s.Save(ctx, "k"+string(rune('a'+i)), "a reasonably long memory value here", nil, time.Now()); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	block, err := s.PromptBlock(ctx, 100)
	if err != nil {
		t.Fatalf("PromptBlock: %v", err)
	}
	if len(block) > 100 {
		t.Fatalf("expected block capped at 100 chars, got %d", len(block))
	}
}

func TestSaveEmbeddingAndSearchSemantic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, "k1", "close vector", nil, time.Now()); err != nil {
		t.Fatalf("Save k1: %v", err)
	}
	if err := s.Save(ctx, "k2", "far vector", nil, time.Now()); err != nil {
		t.Fatalf("Save k2: %v", err)
	}
	if err := s.SaveEmbedding(ctx, "k1", []float32{1, 0, 0}); err != nil {
		t.Fatalf("SaveEmbedding k1: %v", err)
	}
	if err := s.SaveEmbedding(ctx, "k2", []float32{0, 1, 0}); err != nil {
		t.Fatalf("SaveEmbedding k2: %v", err)
	}

	results, err := s.SearchSemantic(ctx, []float32{1, 0, 0}, "", 10)
	if err != nil {
		t.Fatalf("SearchSemantic: %v", err)
	}
	if len(results) != 2 || results[0].Key != "k1" {
		t.Fatalf("expected k1 ranked first by cosine similarity, got %+v", results)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("expected descending score order, got %+v", results)
	}
}

package vector

import (
	"context"
	"math"
	"testing"
)

func TestMemoryIndex_UpsertSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := idx.Upsert(ctx, "a", [][]float32{{1, 0, 0}, {0, 0, 1}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, "b", [][]float32{{0.9, 0.1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, "c", [][]float32{{0, 1, 0}}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 4 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{2, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].DocumentID != "a" || results[0].ChunkIndex != 0 {
		t.Errorf("top result should be a#0, got %s#%d", results[0].DocumentID, results[0].ChunkIndex)
	}
	if math.Abs(results[0].Score-1) > 1e-6 {
		t.Errorf("top score should be 1 for an unnormalized identical vector, got %f", results[0].Score)
	}
	if results[1].DocumentID != "b" {
		t.Errorf("second result should be b, got %s", results[1].DocumentID)
	}
}

func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, "x", [][]float32{{1, 0}, {0, 1}, {1, 1}})
	_ = idx.Upsert(ctx, "x", [][]float32{{0, 1}})
	if idx.Size() != 1 {
		t.Fatalf("expected size 1 after replace, got %d", idx.Size())
	}
	results, _ := idx.Search(ctx, []float32{1, 0}, 10)
	if len(results) != 1 || results[0].ChunkIndex != 0 {
		t.Errorf("unexpected results %+v", results)
	}
	_ = idx.Upsert(ctx, "x", nil)
	if idx.Size() != 0 {
		t.Errorf("empty upsert should remove document, size=%d", idx.Size())
	}
}

func TestMemoryIndex_RemoveDocument(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, "x", [][]float32{{1, 0}})
	_ = idx.Upsert(ctx, "y", [][]float32{{0, 1}})
	if err := idx.RemoveDocument(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 1 {
		t.Errorf("expected size 1, got %d", idx.Size())
	}
	results, _ := idx.Search(ctx, []float32{1, 0}, 5)
	for _, r := range results {
		if r.DocumentID == "x" {
			t.Error("removed document still returned")
		}
	}
	if err := idx.RemoveDocument(ctx, "missing"); err != nil {
		t.Errorf("removing an unknown document: %v", err)
	}
}

func TestMemoryIndex_Set(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	if err := idx.Set("d", 2, []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Set("d", 0, []float32{0, 1}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Set("d", 0, []float32{0, 1}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Errorf("expected size 2, got %d", idx.Size())
	}
	results, _ := idx.Search(context.Background(), []float32{1, 0}, 1)
	if len(results) != 1 || results[0].ChunkIndex != 2 {
		t.Errorf("unexpected results %+v", results)
	}
	if err := idx.Set("d", -1, []float32{0, 1}); err == nil {
		t.Error("expected error for negative index")
	}
}

func TestMemoryIndex_TieOrder(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, "b", [][]float32{{1, 0}})
	_ = idx.Upsert(ctx, "a", [][]float32{{1, 0}, {1, 0}})
	results, _ := idx.Search(ctx, []float32{1, 0}, 3)
	got := []string{results[0].DocumentID, results[1].DocumentID, results[2].DocumentID}
	if got[0] != "a" || got[1] != "a" || got[2] != "b" || results[1].ChunkIndex != 1 {
		t.Errorf("unexpected order %v", got)
	}
}

func TestMemoryIndex_KeepsTiesPastK(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_ = idx.Upsert(ctx, id, [][]float32{{1, 0}})
	}
	_ = idx.Upsert(ctx, "d", [][]float32{{0, 1}})

	results, _ := idx.Search(ctx, []float32{1, 0}, 1)
	if len(results) != 3 {
		t.Fatalf("expected the 3 tied chunks, got %d", len(results))
	}
	for _, r := range results {
		if r.DocumentID == "d" {
			t.Error("lower score returned past k")
		}
	}
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	ctx := context.Background()
	if err := idx.Upsert(ctx, "x", [][]float32{{1, 0}}); err == nil {
		t.Error("expected error for dimension mismatch on upsert")
	}
	if _, err := idx.Search(ctx, []float32{1, 0}, 1); err == nil {
		t.Error("expected error for dimension mismatch on search")
	}
	if _, err := NewMemoryIndex(0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

func TestMemoryIndex_Reset(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	_ = idx.Upsert(context.Background(), "x", [][]float32{{1, 0}})
	idx.Reset()
	if idx.Size() != 0 {
		t.Errorf("Size after reset = %d", idx.Size())
	}
	results, err := idx.Search(context.Background(), []float32{1, 0}, 1)
	if err != nil || results != nil {
		t.Errorf("search on empty index: %v %v", results, err)
	}
}

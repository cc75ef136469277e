package store

import (
	"math"
	"testing"
)

func TestSaveAndGetVector(t *testing.T) {
	db := testDB(t)
	mustCreate(t, db, "mem-1", "content", "factual")

	vec := []float64{0.1, -0.5, 3.14159, 0}
	if err := db.SaveVector("mem-1", vec, "tfidf"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	got, err := db.GetVector("mem-1")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got == nil {
		t.Fatal("expected vector")
	}
	if got.Model != "tfidf" || got.Dimensions != 4 {
		t.Errorf("model=%s dims=%d", got.Model, got.Dimensions)
	}
	for i := range vec {
		if math.Abs(got.Embedding[i]-vec[i]) > 1e-12 {
			t.Errorf("embedding[%d] = %g, want %g", i, got.Embedding[i], vec[i])
		}
	}
}

func TestSaveVectorReplaces(t *testing.T) {
	db := testDB(t)
	mustCreate(t, db, "mem-1", "content", "factual")

	db.SaveVector("mem-1", []float64{1, 2}, "tfidf")
	if err := db.SaveVector("mem-1", []float64{3, 4, 5}, "ollama:nomic-embed-text"); err != nil {
		t.Fatalf("SaveVector replace: %v", err)
	}

	got, _ := db.GetVector("mem-1")
	if got.Dimensions != 3 || got.Model != "ollama:nomic-embed-text" {
		t.Errorf("after replace: dims=%d model=%s", got.Dimensions, got.Model)
	}
}

func TestGetVectorMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.GetVector("nope")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing vector")
	}
}

func TestAllVectors(t *testing.T) {
	db := testDB(t)
	mustCreate(t, db, "mem-1", "a", "factual")
	mustCreate(t, db, "mem-2", "b", "factual")

	db.SaveVector("mem-1", []float64{1}, "tfidf")
	db.SaveVector("mem-2", []float64{2}, "tfidf")

	records, err := db.AllVectors()
	if err != nil {
		t.Fatalf("AllVectors: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("len = %d, want 2", len(records))
	}
}

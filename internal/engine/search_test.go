package engine

import (
	"context"
	"testing"
	"time"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/store"
)

func recall(t *testing.T, e *Engine, query string, opts RecallOpts) []RecallResult {
	t.Helper()
	results, err := e.Recall(context.Background(), query, opts)
	if err != nil {
		t.Fatalf("Recall(%q): %v", query, err)
	}
	return results
}

func TestRecallLexicalMatch(t *testing.T) {
	e := testEngine(t)
	target := addMemory(t, e, "the database password rotates every friday", "procedural")
	addMemory(t, e, "lunch was good today", "episodic")

	results := recall(t, e, "database password", RecallOpts{NoExpand: true})
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Memory.ID != target.ID {
		t.Errorf("top result = %q, want the lexical match", results[0].Memory.Content)
	}
	if !results[0].Lexical {
		t.Error("expected lexical flag on the index hit")
	}
}

func TestRecallFullScanFallback(t *testing.T) {
	e := testEngine(t)
	addMemory(t, e, "alpha note", "factual")
	addMemory(t, e, "beta note", "factual")

	// No index can match this query; activation alone must still answer.
	results := recall(t, e, "zzz qqq", RecallOpts{NoTouch: true})
	if len(results) != 2 {
		t.Errorf("results = %d, want 2 from full scan", len(results))
	}
}

func TestRecallPinnedFirst(t *testing.T) {
	e := testEngine(t)
	addMemory(t, e, "deploy checklist step one", "procedural")
	pinned := addMemory(t, e, "deploy freeze standing instruction", "procedural")
	e.Pin(pinned.ID)

	results := recall(t, e, "deploy checklist", RecallOpts{NoTouch: true})
	if len(results) < 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Memory.ID != pinned.ID {
		t.Error("pinned memory must rank first regardless of relevance")
	}
}

func TestRecallCategoryFilter(t *testing.T) {
	e := testEngine(t)
	addMemory(t, e, "meeting notes from standup", "episodic")
	fact := addMemory(t, e, "meeting room is on floor three", "factual")

	results := recall(t, e, "meeting", RecallOpts{Categories: []string{"factual"}, NoTouch: true})
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Memory.ID != fact.ID {
		t.Errorf("got %q, want the factual entry", results[0].Memory.Content)
	}
}

func TestRecallLayerAndTimeFilters(t *testing.T) {
	e := testEngine(t)
	old := addMemory(t, e, "archived fact", "factual")
	fresh := addMemory(t, e, "current fact", "factual")
	e.DB.UpdateLayer(old.ID, store.LayerArchive)

	results := recall(t, e, "fact", RecallOpts{Layers: []string{store.LayerWorking}, NoTouch: true})
	if len(results) != 1 || results[0].Memory.ID != fresh.ID {
		t.Errorf("layer filter: got %d results", len(results))
	}

	cutoff := time.Now().Add(time.Hour).UnixMilli()
	results = recall(t, e, "fact", RecallOpts{Since: cutoff, NoTouch: true})
	if len(results) != 0 {
		t.Errorf("since filter in the future: got %d results, want 0", len(results))
	}
}

func TestRecallLimit(t *testing.T) {
	e := testEngine(t)
	for i := 0; i < 5; i++ {
		addMemory(t, e, "repeated topic entry", "factual")
	}

	results := recall(t, e, "repeated topic", RecallOpts{Limit: 2, NoTouch: true})
	if len(results) != 2 {
		t.Errorf("results = %d, want limit 2", len(results))
	}
}

func TestRecallMinConfidence(t *testing.T) {
	e := testEngine(t)
	addMemory(t, e, "barely remembered thing", "factual")

	results := recall(t, e, "barely remembered", RecallOpts{MinConfidence: 0.99, NoTouch: true})
	if len(results) != 0 {
		t.Errorf("results = %d, want 0 above confidence 0.99", len(results))
	}
}

func TestRecallEntityExpansion(t *testing.T) {
	e := testEngine(t)
	if _, err := e.Add(context.Background(), AddOpts{
		Content: "kubernetes upgrade scheduled", Category: "factual",
		Entities: []string{"kubernetes"},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	neighbor, err := e.Add(context.Background(), AddOpts{
		Content: "cluster autoscaler misbehaves on spot nodes", Category: "factual",
		Entities: []string{"kubernetes"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	// The query only matches the first entry lexically; the shared entity
	// pulls the second one in with a graph boost.
	results := recall(t, e, "upgrade scheduled", RecallOpts{NoTouch: true})
	found := false
	for _, r := range results {
		if r.Memory.ID == neighbor.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected entity neighbor in expanded results")
	}

	// NoExpand keeps the neighbor out.
	results = recall(t, e, "upgrade scheduled", RecallOpts{NoExpand: true, NoTouch: true})
	for _, r := range results {
		if r.Memory.ID == neighbor.ID {
			t.Error("NoExpand must suppress graph neighbors")
		}
	}
}

func TestRecallHebbianExpansion(t *testing.T) {
	e := testEngine(t)
	hit := addMemory(t, e, "incident postmortem written", "episodic")
	assoc := addMemory(t, e, "pager rotation changed", "factual")
	src, dst := store.OrderPair(hit.ID, assoc.ID)
	e.DB.PutHebbianLink(store.HebbianLink{SourceID: src, TargetID: dst, Strength: 0.9, CoactivationCount: 5})

	results := recall(t, e, "incident postmortem", RecallOpts{NoTouch: true})
	found := false
	for _, r := range results {
		if r.Memory.ID == assoc.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected hebbian neighbor in expanded results")
	}
}

func TestRecallSideEffects(t *testing.T) {
	e := testEngine(t)
	a := addMemory(t, e, "paired memory one", "factual")
	b := addMemory(t, e, "paired memory two", "factual")

	recall(t, e, "paired memory", RecallOpts{})

	times, err := e.DB.AccessTimes(a.ID)
	if err != nil {
		t.Fatalf("AccessTimes: %v", err)
	}
	if len(times) != 2 {
		t.Errorf("accesses = %d, want 2 (add + recall)", len(times))
	}

	link, err := e.DB.GetHebbianLink(a.ID, b.ID)
	if err != nil {
		t.Fatalf("GetHebbianLink: %v", err)
	}
	if link == nil || link.CoactivationCount != 1 {
		t.Errorf("coactivation link = %+v, want pending with count 1", link)
	}
}

func TestRecallNoTouch(t *testing.T) {
	e := testEngine(t)
	m := addMemory(t, e, "untouched memory", "factual")

	recall(t, e, "untouched memory", RecallOpts{NoTouch: true})

	times, _ := e.DB.AccessTimes(m.ID)
	if len(times) != 1 {
		t.Errorf("accesses = %d, want only the initial one", len(times))
	}
	n, _ := e.DB.CountHebbianLinks()
	if n != 0 {
		t.Errorf("links = %d, want 0 under NoTouch", n)
	}
}

func TestRecallContradictedFlag(t *testing.T) {
	e := testEngine(t)
	old := addMemory(t, e, "the service listens on port 8080", "factual")
	if _, err := e.Supersede(context.Background(), old.ID, "the service listens on port 9090", "port moved"); err != nil {
		t.Fatalf("Supersede: %v", err)
	}

	results := recall(t, e, "service listens port", RecallOpts{NoTouch: true, NoExpand: true})
	var sawOld bool
	for _, r := range results {
		if r.Memory.ID == old.ID {
			sawOld = true
			if !r.Contradicted {
				t.Error("superseded memory must carry the contradicted flag")
			}
		}
	}
	if !sawOld {
		t.Fatal("expected the superseded entry among results")
	}
}

func TestTemporalAlpha(t *testing.T) {
	b := config.DefaultMemoryParams().Blend

	if got := temporalAlpha("what did we decide about caching", b); got != b.SemanticAlpha {
		t.Errorf("no cues: alpha = %g, want %g", got, b.SemanticAlpha)
	}
	if got := temporalAlpha("what happened yesterday", b); got != b.ModerateAlpha {
		t.Errorf("one cue: alpha = %g, want %g", got, b.ModerateAlpha)
	}
	if got := temporalAlpha("what happened yesterday morning", b); got != b.TemporalAlpha {
		t.Errorf("two cues: alpha = %g, want %g", got, b.TemporalAlpha)
	}
}

func TestRecallContextKeywordsBias(t *testing.T) {
	e := testEngine(t)
	match := addMemory(t, e, "the billing cronjob runs nightly", "factual")
	addMemory(t, e, "the onboarding doc needs a rewrite", "factual")

	results := recall(t, e, "zzz qqq", RecallOpts{
		ContextKeywords: []string{"billing"}, NoTouch: true,
	})
	if len(results) < 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Memory.ID != match.ID {
		t.Error("spreading activation should rank the keyword match first")
	}
}

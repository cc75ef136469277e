package engine

import (
	"math"
	"testing"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/store"
)

func TestConsolidateValidation(t *testing.T) {
	e := testEngine(t)

	if _, err := Consolidate(e.DB, -1, e.Params); !IsValidation(err) {
		t.Errorf("negative dt: got %v, want ValidationError", err)
	}
}

func TestConsolidateZeroDaysNoop(t *testing.T) {
	e := testEngine(t)
	m := addMemory(t, e, "unchanged", "factual")

	rep, err := Consolidate(e.DB, 0, e.Params)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if rep.Processed != 0 {
		t.Errorf("processed = %d, want 0", rep.Processed)
	}

	got, _ := e.Get(m.ID)
	if got.WorkingStrength != 1.0 || got.CoreStrength != 0.0 {
		t.Errorf("strengths changed on zero-day pass: %g, %g", got.WorkingStrength, got.CoreStrength)
	}
}

func TestConsolidateEmptyStore(t *testing.T) {
	e := testEngine(t)

	rep, err := Consolidate(e.DB, 1, e.Params)
	if err != nil {
		t.Fatalf("Consolidate on empty store: %v", err)
	}
	if rep.Processed != 0 {
		t.Errorf("processed = %d, want 0", rep.Processed)
	}
}

func TestConsolidateDecaysMonotonically(t *testing.T) {
	e := testEngine(t)
	m := addMemory(t, e, "fading memory", "factual")

	prev := 1.0
	for i := 0; i < 10; i++ {
		if _, err := Consolidate(e.DB, 1, e.Params); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		got, _ := e.Get(m.ID)
		eff := EffectiveStrength(got)
		if eff > prev+1e-9 {
			t.Fatalf("pass %d: effective strength rose from %g to %g without access", i, prev, eff)
		}
		prev = eff
	}
	if prev >= 1.0 {
		t.Error("effective strength should have decayed below the initial value")
	}
}

func TestConsolidateBuildsCoreTrace(t *testing.T) {
	e := testEngine(t)
	m := addMemory(t, e, "transfers into the slow trace", "factual")

	if _, err := Consolidate(e.DB, 1, e.Params); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	got, _ := e.Get(m.ID)
	if got.WorkingStrength >= 1.0 {
		t.Errorf("working = %g, want decayed below 1", got.WorkingStrength)
	}
	if got.CoreStrength <= 0 {
		t.Errorf("core = %g, want positive after transfer", got.CoreStrength)
	}
	if got.ConsolidationCount != 1 {
		t.Errorf("consolidation_count = %d, want 1", got.ConsolidationCount)
	}
	if got.LastConsolidated == nil {
		t.Error("expected last_consolidated to be stamped")
	}
}

func TestConsolidateImportanceModulatesRetention(t *testing.T) {
	e := testEngine(t)
	trivial := addMemory(t, e, "the office coffee machine was refilled", "opinion")
	emotional := addMemory(t, e, "the production outage scared everyone", "emotional")

	// A month of nightly cycles.
	for i := 0; i < 30; i++ {
		if _, err := e.Consolidate(1); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	triv, _ := e.Get(trivial.ID)
	emot, _ := e.Get(emotional.ID)

	if EffectiveStrength(emot) <= EffectiveStrength(triv) {
		t.Errorf("high-importance memory must out-survive trivia: emotional=%g trivial=%g",
			EffectiveStrength(emot), EffectiveStrength(triv))
	}
}

func TestConsolidateSkipsPinned(t *testing.T) {
	e := testEngine(t)
	m := addMemory(t, e, "pinned forever", "factual")
	if err := e.Pin(m.ID); err != nil {
		t.Fatalf("Pin: %v", err)
	}

	if _, err := Consolidate(e.DB, 10, e.Params); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	got, _ := e.Get(m.ID)
	if got.WorkingStrength != 1.0 || got.CoreStrength != 0.0 {
		t.Errorf("pinned strengths changed: %g, %g", got.WorkingStrength, got.CoreStrength)
	}
	if got.Layer != store.LayerWorking {
		t.Errorf("pinned layer changed to %q", got.Layer)
	}
	if got.ConsolidationCount != 0 {
		t.Errorf("pinned consolidation_count = %d, want 0", got.ConsolidationCount)
	}
}

func TestConsolidateArchivesCollapsed(t *testing.T) {
	e := testEngine(t)
	m := addMemory(t, e, "long forgotten", "opinion")

	// Two months in one pass drives effective strength under the archive
	// threshold.
	rep, err := Consolidate(e.DB, 60, e.Params)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if rep.Archived != 1 {
		t.Errorf("archived = %d, want 1", rep.Archived)
	}

	got, _ := e.Get(m.ID)
	if got.Layer != store.LayerArchive {
		t.Errorf("layer = %q, want archive", got.Layer)
	}
}

func TestConsolidatePromotesAtThreshold(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	p := config.DefaultMemoryParams()
	p.PromoteThreshold = 0.05 // low enough for one pass to cross
	e := New(db, p)

	m := addMemory(t, e, "promoted quickly", "emotional")

	rep, err := Consolidate(db, 1, p)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if rep.Promoted != 1 {
		t.Errorf("promoted = %d, want 1", rep.Promoted)
	}

	got, _ := e.Get(m.ID)
	if got.Layer != store.LayerCore {
		t.Errorf("layer = %q, want core", got.Layer)
	}

	// No demotion back to working on later passes.
	if _, err := Consolidate(db, 1, p); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	got, _ = e.Get(m.ID)
	if got.Layer == store.LayerWorking {
		t.Error("core memory must not demote back to working")
	}
}

func TestConsolidateReplaysOldestArchive(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	p := config.DefaultMemoryParams()
	p.InterleaveRatio = 0.5
	e := New(db, p)

	first := addMemory(t, e, "oldest archived", "factual")
	second := addMemory(t, e, "newer archived", "factual")
	db.UpdateLayer(first.ID, store.LayerArchive)
	db.UpdateLayer(second.ID, store.LayerArchive)
	db.UpdateStrengths(first.ID, 0.01, 0.01)
	db.UpdateStrengths(second.ID, 0.01, 0.01)
	// Force distinct ages; both adds land in the same millisecond otherwise.
	if _, err := db.Exec(`UPDATE memories SET created_at = created_at - 1000 WHERE id = ?`, first.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	rep, err := Consolidate(db, 1, p)
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	// ceil(0.5 * 2) = 1 replay target, oldest first.
	if rep.Replayed != 1 {
		t.Errorf("replayed = %d, want 1", rep.Replayed)
	}

	a, _ := db.GetMemory(first.ID)
	b, _ := db.GetMemory(second.ID)
	if a.CoreStrength <= b.CoreStrength {
		t.Errorf("oldest should have been replayed: first=%g second=%g", a.CoreStrength, b.CoreStrength)
	}
}

func TestConsolidateReplayRotatesArchive(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	p := config.DefaultMemoryParams()
	p.InterleaveRatio = 0.5 // one replay slot per pass, two-pass rotation
	e := New(db, p)

	first := addMemory(t, e, "replayed on the first pass", "factual")
	second := addMemory(t, e, "replayed on the second pass", "factual")
	for _, m := range []*store.Memory{first, second} {
		db.UpdateLayer(m.ID, store.LayerArchive)
		db.UpdateStrengths(m.ID, 0.01, 0.01)
	}
	if _, err := db.Exec(`UPDATE memories SET created_at = created_at - 1000 WHERE id = ?`, first.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	// The single slot must alternate: each entry boosted exactly once over
	// two passes instead of the oldest one soaking up both boosts.
	for pass := 0; pass < 2; pass++ {
		rep, err := Consolidate(db, 1, p)
		if err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		if rep.Replayed != 1 {
			t.Fatalf("pass %d: replayed = %d, want 1", pass, rep.Replayed)
		}
	}

	a, _ := db.GetMemory(first.ID)
	b, _ := db.GetMemory(second.ID)
	if a.LastReplayed == nil || b.LastReplayed == nil {
		t.Fatalf("both entries should have been replayed: first=%v second=%v", a.LastReplayed, b.LastReplayed)
	}
	if *a.LastReplayed >= *b.LastReplayed {
		t.Errorf("replay order inverted: first at pass %d, second at pass %d", *a.LastReplayed, *b.LastReplayed)
	}
}

func TestConsolidateReplayCooldown(t *testing.T) {
	e := testEngine(t)
	m := addMemory(t, e, "lone archive entry", "factual")
	e.DB.UpdateLayer(m.ID, store.LayerArchive)
	e.DB.UpdateStrengths(m.ID, 0.01, 0.01)

	rep, err := Consolidate(e.DB, 1, e.Params)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if rep.Replayed != 1 {
		t.Fatalf("first pass replayed = %d, want 1", rep.Replayed)
	}

	// A one-entry archive must not be boosted again until the rotation
	// window has passed.
	rep, err = Consolidate(e.DB, 1, e.Params)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if rep.Replayed != 0 {
		t.Errorf("second pass replayed = %d, want 0 within the cooldown", rep.Replayed)
	}
}

func TestConsolidateDecaysHebbianLinks(t *testing.T) {
	e := testEngine(t)
	a := addMemory(t, e, "left", "factual")
	b := addMemory(t, e, "right", "factual")

	e.DB.PutHebbianLink(store.HebbianLink{SourceID: a.ID, TargetID: b.ID, Strength: 0.8, CoactivationCount: 5})

	if _, err := Consolidate(e.DB, 1, e.Params); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	link, _ := e.DB.GetHebbianLink(a.ID, b.ID)
	if link.Strength >= 0.8 {
		t.Errorf("link strength = %g, want decayed below 0.8", link.Strength)
	}
}

func TestEngineConsolidateDownscales(t *testing.T) {
	e := testEngine(t)
	m := addMemory(t, e, "renormalized", "factual")

	// The facade pass decays and then downscales, so the working trace ends
	// up a factor below what the bare pass would leave.
	if _, err := e.Consolidate(1); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	got, _ := e.Get(m.ID)
	want := math.Exp(-e.Params.Mu1) * e.Params.DownscaleFactor
	if math.Abs(got.WorkingStrength-want) > 1e-9 {
		t.Errorf("working = %g, want %g", got.WorkingStrength, want)
	}
}

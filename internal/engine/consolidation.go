package engine

import (
	"math"
	"time"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/store"
)

// consolidateChunk bounds how many rows a single pass loads at once.
const consolidateChunk = 500

// Report summarizes one consolidation pass.
type Report struct {
	Processed   int `json:"processed"`
	Promoted    int `json:"promoted"`
	Archived    int `json:"archived"`
	Replayed    int `json:"replayed"`
	LinksPruned int `json:"links_pruned"`
}

// Consolidate advances the dual-trace model by dtDays. Per non-pinned entry:
// the working trace decays fast, part of it transfers into the slow core
// trace (scaled by importance, the salience signal), and the core trace
// decays slowly. Afterwards a rotating slice of the archive is replayed, the
// layers are rebalanced, and the association graph decays.
//
// dtDays < 0 is a ValidationError; dtDays == 0 and an empty store are no-ops.
func Consolidate(db *store.DB, dtDays float64, p config.MemoryParams) (Report, error) {
	var rep Report
	if dtDays < 0 {
		return rep, validationErr("dtDays", "must be non-negative, got %g", dtDays)
	}
	if dtDays == 0 {
		return rep, nil
	}

	now := time.Now().UnixMilli()
	workingDecay := math.Exp(-p.Mu1 * dtDays)
	coreDecay := math.Exp(-p.Mu2 * dtDays)

	for offset := 0; ; offset += consolidateChunk {
		memories, err := db.ListMemories(consolidateChunk, offset)
		if err != nil {
			return rep, err
		}
		if len(memories) == 0 {
			break
		}

		for i := range memories {
			m := &memories[i]
			if m.Pinned {
				continue
			}

			working := m.WorkingStrength * workingDecay
			// Hippocampal-to-cortical transfer, modulated by salience so
			// important memories out-survive trivia over repeated cycles.
			core := m.CoreStrength + p.Alpha*working*dtDays*(0.5+m.Importance)
			core *= coreDecay

			if err := db.UpdateStrengths(m.ID, working, core); err != nil {
				return rep, err
			}
			if err := db.MarkConsolidated(m.ID, now); err != nil {
				return rep, err
			}

			m.WorkingStrength = working
			m.CoreStrength = core
			if err := rebalance(db, m, p, &rep); err != nil {
				return rep, err
			}
			rep.Processed++
		}

		if len(memories) < consolidateChunk {
			break
		}
	}

	if err := replayArchive(db, p, &rep); err != nil {
		return rep, err
	}

	pruned, err := db.DecayHebbianLinks(p.HebbianDecay, p.HebbianPruneEps)
	if err != nil {
		return rep, err
	}
	rep.LinksPruned = pruned

	return rep, nil
}

// rebalance moves a memory between layers after its strengths changed.
// Working entries promote to core once the core trace is established;
// anything whose combined strength collapses falls to the archive. There is
// no demotion from core back to working.
func rebalance(db *store.DB, m *store.Memory, p config.MemoryParams, rep *Report) error {
	if EffectiveStrength(m) < p.ArchiveThreshold {
		if m.Layer != store.LayerArchive {
			if err := db.UpdateLayer(m.ID, store.LayerArchive); err != nil {
				return err
			}
			m.Layer = store.LayerArchive
			rep.Archived++
		}
		return nil
	}
	if m.Layer == store.LayerWorking && m.CoreStrength >= p.PromoteThreshold {
		if err := db.UpdateLayer(m.ID, store.LayerCore); err != nil {
			return err
		}
		m.Layer = store.LayerCore
		rep.Promoted++
	}
	return nil
}

// replayArchive interleaves archived memories back through the core trace: a
// fraction of the archive gets a small core boost each pass, scaled by
// importance so salient memories resurface ahead of trivia. Selection walks
// the archive least-recently-replayed first (never-replayed oldest first) and
// skips anything replayed within the last full rotation, so every entry gets
// one boost per rotation rather than a few entries getting all of them. The
// walk is deterministic across runs.
func replayArchive(db *store.DB, p config.MemoryParams, rep *Report) error {
	if p.InterleaveRatio <= 0 || p.ReplayBoost <= 0 {
		return nil
	}

	total, err := db.CountByLayer(store.LayerArchive)
	if err != nil {
		return err
	}
	n := int(math.Ceil(p.InterleaveRatio * float64(total)))
	if n == 0 {
		return nil
	}
	cooldown := int(math.Ceil(1 / p.InterleaveRatio))

	ids, err := db.ReplayCandidates(n, cooldown)
	if err != nil {
		return err
	}
	for _, id := range ids {
		m, err := db.GetMemory(id)
		if err != nil {
			return err
		}
		if m == nil {
			continue
		}
		boost := p.ReplayBoost * m.Importance
		if err := db.UpdateStrengths(m.ID, m.WorkingStrength, m.CoreStrength+boost); err != nil {
			return err
		}
		if err := db.MarkReplayed(m.ID); err != nil {
			return err
		}
		rep.Replayed++
	}
	return nil
}

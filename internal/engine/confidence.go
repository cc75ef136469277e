package engine

import (
	"math"
	"time"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/store"
)

// Confidence labels, from strongest to weakest.
const (
	LabelCertain   = "certain"
	LabelLikely    = "likely"
	LabelUncertain = "uncertain"
	LabelVague     = "vague"
)

// EffectiveStrength is the combined trace strength of a memory.
func EffectiveStrength(m *store.Memory) float64 {
	return m.WorkingStrength + m.CoreStrength
}

// Confidence scores how much a memory should be trusted right now, in [0,1].
// Monotone in effective strength, recency of last access, access count, and
// importance.
func Confidence(m *store.Memory, now time.Time, p config.MemoryParams) float64 {
	eff := EffectiveStrength(m)
	strengthFactor := eff / (eff + 0.5)

	lastTouch := m.CreatedAt
	if n := len(m.AccessTimes); n > 0 {
		lastTouch = m.AccessTimes[n-1]
	}
	days := now.Sub(time.UnixMilli(lastTouch)).Hours() / 24
	if days < 0 {
		days = 0
	}
	recencyFactor := math.Exp(-days / 30)

	accessFactor := math.Log(1+float64(len(m.AccessTimes))) / math.Log(11)
	if accessFactor > 1 {
		accessFactor = 1
	}

	c := 0.4*strengthFactor + 0.25*recencyFactor + 0.2*accessFactor + 0.15*m.Importance
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// ConfidenceLabel maps a confidence score to a qualitative label.
func ConfidenceLabel(c float64, p config.MemoryParams) string {
	switch {
	case c >= p.CertainAbove:
		return LabelCertain
	case c >= p.LikelyAbove:
		return LabelLikely
	case c >= p.UncertainAbove:
		return LabelUncertain
	default:
		return LabelVague
	}
}

// ShouldForget reports whether a memory has decayed below the forgetting
// threshold. Pinned memories are never forgotten.
func ShouldForget(m *store.Memory, threshold float64) bool {
	if m.Pinned {
		return false
	}
	return EffectiveStrength(m) < threshold
}

// PruneForgotten demotes every memory below the threshold to the archive
// layer. Nothing is deleted: archived entries stay reachable and can return
// to relevance through replay. Returns the number archived.
func PruneForgotten(db *store.DB, threshold float64) (int, error) {
	const chunk = 500

	archived := 0
	for offset := 0; ; offset += chunk {
		memories, err := db.ListMemories(chunk, offset)
		if err != nil {
			return archived, err
		}
		if len(memories) == 0 {
			break
		}
		for i := range memories {
			m := &memories[i]
			if m.Layer == store.LayerArchive || !ShouldForget(m, threshold) {
				continue
			}
			if err := db.UpdateLayer(m.ID, store.LayerArchive); err != nil {
				return archived, err
			}
			archived++
		}
		if len(memories) < chunk {
			break
		}
	}
	return archived, nil
}

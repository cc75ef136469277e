package engine

import (
	"github.com/engramdb/engram/internal/store"
)

// DownscaleStats reports the effect of one global downscaling pass.
type DownscaleStats struct {
	Scaled      int     `json:"scaled"`
	TotalBefore float64 `json:"total_before"`
	TotalAfter  float64 `json:"total_after"`
}

// Downscale multiplies both trace strengths of every non-pinned memory by
// factor. This is the synaptic renormalization step of the sleep cycle: it
// keeps total strength bounded while preserving relative order, so the
// strong stay strong and the weak drift toward the forgetting threshold.
func Downscale(db *store.DB, factor float64) (DownscaleStats, error) {
	var stats DownscaleStats
	if factor < 0 || factor > 1 {
		return stats, validationErr("factor", "must be in [0,1], got %g", factor)
	}

	before, err := db.TotalStrength()
	if err != nil {
		return stats, err
	}
	stats.TotalBefore = before

	n, err := db.ScaleStrengths(factor)
	if err != nil {
		return stats, err
	}
	stats.Scaled = n

	after, err := db.TotalStrength()
	if err != nil {
		return stats, err
	}
	stats.TotalAfter = after
	return stats, nil
}

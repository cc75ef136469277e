package engine

import (
	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/store"
)

// RecordCoactivation registers that a set of memories was retrieved
// together. Every unordered pair in the batch gets its coactivation count
// bumped; once a pair crosses the threshold the link materializes at the
// initial strength, and after that each coactivation reinforces it with
// saturating growth toward 1. Self-pairs and duplicate ids are ignored.
func RecordCoactivation(db *store.DB, ids []string, p config.MemoryParams) error {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		uniq = append(uniq, id)
	}
	if len(uniq) < 2 {
		return nil
	}

	for i := 0; i < len(uniq); i++ {
		for j := i + 1; j < len(uniq); j++ {
			if err := coactivatePair(db, uniq[i], uniq[j], p); err != nil {
				return err
			}
		}
	}
	return nil
}

func coactivatePair(db *store.DB, a, b string, p config.MemoryParams) error {
	link, err := db.GetHebbianLink(a, b)
	if err != nil {
		return err
	}
	if link == nil {
		src, dst := store.OrderPair(a, b)
		link = &store.HebbianLink{SourceID: src, TargetID: dst}
	}

	link.CoactivationCount++
	switch {
	case link.Strength > 0:
		// Saturating reinforcement: growth slows as the link approaches 1.
		link.Strength += p.HebbianRate * (1 - link.Strength)
		if link.Strength > 1 {
			link.Strength = 1
		}
	case link.CoactivationCount >= p.HebbianThreshold:
		link.Strength = p.HebbianInitial
	}

	return db.PutHebbianLink(*link)
}

// Neighbors returns the materialized associations of a memory, strongest
// first.
func Neighbors(db *store.DB, id string) ([]store.HebbianLink, error) {
	return db.HebbianNeighbors(id)
}

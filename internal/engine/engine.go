package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/store"
)

// Engine owns the retention model: it is the only place where memories are
// created, scored, consolidated, rewarded, and forgotten. The HTTP and CLI
// surfaces are thin adapters over it.
type Engine struct {
	DB       *store.DB
	Embedder Embedder
	Params   config.MemoryParams
	Tracker  *Tracker
	stopCh   chan struct{}
}

// New creates an Engine over an open store.
func New(db *store.DB, params config.MemoryParams) *Engine {
	return &Engine{
		DB:      db,
		Params:  params,
		Tracker: NewTracker(),
		stopCh:  make(chan struct{}),
	}
}

// SetEmbedder configures the embedding provider.
func (e *Engine) SetEmbedder(emb Embedder) {
	e.Embedder = emb
}

// AddOpts describes a memory to store. Importance is optional; when nil the
// category default applies. Entities are caller-supplied tags, not extracted.
type AddOpts struct {
	Content     string
	Category    string
	Importance  *float64
	Pinned      bool
	Source      string
	Entities    []string
	Contradicts string
}

// Add validates and stores a new memory. The entry starts in the working
// layer at full working strength, gets an initial access record (a memory
// that was never touched would otherwise be unretrievable), is tagged with
// its entities, cross-linked to the entry it contradicts, and embedded if an
// embedder is configured.
func (e *Engine) Add(ctx context.Context, opts AddOpts) (*store.Memory, error) {
	if strings.TrimSpace(opts.Content) == "" {
		return nil, validationErr("content", "must not be empty")
	}
	if !store.ValidCategory(opts.Category) {
		return nil, validationErr("category", "unknown category %q", opts.Category)
	}

	importance := store.DefaultImportance(opts.Category)
	if opts.Importance != nil {
		// Out-of-range importance is clamped, not rejected.
		importance = clamp01(*opts.Importance)
	}

	m := &store.Memory{
		ID:         uuid.NewString(),
		Content:    opts.Content,
		Category:   opts.Category,
		Importance: importance,
		Pinned:     opts.Pinned,
		Source:     opts.Source,
	}

	if opts.Contradicts != "" {
		old, err := e.DB.GetMemory(opts.Contradicts)
		if err != nil {
			return nil, err
		}
		if old == nil {
			return nil, fmt.Errorf("contradicted memory %s: %w", opts.Contradicts, store.ErrNotFound)
		}
	}

	if err := e.DB.CreateMemory(m); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	if err := e.DB.RecordAccess(m.ID, now); err != nil {
		return nil, err
	}
	m.AccessTimes = []int64{now}

	if len(opts.Entities) > 0 {
		if err := e.DB.AddEntityLinks(m.ID, opts.Entities, ""); err != nil {
			return nil, err
		}
	}

	if opts.Contradicts != "" {
		if err := e.DB.SetContradiction(opts.Contradicts, m.ID); err != nil {
			return nil, err
		}
		m.Contradicts = opts.Contradicts
	}

	if e.Embedder != nil {
		if vec, err := e.Embedder.Embed(ctx, m.Content); err != nil {
			log.Printf("embed memory %s: %v", m.ID, err)
		} else if err := e.DB.SaveVector(m.ID, vec, e.Embedder.Model()); err != nil {
			log.Printf("save vector %s: %v", m.ID, err)
		}
	}

	e.Tracker.RecordAdd()
	return m, nil
}

// Recall runs hybrid retrieval over the store.
func (e *Engine) Recall(ctx context.Context, query string, opts RecallOpts) ([]RecallResult, error) {
	results, err := Recall(ctx, e.DB, e.Embedder, query, opts, e.Params)
	if err != nil {
		return nil, err
	}
	e.Tracker.RecordRecall(len(results))
	return results, nil
}

// Get returns one memory with its access history loaded, or ErrNotFound.
func (e *Engine) Get(id string) (*store.Memory, error) {
	m, err := e.DB.GetMemory(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, store.ErrNotFound
	}
	times, err := e.DB.AccessTimes(id)
	if err != nil {
		return nil, err
	}
	m.AccessTimes = times
	return m, nil
}

// Consolidate advances the retention model by the given number of days and
// then renormalizes total strength with the configured downscale factor.
func (e *Engine) Consolidate(days float64) (Report, error) {
	rep, err := Consolidate(e.DB, days, e.Params)
	if err != nil {
		return rep, err
	}
	if days > 0 {
		if _, err := Downscale(e.DB, e.Params.DownscaleFactor); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// Forget deletes a memory outright. Forgetting an id that is already gone
// is a no-op, so callers can retry safely.
func (e *Engine) Forget(id string) error {
	err := e.DB.DeleteMemory(id)
	if err == store.ErrNotFound {
		return nil
	}
	return err
}

// PruneWeak archives every memory whose effective strength fell below the
// threshold. Pinned memories are exempt.
func (e *Engine) PruneWeak(threshold float64) (int, error) {
	return PruneForgotten(e.DB, threshold)
}

// Reward applies outcome feedback to the most recently retrieved memories.
func (e *Engine) Reward(feedback string) (RewardReport, error) {
	return ApplyReward(e.DB, feedback, e.Params)
}

// Downscale renormalizes all non-pinned strengths by factor.
func (e *Engine) Downscale(factor float64) (DownscaleStats, error) {
	return Downscale(e.DB, factor)
}

// Pin freezes a memory against consolidation, forgetting, downscaling, and
// reward. Returns store.ErrNotFound for unknown ids.
func (e *Engine) Pin(id string) error {
	return e.DB.SetPinned(id, true)
}

// Unpin releases a pinned memory back into the retention model.
func (e *Engine) Unpin(id string) error {
	return e.DB.SetPinned(id, false)
}

// Supersede stores a correction: a new memory that contradicts the old one.
// The old entry stays in place, marked contradicted, so recall can surface
// the correction chain instead of silently rewriting history.
func (e *Engine) Supersede(ctx context.Context, id, newContent, reason string) (*store.Memory, error) {
	old, err := e.DB.GetMemory(id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, store.ErrNotFound
	}

	source := "correction"
	if reason != "" {
		source = "correction: " + reason
	}
	return e.Add(ctx, AddOpts{
		Content:     newContent,
		Category:    old.Category,
		Importance:  &old.Importance,
		Source:      source,
		Contradicts: id,
	})
}

// HebbianLinks returns the learned associations of a memory.
func (e *Engine) HebbianLinks(id string) ([]store.HebbianLink, error) {
	m, err := e.DB.GetMemory(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, store.ErrNotFound
	}
	return Neighbors(e.DB, id)
}

// Stats describes the current shape of the store.
type Stats struct {
	Total       int            `json:"total"`
	ByCategory  map[string]int `json:"by_category"`
	ByLayer     map[string]int `json:"by_layer"`
	Pinned      int            `json:"pinned"`
	AvgWorking  float64        `json:"avg_working_strength"`
	AvgCore     float64        `json:"avg_core_strength"`
	Links       int            `json:"hebbian_links"`
	Usage       TrackerStats   `json:"usage"`
}

// Stats reports store totals plus this engine's usage counters.
func (e *Engine) Stats() (Stats, error) {
	var s Stats
	var err error

	if s.Total, err = e.DB.CountMemories(); err != nil {
		return s, err
	}
	if s.ByCategory, err = e.DB.CountByCategory(); err != nil {
		return s, err
	}
	s.ByLayer = make(map[string]int)
	for _, layer := range []string{store.LayerWorking, store.LayerCore, store.LayerArchive} {
		n, err := e.DB.CountByLayer(layer)
		if err != nil {
			return s, err
		}
		s.ByLayer[layer] = n
	}
	if s.Pinned, err = e.DB.CountPinned(); err != nil {
		return s, err
	}
	if s.AvgWorking, s.AvgCore, err = e.DB.AvgStrengths(); err != nil {
		return s, err
	}
	if s.Links, err = e.DB.CountHebbianLinks(); err != nil {
		return s, err
	}
	s.Usage = e.Tracker.Snapshot()
	return s, nil
}

// StartConsolidationTimer runs one consolidation pass at startup and then
// one per day, advancing the model by a day each time.
func (e *Engine) StartConsolidationTimer() {
	run := func() {
		if rep, err := e.Consolidate(1); err != nil {
			log.Printf("consolidation error: %v", err)
		} else if rep.Processed > 0 {
			log.Printf("consolidation: %d processed, %d promoted, %d archived, %d replayed",
				rep.Processed, rep.Promoted, rep.Archived, rep.Replayed)
		}
	}

	run()

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				run()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	close(e.stopCh)
}

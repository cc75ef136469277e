package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/store"
)

// RecallOpts controls recall behavior.
type RecallOpts struct {
	Limit           int      // max results (default 10)
	Categories      []string // filter by category (empty = all)
	Layers          []string // filter by layer (empty = all)
	Since           int64    // created_at lower bound, unix ms (0 = unbounded)
	Until           int64    // created_at upper bound, unix ms (0 = unbounded)
	ContextKeywords []string // spreading-activation context
	MinConfidence   float64  // drop results below this confidence
	NoExpand        bool     // skip graph expansion
	NoTouch         bool     // skip access recording and coactivation learning
}

func (o RecallOpts) limit() int {
	if o.Limit <= 0 {
		return 10
	}
	return o.Limit
}

// RecallResult is one ranked recall hit with its scoring provenance.
type RecallResult struct {
	Memory       store.Memory `json:"memory"`
	Score        float64      `json:"score"`
	Activation   float64      `json:"activation"`
	Confidence   float64      `json:"confidence"`
	Label        string       `json:"label"`
	Similarity   float64      `json:"similarity"`
	Lexical      bool         `json:"lexical"`
	Contradicted bool         `json:"contradicted"`
}

// temporalCues are query words that signal the caller wants "what happened
// when", which shifts ranking weight from semantic similarity toward the
// time-sensitive activation model.
var temporalCues = map[string]bool{
	"yesterday": true, "today": true, "tonight": true, "now": true,
	"recently": true, "recent": true, "latest": true, "lately": true,
	"last": true, "ago": true, "earlier": true, "before": true,
	"previous": true, "previously": true, "currently": true, "just": true,
	"morning": true, "afternoon": true, "evening": true,
	"week": true, "month": true, "year": true,
}

// temporalAlpha picks the similarity weight for a query based on how many
// temporal cue words it carries.
func temporalAlpha(query string, b config.BlendPolicy) float64 {
	n := 0
	for _, w := range splitWords(query) {
		if temporalCues[w] {
			n++
		}
	}
	switch {
	case n >= 2:
		return b.TemporalAlpha
	case n == 1:
		return b.ModerateAlpha
	default:
		return b.SemanticAlpha
	}
}

// candidate accumulates per-memory evidence before scoring.
type candidate struct {
	lexicalRel float64 // normalized lexical relevance, 0 when not an FTS hit
	lexical    bool
	similarity float64
	graphBoost float64
}

// Recall runs the hybrid retrieval pipeline: lexical and vector candidate
// generation with a full-scan fallback, structural filtering, one-hop graph
// expansion, activation-based scoring blended with similarity, and ranking.
//
// Retrieval changes the store: returned memories get an access record, and
// the returned set is submitted as one coactivation batch so that memories
// recalled together grow associated. Set NoTouch to suppress both.
func Recall(ctx context.Context, db *store.DB, embedder Embedder, query string, opts RecallOpts, p config.MemoryParams) ([]RecallResult, error) {
	cands := make(map[string]*candidate)

	hits, err := db.SearchFTS(query, p.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("lexical candidates: %w", err)
	}
	for _, h := range hits {
		c := getCandidate(cands, h.ID)
		c.lexical = true
		// bm25 rank is negative, better matches more so. Map to [0,1).
		r := -h.Rank
		if r > 0 {
			c.lexicalRel = r / (1 + r)
		}
	}

	var queryVec []float64
	vecByID := make(map[string][]float64)
	if embedder != nil {
		queryVec, err = embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		records, err := db.AllVectors()
		if err != nil {
			return nil, fmt.Errorf("vector candidates: %w", err)
		}
		type simHit struct {
			id  string
			sim float64
		}
		var sims []simHit
		for _, v := range records {
			vecByID[v.MemoryID] = v.Embedding
			if sim := CosineSimilarity(queryVec, v.Embedding); sim > 0 {
				sims = append(sims, simHit{v.MemoryID, sim})
			}
		}
		sort.Slice(sims, func(i, j int) bool { return sims[i].sim > sims[j].sim })
		if len(sims) > p.CandidateLimit {
			sims = sims[:p.CandidateLimit]
		}
		for _, s := range sims {
			getCandidate(cands, s.id).similarity = s.sim
		}
	}

	// Neither index produced anything: fall back to scanning the store so
	// that activation alone can still surface an answer.
	if len(cands) == 0 {
		if err := fullScan(db, cands); err != nil {
			return nil, err
		}
	}

	memories, err := fetchFiltered(db, keys(cands), opts)
	if err != nil {
		return nil, err
	}

	if !opts.NoExpand {
		memories, err = expand(db, memories, cands, opts, p)
		if err != nil {
			return nil, err
		}
	}

	if err := db.LoadAccessTimes(memories); err != nil {
		return nil, fmt.Errorf("load access times: %w", err)
	}

	now := time.Now()
	alpha := temporalAlpha(query, p.Blend)
	blending := embedder != nil

	type scored struct {
		act float64
		ok  bool
	}
	acts := make([]scored, len(memories))
	minAct, maxAct := 0.0, 0.0
	first := true
	for i := range memories {
		act, ok := Activation(&memories[i], opts.ContextKeywords, now, p)
		acts[i] = scored{act, ok}
		if !ok {
			continue
		}
		if first || act < minAct {
			minAct = act
		}
		if first || act > maxAct {
			maxAct = act
		}
		first = false
	}

	var results []RecallResult
	for i := range memories {
		m := &memories[i]
		if !acts[i].ok {
			continue // unretrievable: excluded, not an error
		}
		c := cands[m.ID]
		if c == nil {
			continue
		}

		if blending {
			if vec, ok := vecByID[m.ID]; ok && c.similarity == 0 {
				c.similarity = CosineSimilarity(queryVec, vec)
			}
		}

		base := acts[i].act
		if blending {
			base = alpha*c.similarity + (1-alpha)*normalizeAct(acts[i].act, minAct, maxAct)
		}

		score := base + 0.5*c.lexicalRel + c.graphBoost
		if m.Pinned {
			score += p.PinnedBoost
		}
		if m.Importance >= p.ImportanceCutoff {
			score += p.ImportanceExtra
		}

		conf := Confidence(m, now, p)
		if conf < opts.MinConfidence {
			continue
		}

		results = append(results, RecallResult{
			Memory:       *m,
			Score:        score,
			Activation:   acts[i].act,
			Confidence:   conf,
			Label:        ConfidenceLabel(conf, p),
			Similarity:   c.similarity,
			Lexical:      c.lexical,
			Contradicted: m.ContradictedBy != "",
		})
	}

	// Pinned entries rank above everything else regardless of score.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Memory.Pinned != results[j].Memory.Pinned {
			return results[i].Memory.Pinned
		}
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.CreatedAt > results[j].Memory.CreatedAt
	})

	limit := opts.limit()
	if len(results) > limit {
		results = results[:limit]
	}

	if !opts.NoTouch && len(results) > 0 {
		at := now.UnixMilli()
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.Memory.ID
			if err := db.RecordAccess(r.Memory.ID, at); err != nil {
				return nil, fmt.Errorf("record access: %w", err)
			}
		}
		if err := RecordCoactivation(db, ids, p); err != nil {
			return nil, fmt.Errorf("record coactivation: %w", err)
		}
	}

	return results, nil
}

func getCandidate(cands map[string]*candidate, id string) *candidate {
	c, ok := cands[id]
	if !ok {
		c = &candidate{}
		cands[id] = c
	}
	return c
}

func keys(cands map[string]*candidate) []string {
	out := make([]string, 0, len(cands))
	for id := range cands {
		out = append(out, id)
	}
	return out
}

func fullScan(db *store.DB, cands map[string]*candidate) error {
	const chunk = 500
	for offset := 0; ; offset += chunk {
		memories, err := db.ListMemories(chunk, offset)
		if err != nil {
			return fmt.Errorf("full scan: %w", err)
		}
		for _, m := range memories {
			getCandidate(cands, m.ID)
		}
		if len(memories) < chunk {
			break
		}
	}
	return nil
}

// fetchFiltered loads candidate memories and applies the structural filters.
func fetchFiltered(db *store.DB, ids []string, opts RecallOpts) ([]store.Memory, error) {
	memories, err := db.GetMemoriesByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}

	out := memories[:0]
	for _, m := range memories {
		if passesFilters(&m, opts) {
			out = append(out, m)
		}
	}
	return out, nil
}

func passesFilters(m *store.Memory, opts RecallOpts) bool {
	if len(opts.Categories) > 0 && !contains(opts.Categories, m.Category) {
		return false
	}
	if len(opts.Layers) > 0 && !contains(opts.Layers, m.Layer) {
		return false
	}
	if opts.Since > 0 && m.CreatedAt < opts.Since {
		return false
	}
	if opts.Until > 0 && m.CreatedAt > opts.Until {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// expand pulls in one-hop neighbors of the current candidates: memories that
// share an entity tag, and Hebbian-associated memories. Each connection adds
// spreading boost proportional to the link strength, capped so a densely
// linked hub cannot swamp the direct evidence. Filters apply to the expanded
// set again, since neighbors arrive unfiltered.
func expand(db *store.DB, seeds []store.Memory, cands map[string]*candidate, opts RecallOpts, p config.MemoryParams) ([]store.Memory, error) {
	added := make(map[string]bool)

	for i := range seeds {
		id := seeds[i].ID

		entityIDs, err := db.SharedEntityNeighbors(id)
		if err != nil {
			return nil, fmt.Errorf("entity expansion: %w", err)
		}
		for _, nid := range entityIDs {
			c := getCandidate(cands, nid)
			c.graphBoost = capBoost(c.graphBoost+0.5, p.HebbianBoostCap)
			added[nid] = true
		}

		links, err := db.HebbianNeighbors(id)
		if err != nil {
			return nil, fmt.Errorf("hebbian expansion: %w", err)
		}
		for _, l := range links {
			nid := l.SourceID
			if nid == id {
				nid = l.TargetID
			}
			c := getCandidate(cands, nid)
			c.graphBoost = capBoost(c.graphBoost+0.5*l.Strength, p.HebbianBoostCap)
			added[nid] = true
		}
	}

	inSet := make(map[string]bool, len(seeds))
	for i := range seeds {
		inSet[seeds[i].ID] = true
	}
	var newIDs []string
	for nid := range added {
		if !inSet[nid] {
			newIDs = append(newIDs, nid)
		}
	}
	if len(newIDs) == 0 {
		return seeds, nil
	}

	neighbors, err := fetchFiltered(db, newIDs, opts)
	if err != nil {
		return nil, err
	}
	return append(seeds, neighbors...), nil
}

func capBoost(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

func normalizeAct(act, min, max float64) float64 {
	if max <= min {
		return 1
	}
	return (act - min) / (max - min)
}

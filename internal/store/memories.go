package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Memory layers. Every entry starts in working and moves down (never back up
// to working) as consolidation rebalances the store.
const (
	LayerWorking = "working"
	LayerCore    = "core"
	LayerArchive = "archive"
)

// categoryImportance maps each category to its default importance,
// applied when the caller does not supply one.
var categoryImportance = map[string]float64{
	"factual":    0.5,
	"episodic":   0.4,
	"relational": 0.6,
	"emotional":  0.8,
	"procedural": 0.7,
	"opinion":    0.3,
}

// ValidCategory reports whether category is one of the known tags.
func ValidCategory(category string) bool {
	_, ok := categoryImportance[category]
	return ok
}

// Categories returns the known category tags.
func Categories() []string {
	out := make([]string, 0, len(categoryImportance))
	for c := range categoryImportance {
		out = append(out, c)
	}
	return out
}

// DefaultImportance returns the default importance for a category.
func DefaultImportance(category string) float64 {
	if v, ok := categoryImportance[category]; ok {
		return v
	}
	return 0.5
}

// Memory is one entry in the memories table. AccessTimes is loaded on
// demand from access_log, not by the row scanners. LastReplayed holds the
// consolidation pass number of the entry's most recent archive replay.
type Memory struct {
	ID                 string  `json:"id"`
	Content            string  `json:"content"`
	Category           string  `json:"category"`
	Layer              string  `json:"layer"`
	WorkingStrength    float64 `json:"working_strength"`
	CoreStrength       float64 `json:"core_strength"`
	Importance         float64 `json:"importance"`
	Pinned             bool    `json:"pinned"`
	ConsolidationCount int     `json:"consolidation_count"`
	LastConsolidated   *int64  `json:"last_consolidated,omitempty"`
	LastReplayed       *int64  `json:"last_replayed,omitempty"`
	Contradicts        string  `json:"contradicts,omitempty"`
	ContradictedBy     string  `json:"contradicted_by,omitempty"`
	Source             string  `json:"source,omitempty"`
	CreatedAt          int64   `json:"created_at"`

	AccessTimes []int64 `json:"access_times,omitempty"`
}

const memoryColumns = `id, content, category, layer, working_strength, core_strength,
	importance, pinned, consolidation_count, last_consolidated, last_replayed,
	contradicts, contradicted_by, source, created_at`

// CreateMemory inserts a new memory. Layer, strengths, and created_at are
// initialized here; the caller supplies id, content, category, importance.
func (db *DB) CreateMemory(m *Memory) error {
	now := time.Now().UnixMilli()
	if m.Layer == "" {
		m.Layer = LayerWorking
	}
	m.WorkingStrength = 1.0
	m.CoreStrength = 0.0
	m.CreatedAt = now

	pinned := 0
	if m.Pinned {
		pinned = 1
	}

	_, err := db.Exec(`
		INSERT INTO memories (id, content, category, layer, working_strength, core_strength,
			importance, pinned, consolidation_count, last_consolidated, last_replayed,
			contradicts, contradicted_by, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, NULL, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?)
	`, m.ID, m.Content, m.Category, m.Layer, m.WorkingStrength, m.CoreStrength,
		m.Importance, pinned, m.Contradicts, m.ContradictedBy, m.Source, now)
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

// GetMemory returns a memory by id, or nil if not found.
func (db *DB) GetMemory(id string) (*Memory, error) {
	row := db.QueryRow(`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// DeleteMemory removes a memory. Access log, links, and vectors cascade.
// Returns ErrNotFound if the id does not exist.
func (db *DB) DeleteMemory(id string) error {
	result, err := db.Exec("DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStrengths persists new trace strengths for a memory.
func (db *DB) UpdateStrengths(id string, working, core float64) error {
	_, err := db.Exec(`UPDATE memories SET working_strength = ?, core_strength = ? WHERE id = ?`,
		working, core, id)
	if err != nil {
		return fmt.Errorf("update strengths: %w", err)
	}
	return nil
}

// UpdateLayer moves a memory to a different layer.
func (db *DB) UpdateLayer(id, layer string) error {
	_, err := db.Exec(`UPDATE memories SET layer = ? WHERE id = ?`, layer, id)
	if err != nil {
		return fmt.Errorf("update layer: %w", err)
	}
	return nil
}

// UpdateImportance persists a new importance value.
func (db *DB) UpdateImportance(id string, importance float64) error {
	_, err := db.Exec(`UPDATE memories SET importance = ? WHERE id = ?`, importance, id)
	if err != nil {
		return fmt.Errorf("update importance: %w", err)
	}
	return nil
}

// MarkConsolidated increments the consolidation counter and stamps the pass.
func (db *DB) MarkConsolidated(id string, at int64) error {
	_, err := db.Exec(`
		UPDATE memories SET consolidation_count = consolidation_count + 1, last_consolidated = ?
		WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("mark consolidated: %w", err)
	}
	return nil
}

// SetPinned pins or unpins a memory. Returns ErrNotFound for unknown ids.
func (db *DB) SetPinned(id string, pinned bool) error {
	v := 0
	if pinned {
		v = 1
	}
	result, err := db.Exec(`UPDATE memories SET pinned = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("set pinned: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetContradiction cross-links a correction: newID contradicts oldID, and
// oldID records being contradicted by newID.
func (db *DB) SetContradiction(oldID, newID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin contradiction: %w", err)
	}
	if _, err := tx.Exec(`UPDATE memories SET contradicted_by = ? WHERE id = ?`, newID, oldID); err != nil {
		tx.Rollback()
		return fmt.Errorf("set contradicted_by: %w", err)
	}
	if _, err := tx.Exec(`UPDATE memories SET contradicts = ? WHERE id = ?`, oldID, newID); err != nil {
		tx.Rollback()
		return fmt.Errorf("set contradicts: %w", err)
	}
	return tx.Commit()
}

// RecordAccess appends a retrieval event to the access log.
func (db *DB) RecordAccess(id string, at int64) error {
	_, err := db.Exec(`INSERT INTO access_log (memory_id, accessed_at) VALUES (?, ?)`, id, at)
	if err != nil {
		return fmt.Errorf("record access: %w", err)
	}
	return nil
}

// AccessTimes returns the access history for one memory, oldest first.
func (db *DB) AccessTimes(id string) ([]int64, error) {
	rows, err := db.Query(`SELECT accessed_at FROM access_log WHERE memory_id = ? ORDER BY accessed_at`, id)
	if err != nil {
		return nil, fmt.Errorf("access times: %w", err)
	}
	defer rows.Close()

	var times []int64
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan access time: %w", err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// LoadAccessTimes fills AccessTimes for a batch of memories in one query.
func (db *DB) LoadAccessTimes(memories []Memory) error {
	if len(memories) == 0 {
		return nil
	}

	idx := make(map[string]int, len(memories))
	args := make([]any, len(memories))
	ph := make([]string, len(memories))
	for i := range memories {
		idx[memories[i].ID] = i
		args[i] = memories[i].ID
		ph[i] = "?"
		memories[i].AccessTimes = nil
	}

	query := fmt.Sprintf(`
		SELECT memory_id, accessed_at FROM access_log
		WHERE memory_id IN (%s) ORDER BY accessed_at
	`, strings.Join(ph, ","))

	rows, err := db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("load access times: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var t int64
		if err := rows.Scan(&id, &t); err != nil {
			return fmt.Errorf("scan access time: %w", err)
		}
		if i, ok := idx[id]; ok {
			memories[i].AccessTimes = append(memories[i].AccessTimes, t)
		}
	}
	return rows.Err()
}

// RecentlyAccessed returns up to n distinct memories ordered by their most
// recent access, newest first.
func (db *DB) RecentlyAccessed(n int) ([]Memory, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := db.Query(`
		SELECT `+prefixed("m")+`
		FROM memories m
		JOIN (
			SELECT memory_id, MAX(accessed_at) AS last_at
			FROM access_log GROUP BY memory_id
		) a ON a.memory_id = m.id
		ORDER BY a.last_at DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("recently accessed: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// FTSHit is a lexical index match. Rank is the raw bm25 score (lower is
// better, always negative for a match).
type FTSHit struct {
	ID   string
	Rank float64
}

// SearchFTS runs a full-text query against the lexical index. The query is
// tokenized and each token quoted, so user input cannot inject FTS syntax.
func (db *DB) SearchFTS(query string, limit int) ([]FTSHit, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}
	rows, err := db.Query(`
		SELECT m.id, f.rank
		FROM memories_fts f
		JOIN memories m ON m.rowid = f.rowid
		WHERE memories_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.ID, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan fts hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsMatchExpr builds an OR-of-quoted-tokens match expression.
func ftsMatchExpr(query string) string {
	var tokens []string
	var current strings.Builder
	for _, r := range strings.ToLower(query) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				tokens = append(tokens, `"`+current.String()+`"`)
			}
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, `"`+current.String()+`"`)
	}
	return strings.Join(tokens, " OR ")
}

// ListMemories returns a page of memories ordered by rowid, for chunked
// passes over the whole store.
func (db *DB) ListMemories(limit, offset int) ([]Memory, error) {
	rows, err := db.Query(`SELECT `+memoryColumns+` FROM memories ORDER BY rowid LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetMemoriesByIDs returns memories for the given ids, in no particular order.
func (db *DB) GetMemoriesByIDs(ids []string) ([]Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	rows, err := db.Query(fmt.Sprintf(`SELECT %s FROM memories WHERE id IN (%s)`,
		memoryColumns, strings.Join(ph, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("get memories by ids: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ReplayCandidates returns up to n archived memory ids due for replay:
// never-replayed entries lead (oldest first), the rest follow in
// least-recently-replayed order. Entries replayed within the last cooldown
// consolidation passes are skipped, so successive passes rotate through the
// whole archive instead of re-selecting the same rows.
func (db *DB) ReplayCandidates(n, cooldown int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := db.Query(`
		SELECT id FROM memories
		WHERE layer = ? AND pinned = 0
		  AND (last_replayed IS NULL OR consolidation_count - last_replayed >= ?)
		ORDER BY COALESCE(last_replayed, -1), created_at, id LIMIT ?
	`, LayerArchive, cooldown, n)
	if err != nil {
		return nil, fmt.Errorf("replay candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan replay candidate: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkReplayed records the consolidation pass at which a memory was replayed.
func (db *DB) MarkReplayed(id string) error {
	_, err := db.Exec(`UPDATE memories SET last_replayed = consolidation_count WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark replayed: %w", err)
	}
	return nil
}

// CountMemories returns the total number of memories.
func (db *DB) CountMemories() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

// CountByLayer returns the number of non-deleted memories in a layer.
func (db *DB) CountByLayer(layer string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM memories WHERE layer = ?`, layer).Scan(&n)
	return n, err
}

// CountByCategory returns per-category totals.
func (db *DB) CountByCategory() (map[string]int, error) {
	rows, err := db.Query(`SELECT category, COUNT(*) FROM memories GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		out[cat] = n
	}
	return out, rows.Err()
}

// CountPinned returns the number of pinned memories.
func (db *DB) CountPinned() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM memories WHERE pinned = 1`).Scan(&n)
	return n, err
}

// AvgStrengths returns the mean working and core strength across the store.
// Both are zero for an empty store.
func (db *DB) AvgStrengths() (working, core float64, err error) {
	err = db.QueryRow(`
		SELECT COALESCE(AVG(working_strength), 0), COALESCE(AVG(core_strength), 0) FROM memories
	`).Scan(&working, &core)
	return working, core, err
}

// TotalStrength returns the sum of working+core strength over non-pinned
// memories, used by downscaling reports.
func (db *DB) TotalStrength() (float64, error) {
	var total float64
	err := db.QueryRow(`
		SELECT COALESCE(SUM(working_strength + core_strength), 0) FROM memories WHERE pinned = 0
	`).Scan(&total)
	return total, err
}

// ScaleStrengths multiplies both trace strengths of every non-pinned memory
// by factor, returning the number of rows touched.
func (db *DB) ScaleStrengths(factor float64) (int, error) {
	result, err := db.Exec(`
		UPDATE memories SET working_strength = working_strength * ?, core_strength = core_strength * ?
		WHERE pinned = 0
	`, factor, factor)
	if err != nil {
		return 0, fmt.Errorf("scale strengths: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func prefixed(alias string) string {
	cols := strings.Split(memoryColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryInto(s rowScanner, m *Memory) error {
	var pinned int
	var lastConsolidated, lastReplayed sql.NullInt64
	var contradicts, contradictedBy, source sql.NullString
	err := s.Scan(&m.ID, &m.Content, &m.Category, &m.Layer,
		&m.WorkingStrength, &m.CoreStrength, &m.Importance, &pinned,
		&m.ConsolidationCount, &lastConsolidated, &lastReplayed,
		&contradicts, &contradictedBy, &source, &m.CreatedAt)
	if err != nil {
		return err
	}
	m.Pinned = pinned != 0
	m.Contradicts = contradicts.String
	m.ContradictedBy = contradictedBy.String
	m.Source = source.String
	if lastConsolidated.Valid {
		m.LastConsolidated = &lastConsolidated.Int64
	}
	if lastReplayed.Valid {
		m.LastReplayed = &lastReplayed.Int64
	}
	return nil
}

func scanMemory(row *sql.Row) (*Memory, error) {
	var m Memory
	if err := scanMemoryInto(row, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var memories []Memory
	for rows.Next() {
		var m Memory
		if err := scanMemoryInto(rows, &m); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

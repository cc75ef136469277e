package store

import (
	"fmt"
	"strings"
)

// EntityLink tags a memory with a caller-supplied entity name and an
// optional relation label. No NLP happens here; the caller decides what
// counts as an entity.
type EntityLink struct {
	MemoryID string
	Entity   string
	Relation string
}

// AddEntityLinks tags a memory with entities. Duplicate tags are ignored.
func (db *DB) AddEntityLinks(memoryID string, entities []string, relation string) error {
	for _, e := range entities {
		e = strings.TrimSpace(strings.ToLower(e))
		if e == "" {
			continue
		}
		_, err := db.Exec(`
			INSERT OR IGNORE INTO graph_links (memory_id, entity, relation)
			VALUES (?, ?, NULLIF(?, ''))
		`, memoryID, e, relation)
		if err != nil {
			return fmt.Errorf("add entity link: %w", err)
		}
	}
	return nil
}

// EntitiesFor returns the entity tags on one memory.
func (db *DB) EntitiesFor(memoryID string) ([]string, error) {
	rows, err := db.Query(`SELECT entity FROM graph_links WHERE memory_id = ? ORDER BY entity`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("entities for: %w", err)
	}
	defer rows.Close()

	var entities []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// SharedEntityNeighbors returns ids of other memories that share at least
// one entity tag with the given memory.
func (db *DB) SharedEntityNeighbors(memoryID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT DISTINCT other.memory_id
		FROM graph_links own
		JOIN graph_links other ON other.entity = own.entity
		WHERE own.memory_id = ? AND other.memory_id != ?
	`, memoryID, memoryID)
	if err != nil {
		return nil, fmt.Errorf("shared entity neighbors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan neighbor id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

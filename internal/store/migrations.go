package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: dual-trace memory entries with FTS5 index",
		SQL: `
CREATE TABLE memories (
    id                  TEXT PRIMARY KEY,
    content             TEXT NOT NULL,
    category            TEXT NOT NULL CHECK (category IN ('factual', 'episodic', 'relational', 'emotional', 'procedural', 'opinion')),
    layer               TEXT NOT NULL DEFAULT 'working' CHECK (layer IN ('working', 'core', 'archive')),

    -- Dual-trace strengths
    working_strength    REAL NOT NULL DEFAULT 1.0,
    core_strength       REAL NOT NULL DEFAULT 0.0,
    importance          REAL NOT NULL DEFAULT 0.5,
    pinned              INTEGER NOT NULL DEFAULT 0,

    -- Consolidation bookkeeping
    consolidation_count INTEGER NOT NULL DEFAULT 0,
    last_consolidated   INTEGER,

    -- Correction chain
    contradicts         TEXT,
    contradicted_by     TEXT,

    source              TEXT,
    created_at          INTEGER NOT NULL
);

CREATE INDEX idx_memories_category ON memories(category);
CREATE INDEX idx_memories_layer    ON memories(layer);
CREATE INDEX idx_memories_created  ON memories(created_at DESC);

CREATE VIRTUAL TABLE memories_fts USING fts5(
    content,
    content='memories',
    content_rowid='rowid'
);

CREATE TRIGGER memories_fts_insert AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER memories_fts_delete AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER memories_fts_update AFTER UPDATE OF content ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;
`,
	},
	{
		Version:     2,
		Description: "access_log: append-only retrieval history per memory",
		SQL: `
CREATE TABLE access_log (
    id          INTEGER PRIMARY KEY,
    memory_id   TEXT NOT NULL,
    accessed_at INTEGER NOT NULL,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX idx_access_memory ON access_log(memory_id);
CREATE INDEX idx_access_time   ON access_log(accessed_at DESC);
`,
	},
	{
		Version:     3,
		Description: "graph_links: caller-supplied entity tags per memory",
		SQL: `
CREATE TABLE graph_links (
    id        INTEGER PRIMARY KEY,
    memory_id TEXT NOT NULL,
    entity    TEXT NOT NULL,
    relation  TEXT,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE,
    UNIQUE (memory_id, entity)
);

CREATE INDEX idx_graph_entity ON graph_links(entity);
`,
	},
	{
		Version:     4,
		Description: "hebbian_links: coactivation-learned associations between memories",
		SQL: `
CREATE TABLE hebbian_links (
    source_id          TEXT NOT NULL,
    target_id          TEXT NOT NULL,
    strength           REAL NOT NULL DEFAULT 0.0,
    coactivation_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (source_id, target_id),
    CHECK (source_id < target_id),
    FOREIGN KEY (source_id) REFERENCES memories(id) ON DELETE CASCADE,
    FOREIGN KEY (target_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX idx_hebbian_target ON hebbian_links(target_id);
`,
	},
	{
		Version:     5,
		Description: "memory_vectors: embedding vectors for semantic recall",
		SQL: `
CREATE TABLE memory_vectors (
    memory_id  TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     6,
		Description: "memories: replay rotation bookkeeping",
		SQL: `
-- Consolidation pass number at which the entry was last replayed, so replay
-- rotates through the archive instead of re-selecting the same rows.
ALTER TABLE memories ADD COLUMN last_replayed INTEGER;
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}

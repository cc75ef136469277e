package store

import (
	"database/sql"
	"fmt"
)

// HebbianLink is one learned association row. Rows are normalized so that
// SourceID < TargetID: one row per unordered pair. Strength stays 0 while
// the pair is still below the coactivation threshold.
type HebbianLink struct {
	SourceID          string
	TargetID          string
	Strength          float64
	CoactivationCount int
}

// OrderPair normalizes an id pair into row order.
func OrderPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// GetHebbianLink returns the link row for an unordered pair, or nil.
func (db *DB) GetHebbianLink(a, b string) (*HebbianLink, error) {
	src, dst := OrderPair(a, b)
	var l HebbianLink
	err := db.QueryRow(`
		SELECT source_id, target_id, strength, coactivation_count
		FROM hebbian_links WHERE source_id = ? AND target_id = ?
	`, src, dst).Scan(&l.SourceID, &l.TargetID, &l.Strength, &l.CoactivationCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get hebbian link: %w", err)
	}
	return &l, nil
}

// PutHebbianLink inserts or replaces a link row. The pair is normalized.
func (db *DB) PutHebbianLink(l HebbianLink) error {
	src, dst := OrderPair(l.SourceID, l.TargetID)
	_, err := db.Exec(`
		INSERT INTO hebbian_links (source_id, target_id, strength, coactivation_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_id, target_id) DO UPDATE SET strength = ?, coactivation_count = ?
	`, src, dst, l.Strength, l.CoactivationCount, l.Strength, l.CoactivationCount)
	if err != nil {
		return fmt.Errorf("put hebbian link: %w", err)
	}
	return nil
}

// HebbianNeighbors returns all materialized links touching the given memory,
// in both row directions. Pending links (strength 0) are excluded.
func (db *DB) HebbianNeighbors(id string) ([]HebbianLink, error) {
	rows, err := db.Query(`
		SELECT source_id, target_id, strength, coactivation_count
		FROM hebbian_links
		WHERE (source_id = ? OR target_id = ?) AND strength > 0
		ORDER BY strength DESC
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("hebbian neighbors: %w", err)
	}
	defer rows.Close()

	var links []HebbianLink
	for rows.Next() {
		var l HebbianLink
		if err := rows.Scan(&l.SourceID, &l.TargetID, &l.Strength, &l.CoactivationCount); err != nil {
			return nil, fmt.Errorf("scan hebbian link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// DecayHebbianLinks multiplies all materialized link strengths by factor and
// prunes those that fall below eps. Pending rows (strength 0) are untouched,
// so an almost-formed link does not lose its coactivation count.
func (db *DB) DecayHebbianLinks(factor, eps float64) (int, error) {
	if _, err := db.Exec(`UPDATE hebbian_links SET strength = strength * ? WHERE strength > 0`, factor); err != nil {
		return 0, fmt.Errorf("decay hebbian links: %w", err)
	}
	result, err := db.Exec(`DELETE FROM hebbian_links WHERE strength > 0 AND strength < ?`, eps)
	if err != nil {
		return 0, fmt.Errorf("prune hebbian links: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// CountHebbianLinks returns the number of materialized links.
func (db *DB) CountHebbianLinks() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM hebbian_links WHERE strength > 0`).Scan(&n)
	return n, err
}

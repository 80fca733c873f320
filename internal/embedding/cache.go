package embedding

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// =============================================================================
// PERSISTENT EMBEDDING CACHE
// =============================================================================

// Cache stores embeddings in SQLite keyed on (model, sha256(text)), so
// unchanged phrases are never re-encoded across runs.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (or creates) the cache database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
	model     TEXT NOT NULL,
	text_hash TEXT NOT NULL,
	vector    TEXT NOT NULL,
	PRIMARY KEY (model, text_hash)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create embedding cache schema: %w", err)
	}

	return &Cache{db: db}, nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for (model, text), or ok=false on a miss.
func (c *Cache) Get(model, text string) ([]float32, bool, error) {
	var raw string
	err := c.db.QueryRow(
		`SELECT vector FROM embeddings WHERE model = ? AND text_hash = ?`,
		model, hashText(text),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}

	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, false, fmt.Errorf("decode cached vector: %w", err)
	}
	return vec, true, nil
}

// Put stores a vector for (model, text), replacing any previous entry.
func (c *Cache) Put(model, text string, vec []float32) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO embeddings (model, text_hash, vector) VALUES (?, ?, ?)`,
		model, hashText(text), string(raw),
	)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

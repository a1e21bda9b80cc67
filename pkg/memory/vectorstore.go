package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arvid/mnemo/internal/observability"
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension on every new connection
	sqlite_vec.Auto()
}

// maxCosineDistance is the upper bound of the cosine distance metric
const maxCosineDistance = 2.0

// VectorMatch is a vector search hit, ascending by distance (0 = identical direction)
type VectorMatch struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

// TextMatch is a full-text search hit, descending by score. The score scale
// is backend-defined and unbounded; normalize before comparing across sources.
type TextMatch struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// VectorTextStore is a denormalized, dual-indexed store keyed by memory id.
// One SQLite file holds three tables over the same rows: the base table
// (id, content, embedding), an FTS5 table maintained on every write, and a
// vec0 KNN table built on demand by CreateIndexes. Vector search uses the
// KNN table when built and an equivalent brute-force scan otherwise.
//
// Id uniqueness is NOT enforced here; storing the same id twice yields two
// retrievable rows. Once-only-insert belongs to the record store's primary
// key, checked before the embedding step.
type VectorTextStore struct {
	db        *sql.DB
	dimension int
	logger    zerolog.Logger

	indexed atomic.Bool
	indexMu sync.Mutex
}

// VectorTextStoreConfig holds vector/text store configuration
type VectorTextStoreConfig struct {
	// Path is the SQLite database file; parent directories are created
	Path string
	// Dimension fixes the embedding length. Immutable once the store file
	// exists; switching models requires a fresh store.
	Dimension int
	Logger    zerolog.Logger
}

// OpenVectorTextStore opens an existing store or creates one. Idempotent:
// reopening an existing store with the same dimension succeeds; a different
// dimension is rejected.
func OpenVectorTextStore(cfg VectorTextStoreConfig) (*VectorTextStore, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, errors.New("store path is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", cfg.Dimension)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, storeErr("open", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, storeErr("open", err)
	}

	// WAL lets concurrent readers proceed during writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, storeErr("open", err)
	}

	s := &VectorTextStore{
		db:        db,
		dimension: cfg.Dimension,
		logger:    cfg.Logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info().
		Str("path", cfg.Path).
		Int("dimension", cfg.Dimension).
		Bool("indexed", s.indexed.Load()).
		Msg("Vector/text store opened")

	return s, nil
}

func (s *VectorTextStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS memories (
			id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_id ON memories(id);

		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return storeErr("create", err)
	}

	// Pin the dimension on first open; reject a mismatch afterwards.
	var stored string
	err := s.db.QueryRow("SELECT value FROM store_meta WHERE key = 'dimension'").Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(
			"INSERT INTO store_meta (key, value) VALUES ('dimension', ?)",
			strconv.Itoa(s.dimension),
		); err != nil {
			return storeErr("create", err)
		}
	case err != nil:
		return storeErr("open", err)
	default:
		existing, convErr := strconv.Atoi(stored)
		if convErr != nil {
			return storeErr("open", fmt.Errorf("corrupt dimension metadata %q", stored))
		}
		if existing != s.dimension {
			return storeErr("open", fmt.Errorf(
				"store was created with dimension %d, requested %d; switching models requires a fresh store",
				existing, s.dimension,
			))
		}
	}

	// Detect a previously built KNN table
	var name string
	err = s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'memories_vec'",
	).Scan(&name)
	if err != nil && err != sql.ErrNoRows {
		return storeErr("open", err)
	}
	s.indexed.Store(err == nil)

	return nil
}

// Dimension returns the store's fixed embedding length
func (s *VectorTextStore) Dimension() int {
	return s.dimension
}

// Indexed reports whether the KNN index has been built
func (s *VectorTextStore) Indexed() bool {
	return s.indexed.Load()
}

// Store appends a new (id, content, embedding) row. A duplicate id produces
// a second retrievable row; dedupe happens at merge/curation time.
func (s *VectorTextStore) Store(ctx context.Context, id, content string, embedding []float32) error {
	if len(embedding) != s.dimension {
		return &DimensionError{Expected: s.dimension, Actual: len(embedding)}
	}

	start := time.Now()
	defer func() { observability.RecordIndexWrite(time.Since(start)) }()

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return storeErr("insert", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("insert", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO memories (id, content, embedding) VALUES (?, ?, ?)",
		id, content, string(embeddingJSON),
	)
	if err != nil {
		return storeErr("insert", err)
	}
	rowID, err := result.LastInsertId()
	if err != nil {
		return storeErr("insert", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO memories_fts (rowid, id, content) VALUES (?, ?, ?)",
		rowID, id, content,
	); err != nil {
		return storeErr("insert", err)
	}

	// Keep the KNN table fresh once it exists
	if s.indexed.Load() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memories_vec (rowid, embedding) VALUES (?, ?)",
			rowID, string(embeddingJSON),
		); err != nil {
			return storeErr("insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("insert", err)
	}
	return nil
}

// Delete removes every row whose id matches. Deleting an unknown id is a
// silent success.
func (s *VectorTextStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("delete", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT rowid FROM memories WHERE id = ?", id)
	if err != nil {
		return storeErr("delete", err)
	}
	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return storeErr("delete", err)
		}
		rowIDs = append(rowIDs, rowID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return storeErr("delete", err)
	}
	rows.Close()

	if len(rowIDs) == 0 {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id); err != nil {
		return storeErr("delete", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM memories_fts WHERE id = ?", id); err != nil {
		return storeErr("delete", err)
	}
	if s.indexed.Load() {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rowIDs)), ",")
		args := make([]interface{}, len(rowIDs))
		for i, rowID := range rowIDs {
			args[i] = rowID
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM memories_vec WHERE rowid IN ("+placeholders+")", args...,
		); err != nil {
			return storeErr("delete", err)
		}
	}

	return tx.Commit()
}

// VectorSearch returns up to limit (id, distance) pairs ascending by cosine
// distance. KNN-accelerated once CreateIndexes has run, brute force before.
func (s *VectorTextStore) VectorSearch(ctx context.Context, query []float32, limit int) ([]VectorMatch, error) {
	if len(query) != s.dimension {
		return nil, &DimensionError{Expected: s.dimension, Actual: len(query)}
	}
	if limit <= 0 {
		return []VectorMatch{}, nil
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, storeErr("vector_search", err)
	}

	var rows *sql.Rows
	if s.indexed.Load() {
		rows, err = s.db.QueryContext(ctx, `
			SELECT m.id, v.distance
			FROM memories_vec v
			JOIN memories m ON m.rowid = v.rowid
			WHERE v.embedding MATCH ? AND k = ?
			ORDER BY v.distance`,
			string(queryJSON), limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, vec_distance_cosine(embedding, ?) AS distance
			FROM memories
			ORDER BY distance ASC
			LIMIT ?`,
			string(queryJSON), limit,
		)
	}
	if err != nil {
		return nil, storeErr("vector_search", err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var match VectorMatch
		if err := rows.Scan(&match.ID, &match.Distance); err != nil {
			return nil, storeErr("vector_search", err)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("vector_search", err)
	}
	return matches, nil
}

// TextSearch returns up to limit (id, score) pairs descending by lexical
// relevance. An empty or all-punctuation query yields an empty result.
func (s *VectorTextStore) TextSearch(ctx context.Context, query string, limit int) ([]TextMatch, error) {
	if limit <= 0 {
		return []TextMatch{}, nil
	}
	ftsQuery := escapeFTSQuery(query)
	if ftsQuery == "" {
		return []TextMatch{}, nil
	}

	// bm25 is negative, more negative = more relevant; flip the sign so
	// higher = better like the vector side after normalization.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bm25(memories_fts) AS score
		FROM memories_fts
		WHERE memories_fts MATCH ?
		ORDER BY score
		LIMIT ?`,
		ftsQuery, limit,
	)
	if err != nil {
		return nil, storeErr("text_search", err)
	}
	defer rows.Close()

	var matches []TextMatch
	for rows.Next() {
		var match TextMatch
		if err := rows.Scan(&match.ID, &match.Score); err != nil {
			return nil, storeErr("text_search", err)
		}
		match.Score = -match.Score
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("text_search", err)
	}
	return matches, nil
}

// CreateIndexes builds (or rebuilds) the KNN table from the base rows and
// rebuilds the FTS index. Synchronous and expensive; intended for
// maintenance windows after bulk inserts. Safe to re-run, safe on an empty
// store, non-reentrant.
func (s *VectorTextStore) CreateIndexes(ctx context.Context) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	start := time.Now()
	defer func() { observability.RecordIndexBuild(time.Since(start)) }()

	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS memories_vec"); err != nil {
		return storeErr("create_indexes", err)
	}
	s.indexed.Store(false)

	createVec := fmt.Sprintf(`
		CREATE VIRTUAL TABLE memories_vec USING vec0(
			embedding float[%d] distance_metric=cosine
		)`, s.dimension)
	if _, err := s.db.ExecContext(ctx, createVec); err != nil {
		return storeErr("create_indexes", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO memories_vec (rowid, embedding) SELECT rowid, embedding FROM memories",
	); err != nil {
		return storeErr("create_indexes", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO memories_fts(memories_fts) VALUES('rebuild')",
	); err != nil {
		return storeErr("create_indexes", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return storeErr("create_indexes", err)
	}

	s.indexed.Store(true)

	count, err := s.Count(ctx)
	if err == nil {
		s.logger.Info().Int("rows", count).Msg("Vector and text indexes built")
	}
	return nil
}

// Count returns the number of stored rows (duplicates included)
func (s *VectorTextStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count); err != nil {
		return 0, storeErr("count", err)
	}
	return count, nil
}

// ListIDs returns the distinct ids present in the store, for reconciliation
func (s *VectorTextStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT id FROM memories")
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("list", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return ids, nil
}

// Close closes the underlying database
func (s *VectorTextStore) Close() error {
	return s.db.Close()
}

// escapeFTSQuery quotes each term so user text cannot be parsed as FTS5
// syntax; terms are OR-ed to keep free-text recall broad.
func escapeFTSQuery(query string) string {
	fields := strings.Fields(query)
	var terms []string
	for _, field := range fields {
		field = strings.ReplaceAll(field, `"`, "")
		if field == "" {
			continue
		}
		terms = append(terms, `"`+field+`"`)
	}
	return strings.Join(terms, " OR ")
}

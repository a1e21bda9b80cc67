package memory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arvid/mnemo/internal/logger"
	"github.com/arvid/mnemo/internal/observability"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// RecordStore is the source of truth for memory metadata and associations.
// Its primary key is the only once-only-insert guarantee in the system; the
// vector/text store deliberately has none.
type RecordStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenRecordStore opens (and migrates) the metadata database at path
func OpenRecordStore(ctx context.Context, path string, log zerolog.Logger) (*RecordStore, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, errors.New("record store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storeErr("open", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1")
	if err != nil {
		return nil, storeErr("open", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, storeErr("open", err)
	}

	if err := migrate(ctx, db, log); err != nil {
		db.Close()
		return nil, storeErr("migrate", err)
	}

	log.Info().Str("path", path).Msg("Record store opened")
	return &RecordStore{db: db, logger: log}, nil
}

func migrate(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(logger.NewGooseLogger(log))

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

// Save inserts a new memory. The primary key rejects a duplicate id.
func (s *RecordStore) Save(ctx context.Context, m *Memory) error {
	if m.ID == "" {
		return storeErr("save", errors.New("memory id is empty"))
	}

	var lastAccess interface{}
	if m.LastAccessedAt != nil {
		lastAccess = m.LastAccessedAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories
			(id, content, memory_type, importance, source, channel_id, created_at, access_count, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, string(m.Type), m.Importance,
		nullableString(m.Source), nullableString(m.ChannelID),
		m.CreatedAt.Unix(), m.AccessCount, lastAccess,
	)
	return storeErr("save", err)
}

// Get returns the memory with the given id, or ErrNotFound
func (s *RecordStore) Get(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content, memory_type, importance, source, channel_id,
		       created_at, access_count, last_accessed_at
		FROM memories WHERE id = ?`, id)

	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return m, nil
}

// Delete removes the memory and, via foreign keys, its associations.
// Deleting an unknown id is a silent success.
func (s *RecordStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	return storeErr("delete", err)
}

// RecordAccess increments the access counter and refreshes the last-access
// timestamp. Callers treat this as best-effort.
func (s *RecordStore) RecordAccess(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?`,
		time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return storeErr("record_access", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr("record_access", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAssociation inserts a directed weighted edge between two memories
func (s *RecordStore) CreateAssociation(ctx context.Context, a *Association) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO associations (id, source_id, target_id, relation, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.SourceID, a.TargetID, string(a.Relation), a.Weight, a.CreatedAt.Unix(),
	)
	return storeErr("create_association", err)
}

// Associations returns the outgoing edges of a memory
func (s *RecordStore) Associations(ctx context.Context, sourceID string) ([]*Association, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, relation, weight, created_at
		FROM associations WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, storeErr("associations", err)
	}
	defer rows.Close()

	var out []*Association
	for rows.Next() {
		var a Association
		var relation string
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.SourceID, &a.TargetID, &relation, &a.Weight, &createdAt); err != nil {
			return nil, storeErr("associations", err)
		}
		a.Relation = RelationType(relation)
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("associations", err)
	}
	return out, nil
}

// Importances returns the stored importance for each known id. Unknown ids
// are simply absent from the result.
func (s *RecordStore) Importances(ctx context.Context, ids []string) (map[string]float64, error) {
	out := make(map[string]float64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, importance FROM memories WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, storeErr("importances", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var importance float64
		if err := rows.Scan(&id, &importance); err != nil {
			return nil, storeErr("importances", err)
		}
		out[id] = importance
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("importances", err)
	}
	return out, nil
}

// ListIDs returns all memory ids, for reconciliation
func (s *RecordStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM memories")
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

// Count returns the number of stored memories
func (s *RecordStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count); err != nil {
		return 0, storeErr("count", err)
	}
	return count, nil
}

// Close closes the underlying database
func (s *RecordStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var memoryType string
	var source, channelID sql.NullString
	var createdAt int64
	var lastAccess sql.NullInt64

	err := row.Scan(
		&m.ID, &m.Content, &memoryType, &m.Importance,
		&source, &channelID, &createdAt, &m.AccessCount, &lastAccess,
	)
	if err != nil {
		return nil, err
	}

	m.Type = MemoryType(memoryType)
	m.Source = source.String
	m.ChannelID = channelID.String
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	if lastAccess.Valid {
		t := time.Unix(lastAccess.Int64, 0).UTC()
		m.LastAccessedAt = &t
	}
	return &m, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

package entity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// SQLStore is a SQL-backed entity store.
// It works with any database/sql compatible driver (PostgreSQL, MySQL,
// SQLite). Entity field maps are persisted as msgpack blobs keyed by
// (entity_type, entity_id); a registry reconstructs typed instances on Get.
type SQLStore struct {
	db        *sql.DB
	registry  *Registry
	tableName string
	dialect   SQLDialect
	closed    bool
}

// SQLDialect represents the SQL dialect for query generation.
type SQLDialect int

const (
	// DialectPostgreSQL uses PostgreSQL syntax ($1, $2 placeholders).
	DialectPostgreSQL SQLDialect = iota
	// DialectMySQL uses MySQL syntax (? placeholders).
	DialectMySQL
	// DialectSQLite uses SQLite syntax (? placeholders).
	DialectSQLite
)

// SQLStoreOption configures SQLStore behavior.
type SQLStoreOption func(*sqlStoreConfig)

type sqlStoreConfig struct {
	tableName string
	dialect   SQLDialect
}

// WithSQLTableName sets the table name for entity storage.
// Default: "tetra_entities".
func WithSQLTableName(name string) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.tableName = name
	}
}

// WithSQLDialect sets the SQL dialect for query generation.
// Default: DialectPostgreSQL.
func WithSQLDialect(dialect SQLDialect) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.dialect = dialect
	}
}

// NewSQLStore creates a new SQL-backed entity store.
func NewSQLStore(db *sql.DB, registry *Registry, opts ...SQLStoreOption) *SQLStore {
	cfg := &sqlStoreConfig{
		tableName: "tetra_entities",
		dialect:   DialectPostgreSQL,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &SQLStore{
		db:        db,
		registry:  registry,
		tableName: cfg.tableName,
		dialect:   cfg.dialect,
	}
}

// placeholders returns dialect placeholder syntax for positions 1..n.
func (s *SQLStore) placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		if s.dialect == DialectPostgreSQL {
			out[i] = fmt.Sprintf("$%d", i+1)
		} else {
			out[i] = "?"
		}
	}
	return out
}

// Get retrieves an entity by type and id.
// Returns (nil, nil) when the entity does not exist or its type is not
// registered.
func (s *SQLStore) Get(ctx context.Context, typ, id string) (Entity, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	p := s.placeholders(2)
	query := fmt.Sprintf(`SELECT fields FROM %s WHERE entity_type = %s AND entity_id = %s`,
		s.tableName, p[0], p[1])

	var blob []byte
	err := s.db.QueryRowContext(ctx, query, typ, id).Scan(&blob)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	e, ok := s.registry.New(typ, id)
	if !ok {
		return nil, nil
	}

	var fields map[string]any
	if err := msgpack.Unmarshal(blob, &fields); err != nil {
		return nil, fmt.Errorf("entity: decode %s.%s: %w", typ, id, err)
	}
	e.SetFields(fields)
	return e, nil
}

// Put stores an entity, overwriting any existing record.
func (s *SQLStore) Put(ctx context.Context, e Entity) error {
	if s.closed {
		return ErrStoreClosed
	}

	blob, err := msgpack.Marshal(e.Fields())
	if err != nil {
		return fmt.Errorf("entity: encode %s.%s: %w", e.EntityType(), e.EntityID(), err)
	}

	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`
			INSERT INTO %s (entity_type, entity_id, fields, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (entity_type, entity_id) DO UPDATE SET
				fields = EXCLUDED.fields,
				updated_at = NOW()
		`, s.tableName)
	case DialectMySQL:
		query = fmt.Sprintf(`
			INSERT INTO %s (entity_type, entity_id, fields, updated_at)
			VALUES (?, ?, ?, NOW())
			ON DUPLICATE KEY UPDATE
				fields = VALUES(fields),
				updated_at = NOW()
		`, s.tableName)
	case DialectSQLite:
		query = fmt.Sprintf(`
			INSERT OR REPLACE INTO %s (entity_type, entity_id, fields, updated_at)
			VALUES (?, ?, ?, datetime('now'))
		`, s.tableName)
	}

	_, err = s.db.ExecContext(ctx, query, e.EntityType(), e.EntityID(), blob)
	return err
}

// Delete removes an entity. Missing entities are not an error.
func (s *SQLStore) Delete(ctx context.Context, typ, id string) error {
	if s.closed {
		return ErrStoreClosed
	}

	p := s.placeholders(2)
	query := fmt.Sprintf(`DELETE FROM %s WHERE entity_type = %s AND entity_id = %s`,
		s.tableName, p[0], p[1])
	_, err := s.db.ExecContext(ctx, query, typ, id)
	return err
}

// Close marks the store closed.
// Note: this does not close the underlying database connection, as it may
// be shared with other components.
func (s *SQLStore) Close() error {
	s.closed = true
	return nil
}

// CreateTable creates the entity table if it doesn't exist.
// This is a convenience method for development/testing.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				entity_type VARCHAR(128) NOT NULL,
				entity_id VARCHAR(128) NOT NULL,
				fields BYTEA NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				PRIMARY KEY (entity_type, entity_id)
			)
		`, s.tableName)
	case DialectMySQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				entity_type VARCHAR(128) NOT NULL,
				entity_id VARCHAR(128) NOT NULL,
				fields BLOB NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
				PRIMARY KEY (entity_type, entity_id)
			)
		`, s.tableName)
	case DialectSQLite:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				fields BLOB NOT NULL,
				created_at TEXT DEFAULT (datetime('now')),
				updated_at TEXT DEFAULT (datetime('now')),
				PRIMARY KEY (entity_type, entity_id)
			)
		`, s.tableName)
	}

	_, err := s.db.ExecContext(ctx, query)
	return err
}

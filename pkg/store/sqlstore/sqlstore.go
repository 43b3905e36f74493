// Package sqlstore implements store.Store on SQLite through the pure-Go
// modernc.org/sqlite driver.
//
// Properties are stored as JSON text. Scalar properties are also written to an
// entity_keys table so LookupEntity is an index probe. Multi-statement
// operations run in a transaction, either their own or the caller's when the
// Store is bound with WithTx.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sanonone/kektorgraph/pkg/store"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id    TEXT PRIMARY KEY,
	type  TEXT NOT NULL,
	props TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS entities_type ON entities(type);

CREATE TABLE IF NOT EXISTS entity_keys (
	type      TEXT NOT NULL,
	property  TEXT NOT NULL,
	value     TEXT NOT NULL,
	entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	PRIMARY KEY (type, property, value, entity_id)
);
CREATE INDEX IF NOT EXISTS entity_keys_entity ON entity_keys(entity_id);

CREATE TABLE IF NOT EXISTS relationships (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	type    TEXT NOT NULL,
	from_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	to_id   TEXT NOT NULL,
	weight  REAL NOT NULL,
	props   TEXT
);
CREATE INDEX IF NOT EXISTS relationships_from ON relationships(from_id, type, seq);
CREATE INDEX IF NOT EXISTS relationships_type ON relationships(type);
`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQLite-backed store.Store.
type Store struct {
	db     *sql.DB
	tx     *sql.Tx
	path   string
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database file at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions so concurrent
	// writers queue on the busy timeout instead of failing on lock upgrade.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.path = path
	s.logger.Info("sqlite store opened", "path", path)
	return s, nil
}

// New wraps an already opened database and applies the schema. The
// connection must enforce foreign keys for deletes to cascade.
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "sqlstore")}, nil
}

// Close closes the database. It must not be called on a Store returned by
// WithTx.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path, empty for stores built with New.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying database so callers can begin transactions.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx returns a Store whose operations run inside tx. Committing or
// rolling back stays with the caller.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	clone := *s
	clone.tx = tx
	return &clone
}

func (s *Store) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// atomic runs fn in the bound transaction, or in a fresh one.
func (s *Store) atomic(ctx context.Context, fn func(q querier) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateEntity inserts an entity under a random UUID.
func (s *Store) CreateEntity(ctx context.Context, typeName string, props store.Properties) (store.Entity, error) {
	if err := ctx.Err(); err != nil {
		return store.Entity{}, err
	}
	if typeName == "" {
		return store.Entity{}, errors.New("create entity: type name is required")
	}
	encoded, err := store.MarshalProperties(props)
	if err != nil {
		return store.Entity{}, fmt.Errorf("create %s entity: %w", typeName, err)
	}
	// reload through JSON so callers see what later reads return
	normalized, err := store.UnmarshalProperties(encoded)
	if err != nil {
		return store.Entity{}, err
	}
	id := uuid.NewString()

	err = s.atomic(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO entities (id, type, props) VALUES (?, ?, ?)`,
			id, typeName, string(encoded)); err != nil {
			return fmt.Errorf("inserting entity: %w", err)
		}
		for name, v := range normalized {
			key, ok := store.IndexKey(v)
			if !ok {
				continue
			}
			if _, err := q.ExecContext(ctx,
				`INSERT INTO entity_keys (type, property, value, entity_id) VALUES (?, ?, ?, ?)`,
				typeName, name, key, id); err != nil {
				return fmt.Errorf("indexing property %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return store.Entity{}, err
	}
	return store.Entity{ID: id, Type: typeName, Properties: normalized}, nil
}

// GetEntity fetches an entity by id.
func (s *Store) GetEntity(ctx context.Context, id string) (store.Entity, error) {
	if err := ctx.Err(); err != nil {
		return store.Entity{}, err
	}
	row := s.q().QueryRowContext(ctx, `SELECT id, type, props FROM entities WHERE id = ?`, id)
	return scanEntity(row, id)
}

// LookupEntity probes entity_keys for the first matching entity, by id.
func (s *Store) LookupEntity(ctx context.Context, typeName, property string, value any) (store.Entity, error) {
	if err := ctx.Err(); err != nil {
		return store.Entity{}, err
	}
	desc := fmt.Sprintf("%s.%s=%v", typeName, property, value)
	key, ok := store.IndexKey(value)
	if !ok {
		return store.Entity{}, store.EntityNotFound(desc)
	}
	row := s.q().QueryRowContext(ctx, `
		SELECT e.id, e.type, e.props
		FROM entity_keys k JOIN entities e ON e.id = k.entity_id
		WHERE k.type = ? AND k.property = ? AND k.value = ?
		ORDER BY k.entity_id
		LIMIT 1`, typeName, property, key)
	return scanEntity(row, desc)
}

func scanEntity(row *sql.Row, desc string) (store.Entity, error) {
	var (
		e     store.Entity
		props string
	)
	if err := row.Scan(&e.ID, &e.Type, &props); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Entity{}, store.EntityNotFound(desc)
		}
		return store.Entity{}, fmt.Errorf("reading entity: %w", err)
	}
	var err error
	e.Properties, err = store.UnmarshalProperties([]byte(props))
	return e, err
}

// DeleteEntity removes the entity; its keys and outgoing relationships
// cascade.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.q().ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.EntityNotFound(id)
	}
	return nil
}

// CreateRelationship links two existing entities.
func (s *Store) CreateRelationship(ctx context.Context, rel store.Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rel.Type == "" {
		return errors.New("create relationship: type is required")
	}
	var props sql.NullString
	if len(rel.Props) > 0 {
		encoded, err := store.MarshalProperties(rel.Props)
		if err != nil {
			return fmt.Errorf("create %s relationship: %w", rel.Type, err)
		}
		props = sql.NullString{String: string(encoded), Valid: true}
	}

	return s.atomic(ctx, func(q querier) error {
		for _, id := range []string{rel.From, rel.To} {
			var found int
			err := q.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ?`, id).Scan(&found)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("create %s relationship: %w", rel.Type, store.EntityNotFound(id))
			}
			if err != nil {
				return err
			}
		}
		_, err := q.ExecContext(ctx,
			`INSERT INTO relationships (type, from_id, to_id, weight, props) VALUES (?, ?, ?, ?, ?)`,
			rel.Type, rel.From, rel.To, rel.Weight, props)
		if err != nil {
			return fmt.Errorf("inserting relationship: %w", err)
		}
		return nil
	})
}

// Relationships lists relationships of a type leaving from, oldest first.
func (s *Store) Relationships(ctx context.Context, from, relType string) ([]store.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.q().QueryContext(ctx, `
		SELECT to_id, weight, props FROM relationships
		WHERE from_id = ? AND type = ?
		ORDER BY seq`, from, relType)
	if err != nil {
		return nil, fmt.Errorf("querying relationships: %w", err)
	}
	defer rows.Close()

	var out []store.Relationship
	for rows.Next() {
		rel := store.Relationship{Type: relType, From: from}
		var props sql.NullString
		if err := rows.Scan(&rel.To, &rel.Weight, &props); err != nil {
			return nil, fmt.Errorf("reading relationship: %w", err)
		}
		if rel.Props, err = store.UnmarshalProperties([]byte(props.String)); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// DeleteRelationships removes relationships of a type leaving from.
func (s *Store) DeleteRelationships(ctx context.Context, from, relType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.q().ExecContext(ctx, `DELETE FROM relationships WHERE from_id = ? AND type = ?`, from, relType)
	if err != nil {
		return fmt.Errorf("deleting relationships: %w", err)
	}
	return nil
}

// CountEntities counts entities of a type.
func (s *Store) CountEntities(ctx context.Context, typeName string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM entities WHERE type = ?`, typeName)
}

// CountRelationships counts relationships of a type.
func (s *Store) CountRelationships(ctx context.Context, relType string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM relationships WHERE type = ?`, relType)
}

func (s *Store) count(ctx context.Context, query, arg string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	if err := s.q().QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting: %w", err)
	}
	return n, nil
}

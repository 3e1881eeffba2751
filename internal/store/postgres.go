package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	cerrors "github.com/tommygoverstreet/smart-spreadsheet2025/pkg/errors"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/utils"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	Table           string        `yaml:"table"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// PostgresStore keeps every collection in one table keyed by (collection, key).
type PostgresStore struct {
	db     *sql.DB
	table  string
	logger *utils.StructuredLogger
}

// NewPostgresStore opens the database and creates the table and indexes if needed.
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig, logger *utils.StructuredLogger) (*PostgresStore, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, cerrors.NewError(cerrors.ErrCodeInvalidConfig, "postgres dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "sheetcache_records"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, cerrors.NewError(cerrors.ErrCodeInvalidConfig, "invalid postgres table name").
			WithContext("table", table)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if logger == nil {
		logger = utils.NewNopLogger()
	}
	s := &PostgresStore{
		db:     db,
		table:  table,
		logger: logger.WithComponent("store.postgres").WithField("table", table),
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	t := pq.QuoteIdentifier(s.table)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			collection    TEXT NOT NULL,
			key           TEXT NOT NULL,
			value         BYTEA,
			compressed    BOOLEAN NOT NULL DEFAULT FALSE,
			encoding      TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL,
			ttl_ms        BIGINT NOT NULL DEFAULT 0,
			priority      INTEGER NOT NULL DEFAULT 1,
			tags          TEXT[] NOT NULL DEFAULT '{}',
			size          BIGINT NOT NULL DEFAULT 0,
			access_count  BIGINT NOT NULL DEFAULT 0,
			last_accessed TIMESTAMPTZ,
			type          TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (collection, key)
		)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (collection, created_at)`,
			pq.QuoteIdentifier(s.table+"_created_idx"), t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (collection, (COALESCE(last_accessed, created_at)))`,
			pq.QuoteIdentifier(s.table+"_accessed_idx"), t),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migration failed: %w", err)
		}
	}
	return nil
}

// Put upserts the record.
func (s *PostgresStore) Put(ctx context.Context, collection string, rec *Record) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if rec == nil {
		return cerrors.NewError(cerrors.ErrCodeValidationFailed, "nil record")
	}

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	query := fmt.Sprintf(`INSERT INTO %s
		(collection, key, value, compressed, encoding, created_at, ttl_ms, priority, tags, size, access_count, last_accessed, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (collection, key) DO UPDATE SET
			value = EXCLUDED.value,
			compressed = EXCLUDED.compressed,
			encoding = EXCLUDED.encoding,
			created_at = EXCLUDED.created_at,
			ttl_ms = EXCLUDED.ttl_ms,
			priority = EXCLUDED.priority,
			tags = EXCLUDED.tags,
			size = EXCLUDED.size,
			access_count = EXCLUDED.access_count,
			last_accessed = EXCLUDED.last_accessed,
			type = EXCLUDED.type`, pq.QuoteIdentifier(s.table))

	_, err := s.db.ExecContext(ctx, query,
		collection, rec.Key, rec.Value, rec.Compressed, rec.Encoding,
		rec.Timestamp, rec.TTL.Milliseconds(), rec.Priority, pq.Array(tags),
		rec.Size, rec.AccessCount, nullTime(rec.LastAccessed), rec.Type)
	if err != nil {
		return s.wrap(err, cerrors.ErrCodeStoreWrite, "put", rec.Key)
	}
	return nil
}

// Get reads a record; sql.ErrNoRows yields (nil, nil).
func (s *PostgresStore) Get(ctx context.Context, collection, key string) (*Record, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT key, value, compressed, encoding, created_at, ttl_ms, priority, tags,
		size, access_count, last_accessed, type
		FROM %s WHERE collection = $1 AND key = $2`, pq.QuoteIdentifier(s.table))

	var (
		rec          Record
		ttlMS        int64
		lastAccessed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, collection, key).Scan(
		&rec.Key, &rec.Value, &rec.Compressed, &rec.Encoding, &rec.Timestamp, &ttlMS,
		&rec.Priority, pq.Array(&rec.Tags), &rec.Size, &rec.AccessCount, &lastAccessed, &rec.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap(err, cerrors.ErrCodeStoreRead, "get", key)
	}

	rec.TTL = time.Duration(ttlMS) * time.Millisecond
	if lastAccessed.Valid {
		rec.LastAccessed = lastAccessed.Time
	}
	return &rec, nil
}

// Delete removes a record.
func (s *PostgresStore) Delete(ctx context.Context, collection, key string) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE collection = $1 AND key = $2`, pq.QuoteIdentifier(s.table))
	if _, err := s.db.ExecContext(ctx, query, collection, key); err != nil {
		return s.wrap(err, cerrors.ErrCodeStoreDelete, "delete", key)
	}
	return nil
}

// Clear removes every record in the collection.
func (s *PostgresStore) Clear(ctx context.Context, collection string) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE collection = $1`, pq.QuoteIdentifier(s.table))
	if _, err := s.db.ExecContext(ctx, query, collection); err != nil {
		return s.wrap(err, cerrors.ErrCodeStoreDelete, "clear", "")
	}
	return nil
}

// Touch stamps last_accessed and bumps access_count.
func (s *PostgresStore) Touch(ctx context.Context, collection, key string, at time.Time) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET last_accessed = $3, access_count = access_count + 1
		WHERE collection = $1 AND key = $2`, pq.QuoteIdentifier(s.table))
	if _, err := s.db.ExecContext(ctx, query, collection, key, at); err != nil {
		return s.wrap(err, cerrors.ErrCodeStoreWrite, "touch", key)
	}
	return nil
}

// Keys selects keys from the timestamp or access index, oldest first.
func (s *PostgresStore) Keys(ctx context.Context, collection string, q Query) ([]string, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	column := "created_at"
	if q.By == ByAccess {
		column = "COALESCE(last_accessed, created_at)"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT key FROM %s WHERE collection = $1`, pq.QuoteIdentifier(s.table))
	args := []interface{}{collection}
	if !q.Before.IsZero() {
		args = append(args, q.Before)
		fmt.Fprintf(&sb, ` AND %s < $%d`, column, len(args))
	}
	fmt.Fprintf(&sb, ` ORDER BY %s ASC, key ASC`, column)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, s.wrap(err, cerrors.ErrCodeStoreRead, "keys", "")
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, s.wrap(err, cerrors.ErrCodeStoreRead, "keys", "")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(err, cerrors.ErrCodeStoreRead, "keys", "")
	}
	return keys, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) wrap(err error, code cerrors.ErrorCode, op, key string) error {
	e := cerrors.Wrap(err, code, "postgres "+op+" failed").
		WithComponent("store.postgres").
		WithOperation(op)
	if key != "" {
		e = e.WithContext("key", key)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		e = e.WithDetail("pg_code", string(pqErr.Code))
	}
	return e
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

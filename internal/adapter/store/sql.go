package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLStore handles all relational database operations. It speaks to
// Postgres through lib/pq and to SQLite through modernc.org/sqlite; queries
// are written with `?` placeholders and rebound for Postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens a connection, applies the schema and returns a store.
func NewSQLStore(ctx context.Context, driver, databaseURL string) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		// A single connection serialises writers and keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the database driver name.
func (s *SQLStore) Driver() string {
	return s.driver
}

func (s *SQLStore) migrate(ctx context.Context) error {
	idCol := "INTEGER PRIMARY KEY AUTOINCREMENT"
	blobCol := "BLOB"
	realCol := "REAL"
	if s.driver == DriverPostgres {
		idCol = "BIGSERIAL PRIMARY KEY"
		blobCol = "BYTEA"
		realCol = "DOUBLE PRECISION"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS content_items (
			id ` + idCol + `,
			variant TEXT NOT NULL,
			identity TEXT NOT NULL,
			external_id BIGINT NOT NULL DEFAULT 0,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			title_folded TEXT NOT NULL DEFAULT '',
			body_folded TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			topic_id BIGINT NOT NULL DEFAULT 0,
			post_number INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			UNIQUE (variant, identity)
		)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			id ` + idCol + `,
			content_id BIGINT NOT NULL,
			variant TEXT NOT NULL,
			chunk_index INTEGER NOT NULL DEFAULT 0,
			vector ` + blobCol + ` NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id ` + idCol + `,
			question TEXT NOT NULL,
			answer TEXT,
			links TEXT,
			has_image BOOLEAN NOT NULL DEFAULT FALSE,
			response_time ` + realCol + `,
			success BOOLEAN NOT NULL DEFAULT TRUE,
			error_message TEXT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_created_at ON questions (created_at)`,
		`CREATE TABLE IF NOT EXISTS system_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			updated_at BIGINT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind converts `?` placeholders to `$n` for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// foldCase is the case folding keyword search applies on both sides. SQL
// LOWER() only folds ASCII in SQLite, so folded copies are stored on write.
func foldCase(s string) string {
	return strings.ToLower(s)
}

// likePattern builds a case-insensitive substring pattern, escaping LIKE
// wildcards with a backslash.
func likePattern(keyword string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(foldCase(keyword)) + "%"
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

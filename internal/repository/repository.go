package repository

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Repository wraps the sqlite database holding users, content entries,
// media records, derivatives, quotas, tokens and verification codes.
type Repository struct {
	db *sql.DB
}

// New opens (or creates) the database and initializes the schema.
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r := &Repository{db: db}
	if err := r.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	return r, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) initTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS content_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		digest TEXT UNIQUE NOT NULL,
		size INTEGER NOT NULL,
		path TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS media_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		content_id INTEGER NOT NULL REFERENCES content_entries(id),
		title TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		size INTEGER NOT NULL,
		media_type TEXT NOT NULL,
		metadata TEXT,
		is_avatar BOOLEAN NOT NULL DEFAULT FALSE,
		avatar_thumbs BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_media_user ON media_records(user_id);
	CREATE INDEX IF NOT EXISTS idx_media_content ON media_records(content_id);

	CREATE TABLE IF NOT EXISTS derivatives (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_id INTEGER NOT NULL REFERENCES content_entries(id),
		path TEXT NOT NULL,
		is_avatar BOOLEAN NOT NULL DEFAULT FALSE,
		side_size INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	-- One default thumbnail per entry no matter what size it was
	-- generated at; avatar ladders stay unique per rung.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_derivatives_default
		ON derivatives(content_id) WHERE is_avatar = 0;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_derivatives_avatar
		ON derivatives(content_id, side_size) WHERE is_avatar = 1;

	CREATE TABLE IF NOT EXISTS quotas (
		user_id INTEGER PRIMARY KEY REFERENCES users(id),
		allowed INTEGER NOT NULL,
		used INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT UNIQUE NOT NULL,
		user_id INTEGER NOT NULL REFERENCES users(id),
		device TEXT,
		client TEXT,
		created_at DATETIME NOT NULL,
		expires DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS verification_codes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		value TEXT NOT NULL,
		expires DATETIME NOT NULL
	);
	`

	_, err := r.db.Exec(schema)
	return err
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zots0127/gallery/internal/domain"
)

// FindContentByDigest returns the content entry for a digest, or
// domain.ErrNotFound when no such content is stored.
func (r *Repository) FindContentByDigest(ctx context.Context, digest string) (*domain.ContentEntry, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, digest, size, path, created_at FROM content_entries WHERE digest = ?",
		digest,
	)
	return scanContent(row)
}

// GetContent returns a content entry by id.
func (r *Repository) GetContent(ctx context.Context, id int64) (*domain.ContentEntry, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, digest, size, path, created_at FROM content_entries WHERE id = ?",
		id,
	)
	return scanContent(row)
}

// GetOrCreateContent inserts a content entry for the digest, or returns
// the existing one when two identical uploads race. The second boolean
// reports whether a new row was created.
func (r *Repository) GetOrCreateContent(ctx context.Context, digest string, size int64, path string) (*domain.ContentEntry, bool, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO content_entries (digest, size, path, created_at) VALUES (?, ?, ?, ?)",
		digest, size, path, time.Now().UTC(),
	)
	if err != nil {
		return nil, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	entry, err := r.FindContentByDigest(ctx, digest)
	if err != nil {
		return nil, false, err
	}
	return entry, affected > 0, nil
}

// RefCount returns the number of media records referencing the entry.
func (r *Repository) RefCount(ctx context.Context, contentID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media_records WHERE content_id = ?",
		contentID,
	).Scan(&count)
	return count, err
}

// OrphanContent lists content entries no media record references.
func (r *Repository) OrphanContent(ctx context.Context) ([]*domain.ContentEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.digest, c.size, c.path, c.created_at
		FROM content_entries c
		LEFT JOIN media_records m ON m.content_id = c.id
		WHERE m.id IS NULL`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.ContentEntry
	for rows.Next() {
		var e domain.ContentEntry
		if err := rows.Scan(&e.ID, &e.Digest, &e.Size, &e.Path, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// DeleteContent removes a content entry row.
func (r *Repository) DeleteContent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM content_entries WHERE id = ?", id)
	return err
}

func scanContent(row *sql.Row) (*domain.ContentEntry, error) {
	var e domain.ContentEntry
	err := row.Scan(&e.ID, &e.Digest, &e.Size, &e.Path, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: content entry", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zots0127/gallery/internal/domain"
)

// CreateMedia inserts a media record. Returns false without error when
// the title is already taken, so the caller can regenerate it.
func (r *Repository) CreateMedia(ctx context.Context, m *domain.MediaRecord) (bool, error) {
	var metadata interface{}
	if m.Metadata != nil {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return false, fmt.Errorf("%w: metadata: %v", domain.ErrMalformedInput, err)
		}
		metadata = string(raw)
	}

	m.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO media_records
			(user_id, content_id, title, name, size, media_type, metadata, is_avatar, avatar_thumbs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UserID, m.ContentID, m.Title, m.Name, m.Size, m.MediaType, metadata, m.IsAvatar, m.AvatarThumbs, m.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	m.ID, err = res.LastInsertId()
	return true, err
}

// GetMedia returns a media record by id.
func (r *Repository) GetMedia(ctx context.Context, id int64) (*domain.MediaRecord, error) {
	row := r.db.QueryRowContext(ctx, selectMedia+" WHERE id = ?", id)
	return scanMedia(row)
}

// GetMediaByTitle returns a media record by its unique title.
func (r *Repository) GetMediaByTitle(ctx context.Context, title string) (*domain.MediaRecord, error) {
	row := r.db.QueryRowContext(ctx, selectMedia+" WHERE title = ?", title)
	return scanMedia(row)
}

// ListMediaByUser returns all media records owned by a user.
func (r *Repository) ListMediaByUser(ctx context.Context, userID int64) ([]*domain.MediaRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectMedia+" WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMedia(rows)
}

// DeleteMedia removes a media record row.
func (r *Repository) DeleteMedia(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM media_records WHERE id = ?", id)
	return err
}

// SumMediaSize returns the durable byte aggregate for a user's records.
func (r *Repository) SumMediaSize(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(size), 0) FROM media_records WHERE user_id = ?",
		userID,
	).Scan(&sum)
	return sum, err
}

const selectMedia = `
	SELECT id, user_id, content_id, title, name, size, media_type, metadata, is_avatar, avatar_thumbs, created_at
	FROM media_records`

func scanMedia(row *sql.Row) (*domain.MediaRecord, error) {
	var m domain.MediaRecord
	var metadata sql.NullString
	err := row.Scan(&m.ID, &m.UserID, &m.ContentID, &m.Title, &m.Name, &m.Size,
		&m.MediaType, &metadata, &m.IsAvatar, &m.AvatarThumbs, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: media record", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func collectMedia(rows *sql.Rows) ([]*domain.MediaRecord, error) {
	var records []*domain.MediaRecord
	for rows.Next() {
		var m domain.MediaRecord
		var metadata sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &m.ContentID, &m.Title, &m.Name, &m.Size,
			&m.MediaType, &metadata, &m.IsAvatar, &m.AvatarThumbs, &m.CreatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, err
			}
		}
		records = append(records, &m)
	}
	return records, rows.Err()
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zots0127/gallery/internal/domain"
)

// GetDerivative returns the derivative for a content entry and kind.
func (r *Repository) GetDerivative(ctx context.Context, contentID int64, isAvatar bool, sideSize int) (*domain.Derivative, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, content_id, path, is_avatar, side_size, created_at
		FROM derivatives WHERE content_id = ? AND is_avatar = ? AND side_size = ?`,
		contentID, isAvatar, sideSize,
	)

	var d domain.Derivative
	err := row.Scan(&d.ID, &d.ContentID, &d.Path, &d.IsAvatar, &d.SideSize, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: derivative", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDefaultDerivative returns the entry's default thumbnail at
// whatever side size it was generated, so a changed thumbnail
// configuration reuses the existing one instead of minting a second.
func (r *Repository) GetDefaultDerivative(ctx context.Context, contentID int64) (*domain.Derivative, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, content_id, path, is_avatar, side_size, created_at
		FROM derivatives WHERE content_id = ? AND is_avatar = 0`,
		contentID,
	)

	var d domain.Derivative
	err := row.Scan(&d.ID, &d.ContentID, &d.Path, &d.IsAvatar, &d.SideSize, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: derivative", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDerivative inserts a derivative row. Returns false without
// error when another writer already registered the same kind; the
// caller discards its own work and reuses the winner's.
func (r *Repository) CreateDerivative(ctx context.Context, d *domain.Derivative) (bool, error) {
	d.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO derivatives (content_id, path, is_avatar, side_size, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.ContentID, d.Path, d.IsAvatar, d.SideSize, d.CreatedAt,
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

	d.ID, err = res.LastInsertId()
	return true, err
}

// ListDerivativesByContent returns all derivatives of a content entry.
func (r *Repository) ListDerivativesByContent(ctx context.Context, contentID int64) ([]*domain.Derivative, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content_id, path, is_avatar, side_size, created_at
		FROM derivatives WHERE content_id = ?`,
		contentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var derivatives []*domain.Derivative
	for rows.Next() {
		var d domain.Derivative
		if err := rows.Scan(&d.ID, &d.ContentID, &d.Path, &d.IsAvatar, &d.SideSize, &d.CreatedAt); err != nil {
			return nil, err
		}
		derivatives = append(derivatives, &d)
	}
	return derivatives, rows.Err()
}

// DeleteDerivativesByContent removes all derivative rows of an entry.
func (r *Repository) DeleteDerivativesByContent(ctx context.Context, contentID int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM derivatives WHERE content_id = ?", contentID)
	return err
}

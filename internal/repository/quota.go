package repository

import (
	"context"

	"github.com/zots0127/gallery/internal/domain"
)

// GetOrCreateQuota returns the user's quota row, creating it with the
// default ceiling on first access.
func (r *Repository) GetOrCreateQuota(ctx context.Context, userID, defaultAllowed int64) (*domain.QuotaState, error) {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO quotas (user_id, allowed, used) VALUES (?, ?, 0)",
		userID, defaultAllowed,
	)
	if err != nil {
		return nil, err
	}

	var q domain.QuotaState
	err = r.db.QueryRowContext(ctx,
		"SELECT user_id, allowed, used FROM quotas WHERE user_id = ?",
		userID,
	).Scan(&q.UserID, &q.Allowed, &q.Used)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// SetQuotaAllowed updates the user's byte ceiling.
func (r *Repository) SetQuotaAllowed(ctx context.Context, userID, allowed int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE quotas SET allowed = ? WHERE user_id = ?",
		allowed, userID,
	)
	return err
}

// RecomputeQuotaUsed replaces the cached used value with the aggregate
// recomputed from persisted media records. Recomputing rather than
// patching deltas self-heals drift from partial failures.
func (r *Repository) RecomputeQuotaUsed(ctx context.Context, userID int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var sum int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(size), 0) FROM media_records WHERE user_id = ?",
		userID,
	).Scan(&sum)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE quotas SET used = ? WHERE user_id = ?",
		sum, userID,
	)
	if err != nil {
		return 0, err
	}

	return sum, tx.Commit()
}

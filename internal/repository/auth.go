package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zots0127/gallery/internal/domain"
)

// GetOrCreateUser returns the user with the given name, creating the
// row on first sight.
func (r *Repository) GetOrCreateUser(ctx context.Context, username string) (*domain.User, error) {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (username, created_at) VALUES (?, ?)",
		username, time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}

	var u domain.User
	err = r.db.QueryRowContext(ctx,
		"SELECT id, username, created_at FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser returns a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx,
		"SELECT id, username, created_at FROM users WHERE id = ?",
		id,
	).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateToken persists an access token.
func (r *Repository) CreateToken(ctx context.Context, t *domain.Token) error {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO tokens (key, user_id, device, client, created_at, expires) VALUES (?, ?, ?, ?, ?, ?)",
		t.Key, t.UserID, t.Device, t.Client, t.CreatedAt, t.Expires,
	)
	if err != nil {
		return err
	}
	t.ID, err = res.LastInsertId()
	return err
}

// GetTokenByKey returns the token with the given key.
func (r *Repository) GetTokenByKey(ctx context.Context, key string) (*domain.Token, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, key, user_id, device, client, created_at, expires FROM tokens WHERE key = ?",
		key,
	)
	return scanToken(row)
}

// ListTokens returns all tokens issued to a user.
func (r *Repository) ListTokens(ctx context.Context, userID int64) ([]*domain.Token, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, key, user_id, device, client, created_at, expires FROM tokens WHERE user_id = ? ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*domain.Token
	for rows.Next() {
		var t domain.Token
		var device, client sql.NullString
		if err := rows.Scan(&t.ID, &t.Key, &t.UserID, &device, &client, &t.CreatedAt, &t.Expires); err != nil {
			return nil, err
		}
		t.Device, t.Client = device.String, client.String
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// DeleteToken removes a token owned by the user. Deleting a token that
// does not exist returns domain.ErrNotFound.
func (r *Repository) DeleteToken(ctx context.Context, id, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM tokens WHERE id = ? AND user_id = ?",
		id, userID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: token", domain.ErrNotFound)
	}
	return nil
}

// CreateCode persists a verification code.
func (r *Repository) CreateCode(ctx context.Context, c *domain.VerificationCode) error {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO verification_codes (user_id, value, expires) VALUES (?, ?, ?)",
		c.UserID, c.Value, c.Expires,
	)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetCode returns the verification code matching user and value.
func (r *Repository) GetCode(ctx context.Context, userID int64, value string) (*domain.VerificationCode, error) {
	var c domain.VerificationCode
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, value, expires FROM verification_codes WHERE user_id = ? AND value = ?",
		userID, value,
	).Scan(&c.ID, &c.UserID, &c.Value, &c.Expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: verification code", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCode removes a verification code row.
func (r *Repository) DeleteCode(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM verification_codes WHERE id = ?", id)
	return err
}

func scanToken(row *sql.Row) (*domain.Token, error) {
	var t domain.Token
	var device, client sql.NullString
	err := row.Scan(&t.ID, &t.Key, &t.UserID, &device, &client, &t.CreatedAt, &t.Expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: token", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	t.Device, t.Client = device.String, client.String
	return &t, nil
}

package users

import (
	"context"
	"database/sql"
	"errors"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// GetOrCreateByEmail inserts the user on first reference by email and returns
// the stored row either way. The conflict target makes concurrent first
// references converge on one row.
func (r *PGRepo) GetOrCreateByEmail(ctx context.Context, user User) (User, error) {
	const query = `
INSERT INTO users (user_id, email, full_name, is_active, created_at, updated_at)
VALUES ($1, $2, $3, TRUE, now(), now())
ON CONFLICT (email) DO UPDATE SET updated_at = now()
RETURNING user_id, email, full_name, is_active, created_at, updated_at`

	var out User
	var fullName sql.NullString
	err := r.DB.QueryRowContext(ctx, query,
		user.ID,
		user.Email,
		nullableString(user.FullName),
	).Scan(
		&out.ID,
		&out.Email,
		&fullName,
		&out.IsActive,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if fullName.Valid {
		out.FullName = fullName.String
	}
	return out, nil
}

// GetByID returns a user by external identifier.
func (r *PGRepo) GetByID(ctx context.Context, userID string) (User, error) {
	const query = `
SELECT user_id, email, full_name, is_active, created_at, updated_at
FROM users
WHERE user_id = $1
LIMIT 1`
	var user User
	var fullName sql.NullString
	err := r.DB.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.Email,
		&fullName,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	if fullName.Valid {
		user.FullName = fullName.String
	}
	return user, nil
}

var _ Repo = (*PGRepo)(nil)

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

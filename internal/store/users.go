package store

import (
	"context"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/objects"
)

const userColumns = "id, username, display_name, role, created_at, updated_at, deleted_at"

func (d *DB) CreateUser(ctx context.Context, u *User) error {
	now := d.now()

	id, err := d.insert(ctx,
		"INSERT INTO users (username, display_name, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		u.Username, u.DisplayName, u.Role, now, now,
	)
	if err != nil {
		return err
	}

	u.ID, u.CreatedAt, u.UpdatedAt = id, now, now

	return nil
}

// GetUser returns a non-deleted user.
func (d *DB) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User

	err := d.get(ctx, &u, "SELECT "+userColumns+" FROM users WHERE id = ? AND deleted_at IS NULL", id)
	if err != nil {
		return nil, notFound(err, "user %d not found", id)
	}

	return &u, nil
}

func (d *DB) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User

	err := d.get(ctx, &u, "SELECT "+userColumns+" FROM users WHERE username = ? AND deleted_at IS NULL", username)
	if err != nil {
		return nil, notFound(err, "user %q not found", username)
	}

	return &u, nil
}

func (d *DB) UpdateUserRole(ctx context.Context, id int64, role objects.Role) error {
	n, err := d.exec(ctx,
		"UPDATE users SET role = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		role, d.now(), id,
	)
	if err != nil {
		return err
	}

	if n == 0 {
		return errs.NotFound("user %d not found", id)
	}

	return nil
}

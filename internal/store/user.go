package store

import (
	"context"

	"process-calendar-api/internal/model"
)

const userCols = `id, email, password_hash, name, role, avatar_url, bio, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role,
		&u.AvatarURL, &u.Bio, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash, name, role) VALUES ($1,$2,$3,$4,$5)
		 RETURNING created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, u.Name, u.Role,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapErr(err)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (s *Store) UpdateProfile(ctx context.Context, u *model.User) error {
	return mapErr(s.pool.QueryRow(ctx,
		`UPDATE users SET name=$1, bio=$2, avatar_url=$3, updated_at=NOW()
		 WHERE id=$4 RETURNING updated_at`,
		u.Name, u.Bio, u.AvatarURL, u.ID,
	).Scan(&u.UpdatedAt))
}

func (s *Store) SetRole(ctx context.Context, id, role string) error {
	return affected(s.pool.Exec(ctx,
		`UPDATE users SET role=$1, updated_at=NOW() WHERE id=$2`, role, id))
}

// SearchUsers matches name or email, case-insensitively.
func (s *Store) SearchUsers(ctx context.Context, q string, limit int) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userCols+` FROM users
		 WHERE $1 = '' OR name ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%'
		 ORDER BY name LIMIT $3`, q, escapeLike(q), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

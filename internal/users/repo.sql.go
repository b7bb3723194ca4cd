package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avocado-data/avocado/internal/platform/db"
)

const userColumns = `id, username, email, password_hash, is_active, is_superuser, date_joined`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsSuperuser, &u.DateJoined)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// CreateUser inserts user and returns it with its assigned ID.
func (r *Repository) CreateUser(ctx context.Context, user User) (User, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO avocado_users (username, email, password_hash, is_active, is_superuser, date_joined)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+userColumns,
		user.Username, user.Email, user.PasswordHash, user.IsActive, user.IsSuperuser, user.DateJoined)
	created, err := scanUser(row)
	if db.IsUniqueViolation(err) {
		return User{}, ErrDuplicate
	}
	return created, err
}

// GetUser loads a user by ID.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM avocado_users WHERE id = $1`, id))
}

// GetUserByUsername loads a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM avocado_users WHERE username = $1`, username))
}

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM avocado_users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

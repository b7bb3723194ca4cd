package permissions

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Postgres backed Store.
func NewRepository(pool *pgxpool.Pool) Store {
	return &repository{pool: pool}
}

func (r *repository) AssignGrant(ctx context.Context, g Grant) error {
	const query = `INSERT INTO avocado_object_permissions (user_id, codename, content_type, object_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, codename, content_type, object_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, g.UserID, g.Codename, g.ContentType, g.ObjectID, g.CreatedAt)
	return err
}

func (r *repository) RemoveGrant(ctx context.Context, g Grant) error {
	const query = `DELETE FROM avocado_object_permissions
		WHERE user_id = $1 AND codename = $2 AND content_type = $3 AND object_id = $4`
	_, err := r.pool.Exec(ctx, query, g.UserID, g.Codename, g.ContentType, g.ObjectID)
	return err
}

func (r *repository) HasGrant(ctx context.Context, userID int64, codename, contentType string, objectID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM avocado_object_permissions
		WHERE user_id = $1 AND codename = $2 AND content_type = $3 AND object_id = $4)`
	var ok bool
	err := r.pool.QueryRow(ctx, query, userID, codename, contentType, objectID).Scan(&ok)
	return ok, err
}

func (r *repository) GrantedObjectIDs(ctx context.Context, userID int64, codename, contentType string) ([]int64, error) {
	const query = `SELECT object_id FROM avocado_object_permissions
		WHERE user_id = $1 AND codename = $2 AND content_type = $3
		ORDER BY object_id`
	rows, err := r.pool.Query(ctx, query, userID, codename, contentType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repository) ListGrants(ctx context.Context, userID int64) ([]Grant, error) {
	const query = `SELECT user_id, codename, content_type, object_id, created_at
		FROM avocado_object_permissions WHERE user_id = $1
		ORDER BY content_type, object_id, codename`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.UserID, &g.Codename, &g.ContentType, &g.ObjectID, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

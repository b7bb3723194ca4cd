package fields

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avocado-data/avocado/internal/platform/db"
)

const fieldColumns = `id, namespace, model, field_name, data_type, simple_type, label, model_label,
	model_label_plural, description, nullable, published, archived, category_id, created_at, modified_at`

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Postgres backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func scanField(row pgx.Row) (Field, error) {
	var f Field
	var simple string
	err := row.Scan(&f.ID, &f.Namespace, &f.Model, &f.Name, &f.DataType, &simple, &f.Label, &f.ModelLabel,
		&f.ModelLabelPlural, &f.Description, &f.Nullable, &f.Published, &f.Archived, &f.CategoryID, &f.CreatedAt, &f.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Field{}, ErrNotFound
	}
	f.SimpleType = SimpleType(simple)
	return f, err
}

func (r *repository) Get(ctx context.Context, id int64) (Field, error) {
	return scanField(r.pool.QueryRow(ctx, `SELECT `+fieldColumns+` FROM avocado_datafields WHERE id = $1`, id))
}

func (r *repository) GetByNaturalKey(ctx context.Context, key NaturalKey) (Field, error) {
	return scanField(r.pool.QueryRow(ctx, `SELECT `+fieldColumns+` FROM avocado_datafields
		WHERE namespace = $1 AND model = $2 AND field_name = $3`, key.Namespace, key.Model, key.Field))
}

// List uses a dynamic query since every filter is optional.
func (r *repository) List(ctx context.Context, filter ListFilter) ([]Field, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.Namespace != "" {
		add("namespace = ?", filter.Namespace)
	}
	if filter.Model != "" {
		add("model = ?", filter.Model)
	}
	if filter.Published != nil {
		add("published = ?", *filter.Published)
	}
	if filter.Archived != nil {
		add("archived = ?", *filter.Archived)
	}
	if filter.CategoryID != nil {
		add("category_id = ?", *filter.CategoryID)
	}
	if len(filter.IDs) > 0 {
		add("id = ANY(?)", filter.IDs)
	}
	query := `SELECT ` + fieldColumns + ` FROM avocado_datafields`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, f Field) (Field, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO avocado_datafields (namespace, model, field_name, data_type, simple_type,
		label, model_label, model_label_plural, description, nullable, published, archived, category_id, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+fieldColumns,
		f.Namespace, f.Model, f.Name, f.DataType, string(f.SimpleType), f.Label, f.ModelLabel, f.ModelLabelPlural,
		f.Description, f.Nullable, f.Published, f.Archived, f.CategoryID, f.CreatedAt, f.ModifiedAt)
	created, err := scanField(row)
	if db.IsUniqueViolation(err) {
		return Field{}, ErrDuplicate
	}
	return created, err
}

func (r *repository) Update(ctx context.Context, f Field) (Field, error) {
	row := r.pool.QueryRow(ctx, `UPDATE avocado_datafields SET namespace = $2, model = $3, field_name = $4,
		data_type = $5, simple_type = $6, label = $7, model_label = $8, model_label_plural = $9, description = $10,
		nullable = $11, published = $12, archived = $13, category_id = $14, modified_at = $15
		WHERE id = $1 RETURNING `+fieldColumns,
		f.ID, f.Namespace, f.Model, f.Name, f.DataType, string(f.SimpleType), f.Label, f.ModelLabel, f.ModelLabelPlural,
		f.Description, f.Nullable, f.Published, f.Archived, f.CategoryID, f.ModifiedAt)
	saved, err := scanField(row)
	if db.IsUniqueViolation(err) {
		return Field{}, ErrDuplicate
	}
	return saved, err
}

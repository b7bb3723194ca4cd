package concepts

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avocado-data/avocado/internal/platform/db"
)

const conceptColumns = `id, name, description, published, archived, category_id, created_at, modified_at`

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Postgres backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func scanConcept(row pgx.Row) (Concept, error) {
	var c Concept
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Published, &c.Archived, &c.CategoryID, &c.CreatedAt, &c.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Concept{}, ErrNotFound
	}
	return c, err
}

func (r *repository) Get(ctx context.Context, id int64) (Concept, error) {
	return scanConcept(r.pool.QueryRow(ctx, `SELECT `+conceptColumns+` FROM avocado_dataconcepts WHERE id = $1`, id))
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Concept, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
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
	query := `SELECT ` + conceptColumns + ` FROM avocado_dataconcepts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, c Concept) (Concept, error) {
	return scanConcept(r.pool.QueryRow(ctx, `INSERT INTO avocado_dataconcepts
		(name, description, published, archived, category_id, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+conceptColumns,
		c.Name, c.Description, c.Published, c.Archived, c.CategoryID, c.CreatedAt, c.ModifiedAt))
}

func (r *repository) Update(ctx context.Context, c Concept) (Concept, error) {
	return scanConcept(r.pool.QueryRow(ctx, `UPDATE avocado_dataconcepts SET name = $2, description = $3,
		published = $4, archived = $5, category_id = $6, modified_at = $7
		WHERE id = $1 RETURNING `+conceptColumns,
		c.ID, c.Name, c.Description, c.Published, c.Archived, c.CategoryID, c.ModifiedAt))
}

func (r *repository) AddField(ctx context.Context, link ConceptField) (ConceptField, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO avocado_dataconceptfields (concept_id, field_id, name, sort_order)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		link.ConceptID, link.FieldID, link.Name, link.Order).Scan(&link.ID)
	if db.IsUniqueViolation(err) {
		return ConceptField{}, ErrDuplicate
	}
	if err != nil {
		return ConceptField{}, err
	}
	return link, nil
}

func (r *repository) RemoveField(ctx context.Context, conceptID, fieldID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM avocado_dataconceptfields WHERE concept_id = $1 AND field_id = $2`, conceptID, fieldID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) ConceptFields(ctx context.Context, conceptIDs []int64) ([]ConceptField, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, concept_id, field_id, name, sort_order
		FROM avocado_dataconceptfields WHERE concept_id = ANY($1)
		ORDER BY concept_id, sort_order, id`, conceptIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConceptField
	for rows.Next() {
		var link ConceptField
		if err := rows.Scan(&link.ID, &link.ConceptID, &link.FieldID, &link.Name, &link.Order); err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

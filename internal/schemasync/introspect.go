package schemasync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Column describes one introspected table column.
type Column struct {
	Name       string
	DataType   string
	Nullable   bool
	PrimaryKey bool
	ForeignKey bool
	Ordinal    int
}

// Key reports whether the column is a primary or foreign key.
func (c Column) Key() bool {
	return c.PrimaryKey || c.ForeignKey
}

// Table is a model of the namespace with its columns in ordinal order.
type Table struct {
	Name    string
	Columns []Column
}

// Introspector lists the tables of a namespace.
type Introspector interface {
	Tables(ctx context.Context, namespace string) ([]Table, error)
}

// PostgresIntrospector reads a Postgres schema through information_schema
// and pg_index.
type PostgresIntrospector struct {
	pool *pgxpool.Pool
}

func NewPostgresIntrospector(pool *pgxpool.Pool) *PostgresIntrospector {
	return &PostgresIntrospector{pool: pool}
}

const tablesQuery = `
	SELECT t.table_name
	FROM information_schema.tables t
	WHERE t.table_type = 'BASE TABLE' AND t.table_schema = $1
	ORDER BY t.table_name`

// Primary keys come from pg_index so unique indexes promoted to keys are
// detected as well.
const columnsQuery = `
	SELECT
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES' AS is_nullable,
		COALESCE(pk.is_pk, false) AS is_primary_key,
		COALESCE(fk.is_fk, false) AS is_foreign_key,
		c.ordinal_position
	FROM information_schema.columns c
	LEFT JOIN (
		SELECT a.attname AS column_name, true AS is_pk
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE ix.indisprimary = true
		  AND n.nspname = $1
		  AND t.relname = $2
	) pk ON c.column_name = pk.column_name
	LEFT JOIN (
		SELECT DISTINCT kcu.column_name, true AS is_fk
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1
		  AND tc.table_name = $2
	) fk ON c.column_name = fk.column_name
	WHERE c.table_schema = $1 AND c.table_name = $2
	ORDER BY c.ordinal_position`

func (p *PostgresIntrospector) Tables(ctx context.Context, namespace string) ([]Table, error) {
	rows, err := p.pool.Query(ctx, tablesQuery, namespace)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		cols, err := p.columns(ctx, namespace, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, Table{Name: name, Columns: cols})
	}
	return tables, nil
}

func (p *PostgresIntrospector) columns(ctx context.Context, namespace, table string) ([]Column, error) {
	rows, err := p.pool.Query(ctx, columnsQuery, namespace, table)
	if err != nil {
		return nil, fmt.Errorf("query columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.PrimaryKey, &c.ForeignKey, &c.Ordinal); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return cols, nil
}

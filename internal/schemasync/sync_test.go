package schemasync_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/avocado-data/avocado/internal/fields"
	"github.com/avocado-data/avocado/internal/permissions"
	"github.com/avocado-data/avocado/internal/schemasync"
	"github.com/avocado-data/avocado/internal/store/memory"
)

type fakeIntrospector struct {
	tables []schemasync.Table
	err    error
}

func (f fakeIntrospector) Tables(context.Context, string) ([]schemasync.Table, error) {
	return f.tables, f.err
}

func employeeSchema() []schemasync.Table {
	return []schemasync.Table{
		{Name: "office", Columns: []schemasync.Column{
			{Name: "id", DataType: "integer", PrimaryKey: true},
			{Name: "location", DataType: "character varying"},
		}},
		{Name: "title", Columns: []schemasync.Column{
			{Name: "id", DataType: "integer", PrimaryKey: true},
			{Name: "name", DataType: "character varying"},
			{Name: "salary", DataType: "integer", Nullable: true},
			{Name: "boss", DataType: "boolean", Nullable: true},
		}},
		{Name: "employee", Columns: []schemasync.Column{
			{Name: "id", DataType: "integer", PrimaryKey: true},
			{Name: "first_name", DataType: "character varying"},
			{Name: "last_name", DataType: "character varying"},
			{Name: "title_id", DataType: "integer", ForeignKey: true},
			{Name: "office_id", DataType: "integer", ForeignKey: true},
			{Name: "is_manager", DataType: "boolean", Nullable: true},
		}},
	}
}

func newRegistry() *fields.Service {
	return fields.NewService(memory.NewFields(), nil, permissions.NewService(memory.NewGrants(), nil), nil)
}

func TestSyncCreatesFieldsForColumns(t *testing.T) {
	ctx := context.Background()
	registry := newRegistry()
	syncer := schemasync.NewSyncer(fakeIntrospector{tables: employeeSchema()}, registry, nil)
	var out bytes.Buffer

	res, err := syncer.Sync(ctx, schemasync.Options{Namespace: "tests", Out: &out})
	require.NoError(t, err)
	if diff := cmp.Diff(schemasync.Result{Created: 7, Skipped: 5}, res); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
	require.Contains(t, out.String(), "created tests.employee.is_manager\n")

	isManager, err := registry.GetByNaturalKey(ctx, "tests", "employee", "is_manager")
	require.NoError(t, err)
	require.Equal(t, int64(7), isManager.ID)
	require.False(t, isManager.Published)
	require.Equal(t, fields.SimpleTypeBoolean, isManager.SimpleType)
	require.Equal(t, "Is Manager", isManager.Label)

	salary, err := registry.GetByNaturalKey(ctx, "tests", "title", "salary")
	require.NoError(t, err)
	require.Equal(t, fields.SimpleTypeNumber, salary.SimpleType)
	firstName, err := registry.GetByNaturalKey(ctx, "tests", "employee", "first_name")
	require.NoError(t, err)
	require.Equal(t, fields.SimpleTypeString, firstName.SimpleType)

	res, err = syncer.Sync(ctx, schemasync.Options{Namespace: "tests", Quiet: true, Out: &out})
	require.NoError(t, err)
	require.Equal(t, schemasync.Result{Skipped: 12}, res)
}

func TestSyncIncludeKeysAndUpdate(t *testing.T) {
	ctx := context.Background()
	registry := newRegistry()
	schema := employeeSchema()
	syncer := schemasync.NewSyncer(fakeIntrospector{tables: schema}, registry, nil)

	res, err := syncer.Sync(ctx, schemasync.Options{Namespace: "tests", Models: []string{"employee"}, IncludeKeys: true})
	require.NoError(t, err)
	require.Equal(t, schemasync.Result{Created: 6}, res)

	titleID, err := registry.GetByNaturalKey(ctx, "tests", "employee", "title_id")
	require.NoError(t, err)
	require.Equal(t, fields.SimpleTypeKey, titleID.SimpleType)

	schema[2].Columns[5].DataType = "integer"
	var out bytes.Buffer
	res, err = syncer.Sync(ctx, schemasync.Options{Namespace: "tests", Models: []string{"employee"}, Update: true, Quiet: true, Out: &out})
	require.NoError(t, err)
	require.Equal(t, schemasync.Result{Updated: 3, Skipped: 3}, res)
	require.Empty(t, out.String())

	isManager, err := registry.GetByNaturalKey(ctx, "tests", "employee", "is_manager")
	require.NoError(t, err)
	require.Equal(t, fields.SimpleTypeNumber, isManager.SimpleType)
	require.Equal(t, "Is Manager", isManager.Label)
}

func TestSyncErrors(t *testing.T) {
	ctx := context.Background()
	registry := newRegistry()

	_, err := schemasync.NewSyncer(fakeIntrospector{}, registry, nil).Sync(ctx, schemasync.Options{})
	require.ErrorIs(t, err, schemasync.ErrNamespaceRequired)

	_, err = schemasync.NewSyncer(fakeIntrospector{tables: employeeSchema()}, registry, nil).
		Sync(ctx, schemasync.Options{Namespace: "tests", Models: []string{"payroll"}})
	require.ErrorIs(t, err, schemasync.ErrUnknownModel)

	boom := errors.New("connection refused")
	_, err = schemasync.NewSyncer(fakeIntrospector{err: boom}, registry, nil).Sync(ctx, schemasync.Options{Namespace: "tests"})
	require.ErrorIs(t, err, boom)
}

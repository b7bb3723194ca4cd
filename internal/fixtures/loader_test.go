package fixtures_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avocado-data/avocado/internal/categories"
	"github.com/avocado-data/avocado/internal/concepts"
	"github.com/avocado-data/avocado/internal/fields"
	"github.com/avocado-data/avocado/internal/fixtures"
	"github.com/avocado-data/avocado/internal/permissions"
	"github.com/avocado-data/avocado/internal/shared"
	"github.com/avocado-data/avocado/internal/store/memory"
)

const employeeFixture = `[
	// concepts reference fields loaded later in the file order
	{"model": "avocado.dataconcept", "pk": 10, "fields": {"name": "Manager salary", "published": true, "category": 5}},
	{"model": "avocado.dataconceptfield", "pk": 1, "fields": {"concept": 10, "field": 3, "order": 1}},
	{"model": "avocado.dataconceptfield", "pk": 2, "fields": {"concept": 10, "field": 7, "order": 0}},
	{"model": "avocado.datafield", "pk": 3, "fields": {
		"app_name": "tests", "model_name": "title", "field_name": "salary",
		"data_type": "integer", "published": true,
	}},
	{"model": "avocado.datafield", "pk": 7, "fields": {
		"app_name": "tests", "model_name": "employee", "field_name": "is_manager",
		"data_type": "boolean", "name": "Manager?", "published": true,
	}},
	{"model": "avocado.datacategory", "pk": 5, "fields": {"name": "People", "published": true}},
]`

type services struct {
	fields     *fields.Service
	concepts   *concepts.Service
	categories *categories.Service
	loader     *fixtures.Loader
}

func newServices() services {
	perms := permissions.NewService(memory.NewGrants(), nil)
	s := services{fields: fields.NewService(memory.NewFields(), nil, perms, nil)}
	s.concepts = concepts.NewService(memory.NewConcepts(), s.fields, nil, nil)
	s.categories = categories.NewService(memory.NewCategories(), perms)
	s.loader = fixtures.NewLoader(s.fields, s.concepts, s.categories, nil)
	return s
}

func TestLoadResolvesReferences(t *testing.T) {
	ctx := context.Background()
	s := newServices()

	res, err := s.loader.Load(ctx, strings.NewReader(employeeFixture))
	require.NoError(t, err)
	require.Equal(t, 6, res.Objects)
	require.Equal(t, 2, res.ByModel[fixtures.ModelConceptField])

	isManager, err := s.fields.GetByNaturalKey(ctx, "tests", "employee", "is_manager")
	require.NoError(t, err)
	require.Equal(t, "Manager?", isManager.Label)
	require.Equal(t, fields.SimpleTypeBoolean, isManager.SimpleType)

	published, err := s.concepts.Published(ctx, nil)
	require.NoError(t, err)
	require.Len(t, published, 1)
	require.NotNil(t, published[0].CategoryID)

	linked, err := s.concepts.Fields(ctx, published[0].ID)
	require.NoError(t, err)
	require.Equal(t, "is_manager", linked[0].Name)
	require.Equal(t, "salary", linked[1].Name)
}

func TestLoadOverwritesExistingFields(t *testing.T) {
	ctx := context.Background()
	s := newServices()
	_, err := s.fields.Create(ctx, fields.Field{Namespace: "tests", Model: "title", Name: "salary", DataType: "integer"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "fields.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"model": "avocado.datafield", "pk": 1, "fields": {"app_name": "tests", "model_name": "title", "field_name": "salary", "published": true}}
	]`), 0o600))
	_, err = s.loader.LoadFile(ctx, path)
	require.NoError(t, err)

	salary, err := s.fields.GetByNaturalKey(ctx, "tests", "title", "salary")
	require.NoError(t, err)
	require.Equal(t, int64(1), salary.ID)
	require.True(t, salary.Published)
	require.Equal(t, fields.SimpleTypeNumber, salary.SimpleType)
}

func TestParseErrors(t *testing.T) {
	_, err := fixtures.Parse([]byte(`[{"model": "auth.group", "pk": 1, "fields": {}}]`))
	require.ErrorIs(t, err, fixtures.ErrUnknownModel)

	_, err = fixtures.Parse([]byte(`{not json`))
	require.Error(t, err)

	_, err = newServices().loader.Load(context.Background(), strings.NewReader(
		`[{"model": "avocado.dataconceptfield", "pk": 1, "fields": {"concept": 1, "field": 1}}]`))
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLoadInstallsParentCategoriesFirst(t *testing.T) {
	ctx := context.Background()
	s := newServices()

	res, err := s.loader.Load(ctx, strings.NewReader(`[
		{"model": "avocado.datacategory", "pk": 2, "fields": {"name": "Salaries", "parent": 1}},
		{"model": "avocado.datacategory", "pk": 3, "fields": {"name": "Bonuses", "parent": 2}},
		{"model": "avocado.datacategory", "pk": 1, "fields": {"name": "People"}},
	]`))
	require.NoError(t, err)
	require.Equal(t, 3, res.ByModel[fixtures.ModelCategory])

	people, err := s.categories.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "People", people.Name)
	salaries, err := s.categories.Get(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "Salaries", salaries.Name)
	require.NotNil(t, salaries.ParentID)
	require.Equal(t, people.ID, *salaries.ParentID)
	bonuses, err := s.categories.Get(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, salaries.ID, *bonuses.ParentID)

	_, err = newServices().loader.Load(ctx, strings.NewReader(`[
		{"model": "avocado.datacategory", "pk": 1, "fields": {"name": "A", "parent": 2}},
		{"model": "avocado.datacategory", "pk": 2, "fields": {"name": "B", "parent": 1}},
	]`))
	require.ErrorIs(t, err, shared.ErrValidation)
}

package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/avocado-data/avocado/internal/categories"
	"github.com/avocado-data/avocado/internal/concepts"
	"github.com/avocado-data/avocado/internal/fields"
	"github.com/avocado-data/avocado/internal/fixtures"
	"github.com/avocado-data/avocado/internal/permissions"
	"github.com/avocado-data/avocado/internal/schemasync"
	"github.com/avocado-data/avocado/internal/search"
	"github.com/avocado-data/avocado/internal/store/memory"
	"github.com/avocado-data/avocado/internal/users"
	"github.com/avocado-data/avocado/jobs"
)

type staticIntrospector []schemasync.Table

func (s staticIntrospector) Tables(context.Context, string) ([]schemasync.Table, error) {
	return s, nil
}

type stubQueue struct {
	triggered []string
	namespace string
	err       error
}

func (q *stubQueue) Trigger(_ context.Context, name, namespace string) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.triggered = append(q.triggered, name)
	q.namespace = namespace
	return &asynq.TaskInfo{ID: "task-1", Type: name, Queue: jobs.QueueDefault}, nil
}

func (q *stubQueue) InspectQueue(context.Context) (QueueStats, error) {
	return QueueStats{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}, nil
}

type stubMigrator struct{ applied []string }

func (m stubMigrator) Up(context.Context) ([]string, error) { return m.applied, nil }

type harness struct {
	mgmt   *Management
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	fields *fields.Service
	perms  *permissions.Service
	users  *users.Service
	queue  *stubQueue
}

func newHarness(t *testing.T, stdin string) *harness {
	t.Helper()
	perms := permissions.NewService(memory.NewGrants(), nil)
	fieldSvc := fields.NewService(memory.NewFields(), nil, perms, nil)
	conceptSvc := concepts.NewService(memory.NewConcepts(), fieldSvc, nil, nil)
	categorySvc := categories.NewService(memory.NewCategories(), perms)
	userSvc := users.NewService(memory.NewUsers()).WithHashCost(bcrypt.MinCost)

	schema := staticIntrospector{{Name: "employee", Columns: []schemasync.Column{
		{Name: "id", DataType: "integer", PrimaryKey: true},
		{Name: "first_name", DataType: "character varying"},
		{Name: "is_manager", DataType: "boolean"},
	}}}

	h := &harness{
		stdout: new(bytes.Buffer),
		stderr: new(bytes.Buffer),
		fields: fieldSvc,
		perms:  perms,
		users:  userSvc,
		queue:  &stubQueue{},
	}
	h.mgmt = NewManagement(Deps{
		Syncer:           schemasync.NewSyncer(schema, fieldSvc, nil),
		Index:            search.New(fieldSvc, conceptSvc, "", nil),
		Permissions:      perms,
		Users:            userSvc,
		Fixtures:         fixtures.NewLoader(fieldSvc, conceptSvc, categorySvc, nil),
		Jobs:             h.queue,
		Migrator:         stubMigrator{applied: []string{"0001", "0002"}},
		DefaultNamespace: "tests",
	}, Options{Stdin: strings.NewReader(stdin), Stdout: h.stdout, Stderr: h.stderr})
	return h
}

func (h *harness) run(args ...string) int {
	return h.mgmt.Run(context.Background(), args)
}

func TestSyncUsesDefaultNamespace(t *testing.T) {
	h := newHarness(t, "")
	require.Zero(t, h.run("sync"), h.stderr.String())
	require.Contains(t, h.stdout.String(), "created tests.employee.first_name")
	require.Contains(t, h.stdout.String(), "2 created, 0 updated, 1 skipped")

	_, err := h.fields.GetByNaturalKey(context.Background(), "tests", "employee", "is_manager")
	require.NoError(t, err)

	h.stdout.Reset()
	require.Zero(t, h.run("sync", "tests", "--quiet", "--include-keys"))
	require.Empty(t, h.stdout.String())
	_, err = h.fields.GetByNaturalKey(context.Background(), "tests", "employee", "id")
	require.NoError(t, err)
}

func TestSyncUnavailable(t *testing.T) {
	stderr := new(bytes.Buffer)
	mgmt := NewManagement(Deps{SyncUnavailable: errors.New("needs postgres")}, Options{Stderr: stderr, Stdout: new(bytes.Buffer)})
	require.Equal(t, 1, mgmt.Run(context.Background(), []string{"sync"}))
	require.Contains(t, stderr.String(), "needs postgres")
}

func TestRebuildIndexConfirmation(t *testing.T) {
	h := newHarness(t, "n\n")
	require.Zero(t, h.run("rebuild_index"))
	require.Contains(t, h.stdout.String(), "Cancelled.")

	h = newHarness(t, "yes\n")
	require.Zero(t, h.run("rebuild_index"))
	require.Contains(t, h.stdout.String(), "Indexed 0 documents")

	h = newHarness(t, "")
	require.Zero(t, h.run("rebuild_index", "--noinput"))
	require.NotContains(t, h.stdout.String(), "Continue?")
	require.Contains(t, h.stdout.String(), "Indexed")
}

func TestCreateUserAndAssign(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	require.Zero(t, h.run("sync", "--quiet"))
	require.Zero(t, h.run("create_user", "user1", "secret", "--email", "user1@example.com"), h.stderr.String())
	require.Contains(t, h.stdout.String(), "Created user user1")

	require.Zero(t, h.run("assign", "avocado.view_datafield", "user1", "datafield", "2"), h.stderr.String())
	user, err := h.users.GetByUsername(ctx, "user1")
	require.NoError(t, err)
	ok, err := h.perms.Has(ctx, user, "avocado.view_datafield", permissions.Object{ContentType: permissions.ContentTypeField, ID: 2})
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, 1, h.run("assign", "avocado.view_datafield", "user1", "dataconcept", "1"))
	require.Equal(t, 1, h.run("assign", "avocado.view_datafield", "nobody", "datafield", "1"))
	require.Equal(t, 1, h.run("assign", "avocado.view_datafield", "user1", "datafield", "x"))
	require.Equal(t, 1, h.run("assign", "avocado.view_datafield"))
	require.Equal(t, 1, h.run("create_user", "user1", "again"))
}

func TestLoadData(t *testing.T) {
	h := newHarness(t, "")
	path := filepath.Join(t.TempDir(), "fields.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		// one field
		{"model": "avocado.datafield", "pk": 1, "fields": {"app_name": "tests", "model_name": "title", "field_name": "salary", "data_type": "integer"}},
	]`), 0o600))

	require.Zero(t, h.run("loaddata", path), h.stderr.String())
	require.Contains(t, h.stdout.String(), "Installed 1 object(s) from 1 fixture(s)")
	require.Equal(t, 1, h.run("loaddata", filepath.Join(t.TempDir(), "missing.json")))
	require.Equal(t, 1, h.run("loaddata"))
}

func TestJobsCommands(t *testing.T) {
	h := newHarness(t, "")
	require.Zero(t, h.run("jobs", "trigger", jobs.TaskFieldsSync), h.stderr.String())
	require.Equal(t, []string{jobs.TaskFieldsSync}, h.queue.triggered)
	require.Equal(t, "tests", h.queue.namespace)

	require.Zero(t, h.run("jobs", "trigger", jobs.TaskFieldsSync, "--namespace", "hr"))
	require.Equal(t, "hr", h.queue.namespace)

	require.Zero(t, h.run("jobs", "inspect"))
	require.Contains(t, h.stdout.String(), "queue=default pending=2 active=0 scheduled=0 retry=1")

	require.Equal(t, 1, h.run("jobs", "purge"))
	h.queue.err = errors.New("redis down")
	require.Equal(t, 1, h.run("jobs", "trigger", jobs.TaskSearchRebuild))
}

func TestMigrateAndUnknown(t *testing.T) {
	h := newHarness(t, "")
	require.Zero(t, h.run("migrate"))
	require.Contains(t, h.stdout.String(), "Applied 0001, 0002")

	require.Equal(t, 1, h.run("frobnicate"))
	require.Contains(t, h.stderr.String(), `unknown command "frobnicate"`)
	require.Equal(t, 1, h.run())
	require.True(t, IsCommand("loaddata"))
	require.False(t, IsCommand("serve"))
}

func TestJobsCLIRejectsUnknownTask(t *testing.T) {
	c, err := NewJobsCLI("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	_, err = c.Trigger(context.Background(), "nope", "")
	require.ErrorContains(t, err, "unsupported job nope")
}

// Package cli implements the avocado management commands.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/spf13/pflag"

	"github.com/avocado-data/avocado/internal/fixtures"
	"github.com/avocado-data/avocado/internal/permissions"
	"github.com/avocado-data/avocado/internal/schemasync"
	"github.com/avocado-data/avocado/internal/search"
	"github.com/avocado-data/avocado/internal/shared"
	"github.com/avocado-data/avocado/internal/users"
	"github.com/avocado-data/avocado/jobs"
)

// Syncer runs a schema sync.
type Syncer interface {
	Sync(ctx context.Context, opts schemasync.Options) (schemasync.Result, error)
}

// IndexRebuilder rebuilds the search index.
type IndexRebuilder interface {
	Rebuild(ctx context.Context) (search.Stats, error)
}

// Assigner grants object permissions.
type Assigner interface {
	Assign(ctx context.Context, perm string, viewer shared.Viewer, obj permissions.Object) error
}

// UserStore creates and resolves accounts.
type UserStore interface {
	CreateUser(ctx context.Context, in users.CreateInput) (*users.User, error)
	GetByUsername(ctx context.Context, username string) (*users.User, error)
}

// FixtureLoader installs fixture files.
type FixtureLoader interface {
	LoadFile(ctx context.Context, path string) (fixtures.Result, error)
}

// JobQueue enqueues and inspects background jobs.
type JobQueue interface {
	Trigger(ctx context.Context, name, namespace string) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
}

// Migrator applies pending schema migrations.
type Migrator interface {
	Up(ctx context.Context) ([]string, error)
}

// Deps are the services commands run against. A nil dependency makes the
// commands that need it fail with a message instead of panicking.
type Deps struct {
	Syncer           Syncer
	SyncUnavailable  error
	Index            IndexRebuilder
	Permissions      Assigner
	Users            UserStore
	Fixtures         FixtureLoader
	Jobs             JobQueue
	Migrator         Migrator
	DefaultNamespace string
}

// Options wires the command streams. Nil streams default to the process ones.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Management dispatches management subcommands.
type Management struct {
	deps   Deps
	stdin  *bufio.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewManagement builds the command dispatcher.
func NewManagement(deps Deps, opts Options) *Management {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Management{deps: deps, stdin: bufio.NewReader(opts.Stdin), stdout: opts.Stdout, stderr: opts.Stderr}
}

// Commands lists the subcommands Run understands.
var Commands = []string{"sync", "rebuild_index", "assign", "create_user", "loaddata", "jobs", "migrate"}

// IsCommand reports whether name is a management subcommand.
func IsCommand(name string) bool {
	for _, c := range Commands {
		if c == name {
			return true
		}
	}
	return false
}

// Run executes args[0] with the remaining arguments and returns the exit code.
func (m *Management) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		m.usage()
		return 1
	}
	name, rest := args[0], args[1:]
	switch name {
	case "sync":
		return m.sync(ctx, rest)
	case "rebuild_index":
		return m.rebuildIndex(ctx, rest)
	case "assign":
		return m.assign(ctx, rest)
	case "create_user":
		return m.createUser(ctx, rest)
	case "loaddata":
		return m.loadData(ctx, rest)
	case "jobs":
		return m.jobs(ctx, rest)
	case "migrate":
		return m.migrate(ctx, rest)
	default:
		m.errorf("unknown command %q", name)
		m.usage()
		return 1
	}
}

func (m *Management) usage() {
	_, _ = fmt.Fprintln(m.stderr, "usage: avocado <command> [flags]")
	_, _ = fmt.Fprintf(m.stderr, "commands: serve, %s\n", strings.Join(Commands, ", "))
}

func (m *Management) errorf(format string, args ...any) {
	_, _ = fmt.Fprintf(m.stderr, "avocado: "+format+"\n", args...)
}

func (m *Management) flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(m.stderr)
	return fs
}

func (m *Management) sync(ctx context.Context, args []string) int {
	fs := m.flagSet("sync")
	models := fs.StringSlice("models", nil, "restrict the sync to these tables")
	update := fs.Bool("update", false, "refresh type and labels of existing fields")
	includeKeys := fs.Bool("include-keys", false, "register primary and foreign key columns")
	quiet := fs.BoolP("quiet", "q", false, "suppress per field output")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if m.deps.Syncer == nil {
		err := m.deps.SyncUnavailable
		if err == nil {
			err = errors.New("sync is not configured")
		}
		m.errorf("sync: %v", err)
		return 1
	}
	namespace := m.deps.DefaultNamespace
	if fs.NArg() > 1 {
		m.errorf("sync: expected at most one namespace, got %d", fs.NArg())
		return 1
	}
	if fs.NArg() == 1 {
		namespace = fs.Arg(0)
	}
	res, err := m.deps.Syncer.Sync(ctx, schemasync.Options{
		Namespace:   namespace,
		Models:      *models,
		IncludeKeys: *includeKeys,
		Update:      *update,
		Quiet:       *quiet,
		Out:         m.stdout,
	})
	if err != nil {
		m.errorf("sync: %v", err)
		return 1
	}
	if !*quiet {
		_, _ = fmt.Fprintf(m.stdout, "%d created, %d updated, %d skipped\n", res.Created, res.Updated, res.Skipped)
	}
	return 0
}

func (m *Management) rebuildIndex(ctx context.Context, args []string) int {
	fs := m.flagSet("rebuild_index")
	noInput := fs.Bool("noinput", false, "do not prompt for confirmation")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if m.deps.Index == nil {
		m.errorf("rebuild_index: search index is not configured")
		return 1
	}
	if !*noInput && !m.confirm("This will clear and rebuild the search index. Continue? [y/N] ") {
		_, _ = fmt.Fprintln(m.stdout, "Cancelled.")
		return 0
	}
	stats, err := m.deps.Index.Rebuild(ctx)
	if err != nil {
		m.errorf("rebuild_index: %v", err)
		return 1
	}
	_, _ = fmt.Fprintf(m.stdout, "Indexed %d documents (build %s)\n", stats.Documents, stats.BuildID)
	return 0
}

func (m *Management) confirm(prompt string) bool {
	_, _ = fmt.Fprint(m.stdout, prompt)
	line, err := m.stdin.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func (m *Management) assign(ctx context.Context, args []string) int {
	fs := m.flagSet("assign")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 4 {
		m.errorf("assign: usage: assign <permission> <username> <content-type> <id>")
		return 1
	}
	if m.deps.Permissions == nil || m.deps.Users == nil {
		m.errorf("assign: permissions are not configured")
		return 1
	}
	id, err := strconv.ParseInt(fs.Arg(3), 10, 64)
	if err != nil || id <= 0 {
		m.errorf("assign: invalid object id %q", fs.Arg(3))
		return 1
	}
	user, err := m.deps.Users.GetByUsername(ctx, fs.Arg(1))
	if err != nil {
		m.errorf("assign: user %q: %v", fs.Arg(1), err)
		return 1
	}
	obj := permissions.Object{ContentType: strings.ToLower(fs.Arg(2)), ID: id}
	if err := m.deps.Permissions.Assign(ctx, fs.Arg(0), user, obj); err != nil {
		m.errorf("assign: %v", err)
		return 1
	}
	_, _ = fmt.Fprintf(m.stdout, "Granted %s on %s %d to %s\n", fs.Arg(0), obj.ContentType, obj.ID, user.Username)
	return 0
}

func (m *Management) createUser(ctx context.Context, args []string) int {
	fs := m.flagSet("create_user")
	email := fs.String("email", "", "email address")
	superuser := fs.Bool("superuser", false, "grant every permission")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 2 {
		m.errorf("create_user: usage: create_user <username> <password> [--email] [--superuser]")
		return 1
	}
	if m.deps.Users == nil {
		m.errorf("create_user: users are not configured")
		return 1
	}
	user, err := m.deps.Users.CreateUser(ctx, users.CreateInput{
		Username:  fs.Arg(0),
		Password:  fs.Arg(1),
		Email:     *email,
		Superuser: *superuser,
	})
	if err != nil {
		m.errorf("create_user: %v", err)
		return 1
	}
	_, _ = fmt.Fprintf(m.stdout, "Created user %s (id %d)\n", user.Username, user.ID)
	return 0
}

func (m *Management) loadData(ctx context.Context, args []string) int {
	fs := m.flagSet("loaddata")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		m.errorf("loaddata: usage: loaddata <fixture.json>...")
		return 1
	}
	if m.deps.Fixtures == nil {
		m.errorf("loaddata: fixtures are not configured")
		return 1
	}
	total := 0
	for _, path := range fs.Args() {
		res, err := m.deps.Fixtures.LoadFile(ctx, path)
		if err != nil {
			m.errorf("loaddata: %s: %v", path, err)
			return 1
		}
		total += res.Objects
	}
	_, _ = fmt.Fprintf(m.stdout, "Installed %d object(s) from %d fixture(s)\n", total, fs.NArg())
	return 0
}

func (m *Management) jobs(ctx context.Context, args []string) int {
	fs := m.flagSet("jobs")
	namespace := fs.String("namespace", "", "namespace for fields:sync")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if m.deps.Jobs == nil {
		m.errorf("jobs: queue is not configured")
		return 1
	}
	switch fs.Arg(0) {
	case "trigger":
		if fs.NArg() != 2 {
			m.errorf("jobs: usage: jobs trigger <%s|%s> [--namespace]", jobs.TaskSearchRebuild, jobs.TaskFieldsSync)
			return 1
		}
		ns := *namespace
		if ns == "" {
			ns = m.deps.DefaultNamespace
		}
		info, err := m.deps.Jobs.Trigger(ctx, fs.Arg(1), ns)
		if err != nil {
			m.errorf("jobs: %v", err)
			return 1
		}
		_, _ = fmt.Fprintf(m.stdout, "Enqueued %s as %s on queue %s\n", info.Type, info.ID, info.Queue)
	case "inspect":
		stats, err := m.deps.Jobs.InspectQueue(ctx)
		if err != nil {
			m.errorf("jobs: %v", err)
			return 1
		}
		_, _ = fmt.Fprintf(m.stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		m.errorf("jobs: usage: jobs trigger <task> | jobs inspect")
		return 1
	}
	return 0
}

func (m *Management) migrate(ctx context.Context, args []string) int {
	fs := m.flagSet("migrate")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if m.deps.Migrator == nil {
		m.errorf("migrate: requires STORE_DRIVER=postgres")
		return 1
	}
	applied, err := m.deps.Migrator.Up(ctx)
	if err != nil {
		m.errorf("migrate: %v", err)
		return 1
	}
	if len(applied) == 0 {
		_, _ = fmt.Fprintln(m.stdout, "No migrations to apply.")
		return 0
	}
	_, _ = fmt.Fprintf(m.stdout, "Applied %s\n", strings.Join(applied, ", "))
	return 0
}

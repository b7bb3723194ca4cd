package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/avocado-data/avocado/internal/categories"
	"github.com/avocado-data/avocado/internal/concepts"
	"github.com/avocado-data/avocado/internal/fields"
	"github.com/avocado-data/avocado/internal/fixtures"
	"github.com/avocado-data/avocado/internal/permissions"
	"github.com/avocado-data/avocado/internal/platform/cache"
	"github.com/avocado-data/avocado/internal/platform/db"
	"github.com/avocado-data/avocado/internal/querycache"
	"github.com/avocado-data/avocado/internal/schemasync"
	"github.com/avocado-data/avocado/internal/search"
	"github.com/avocado-data/avocado/internal/store/memory"
	"github.com/avocado-data/avocado/internal/users"
)

// ErrSyncUnavailable indicates schema sync was requested without a
// database to introspect.
var ErrSyncUnavailable = errors.New("app: sync requires STORE_DRIVER=postgres")

// Registry bundles the wired services of one process.
type Registry struct {
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Cache       *querycache.Cache
	Fields      *fields.Service
	Concepts    *concepts.Service
	Categories  *categories.Service
	Permissions *permissions.Service
	Users       *users.Service
	Index       *search.Index
	Fixtures    *fixtures.Loader
	syncer      *schemasync.Syncer
}

// Syncer returns the schema syncer, which only exists for Postgres stores.
func (r *Registry) Syncer() (*schemasync.Syncer, error) {
	if r == nil || r.syncer == nil {
		return nil, ErrSyncUnavailable
	}
	return r.syncer, nil
}

// Close releases connections held by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}

// BuildRegistry wires stores, cache and services according to cfg. An
// unreachable Redis degrades to uncached operation. reg may be nil.
func BuildRegistry(ctx context.Context, cfg *Config, logger *slog.Logger, reg prometheus.Registerer) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{}

	client, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, query cache disabled", slog.Any("error", err))
	} else {
		r.Redis = client
		r.Cache = querycache.New(client, cfg.CacheTTL)
		if reg != nil {
			r.Cache.WithMetrics(reg)
		}
	}

	var (
		fieldRepo    fields.Repository
		conceptRepo  concepts.Repository
		categoryRepo categories.Repository
		grantStore   permissions.Store
		userRepo     users.RepositoryPort
	)
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		// Memory stores are private to this process; their IDs restart
		// at 1, so cached entries must not be visible to other processes.
		r.Cache.WithScope(uuid.NewString())
		fieldRepo = memory.NewFields()
		conceptRepo = memory.NewConcepts()
		categoryRepo = memory.NewCategories()
		grantStore = memory.NewGrants()
		userRepo = memory.NewUsers()
	default:
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("app: connect postgres: %w", err)
		}
		r.Pool = pool
		fieldRepo = fields.NewRepository(pool)
		conceptRepo = concepts.NewRepository(pool)
		categoryRepo = categories.NewRepository(pool)
		grantStore = permissions.NewRepository(pool)
		userRepo = users.NewRepository(pool)
	}

	r.Permissions = permissions.NewService(grantStore, logger)
	r.Users = users.NewService(userRepo)
	r.Fields = fields.NewService(fieldRepo, r.Cache, r.Permissions, logger)
	r.Concepts = concepts.NewService(conceptRepo, r.Fields, r.Cache, logger)
	r.Categories = categories.NewService(categoryRepo, r.Permissions)
	r.Index = search.New(r.Fields, r.Concepts, cfg.SearchIndexPath, logger)
	r.Fixtures = fixtures.NewLoader(r.Fields, r.Concepts, r.Categories, logger)
	if r.Pool != nil {
		r.syncer = schemasync.NewSyncer(schemasync.NewPostgresIntrospector(r.Pool), r.Fields, logger)
	}
	return r, nil
}

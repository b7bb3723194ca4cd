package fields

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/avocado-data/avocado/internal/permissions"
	"github.com/avocado-data/avocado/internal/querycache"
	"github.com/avocado-data/avocado/internal/shared"
)

// CacheNamespace groups every cached field query and instance.
const CacheNamespace = "datafield"

var (
	// ErrNotFound indicates the field does not exist.
	ErrNotFound = fmt.Errorf("fields: %w", shared.ErrNotFound)
	// ErrDuplicate indicates a natural key collision.
	ErrDuplicate = fmt.Errorf("fields: %w", shared.ErrDuplicate)
	// ErrValidation indicates an invalid field record.
	ErrValidation = fmt.Errorf("fields: %w", shared.ErrValidation)
)

// Repository persists fields.
type Repository interface {
	Get(ctx context.Context, id int64) (Field, error)
	GetByNaturalKey(ctx context.Context, key NaturalKey) (Field, error)
	List(ctx context.Context, filter ListFilter) ([]Field, error)
	Create(ctx context.Context, field Field) (Field, error)
	Update(ctx context.Context, field Field) (Field, error)
}

// Authorizer narrows object ids to those a viewer may see.
type Authorizer interface {
	FilterVisible(ctx context.Context, viewer shared.Viewer, contentType string, ids []int64) ([]int64, error)
}

// Service exposes the field registry.
type Service struct {
	repo     Repository
	cache    *querycache.Cache
	auth     Authorizer
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the registry. cache may be nil.
func NewService(repo Repository, cache *querycache.Cache, auth Authorizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, auth: auth, validate: validator.New(), logger: logger, now: time.Now}
}

// Get returns the field with id, preferring the instance cache.
func (s *Service) Get(ctx context.Context, id int64) (Field, error) {
	if id <= 0 {
		return Field{}, fmt.Errorf("%w: invalid field ID", ErrValidation)
	}
	field, ok, err := s.Cached(ctx, id)
	if err != nil {
		s.logger.Warn("field instance cache", slog.Int64("id", id), slog.Any("error", err))
	}
	if ok {
		return field, nil
	}
	field, err = s.repo.Get(ctx, id)
	if err != nil {
		return Field{}, err
	}
	if err := s.cache.SetInstance(ctx, CacheNamespace, field.ID, field); err != nil {
		s.logger.Warn("prime field instance cache", slog.Int64("id", id), slog.Any("error", err))
	}
	return field, nil
}

// Cached returns the field with id only when it is held in the instance
// cache.
func (s *Service) Cached(ctx context.Context, id int64) (Field, bool, error) {
	var field Field
	ok, err := s.cache.GetInstance(ctx, CacheNamespace, id, &field)
	if err != nil || !ok {
		return Field{}, false, err
	}
	return field, true, nil
}

// GetByNaturalKey returns the field identified by namespace, model and name.
func (s *Service) GetByNaturalKey(ctx context.Context, namespace, model, name string) (Field, error) {
	return s.repo.GetByNaturalKey(ctx, NaturalKey{Namespace: namespace, Model: model, Field: name})
}

// Filter lists fields matching filter ordered by ID. Results are cached
// until the next write to any field.
func (s *Service) Filter(ctx context.Context, filter ListFilter) ([]Field, error) {
	key, err := s.cache.BuildKey(ctx, CacheNamespace, filter.fingerprint()...)
	if err != nil {
		return nil, fmt.Errorf("fields: cache key: %w", err)
	}
	var out []Field
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		rows, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []Field{}
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Published returns published, unarchived fields. With a viewer the result
// is further restricted to fields the viewer holds a view grant on.
func (s *Service) Published(ctx context.Context, viewer shared.Viewer) ([]Field, error) {
	published, archived := true, false
	rows, err := s.Filter(ctx, ListFilter{Published: &published, Archived: &archived})
	if err != nil {
		return nil, err
	}
	if shared.IsAnonymous(viewer) {
		return rows, nil
	}
	ids := make([]int64, len(rows))
	for i, f := range rows {
		ids[i] = f.ID
	}
	visible, err := s.auth.FilterVisible(ctx, viewer, permissions.ContentTypeField, ids)
	if err != nil {
		return nil, err
	}
	allowed := make(map[int64]struct{}, len(visible))
	for _, id := range visible {
		allowed[id] = struct{}{}
	}
	out := make([]Field, 0, len(visible))
	for _, f := range rows {
		if _, ok := allowed[f.ID]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// PublishedIDs returns the IDs of Published(viewer) as a set.
func (s *Service) PublishedIDs(ctx context.Context, viewer shared.Viewer) (map[int64]struct{}, error) {
	rows, err := s.Published(ctx, viewer)
	if err != nil {
		return nil, err
	}
	set := make(map[int64]struct{}, len(rows))
	for _, f := range rows {
		set[f.ID] = struct{}{}
	}
	return set, nil
}

// Create registers a new field. Missing simple type and labels are derived.
func (s *Service) Create(ctx context.Context, field Field) (Field, error) {
	if field.SimpleType == "" {
		field.SimpleType = InferSimpleType(field.DataType, false)
	}
	fillLabels(&field)
	if err := s.validateField(field); err != nil {
		return Field{}, err
	}
	now := s.now().UTC()
	field.CreatedAt, field.ModifiedAt = now, now
	created, err := s.repo.Create(ctx, field)
	if err != nil {
		return Field{}, err
	}
	return created, s.invalidate(ctx, created)
}

// Save persists changes to an existing field and invalidates cached
// queries so the next read observes the new state.
func (s *Service) Save(ctx context.Context, field Field) (Field, error) {
	if field.ID <= 0 {
		return Field{}, fmt.Errorf("%w: invalid field ID", ErrValidation)
	}
	fillLabels(&field)
	if err := s.validateField(field); err != nil {
		return Field{}, err
	}
	field.ModifiedAt = s.now().UTC()
	saved, err := s.repo.Update(ctx, field)
	if err != nil {
		return Field{}, err
	}
	return saved, s.invalidate(ctx, saved)
}

// SetPublished flips the published flag of field id.
func (s *Service) SetPublished(ctx context.Context, id int64, published bool) (Field, error) {
	field, err := s.repo.Get(ctx, id)
	if err != nil {
		return Field{}, err
	}
	field.Published = published
	return s.Save(ctx, field)
}

// ClearCache drops every cached query and instance.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

func (s *Service) invalidate(ctx context.Context, field Field) error {
	if err := s.cache.Bump(ctx, CacheNamespace); err != nil {
		_ = s.cache.DeleteInstance(ctx, CacheNamespace, field.ID)
		return fmt.Errorf("fields: invalidate cache for %d: %w", field.ID, err)
	}
	if err := s.cache.SetInstance(ctx, CacheNamespace, field.ID, field); err != nil {
		return fmt.Errorf("fields: prime cache for %d: %w", field.ID, err)
	}
	return nil
}

func (s *Service) validateField(field Field) error {
	if err := s.validate.Struct(field); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", ErrValidation, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

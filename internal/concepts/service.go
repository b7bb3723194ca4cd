package concepts

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/avocado-data/avocado/internal/fields"
	"github.com/avocado-data/avocado/internal/querycache"
	"github.com/avocado-data/avocado/internal/shared"
)

// CacheNamespace groups every cached concept query.
const CacheNamespace = "dataconcept"

var (
	// ErrNotFound indicates the concept or link does not exist.
	ErrNotFound = fmt.Errorf("concepts: %w", shared.ErrNotFound)
	// ErrDuplicate indicates the field is already linked to the concept.
	ErrDuplicate = fmt.Errorf("concepts: %w", shared.ErrDuplicate)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("concepts: %w", shared.ErrValidation)
)

// Repository persists concepts and their field links.
type Repository interface {
	Get(ctx context.Context, id int64) (Concept, error)
	List(ctx context.Context, filter ListFilter) ([]Concept, error)
	Create(ctx context.Context, concept Concept) (Concept, error)
	Update(ctx context.Context, concept Concept) (Concept, error)
	AddField(ctx context.Context, link ConceptField) (ConceptField, error)
	RemoveField(ctx context.Context, conceptID, fieldID int64) error
	// ConceptFields returns links of conceptIDs ordered by concept, order
	// and ID.
	ConceptFields(ctx context.Context, conceptIDs []int64) ([]ConceptField, error)
}

// FieldSource is the subset of the field registry concepts depend on.
type FieldSource interface {
	Get(ctx context.Context, id int64) (fields.Field, error)
	PublishedIDs(ctx context.Context, viewer shared.Viewer) (map[int64]struct{}, error)
}

// Service exposes concepts and composes their visibility from their fields.
type Service struct {
	repo     Repository
	fields   FieldSource
	cache    *querycache.Cache
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the concept service. cache may be nil.
func NewService(repo Repository, fieldSource FieldSource, cache *querycache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, fields: fieldSource, cache: cache, validate: validator.New(), logger: logger, now: time.Now}
}

// Get returns the concept with id.
func (s *Service) Get(ctx context.Context, id int64) (Concept, error) {
	if id <= 0 {
		return Concept{}, fmt.Errorf("%w: invalid concept ID", ErrValidation)
	}
	return s.repo.Get(ctx, id)
}

// Filter lists concepts matching filter ordered by ID, cached until the next
// concept write.
func (s *Service) Filter(ctx context.Context, filter ListFilter) ([]Concept, error) {
	key, err := s.cache.BuildKey(ctx, CacheNamespace, filter.fingerprint()...)
	if err != nil {
		return nil, fmt.Errorf("concepts: cache key: %w", err)
	}
	var out []Concept
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		rows, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []Concept{}
		}
		return rows, nil
	})
	return out, err
}

// Links returns the field links of conceptIDs grouped by concept.
func (s *Service) Links(ctx context.Context, conceptIDs []int64) (map[int64][]ConceptField, error) {
	grouped := make(map[int64][]ConceptField, len(conceptIDs))
	if len(conceptIDs) == 0 {
		return grouped, nil
	}
	parts := make([]string, 0, len(conceptIDs)+1)
	parts = append(parts, "links")
	for _, id := range conceptIDs {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	key, err := s.cache.BuildKey(ctx, CacheNamespace, parts...)
	if err != nil {
		return nil, fmt.Errorf("concepts: cache key: %w", err)
	}
	var links []ConceptField
	err = s.cache.FetchJSON(ctx, key, &links, func(ctx context.Context) (interface{}, error) {
		rows, err := s.repo.ConceptFields(ctx, conceptIDs)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []ConceptField{}
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		grouped[link.ConceptID] = append(grouped[link.ConceptID], link)
	}
	return grouped, nil
}

// Published returns published, unarchived concepts whose every field is
// itself published and, when viewer is set, viewable by viewer. Concepts
// without fields are never published.
func (s *Service) Published(ctx context.Context, viewer shared.Viewer) ([]Concept, error) {
	published, archived := true, false
	candidates, err := s.Filter(ctx, ListFilter{Published: &published, Archived: &archived})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Concept{}, nil
	}
	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	links, err := s.Links(ctx, ids)
	if err != nil {
		return nil, err
	}
	visibleFields, err := s.fields.PublishedIDs(ctx, viewer)
	if err != nil {
		return nil, err
	}
	out := make([]Concept, 0, len(candidates))
	for _, c := range candidates {
		if allVisible(links[c.ID], visibleFields) {
			out = append(out, c)
		}
	}
	return out, nil
}

func allVisible(links []ConceptField, visible map[int64]struct{}) bool {
	if len(links) == 0 {
		return false
	}
	for _, link := range links {
		if _, ok := visible[link.FieldID]; !ok {
			return false
		}
	}
	return true
}

// PublishedIDs returns the IDs of Published(viewer) as a set.
func (s *Service) PublishedIDs(ctx context.Context, viewer shared.Viewer) (map[int64]struct{}, error) {
	rows, err := s.Published(ctx, viewer)
	if err != nil {
		return nil, err
	}
	set := make(map[int64]struct{}, len(rows))
	for _, c := range rows {
		set[c.ID] = struct{}{}
	}
	return set, nil
}

// Fields returns the fields linked to concept id in link order.
func (s *Service) Fields(ctx context.Context, id int64) ([]fields.Field, error) {
	links, err := s.Links(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	out := make([]fields.Field, 0, len(links[id]))
	for _, link := range links[id] {
		f, err := s.fields.Get(ctx, link.FieldID)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Create stores a new concept.
func (s *Service) Create(ctx context.Context, concept Concept) (Concept, error) {
	if err := s.validate.Struct(concept); err != nil {
		return Concept{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	now := s.now().UTC()
	concept.CreatedAt, concept.ModifiedAt = now, now
	created, err := s.repo.Create(ctx, concept)
	if err != nil {
		return Concept{}, err
	}
	return created, s.invalidate(ctx)
}

// Save persists changes to an existing concept.
func (s *Service) Save(ctx context.Context, concept Concept) (Concept, error) {
	if concept.ID <= 0 {
		return Concept{}, fmt.Errorf("%w: invalid concept ID", ErrValidation)
	}
	if err := s.validate.Struct(concept); err != nil {
		return Concept{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	concept.ModifiedAt = s.now().UTC()
	saved, err := s.repo.Update(ctx, concept)
	if err != nil {
		return Concept{}, err
	}
	return saved, s.invalidate(ctx)
}

// AddField links field fieldID to concept conceptID.
func (s *Service) AddField(ctx context.Context, link ConceptField) (ConceptField, error) {
	if err := s.validate.Struct(link); err != nil {
		return ConceptField{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := s.repo.Get(ctx, link.ConceptID); err != nil {
		return ConceptField{}, err
	}
	if _, err := s.fields.Get(ctx, link.FieldID); err != nil {
		return ConceptField{}, err
	}
	created, err := s.repo.AddField(ctx, link)
	if err != nil {
		return ConceptField{}, err
	}
	return created, s.invalidate(ctx)
}

// RemoveField unlinks fieldID from conceptID.
func (s *Service) RemoveField(ctx context.Context, conceptID, fieldID int64) error {
	if err := s.repo.RemoveField(ctx, conceptID, fieldID); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

func (s *Service) invalidate(ctx context.Context) error {
	if err := s.cache.Bump(ctx, CacheNamespace); err != nil {
		return fmt.Errorf("concepts: invalidate cache: %w", err)
	}
	return nil
}

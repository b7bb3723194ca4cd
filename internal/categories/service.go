package categories

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/avocado-data/avocado/internal/permissions"
	"github.com/avocado-data/avocado/internal/shared"
)

var (
	// ErrNotFound indicates the category does not exist.
	ErrNotFound = fmt.Errorf("categories: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("categories: %w", shared.ErrValidation)
)

type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Category, int, error)
	Get(ctx context.Context, id int64) (Category, error)
	Create(ctx context.Context, category Category) (Category, error)
	Update(ctx context.Context, category Category) error
	Delete(ctx context.Context, id int64) error
}

// Authorizer narrows object ids to those a viewer may see.
type Authorizer interface {
	FilterVisible(ctx context.Context, viewer shared.Viewer, contentType string, ids []int64) ([]int64, error)
}

type Service struct {
	repo     Repository
	auth     Authorizer
	validate *validator.Validate
}

func NewService(repo Repository, auth Authorizer) *Service {
	return &Service{repo: repo, auth: auth, validate: validator.New()}
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Category, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Category, error) {
	if id <= 0 {
		return Category{}, fmt.Errorf("%w: invalid category ID", ErrValidation)
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, category Category) (Category, error) {
	if err := s.validateCategory(category); err != nil {
		return Category{}, err
	}
	if category.ParentID != nil {
		if _, err := s.repo.Get(ctx, *category.ParentID); err != nil {
			return Category{}, fmt.Errorf("categories: parent: %w", err)
		}
	}
	return s.repo.Create(ctx, category)
}

func (s *Service) Update(ctx context.Context, category Category) error {
	if category.ID <= 0 {
		return fmt.Errorf("%w: invalid category ID", ErrValidation)
	}
	if err := s.validateCategory(category); err != nil {
		return err
	}
	return s.repo.Update(ctx, category)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid category ID", ErrValidation)
	}
	return s.repo.Delete(ctx, id)
}

// Published lists published categories, restricted to those viewer holds a
// view grant on when viewer is set.
func (s *Service) Published(ctx context.Context, viewer shared.Viewer) ([]Category, error) {
	published := true
	rows, _, err := s.repo.List(ctx, ListFilters{Published: &published, SortBy: "order"})
	if err != nil {
		return nil, err
	}
	if shared.IsAnonymous(viewer) {
		return rows, nil
	}
	ids := make([]int64, len(rows))
	for i, c := range rows {
		ids[i] = c.ID
	}
	visible, err := s.auth.FilterVisible(ctx, viewer, permissions.ContentTypeCategory, ids)
	if err != nil {
		return nil, err
	}
	allowed := make(map[int64]struct{}, len(visible))
	for _, id := range visible {
		allowed[id] = struct{}{}
	}
	out := make([]Category, 0, len(visible))
	for _, c := range rows {
		if _, ok := allowed[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

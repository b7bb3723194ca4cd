package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/avocado-data/avocado/internal/categories"
	"github.com/avocado-data/avocado/internal/shared"
)

// Categories is an in-memory categories.Repository.
type Categories struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]categories.Category
}

var _ categories.Repository = (*Categories)(nil)

func NewCategories() *Categories {
	return &Categories{rows: make(map[int64]categories.Category)}
}

func (r *Categories) List(_ context.Context, filters categories.ListFilters) ([]categories.Category, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	search := strings.ToLower(filters.Search)
	out := make([]categories.Category, 0, len(r.rows))
	for _, c := range r.rows {
		if search != "" && !strings.Contains(strings.ToLower(c.Name), search) &&
			!strings.Contains(strings.ToLower(c.Description), search) {
			continue
		}
		if filters.Published != nil && c.Published != *filters.Published {
			continue
		}
		if filters.ParentID != nil && (c.ParentID == nil || *c.ParentID != *filters.ParentID) {
			continue
		}
		c.ParentID = cloneID(c.ParentID)
		out = append(out, c)
	}
	desc := filters.SortDir == "desc"
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if desc {
			a, b = b, a
		}
		switch filters.SortBy {
		case "name":
			if a.Name != b.Name {
				return a.Name < b.Name
			}
		case "order":
			if a.Order != b.Order {
				return a.Order < b.Order
			}
		}
		return a.ID < b.ID
	})
	total := len(out)
	if filters.Limit > 0 {
		start, end := shared.NewPagination(filters.Page, filters.Limit, total).Bounds()
		out = out[start:end]
	}
	return out, total, nil
}

func (r *Categories) Get(_ context.Context, id int64) (categories.Category, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.rows[id]
	if !ok {
		return categories.Category{}, categories.ErrNotFound
	}
	c.ParentID = cloneID(c.ParentID)
	return c, nil
}

func (r *Categories) Create(_ context.Context, c categories.Category) (categories.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	c.ParentID = cloneID(c.ParentID)
	r.rows[c.ID] = c
	return c, nil
}

func (r *Categories) Update(_ context.Context, c categories.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[c.ID]; !ok {
		return categories.ErrNotFound
	}
	c.ParentID = cloneID(c.ParentID)
	r.rows[c.ID] = c
	return nil
}

func (r *Categories) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return categories.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

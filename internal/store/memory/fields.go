package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/avocado-data/avocado/internal/fields"
)

// Fields is an in-memory fields.Repository.
type Fields struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]fields.Field
}

var _ fields.Repository = (*Fields)(nil)

func NewFields() *Fields {
	return &Fields{rows: make(map[int64]fields.Field)}
}

func (r *Fields) Get(_ context.Context, id int64) (fields.Field, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.rows[id]
	if !ok {
		return fields.Field{}, fields.ErrNotFound
	}
	return cloneField(f), nil
}

func (r *Fields) GetByNaturalKey(_ context.Context, key fields.NaturalKey) (fields.Field, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.rows {
		if f.NaturalKey() == key {
			return cloneField(f), nil
		}
	}
	return fields.Field{}, fields.ErrNotFound
}

func (r *Fields) List(_ context.Context, filter fields.ListFilter) ([]fields.Field, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]fields.Field, 0, len(r.rows))
	for _, f := range r.rows {
		if filter.Matches(f) {
			out = append(out, cloneField(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Fields) Create(_ context.Context, field fields.Field) (fields.Field, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.rows {
		if f.NaturalKey() == field.NaturalKey() {
			return fields.Field{}, fields.ErrDuplicate
		}
	}
	r.nextID++
	field.ID = r.nextID
	r.rows[field.ID] = cloneField(field)
	return cloneField(field), nil
}

func (r *Fields) Update(_ context.Context, field fields.Field) (fields.Field, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rows[field.ID]
	if !ok {
		return fields.Field{}, fields.ErrNotFound
	}
	for id, f := range r.rows {
		if id != field.ID && f.NaturalKey() == field.NaturalKey() {
			return fields.Field{}, fields.ErrDuplicate
		}
	}
	field.CreatedAt = existing.CreatedAt
	r.rows[field.ID] = cloneField(field)
	return cloneField(field), nil
}

func cloneField(f fields.Field) fields.Field {
	f.CategoryID = cloneID(f.CategoryID)
	return f
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

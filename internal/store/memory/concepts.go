package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/avocado-data/avocado/internal/concepts"
)

// Concepts is an in-memory concepts.Repository.
type Concepts struct {
	mu         sync.RWMutex
	nextID     int64
	nextLinkID int64
	rows       map[int64]concepts.Concept
	links      map[int64]concepts.ConceptField
}

var _ concepts.Repository = (*Concepts)(nil)

func NewConcepts() *Concepts {
	return &Concepts{
		rows:  make(map[int64]concepts.Concept),
		links: make(map[int64]concepts.ConceptField),
	}
}

func (r *Concepts) Get(_ context.Context, id int64) (concepts.Concept, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.rows[id]
	if !ok {
		return concepts.Concept{}, concepts.ErrNotFound
	}
	c.CategoryID = cloneID(c.CategoryID)
	return c, nil
}

func (r *Concepts) List(_ context.Context, filter concepts.ListFilter) ([]concepts.Concept, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]concepts.Concept, 0, len(r.rows))
	for _, c := range r.rows {
		if filter.Matches(c) {
			c.CategoryID = cloneID(c.CategoryID)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Concepts) Create(_ context.Context, c concepts.Concept) (concepts.Concept, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	c.CategoryID = cloneID(c.CategoryID)
	r.rows[c.ID] = c
	return c, nil
}

func (r *Concepts) Update(_ context.Context, c concepts.Concept) (concepts.Concept, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rows[c.ID]
	if !ok {
		return concepts.Concept{}, concepts.ErrNotFound
	}
	c.CreatedAt = existing.CreatedAt
	c.CategoryID = cloneID(c.CategoryID)
	r.rows[c.ID] = c
	return c, nil
}

func (r *Concepts) AddField(_ context.Context, link concepts.ConceptField) (concepts.ConceptField, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[link.ConceptID]; !ok {
		return concepts.ConceptField{}, concepts.ErrNotFound
	}
	for _, l := range r.links {
		if l.ConceptID == link.ConceptID && l.FieldID == link.FieldID {
			return concepts.ConceptField{}, concepts.ErrDuplicate
		}
	}
	r.nextLinkID++
	link.ID = r.nextLinkID
	r.links[link.ID] = link
	return link, nil
}

func (r *Concepts) RemoveField(_ context.Context, conceptID, fieldID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, l := range r.links {
		if l.ConceptID == conceptID && l.FieldID == fieldID {
			delete(r.links, id)
			return nil
		}
	}
	return concepts.ErrNotFound
}

func (r *Concepts) ConceptFields(_ context.Context, conceptIDs []int64) ([]concepts.ConceptField, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[int64]struct{}, len(conceptIDs))
	for _, id := range conceptIDs {
		want[id] = struct{}{}
	}
	out := make([]concepts.ConceptField, 0)
	for _, l := range r.links {
		if _, ok := want[l.ConceptID]; ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ConceptID != b.ConceptID {
			return a.ConceptID < b.ConceptID
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
	return out, nil
}

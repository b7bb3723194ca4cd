package concepts

import (
	"strconv"
	"strings"
	"time"
)

// Concept groups fields into a single semantic unit.
type Concept struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name" validate:"max=200"`
	Description string    `json:"description"`
	Published   bool      `json:"published"`
	Archived    bool      `json:"archived"`
	CategoryID  *int64    `json:"category_id,omitempty"`
	CreatedAt   time.Time `json:"created"`
	ModifiedAt  time.Time `json:"modified"`
}

// ConceptField links a concept to one of its fields.
type ConceptField struct {
	ID        int64   `json:"id"`
	ConceptID int64   `json:"concept_id" validate:"required,gt=0"`
	FieldID   int64   `json:"field_id" validate:"required,gt=0"`
	Name      string  `json:"name,omitempty" validate:"max=200"`
	Order     float64 `json:"order"`
}

// ListFilter narrows concept listings. Nil pointers do not filter.
type ListFilter struct {
	IDs        []int64
	Published  *bool
	Archived   *bool
	CategoryID *int64
}

func (f ListFilter) fingerprint() []string {
	parts := []string{"concepts"}
	if len(f.IDs) > 0 {
		ids := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		parts = append(parts, "ids="+strings.Join(ids, ","))
	}
	if f.Published != nil {
		parts = append(parts, "published="+strconv.FormatBool(*f.Published))
	}
	if f.Archived != nil {
		parts = append(parts, "archived="+strconv.FormatBool(*f.Archived))
	}
	if f.CategoryID != nil {
		parts = append(parts, "category="+strconv.FormatInt(*f.CategoryID, 10))
	}
	return parts
}

// Matches reports whether c satisfies the filter.
func (f ListFilter) Matches(c Concept) bool {
	if f.Published != nil && c.Published != *f.Published {
		return false
	}
	if f.Archived != nil && c.Archived != *f.Archived {
		return false
	}
	if f.CategoryID != nil && (c.CategoryID == nil || *c.CategoryID != *f.CategoryID) {
		return false
	}
	if len(f.IDs) > 0 {
		for _, id := range f.IDs {
			if id == c.ID {
				return true
			}
		}
		return false
	}
	return true
}

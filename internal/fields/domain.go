package fields

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SimpleType is the coarse type a field's values are presented as.
type SimpleType string

const (
	SimpleTypeBoolean  SimpleType = "boolean"
	SimpleTypeNumber   SimpleType = "number"
	SimpleTypeString   SimpleType = "string"
	SimpleTypeDate     SimpleType = "date"
	SimpleTypeDatetime SimpleType = "datetime"
	SimpleTypeTime     SimpleType = "time"
	SimpleTypeKey      SimpleType = "key"
)

// NaturalKey identifies a field independently of its primary key.
type NaturalKey struct {
	Namespace string
	Model     string
	Field     string
}

func (k NaturalKey) String() string {
	return k.Namespace + "." + k.Model + "." + k.Field
}

// ParseNaturalKey reads "namespace.model.field".
func ParseNaturalKey(raw string) (NaturalKey, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return NaturalKey{}, fmt.Errorf("%w: natural key %q must be namespace.model.field", ErrValidation, raw)
	}
	return NaturalKey{Namespace: parts[0], Model: parts[1], Field: parts[2]}, nil
}

// Field describes one column of the underlying data model.
type Field struct {
	ID               int64      `json:"id"`
	Namespace        string     `json:"namespace" validate:"required,max=200"`
	Model            string     `json:"model" validate:"required,max=200"`
	Name             string     `json:"field" validate:"required,max=200"`
	DataType         string     `json:"data_type"`
	SimpleType       SimpleType `json:"simple_type" validate:"required,oneof=boolean number string date datetime time key"`
	Label            string     `json:"label"`
	ModelLabel       string     `json:"model_label"`
	ModelLabelPlural string     `json:"model_label_plural"`
	Description      string     `json:"description"`
	Nullable         bool       `json:"nullable"`
	Published        bool       `json:"published"`
	Archived         bool       `json:"archived"`
	CategoryID       *int64     `json:"category_id,omitempty"`
	CreatedAt        time.Time  `json:"created"`
	ModifiedAt       time.Time  `json:"modified"`
}

// NaturalKey returns the (namespace, model, field) triple of f.
func (f Field) NaturalKey() NaturalKey {
	return NaturalKey{Namespace: f.Namespace, Model: f.Model, Field: f.Name}
}

// ListFilter narrows field listings. Nil pointers do not filter.
type ListFilter struct {
	IDs        []int64
	Namespace  string
	Model      string
	Published  *bool
	Archived   *bool
	CategoryID *int64
}

func (f ListFilter) fingerprint() []string {
	parts := []string{"ns=" + f.Namespace, "model=" + f.Model}
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

// Matches reports whether field satisfies the filter.
func (f ListFilter) Matches(field Field) bool {
	if f.Namespace != "" && field.Namespace != f.Namespace {
		return false
	}
	if f.Model != "" && field.Model != f.Model {
		return false
	}
	if f.Published != nil && field.Published != *f.Published {
		return false
	}
	if f.Archived != nil && field.Archived != *f.Archived {
		return false
	}
	if f.CategoryID != nil && (field.CategoryID == nil || *field.CategoryID != *f.CategoryID) {
		return false
	}
	if len(f.IDs) > 0 {
		for _, id := range f.IDs {
			if id == field.ID {
				return true
			}
		}
		return false
	}
	return true
}

// Package fixtures loads registry records from JSON fixture files. Comments
// and trailing commas are accepted.
package fixtures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/tailscale/hujson"

	"github.com/avocado-data/avocado/internal/categories"
	"github.com/avocado-data/avocado/internal/concepts"
	"github.com/avocado-data/avocado/internal/fields"
	"github.com/avocado-data/avocado/internal/shared"
)

// Fixture model names.
const (
	ModelCategory     = "avocado.datacategory"
	ModelField        = "avocado.datafield"
	ModelConcept      = "avocado.dataconcept"
	ModelConceptField = "avocado.dataconceptfield"
)

// ErrUnknownModel indicates a fixture record of an unsupported model.
var ErrUnknownModel = fmt.Errorf("fixtures: unknown model: %w", shared.ErrValidation)

// load order so references resolve against already loaded records
var modelRank = map[string]int{
	ModelCategory:     0,
	ModelField:        1,
	ModelConcept:      2,
	ModelConceptField: 3,
}

// Record is one fixture entry.
type Record struct {
	Model  string          `json:"model"`
	PK     int64           `json:"pk"`
	Fields json.RawMessage `json:"fields"`
}

type categoryRecord struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parent      *int64  `json:"parent"`
	Order       float64 `json:"order"`
	Published   bool    `json:"published"`
}

type fieldRecord struct {
	AppName     string `json:"app_name"`
	ModelName   string `json:"model_name"`
	FieldName   string `json:"field_name"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DataType    string `json:"data_type"`
	SimpleType  string `json:"simple_type"`
	Published   bool   `json:"published"`
	Archived    bool   `json:"archived"`
	Category    *int64 `json:"category"`
}

type conceptRecord struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Published   bool   `json:"published"`
	Archived    bool   `json:"archived"`
	Category    *int64 `json:"category"`
}

type conceptFieldRecord struct {
	Concept int64   `json:"concept"`
	Field   int64   `json:"field"`
	Name    string  `json:"name"`
	Order   float64 `json:"order"`
}

// FieldWriter is the field registry surface the loader writes through.
type FieldWriter interface {
	GetByNaturalKey(ctx context.Context, namespace, model, name string) (fields.Field, error)
	Create(ctx context.Context, field fields.Field) (fields.Field, error)
	Save(ctx context.Context, field fields.Field) (fields.Field, error)
}

// ConceptWriter is the concept surface the loader writes through.
type ConceptWriter interface {
	Create(ctx context.Context, concept concepts.Concept) (concepts.Concept, error)
	AddField(ctx context.Context, link concepts.ConceptField) (concepts.ConceptField, error)
}

// CategoryWriter is the category surface the loader writes through.
type CategoryWriter interface {
	Create(ctx context.Context, category categories.Category) (categories.Category, error)
}

// Result counts loaded objects per model.
type Result struct {
	Objects int
	ByModel map[string]int
}

// Loader installs fixture records. Primary keys in a fixture only link
// records of the same file; stored records receive fresh IDs.
type Loader struct {
	fields     FieldWriter
	concepts   ConceptWriter
	categories CategoryWriter
	logger     *slog.Logger
}

func NewLoader(fieldWriter FieldWriter, conceptWriter ConceptWriter, categoryWriter CategoryWriter, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{fields: fieldWriter, concepts: conceptWriter, categories: categoryWriter, logger: logger}
}

// Parse decodes a fixture document.
func Parse(data []byte) ([]Record, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("fixtures: parse: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(standardized, &records); err != nil {
		return nil, fmt.Errorf("fixtures: decode: %w", err)
	}
	for i, rec := range records {
		if _, ok := modelRank[rec.Model]; !ok {
			return nil, fmt.Errorf("%w: record %d: %q", ErrUnknownModel, i, rec.Model)
		}
	}
	return records, nil
}

// LoadFile loads the fixture at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("fixtures: open: %w", err)
	}
	defer f.Close()
	return l.Load(ctx, f)
}

// Load reads and installs every record of r.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("fixtures: read: %w", err)
	}
	records, err := Parse(data)
	if err != nil {
		return Result{}, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return modelRank[records[i].Model] < modelRank[records[j].Model]
	})
	if err := parentsFirst(records); err != nil {
		return Result{}, err
	}

	run := &loadRun{
		Loader:      l,
		categoryIDs: map[int64]int64{},
		fieldIDs:    map[int64]int64{},
		conceptIDs:  map[int64]int64{},
	}
	res := Result{ByModel: map[string]int{}}
	for _, rec := range records {
		if err := run.install(ctx, rec); err != nil {
			return res, fmt.Errorf("fixtures: %s pk=%d: %w", rec.Model, rec.PK, err)
		}
		res.Objects++
		res.ByModel[rec.Model]++
	}
	l.logger.Info("fixtures loaded", slog.Int("objects", res.Objects))
	return res, nil
}

// parentsFirst reorders the leading category records in place so that a
// parent defined in the fixture is installed before its children.
func parentsFirst(records []Record) error {
	n := 0
	for n < len(records) && records[n].Model == ModelCategory {
		n++
	}
	pending := make([]Record, n)
	copy(pending, records[:n])
	defined := make(map[int64]bool, n)
	parents := make(map[int64]*int64, n)
	for _, rec := range pending {
		var in categoryRecord
		if err := json.Unmarshal(rec.Fields, &in); err != nil {
			return fmt.Errorf("fixtures: %s pk=%d: %w", rec.Model, rec.PK, err)
		}
		defined[rec.PK] = true
		parents[rec.PK] = in.Parent
	}

	placed := make(map[int64]bool, n)
	out := records[:0]
	for len(pending) > 0 {
		rest := pending[:0]
		for _, rec := range pending {
			parent := parents[rec.PK]
			if parent == nil || !defined[*parent] || placed[*parent] {
				out = append(out, rec)
				placed[rec.PK] = true
				continue
			}
			rest = append(rest, rec)
		}
		if len(rest) == len(pending) {
			return fmt.Errorf("fixtures: category pk=%d: %w: parent cycle", rest[0].PK, shared.ErrValidation)
		}
		pending = rest
	}
	return nil
}

// loadRun maps fixture primary keys to stored IDs.
type loadRun struct {
	*Loader
	categoryIDs map[int64]int64
	fieldIDs    map[int64]int64
	conceptIDs  map[int64]int64
}

func (r *loadRun) install(ctx context.Context, rec Record) error {
	switch rec.Model {
	case ModelCategory:
		var in categoryRecord
		if err := json.Unmarshal(rec.Fields, &in); err != nil {
			return err
		}
		parent, err := resolve(r.categoryIDs, in.Parent)
		if err != nil {
			return err
		}
		created, err := r.categories.Create(ctx, categories.Category{
			Name: in.Name, Description: in.Description, ParentID: parent, Order: in.Order, Published: in.Published,
		})
		if err != nil {
			return err
		}
		r.categoryIDs[rec.PK] = created.ID
	case ModelField:
		var in fieldRecord
		if err := json.Unmarshal(rec.Fields, &in); err != nil {
			return err
		}
		category, err := resolve(r.categoryIDs, in.Category)
		if err != nil {
			return err
		}
		id, err := r.upsertField(ctx, in, category)
		if err != nil {
			return err
		}
		r.fieldIDs[rec.PK] = id
	case ModelConcept:
		var in conceptRecord
		if err := json.Unmarshal(rec.Fields, &in); err != nil {
			return err
		}
		category, err := resolve(r.categoryIDs, in.Category)
		if err != nil {
			return err
		}
		created, err := r.concepts.Create(ctx, concepts.Concept{
			Name: in.Name, Description: in.Description, Published: in.Published, Archived: in.Archived, CategoryID: category,
		})
		if err != nil {
			return err
		}
		r.conceptIDs[rec.PK] = created.ID
	case ModelConceptField:
		var in conceptFieldRecord
		if err := json.Unmarshal(rec.Fields, &in); err != nil {
			return err
		}
		conceptID, ok := r.conceptIDs[in.Concept]
		if !ok {
			return fmt.Errorf("concept %d: %w", in.Concept, shared.ErrNotFound)
		}
		fieldID, ok := r.fieldIDs[in.Field]
		if !ok {
			return fmt.Errorf("field %d: %w", in.Field, shared.ErrNotFound)
		}
		_, err := r.concepts.AddField(ctx, concepts.ConceptField{ConceptID: conceptID, FieldID: fieldID, Name: in.Name, Order: in.Order})
		return err
	}
	return nil
}

// upsertField overwrites a field with the same natural key.
func (r *loadRun) upsertField(ctx context.Context, in fieldRecord, category *int64) (int64, error) {
	field := fields.Field{
		Namespace:   in.AppName,
		Model:       in.ModelName,
		Name:        in.FieldName,
		DataType:    in.DataType,
		SimpleType:  fields.SimpleType(in.SimpleType),
		Label:       in.Name,
		Description: in.Description,
		Published:   in.Published,
		Archived:    in.Archived,
		CategoryID:  category,
	}
	existing, err := r.fields.GetByNaturalKey(ctx, in.AppName, in.ModelName, in.FieldName)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		created, err := r.fields.Create(ctx, field)
		return created.ID, err
	case err != nil:
		return 0, err
	}
	field.ID = existing.ID
	field.CreatedAt = existing.CreatedAt
	if field.SimpleType == "" {
		field.SimpleType = existing.SimpleType
	}
	if field.DataType == "" {
		field.DataType = existing.DataType
	}
	saved, err := r.fields.Save(ctx, field)
	return saved.ID, err
}

func resolve(ids map[int64]int64, pk *int64) (*int64, error) {
	if pk == nil {
		return nil, nil
	}
	id, ok := ids[*pk]
	if !ok {
		return nil, fmt.Errorf("reference %d: %w", *pk, shared.ErrNotFound)
	}
	return &id, nil
}

// Package schemasync registers the columns of a namespace as data fields.
package schemasync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/avocado-data/avocado/internal/fields"
	"github.com/avocado-data/avocado/internal/shared"
)

var (
	// ErrNamespaceRequired indicates Sync was called without a namespace.
	ErrNamespaceRequired = fmt.Errorf("schemasync: namespace required: %w", shared.ErrValidation)
	// ErrUnknownModel indicates a requested model does not exist in the namespace.
	ErrUnknownModel = fmt.Errorf("schemasync: unknown model: %w", shared.ErrNotFound)
)

// Registry is the subset of the field registry sync writes through.
type Registry interface {
	GetByNaturalKey(ctx context.Context, namespace, model, name string) (fields.Field, error)
	Create(ctx context.Context, field fields.Field) (fields.Field, error)
	Save(ctx context.Context, field fields.Field) (fields.Field, error)
}

// Options controls a sync run.
type Options struct {
	Namespace string
	// Models restricts the run to these tables; empty means every table.
	Models      []string
	IncludeKeys bool
	// Update refreshes the type and labels of fields that already exist.
	Update bool
	Quiet  bool
	Out    io.Writer
}

// Result counts what a sync run did.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Syncer populates the field registry from schema introspection.
type Syncer struct {
	introspector Introspector
	registry     Registry
	logger       *slog.Logger
}

func NewSyncer(introspector Introspector, registry Registry, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{introspector: introspector, registry: registry, logger: logger}
}

// Sync creates a field for every column of opts.Namespace that is not yet
// registered. Key columns are skipped unless opts.IncludeKeys is set.
func (s *Syncer) Sync(ctx context.Context, opts Options) (Result, error) {
	var res Result
	opts.Namespace = strings.TrimSpace(opts.Namespace)
	if opts.Namespace == "" {
		return res, ErrNamespaceRequired
	}
	out := opts.Out
	if out == nil || opts.Quiet {
		out = io.Discard
	}

	tables, err := s.introspector.Tables(ctx, opts.Namespace)
	if err != nil {
		return res, fmt.Errorf("schemasync: introspect %s: %w", opts.Namespace, err)
	}
	tables, err = selectModels(tables, opts.Models)
	if err != nil {
		return res, err
	}

	for _, table := range tables {
		for _, col := range table.Columns {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if col.Key() && !opts.IncludeKeys {
				res.Skipped++
				continue
			}
			action, err := s.syncColumn(ctx, opts, table.Name, col)
			if err != nil {
				return res, err
			}
			key := fields.NaturalKey{Namespace: opts.Namespace, Model: table.Name, Field: col.Name}
			switch action {
			case actionCreated:
				res.Created++
				fmt.Fprintf(out, "created %s\n", key)
			case actionUpdated:
				res.Updated++
				fmt.Fprintf(out, "updated %s\n", key)
			default:
				res.Skipped++
			}
		}
	}

	s.logger.Info("schema sync complete",
		slog.String("namespace", opts.Namespace),
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("skipped", res.Skipped))
	return res, nil
}

type action int

const (
	actionSkipped action = iota
	actionCreated
	actionUpdated
)

func (s *Syncer) syncColumn(ctx context.Context, opts Options, model string, col Column) (action, error) {
	simple := fields.InferSimpleType(col.DataType, col.Key())
	existing, err := s.registry.GetByNaturalKey(ctx, opts.Namespace, model, col.Name)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		_, err := s.registry.Create(ctx, fields.Field{
			Namespace:  opts.Namespace,
			Model:      model,
			Name:       col.Name,
			DataType:   col.DataType,
			SimpleType: simple,
			Nullable:   col.Nullable,
		})
		if err != nil {
			return actionSkipped, fmt.Errorf("schemasync: create %s.%s: %w", model, col.Name, err)
		}
		return actionCreated, nil
	case err != nil:
		return actionSkipped, fmt.Errorf("schemasync: lookup %s.%s: %w", model, col.Name, err)
	}

	if !opts.Update {
		return actionSkipped, nil
	}
	existing.DataType = col.DataType
	existing.SimpleType = simple
	existing.Nullable = col.Nullable
	existing.Label, existing.ModelLabel, existing.ModelLabelPlural = "", "", ""
	if _, err := s.registry.Save(ctx, existing); err != nil {
		return actionSkipped, fmt.Errorf("schemasync: update %s.%s: %w", model, col.Name, err)
	}
	return actionUpdated, nil
}

func selectModels(tables []Table, models []string) ([]Table, error) {
	if len(models) == 0 {
		return tables, nil
	}
	byName := make(map[string]Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	out := make([]Table, 0, len(models))
	for _, m := range models {
		t, ok := byName[strings.TrimSpace(m)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModel, m)
		}
		out = append(out, t)
	}
	return out, nil
}

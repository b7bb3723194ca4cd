// Package api serves the read-only registry endpoints. Every response is
// scoped to the request viewer.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/avocado-data/avocado/internal/categories"
	"github.com/avocado-data/avocado/internal/concepts"
	"github.com/avocado-data/avocado/internal/fields"
	"github.com/avocado-data/avocado/internal/platform/httpx"
	"github.com/avocado-data/avocado/internal/search"
	"github.com/avocado-data/avocado/internal/shared"
)

const defaultSearchLimit = 20

// FieldService is the field registry surface the API reads.
type FieldService interface {
	Get(ctx context.Context, id int64) (fields.Field, error)
	Published(ctx context.Context, viewer shared.Viewer) ([]fields.Field, error)
	PublishedIDs(ctx context.Context, viewer shared.Viewer) (map[int64]struct{}, error)
}

// ConceptService is the concept surface the API reads.
type ConceptService interface {
	Get(ctx context.Context, id int64) (concepts.Concept, error)
	Fields(ctx context.Context, id int64) ([]fields.Field, error)
	Published(ctx context.Context, viewer shared.Viewer) ([]concepts.Concept, error)
	PublishedIDs(ctx context.Context, viewer shared.Viewer) (map[int64]struct{}, error)
}

// CategoryService is the category surface the API reads.
type CategoryService interface {
	Published(ctx context.Context, viewer shared.Viewer) ([]categories.Category, error)
}

// Searcher answers search queries.
type Searcher interface {
	Search(ctx context.Context, q string, viewer shared.Viewer, limit int) ([]search.Hit, error)
}

// Handler serves /api routes.
type Handler struct {
	logger     *slog.Logger
	fields     FieldService
	concepts   ConceptService
	categories CategoryService
	search     Searcher
}

// NewHandler builds the API handler.
func NewHandler(logger *slog.Logger, fieldSvc FieldService, conceptSvc ConceptService, categorySvc CategoryService, searcher Searcher) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, fields: fieldSvc, concepts: conceptSvc, categories: categorySvc, search: searcher}
}

// MountRoutes registers the API routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/fields", h.listFields)
	r.Get("/fields/{id}", h.getField)
	r.Get("/concepts", h.listConcepts)
	r.Get("/concepts/{id}", h.getConcept)
	r.Get("/categories", h.listCategories)
	r.Get("/search", h.searchRecords)
}

// ConceptDetail is a concept with its linked fields.
type ConceptDetail struct {
	concepts.Concept
	Fields []fields.Field `json:"fields"`
}

func (h *Handler) listFields(w http.ResponseWriter, r *http.Request) {
	rows, err := h.fields.Published(r.Context(), shared.ViewerFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, rows)
}

func (h *Handler) getField(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.requireVisible(ctx, h.fields.PublishedIDs, id, "field"); err != nil {
		h.fail(w, r, err)
		return
	}
	field, err := h.fields.Get(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, field)
}

func (h *Handler) listConcepts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.concepts.Published(r.Context(), shared.ViewerFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, rows)
}

func (h *Handler) getConcept(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.requireVisible(ctx, h.concepts.PublishedIDs, id, "concept"); err != nil {
		h.fail(w, r, err)
		return
	}
	concept, err := h.concepts.Get(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	linked, err := h.concepts.Fields(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ConceptDetail{Concept: concept, Fields: linked})
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	rows, err := h.categories.Published(r.Context(), shared.ViewerFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, rows)
}

func (h *Handler) searchRecords(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		httpx.RespondError(w, fmt.Errorf("%w: query parameter q is required", shared.ErrValidation))
		return
	}
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.RespondError(w, fmt.Errorf("%w: limit must be a positive integer", shared.ErrValidation))
			return
		}
		limit = n
	}
	hits, err := h.search.Search(r.Context(), q, shared.ViewerFromContext(r.Context()), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, hits)
}

// requireVisible hides records outside the viewer's published set behind a
// not found error, so their existence is not disclosed.
func (h *Handler) requireVisible(ctx context.Context, published func(context.Context, shared.Viewer) (map[int64]struct{}, error), id int64, kind string) error {
	set, err := published(ctx, shared.ViewerFromContext(ctx))
	if err != nil {
		return err
	}
	if _, ok := set[id]; !ok {
		return fmt.Errorf("api: %s %d: %w", kind, id, shared.ErrNotFound)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrValidation) {
		h.logger.Error("api request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", shared.ErrValidation))
		return 0, false
	}
	return id, true
}

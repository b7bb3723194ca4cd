// Package search maintains an inverted index over fields and concepts and
// answers queries scoped to a viewer's published records.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/avocado-data/avocado/internal/concepts"
	"github.com/avocado-data/avocado/internal/fields"
	"github.com/avocado-data/avocado/internal/shared"
)

// Document kinds.
const (
	KindField   = "field"
	KindConcept = "concept"
)

// ErrNoSnapshot indicates no snapshot exists at the configured path.
var ErrNoSnapshot = errors.New("search: no snapshot")

// FieldSource supplies indexed fields and the viewer scoped published set.
type FieldSource interface {
	Filter(ctx context.Context, filter fields.ListFilter) ([]fields.Field, error)
	PublishedIDs(ctx context.Context, viewer shared.Viewer) (map[int64]struct{}, error)
}

// ConceptSource supplies indexed concepts and the viewer scoped published set.
type ConceptSource interface {
	Filter(ctx context.Context, filter concepts.ListFilter) ([]concepts.Concept, error)
	PublishedIDs(ctx context.Context, viewer shared.Viewer) (map[int64]struct{}, error)
}

// Document is one indexed record.
type Document struct {
	Kind  string `json:"kind"`
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type docKey struct {
	kind string
	id   int64
}

// Hit is a search result.
type Hit struct {
	Document
	Score int `json:"score"`
}

// Stats describes the current index build.
type Stats struct {
	BuildID   string    `json:"build_id"`
	BuiltAt   time.Time `json:"built_at"`
	Documents int       `json:"documents"`
	Terms     int       `json:"terms"`
}

type snapshot struct {
	BuildID   string     `json:"build_id"`
	BuiltAt   time.Time  `json:"built_at"`
	Documents []Document `json:"documents"`
}

// Index is safe for concurrent use; Rebuild swaps the whole index at once.
type Index struct {
	fields   FieldSource
	concepts ConceptSource
	path     string
	logger   *slog.Logger

	mu       sync.RWMutex
	docs     map[docKey]Document
	postings map[string]map[docKey]int
	buildID  string
	builtAt  time.Time
}

// New builds an empty index. path may be empty to disable snapshots.
func New(fieldSource FieldSource, conceptSource ConceptSource, path string, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		fields:   fieldSource,
		concepts: conceptSource,
		path:     path,
		logger:   logger,
		docs:     map[docKey]Document{},
		postings: map[string]map[docKey]int{},
	}
}

// Rebuild reindexes every field and concept and writes a snapshot.
func (ix *Index) Rebuild(ctx context.Context) (Stats, error) {
	var (
		fieldRows   []fields.Field
		conceptRows []concepts.Concept
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := ix.fields.Filter(gctx, fields.ListFilter{})
		fieldRows = rows
		return err
	})
	g.Go(func() error {
		rows, err := ix.concepts.Filter(gctx, concepts.ListFilter{})
		conceptRows = rows
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("search: load documents: %w", err)
	}

	docs := make([]Document, 0, len(fieldRows)+len(conceptRows))
	for _, f := range fieldRows {
		docs = append(docs, fieldDocument(f))
	}
	for _, c := range conceptRows {
		docs = append(docs, Document{Kind: KindConcept, ID: c.ID, Title: c.Name, Text: c.Description})
	}

	snap := snapshot{BuildID: uuid.NewString(), BuiltAt: time.Now().UTC(), Documents: docs}
	ix.install(snap)
	if err := ix.save(snap); err != nil {
		return ix.Stats(), err
	}
	stats := ix.Stats()
	ix.logger.Info("search index rebuilt",
		slog.String("build_id", stats.BuildID),
		slog.Int("documents", stats.Documents),
		slog.Int("terms", stats.Terms))
	return stats, nil
}

func fieldDocument(f fields.Field) Document {
	text := strings.Join([]string{f.Name, f.Model, f.ModelLabel, f.ModelLabelPlural, f.Description}, " ")
	return Document{Kind: KindField, ID: f.ID, Title: f.Label, Text: text}
}

func (ix *Index) install(snap snapshot) {
	docs := make(map[docKey]Document, len(snap.Documents))
	postings := make(map[string]map[docKey]int)
	for _, d := range snap.Documents {
		k := docKey{kind: d.Kind, id: d.ID}
		docs[k] = d
		for _, term := range append(Tokenize(d.Title), Tokenize(d.Text)...) {
			if postings[term] == nil {
				postings[term] = make(map[docKey]int)
			}
			postings[term][k]++
		}
	}
	ix.mu.Lock()
	ix.docs, ix.postings = docs, postings
	ix.buildID, ix.builtAt = snap.BuildID, snap.BuiltAt
	ix.mu.Unlock()
}

// Clear empties the index in memory. The snapshot on disk is kept.
func (ix *Index) Clear() {
	ix.install(snapshot{})
}

// Stats reports the current build.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{BuildID: ix.buildID, BuiltAt: ix.builtAt, Documents: len(ix.docs), Terms: len(ix.postings)}
}

// Search returns documents matching every term of q, restricted to records
// in viewer's published set. The last term matches as a prefix.
func (ix *Index) Search(ctx context.Context, q string, viewer shared.Viewer, limit int) ([]Hit, error) {
	terms := Tokenize(q)
	if len(terms) == 0 {
		return []Hit{}, nil
	}
	// install swaps in fresh maps and never mutates installed ones. Both are
	// read under one lock so postings always pair with their own documents.
	ix.mu.RLock()
	docs, postings := ix.docs, ix.postings
	ix.mu.RUnlock()

	scores := match(postings, terms)
	if len(scores) == 0 {
		return []Hit{}, nil
	}

	visibleFields, err := ix.fields.PublishedIDs(ctx, viewer)
	if err != nil {
		return nil, err
	}
	visibleConcepts, err := ix.concepts.PublishedIDs(ctx, viewer)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(scores))
	for k, score := range scores {
		visible := visibleFields
		if k.kind == KindConcept {
			visible = visibleConcepts
		}
		if _, ok := visible[k.id]; !ok {
			continue
		}
		doc, ok := docs[k]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Document: doc, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func match(postings map[string]map[docKey]int, terms []string) map[docKey]int {
	var scores map[docKey]int
	for i, term := range terms {
		found := make(map[docKey]int)
		if i == len(terms)-1 {
			for indexed, docs := range postings {
				if strings.HasPrefix(indexed, term) {
					for k, tf := range docs {
						found[k] += tf
					}
				}
			}
		} else {
			for k, tf := range postings[term] {
				found[k] += tf
			}
		}
		if scores == nil {
			scores = found
			continue
		}
		for k := range scores {
			if tf, ok := found[k]; ok {
				scores[k] += tf
			} else {
				delete(scores, k)
			}
		}
	}
	return scores
}

func (ix *Index) save(snap snapshot) error {
	if ix.path == "" {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("search: encode snapshot: %w", err)
	}
	if err := atomic.WriteFile(ix.path, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("search: write snapshot: %w", err)
	}
	return nil
}

// Load replaces the index with the snapshot on disk.
func (ix *Index) Load() error {
	if ix.path == "" {
		return ErrNoSnapshot
	}
	payload, err := os.ReadFile(ix.path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoSnapshot
	}
	if err != nil {
		return fmt.Errorf("search: read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return fmt.Errorf("search: decode snapshot: %w", err)
	}
	ix.install(snap)
	return nil
}

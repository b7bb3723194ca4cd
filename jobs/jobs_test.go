package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/avocado-data/avocado/internal/jobs"
	"github.com/avocado-data/avocado/internal/schemasync"
	"github.com/avocado-data/avocado/internal/search"
)

type stubRebuilder struct {
	calls int
	err   error
}

func (s *stubRebuilder) Rebuild(context.Context) (search.Stats, error) {
	s.calls++
	return search.Stats{BuildID: "b1", Documents: 4}, s.err
}

type stubSyncer struct {
	last schemasync.Options
}

func (s *stubSyncer) Sync(_ context.Context, opts schemasync.Options) (schemasync.Result, error) {
	s.last = opts
	return schemasync.Result{Created: 7, Skipped: 5}, nil
}

func TestSearchRebuildJob(t *testing.T) {
	rebuilder := &stubRebuilder{}
	job := NewSearchRebuildJob(rebuilder, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewSearchRebuildTask("manual")
	require.NoError(t, err)
	require.Equal(t, TaskSearchRebuild, task.Type())
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, rebuilder.calls)

	rebuilder.err = errors.New("disk full")
	require.ErrorIs(t, job.Handle(context.Background(), task), rebuilder.err)

	err = job.Handle(context.Background(), asynq.NewTask(TaskSearchRebuild, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestFieldsSyncJobDefaultsNamespace(t *testing.T) {
	syncer := &stubSyncer{}
	job := NewFieldsSyncJob(syncer, "public", nil, nil)

	task, err := NewFieldsSyncTask(FieldsSyncPayload{Models: []string{"employee"}, Update: true})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, schemasync.Options{Namespace: "public", Models: []string{"employee"}, Update: true, Quiet: true}, syncer.last)

	job.DefaultNamespace = ""
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, QueueDefault, body.Queue)
}

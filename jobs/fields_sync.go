package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/avocado-data/avocado/internal/jobs"
	"github.com/avocado-data/avocado/internal/schemasync"
)

// FieldSyncer runs a schema sync.
type FieldSyncer interface {
	Sync(ctx context.Context, opts schemasync.Options) (schemasync.Result, error)
}

// FieldsSyncJob handles fields:sync tasks.
type FieldsSyncJob struct {
	Syncer           FieldSyncer
	DefaultNamespace string
	Logger           *slog.Logger
	Metrics          *jobmetrics.Metrics
}

// NewFieldsSyncJob wires dependencies for the sync handler. defaultNamespace
// is used when a task names none.
func NewFieldsSyncJob(syncer FieldSyncer, defaultNamespace string, logger *slog.Logger, metrics *jobmetrics.Metrics) *FieldsSyncJob {
	return &FieldsSyncJob{Syncer: syncer, DefaultNamespace: defaultNamespace, Logger: logger, Metrics: metrics}
}

// Handle processes fields:sync tasks.
func (j *FieldsSyncJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Syncer == nil {
		return errors.New("fields sync: handler not configured")
	}
	var payload FieldsSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Namespace == "" {
		payload.Namespace = j.DefaultNamespace
	}
	if payload.Namespace == "" {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskFieldsSync)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := loggerOrDefault(j.Logger).With(slog.String("namespace", payload.Namespace))
	res, err := j.Syncer.Sync(ctx, schemasync.Options{
		Namespace:   payload.Namespace,
		Models:      payload.Models,
		Update:      payload.Update,
		IncludeKeys: payload.IncludeKeys,
		Quiet:       true,
	})
	if err != nil {
		logger.Error("fields sync", slog.Any("error", err))
		return err
	}
	j.Metrics.AddSynced(payload.Namespace, "created", res.Created)
	j.Metrics.AddSynced(payload.Namespace, "updated", res.Updated)
	j.Metrics.AddSynced(payload.Namespace, "skipped", res.Skipped)
	return nil
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/avocado-data/avocado/internal/jobs"
	"github.com/avocado-data/avocado/internal/search"
)

// IndexRebuilder rebuilds the search index.
type IndexRebuilder interface {
	Rebuild(ctx context.Context) (search.Stats, error)
}

// SearchRebuildJob handles search:rebuild tasks.
type SearchRebuildJob struct {
	Index   IndexRebuilder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSearchRebuildJob wires dependencies for the rebuild handler.
func NewSearchRebuildJob(index IndexRebuilder, logger *slog.Logger, metrics *jobmetrics.Metrics) *SearchRebuildJob {
	return &SearchRebuildJob{Index: index, Logger: logger, Metrics: metrics}
}

// Handle processes search:rebuild tasks.
func (j *SearchRebuildJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Index == nil {
		return errors.New("search rebuild: handler not configured")
	}
	var payload SearchRebuildPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskSearchRebuild)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := loggerOrDefault(j.Logger).With(slog.String("reason", payload.Reason))
	stats, err := j.Index.Rebuild(ctx)
	if err != nil {
		logger.Error("search rebuild", slog.Any("error", err))
		return err
	}
	j.Metrics.SetIndexedDocuments(stats.Documents)
	logger.Info("search rebuild complete", slog.String("build_id", stats.BuildID), slog.Int("documents", stats.Documents))
	return nil
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSearchRebuild rebuilds the search index.
	TaskSearchRebuild = "search:rebuild"
	// TaskFieldsSync registers the columns of a namespace as fields.
	TaskFieldsSync = "fields:sync"
)

// SearchRebuildPayload describes why an index rebuild was requested.
type SearchRebuildPayload struct {
	Reason string `json:"reason,omitempty"`
}

// FieldsSyncPayload carries the sync options of a fields:sync task.
type FieldsSyncPayload struct {
	Namespace   string   `json:"namespace"`
	Models      []string `json:"models,omitempty"`
	Update      bool     `json:"update,omitempty"`
	IncludeKeys bool     `json:"include_keys,omitempty"`
}

// NewSearchRebuildTask builds a search:rebuild task.
func NewSearchRebuildTask(reason string) (*asynq.Task, error) {
	body, err := json.Marshal(SearchRebuildPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSearchRebuild, body, asynq.Queue(QueueDefault)), nil
}

// NewFieldsSyncTask builds a fields:sync task.
func NewFieldsSyncTask(payload FieldsSyncPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFieldsSync, body, asynq.Queue(QueueDefault)), nil
}

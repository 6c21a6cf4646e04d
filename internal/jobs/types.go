package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskIngest = "file:ingest"
	TaskDrain  = "queue:drain"
	TaskClear  = "queue:clear"
	TaskStatus = "queue:status"
)

// DuplicateWindow is how long an identical upload is ignored.
const DuplicateWindow = 10 * time.Second

// ErrDuplicate is returned when the same file is already being processed.
var ErrDuplicate = errors.New("file is already being processed")

// IngestPayload describes an uploaded file. It carries no message id, so the
// same file sent twice yields the same payload and the uniqueness lock holds.
type IngestPayload struct {
	ChatID       int64  `json:"chat_id"`
	UserID       int64  `json:"user_id"`
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	Kind         string `json:"kind"` // video | audio | document
	Size         int64  `json:"size"`
	DurationSec  int    `json:"duration_s"`
	Caption      string `json:"caption"`
	NewName      string `json:"new_name,omitempty"` // typed by the user, overrides auto rename
}

type QueuePayload struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

// Enqueuer is the part of *asynq.Client the bot uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func NewIngestTask(p IngestPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIngest, b, asynq.MaxRetry(3), asynq.Unique(DuplicateWindow)), nil
}

// NewQueueTask builds a drain, clear or status request. Queue operations are
// not retried: the user can ask again.
func NewQueueTask(typename string, p QueuePayload) (*asynq.Task, error) {
	switch typename {
	case TaskDrain, TaskClear, TaskStatus:
	default:
		return nil, fmt.Errorf("unknown queue task %q", typename)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typename, b, asynq.MaxRetry(0)), nil
}

// EnqueueIngest queues an upload, mapping asynq's uniqueness conflict to
// ErrDuplicate.
func EnqueueIngest(ctx context.Context, c Enqueuer, p IngestPayload) error {
	t, err := NewIngestTask(p)
	if err != nil {
		return err
	}
	if _, err := c.EnqueueContext(ctx, t); err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return ErrDuplicate
		}
		return fmt.Errorf("enqueue %s: %w", TaskIngest, err)
	}
	return nil
}

func EnqueueQueue(ctx context.Context, c Enqueuer, typename string, p QueuePayload) error {
	t, err := NewQueueTask(typename, p)
	if err != nil {
		return err
	}
	if _, err := c.EnqueueContext(ctx, t); err != nil {
		return fmt.Errorf("enqueue %s: %w", typename, err)
	}
	return nil
}

// Decode unmarshals a task payload. A malformed payload never becomes valid,
// so the error skips retries.
func Decode[T any](t *asynq.Task) (T, error) {
	var p T
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return p, nil
}

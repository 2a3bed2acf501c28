package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// ValidateDocumentTask asks a worker to validate a file already stored
	// on the backend.
	ValidateDocumentTask = "document:validate"

	maxRetry = 5
	timeout  = 2 * time.Minute
)

// ErrAlreadyQueued is returned when a validation for the file is still
// pending in the queue.
var ErrAlreadyQueued = errors.New("validation already queued")

// ValidatePayload is serialized into the task payload so the worker knows
// which backend file to validate.
type ValidatePayload struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename,omitempty"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewValidateTask builds the task. The task id is derived from the file id so
// a file is queued at most once at a time.
func NewValidateTask(payload ValidatePayload) (*asynq.Task, []asynq.Option, error) {
	if payload.FileID == "" {
		return nil, nil, errors.New("file id is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
		asynq.TaskID("validate:" + payload.FileID),
	}
	return asynq.NewTask(ValidateDocumentTask, data), opts, nil
}

// DecodeValidate reads the payload of a validate task.
func DecodeValidate(task *asynq.Task) (ValidatePayload, error) {
	var payload ValidatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.FileID == "" {
		return payload, errors.New("decode payload: missing file_id")
	}
	return payload, nil
}

// EnqueueValidate enqueues a validation job and returns the task id.
func EnqueueValidate(ctx context.Context, client Enqueuer, payload ValidatePayload) (string, error) {
	task, opts, err := NewValidateTask(payload)
	if err != nil {
		return "", err
	}
	info, err := client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return "", fmt.Errorf("%s: %w", payload.FileID, ErrAlreadyQueued)
		}
		return "", fmt.Errorf("enqueue validate task: %w", err)
	}
	return info.ID, nil
}

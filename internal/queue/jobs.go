package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// GenerateLabelsTask is scheduled each time a generation is accepted.
	GenerateLabelsTask = "labels:generate"

	maxRetry = 5
	timeout  = 10 * time.Minute
)

// GeneratePayload names the generation row; inputs are read from object
// storage by the worker.
type GeneratePayload struct {
	GenerationID string `json:"generation_id"`
}

// Dispatcher hands a generation to whatever runs jobs: asynq in deployments,
// processing.Pool for single-process runs.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload GeneratePayload) error
}

// NewGenerateTask builds the asynq task for payload. The generation id doubles
// as the task id, so a double submit is rejected by asynq.
func NewGenerateTask(payload GeneratePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(GenerateLabelsTask, data,
		asynq.TaskID(payload.GenerationID),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
	), nil
}

// DecodeGenerate reads the payload of a GenerateLabelsTask.
func DecodeGenerate(task *asynq.Task) (GeneratePayload, error) {
	var payload GeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.GenerationID == "" {
		return payload, fmt.Errorf("decode payload: missing generation_id")
	}
	return payload, nil
}

// AsynqDispatcher enqueues generation tasks on Redis.
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(client *asynq.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client}
}

// Dispatch enqueues a label generation job.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, payload GeneratePayload) error {
	task, err := NewGenerateTask(payload)
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue generate task: %w", err)
	}
	return nil
}

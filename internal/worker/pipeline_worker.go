package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/service"
)

// PipelineWorker processes video:generate tasks
type PipelineWorker struct {
	supervisor *Supervisor
	log        logger.Logger
}

// NewPipelineWorker creates a new pipeline worker
func NewPipelineWorker(supervisor *Supervisor, log logger.Logger) *PipelineWorker {
	return &PipelineWorker{
		supervisor: supervisor,
		log:        logger.WithComponent(log, "worker"),
	}
}

// ProcessTask handles video task processing. Failures are never retried by
// asynq; the job record already carries the outcome.
func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload service.VideoTaskPayload
	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := taskPayload.JobID
	w.log.Info().Str("job_id", jobID).Msg("starting video job")

	var payload model.VideoJobPayload
	if err := json.Unmarshal(taskPayload.Payload, &payload); err != nil {
		w.supervisor.failJob(jobID, "Invalid payload")
		return fmt.Errorf("failed to unmarshal video payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := w.supervisor.Run(ctx, jobID, &payload); err != nil {
		return fmt.Errorf("video job %s: %v: %w", jobID, err, asynq.SkipRetry)
	}
	return nil
}

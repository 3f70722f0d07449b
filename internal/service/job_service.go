package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/store"
)

const (
	TaskTypeVideo = "video:generate"
	QueueVideo    = "video"

	// DefaultTaskTimeout is the asynq deadline of a pipeline task. It has to
	// cover scenario attempts, asset generation and the render wait.
	DefaultTaskTimeout = time.Hour
)

var (
	// ErrJobTerminal is returned when a mutation targets a done or failed job.
	ErrJobTerminal = errors.New("job already finished")
	// ErrStatusRegression is returned when a mutation would move a job backwards.
	ErrStatusRegression = errors.New("job status cannot move backwards")
)

// Enqueuer is the part of asynq.Client job submission needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier receives every accepted job snapshot.
type Notifier interface {
	Publish(job *model.Job)
}

// VideoTaskPayload is the body of a video:generate task.
type VideoTaskPayload struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

// JobService owns job records. Mutate is the only way a job changes after
// submission.
type JobService struct {
	store     store.JobStore
	queue     Enqueuer
	notifier  Notifier
	retention time.Duration
	timeout   time.Duration
	log       logger.Logger
	now       func() time.Time
}

// NewJobService creates a job service. notifier may be nil.
func NewJobService(jobs store.JobStore, queue Enqueuer, notifier Notifier, retention time.Duration, log logger.Logger) *JobService {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &JobService{
		store:     jobs,
		queue:     queue,
		notifier:  notifier,
		retention: retention,
		timeout:   DefaultTaskTimeout,
		log:       logger.WithComponent(log, "jobs"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetTaskTimeout overrides DefaultTaskTimeout. Non-positive values are ignored.
func (s *JobService) SetTaskTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Submit records a queued job and enqueues its pipeline task. It returns as
// soon as the task is queued.
func (s *JobService) Submit(ctx context.Context, req *model.VideoCreateRequest) (*model.VideoCreateResponse, error) {
	jobID := uuid.New().String()
	now := s.now()

	job := &model.Job{
		ID:        jobID,
		Status:    model.JobStatusQueued,
		Progress:  0,
		Message:   "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}

	payloadBytes, err := json.Marshal(&model.VideoJobPayload{
		Text:     req.Text,
		VoiceID:  req.VoiceID,
		Language: req.Language,
		Tone:     req.Tone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := s.store.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := NewVideoTask(jobID, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	// The supervisor handles its own retries; a redelivered task would rerun
	// a job that already reached a terminal state.
	_, err = s.queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueVideo),
		asynq.MaxRetry(0),
		asynq.Retention(s.retention),
		asynq.Timeout(s.timeout),
	)
	if err != nil {
		s.failUnqueued(jobID, err)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.log.Info().Str("job_id", jobID).Msg("video job queued")
	s.publish(job)

	return &model.VideoCreateResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

func (s *JobService) failUnqueued(jobID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.Mutate(ctx, jobID, func(job *model.Job) {
		msg := fmt.Sprintf("failed to enqueue job: %v", cause)
		job.Status = model.JobStatusError
		job.Error = &msg
		job.Message = msg
	})
	if err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to mark unqueued job")
	}
}

// Get returns the job record.
func (s *JobService) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.Get(ctx, jobID)
}

// Mutate applies fn to the stored job atomically and publishes the result.
// Terminal jobs are never changed, status only moves forward, progress never
// decreases and a done job always has progress 1.
func (s *JobService) Mutate(ctx context.Context, jobID string, fn func(job *model.Job)) (*model.Job, error) {
	updated, err := s.store.Update(ctx, jobID, func(job *model.Job) error {
		if job.Status.IsTerminal() {
			return ErrJobTerminal
		}
		prev := job.Snapshot()

		fn(job)

		if !job.Status.Valid() {
			return fmt.Errorf("unknown job status %q", job.Status)
		}
		if job.Status.Rank() < prev.Status.Rank() {
			return fmt.Errorf("%w: %s to %s", ErrStatusRegression, prev.Status, job.Status)
		}

		job.Progress = min(max(job.Progress, prev.Progress, 0), 1)

		now := s.now()
		job.UpdatedAt = now
		if job.StartedAt == nil && job.Status != model.JobStatusQueued {
			job.StartedAt = &now
		}
		switch job.Status {
		case model.JobStatusDone:
			job.Progress = 1
			job.Error = nil
			job.CompletedAt = &now
		case model.JobStatusError:
			if job.Error == nil {
				msg := "job failed"
				job.Error = &msg
			}
			job.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(updated)
	return updated, nil
}

func (s *JobService) publish(job *model.Job) {
	if s.notifier != nil {
		s.notifier.Publish(job.Clone())
	}
}

// NewVideoTask builds the asynq task for one job.
func NewVideoTask(jobID string, payload []byte) (*asynq.Task, error) {
	data, err := json.Marshal(&VideoTaskPayload{
		JobID:   jobID,
		Payload: json.RawMessage(payload),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeVideo, data), nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/onera/studio/internal/model"
)

const (
	TaskTypeRender = "render:process"
	QueueRender    = "render"

	jobTTL         = 24 * time.Hour
	maxTxAttempts  = 5
	jobKeyTemplate = "job:%s"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Enqueuer is the part of the asynq client used to queue renders
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RenderTask is the asynq payload of a render job
type RenderTask struct {
	JobID   string                 `json:"jobId"`
	Payload model.RenderJobPayload `json:"payload"`
}

// ParseRenderTask decodes the payload of a render task
func ParseRenderTask(t *asynq.Task) (*RenderTask, error) {
	var rt RenderTask
	if err := json.Unmarshal(t.Payload(), &rt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if rt.JobID == "" {
		return nil, fmt.Errorf("task payload has no job id")
	}
	return &rt, nil
}

// RenderService handles render job management. Job records live in redis under
// job:<id> for 24 hours and their status only moves forward.
type RenderService struct {
	redis    *redis.Client
	enqueuer Enqueuer
	canvas   model.Canvas
}

func NewRenderService(redisClient *redis.Client, enqueuer Enqueuer, canvas model.Canvas) *RenderService {
	return &RenderService{
		redis:    redisClient,
		enqueuer: enqueuer,
		canvas:   canvas.WithDefaults(),
	}
}

// StartRender records a queued job and enqueues it. A job is attempted once; a
// retry is a new submission with a new id.
func (s *RenderService) StartRender(ctx context.Context, req *model.RenderRequest) (*model.RenderResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	canvas := s.canvas
	if req.Canvas != nil {
		canvas = *req.Canvas
		if canvas.Width <= 0 {
			canvas.Width = s.canvas.Width
		}
		if canvas.Height <= 0 {
			canvas.Height = s.canvas.Height
		}
		if canvas.BgColor == "" {
			canvas.BgColor = s.canvas.BgColor
		}
	}

	job := &model.Job{
		ID:        jobID,
		Type:      model.JobTypeRender,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}
	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	data, err := json.Marshal(RenderTask{
		JobID: jobID,
		Payload: model.RenderJobPayload{
			Layers: req.Layers,
			Canvas: canvas,
			Tracks: req.Tracks,
		},
	})
	if err != nil {
		s.deleteJob(ctx, jobID)
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.enqueuer.EnqueueContext(ctx, asynq.NewTask(TaskTypeRender, data),
		asynq.TaskID(jobID),
		asynq.Queue(QueueRender),
		asynq.MaxRetry(0),
		asynq.Retention(jobTTL),
	)
	if err != nil {
		s.deleteJob(ctx, jobID)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.RenderResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// GetJob returns the stored job record
func (s *RenderService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.getJob(ctx, s.redis, jobID)
}

// GetStatus returns the wire view of a job. Queued and running jobs both report
// pending.
func (s *RenderService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return StatusView(job), nil
}

// StatusView maps a job record to its wire representation
func StatusView(job *model.Job) *model.JobStatusResponse {
	switch job.Status {
	case model.JobStatusCompleted:
		return &model.JobStatusResponse{Status: model.JobStatusCompleted, Result: job.Result}
	case model.JobStatusFailed:
		msg := "render failed"
		if job.Error != nil {
			msg = *job.Error
		}
		return &model.JobStatusResponse{Status: model.JobStatusFailed, Error: msg}
	default:
		progress := job.Progress
		return &model.JobStatusResponse{
			Status:      model.JobStatusPending,
			Progress:    &progress,
			CurrentStep: job.CurrentStep,
		}
	}
}

// UpdateJobProgress updates job progress (called by worker). The first update moves
// a queued job to pending. Progress never decreases.
func (s *RenderService) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error {
	return s.update(ctx, jobID, model.JobStatusPending, func(job *model.Job) {
		if job.Status == model.JobStatusQueued {
			now := time.Now()
			job.StartedAt = &now
		}
		job.Status = model.JobStatusPending
		job.Progress = max(job.Progress, min(max(progress, 0), 100))
		job.CurrentStep = step
	})
}

// CompleteJob marks job as completed (called by worker)
func (s *RenderService) CompleteJob(ctx context.Context, jobID string, result *model.JobResult) error {
	return s.update(ctx, jobID, model.JobStatusCompleted, func(job *model.Job) {
		now := time.Now()
		job.Status = model.JobStatusCompleted
		job.Progress = 100
		job.CurrentStep = ""
		job.Result = result
		job.CompletedAt = &now
	})
}

// FailJob marks job as failed (called by worker)
func (s *RenderService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	return s.update(ctx, jobID, model.JobStatusFailed, func(job *model.Job) {
		now := time.Now()
		job.Status = model.JobStatusFailed
		job.Error = &errMsg
		job.CompletedAt = &now
	})
}

// update applies fn to the stored job inside an optimistic transaction, rejecting
// moves that would send the status backwards or out of a terminal state.
func (s *RenderService) update(ctx context.Context, jobID string, next model.JobStatus, fn func(*model.Job)) error {
	key := jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		job, err := s.getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !job.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, next)
		}
		fn(job)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update job %s: too much contention", jobID)
}

// Helper methods

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func jobKey(jobID string) string {
	return fmt.Sprintf(jobKeyTemplate, jobID)
}

func (s *RenderService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (s *RenderService) deleteJob(ctx context.Context, jobID string) {
	_ = s.redis.Del(ctx, jobKey(jobID)).Err()
}

func (s *RenderService) getJob(ctx context.Context, c getter, jobID string) (*model.Job, error) {
	data, err := c.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

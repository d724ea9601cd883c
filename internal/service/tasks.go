package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/config"
	"github.com/podforge/api/internal/provider"
)

const (
	TaskTypeResearch           = "research:process"
	TaskTypeProductionSegments = "production:segments"
	TaskTypeProductionExport   = "production:export"

	QueueResearch   = "research"
	QueueProduction = "production"

	taskRetention = 24 * time.Hour
)

// TaskPayload is the body of every pipeline task. Executors reload the job
// record by id, so nothing else travels through the queue.
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// Enqueuer schedules a stage for a job. At most one task per job and stage
// is accepted. A positive timeout bounds the stage run.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType, jobID string, timeout time.Duration) error
}

// StageLimits bounds how long queued stages may run.
type StageLimits struct {
	// Retry is the provider policy the executors run with.
	Retry provider.RetryPolicy
	// StageTimeout bounds a research or export run, and is the base budget
	// of a segment run.
	StageTimeout time.Duration
	// StaleAfter is how long a running job may go without a store write
	// before a cancel request fails it outright.
	StaleAfter time.Duration
}

func DefaultStageLimits() StageLimits {
	return StageLimits{
		Retry:        provider.DefaultRetryPolicy(),
		StageTimeout: 30 * time.Minute,
		StaleAfter:   15 * time.Minute,
	}
}

// LimitsFromConfig builds the stage limits from the worker and provider settings.
func LimitsFromConfig(cfg *config.Config) StageLimits {
	limits := DefaultStageLimits()
	limits.Retry = provider.PolicyFromConfig(&cfg.Providers)
	if cfg.Worker.StageTimeoutMinutes > 0 {
		limits.StageTimeout = time.Duration(cfg.Worker.StageTimeoutMinutes) * time.Minute
	}
	if cfg.Worker.StaleMinutes > 0 {
		limits.StaleAfter = time.Duration(cfg.Worker.StaleMinutes) * time.Minute
	}
	return limits
}

// SegmentTimeout is the budget of a segment run over n segments. Each
// segment may use its full retry budget.
func (l StageLimits) SegmentTimeout(n int) time.Duration {
	return l.StageTimeout + time.Duration(n)*l.Retry.WorstCase()
}

// abandoned reports whether a running job last written at updated has gone
// quiet for longer than its executor can stay silent. The threshold never
// drops below two retry budgets of one provider call.
func (l StageLimits) abandoned(updated, now time.Time) bool {
	if updated.IsZero() {
		return false
	}
	threshold := l.StaleAfter
	if floor := 2 * l.Retry.WorstCase(); threshold < floor {
		threshold = floor
	}
	return now.Sub(updated) > threshold
}

// NewTask builds the asynq task for a stage.
func NewTask(taskType, jobID string) (*asynq.Task, error) {
	payload, err := json.Marshal(TaskPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return asynq.NewTask(taskType, payload), nil
}

// ParseTask returns the job id carried by t.
func ParseTask(t *asynq.Task) (string, error) {
	var p TaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return "", fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if p.JobID == "" {
		return "", errors.New("task payload has no job id")
	}
	return p.JobID, nil
}

func queueFor(taskType string) string {
	if taskType == TaskTypeResearch {
		return QueueResearch
	}
	return QueueProduction
}

// AsynqEnqueuer schedules stages on Redis-backed asynq queues.
type AsynqEnqueuer struct {
	client *asynq.Client
}

func NewAsynqEnqueuer(client *asynq.Client) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client}
}

// Enqueue uses jobID and the stage as the asynq task id, so a duplicate
// submission is rejected by the broker. Stages are never retried by the queue;
// retries happen per provider call inside the executor.
func (e *AsynqEnqueuer) Enqueue(ctx context.Context, taskType, jobID string, timeout time.Duration) error {
	task, err := NewTask(taskType, jobID)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(queueFor(taskType)),
		asynq.TaskID(jobID + ":" + taskType),
		asynq.MaxRetry(0),
		asynq.Retention(taskRetention),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	_, err = e.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return apperr.Conflict(fmt.Sprintf("%s already scheduled for job %s", taskType, jobID))
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

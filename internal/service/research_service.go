package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/client"
	"github.com/podforge/api/internal/config"
	"github.com/podforge/api/internal/model"
	"github.com/podforge/api/internal/store"
)

// ResearchService handles research job management
type ResearchService struct {
	jobs     store.Store[*model.ResearchJob]
	enqueuer Enqueuer
	storage  client.StorageClient
	pipeline config.PipelineConfig
	limits   StageLimits
	now      func() time.Time
}

func NewResearchService(jobs store.Store[*model.ResearchJob], enqueuer Enqueuer, storage client.StorageClient, pipeline config.PipelineConfig) *ResearchService {
	return &ResearchService{
		jobs:     jobs,
		enqueuer: enqueuer,
		storage:  storage,
		pipeline: pipeline,
		limits:   DefaultStageLimits(),
		now:      time.Now,
	}
}

// WithLimits replaces the default stage limits.
func (s *ResearchService) WithLimits(limits StageLimits) *ResearchService {
	s.limits = limits
	return s
}

// StartResearch records a PENDING job and queues the research stage.
func (s *ResearchService) StartResearch(ctx context.Context, owner string, req model.ResearchRequest) (*model.ResearchStartResponse, error) {
	req.ApplyDefaults(s.pipeline.DefaultDuration)
	for _, a := range req.Audiences {
		if !a.IsValid() {
			return nil, apperr.ValidationField("audiences", fmt.Sprintf("unknown audience %q", a))
		}
	}

	job := model.NewResearchJob(uuid.New().String(), owner, req, s.now())
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.enqueuer.Enqueue(ctx, TaskTypeResearch, job.ID, s.limits.StageTimeout); err != nil {
		s.abandon(ctx, job.ID, err)
		return nil, apperr.Internal("failed to schedule research", err)
	}

	log.Printf("[Research] job %s queued: %q", job.ID, req.Topic)
	return &model.ResearchStartResponse{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	}, nil
}

// GetJob returns the owner's job.
func (s *ResearchService) GetJob(ctx context.Context, owner, jobID string) (*model.ResearchJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Owner != owner {
		return nil, apperr.NotFound(model.JobKindResearch, jobID)
	}
	return job, nil
}

// GetStatus returns the current status of a research job
func (s *ResearchService) GetStatus(ctx context.Context, owner, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.GetJob(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	view := job.StatusView()
	return &view, nil
}

// GetResult returns the result of a completed research job
func (s *ResearchService) GetResult(ctx context.Context, owner, jobID string) (*model.ResearchResult, error) {
	job, err := s.GetJob(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.ResearchStatusCompleted {
		return nil, notCompleted(model.JobKindResearch, string(job.Status), job.ProgressPercent, job.Status.IsTerminal())
	}
	return job.Result, nil
}

// Cancel fails a PENDING job at once. A running job is flagged and fails
// at the executor's next step boundary, unless it has gone without writes
// long enough to count as abandoned, in which case it fails at once too.
func (s *ResearchService) Cancel(ctx context.Context, owner, jobID string) (*model.CancelResponse, error) {
	if _, err := s.GetJob(ctx, owner, jobID); err != nil {
		return nil, err
	}

	pending, abandoned := false, false
	var lastWrite time.Time
	job, err := s.jobs.Update(ctx, jobID, func(j *model.ResearchJob) error {
		switch {
		case j.Status.IsTerminal():
			return apperr.InvalidState(model.JobKindResearch, string(j.Status), "pending, researching or generating")
		case j.Status == model.ResearchStatusPending:
			j.Cancel(s.now())
		case s.limits.abandoned(j.UpdatedAt, s.now()):
			// no executor has written the job recently, so none will observe the flag
			lastWrite = j.UpdatedAt
			j.Cancel(s.now())
			abandoned = true
		default:
			j.CancelRequested = true
			pending = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if abandoned {
		log.Printf("[Research] job %s had no writes since %s, cancelled outright", jobID, lastWrite.Format(time.RFC3339))
	} else {
		log.Printf("[Research] job %s cancel requested (pending=%t)", jobID, pending)
	}
	return &model.CancelResponse{
		Success: true,
		JobID:   jobID,
		Status:  string(job.Status),
		Pending: pending,
	}, nil
}

// History lists the owner's jobs, newest first. An empty status matches all.
func (s *ResearchService) History(ctx context.Context, owner, status string, limit int) ([]model.ResearchSummary, error) {
	jobs, err := s.jobs.List(ctx, owner)
	if err != nil {
		return nil, err
	}

	out := make([]model.ResearchSummary, 0, len(jobs))
	for _, j := range jobs {
		if status != "" && string(j.Status) != status {
			continue
		}
		out = append(out, model.ResearchSummary{
			JobID:       j.ID,
			Topic:       j.Request.Topic,
			Status:      j.Status,
			CreatedAt:   j.CreatedAt,
			CompletedAt: j.CompletedAt,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// OpenFile streams one of the files written for a completed job.
func (s *ResearchService) OpenFile(ctx context.Context, owner, jobID, name string) (io.ReadCloser, string, error) {
	result, err := s.GetResult(ctx, owner, jobID)
	if err != nil {
		return nil, "", err
	}
	key, ok := result.FilePaths[name]
	if !ok {
		return nil, "", apperr.NotFound("research file", name)
	}
	body, err := s.storage.Download(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return body, key, nil
}

func (s *ResearchService) abandon(ctx context.Context, jobID string, cause error) {
	_, err := s.jobs.Update(ctx, jobID, func(j *model.ResearchJob) error {
		j.Fail("failed to schedule research", s.now())
		return nil
	})
	if err != nil {
		log.Printf("[Research] failed to mark job %s as failed after %v: %v", jobID, cause, err)
	}
}

// notCompleted is the result-endpoint error for a job that has no result:
// not ready while it runs, a state error once it failed.
func notCompleted(kind, status string, progress float64, terminal bool) error {
	if terminal {
		return apperr.InvalidState(kind, status, "completed")
	}
	return apperr.NotReady(status, progress)
}

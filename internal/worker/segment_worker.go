package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/hibiken/asynq"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/client"
	"github.com/podforge/api/internal/config"
	"github.com/podforge/api/internal/model"
	"github.com/podforge/api/internal/provider"
	"github.com/podforge/api/internal/service"
	"github.com/podforge/api/internal/store"
	"github.com/podforge/api/internal/timeline"
)

// SegmentWorker synthesizes the segments of a production job one at a time
// in sequence order, then assembles the timeline.
type SegmentWorker struct {
	jobs     store.Store[*model.ProductionJob]
	registry *provider.Registry
	storage  client.StorageClient
	notifier Notifier
	pipeline config.PipelineConfig
	now      func() time.Time
}

func NewSegmentWorker(jobs store.Store[*model.ProductionJob], registry *provider.Registry, storage client.StorageClient, notifier Notifier, pipeline config.PipelineConfig) *SegmentWorker {
	return &SegmentWorker{
		jobs:     jobs,
		registry: registry,
		storage:  storage,
		notifier: notifier,
		pipeline: pipeline,
		now:      time.Now,
	}
}

// ProcessTask handles segment generation tasks
func (w *SegmentWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	jobID, err := service.ParseTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return w.Run(ctx, jobID)
}

// Run generates every pending segment. A failed segment is recorded on the
// segment and the loop moves on; the job fails only when no segment
// succeeds. Segments already ready or in error are not generated again.
// When the stage deadline passes, the segments not yet generated are marked
// in error and the job still moves to editing with what was produced.
func (w *SegmentWorker) Run(ctx context.Context, jobID string) error {
	// store writes outlive the stage deadline so the outcome is recorded
	dctx := context.WithoutCancel(ctx)

	job, err := w.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.ProductionStatusGeneratingSegments {
		log.Printf("[Segments] job %s is %s, skipping", jobID, job.Status)
		return nil
	}
	log.Printf("[Segments] starting job %s: %d segments", jobID, len(job.Segments))

	order := make([]int, len(job.Segments))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return job.Segments[order[a]].SequenceNumber < job.Segments[order[b]].SequenceNumber
	})

	var lastErr error
	for _, idx := range order {
		if deadlineExceeded(ctx) {
			break
		}
		seg := job.Segments[idx]
		if seg.Status == model.SegmentStatusReady || seg.Status == model.SegmentStatusError {
			continue
		}

		if err := w.begin(dctx, jobID, idx); err != nil {
			return w.fail(dctx, jobID, err)
		}

		handle, synthErr := w.synthesize(ctx, jobID, seg)
		if synthErr != nil {
			switch {
			case deadlineExceeded(ctx):
				synthErr = errStageDeadline
			case ctx.Err() != nil:
				return w.fail(dctx, jobID, ctx.Err())
			}
			lastErr = synthErr
			log.Printf("[Segments] job %s: %v", jobID, apperr.PartialUnitFailure("segment "+seg.ID, synthErr))
		}

		updated, err := w.jobs.Update(dctx, jobID, func(j *model.ProductionJob) error {
			s := &j.Segments[idx]
			if synthErr != nil {
				s.Status = model.SegmentStatusError
				s.ErrorMessage = synthErr.Error()
				j.FailedSegments++
			} else {
				s.Status = model.SegmentStatusReady
				s.ArtifactLocation = handle.Key
				s.ErrorMessage = ""
				if handle.DurationSeconds > 0 {
					s.Duration = handle.DurationSeconds
				}
			}
			j.SegmentsGenerated++
			j.SetProgress(95*float64(j.SegmentsGenerated)/float64(len(j.Segments)), fmt.Sprintf("Generated %d of %d segments", j.SegmentsGenerated, len(j.Segments)))
			return nil
		})
		if err != nil {
			return w.fail(dctx, jobID, err)
		}
		w.notifyProgress(updated)
	}

	expired := deadlineExceeded(ctx)
	if expired {
		lastErr = errStageDeadline
		log.Printf("[Segments] job %s: stage deadline exceeded, finishing with the segments produced so far", jobID)
	}

	job, err = w.jobs.Update(dctx, jobID, func(j *model.ProductionJob) error {
		if j.CancelRequested {
			j.Cancel(w.now())
			return nil
		}
		if expired {
			expirePending(j)
		}
		if j.FailedSegments == len(j.Segments) {
			return errAllSegmentsFailed(j.FailedSegments, lastErr)
		}
		return j.FinishGeneration(timeline.Assemble(j.ID, j.Segments))
	})
	if err == nil && job.Cancelled {
		err = errCancelled
	}
	if err != nil {
		return w.fail(dctx, jobID, err)
	}

	w.notifier.BroadcastComplete(jobID, model.JobKindProduction, job.StatusView())
	log.Printf("[Segments] job %s ready for editing: %d generated, %d failed", jobID, job.SegmentsGenerated, job.FailedSegments)
	return nil
}

var errStageDeadline = errors.New("stage deadline exceeded")

func deadlineExceeded(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// expirePending marks every segment the run did not reach as failed.
func expirePending(j *model.ProductionJob) {
	for i := range j.Segments {
		s := &j.Segments[i]
		if s.Status != model.SegmentStatusPending && s.Status != model.SegmentStatusGenerating {
			continue
		}
		s.Status = model.SegmentStatusError
		s.ErrorMessage = errStageDeadline.Error()
		j.FailedSegments++
		j.SegmentsGenerated++
	}
}

func errAllSegmentsFailed(count int, last error) error {
	msg := fmt.Sprintf("all %d segments failed", count)
	if last != nil {
		msg += ": " + last.Error()
	}
	return apperr.PartialUnitFailure("segment generation", errors.New(msg))
}

// begin marks a segment as generating, or applies a pending cancellation.
func (w *SegmentWorker) begin(ctx context.Context, jobID string, idx int) error {
	job, err := w.jobs.Update(ctx, jobID, func(j *model.ProductionJob) error {
		if j.CancelRequested {
			j.Cancel(w.now())
			return nil
		}
		if j.Status != model.ProductionStatusGeneratingSegments {
			return apperr.InvalidState(model.JobKindProduction, string(j.Status), string(model.ProductionStatusGeneratingSegments))
		}
		j.Segments[idx].Status = model.SegmentStatusGenerating
		return nil
	})
	if err != nil {
		return err
	}
	if job.Cancelled {
		return errCancelled
	}
	return nil
}

func (w *SegmentWorker) synthesize(ctx context.Context, jobID string, seg model.Segment) (*provider.AudioHandle, error) {
	if seg.Voice == nil {
		return nil, apperr.Validation("segment has no assigned voice")
	}
	adapter, ok := w.registry.Get(seg.Voice.Provider)
	if !ok {
		return nil, apperr.Validationf("unknown provider %q", seg.Voice.Provider)
	}
	if !adapter.IsAvailable() {
		return nil, apperr.GeneratorUnavailable(fmt.Sprintf("provider %s is not available", seg.Voice.Provider))
	}
	return adapter.Synthesize(ctx, provider.SynthesisRequest{
		Text:    seg.SourceText,
		VoiceID: seg.Voice.VoiceID,
		Params:  provider.SynthesisParams{Language: w.pipeline.Language},
		Sink:    w.storage,
		Key:     service.SegmentKey(jobID, seg.ID),
	})
}

func (w *SegmentWorker) notifyProgress(job *model.ProductionJob) {
	w.notifier.BroadcastProgress(job.ID, model.JobKindProduction, job.ProgressPercent, string(job.Status), job.CurrentStep)
}

func (w *SegmentWorker) fail(ctx context.Context, jobID string, cause error) error {
	return failProduction(ctx, w.jobs, w.notifier, w.now, "[Segments]", jobID, cause)
}

// failProduction moves a production job to FAILED. A cancelled job is already
// terminal and only the event is sent.
func failProduction(ctx context.Context, jobs store.Store[*model.ProductionJob], notifier Notifier, now func() time.Time, prefix, jobID string, cause error) error {
	if errors.Is(cause, errCancelled) {
		log.Printf("%s job %s cancelled", prefix, jobID)
		notifier.BroadcastError(jobID, model.JobKindProduction, string(apperr.CodeCancelled), errCancelled.Message)
		return nil
	}

	msg := cause.Error()
	_, err := jobs.Update(context.WithoutCancel(ctx), jobID, func(j *model.ProductionJob) error {
		j.Fail(msg, now())
		return nil
	})
	if err != nil {
		log.Printf("%s failed to record failure of job %s: %v", prefix, jobID, err)
	}

	notifier.BroadcastError(jobID, model.JobKindProduction, string(apperr.CodeOf(cause)), msg)
	log.Printf("%s job %s failed: %s", prefix, jobID, msg)
	return cause
}

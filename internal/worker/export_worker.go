package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/client"
	"github.com/podforge/api/internal/model"
	"github.com/podforge/api/internal/provider"
	"github.com/podforge/api/internal/service"
	"github.com/podforge/api/internal/store"
	"github.com/podforge/api/internal/timeline"
)

const signedURLExpiry = time.Hour

// ExportWorker renders the edited timeline into the final episode. The audio
// service mixes every track when configured; otherwise the speech track is
// joined frame by frame, which only supports MP3.
type ExportWorker struct {
	jobs     store.Store[*model.ProductionJob]
	audio    client.AudioProcessor
	storage  client.StorageClient
	notifier Notifier
	now      func() time.Time
}

func NewExportWorker(jobs store.Store[*model.ProductionJob], audio client.AudioProcessor, storage client.StorageClient, notifier Notifier) *ExportWorker {
	return &ExportWorker{
		jobs:     jobs,
		audio:    audio,
		storage:  storage,
		notifier: notifier,
		now:      time.Now,
	}
}

// ProcessTask handles export task processing
func (w *ExportWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	jobID, err := service.ParseTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return w.Run(ctx, jobID)
}

func (w *ExportWorker) Run(ctx context.Context, jobID string) error {
	job, err := w.jobs.Update(ctx, jobID, func(j *model.ProductionJob) error {
		if j.Status != model.ProductionStatusExporting {
			return errSkip
		}
		if j.CancelRequested {
			j.Cancel(w.now())
			return nil
		}
		j.SetProgress(10, "Preparing export")
		return nil
	})
	if errors.Is(err, errSkip) {
		log.Printf("[Export] job %s is not exporting, skipping", jobID)
		return nil
	}
	if err == nil && job.Cancelled {
		err = errCancelled
	}
	if err != nil {
		return w.fail(ctx, jobID, err)
	}
	w.notifyProgress(job)

	opts := model.ExportOptions{}
	if job.ExportOptions != nil {
		opts = *job.ExportOptions
	}
	opts.ApplyDefaults()
	tl := job.Output.Timeline

	var artifact *model.ExportArtifact
	if w.audio != nil && w.audio.IsConfigured() {
		artifact, err = w.mix(ctx, jobID, tl, opts)
	} else {
		artifact, err = w.join(ctx, jobID, tl, opts)
	}
	if err != nil {
		return w.fail(ctx, jobID, err)
	}
	artifact.SkippedSegments = job.FailedSegments

	job, err = w.jobs.Update(ctx, jobID, func(j *model.ProductionJob) error {
		if j.CancelRequested {
			j.Cancel(w.now())
			return nil
		}
		return j.Complete(artifact, w.now())
	})
	if err == nil && job.Cancelled {
		err = errCancelled
	}
	if err != nil {
		return w.fail(ctx, jobID, err)
	}

	w.notifier.BroadcastComplete(jobID, model.JobKindProduction, artifact)
	log.Printf("[Export] job %s completed: %s (%d bytes)", jobID, artifact.Key, artifact.SizeBytes)
	return nil
}

// mix sends every audible track to the audio service.
func (w *ExportWorker) mix(ctx context.Context, jobID string, tl model.Timeline, opts model.ExportOptions) (*model.ExportArtifact, error) {
	w.progress(ctx, jobID, 30, "Mixing tracks")

	req := &client.MixRequest{
		Format:     string(opts.Format),
		Bitrate:    opts.Quality.Bitrate(),
		SampleRate: tl.SampleRate,
		BitDepth:   tl.BitDepth,
		Normalize:  opts.Normalize,
		Metadata:   opts.Metadata,
		OutputKey:  service.ExportKey(jobID, opts.Format),
	}
	count := 0
	for _, tr := range tl.Tracks {
		track := client.MixTrack{Name: tr.Name, Volume: tr.Volume, Muted: tr.Muted, Solo: tr.Solo, Clips: []client.MixClip{}}
		for _, seg := range tr.Segments {
			if seg.ArtifactLocation == "" {
				continue
			}
			url, err := w.storage.GetSignedURL(ctx, seg.ArtifactLocation, signedURLExpiry)
			if err != nil {
				return nil, fmt.Errorf("failed to sign %s: %w", seg.ID, err)
			}
			track.Clips = append(track.Clips, client.MixClip{
				URL:       url,
				StartTime: seg.StartTime,
				Duration:  seg.Duration,
				Volume:    seg.Volume,
			})
			count++
		}
		req.Tracks = append(req.Tracks, track)
	}
	if count == 0 {
		return nil, apperr.Validation("timeline has no audio to export")
	}

	resp, err := w.audio.Mix(ctx, req)
	if err != nil {
		return nil, err
	}
	w.progress(ctx, jobID, 90, "Finalizing")

	return &model.ExportArtifact{
		Key:             req.OutputKey,
		DownloadURL:     resp.OutputURL,
		Format:          opts.Format,
		SizeBytes:       resp.Size,
		DurationSeconds: resp.Duration,
		SegmentCount:    count,
		CreatedAt:       w.now(),
	}, nil
}

// join concatenates the audible speech segments in start order. Gaps in the
// timeline become silent frames; volume and other tracks are ignored.
func (w *ExportWorker) join(ctx context.Context, jobID string, tl model.Timeline, opts model.ExportOptions) (*model.ExportArtifact, error) {
	if opts.Format != model.ExportFormatMP3 {
		return nil, apperr.Validationf("%s export requires the audio service", opts.Format)
	}

	var clips []model.Segment
	for _, seg := range timeline.SpeechSegments(tl) {
		if seg.ArtifactLocation != "" {
			clips = append(clips, seg)
		}
	}
	if len(clips) == 0 {
		return nil, apperr.Validation("timeline has no audio to export")
	}
	w.progress(ctx, jobID, 30, "Joining speech segments")

	pr, pw := io.Pipe()
	go func() {
		cursor := 0.0
		for _, seg := range clips {
			if gap := seg.StartTime - cursor; gap > timeline.Epsilon {
				if _, err := pw.Write(provider.SilentMP3(gap)); err != nil {
					return
				}
			}
			body, err := w.storage.Download(ctx, seg.ArtifactLocation)
			if err != nil {
				pw.CloseWithError(fmt.Errorf("failed to read segment %s: %w", seg.ID, err))
				return
			}
			_, err = io.Copy(pw, body)
			body.Close()
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if seg.EndTime > cursor {
				cursor = seg.EndTime
			}
		}
		pw.Close()
	}()

	counter := &countingReader{r: pr}
	key := service.ExportKey(jobID, opts.Format)
	url, err := w.storage.Upload(ctx, key, counter, "audio/mpeg")
	// unblock the writer if the upload stopped early
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}
	w.progress(ctx, jobID, 90, "Finalizing")

	return &model.ExportArtifact{
		Key:             key,
		DownloadURL:     url,
		Format:          opts.Format,
		SizeBytes:       counter.n,
		DurationSeconds: timeline.MaxEnd(model.Timeline{Tracks: []model.Track{{Segments: clips}}}),
		SegmentCount:    len(clips),
		CreatedAt:       w.now(),
	}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (w *ExportWorker) progress(ctx context.Context, jobID string, percent float64, step string) {
	job, err := w.jobs.Update(ctx, jobID, func(j *model.ProductionJob) error {
		j.SetProgress(percent, step)
		return nil
	})
	if err != nil {
		log.Printf("[Export] failed to update progress for job %s: %v", jobID, err)
		return
	}
	w.notifyProgress(job)
}

func (w *ExportWorker) notifyProgress(job *model.ProductionJob) {
	w.notifier.BroadcastProgress(job.ID, model.JobKindProduction, job.ProgressPercent, string(job.Status), job.CurrentStep)
}

func (w *ExportWorker) fail(ctx context.Context, jobID string, cause error) error {
	return failProduction(ctx, w.jobs, w.notifier, w.now, "[Export]", jobID, cause)
}

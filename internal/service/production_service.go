package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/client"
	"github.com/podforge/api/internal/config"
	"github.com/podforge/api/internal/model"
	"github.com/podforge/api/internal/provider"
	"github.com/podforge/api/internal/research"
	"github.com/podforge/api/internal/store"
	"github.com/podforge/api/internal/timeline"
	"github.com/podforge/api/internal/voice"
)

// ProductionService drives production jobs through voice assignment, editing
// and export. Long-running stages are handed to the queue.
type ProductionService struct {
	jobs      store.Store[*model.ProductionJob]
	researchs store.Store[*model.ResearchJob]
	registry  *provider.Registry
	voices    *voice.Resolver
	enqueuer  Enqueuer
	storage   client.StorageClient
	pipeline  config.PipelineConfig
	limits    StageLimits
	now       func() time.Time
}

func NewProductionService(
	jobs store.Store[*model.ProductionJob],
	researchs store.Store[*model.ResearchJob],
	registry *provider.Registry,
	voices *voice.Resolver,
	enqueuer Enqueuer,
	storage client.StorageClient,
	pipeline config.PipelineConfig,
) *ProductionService {
	return &ProductionService{
		jobs:      jobs,
		researchs: researchs,
		registry:  registry,
		voices:    voices,
		enqueuer:  enqueuer,
		storage:   storage,
		pipeline:  pipeline,
		limits:    DefaultStageLimits(),
		now:       time.Now,
	}
}

// WithLimits replaces the default stage limits.
func (s *ProductionService) WithLimits(limits StageLimits) *ProductionService {
	s.limits = limits
	return s
}

// SegmentKey is the storage key of a synthesized segment.
func SegmentKey(jobID, segmentID string) string {
	return fmt.Sprintf("productions/%s/segments/%s.mp3", jobID, segmentID)
}

// ExportKey is the storage key of the exported episode.
func ExportKey(jobID string, format model.ExportFormat) string {
	return fmt.Sprintf("productions/%s/episode.%s", jobID, format)
}

// StartProduction creates a job for one variant of a completed research job.
// The job waits in VOICE_ASSIGNMENT; nothing is queued.
func (s *ProductionService) StartProduction(ctx context.Context, owner string, req model.StartProductionRequest) (*model.StartProductionResponse, error) {
	rj, err := s.researchs.Get(ctx, req.ResearchJobID)
	if err != nil {
		return nil, err
	}
	if rj.Owner != owner {
		return nil, apperr.NotFound(model.JobKindResearch, req.ResearchJobID)
	}
	if rj.Status != model.ResearchStatusCompleted {
		return nil, apperr.InvalidState(model.JobKindResearch, string(rj.Status), string(model.ResearchStatusCompleted))
	}

	variant, ok := rj.Result.Variant(req.SelectedVariant)
	if !ok {
		return nil, apperr.ValidationField("selected_variant", fmt.Sprintf("variant %s was not generated", req.SelectedVariant))
	}
	if len(variant.Segments) == 0 {
		return nil, apperr.ValidationField("selected_variant", fmt.Sprintf("variant %s has no dialogue", req.SelectedVariant))
	}

	cast := castFor(rj.Result.Characters, variant.Segments)
	job := model.NewProductionJob(uuid.New().String(), owner, rj.ID, req.SelectedVariant, cast, variant.Segments, s.now())
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	log.Printf("[Production] job %s created from research %s (%s, %d lines)", job.ID, rj.ID, req.SelectedVariant, len(job.Script))
	return &model.StartProductionResponse{
		ProductionJobID: job.ID,
		Status:          job.Status,
		ResearchJobID:   rj.ID,
		SelectedVariant: req.SelectedVariant,
		Characters:      cast,
		TotalSegments:   len(job.Script),
	}, nil
}

// castFor returns the characters that speak in script, in cast order. Lines
// whose speaker matched nobody share one extra character.
func castFor(chars []model.Character, script []model.ConversationSegment) []model.Character {
	speaks := make(map[string]bool)
	for _, seg := range script {
		speaks[seg.SpeakerID] = true
	}

	var cast []model.Character
	for _, c := range chars {
		if speaks[c.ID] {
			cast = append(cast, c)
		}
	}
	if speaks[research.UnknownSpeaker] {
		cast = append(cast, model.Character{
			ID:          research.UnknownSpeaker,
			Name:        "Other speaker",
			Role:        model.CharacterRoleGuest,
			Personality: "lines the script attributes to no cast member",
			SpeechStyle: "neutral",
		})
	}
	return cast
}

// AssignVoices validates a complete voice assignment, lays out one pending
// segment per script line and queues generation. It can succeed once per job.
func (s *ProductionService) AssignVoices(ctx context.Context, owner, jobID string, req model.GenerateSegmentsRequest) (*model.GenerateSegmentsResponse, error) {
	job, err := s.GetJob(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.ProductionStatusVoiceAssignment {
		return nil, apperr.InvalidState(model.JobKindProduction, string(job.Status), string(model.ProductionStatusVoiceAssignment))
	}

	assignments, err := s.validateAssignments(ctx, job, req.VoiceAssignments)
	if err != nil {
		return nil, err
	}
	segments := s.layoutSegments(job, assignments)
	estimate := s.estimateCost(segments)

	job, err = s.jobs.Update(ctx, jobID, func(j *model.ProductionJob) error {
		return j.StartGeneration(assignments, segments, s.now())
	})
	if err != nil {
		return nil, err
	}

	if err := s.enqueuer.Enqueue(ctx, TaskTypeProductionSegments, jobID, s.limits.SegmentTimeout(len(segments))); err != nil {
		s.abandon(ctx, jobID, "failed to schedule segment generation", err)
		return nil, apperr.Internal("failed to schedule segment generation", err)
	}

	log.Printf("[Production] job %s queued %d segments (est. $%.4f)", jobID, len(segments), estimate.Total)
	return &model.GenerateSegmentsResponse{
		ProductionJobID: jobID,
		Status:          job.Status,
		TotalSegments:   len(segments),
		EstimatedCost:   estimate,
	}, nil
}

func (s *ProductionService) validateAssignments(ctx context.Context, job *model.ProductionJob, list []model.VoiceAssignment) (map[string]model.VoiceAssignment, error) {
	names := make(map[string]string, len(job.Characters))
	for _, c := range job.Characters {
		names[c.ID] = c.Name
	}

	assignments := make(map[string]model.VoiceAssignment, len(list))
	for _, a := range list {
		if _, known := names[a.CharacterID]; !known {
			return nil, apperr.ValidationField("voice_assignments", fmt.Sprintf("character %q does not speak in this script", a.CharacterID))
		}
		if _, dup := assignments[a.CharacterID]; dup {
			return nil, apperr.ValidationField("voice_assignments", fmt.Sprintf("character %q is assigned twice", a.CharacterID))
		}
		a.Provider = strings.ToLower(a.Provider)
		if a.CharacterName == "" {
			a.CharacterName = names[a.CharacterID]
		}
		assignments[a.CharacterID] = a
	}

	var missing []string
	for _, id := range job.CharacterIDs() {
		if _, ok := assignments[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, apperr.ValidationField("voice_assignments", "missing voice for: "+strings.Join(missing, ", ")).
			WithDetails(map[string][]string{"missing_characters": missing})
	}

	for _, a := range assignments {
		adapter, ok := s.registry.Get(a.Provider)
		if !ok {
			return nil, apperr.ValidationField("provider", fmt.Sprintf("unknown provider %q", a.Provider)).
				WithDetails(map[string][]string{"providers": s.registry.IDs()})
		}
		if !adapter.IsAvailable() {
			return nil, apperr.ValidationField("provider", fmt.Sprintf("provider %s is not available", a.Provider)).
				WithDetails(map[string][]string{"alternatives": s.registry.Alternatives(a.Provider)})
		}
		if err := s.voices.Validate(ctx, a.Provider, a.VoiceID); err != nil {
			return nil, err
		}
	}
	return assignments, nil
}

// layoutSegments creates one pending segment per script line with an
// estimated duration.
func (s *ProductionService) layoutSegments(job *model.ProductionJob, assignments map[string]model.VoiceAssignment) []model.Segment {
	segments := make([]model.Segment, 0, len(job.Script))
	for i, line := range job.Script {
		ref := assignments[line.SpeakerID].Ref()
		id := fmt.Sprintf("seg_%04d", i)
		segments = append(segments, model.Segment{
			ID:             id,
			SequenceNumber: i,
			Type:           model.TrackTypeSpeech,
			CharacterID:    line.SpeakerID,
			CharacterName:  line.SpeakerName,
			SourceText:     line.Text,
			Voice:          &ref,
			Duration:       timeline.EstimateDuration(line.Text, s.pipeline.WordsPerMinute),
			Volume:         1.0,
			Status:         model.SegmentStatusPending,
		})
	}
	return segments
}

func (s *ProductionService) estimateCost(segments []model.Segment) model.CostEstimate {
	chars := make(map[string]int)
	total := 0
	for _, seg := range segments {
		n := len([]rune(seg.SourceText))
		chars[seg.Voice.Provider] += n
		total += n
	}

	est := model.CostEstimate{Characters: total, PerProvider: make(map[string]float64, len(chars))}
	for id, n := range chars {
		if adapter, ok := s.registry.Get(id); ok {
			cost := adapter.EstimateCost(n)
			est.PerProvider[id] = cost
			est.Total += cost
		}
	}
	return est
}

// GetJob returns the owner's job.
func (s *ProductionService) GetJob(ctx context.Context, owner, jobID string) (*model.ProductionJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Owner != owner {
		return nil, apperr.NotFound(model.JobKindProduction, jobID)
	}
	return job, nil
}

func (s *ProductionService) GetStatus(ctx context.Context, owner, jobID string) (*model.ProductionStatusResponse, error) {
	job, err := s.GetJob(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	view := job.StatusView()
	return &view, nil
}

// GetTimeline returns the assembled or edited timeline.
func (s *ProductionService) GetTimeline(ctx context.Context, owner, jobID string) (*model.TimelineResponse, error) {
	job, err := s.GetJob(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.HasTimeline() || job.Output == nil {
		return nil, notCompleted(model.JobKindProduction, string(job.Status), job.ProgressPercent, job.Status.IsTerminal())
	}
	return &model.TimelineResponse{
		ProductionJobID: job.ID,
		Status:          job.Status,
		Timeline:        job.Output.Timeline,
	}, nil
}

// UpdateTimeline replaces the timeline wholesale after validating it.
// Segment artifacts stay bound to the ones this job generated.
func (s *ProductionService) UpdateTimeline(ctx context.Context, owner, jobID string, tl model.Timeline) (*model.TimelineResponse, error) {
	if _, err := s.GetJob(ctx, owner, jobID); err != nil {
		return nil, err
	}

	tl.ProductionJobID = jobID
	if tl.SampleRate == 0 {
		tl.SampleRate = timeline.SampleRate
	}
	if tl.BitDepth == 0 {
		tl.BitDepth = timeline.BitDepth
	}
	if err := timeline.Validate(tl); err != nil {
		return nil, err
	}

	job, err := s.jobs.Update(ctx, jobID, func(j *model.ProductionJob) error {
		pinned, err := timeline.PinArtifacts(tl, j.Segments)
		if err != nil {
			return err
		}
		return j.ReplaceTimeline(pinned)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Production] job %s timeline updated (%.1fs)", jobID, tl.TotalDuration)
	return &model.TimelineResponse{
		ProductionJobID: job.ID,
		Status:          job.Status,
		Timeline:        job.Output.Timeline,
	}, nil
}

// Export queues the final render of the current timeline.
func (s *ProductionService) Export(ctx context.Context, owner, jobID string, opts model.ExportOptions) (*model.ExportResponse, error) {
	if _, err := s.GetJob(ctx, owner, jobID); err != nil {
		return nil, err
	}
	opts.ApplyDefaults()

	job, err := s.jobs.Update(ctx, jobID, func(j *model.ProductionJob) error {
		if opts.RequireComplete && j.FailedSegments > 0 {
			return apperr.ValidationField("require_complete", fmt.Sprintf("%d segments failed to generate", j.FailedSegments))
		}
		return j.StartExport(opts)
	})
	if err != nil {
		return nil, err
	}

	if err := s.enqueuer.Enqueue(ctx, TaskTypeProductionExport, jobID, s.limits.StageTimeout); err != nil {
		s.abandon(ctx, jobID, "failed to schedule export", err)
		return nil, apperr.Internal("failed to schedule export", err)
	}

	log.Printf("[Production] job %s export queued (%s, %s)", jobID, opts.Format, opts.Quality)
	return &model.ExportResponse{ProductionJobID: jobID, Status: job.Status}, nil
}

// GetExport returns the export artifact of a completed job.
func (s *ProductionService) GetExport(ctx context.Context, owner, jobID string) (*model.ExportResponse, error) {
	job, err := s.GetJob(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.ProductionStatusCompleted {
		return nil, notCompleted(model.JobKindProduction, string(job.Status), job.ProgressPercent, job.Status.IsTerminal())
	}
	return &model.ExportResponse{
		ProductionJobID: job.ID,
		Status:          job.Status,
		Export:          job.Output.Export,
	}, nil
}

// OpenExport streams the exported episode.
func (s *ProductionService) OpenExport(ctx context.Context, owner, jobID string) (io.ReadCloser, *model.ExportArtifact, error) {
	res, err := s.GetExport(ctx, owner, jobID)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.storage.Download(ctx, res.Export.Key)
	if err != nil {
		return nil, nil, err
	}
	return body, res.Export, nil
}

// OpenSegment streams the audio of one generated segment.
func (s *ProductionService) OpenSegment(ctx context.Context, owner, jobID, segmentID string) (io.ReadCloser, error) {
	job, err := s.GetJob(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	for _, seg := range job.Segments {
		if seg.ID != segmentID {
			continue
		}
		if seg.Status != model.SegmentStatusReady || seg.ArtifactLocation == "" {
			return nil, apperr.NotReady(string(seg.Status), job.ProgressPercent)
		}
		return s.storage.Download(ctx, seg.ArtifactLocation)
	}
	return nil, apperr.NotFound("segment", segmentID)
}

// Cancel fails a waiting job at once. A generating or exporting job is
// flagged and fails at the executor's next unit boundary. A running job with
// no writes inside the stale window is failed at once, since its executor
// is gone.
func (s *ProductionService) Cancel(ctx context.Context, owner, jobID string) (*model.CancelResponse, error) {
	if _, err := s.GetJob(ctx, owner, jobID); err != nil {
		return nil, err
	}

	pending, abandoned := false, false
	var lastWrite time.Time
	job, err := s.jobs.Update(ctx, jobID, func(j *model.ProductionJob) error {
		switch {
		case j.Status.IsTerminal():
			return apperr.InvalidState(model.JobKindProduction, string(j.Status), "a non-terminal state")
		case j.Status.IsWaiting():
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
		log.Printf("[Production] job %s had no writes since %s, cancelled outright", jobID, lastWrite.Format(time.RFC3339))
	} else {
		log.Printf("[Production] job %s cancel requested (pending=%t)", jobID, pending)
	}
	return &model.CancelResponse{
		Success: true,
		JobID:   jobID,
		Status:  string(job.Status),
		Pending: pending,
	}, nil
}

// History lists the owner's jobs, newest first. An empty status matches all.
func (s *ProductionService) History(ctx context.Context, owner, status string, limit int) ([]model.ProductionSummary, error) {
	jobs, err := s.jobs.List(ctx, owner)
	if err != nil {
		return nil, err
	}

	out := make([]model.ProductionSummary, 0, len(jobs))
	for _, j := range jobs {
		if status != "" && string(j.Status) != status {
			continue
		}
		out = append(out, model.ProductionSummary{
			JobID:           j.ID,
			ResearchJobID:   j.ResearchJobID,
			SelectedVariant: j.SelectedVariant,
			Status:          j.Status,
			FailedSegments:  j.FailedSegments,
			CreatedAt:       j.CreatedAt,
			CompletedAt:     j.CompletedAt,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *ProductionService) abandon(ctx context.Context, jobID, msg string, cause error) {
	_, err := s.jobs.Update(ctx, jobID, func(j *model.ProductionJob) error {
		j.Fail(msg, s.now())
		return nil
	})
	if err != nil {
		log.Printf("[Production] failed to mark job %s as failed after %v: %v", jobID, cause, err)
	}
}

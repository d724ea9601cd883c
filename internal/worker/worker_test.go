package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/client"
	"github.com/podforge/api/internal/config"
	"github.com/podforge/api/internal/generator"
	"github.com/podforge/api/internal/model"
	"github.com/podforge/api/internal/provider"
	"github.com/podforge/api/internal/research"
	"github.com/podforge/api/internal/store"
	"github.com/podforge/api/internal/timeline"
)

var testPipeline = config.PipelineConfig{WordsPerMinute: 150, DefaultDuration: 30, Language: "en", MaxSources: 10}

type event struct {
	kind string
	code string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) BroadcastProgress(jobID, kind string, progress float64, status, step string) {
	n.add(event{kind: model.WSMessageTypeProgress})
}

func (n *recordingNotifier) BroadcastComplete(jobID, kind string, result any) {
	n.add(event{kind: model.WSMessageTypeComplete})
}

func (n *recordingNotifier) BroadcastError(jobID, kind, code, message string) {
	n.add(event{kind: model.WSMessageTypeError, code: code})
}

func (n *recordingNotifier) add(e event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) last() event {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return event{}
	}
	return n.events[len(n.events)-1]
}

// recordingAdapter is the mock provider with a log of synthesized texts.
type recordingAdapter struct {
	*provider.MockAdapter
	mu    sync.Mutex
	texts []string
}

func (a *recordingAdapter) Synthesize(ctx context.Context, req provider.SynthesisRequest) (*provider.AudioHandle, error) {
	a.mu.Lock()
	a.texts = append(a.texts, req.Text)
	a.mu.Unlock()
	return a.MockAdapter.Synthesize(ctx, req)
}

func newStorage(t *testing.T) *client.LocalStorage {
	t.Helper()
	s, err := client.NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)
	return s
}

// newGeneratingJob stores a production job in GENERATING_SEGMENTS with one
// mock-voiced segment per text. Segment i gets sequence number seq[i] when
// given, else i.
func newGeneratingJob(t *testing.T, jobs store.Store[*model.ProductionJob], texts []string, seq ...int) *model.ProductionJob {
	t.Helper()
	now := time.Now()
	script := make([]model.ConversationSegment, len(texts))
	segments := make([]model.Segment, len(texts))
	voice := model.VoiceRef{Provider: provider.Mock, VoiceID: "mock-host"}
	for i, text := range texts {
		n := i
		if len(seq) == len(texts) {
			n = seq[i]
		}
		script[i] = model.ConversationSegment{SequenceNumber: n + 1, SpeakerID: "host_1", SpeakerName: "Alex", Text: text}
		v := voice
		segments[i] = model.Segment{
			ID:             fmt.Sprintf("seg_%04d", n),
			SequenceNumber: n,
			Type:           model.TrackTypeSpeech,
			CharacterID:    "host_1",
			CharacterName:  "Alex",
			SourceText:     text,
			Voice:          &v,
			Duration:       timeline.EstimateDuration(text, 150),
			Volume:         1.0,
			Status:         model.SegmentStatusPending,
		}
	}

	job := model.NewProductionJob(uuid.NewString(), "user-1", "research-1", model.AudienceMiddleAged, research.BuildCharacters(0, false), script, now)
	require.NoError(t, job.StartGeneration(map[string]model.VoiceAssignment{
		"host_1": {CharacterID: "host_1", Provider: provider.Mock, VoiceID: "mock-host"},
	}, segments, now))
	require.NoError(t, jobs.Create(context.Background(), job))
	return job
}

var scenarioTexts = []string{
	"one two three four five",
	"FAIL this segment please",
	"six seven eight nine ten",
	"FAIL this one as well",
	"eleven twelve thirteen fourteen fifteen",
}

func TestSegmentWorker_PartialFailureStillReadyForEditing(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	adapter := provider.NewMockAdapter()
	adapter.FailOn = "FAIL"
	notifier := &recordingNotifier{}
	w := NewSegmentWorker(jobs, provider.NewRegistry(adapter), newStorage(t), notifier, testPipeline)

	job := newGeneratingJob(t, jobs, scenarioTexts)
	require.NoError(t, w.Run(context.Background(), job.ID))

	job, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductionStatusReadyForEditing, job.Status)
	assert.Equal(t, 5, job.SegmentsGenerated)
	assert.Equal(t, 2, job.FailedSegments)
	assert.Equal(t, model.SegmentStatusError, job.Segments[1].Status)
	assert.Equal(t, model.SegmentStatusError, job.Segments[3].Status)
	assert.NotEmpty(t, job.Segments[1].ErrorMessage)

	speech := job.Output.Timeline.Tracks[0].Segments
	require.Len(t, speech, 3)
	assert.Equal(t, 0.0, speech[0].StartTime)
	assert.InDelta(t, 2.0, speech[1].StartTime, 1e-9)
	assert.InDelta(t, 4.0, speech[2].StartTime, 1e-9)
	assert.InDelta(t, 6.0, job.Output.Timeline.TotalDuration, 1e-9)
	assert.NoError(t, timeline.Validate(job.Output.Timeline))
	assert.NoError(t, job.CheckConsistency())
	assert.Equal(t, model.WSMessageTypeComplete, notifier.last().kind)
}

func TestSegmentWorker_AllSegmentsFailing(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	adapter := provider.NewMockAdapter()
	adapter.FailOn = "FAIL"
	w := NewSegmentWorker(jobs, provider.NewRegistry(adapter), newStorage(t), NopNotifier{}, testPipeline)

	job := newGeneratingJob(t, jobs, []string{"FAIL a", "FAIL b"})
	err := w.Run(context.Background(), job.ID)
	assert.True(t, apperr.Is(err, apperr.CodePartialUnitFailure))

	job, err = jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductionStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "all 2 segments failed")
	assert.Nil(t, job.Output)
}

func TestSegmentWorker_GeneratesInSequenceOrder(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	adapter := &recordingAdapter{MockAdapter: provider.NewMockAdapter()}
	w := NewSegmentWorker(jobs, provider.NewRegistry(adapter), newStorage(t), NopNotifier{}, testPipeline)

	job := newGeneratingJob(t, jobs, []string{"third line", "first line", "second line"}, 2, 0, 1)
	require.NoError(t, w.Run(context.Background(), job.ID))

	assert.Equal(t, []string{"first line", "second line", "third line"}, adapter.texts)
}

func TestSegmentWorker_CancelIsObservedBetweenSegments(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	adapter := &recordingAdapter{MockAdapter: provider.NewMockAdapter()}
	notifier := &recordingNotifier{}
	w := NewSegmentWorker(jobs, provider.NewRegistry(adapter), newStorage(t), notifier, testPipeline)

	job := newGeneratingJob(t, jobs, scenarioTexts)
	_, err := jobs.Update(context.Background(), job.ID, func(j *model.ProductionJob) error {
		j.CancelRequested = true
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, w.Run(context.Background(), job.ID))
	assert.Empty(t, adapter.texts)

	job, err = jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductionStatusFailed, job.Status)
	assert.True(t, job.Cancelled)
	assert.Equal(t, event{kind: model.WSMessageTypeError, code: string(apperr.CodeCancelled)}, notifier.last())
}

// stallingAdapter blocks on texts containing "STALL" until the context ends.
type stallingAdapter struct {
	*provider.MockAdapter
}

func (a *stallingAdapter) Synthesize(ctx context.Context, req provider.SynthesisRequest) (*provider.AudioHandle, error) {
	if strings.Contains(req.Text, "STALL") {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return a.MockAdapter.Synthesize(ctx, req)
}

func TestSegmentWorker_StageDeadlineFailsRemainingSegments(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	adapter := &stallingAdapter{MockAdapter: provider.NewMockAdapter()}
	notifier := &recordingNotifier{}
	w := NewSegmentWorker(jobs, provider.NewRegistry(adapter), newStorage(t), notifier, testPipeline)

	job := newGeneratingJob(t, jobs, []string{
		"one two three four five",
		"six seven eight nine ten",
		"STALL on this segment",
		"eleven twelve",
		"thirteen fourteen",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx, job.ID))

	job, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductionStatusReadyForEditing, job.Status)
	assert.Equal(t, 5, job.SegmentsGenerated)
	assert.Equal(t, 3, job.FailedSegments)
	for _, s := range job.Segments[2:] {
		assert.Equal(t, model.SegmentStatusError, s.Status)
		assert.Equal(t, "stage deadline exceeded", s.ErrorMessage)
	}
	assert.Len(t, job.Output.Timeline.Tracks[0].Segments, 2)
	assert.NoError(t, job.CheckConsistency())
	assert.Equal(t, model.WSMessageTypeComplete, notifier.last().kind)
}

func TestSegmentWorker_DeadlineWithNothingGeneratedFailsJob(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	adapter := &stallingAdapter{MockAdapter: provider.NewMockAdapter()}
	w := NewSegmentWorker(jobs, provider.NewRegistry(adapter), newStorage(t), NopNotifier{}, testPipeline)

	job := newGeneratingJob(t, jobs, []string{"STALL first", "never reached"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := w.Run(ctx, job.ID)
	assert.True(t, apperr.Is(err, apperr.CodePartialUnitFailure))

	job, err = jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductionStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "stage deadline exceeded")
}

func TestSegmentWorker_SkipsJobInOtherState(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	w := NewSegmentWorker(jobs, provider.NewRegistry(provider.NewMockAdapter()), newStorage(t), NopNotifier{}, testPipeline)

	job := model.NewProductionJob("p-1", "user-1", "r-1", model.AudienceYoung, nil, nil, time.Now())
	require.NoError(t, jobs.Create(context.Background(), job))
	require.NoError(t, w.Run(context.Background(), job.ID))

	job, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductionStatusVoiceAssignment, job.Status)
}

// exportingJob runs segment generation and moves the job to EXPORTING.
func exportingJob(t *testing.T, jobs store.Store[*model.ProductionJob], storage client.StorageClient, opts model.ExportOptions) *model.ProductionJob {
	t.Helper()
	adapter := provider.NewMockAdapter()
	adapter.FailOn = "FAIL"
	seg := NewSegmentWorker(jobs, provider.NewRegistry(adapter), storage, NopNotifier{}, testPipeline)

	job := newGeneratingJob(t, jobs, scenarioTexts)
	require.NoError(t, seg.Run(context.Background(), job.ID))

	opts.ApplyDefaults()
	job, err := jobs.Update(context.Background(), job.ID, func(j *model.ProductionJob) error {
		return j.StartExport(opts)
	})
	require.NoError(t, err)
	return job
}

func TestExportWorker_JoinsSpeechWithoutAudioService(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	storage := newStorage(t)
	job := exportingJob(t, jobs, storage, model.ExportOptions{})

	w := NewExportWorker(jobs, client.NewAudioClient(&config.AudioConfig{}), storage, NopNotifier{})
	require.NoError(t, w.Run(context.Background(), job.ID))

	job, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, model.ProductionStatusCompleted, job.Status)
	artifact := job.Output.Export
	require.NotNil(t, artifact)
	assert.Equal(t, 3, artifact.SegmentCount)
	assert.Equal(t, 2, artifact.SkippedSegments)
	assert.InDelta(t, 6.0, artifact.DurationSeconds, 1e-9)
	assert.NoError(t, job.CheckConsistency())

	body, err := storage.Download(context.Background(), artifact.Key)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, artifact.SizeBytes, int64(len(data)))
	assert.True(t, bytes.HasPrefix(data, []byte{0xFF, 0xFB}))
}

func TestExportWorker_WAVNeedsAudioService(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	storage := newStorage(t)
	job := exportingJob(t, jobs, storage, model.ExportOptions{Format: model.ExportFormatWAV})

	w := NewExportWorker(jobs, nil, storage, NopNotifier{})
	require.Error(t, w.Run(context.Background(), job.ID))

	job, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductionStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "audio service")
}

type mockMixer struct {
	mock.Mock
}

func (m *mockMixer) Mix(ctx context.Context, req *client.MixRequest) (*client.MixResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*client.MixResponse)
	return resp, args.Error(1)
}

func (m *mockMixer) HealthCheck(ctx context.Context) error { return nil }
func (m *mockMixer) IsConfigured() bool                    { return true }

func TestExportWorker_MixesThroughAudioService(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	storage := newStorage(t)
	job := exportingJob(t, jobs, storage, model.ExportOptions{Quality: model.ExportQualityMedium, Normalize: true})

	mixer := &mockMixer{}
	mixer.On("Mix", mock.Anything, mock.MatchedBy(func(r *client.MixRequest) bool {
		return len(r.Tracks) == 3 && len(r.Tracks[0].Clips) == 3 && r.Bitrate == 192 && r.Normalize
	})).Return(&client.MixResponse{OutputURL: "https://cdn.example/episode.mp3", Duration: 6, Size: 4096}, nil)

	w := NewExportWorker(jobs, mixer, storage, NopNotifier{})
	require.NoError(t, w.Run(context.Background(), job.ID))
	mixer.AssertExpectations(t)

	job, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, model.ProductionStatusCompleted, job.Status)
	assert.Equal(t, "https://cdn.example/episode.mp3", job.Output.Export.DownloadURL)
	assert.Equal(t, int64(4096), job.Output.Export.SizeBytes)
}

func TestExportWorker_MixFailureFailsJob(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	storage := newStorage(t)
	job := exportingJob(t, jobs, storage, model.ExportOptions{})

	mixer := &mockMixer{}
	mixer.On("Mix", mock.Anything, mock.Anything).Return(nil, errors.New("mixer exploded"))

	w := NewExportWorker(jobs, mixer, storage, NopNotifier{})
	require.Error(t, w.Run(context.Background(), job.ID))

	job, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductionStatusFailed, job.Status)
	assert.Nil(t, job.Output)
}

func newResearchJob(t *testing.T, jobs store.Store[*model.ResearchJob]) *model.ResearchJob {
	t.Helper()
	req := model.ResearchRequest{Topic: "renewable energy", NumGuests: 2}
	req.ApplyDefaults(30)
	job := model.NewResearchJob(uuid.NewString(), "user-1", req, time.Now())
	require.NoError(t, jobs.Create(context.Background(), job))
	return job
}

func TestResearchWorker_CompletesEveryVariant(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ResearchJob](model.JobKindResearch)
	notifier := &recordingNotifier{}
	w := NewResearchWorker(jobs, generator.NewMockGenerator(), newStorage(t), notifier, testPipeline)

	job := newResearchJob(t, jobs)
	require.NoError(t, w.Run(context.Background(), job.ID))

	job, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, model.ResearchStatusCompleted, job.Status)
	require.NoError(t, job.CheckConsistency())

	result := job.Result
	require.Len(t, result.Variants, 3)
	for _, v := range result.Variants {
		assert.NotEmpty(t, v.FullScript)
		assert.Positive(t, v.WordCount)
		assert.NotEmpty(t, v.Segments)
	}
	assert.Equal(t, model.AudienceMiddleAged, result.RecommendedVariant)
	assert.Len(t, result.Characters, 3)
	assert.Equal(t, research.DataQualityFull, result.Findings.DataQuality)
	assert.Equal(t, 3, result.Findings.TotalSources)
	assert.Len(t, result.FilePaths, 4)
	assert.Contains(t, result.FilePaths, "findings")
	assert.Equal(t, 100.0, job.ProgressPercent)
	assert.Equal(t, model.WSMessageTypeComplete, notifier.last().kind)
}

func TestResearchWorker_ToleratesFailedVariant(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ResearchJob](model.JobKindResearch)
	gen := generator.NewMockGenerator()
	gen.Fail = func(prompt string, c generator.Constraints) error {
		if c.Task == generator.TaskScript && strings.Contains(prompt, "Audience: young") {
			return apperr.Generator(errors.New("model refused"))
		}
		return nil
	}
	w := NewResearchWorker(jobs, gen, newStorage(t), NopNotifier{}, testPipeline)

	job := newResearchJob(t, jobs)
	require.NoError(t, w.Run(context.Background(), job.ID))

	job, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, model.ResearchStatusCompleted, job.Status)
	assert.Len(t, job.Result.Variants, 2)
	assert.Equal(t, 1, job.Result.FailedVariants)
	require.NotNil(t, job.Diagnostics)
	assert.Contains(t, job.Diagnostics.VariantErrors, model.AudienceYoung)
}

func TestResearchWorker_AllVariantsFailing(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ResearchJob](model.JobKindResearch)
	gen := generator.NewMockGenerator()
	gen.Fail = func(prompt string, c generator.Constraints) error {
		if c.Task == generator.TaskScript {
			return apperr.GeneratorUnavailable("rate limited")
		}
		return nil
	}
	notifier := &recordingNotifier{}
	w := NewResearchWorker(jobs, gen, newStorage(t), notifier, testPipeline)

	job := newResearchJob(t, jobs)
	require.Error(t, w.Run(context.Background(), job.ID))

	job, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResearchStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "all 3 script variants failed")
	assert.Nil(t, job.Result)
	require.NotNil(t, job.Diagnostics)
	assert.NotNil(t, job.Diagnostics.Findings)
	assert.Len(t, job.Diagnostics.VariantErrors, 3)
	assert.NoError(t, job.CheckConsistency())
	assert.Equal(t, string(apperr.CodeGenerator), notifier.last().code)
}

func TestResearchWorker_AnalysisFailureUsesDefaults(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ResearchJob](model.JobKindResearch)
	gen := generator.NewMockGenerator()
	gen.Fail = func(prompt string, c generator.Constraints) error {
		if c.Task == generator.TaskAnalysis {
			return apperr.GeneratorUnavailable("down")
		}
		return nil
	}
	w := NewResearchWorker(jobs, gen, newStorage(t), NopNotifier{}, testPipeline)

	job := newResearchJob(t, jobs)
	require.NoError(t, w.Run(context.Background(), job.ID))

	job, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, model.ResearchStatusCompleted, job.Status)
	assert.Equal(t, 6.0, job.Result.Findings.QualityScore)
	assert.NotEmpty(t, job.Result.Findings.Warnings)
	assert.Equal(t, research.DataQualityPartial, job.Result.Findings.DataQuality)
}

func TestResearchWorker_CancelRequestedMidRun(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ResearchJob](model.JobKindResearch)
	job := newResearchJob(t, jobs)

	gen := generator.NewMockGenerator()
	gen.Fail = func(prompt string, c generator.Constraints) error {
		if c.Task == generator.TaskAnalysis {
			_, err := jobs.Update(context.Background(), job.ID, func(j *model.ResearchJob) error {
				j.CancelRequested = true
				return nil
			})
			return err
		}
		return nil
	}
	w := NewResearchWorker(jobs, gen, newStorage(t), NopNotifier{}, testPipeline)
	require.NoError(t, w.Run(context.Background(), job.ID))

	job, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResearchStatusFailed, job.Status)
	assert.True(t, job.Cancelled)
	assert.Nil(t, job.Result)
}

func TestResearchWorker_SkipsJobThatIsNotPending(t *testing.T) {
	jobs := store.NewMemoryStore[*model.ResearchJob](model.JobKindResearch)
	job := newResearchJob(t, jobs)
	_, err := jobs.Update(context.Background(), job.ID, func(j *model.ResearchJob) error {
		j.Cancel(time.Now())
		return nil
	})
	require.NoError(t, err)

	w := NewResearchWorker(jobs, generator.NewMockGenerator(), newStorage(t), NopNotifier{}, testPipeline)
	require.NoError(t, w.Run(context.Background(), job.ID))

	job, err = jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResearchStatusFailed, job.Status)
	assert.True(t, job.Cancelled)
}

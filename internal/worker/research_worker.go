package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/client"
	"github.com/podforge/api/internal/config"
	"github.com/podforge/api/internal/generator"
	"github.com/podforge/api/internal/model"
	"github.com/podforge/api/internal/research"
	"github.com/podforge/api/internal/service"
	"github.com/podforge/api/internal/store"
)

// ResearchWorker runs the research stage: sources, analysis, cast, one
// script per audience, a recommendation and the result files.
type ResearchWorker struct {
	jobs       store.Store[*model.ResearchJob]
	generator  generator.Generator
	collectors []research.Collector
	storage    client.StorageClient
	notifier   Notifier
	pipeline   config.PipelineConfig
	now        func() time.Time
}

// NewResearchWorker creates a research worker. The encyclopedia collector is
// added when a Wikipedia URL is configured.
func NewResearchWorker(jobs store.Store[*model.ResearchJob], gen generator.Generator, storage client.StorageClient, notifier Notifier, pipeline config.PipelineConfig) *ResearchWorker {
	collectors := []research.Collector{
		research.BestPracticesCollector{},
		research.GeneratorCollector{Generator: gen},
	}
	if pipeline.WikipediaURL != "" {
		collectors = append(collectors, research.NewWikipediaCollector(pipeline.WikipediaURL))
	}
	return &ResearchWorker{
		jobs:       jobs,
		generator:  gen,
		collectors: collectors,
		storage:    storage,
		notifier:   notifier,
		pipeline:   pipeline,
		now:        time.Now,
	}
}

// ProcessTask handles research task processing
func (w *ResearchWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	jobID, err := service.ParseTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return w.Run(ctx, jobID)
}

// Run executes the stage for jobID. It returns nil when the job completed,
// was cancelled or no longer needed this stage.
func (w *ResearchWorker) Run(ctx context.Context, jobID string) error {
	job, err := w.jobs.Update(ctx, jobID, func(j *model.ResearchJob) error {
		if j.Status != model.ResearchStatusPending {
			return errSkip
		}
		if err := j.Transition(model.ResearchStatusResearching, w.now()); err != nil {
			return err
		}
		j.SetProgress(5, "Starting research")
		return nil
	})
	if errors.Is(err, errSkip) {
		log.Printf("[Research] job %s is no longer pending, skipping", jobID)
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("[Research] starting job %s: %q", jobID, job.Request.Topic)
	w.notifyProgress(job)

	req := job.Request
	diag := &model.ResearchDiagnostics{}

	// Step 1: collect sources
	if err := w.step(ctx, jobID, 10, "Collecting sources"); err != nil {
		return w.fail(ctx, jobID, err, diag)
	}
	sources, warnings, err := research.Collect(ctx, req.Topic, w.pipeline.MaxSources, w.collectors...)
	if err != nil {
		return w.fail(ctx, jobID, err, diag)
	}
	findings := model.ResearchFindings{
		Topic:        req.Topic,
		TotalSources: len(sources),
		Sources:      sources,
		Warnings:     warnings,
	}
	diag.Findings = &findings

	// Step 2: analysis
	if err := w.step(ctx, jobID, 25, "Analyzing sources"); err != nil {
		return w.fail(ctx, jobID, err, diag)
	}
	analysis, err := w.generator.Generate(ctx, research.AnalysisPrompt(req.Topic, sources), generator.Constraints{
		Task:        generator.TaskAnalysis,
		System:      research.ResearcherSystem(),
		Temperature: 0.3,
		MaxTokens:   2000,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return w.fail(ctx, jobID, err, diag)
	case err != nil:
		log.Printf("[Research] job %s analysis failed, using defaults: %v", jobID, err)
		research.ApplyDefaultAnalysis(&findings, "analysis unavailable, using defaults")
	default:
		research.ParseAnalysis(analysis, &findings)
	}
	findings.DataQuality = research.DataQuality(len(sources), findings.Warnings)
	chars := research.BuildCharacters(req.NumGuests, req.IncludeListener)

	// Step 3: one script per audience
	job, err = w.jobs.Update(ctx, jobID, func(j *model.ResearchJob) error {
		if j.CancelRequested {
			j.Cancel(w.now())
			return nil
		}
		if err := j.Transition(model.ResearchStatusGenerating, w.now()); err != nil {
			return err
		}
		j.SetProgress(40, "Writing scripts")
		return nil
	})
	if err == nil && job.Cancelled {
		err = errCancelled
	}
	if err != nil {
		return w.fail(ctx, jobID, err, diag)
	}
	w.notifyProgress(job)

	variants, variantErrors, err := w.writeVariants(ctx, jobID, req, findings, chars)
	if len(variantErrors) > 0 {
		diag.VariantErrors = variantErrors
	}
	if err != nil {
		return w.fail(ctx, jobID, err, diag)
	}
	if len(variants) == 0 {
		return w.fail(ctx, jobID, aggregateVariantErrors(variantErrors), diag)
	}

	// Step 4: recommendation
	if err := w.step(ctx, jobID, 85, "Choosing recommended variant"); err != nil {
		return w.fail(ctx, jobID, err, diag)
	}
	recommended, reason := w.recommend(ctx, req.Topic, variants)

	// Step 5: persist files
	if err := w.step(ctx, jobID, 92, "Saving research files"); err != nil {
		return w.fail(ctx, jobID, err, diag)
	}
	paths, err := w.saveFiles(ctx, jobID, findings, variants)
	if err != nil {
		log.Printf("[Research] job %s file upload failed: %v", jobID, err)
		findings.Warnings = append(findings.Warnings, "research files could not be saved")
	}

	result := &model.ResearchResult{
		Findings:             findings,
		Characters:           chars,
		Variants:             variants,
		FailedVariants:       len(variantErrors),
		RecommendedVariant:   recommended,
		RecommendationReason: reason,
		FilePaths:            paths,
	}

	job, err = w.jobs.Update(ctx, jobID, func(j *model.ResearchJob) error {
		if j.CancelRequested {
			j.Cancel(w.now())
			return nil
		}
		if len(variantErrors) > 0 {
			j.Diagnostics = diag
		}
		return j.Complete(result, w.now())
	})
	if err == nil && job.Cancelled {
		err = errCancelled
	}
	if err != nil {
		return w.fail(ctx, jobID, err, diag)
	}

	w.notifier.BroadcastComplete(jobID, model.JobKindResearch, job.StatusView())
	log.Printf("[Research] job %s completed: %d variants, %d failed, recommended %s", jobID, len(variants), len(variantErrors), recommended)
	return nil
}

// writeVariants generates the scripts. A failed audience is recorded and
// skipped; only cancellation aborts the loop.
func (w *ResearchWorker) writeVariants(ctx context.Context, jobID string, req model.ResearchRequest, findings model.ResearchFindings, chars []model.Character) ([]model.ScriptVariant, map[model.AudienceType]string, error) {
	var variants []model.ScriptVariant
	failures := make(map[model.AudienceType]string)
	speakers := research.SpeakerNames(chars)

	for i, audience := range req.Audiences {
		progress := 40 + 45*float64(i)/float64(len(req.Audiences))
		if err := w.step(ctx, jobID, progress, fmt.Sprintf("Writing %s script", research.AudienceLabel(audience))); err != nil {
			return variants, failures, err
		}

		script, err := w.generator.Generate(ctx, research.ScriptPrompt(req, findings, audience, chars), generator.Constraints{
			Task:        generator.TaskScript,
			System:      research.ScriptSystem(),
			Temperature: 0.8,
			MaxTokens:   4000,
			Speakers:    speakers,
		})
		if err != nil {
			if ctx.Err() != nil {
				return variants, failures, ctx.Err()
			}
			log.Printf("[Research] job %s: %v", jobID, apperr.PartialUnitFailure(string(audience)+" script", err))
			failures[audience] = err.Error()
			continue
		}

		v := research.NewVariant(req.Topic, audience, script, chars, req.TargetDurationMinutes, w.pipeline.WordsPerMinute)
		if len(v.Segments) == 0 {
			failures[audience] = "script contained no dialogue lines"
			continue
		}
		variants = append(variants, v)
	}
	return variants, failures, nil
}

func aggregateVariantErrors(failures map[model.AudienceType]string) error {
	parts := make([]string, 0, len(failures))
	for _, a := range model.ValidAudiences {
		if msg, ok := failures[a]; ok {
			parts = append(parts, fmt.Sprintf("%s: %s", a, msg))
		}
	}
	return apperr.Generator(fmt.Errorf("all %d script variants failed (%s)", len(failures), strings.Join(parts, "; ")))
}

func (w *ResearchWorker) recommend(ctx context.Context, topic string, variants []model.ScriptVariant) (model.AudienceType, string) {
	if len(variants) == 1 {
		return variants[0].Audience, "Only generated variant"
	}
	text, err := w.generator.Generate(ctx, research.RecommendationPrompt(topic, variants), generator.Constraints{
		Task:        generator.TaskRecommendation,
		System:      research.ResearcherSystem(),
		Temperature: 0.2,
		MaxTokens:   300,
	})
	if err != nil {
		log.Printf("[Research] recommendation failed, using fallback: %v", err)
		return research.FallbackRecommendation(variants)
	}
	return research.ParseRecommendation(text, variants)
}

// saveFiles writes the findings and each script to storage and returns the
// keys by file name. Keys written before a failure are still returned.
func (w *ResearchWorker) saveFiles(ctx context.Context, jobID string, findings model.ResearchFindings, variants []model.ScriptVariant) (map[string]string, error) {
	paths := make(map[string]string)

	data, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return paths, fmt.Errorf("failed to marshal findings: %w", err)
	}
	key := fmt.Sprintf("research/%s/findings.json", jobID)
	if _, err := w.storage.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return paths, err
	}
	paths["findings"] = key

	for _, v := range variants {
		name := "script_" + string(v.Audience)
		key := fmt.Sprintf("research/%s/%s.md", jobID, name)
		if _, err := w.storage.Upload(ctx, key, strings.NewReader(v.FullScript), "text/markdown"); err != nil {
			return paths, err
		}
		paths[name] = key
	}
	return paths, nil
}

// step records progress, applying a pending cancellation instead when one
// was requested.
func (w *ResearchWorker) step(ctx context.Context, jobID string, progress float64, name string) error {
	job, err := w.jobs.Update(ctx, jobID, func(j *model.ResearchJob) error {
		if j.CancelRequested {
			j.Cancel(w.now())
			return nil
		}
		j.SetProgress(progress, name)
		return nil
	})
	if err != nil {
		return err
	}
	if job.Cancelled {
		return errCancelled
	}
	w.notifyProgress(job)
	return nil
}

func (w *ResearchWorker) notifyProgress(job *model.ResearchJob) {
	w.notifier.BroadcastProgress(job.ID, model.JobKindResearch, job.ProgressPercent, string(job.Status), job.CurrentStep)
}

// fail moves the job to FAILED with the diagnostics gathered so far. A
// cancelled job is already terminal and only the event is sent.
func (w *ResearchWorker) fail(ctx context.Context, jobID string, cause error, diag *model.ResearchDiagnostics) error {
	if errors.Is(cause, errCancelled) {
		log.Printf("[Research] job %s cancelled", jobID)
		w.notifier.BroadcastError(jobID, model.JobKindResearch, string(apperr.CodeCancelled), errCancelled.Message)
		return nil
	}

	msg := cause.Error()
	// the job context may be gone; record the failure regardless
	_, err := w.jobs.Update(context.WithoutCancel(ctx), jobID, func(j *model.ResearchJob) error {
		j.Fail(msg, w.now())
		j.Diagnostics = diag
		return nil
	})
	if err != nil {
		log.Printf("[Research] failed to record failure of job %s: %v", jobID, err)
	}

	w.notifier.BroadcastError(jobID, model.JobKindResearch, string(apperr.CodeOf(cause)), msg)
	log.Printf("[Research] job %s failed: %s", jobID, msg)
	return cause
}

package model

import (
	"fmt"
	"time"

	"github.com/podforge/api/internal/apperr"
)

// ResearchRequest starts a research job
type ResearchRequest struct {
	Topic                 string         `json:"topic" validate:"required,min=3,max=500"`
	TargetDurationMinutes int            `json:"target_duration_minutes" validate:"omitempty,min=5,max=120"`
	NumGuests             int            `json:"num_guests" validate:"min=0,max=3"`
	IncludeListener       bool           `json:"include_listener"`
	Audiences             []AudienceType `json:"audiences" validate:"omitempty,max=3,unique,dive,oneof=young middle_aged scientific"`
	SpontaneousDeviations bool           `json:"spontaneous_deviations"`
	RandomnessLevel       float64        `json:"randomness_level" validate:"min=0,max=1"`
}

// ApplyDefaults fills optional fields.
func (r *ResearchRequest) ApplyDefaults(defaultDuration int) {
	if r.TargetDurationMinutes == 0 {
		r.TargetDurationMinutes = defaultDuration
	}
	if len(r.Audiences) == 0 {
		r.Audiences = append([]AudienceType(nil), ValidAudiences...)
	}
}

// Character is a podcast participant needing a voice
type Character struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Role        CharacterRole `json:"role"`
	Personality string        `json:"personality"`
	SpeechStyle string        `json:"speech_style"`
	Dominance   float64       `json:"dominance"`
}

// ResearchSource is one collected source
type ResearchSource struct {
	SourceType  string   `json:"source_type"`
	Title       string   `json:"title"`
	URL         string   `json:"url,omitempty"`
	Summary     string   `json:"summary"`
	KeyInsights []string `json:"key_insights"`
	Credibility float64  `json:"credibility"`
}

// ResearchFindings aggregates sources and the generator's analysis
type ResearchFindings struct {
	Topic              string           `json:"topic"`
	TotalSources       int              `json:"total_sources"`
	Sources            []ResearchSource `json:"sources"`
	KeyFindings        []string         `json:"key_findings"`
	SuggestedStructure []string         `json:"suggested_structure"`
	QualityScore       float64          `json:"quality_score"`
	DataQuality        string           `json:"data_quality"`
	Warnings           []string         `json:"warnings,omitempty"`
}

// ConversationSegment is one parsed line of a script
type ConversationSegment struct {
	SequenceNumber   int     `json:"sequence_number"`
	SpeakerID        string  `json:"speaker_id"`
	SpeakerName      string  `json:"speaker_name"`
	Text             string  `json:"text"`
	DurationEstimate float64 `json:"duration_estimate"`
}

// ScriptVariant is the script written for one audience
type ScriptVariant struct {
	Audience             AudienceType          `json:"audience"`
	Title                string                `json:"title"`
	Description          string                `json:"description"`
	Tone                 string                `json:"tone"`
	Segments             []ConversationSegment `json:"segments"`
	TotalDurationMinutes float64               `json:"total_duration_minutes"`
	WordCount            int                   `json:"word_count"`
	FullScript           string                `json:"full_script"`
}

// ResearchResult is present only on completed research jobs
type ResearchResult struct {
	Findings             ResearchFindings  `json:"findings"`
	Characters           []Character       `json:"characters"`
	Variants             []ScriptVariant   `json:"variants"`
	FailedVariants       int               `json:"failed_variants"`
	RecommendedVariant   AudienceType      `json:"recommended_variant"`
	RecommendationReason string            `json:"recommendation_reason"`
	FilePaths            map[string]string `json:"file_paths"`
}

// Variant returns the variant for audience, if generated.
func (r *ResearchResult) Variant(audience AudienceType) (*ScriptVariant, bool) {
	for i := range r.Variants {
		if r.Variants[i].Audience == audience {
			return &r.Variants[i], true
		}
	}
	return nil, false
}

// ResearchDiagnostics keeps partial output of a failed or degraded run.
type ResearchDiagnostics struct {
	Findings      *ResearchFindings       `json:"findings,omitempty"`
	VariantErrors map[AudienceType]string `json:"variant_errors,omitempty"`
}

// ResearchJob is the persisted research job record
type ResearchJob struct {
	JobMeta
	Status      ResearchStatus       `json:"status"`
	Request     ResearchRequest      `json:"request"`
	Result      *ResearchResult      `json:"result,omitempty"`
	Diagnostics *ResearchDiagnostics `json:"diagnostics,omitempty"`
}

// NewResearchJob creates a job in PENDING.
func NewResearchJob(id, owner string, req ResearchRequest, now time.Time) *ResearchJob {
	return &ResearchJob{
		JobMeta: JobMeta{
			ID:          id,
			Owner:       owner,
			CurrentStep: "Queued",
			CreatedAt:   now,
		},
		Status:  ResearchStatusPending,
		Request: req,
	}
}

var researchTransitions = map[ResearchStatus][]ResearchStatus{
	ResearchStatusPending:     {ResearchStatusResearching, ResearchStatusFailed},
	ResearchStatusResearching: {ResearchStatusGenerating, ResearchStatusFailed},
	ResearchStatusGenerating:  {ResearchStatusCompleted, ResearchStatusFailed},
}

// CanTransition reports whether to is a legal successor of s.
func (s ResearchStatus) CanTransition(to ResearchStatus) bool {
	for _, next := range researchTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ResearchStatus) IsTerminal() bool {
	return s == ResearchStatusCompleted || s == ResearchStatusFailed
}

// Transition moves the job along a non-terminal edge.
func (j *ResearchJob) Transition(to ResearchStatus, now time.Time) error {
	if to.IsTerminal() {
		return fmt.Errorf("use Complete or Fail to enter %s", to)
	}
	if !j.Status.CanTransition(to) {
		return apperr.InvalidTransition(JobKindResearch, string(j.Status), string(to))
	}
	j.Status = to
	j.markStarted(now)
	return nil
}

// Complete stores the result and enters COMPLETED.
func (j *ResearchJob) Complete(result *ResearchResult, now time.Time) error {
	if !j.Status.CanTransition(ResearchStatusCompleted) {
		return apperr.InvalidTransition(JobKindResearch, string(j.Status), string(ResearchStatusCompleted))
	}
	if result == nil || len(result.Variants) == 0 {
		return apperr.Validation("research result requires at least one script variant")
	}
	j.Status = ResearchStatusCompleted
	j.Result = result
	j.SetProgress(100, "Completed")
	j.markCompleted(now)
	return nil
}

// Fail enters FAILED. Calling Fail on a terminal job is a no-op.
func (j *ResearchJob) Fail(msg string, now time.Time) {
	if j.Status.IsTerminal() {
		return
	}
	j.Status = ResearchStatusFailed
	j.Result = nil
	j.markFailed(msg, now)
}

// Cancel fails the job with the cancelled flag set.
func (j *ResearchJob) Cancel(now time.Time) {
	if j.Status.IsTerminal() {
		return
	}
	j.Cancelled = true
	j.Fail("cancelled by user", now)
}

// CheckConsistency verifies status and result presence agree.
func (j *ResearchJob) CheckConsistency() error {
	switch j.Status {
	case ResearchStatusCompleted:
		if j.Result == nil || len(j.Result.Variants) == 0 {
			return fmt.Errorf("completed research job %s has no variants", j.ID)
		}
		if j.CompletedAt == nil {
			return fmt.Errorf("completed research job %s has no completed_at", j.ID)
		}
	case ResearchStatusFailed:
		if j.ErrorMessage == nil || j.Result != nil {
			return fmt.Errorf("failed research job %s must have an error and no result", j.ID)
		}
	default:
		if j.Result != nil {
			return fmt.Errorf("research job %s in %s must not have a result", j.ID, j.Status)
		}
	}
	return nil
}

func (j *ResearchJob) Flat() (FlatRecord, error) {
	return flatten(JobKindResearch, string(j.Status), &j.JobMeta, struct {
		Request     ResearchRequest      `json:"request"`
		Result      *ResearchResult      `json:"result,omitempty"`
		Diagnostics *ResearchDiagnostics `json:"diagnostics,omitempty"`
	}{j.Request, j.Result, j.Diagnostics})
}

// StatusView returns the polling representation.
func (j *ResearchJob) StatusView() JobStatusResponse {
	return statusView(&j.JobMeta, string(j.Status))
}

// ResearchStartResponse is returned by POST /api/research/start
type ResearchStartResponse struct {
	JobID     string         `json:"job_id"`
	Status    ResearchStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// ResearchSummary is one history entry
type ResearchSummary struct {
	JobID       string         `json:"job_id"`
	Topic       string         `json:"topic"`
	Status      ResearchStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

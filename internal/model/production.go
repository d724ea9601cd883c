package model

import (
	"fmt"
	"time"

	"github.com/podforge/api/internal/apperr"
)

// VoiceRef identifies a voice on a provider
type VoiceRef struct {
	Provider  string `json:"provider"`
	VoiceID   string `json:"voice_id"`
	VoiceName string `json:"voice_name,omitempty"`
}

// VoiceAssignment maps a character to a voice
type VoiceAssignment struct {
	CharacterID   string `json:"character_id" validate:"required"`
	CharacterName string `json:"character_name"`
	Provider      string `json:"provider" validate:"required"`
	VoiceID       string `json:"voice_id" validate:"required"`
	VoiceName     string `json:"voice_name"`
}

func (a VoiceAssignment) Ref() VoiceRef {
	return VoiceRef{Provider: a.Provider, VoiceID: a.VoiceID, VoiceName: a.VoiceName}
}

// Segment is one audio unit on a track
type Segment struct {
	ID               string        `json:"id"`
	SequenceNumber   int           `json:"sequence_number"`
	Type             TrackType     `json:"type"`
	CharacterID      string        `json:"character_id,omitempty"`
	CharacterName    string        `json:"character_name,omitempty"`
	SourceText       string        `json:"source_text,omitempty"`
	Voice            *VoiceRef     `json:"assigned_voice,omitempty"`
	StartTime        float64       `json:"start_time"`
	Duration         float64       `json:"duration"`
	EndTime          float64       `json:"end_time"`
	Volume           float64       `json:"volume"`
	Status           SegmentStatus `json:"status"`
	ArtifactLocation string        `json:"artifact_location,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty"`
}

// Track is an ordered lane of segments
type Track struct {
	ID       string    `json:"id" validate:"required"`
	Name     string    `json:"name"`
	Type     TrackType `json:"type" validate:"required,oneof=speech music sfx"`
	Number   int       `json:"number"`
	Segments []Segment `json:"segments"`
	Volume   float64   `json:"volume" validate:"min=0,max=2"`
	Muted    bool      `json:"muted"`
	Solo     bool      `json:"solo"`
}

// Timeline is the editable multi-track arrangement
type Timeline struct {
	ProductionJobID string  `json:"production_job_id"`
	TotalDuration   float64 `json:"total_duration"`
	Tracks          []Track `json:"tracks" validate:"required,min=1,dive"`
	SampleRate      int     `json:"sample_rate"`
	BitDepth        int     `json:"bit_depth"`
}

// ExportOptions configures the final render
type ExportOptions struct {
	Format          ExportFormat      `json:"format" validate:"omitempty,oneof=mp3 wav"`
	Quality         ExportQuality     `json:"quality" validate:"omitempty,oneof=low medium high"`
	Normalize       bool              `json:"normalize"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	RequireComplete bool              `json:"require_complete"`
}

func (o *ExportOptions) ApplyDefaults() {
	if o.Format == "" {
		o.Format = ExportFormatMP3
	}
	if o.Quality == "" {
		o.Quality = ExportQualityHigh
	}
}

// ExportArtifact describes the exported file
type ExportArtifact struct {
	Key             string       `json:"key"`
	DownloadURL     string       `json:"download_url"`
	Format          ExportFormat `json:"format"`
	SizeBytes       int64        `json:"size_bytes"`
	DurationSeconds float64      `json:"duration_seconds"`
	SegmentCount    int          `json:"segment_count"`
	SkippedSegments int          `json:"skipped_segments"`
	CreatedAt       time.Time    `json:"created_at"`
}

// ProductionOutput is present from READY_FOR_EDITING onwards.
// Export is set only on COMPLETED.
type ProductionOutput struct {
	Timeline Timeline        `json:"timeline"`
	Export   *ExportArtifact `json:"export,omitempty"`
}

// ProductionJob is the persisted production job record
type ProductionJob struct {
	JobMeta
	Status            ProductionStatus           `json:"status"`
	ResearchJobID     string                     `json:"research_job_id"`
	SelectedVariant   AudienceType               `json:"selected_variant"`
	Characters        []Character                `json:"characters"`
	Script            []ConversationSegment      `json:"script"`
	VoiceAssignments  map[string]VoiceAssignment `json:"voice_assignments,omitempty"`
	Segments          []Segment                  `json:"segments,omitempty"`
	// SegmentsGenerated counts processed segments, ready or in error.
	SegmentsGenerated int                        `json:"segments_generated"`
	FailedSegments    int                        `json:"failed_segments"`
	ExportOptions     *ExportOptions             `json:"export_options,omitempty"`
	Output            *ProductionOutput          `json:"output,omitempty"`
}

// NewProductionJob creates a job waiting in VOICE_ASSIGNMENT.
func NewProductionJob(id, owner, researchJobID string, variant AudienceType, characters []Character, script []ConversationSegment, now time.Time) *ProductionJob {
	return &ProductionJob{
		JobMeta: JobMeta{
			ID:          id,
			Owner:       owner,
			CurrentStep: "Waiting for voice assignments",
			CreatedAt:   now,
		},
		Status:          ProductionStatusVoiceAssignment,
		ResearchJobID:   researchJobID,
		SelectedVariant: variant,
		Characters:      characters,
		Script:          script,
	}
}

var productionTransitions = map[ProductionStatus][]ProductionStatus{
	ProductionStatusVoiceAssignment:    {ProductionStatusGeneratingSegments, ProductionStatusFailed},
	ProductionStatusGeneratingSegments: {ProductionStatusReadyForEditing, ProductionStatusFailed},
	ProductionStatusReadyForEditing:    {ProductionStatusEditing, ProductionStatusExporting, ProductionStatusFailed},
	ProductionStatusEditing:            {ProductionStatusEditing, ProductionStatusExporting, ProductionStatusFailed},
	ProductionStatusExporting:          {ProductionStatusCompleted, ProductionStatusFailed},
}

func (s ProductionStatus) CanTransition(to ProductionStatus) bool {
	for _, next := range productionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ProductionStatus) IsTerminal() bool {
	return s == ProductionStatusCompleted || s == ProductionStatusFailed
}

// HasTimeline reports whether jobs in s carry a timeline.
func (s ProductionStatus) HasTimeline() bool {
	switch s {
	case ProductionStatusReadyForEditing, ProductionStatusEditing, ProductionStatusExporting, ProductionStatusCompleted:
		return true
	}
	return false
}

// IsWaiting reports whether no executor owns a job in s.
func (s ProductionStatus) IsWaiting() bool {
	switch s {
	case ProductionStatusVoiceAssignment, ProductionStatusReadyForEditing, ProductionStatusEditing:
		return true
	}
	return false
}

// StartGeneration stores the assignments and enters GENERATING_SEGMENTS.
func (j *ProductionJob) StartGeneration(assignments map[string]VoiceAssignment, segments []Segment, now time.Time) error {
	if j.Status != ProductionStatusVoiceAssignment {
		return apperr.InvalidState(JobKindProduction, string(j.Status), string(ProductionStatusVoiceAssignment))
	}
	j.Status = ProductionStatusGeneratingSegments
	j.VoiceAssignments = assignments
	j.Segments = segments
	j.SegmentsGenerated = 0
	j.FailedSegments = 0
	j.ResetProgress("Queued for segment generation")
	j.markStarted(now)
	return nil
}

// FinishGeneration attaches the assembled timeline and enters READY_FOR_EDITING.
func (j *ProductionJob) FinishGeneration(tl Timeline) error {
	if !j.Status.CanTransition(ProductionStatusReadyForEditing) {
		return apperr.InvalidTransition(JobKindProduction, string(j.Status), string(ProductionStatusReadyForEditing))
	}
	j.Status = ProductionStatusReadyForEditing
	j.Output = &ProductionOutput{Timeline: tl}
	j.SetProgress(100, "Ready for editing")
	return nil
}

// ReplaceTimeline stores an edited timeline and enters EDITING.
func (j *ProductionJob) ReplaceTimeline(tl Timeline) error {
	if !j.Status.CanTransition(ProductionStatusEditing) {
		return apperr.InvalidTransition(JobKindProduction, string(j.Status), string(ProductionStatusEditing))
	}
	j.Status = ProductionStatusEditing
	j.Output = &ProductionOutput{Timeline: tl}
	j.CurrentStep = "Editing timeline"
	return nil
}

// StartExport enters EXPORTING.
func (j *ProductionJob) StartExport(opts ExportOptions) error {
	if !j.Status.CanTransition(ProductionStatusExporting) {
		return apperr.InvalidTransition(JobKindProduction, string(j.Status), string(ProductionStatusExporting))
	}
	j.Status = ProductionStatusExporting
	j.ExportOptions = &opts
	j.ResetProgress("Queued for export")
	return nil
}

// Complete stores the export artifact and enters COMPLETED.
func (j *ProductionJob) Complete(artifact *ExportArtifact, now time.Time) error {
	if !j.Status.CanTransition(ProductionStatusCompleted) {
		return apperr.InvalidTransition(JobKindProduction, string(j.Status), string(ProductionStatusCompleted))
	}
	if artifact == nil || j.Output == nil {
		return apperr.Validation("completed production requires a timeline and an export")
	}
	j.Status = ProductionStatusCompleted
	j.Output.Export = artifact
	j.SetProgress(100, "Completed")
	j.markCompleted(now)
	return nil
}

// Fail enters FAILED and drops the output. Calling Fail on a terminal job is a no-op.
func (j *ProductionJob) Fail(msg string, now time.Time) {
	if j.Status.IsTerminal() {
		return
	}
	j.Status = ProductionStatusFailed
	j.Output = nil
	j.markFailed(msg, now)
}

// Cancel fails the job with the cancelled flag set.
func (j *ProductionJob) Cancel(now time.Time) {
	if j.Status.IsTerminal() {
		return
	}
	j.Cancelled = true
	j.Fail("cancelled by user", now)
}

// CharacterIDs returns the characters referenced by the script, in first-appearance order.
func (j *ProductionJob) CharacterIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, seg := range j.Script {
		if !seen[seg.SpeakerID] {
			seen[seg.SpeakerID] = true
			ids = append(ids, seg.SpeakerID)
		}
	}
	return ids
}

// CheckConsistency verifies status and output presence agree.
func (j *ProductionJob) CheckConsistency() error {
	hasOutput := j.Output != nil
	if hasOutput != j.Status.HasTimeline() {
		return fmt.Errorf("production job %s in %s: timeline present=%t", j.ID, j.Status, hasOutput)
	}
	if j.Status == ProductionStatusCompleted && j.Output.Export == nil {
		return fmt.Errorf("completed production job %s has no export", j.ID)
	}
	if j.Status != ProductionStatusCompleted && hasOutput && j.Output.Export != nil {
		return fmt.Errorf("production job %s in %s must not have an export", j.ID, j.Status)
	}
	if j.Status == ProductionStatusFailed && j.ErrorMessage == nil {
		return fmt.Errorf("failed production job %s has no error message", j.ID)
	}
	if j.Status.IsTerminal() && j.CompletedAt == nil {
		return fmt.Errorf("terminal production job %s has no completed_at", j.ID)
	}
	return nil
}

func (j *ProductionJob) Flat() (FlatRecord, error) {
	return flatten(JobKindProduction, string(j.Status), &j.JobMeta, struct {
		ResearchJobID     string                     `json:"research_job_id"`
		SelectedVariant   AudienceType               `json:"selected_variant"`
		Characters        []Character                `json:"characters"`
		Script            []ConversationSegment      `json:"script"`
		VoiceAssignments  map[string]VoiceAssignment `json:"voice_assignments,omitempty"`
		Segments          []Segment                  `json:"segments,omitempty"`
		SegmentsGenerated int                        `json:"segments_generated"`
		FailedSegments    int                        `json:"failed_segments"`
		ExportOptions     *ExportOptions             `json:"export_options,omitempty"`
		Output            *ProductionOutput          `json:"output,omitempty"`
	}{
		j.ResearchJobID, j.SelectedVariant, j.Characters, j.Script, j.VoiceAssignments,
		j.Segments, j.SegmentsGenerated, j.FailedSegments, j.ExportOptions, j.Output,
	})
}

// ProductionStatusResponse is the polling view of a production job
type ProductionStatusResponse struct {
	JobStatusResponse
	SegmentsGenerated int `json:"segments_generated"`
	FailedSegments    int `json:"failed_segments"`
	TotalSegments     int `json:"total_segments"`
}

// StatusView is built from stored fields only so repeated polls are identical.
func (j *ProductionJob) StatusView() ProductionStatusResponse {
	total := len(j.Segments)
	if total == 0 {
		total = len(j.Script)
	}
	return ProductionStatusResponse{
		JobStatusResponse: statusView(&j.JobMeta, string(j.Status)),
		SegmentsGenerated: j.SegmentsGenerated,
		FailedSegments:    j.FailedSegments,
		TotalSegments:     total,
	}
}

// StartProductionRequest starts a production job
type StartProductionRequest struct {
	ResearchJobID   string       `json:"research_job_id" validate:"required"`
	SelectedVariant AudienceType `json:"selected_variant" validate:"required,oneof=young middle_aged scientific"`
}

// StartProductionResponse lists the characters needing voices
type StartProductionResponse struct {
	ProductionJobID string           `json:"production_job_id"`
	Status          ProductionStatus `json:"status"`
	ResearchJobID   string           `json:"research_job_id"`
	SelectedVariant AudienceType     `json:"selected_variant"`
	Characters      []Character      `json:"characters"`
	TotalSegments   int              `json:"total_segments"`
}

// GenerateSegmentsRequest supplies voice assignments
type GenerateSegmentsRequest struct {
	VoiceAssignments []VoiceAssignment `json:"voice_assignments" validate:"required,min=1,dive"`
}

// CostEstimate is the projected synthesis cost in USD
type CostEstimate struct {
	Characters  int                `json:"characters"`
	PerProvider map[string]float64 `json:"per_provider"`
	Total       float64            `json:"total"`
}

// GenerateSegmentsResponse is returned once generation is queued
type GenerateSegmentsResponse struct {
	ProductionJobID string           `json:"production_job_id"`
	Status          ProductionStatus `json:"status"`
	TotalSegments   int              `json:"total_segments"`
	EstimatedCost   CostEstimate     `json:"estimated_cost"`
}

// UpdateTimelineRequest replaces the timeline wholesale
type UpdateTimelineRequest struct {
	Timeline Timeline `json:"timeline" validate:"required"`
}

// TimelineResponse wraps a timeline with its job status
type TimelineResponse struct {
	ProductionJobID string           `json:"production_job_id"`
	Status          ProductionStatus `json:"status"`
	Timeline        Timeline         `json:"timeline"`
}

// ExportResponse is returned by export and result queries
type ExportResponse struct {
	ProductionJobID string           `json:"production_job_id"`
	Status          ProductionStatus `json:"status"`
	Export          *ExportArtifact  `json:"export,omitempty"`
}

// ProductionSummary is one history entry
type ProductionSummary struct {
	JobID           string           `json:"job_id"`
	ResearchJobID   string           `json:"research_job_id"`
	SelectedVariant AudienceType     `json:"selected_variant"`
	Status          ProductionStatus `json:"status"`
	FailedSegments  int              `json:"failed_segments"`
	CreatedAt       time.Time        `json:"created_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

package model

import (
	"encoding/json"
	"time"
)

// JobMeta holds the fields shared by every job kind.
type JobMeta struct {
	ID              string     `json:"id"`
	Owner           string     `json:"owner"`
	ProgressPercent float64    `json:"progress_percent"`
	CurrentStep     string     `json:"current_step"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	Cancelled       bool       `json:"cancelled"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Version         int64      `json:"version"`
}

// SetProgress records progress for the current run. Progress never moves
// backwards within a run and is clamped to [0,100].
func (m *JobMeta) SetProgress(percent float64, step string) {
	if percent > 100 {
		percent = 100
	}
	if percent > m.ProgressPercent {
		m.ProgressPercent = percent
	}
	if step != "" {
		m.CurrentStep = step
	}
}

// ResetProgress starts a new run.
func (m *JobMeta) ResetProgress(step string) {
	m.ProgressPercent = 0
	m.CurrentStep = step
}

func (m *JobMeta) markStarted(now time.Time) {
	if m.StartedAt == nil {
		m.StartedAt = &now
	}
}

// markFailed sets error_message and completed_at exactly once.
func (m *JobMeta) markFailed(msg string, now time.Time) {
	if m.ErrorMessage == nil {
		m.ErrorMessage = &msg
	}
	m.markCompleted(now)
}

func (m *JobMeta) markCompleted(now time.Time) {
	if m.CompletedAt == nil {
		m.CompletedAt = &now
	}
}

func (m *JobMeta) RecordID() string           { return m.ID }
func (m *JobMeta) RecordOwner() string        { return m.Owner }
func (m *JobMeta) RecordVersion() int64       { return m.Version }
func (m *JobMeta) SetRecordVersion(v int64)   { m.Version = v }
func (m *JobMeta) RecordCreatedAt() time.Time { return m.CreatedAt }
func (m *JobMeta) Touch(now time.Time)        { m.UpdatedAt = now }

// Record is implemented by every persisted job kind.
type Record interface {
	RecordID() string
	RecordOwner() string
	RecordVersion() int64
	SetRecordVersion(v int64)
	RecordCreatedAt() time.Time
	Touch(now time.Time)
	Flat() (FlatRecord, error)
}

// FlatRecord is the column layout used by external persistence, keyed by ID.
// Payload holds the kind-specific fields as JSON.
type FlatRecord struct {
	ID              string
	Kind            string
	Owner           string
	Status          string
	ProgressPercent float64
	CurrentStep     string
	ErrorMessage    *string
	Cancelled       bool
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Version         int64
	Payload         json.RawMessage
}

func flatten(kind, status string, meta *JobMeta, payload any) (FlatRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return FlatRecord{}, err
	}
	return FlatRecord{
		ID:              meta.ID,
		Kind:            kind,
		Owner:           meta.Owner,
		Status:          status,
		ProgressPercent: meta.ProgressPercent,
		CurrentStep:     meta.CurrentStep,
		ErrorMessage:    meta.ErrorMessage,
		Cancelled:       meta.Cancelled,
		CreatedAt:       meta.CreatedAt,
		StartedAt:       meta.StartedAt,
		CompletedAt:     meta.CompletedAt,
		Version:         meta.Version,
		Payload:         data,
	}, nil
}

// JobStatusResponse is the polling view shared by both job kinds.
type JobStatusResponse struct {
	JobID           string     `json:"job_id"`
	Status          string     `json:"status"`
	ProgressPercent float64    `json:"progress_percent"`
	CurrentStep     string     `json:"current_step"`
	ErrorMessage    *string    `json:"error_message"`
	Cancelled       bool       `json:"cancelled"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func statusView(meta *JobMeta, status string) JobStatusResponse {
	return JobStatusResponse{
		JobID:           meta.ID,
		Status:          status,
		ProgressPercent: meta.ProgressPercent,
		CurrentStep:     meta.CurrentStep,
		ErrorMessage:    meta.ErrorMessage,
		Cancelled:       meta.Cancelled,
		CreatedAt:       meta.CreatedAt,
		StartedAt:       meta.StartedAt,
		CompletedAt:     meta.CompletedAt,
	}
}

// CancelResponse is returned by cancel commands.
type CancelResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	// Pending is true when the running executor has yet to observe the request.
	Pending bool `json:"pending"`
}

package worker

import (
	"errors"

	"github.com/podforge/api/internal/apperr"
)

// Notifier pushes job events to subscribers. The websocket hub and the Redis
// event publisher implement it.
type Notifier interface {
	BroadcastProgress(jobID, kind string, progress float64, status, step string)
	BroadcastComplete(jobID, kind string, result any)
	BroadcastError(jobID, kind, code, message string)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) BroadcastProgress(jobID, kind string, progress float64, status, step string) {}
func (NopNotifier) BroadcastComplete(jobID, kind string, result any)                             {}
func (NopNotifier) BroadcastError(jobID, kind, code, message string)                             {}

// errCancelled is returned by step helpers once a pending cancellation has
// been applied to the job.
var errCancelled = apperr.Cancelled("cancelled by user")

// errSkip means the task no longer applies to the job's current state.
var errSkip = errors.New("job is not in the expected state")

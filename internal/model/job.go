package model

import "time"

// JobStatus is the lifecycle state of a render job. It only moves forward.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

var jobStatusRank = map[JobStatus]int{
	JobStatusQueued:    0,
	JobStatusPending:   1,
	JobStatusCompleted: 2,
	JobStatusFailed:    2,
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next keeps the lifecycle forward-only.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	from, ok := jobStatusRank[s]
	if !ok {
		return false
	}
	to, ok := jobStatusRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// Job represents a background render job in the system
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Job types
const (
	JobTypeRender = "render"
)

// JobResult locates the artifact of a completed job.
type JobResult struct {
	VideoURL string  `json:"videoUrl,omitempty"`
	Path     string  `json:"path,omitempty"`
	Frames   int     `json:"frames,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// RenderJobPayload contains the data for a render job
type RenderJobPayload struct {
	Layers []Layer `json:"layers"`
	Canvas Canvas  `json:"canvas"`
	Tracks Tracks  `json:"tracks,omitempty"`
}

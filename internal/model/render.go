package model

import "time"

// RenderRequest is the body of POST /api/render
type RenderRequest struct {
	Layers []Layer `json:"layers" validate:"dive"`
	Canvas *Canvas `json:"canvas,omitempty" validate:"omitempty"`
	Tracks Tracks  `json:"tracks,omitempty"`
}

// RenderResponse is returned once a render job is queued
type RenderResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse is the body of GET /api/jobs/:id. Queued and running jobs both
// report "pending" on the wire.
type JobStatusResponse struct {
	Status      JobStatus  `json:"status"`
	Progress    *int       `json:"progress,omitempty"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// AssetSignRequest is the body of POST /api/assets/sign
type AssetSignRequest struct {
	Filename    string `json:"filename" validate:"required,max=512"`
	ContentType string `json:"contentType" validate:"required,max=128"`
}

// AssetSignResponse carries a time-limited upload URL and the eventual public URL
type AssetSignResponse struct {
	UploadURL string    `json:"uploadUrl"`
	PublicURL string    `json:"publicUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

package dto

import "github.com/google/uuid"

// JobMessage is the payload published on job submission and consumed by the
// transcode worker pool.
type JobMessage struct {
	JobId       uuid.UUID `json:"jobId"`
	MediaItemId uuid.UUID `json:"mediaItemId"`
}

type CreateMediaRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	SourcePath  string `json:"source_path" binding:"required"`
}

type SubmitResponse struct {
	JobId uuid.UUID `json:"job_id"`
}

// StatusResponse is the polling surface for the web layer. State is one of
// "none", "QUEUED", "RUNNING", "SUCCEEDED", "FAILED".
type StatusResponse struct {
	MediaItemId uuid.UUID `json:"media_item_id"`
	State       string    `json:"state"`
	EtaSeconds  *int      `json:"eta_seconds,omitempty"`
	ManifestUrl string    `json:"manifest_url,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type RequeueStaleRequest struct {
	OlderThanSeconds int `json:"older_than_seconds"`
}

type RequeuedJob struct {
	MediaItemId uuid.UUID `json:"media_item_id"`
	StaleJobId  uuid.UUID `json:"stale_job_id"`
	NewJobId    uuid.UUID `json:"new_job_id"`
}

type RequeueStaleResponse struct {
	Requeued []RequeuedJob `json:"requeued"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

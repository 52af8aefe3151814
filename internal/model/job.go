package model

import "time"

// JobPayload is the input captured at job creation.
type JobPayload struct {
	Document string     `json:"document"`
	Config   FlowConfig `json:"config"`
}

// SceneVideoJob tracks one scene's video generation against the provider.
type SceneVideoJob struct {
	SceneID string           `json:"scene_id"`
	VideoID string           `json:"video_id,omitempty"`
	Status  SceneVideoStatus `json:"status"`
	Bucket  string           `json:"bucket,omitempty"`
	Key     string           `json:"key,omitempty"`
	URL     string           `json:"url,omitempty"`
	Detail  string           `json:"detail,omitempty"`
}

// FinalArtifact is the published concatenated+muxed video.
type FinalArtifact struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URL    string `json:"url"`
}

// Job is the persisted job record. It is mutated only through whole-record
// read-modify-write in service.JobStore.
type Job struct {
	ID        string          `json:"job_id"`
	Status    JobStatus       `json:"status"`
	Progress  float64         `json:"progress"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   JobPayload      `json:"payload"`
	Result    *FlowResult     `json:"result,omitempty"`
	Error     *string         `json:"error,omitempty"`
	Suno      *SunoState      `json:"suno,omitempty"`
	Scenes    []SceneVideoJob `json:"scenes,omitempty"`
	Final     *FinalArtifact  `json:"final,omitempty"`
}

// JobCreateRequest is the API payload for starting a generation job.
type JobCreateRequest struct {
	Document string      `json:"document" validate:"required,min=1"`
	Config   *FlowConfig `json:"config"`
}

// HITLResumeRequest resumes a paused job with the operator's selection.
type HITLResumeRequest struct {
	JobID             string            `json:"job_id" validate:"required"`
	SelectedConceptID string            `json:"selected_concept_id" validate:"required"`
	EditedLyrics      *string           `json:"edited_lyrics,omitempty"`
	EditedMVScript    []SceneDescriptor `json:"edited_mv_script,omitempty"`
}

// JobCreateResponse acknowledges a queued job.
type JobCreateResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

// JobCancelResponse acknowledges a cancellation.
type JobCancelResponse struct {
	JobID   string    `json:"job_id"`
	Status  JobStatus `json:"status"`
	Success bool      `json:"success"`
}

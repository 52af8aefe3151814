package model

import (
	"encoding/json"
	"time"
)

// SunoState mirrors the latest music-generation task status on the job record.
type SunoState struct {
	TaskID string         `json:"task_id"`
	Status SunoTaskStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
	Tracks []Track        `json:"tracks,omitempty"`
}

// Track is one generated audio track with its storage coordinates.
type Track struct {
	TrackID        string `json:"id"`
	AudioURL       string `json:"audio_url,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	Bucket         string `json:"bucket,omitempty"`
	AudioKey       string `json:"audio_key,omitempty"`
	ImageKey       string `json:"image_key,omitempty"`
	PublicAudioURL string `json:"public_audio_url,omitempty"`
	PublicImageURL string `json:"public_image_url,omitempty"`
}

// Stored reports whether the track's audio has been persisted.
func (t Track) Stored() bool {
	return t.AudioKey != ""
}

// SunoTask is the persisted music-generation task record.
type SunoTask struct {
	TaskID       string          `json:"task_id"`
	JobID        string          `json:"job_id,omitempty"`
	Status       SunoTaskStatus  `json:"status"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Request      json.RawMessage `json:"request,omitempty"`
	LastCallback json.RawMessage `json:"last_callback,omitempty"`
	Tracks       []Track         `json:"tracks,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// SunoGenerateRequest is the API payload for a music generation request.
type SunoGenerateRequest struct {
	JobID        string  `json:"job_id,omitempty"`
	Lyrics       string  `json:"lyrics" validate:"required,min=1"`
	Style        string  `json:"style" validate:"required,min=1"`
	Title        string  `json:"title" validate:"required,min=1"`
	CustomMode   *bool   `json:"custom_mode,omitempty"`
	Instrumental bool    `json:"instrumental,omitempty"`
	Model        string  `json:"model,omitempty"`
	NegativeTags string  `json:"negative_tags,omitempty"`
	VocalGender  string  `json:"vocal_gender,omitempty"`
	StyleWeight  *float64 `json:"style_weight,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// IsCustomMode defaults to true when unset.
func (r *SunoGenerateRequest) IsCustomMode() bool {
	if r.CustomMode == nil {
		return true
	}
	return *r.CustomMode
}

// SunoCallbackItem is one generated track in a webhook payload.
type SunoCallbackItem struct {
	ID       string  `json:"id"`
	AudioURL string  `json:"audio_url"`
	ImageURL string  `json:"image_url"`
	Title    string  `json:"title,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// SunoCallbackData is the data envelope of a webhook delivery.
type SunoCallbackData struct {
	TaskID       string             `json:"task_id"`
	TaskIDCamel  string             `json:"taskId"`
	CallbackType string             `json:"callbackType"`
	Items        []SunoCallbackItem `json:"data"`
}

// ResolveTaskID handles both snake_case and camelCase task ids sent by the provider.
func (d SunoCallbackData) ResolveTaskID() string {
	if d.TaskID != "" {
		return d.TaskID
	}
	return d.TaskIDCamel
}

// SunoCallback is the webhook body posted by the music provider.
type SunoCallback struct {
	Code int              `json:"code,omitempty"`
	Msg  string           `json:"msg,omitempty"`
	Data SunoCallbackData `json:"data"`
}

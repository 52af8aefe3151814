package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/safetymv/api/internal/client"
	"github.com/safetymv/api/internal/model"
)

// ErrTaskNotFound is returned when a music task id does not exist or has expired.
var ErrTaskNotFound = errors.New("music task not found")

const sunoTaskTTL = 6 * time.Hour

// LimitError reports a field exceeding the music model's caps. Handlers map
// it to a 400 response.
type LimitError struct {
	Field string
	Max   int
	Got   int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s exceeds %d characters (got %d)", e.Field, e.Max, e.Got)
}

// SunoService tracks music generation tasks from submission through the
// provider's webhook to stored audio.
type SunoService struct {
	store       *JobStore
	rdb         *redis.Client
	asynqClient *asynq.Client
	suno        client.MusicGenerator
	storage     client.StorageClient
	httpClient  *http.Client
	callbackURL string
}

// NewSunoService creates the music generation service.
func NewSunoService(store *JobStore, rdb *redis.Client, asynqClient *asynq.Client, suno client.MusicGenerator, storage client.StorageClient, callbackURL string) *SunoService {
	return &SunoService{
		store:       store,
		rdb:         rdb,
		asynqClient: asynqClient,
		suno:        suno,
		storage:     storage,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		callbackURL: callbackURL,
	}
}

func sunoTaskKey(taskID string) string {
	return "suno:task:" + taskID
}

func (s *SunoService) saveTask(ctx context.Context, task *model.SunoTask) error {
	task.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal music task: %w", err)
	}
	if err := s.rdb.Set(ctx, sunoTaskKey(task.TaskID), data, sunoTaskTTL).Err(); err != nil {
		return fmt.Errorf("failed to save music task: %w", err)
	}
	return nil
}

// GetTask loads a music task by its provider task id.
func (s *SunoService) GetTask(ctx context.Context, taskID string) (*model.SunoTask, error) {
	data, err := s.rdb.Get(ctx, sunoTaskKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load music task: %w", err)
	}
	var task model.SunoTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal music task: %w", err)
	}
	return &task, nil
}

// ValidateLimits enforces the per-model field caps before submission.
func (s *SunoService) ValidateLimits(req *model.SunoGenerateRequest) error {
	m := req.Model
	if m == "" {
		m = s.suno.DefaultModel()
	}
	limits := client.ModelLimitsFor(m)

	if req.IsCustomMode() {
		if len(req.Title) > limits.Title {
			return &LimitError{Field: "title", Max: limits.Title, Got: len(req.Title)}
		}
		if len(req.Style) > limits.Style {
			return &LimitError{Field: "style", Max: limits.Style, Got: len(req.Style)}
		}
		if !req.Instrumental && len(req.Lyrics) > limits.Prompt {
			return &LimitError{Field: "lyrics", Max: limits.Prompt, Got: len(req.Lyrics)}
		}
	} else if len(req.Lyrics) > limits.PromptNonCustom {
		return &LimitError{Field: "lyrics", Max: limits.PromptNonCustom, Got: len(req.Lyrics)}
	}
	return nil
}

// Generate submits a music task to the provider and records it. When JobID
// is set the job record must exist and mirrors the task status.
func (s *SunoService) Generate(ctx context.Context, req *model.SunoGenerateRequest) (*model.SunoTask, error) {
	if req.JobID != "" {
		if _, err := s.store.Get(ctx, req.JobID); err != nil {
			return nil, err
		}
	}
	if err := s.ValidateLimits(req); err != nil {
		return nil, err
	}

	payload := client.BuildMusicRequest(req, s.callbackURL, s.suno.DefaultModel())
	resp, err := s.suno.GenerateMusic(ctx, payload)
	if err != nil {
		return nil, err
	}

	reqJSON, _ := json.Marshal(payload)
	task := &model.SunoTask{
		TaskID:  resp.TaskID,
		JobID:   req.JobID,
		Status:  model.SunoStatusQueued,
		Request: reqJSON,
	}
	if err := s.saveTask(ctx, task); err != nil {
		return nil, err
	}

	if req.JobID != "" {
		s.mirrorOnJob(ctx, req.JobID, task)
	}
	return task, nil
}

// SubmitForJob kicks off music generation for a completed flow. A failure
// here is recorded on the job but never fails the flow itself.
func (s *SunoService) SubmitForJob(ctx context.Context, job *model.Job) {
	if job.Suno != nil {
		switch job.Suno.Status {
		case model.SunoStatusQueued, model.SunoStatusComplete, model.SunoStatusStored:
			return
		}
	}
	if job.Result == nil || job.Result.Artifacts.SelectedConcept == nil {
		return
	}

	cfg := job.Payload.Config
	req := &model.SunoGenerateRequest{
		JobID:  job.ID,
		Lyrics: job.Result.Artifacts.SelectedConcept.Lyrics,
		Style:  fmt.Sprintf("%s / %s", cfg.Genre, cfg.Mood),
		Title:  "Safety MV " + job.ID,
	}

	if _, err := s.Generate(ctx, req); err != nil {
		log.Printf("[Suno] music submission failed for job %s: %v", job.ID, err)
		_, _ = s.store.Update(ctx, job.ID, func(j *model.Job) error {
			j.Suno = &model.SunoState{Status: model.SunoStatusError, Error: err.Error()}
			return nil
		})
	}
}

// HandleCallback processes a webhook delivery from the music provider.
// Deliveries can repeat and arrive out of order; the stored state only
// moves forward and re-downloads are skipped once tracks are stored.
func (s *SunoService) HandleCallback(ctx context.Context, cb *model.SunoCallback) error {
	taskID := cb.Data.ResolveTaskID()
	if taskID == "" {
		return fmt.Errorf("callback has no task id")
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	fresh := applyCallback(task, cb)
	if fresh {
		s.resolveComplete(ctx, task, cb.Data.Items)
	}

	if err := s.saveTask(ctx, task); err != nil {
		return err
	}
	s.mirrorOnJob(ctx, task.JobID, task)

	if fresh && task.JobID != "" && task.Status == model.SunoStatusStored {
		s.enqueueAssembly(ctx, task.JobID)
	}
	return nil
}

// applyCallback merges a webhook delivery into the task record and reports
// whether a fresh complete delivery still needs its tracks downloaded.
// Repeats of a complete delivery are acknowledged without another download
// round.
func applyCallback(task *model.SunoTask, cb *model.SunoCallback) bool {
	raw, _ := json.Marshal(cb)
	task.LastCallback = raw

	callbackType := cb.Data.CallbackType
	if callbackType != "complete" {
		// text / first / error and other intermediate notifications
		if callbackType != "" {
			task.Status = model.SunoTaskStatus(callbackType)
		}
		return false
	}

	if tracksStored(task.Tracks) {
		task.Status = model.SunoStatusStored
		return false
	}
	task.Status = model.SunoStatusComplete
	return true
}

func tracksStored(tracks []model.Track) bool {
	if len(tracks) == 0 {
		return false
	}
	for _, t := range tracks {
		if !t.Stored() {
			return false
		}
	}
	return true
}

// resolveComplete downloads and stores the delivered tracks and settles the
// task status. A failed audio download leaves the task in store_failed with
// the delivery payload retained so the failure can be inspected later.
func (s *SunoService) resolveComplete(ctx context.Context, task *model.SunoTask, items []model.SunoCallbackItem) {
	tracks, storeErr := s.storeTracks(ctx, task, items)
	task.Tracks = tracks
	if storeErr != nil {
		task.Status = model.SunoStatusStoreFailed
		task.Error = storeErr.Error()
		return
	}
	task.Status = model.SunoStatusStored
	task.Error = ""
}

func (s *SunoService) storeTracks(ctx context.Context, task *model.SunoTask, items []model.SunoCallbackItem) ([]model.Track, error) {
	tracks := make([]model.Track, 0, len(items))
	var firstErr error

	for _, item := range items {
		track := model.Track{
			TrackID:  item.ID,
			AudioURL: item.AudioURL,
			ImageURL: item.ImageURL,
		}

		if item.AudioURL != "" {
			key := fmt.Sprintf("suno/%s/%s/%s.mp3", task.JobID, task.TaskID, item.ID)
			if err := s.downloadAndStore(ctx, item.AudioURL, key, "audio/mpeg"); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("audio %s: %w", item.ID, err)
				}
			} else {
				track.Bucket = s.storage.Bucket()
				track.AudioKey = key
				track.PublicAudioURL = s.storage.GetPublicURL(key)
			}
		}

		if item.ImageURL != "" {
			key := fmt.Sprintf("suno/%s/%s/%s.jpg", task.JobID, task.TaskID, item.ID)
			if err := s.downloadAndStore(ctx, item.ImageURL, key, "image/jpeg"); err != nil {
				// cover art is best-effort
				log.Printf("[Suno] cover download failed for track %s: %v", item.ID, err)
			} else {
				track.ImageKey = key
				track.PublicImageURL = s.storage.GetPublicURL(key)
			}
		}

		tracks = append(tracks, track)
	}
	return tracks, firstErr
}

func (s *SunoService) downloadAndStore(ctx context.Context, url, key, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download error (status %d)", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	return s.storage.Put(ctx, key, data, contentType)
}

func (s *SunoService) mirrorOnJob(ctx context.Context, jobID string, task *model.SunoTask) {
	if jobID == "" {
		return
	}
	_, err := s.store.Update(ctx, jobID, func(job *model.Job) error {
		job.Suno = &model.SunoState{
			TaskID: task.TaskID,
			Status: task.Status,
			Error:  task.Error,
			Tracks: task.Tracks,
		}
		return nil
	})
	if err != nil {
		log.Printf("[Suno] failed to mirror task %s on job %s: %v", task.TaskID, jobID, err)
	}
}

func (s *SunoService) enqueueAssembly(ctx context.Context, jobID string) {
	task, err := NewFlowTask(TaskTypeAssembly, jobID)
	if err != nil {
		log.Printf("[Suno] failed to build assembly task for job %s: %v", jobID, err)
		return
	}
	if _, err := s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(QueueMedia),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	); err != nil {
		log.Printf("[Suno] failed to enqueue assembly for job %s: %v", jobID, err)
	}
}

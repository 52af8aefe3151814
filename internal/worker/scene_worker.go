package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/safetymv/api/internal/client"
	"github.com/safetymv/api/internal/model"
	"github.com/safetymv/api/internal/service"
	"github.com/safetymv/api/internal/websocket"
)

const maxConcurrentScenes = 6

// The video provider only renders fixed clip lengths.
var clipBuckets = []int{4, 8, 12}

// SceneWorker renders every blueprint scene as a video clip and stores the
// results. Scenes render concurrently; one scene failing never aborts its
// siblings.
type SceneWorker struct {
	store       *service.JobStore
	video       client.VideoGenerator
	storage     client.StorageClient
	asynqClient *asynq.Client
	hub         *websocket.Hub

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewSceneWorker creates the scene render worker.
func NewSceneWorker(store *service.JobStore, video client.VideoGenerator, storage client.StorageClient, asynqClient *asynq.Client, hub *websocket.Hub, pollInterval, pollTimeout time.Duration) *SceneWorker {
	return &SceneWorker{
		store:        store,
		video:        video,
		storage:      storage,
		asynqClient:  asynqClient,
		hub:          hub,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

// ProcessSceneRenderTask renders all scenes for a job.
func (w *SceneWorker) ProcessSceneRenderTask(ctx context.Context, t *asynq.Task) error {
	var payload service.TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	jobID := payload.JobID

	job, err := w.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Result == nil || job.Result.Artifacts.Blueprint == nil {
		return fmt.Errorf("job %s has no blueprint", jobID)
	}
	blueprint := job.Result.Artifacts.Blueprint
	style := job.Result.Artifacts.Style
	character := job.Result.Artifacts.Character

	if _, err := w.store.Update(ctx, jobID, func(j *model.Job) error {
		j.Status = model.JobStatusMediaRunning
		j.Progress = 0.85
		return nil
	}); err != nil {
		return err
	}
	w.hub.BroadcastProgress(jobID, 0.85, model.JobStatusMediaRunning, "scene_render")

	scenes := blueprint.Scenes
	results := make([]model.SceneVideoJob, len(scenes))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentScenes)
	for i := range scenes {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = w.renderScene(ctx, jobID, idx, &scenes[idx], style, character)
		}(i)
	}
	wg.Wait()

	if _, err := w.store.Update(ctx, jobID, func(j *model.Job) error {
		j.Scenes = results
		j.Status = service.ComputeMediaStatus(j)
		return nil
	}); err != nil {
		return err
	}

	stored := 0
	for _, r := range results {
		if r.Status == model.SceneStatusStored {
			stored++
		}
	}
	log.Printf("[Scene] job %s: %d/%d scenes stored", jobID, stored, len(results))

	task, err := service.NewFlowTask(service.TaskTypeAssembly, jobID)
	if err != nil {
		return err
	}
	if _, err := w.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(service.QueueMedia),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	); err != nil {
		return fmt.Errorf("failed to enqueue assembly: %w", err)
	}
	return nil
}

func (w *SceneWorker) renderScene(ctx context.Context, jobID string, idx int, scene *model.BlueprintScene, style *model.StyleMetadata, character *model.CharacterAsset) model.SceneVideoJob {
	sceneID := scene.SceneID
	if sceneID == "" {
		sceneID = fmt.Sprintf("scene_%02d", idx+1)
	}
	result := model.SceneVideoJob{SceneID: sceneID}

	req := client.CreateVideoRequest{
		Prompt:  buildScenePrompt(scene, style),
		Seconds: durationBucket(scene.TimeRange.Seconds()),
	}
	if character != nil && character.URL != "" {
		req.CharacterImageURL = character.URL
	}

	created, err := w.video.CreateVideo(ctx, req)
	if err != nil {
		result.Status = model.SceneStatusError
		result.Detail = err.Error()
		return result
	}
	result.VideoID = created.VideoID
	result.Status = model.SceneStatusSubmitted

	status, err := w.pollUntilDone(ctx, created.VideoID)
	if err != nil {
		result.Status = model.SceneStatusFailed
		result.Detail = err.Error()
		return result
	}
	if done, ok := status.Terminal(); !done || !ok {
		result.Status = model.SceneStatusFailed
		detail := "render failed"
		if status.Error != nil {
			detail = fmt.Sprintf("%s: %s", status.Error.Code, status.Error.Message)
		}
		result.Detail = detail
		return result
	}

	data, contentType, err := w.video.DownloadVideo(ctx, created.VideoID)
	if err != nil {
		result.Status = model.SceneStatusDownloadFailed
		result.Detail = err.Error()
		return result
	}

	key := fmt.Sprintf("scenes/%s/%s.mp4", jobID, sceneID)
	if err := w.storage.Put(ctx, key, data, contentType); err != nil {
		result.Status = model.SceneStatusDownloadFailed
		result.Detail = fmt.Sprintf("store failed: %v", err)
		return result
	}

	result.Status = model.SceneStatusStored
	result.Bucket = w.storage.Bucket()
	result.Key = key
	if url, err := w.storage.Presign(ctx, key, time.Hour); err == nil {
		result.URL = url
	}
	return result
}

func (w *SceneWorker) pollUntilDone(ctx context.Context, videoID string) (*client.VideoStatusResponse, error) {
	deadline := time.Now().Add(w.pollTimeout)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		status, err := w.video.GetVideoStatus(ctx, videoID)
		if err == nil {
			if done, _ := status.Terminal(); done {
				return status, nil
			}
		} else {
			log.Printf("[Scene] status poll error for %s: %v", videoID, err)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("render timed out after %s", w.pollTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// buildScenePrompt composes the clip prompt from the scene's visual
// direction and the locked style descriptors.
func buildScenePrompt(scene *model.BlueprintScene, style *model.StyleMetadata) string {
	var sb strings.Builder
	sb.WriteString(scene.Visual.Action)
	if scene.Visual.Camera != "" {
		fmt.Fprintf(&sb, " Camera: %s.", scene.Visual.Camera)
	}
	if scene.Lyrics.Text != "" {
		fmt.Fprintf(&sb, " The lyrics at this moment: %q.", scene.Lyrics.Text)
	}
	if style != nil {
		if desc := describeStyle(style.Character); desc != "" {
			fmt.Fprintf(&sb, " Character: %s.", desc)
		}
		if desc := describeStyle(style.Background); desc != "" {
			fmt.Fprintf(&sb, " Setting: %s.", desc)
		}
		if desc := describeStyle(style.Color); desc != "" {
			fmt.Fprintf(&sb, " Color: %s.", desc)
		}
	}
	return sb.String()
}

func describeStyle(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	var parts []string
	for _, k := range sortedKeys(m) {
		parts = append(parts, m[k])
	}
	return strings.Join(parts, ", ")
}

// durationBucket snaps a scene duration to the nearest renderable clip
// length. Ties round down.
func durationBucket(seconds float64) int {
	best := clipBuckets[0]
	bestDist := math.Abs(seconds - float64(best))
	for _, b := range clipBuckets[1:] {
		dist := math.Abs(seconds - float64(b))
		if dist < bestDist {
			best = b
			bestDist = dist
		}
	}
	return best
}

package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/safetymv/api/internal/client"
	"github.com/safetymv/api/internal/model"
)

// fakeVideoClient renders clips according to per-prompt behavior.
type fakeVideoClient struct {
	mu       sync.Mutex
	nextID   int
	failFor  string // prompts containing this substring fail at submission
	stuckFor string // prompts containing this substring never finish
	statuses map[string]string
}

func newFakeVideoClient() *fakeVideoClient {
	return &fakeVideoClient{statuses: make(map[string]string)}
}

func (f *fakeVideoClient) CreateVideo(ctx context.Context, req client.CreateVideoRequest) (*client.CreateVideoResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor != "" && strings.Contains(req.Prompt, f.failFor) {
		return nil, fmt.Errorf("provider rejected prompt")
	}
	f.nextID++
	id := fmt.Sprintf("vid_%d", f.nextID)
	if f.stuckFor != "" && strings.Contains(req.Prompt, f.stuckFor) {
		f.statuses[id] = "in_progress"
	} else {
		f.statuses[id] = "completed"
	}
	return &client.CreateVideoResponse{VideoID: id, Status: "queued"}, nil
}

func (f *fakeVideoClient) GetVideoStatus(ctx context.Context, videoID string) (*client.VideoStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &client.VideoStatusResponse{VideoID: videoID, Status: f.statuses[videoID]}, nil
}

func (f *fakeVideoClient) DownloadVideo(ctx context.Context, videoID string) ([]byte, string, error) {
	return []byte("mp4data"), "video/mp4", nil
}

func (f *fakeVideoClient) IsConfigured() bool { return true }

func newTestSceneWorker(video client.VideoGenerator, storage client.StorageClient) *SceneWorker {
	return &SceneWorker{
		video:        video,
		storage:      storage,
		pollInterval: time.Millisecond,
		pollTimeout:  50 * time.Millisecond,
	}
}

func TestDurationBucket(t *testing.T) {
	tests := []struct {
		seconds float64
		want    int
	}{
		{1, 4},
		{4, 4},
		{5.9, 4},
		{6, 4}, // tie rounds down
		{6.1, 8},
		{8, 8},
		{10, 8}, // tie rounds down
		{10.5, 12},
		{12, 12},
		{30, 12},
	}
	for _, tt := range tests {
		if got := durationBucket(tt.seconds); got != tt.want {
			t.Errorf("durationBucket(%v) = %d, want %d", tt.seconds, got, tt.want)
		}
	}
}

func TestRenderScene_Success(t *testing.T) {
	video := newFakeVideoClient()
	storage := client.NewMockStorageClient("test-bucket")
	w := newTestSceneWorker(video, storage)

	scene := &model.BlueprintScene{
		SceneID:   "scene_01",
		TimeRange: model.TimeRange{Start: 0, End: 8},
		Visual:    model.VisualPayload{Action: "worker checks helmet"},
	}

	result := w.renderScene(context.Background(), "job1", 0, scene, nil, nil)
	if result.Status != model.SceneStatusStored {
		t.Fatalf("expected stored, got %s (%s)", result.Status, result.Detail)
	}
	if result.Key != "scenes/job1/scene_01.mp4" {
		t.Errorf("unexpected key: %s", result.Key)
	}
	if result.Bucket != "test-bucket" {
		t.Errorf("unexpected bucket: %s", result.Bucket)
	}
	if _, err := storage.Get(context.Background(), result.Key); err != nil {
		t.Errorf("clip not stored: %v", err)
	}
}

func TestRenderScene_SubmissionErrorDoesNotAffectSiblings(t *testing.T) {
	video := newFakeVideoClient()
	video.failFor = "broken"
	storage := client.NewMockStorageClient("test-bucket")
	w := newTestSceneWorker(video, storage)

	scenes := []model.BlueprintScene{
		{SceneID: "scene_01", TimeRange: model.TimeRange{Start: 0, End: 4}, Visual: model.VisualPayload{Action: "fine"}},
		{SceneID: "scene_02", TimeRange: model.TimeRange{Start: 4, End: 8}, Visual: model.VisualPayload{Action: "broken shot"}},
		{SceneID: "scene_03", TimeRange: model.TimeRange{Start: 8, End: 12}, Visual: model.VisualPayload{Action: "also fine"}},
	}

	results := make([]model.SceneVideoJob, len(scenes))
	for i := range scenes {
		results[i] = w.renderScene(context.Background(), "job1", i, &scenes[i], nil, nil)
	}

	if results[1].Status != model.SceneStatusError {
		t.Errorf("expected scene_02 error, got %s", results[1].Status)
	}
	if results[0].Status != model.SceneStatusStored || results[2].Status != model.SceneStatusStored {
		t.Errorf("siblings affected: %s / %s", results[0].Status, results[2].Status)
	}
}

func TestRenderScene_TimeoutMarksFailed(t *testing.T) {
	video := newFakeVideoClient()
	video.stuckFor = "slow"
	storage := client.NewMockStorageClient("test-bucket")
	w := newTestSceneWorker(video, storage)

	scene := &model.BlueprintScene{
		SceneID:   "scene_01",
		TimeRange: model.TimeRange{Start: 0, End: 8},
		Visual:    model.VisualPayload{Action: "slow render"},
	}

	result := w.renderScene(context.Background(), "job1", 0, scene, nil, nil)
	if result.Status != model.SceneStatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if !strings.Contains(result.Detail, "timed out") {
		t.Errorf("expected timeout detail, got %q", result.Detail)
	}
}

func TestRenderScene_DefaultSceneID(t *testing.T) {
	video := newFakeVideoClient()
	storage := client.NewMockStorageClient("test-bucket")
	w := newTestSceneWorker(video, storage)

	scene := &model.BlueprintScene{TimeRange: model.TimeRange{Start: 0, End: 4}, Visual: model.VisualPayload{Action: "shot"}}
	result := w.renderScene(context.Background(), "job1", 4, scene, nil, nil)

	if result.SceneID != "scene_05" {
		t.Errorf("expected scene_05, got %s", result.SceneID)
	}
}

func TestBuildScenePrompt(t *testing.T) {
	scene := &model.BlueprintScene{
		Visual: model.VisualPayload{Action: "worker fastens harness", Camera: "slow dolly in"},
		Lyrics: model.LyricsPayload{Text: "clip it tight"},
	}
	style := &model.StyleMetadata{
		Character:  map[string]string{"outfit": "orange hi-vis"},
		Background: map[string]string{"setting": "steel scaffolding"},
		Color:      map[string]string{"palette": "cold blue"},
	}

	prompt := buildScenePrompt(scene, style)
	for _, want := range []string{"worker fastens harness", "slow dolly in", "clip it tight", "orange hi-vis", "steel scaffolding", "cold blue"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q: %s", want, prompt)
		}
	}
}

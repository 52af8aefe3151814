package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/safetymv/api/internal/client"
	"github.com/safetymv/api/internal/model"
	"github.com/safetymv/api/internal/service"
	"github.com/safetymv/api/internal/websocket"
)

// AssemblyWorker concatenates the stored scene clips, muxes in the first
// stored audio track and publishes the final video.
type AssemblyWorker struct {
	store   *service.JobStore
	storage client.StorageClient
	hub     *websocket.Hub
}

// NewAssemblyWorker creates the assembly worker.
func NewAssemblyWorker(store *service.JobStore, storage client.StorageClient, hub *websocket.Hub) *AssemblyWorker {
	return &AssemblyWorker{
		store:   store,
		storage: storage,
		hub:     hub,
	}
}

// ProcessAssemblyTask assembles the final video once both media legs have
// landed. It is enqueued from both the scene worker and the music callback,
// whichever finishes last triggers the actual assembly.
func (w *AssemblyWorker) ProcessAssemblyTask(ctx context.Context, t *asynq.Task) error {
	var payload service.TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	jobID := payload.JobID

	job, err := w.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Final != nil {
		return nil
	}
	if !service.AssemblyReady(job) {
		log.Printf("[Assembly] job %s not ready yet, waiting for the other media leg", jobID)
		return nil
	}

	final, err := w.assemble(ctx, job)
	if err != nil {
		log.Printf("[Assembly] job %s assembly failed: %v", jobID, err)
		msg := fmt.Sprintf("assembly: %v", err)
		_, _ = w.store.Update(ctx, jobID, func(j *model.Job) error {
			j.Error = &msg
			return nil
		})
		// Leave the job in media_running; asynq retries the task.
		return err
	}

	job, err = w.store.Update(ctx, jobID, func(j *model.Job) error {
		j.Final = final
		j.Status = model.JobStatusMediaDone
		j.Progress = 1.0
		j.Error = nil
		if j.Result != nil {
			j.Result.State = model.StateAssembly
			j.Result.StateHistory = append(j.Result.StateHistory, model.StateAssembly)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.hub.BroadcastProgress(jobID, 1.0, model.JobStatusMediaDone, "assembly")
	w.hub.BroadcastComplete(jobID, job.Final)
	log.Printf("[Assembly] job %s final video published: %s", jobID, final.Key)
	return nil
}

func (w *AssemblyWorker) assemble(ctx context.Context, job *model.Job) (*model.FinalArtifact, error) {
	workDir, err := os.MkdirTemp("", "assembly-"+job.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	scenes := orderScenes(job.Scenes)

	var lines []string
	for i, sc := range scenes {
		data, err := w.storage.Get(ctx, sc.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch scene %s: %w", sc.SceneID, err)
		}
		path := filepath.Join(workDir, fmt.Sprintf("clip_%03d.mp4", i))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write scene clip: %w", err)
		}
		lines = append(lines, fmt.Sprintf("file '%s'", path))
	}

	var audioTrack *model.Track
	for i := range job.Suno.Tracks {
		if job.Suno.Tracks[i].Stored() {
			audioTrack = &job.Suno.Tracks[i]
			break
		}
	}
	if audioTrack == nil {
		return nil, fmt.Errorf("no stored audio track")
	}
	audioData, err := w.storage.Get(ctx, audioTrack.AudioKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audio track: %w", err)
	}
	audioPath := filepath.Join(workDir, "audio.mp3")
	if err := os.WriteFile(audioPath, audioData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write audio track: %w", err)
	}

	listFile := filepath.Join(workDir, "concat.txt")
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return nil, fmt.Errorf("failed to write concat list: %w", err)
	}

	concatPath := filepath.Join(workDir, "video.mp4")
	concat := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-pix_fmt", "yuv420p",
		"-an",
		concatPath,
	)
	if out, err := concat.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg concat: %w: %s", err, tail(out))
	}

	finalPath := filepath.Join(workDir, "final.mp4")
	mux := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-i", concatPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		finalPath,
	)
	if out, err := mux.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg mux: %w: %s", err, tail(out))
	}

	finalData, err := os.ReadFile(finalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read final video: %w", err)
	}

	key := fmt.Sprintf("final/%s/final.mp4", job.ID)
	if err := w.storage.Put(ctx, key, finalData, "video/mp4"); err != nil {
		return nil, fmt.Errorf("failed to upload final video: %w", err)
	}

	url, err := w.storage.Presign(ctx, key, 24*time.Hour)
	if err != nil {
		url = w.storage.GetPublicURL(key)
	}

	return &model.FinalArtifact{
		Bucket: w.storage.Bucket(),
		Key:    key,
		URL:    url,
	}, nil
}

// orderScenes sorts the scene clips for concatenation. Keys carry the
// zero-padded scene ids, so ascending key order is playback order.
func orderScenes(in []model.SceneVideoJob) []model.SceneVideoJob {
	scenes := make([]model.SceneVideoJob, len(in))
	copy(scenes, in)
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Key < scenes[j].Key })
	return scenes
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > 500 {
		s = s[len(s)-500:]
	}
	return s
}

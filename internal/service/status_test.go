package service

import (
	"testing"

	"github.com/safetymv/api/internal/model"
)

func readyJob() *model.Job {
	return &model.Job{
		ID: "job1",
		Scenes: []model.SceneVideoJob{
			{SceneID: "scene_01", Status: model.SceneStatusStored, Key: "scenes/job1/scene_01.mp4"},
			{SceneID: "scene_02", Status: model.SceneStatusStored, Key: "scenes/job1/scene_02.mp4"},
		},
		Suno: &model.SunoState{
			Status: model.SunoStatusStored,
			Tracks: []model.Track{{TrackID: "t1", AudioKey: "suno/job1/task/t1.mp3"}},
		},
	}
}

func TestAssemblyReady(t *testing.T) {
	if !AssemblyReady(readyJob()) {
		t.Fatal("expected ready job to be assembly-ready")
	}
}

func TestAssemblyReady_SceneNotStored(t *testing.T) {
	job := readyJob()
	job.Scenes[1].Status = model.SceneStatusFailed
	if AssemblyReady(job) {
		t.Error("failed scene should block assembly")
	}

	job = readyJob()
	job.Scenes[1].Status = model.SceneStatusSubmitted
	if AssemblyReady(job) {
		t.Error("in-flight scene should block assembly")
	}
}

func TestAssemblyReady_NoScenes(t *testing.T) {
	job := readyJob()
	job.Scenes = nil
	if AssemblyReady(job) {
		t.Error("job without scenes should not be assembly-ready")
	}
}

func TestAssemblyReady_NoStoredAudio(t *testing.T) {
	job := readyJob()
	job.Suno.Tracks[0].AudioKey = ""
	if AssemblyReady(job) {
		t.Error("unstored audio should block assembly")
	}

	job = readyJob()
	job.Suno = nil
	if AssemblyReady(job) {
		t.Error("missing music state should block assembly")
	}
}

func TestComputeMediaStatus(t *testing.T) {
	job := readyJob()
	if got := ComputeMediaStatus(job); got != model.JobStatusMediaRunning {
		t.Errorf("job without final artifact: got %s, want media_running", got)
	}

	job.Final = &model.FinalArtifact{Bucket: "b", Key: "final/job1/final.mp4"}
	if got := ComputeMediaStatus(job); got != model.JobStatusMediaDone {
		t.Errorf("job with final artifact: got %s, want media_done", got)
	}
}

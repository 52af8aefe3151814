package service

import "github.com/safetymv/api/internal/model"

// AssemblyReady reports whether every scene clip is stored and at least one
// audio track is stored. Assembly must not start before both media legs land.
func AssemblyReady(job *model.Job) bool {
	if len(job.Scenes) == 0 {
		return false
	}
	for _, sc := range job.Scenes {
		if sc.Status != model.SceneStatusStored {
			return false
		}
	}
	if job.Suno == nil {
		return false
	}
	for _, t := range job.Suno.Tracks {
		if t.Stored() {
			return true
		}
	}
	return false
}

// ComputeMediaStatus derives the media-phase status from the job record.
func ComputeMediaStatus(job *model.Job) model.JobStatus {
	if job.Final != nil && AssemblyReady(job) {
		return model.JobStatusMediaDone
	}
	return model.JobStatusMediaRunning
}

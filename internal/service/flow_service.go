package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/safetymv/api/internal/model"
)

// Background task types
const (
	TaskTypeFlowRun     = "flow:run"
	TaskTypeFlowResume  = "flow:resume"
	TaskTypeSceneRender = "scene:render"
	TaskTypeAssembly    = "assembly:run"
)

// Queue names
const (
	QueueFlow  = "flow"
	QueueMedia = "media"
)

// Service-level errors surfaced as API conflicts.
var (
	ErrNotCancelable   = errors.New("job is not in a cancelable state")
	ErrNotAwaitingHITL = errors.New("job is not awaiting human review")
	ErrUnknownConcept  = errors.New("selected concept id does not exist")
)

// TaskPayload is the common asynq payload carrying the job id.
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// NewFlowTask builds a task for the given type and job id.
func NewFlowTask(taskType, jobID string) (*asynq.Task, error) {
	payload, err := json.Marshal(TaskPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return asynq.NewTask(taskType, payload), nil
}

// FlowService owns the job lifecycle: creation, cancellation and the
// human-review resume path. Stage execution happens in the workers.
type FlowService struct {
	store       *JobStore
	asynqClient *asynq.Client
	defaultHITL model.HITLMode
}

// NewFlowService creates the job lifecycle service.
func NewFlowService(store *JobStore, asynqClient *asynq.Client, defaultHITL string) *FlowService {
	mode := model.HITLMode(defaultHITL)
	if mode != model.HITLModeRequired {
		mode = model.HITLModeSkip
	}
	return &FlowService{
		store:       store,
		asynqClient: asynqClient,
		defaultHITL: mode,
	}
}

// CreateJob records a queued job and enqueues the generation flow.
func (s *FlowService) CreateJob(ctx context.Context, req *model.JobCreateRequest) (*model.Job, error) {
	cfg := model.FlowConfig{HITLMode: s.defaultHITL}
	if req.Config != nil {
		cfg = *req.Config
		if cfg.HITLMode == "" {
			cfg.HITLMode = s.defaultHITL
		}
	}
	cfg.ApplyDefaults()

	now := time.Now().UTC()
	job := &model.Job{
		ID:        uuid.New().String(),
		Status:    model.JobStatusQueued,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
		Payload: model.JobPayload{
			Document: req.Document,
			Config:   cfg,
		},
	}

	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	task, err := NewFlowTask(TaskTypeFlowRun, job.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(QueueFlow),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	); err != nil {
		return nil, fmt.Errorf("failed to enqueue flow task: %w", err)
	}

	return job, nil
}

// GetJob loads a job by id.
func (s *FlowService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.Get(ctx, jobID)
}

// CancelJob cancels a job that has not started running yet. Jobs past the
// queued state keep going; partial provider work is never rolled back.
func (s *FlowService) CancelJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.Update(ctx, jobID, func(job *model.Job) error {
		if job.Status != model.JobStatusQueued {
			return ErrNotCancelable
		}
		job.Status = model.JobStatusCanceled
		return nil
	})
}

// ResumeFromHITL applies the operator's concept selection and optional edits,
// then enqueues the second half of the flow.
func (s *FlowService) ResumeFromHITL(ctx context.Context, req *model.HITLResumeRequest) (*model.Job, error) {
	job, err := s.store.Update(ctx, req.JobID, func(job *model.Job) error {
		if job.Status != model.JobStatusHITLRequired {
			return ErrNotAwaitingHITL
		}
		if job.Result == nil {
			return ErrNotAwaitingHITL
		}

		var selected *model.Concept
		for i := range job.Result.Artifacts.Concepts {
			if job.Result.Artifacts.Concepts[i].ConceptID == req.SelectedConceptID {
				selected = &job.Result.Artifacts.Concepts[i]
				break
			}
		}
		if selected == nil {
			return ErrUnknownConcept
		}

		chosen := *selected
		if req.EditedLyrics != nil {
			chosen.Lyrics = *req.EditedLyrics
		}
		if len(req.EditedMVScript) > 0 {
			chosen.MVScript = req.EditedMVScript
		}
		job.Result.Artifacts.SelectedConcept = &chosen
		job.Status = model.JobStatusRunning
		return nil
	})
	if err != nil {
		return nil, err
	}

	task, err := NewFlowTask(TaskTypeFlowResume, job.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(QueueFlow),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	); err != nil {
		return nil, fmt.Errorf("failed to enqueue resume task: %w", err)
	}

	return job, nil
}

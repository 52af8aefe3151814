package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/safetymv/api/internal/client"
	"github.com/safetymv/api/internal/model"
)

type fakeMusicClient struct {
	model string
}

func (f *fakeMusicClient) GenerateMusic(ctx context.Context, req client.GenerateMusicRequest) (*client.GenerateMusicResponse, error) {
	return &client.GenerateMusicResponse{TaskID: "task-123"}, nil
}

func (f *fakeMusicClient) IsConfigured() bool { return true }

func (f *fakeMusicClient) DefaultModel() string { return f.model }

func boolPtr(b bool) *bool { return &b }

func TestValidateLimits_CustomMode(t *testing.T) {
	svc := &SunoService{suno: &fakeMusicClient{model: "V4_5ALL"}}

	ok := &model.SunoGenerateRequest{
		Title:  strings.Repeat("t", 80),
		Style:  strings.Repeat("s", 1000),
		Lyrics: strings.Repeat("l", 5000),
	}
	if err := svc.ValidateLimits(ok); err != nil {
		t.Fatalf("request at the caps should pass: %v", err)
	}

	tests := []struct {
		name  string
		req   *model.SunoGenerateRequest
		field string
	}{
		{
			name:  "title over cap",
			req:   &model.SunoGenerateRequest{Title: strings.Repeat("t", 81), Style: "s", Lyrics: "l"},
			field: "title",
		},
		{
			name:  "style over cap",
			req:   &model.SunoGenerateRequest{Title: "t", Style: strings.Repeat("s", 1001), Lyrics: "l"},
			field: "style",
		},
		{
			name:  "lyrics over cap",
			req:   &model.SunoGenerateRequest{Title: "t", Style: "s", Lyrics: strings.Repeat("l", 5001)},
			field: "lyrics",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ValidateLimits(tt.req)
			var limitErr *LimitError
			if !errors.As(err, &limitErr) {
				t.Fatalf("expected LimitError, got %v", err)
			}
			if limitErr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, limitErr.Field)
			}
		})
	}
}

func TestValidateLimits_OlderModelsHaveTighterCaps(t *testing.T) {
	svc := &SunoService{suno: &fakeMusicClient{model: "V4_5ALL"}}

	req := &model.SunoGenerateRequest{
		Model:  "V4",
		Title:  "t",
		Style:  strings.Repeat("s", 500),
		Lyrics: "l",
	}
	err := svc.ValidateLimits(req)
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitError for V4 style over 200, got %v", err)
	}
	if limitErr.Max != 200 {
		t.Errorf("expected V4 style cap 200, got %d", limitErr.Max)
	}

	// The same style is fine on the newer default model.
	req.Model = ""
	if err := svc.ValidateLimits(req); err != nil {
		t.Errorf("expected pass on default model: %v", err)
	}
}

func TestValidateLimits_NonCustomMode(t *testing.T) {
	svc := &SunoService{suno: &fakeMusicClient{model: "V4_5ALL"}}

	req := &model.SunoGenerateRequest{
		CustomMode: boolPtr(false),
		Lyrics:     strings.Repeat("l", 501),
		Title:      "t",
		Style:      "s",
	}
	err := svc.ValidateLimits(req)
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitError in non-custom mode, got %v", err)
	}
	if limitErr.Max != 500 {
		t.Errorf("expected non-custom cap 500, got %d", limitErr.Max)
	}
}

func TestValidateLimits_InstrumentalSkipsLyrics(t *testing.T) {
	svc := &SunoService{suno: &fakeMusicClient{model: "V4_5ALL"}}

	req := &model.SunoGenerateRequest{
		Instrumental: true,
		Title:        "t",
		Style:        "s",
		Lyrics:       strings.Repeat("l", 6000),
	}
	if err := svc.ValidateLimits(req); err != nil {
		t.Errorf("instrumental custom request should skip the lyrics cap: %v", err)
	}
}

func newCallbackService(storage client.StorageClient) *SunoService {
	return &SunoService{
		storage:    storage,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func completeCallback(taskID string, items []model.SunoCallbackItem) *model.SunoCallback {
	return &model.SunoCallback{
		Code: 200,
		Data: model.SunoCallbackData{TaskID: taskID, CallbackType: "complete", Items: items},
	}
}

func TestCallback_RepeatedCompleteDeliveryDownloadsOnce(t *testing.T) {
	var downloads int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&downloads, 1)
		w.Write([]byte("mp3 bytes"))
	}))
	defer srv.Close()

	storage := client.NewMockStorageClient("test-bucket")
	svc := newCallbackService(storage)

	task := &model.SunoTask{TaskID: "task-1", JobID: "job-1", Status: model.SunoStatusQueued}
	cb := completeCallback("task-1", []model.SunoCallbackItem{{ID: "tr1", AudioURL: srv.URL + "/tr1.mp3"}})

	if !applyCallback(task, cb) {
		t.Fatal("first complete delivery should trigger a download round")
	}
	svc.resolveComplete(context.Background(), task, cb.Data.Items)

	if task.Status != model.SunoStatusStored {
		t.Fatalf("expected stored after first delivery, got %s", task.Status)
	}
	if got := atomic.LoadInt32(&downloads); got != 1 {
		t.Fatalf("expected 1 download, got %d", got)
	}

	// The provider re-sends the same delivery.
	if applyCallback(task, cb) {
		t.Error("repeated complete delivery must not trigger another download round")
	}
	if task.Status != model.SunoStatusStored {
		t.Errorf("repeat delivery changed status to %s", task.Status)
	}
	if got := atomic.LoadInt32(&downloads); got != 1 {
		t.Errorf("repeat delivery re-downloaded, total %d", got)
	}
	if len(task.Tracks) != 1 || !task.Tracks[0].Stored() {
		t.Errorf("tracks mutated on repeat: %+v", task.Tracks)
	}
}

func TestCallback_StoreFailureKeepsDeliveryPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	storage := client.NewMockStorageClient("test-bucket")
	svc := newCallbackService(storage)

	task := &model.SunoTask{TaskID: "task-2", JobID: "job-2", Status: model.SunoStatusQueued}
	audioURL := srv.URL + "/tr1.mp3"
	cb := completeCallback("task-2", []model.SunoCallbackItem{{ID: "tr1", AudioURL: audioURL}})

	if !applyCallback(task, cb) {
		t.Fatal("first complete delivery should trigger a download round")
	}
	svc.resolveComplete(context.Background(), task, cb.Data.Items)

	if task.Status != model.SunoStatusStoreFailed {
		t.Fatalf("expected store_failed, got %s", task.Status)
	}
	if task.Error == "" {
		t.Error("expected the download error recorded on the task")
	}
	// The delivery payload stays on the record so the failure can be
	// inspected and the download retried by hand.
	if !strings.Contains(string(task.LastCallback), audioURL) {
		t.Errorf("delivery payload lost: %s", task.LastCallback)
	}
	if storage.Len() != 0 {
		t.Errorf("expected nothing stored, got %d objects", storage.Len())
	}
}

func TestApplyCallback_IntermediateTypesOnlyMoveStatus(t *testing.T) {
	task := &model.SunoTask{TaskID: "task-3", Status: model.SunoStatusQueued}
	cb := &model.SunoCallback{Data: model.SunoCallbackData{TaskID: "task-3", CallbackType: "first"}}

	if applyCallback(task, cb) {
		t.Fatal("intermediate delivery must not trigger a download round")
	}
	if task.Status != model.SunoTaskStatus("first") {
		t.Errorf("expected status first, got %s", task.Status)
	}
	if len(task.LastCallback) == 0 {
		t.Error("expected the delivery recorded on the task")
	}
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/safetymv/api/internal/config"
	"github.com/safetymv/api/internal/model"
)

// MusicGenerator defines the interface for music generation.
type MusicGenerator interface {
	GenerateMusic(ctx context.Context, req GenerateMusicRequest) (*GenerateMusicResponse, error)
	IsConfigured() bool
	DefaultModel() string
}

// GenerateMusicRequest is the provider payload for a music generation task.
type GenerateMusicRequest struct {
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
	CallBackURL  string `json:"callBackUrl"`
	Title        string `json:"title,omitempty"`
	Style        string `json:"style,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	NegativeTags string `json:"negativeTags,omitempty"`
	VocalGender  string `json:"vocalGender,omitempty"`
}

// GenerateMusicResponse carries the provider task id.
type GenerateMusicResponse struct {
	TaskID string
}

// ModelLimits are the per-model field caps enforced before submission.
type ModelLimits struct {
	Title           int
	Style           int
	Prompt          int
	PromptNonCustom int
}

// ModelLimitsFor returns the field caps for a music model name.
func ModelLimitsFor(m string) ModelLimits {
	switch m {
	case "V4", "V3_5":
		return ModelLimits{Title: 80, Style: 200, Prompt: 3000, PromptNonCustom: 400}
	default:
		// V4_5ALL, V4_5PLUS, V4_5, V5
		return ModelLimits{Title: 80, Style: 1000, Prompt: 5000, PromptNonCustom: 500}
	}
}

// SunoClient handles communication with the Suno music generation API.
type SunoClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewSunoClient creates a new Suno API client
func NewSunoClient(cfg *config.SunoConfig) *SunoClient {
	return &SunoClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *SunoClient) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// DefaultModel returns the configured music model name.
func (c *SunoClient) DefaultModel() string {
	return c.model
}

// GenerateMusic submits a generation task. Results arrive later through
// the callback URL in the request.
func (c *SunoClient) GenerateMusic(ctx context.Context, req GenerateMusicRequest) (*GenerateMusicResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	log.Printf("[Suno API] → generate (model=%s, customMode=%v)", req.Model, req.CustomMode)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suno API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID      string `json:"taskId"`
			TaskIDSnake string `json:"task_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Code != 200 && apiResp.Code != 0 {
		return nil, fmt.Errorf("suno API rejected request (code %d): %s", apiResp.Code, apiResp.Msg)
	}

	taskID := apiResp.Data.TaskID
	if taskID == "" {
		taskID = apiResp.Data.TaskIDSnake
	}
	if taskID == "" {
		return nil, fmt.Errorf("no task id in response")
	}

	log.Printf("[Suno API] ← task queued task_id=%s", taskID)
	return &GenerateMusicResponse{TaskID: taskID}, nil
}

// BuildMusicRequest maps the API request onto the provider payload.
func BuildMusicRequest(req *model.SunoGenerateRequest, callbackURL, defaultModel string) GenerateMusicRequest {
	m := req.Model
	if m == "" {
		m = defaultModel
	}
	out := GenerateMusicRequest{
		CustomMode:   req.IsCustomMode(),
		Instrumental: req.Instrumental,
		Model:        m,
		CallBackURL:  callbackURL,
		NegativeTags: req.NegativeTags,
		VocalGender:  req.VocalGender,
	}
	if out.CustomMode {
		out.Title = req.Title
		out.Style = req.Style
		if !req.Instrumental {
			out.Prompt = req.Lyrics
		}
	} else {
		out.Prompt = req.Lyrics
	}
	return out
}

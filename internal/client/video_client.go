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
)

// VideoGenerator defines the interface for text-to-video generation.
type VideoGenerator interface {
	CreateVideo(ctx context.Context, req CreateVideoRequest) (*CreateVideoResponse, error)
	GetVideoStatus(ctx context.Context, videoID string) (*VideoStatusResponse, error)
	DownloadVideo(ctx context.Context, videoID string) ([]byte, string, error)
	IsConfigured() bool
}

// CreateVideoRequest is a single scene clip submission.
type CreateVideoRequest struct {
	Prompt            string `json:"prompt"`
	Model             string `json:"model,omitempty"`
	Seconds           int    `json:"seconds,omitempty"`
	Size              string `json:"size,omitempty"`
	CharacterImageURL string `json:"-"`
}

// CreateVideoResponse is the provider's acknowledgement of a submission.
type CreateVideoResponse struct {
	VideoID string `json:"id"`
	Status  string `json:"status"`
}

// VideoStatusResponse is the provider's view of a render in flight.
type VideoStatusResponse struct {
	VideoID string `json:"id"`
	Status  string `json:"status"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Terminal reports whether the render reached a final state, and whether
// that state is a success.
func (r *VideoStatusResponse) Terminal() (done bool, ok bool) {
	switch r.Status {
	case "completed", "succeeded":
		return true, true
	case "failed", "error", "rejected":
		return true, false
	}
	return false, false
}

// SoraClient talks to an OpenAI-compatible video generation API.
type SoraClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewSoraClient creates a new video generation client
func NewSoraClient(cfg *config.VideoConfig) *SoraClient {
	return &SoraClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *SoraClient) IsConfigured() bool {
	return c.apiKey != ""
}

// CreateVideo submits a clip render and returns the provider video id.
func (c *SoraClient) CreateVideo(ctx context.Context, req CreateVideoRequest) (*CreateVideoResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	prompt := req.Prompt
	if req.CharacterImageURL != "" {
		prompt = fmt.Sprintf("%s\n\nReference character image: %s", prompt, req.CharacterImageURL)
	}

	body := map[string]any{
		"model":   req.Model,
		"prompt":  prompt,
		"seconds": fmt.Sprintf("%d", req.Seconds),
	}
	if req.Size != "" {
		body["size"] = req.Size
	}

	log.Printf("[Video API] → create clip (model=%s, seconds=%d)", req.Model, req.Seconds)

	respBody, err := c.doRequest(ctx, http.MethodPost, "/videos", body)
	if err != nil {
		return nil, err
	}

	var createResp CreateVideoResponse
	if err := json.Unmarshal(respBody, &createResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal create response: %w", err)
	}
	if createResp.VideoID == "" {
		return nil, fmt.Errorf("no video id in create response")
	}

	log.Printf("[Video API] ← submitted video_id=%s status=%s", createResp.VideoID, createResp.Status)
	return &createResp, nil
}

// GetVideoStatus fetches the current render state for a video id.
func (c *SoraClient) GetVideoStatus(ctx context.Context, videoID string) (*VideoStatusResponse, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/videos/"+videoID, nil)
	if err != nil {
		return nil, err
	}

	var statusResp VideoStatusResponse
	if err := json.Unmarshal(respBody, &statusResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status response: %w", err)
	}
	return &statusResp, nil
}

// DownloadVideo fetches the rendered MP4 content for a completed video.
func (c *SoraClient) DownloadVideo(ctx context.Context, videoID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos/"+videoID+"/content", nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, "", fmt.Errorf("video download error (status %d): %s", resp.StatusCode, string(msg))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read video content: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	return data, contentType, nil
}

func (c *SoraClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("video API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

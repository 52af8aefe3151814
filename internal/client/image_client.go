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

// ImageGenerator defines the interface for reference image generation.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*ImageResult, error)
	IsConfigured() bool
}

// ImageResult is a generated image reference.
type ImageResult struct {
	AssetID string `json:"id"`
	URL     string `json:"url"`
}

// OpenAIImageClient talks to an OpenAI-compatible image generation API.
type OpenAIImageClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewImageClient creates a new image generation client
func NewImageClient(cfg *config.ImageConfig) *OpenAIImageClient {
	return &OpenAIImageClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *OpenAIImageClient) IsConfigured() bool {
	return c.apiKey != ""
}

// GenerateImage produces one image for the given prompt and returns its URL.
func (c *OpenAIImageClient) GenerateImage(ctx context.Context, prompt string) (*ImageResult, error) {
	body := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"n":      1,
		"size":   "1024x1024",
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	log.Printf("[Image API] → generate (model=%s)", c.model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
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

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var imageResp struct {
		Created int64 `json:"created"`
		Data    []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &imageResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(imageResp.Data) == 0 || imageResp.Data[0].URL == "" {
		return nil, fmt.Errorf("no image in response")
	}

	result := &ImageResult{
		AssetID: fmt.Sprintf("img_%d", imageResp.Created),
		URL:     imageResp.Data[0].URL,
	}
	log.Printf("[Image API] ← generated asset=%s", result.AssetID)
	return result, nil
}

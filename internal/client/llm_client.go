package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/safetymv/api/internal/config"
)

// TextGenerator defines the interface for structured text generation.
// CompleteJSON returns the raw JSON string produced by the model;
// RepairJSON performs one repair round on malformed output.
type TextGenerator interface {
	CompleteJSON(ctx context.Context, system, user string, temperature float64) (string, error)
	RepairJSON(ctx context.Context, original, validationError string) (string, error)
	Model() string
}

// LLMClient handles communication with an OpenAI-compatible chat API.
type LLMClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model          string         `json:"model"`
	Messages       []ChatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewLLMClient creates a new LLM API client
func NewLLMClient(cfg *config.LLMConfig) *LLMClient {
	return &LLMClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// Model returns the configured model name.
func (c *LLMClient) Model() string {
	return c.model
}

// CompleteJSON sends a chat completion request in JSON mode and returns
// the raw model output.
func (c *LLMClient) CompleteJSON(ctx context.Context, system, user string, temperature float64) (string, error) {
	messages := []ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	return c.complete(ctx, messages, temperature)
}

// RepairJSON resubmits malformed output together with the validation error
// to a strict repair prompt at temperature 0.
func (c *LLMClient) RepairJSON(ctx context.Context, original, validationError string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"validation_error": validationError,
		"original_output":  original,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal repair payload: %w", err)
	}

	messages := []ChatMessage{
		{Role: "system", Content: "You are a strict JSON repair agent. Return JSON only, matching the schema implied by the validation error."},
		{Role: "user", Content: string(payload)},
	}
	return c.complete(ctx, messages, 0)
}

func (c *LLMClient) complete(ctx context.Context, messages []ChatMessage, temperature float64) (string, error) {
	reqBody := ChatCompletionRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *LLMClient) IsConfigured() bool {
	return c.apiKey != ""
}

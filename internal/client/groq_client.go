package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/reelsmith/api/internal/config"
	"github.com/reelsmith/api/internal/logger"
)

// TextGenerator produces raw text from a system and a user prompt.
type TextGenerator interface {
	ChatCompletion(ctx context.Context, system, user string) (string, error)
}

// GroqClient handles communication with Groq API
type GroqClient struct {
	apiBase
	apiKey string
	model  string
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewGroqClient creates a new Groq API client
func NewGroqClient(cfg *config.GroqConfig, log logger.Logger) *GroqClient {
	c := &GroqClient{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}
	c.apiBase = apiBase{
		service:    "groq",
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    cfg.BaseURL,
		log:        logger.WithComponent(log, "groq"),
		authorize: func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		},
	}
	return c
}

// ChatCompletion sends a chat completion request to Groq in JSON mode and
// returns the first choice verbatim.
func (c *GroqClient) ChatCompletion(ctx context.Context, system, user string) (string, error) {
	reqBody := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.8,
		MaxTokens:      4096,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}

	var chatResp ChatCompletionResponse
	if err := c.post(ctx, "/chat/completions", reqBody, &chatResp); err != nil {
		return "", err
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GroqClient) IsConfigured() bool {
	return c.apiKey != ""
}

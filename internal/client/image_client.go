package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/reelsmith/api/internal/config"
	"github.com/reelsmith/api/internal/logger"
)

// ImageGenerator produces one image per prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// GeneratedImage holds either the image bytes or a URL to fetch them from.
type GeneratedImage struct {
	Data        []byte
	ContentType string
	URL         string
}

// ImageClient implements ImageGenerator for OpenAI-compatible image APIs
type ImageClient struct {
	apiBase
	apiKey string
	model  string
	size   string
}

type imageGenerationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n"`
}

type imageGenerationResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		B64JSON       string `json:"b64_json,omitempty"`
		URL           string `json:"url,omitempty"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
}

// NewImageClient creates a new image generation client
func NewImageClient(cfg *config.ImageConfig, log logger.Logger) *ImageClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	c := &ImageClient{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		size:   cfg.Size,
	}
	c.apiBase = apiBase{
		service:    "image",
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		log:        logger.WithComponent(log, "image"),
		authorize: func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		},
	}
	return c
}

// GenerateImage requests a single image for prompt.
func (c *ImageClient) GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error) {
	req := imageGenerationRequest{
		Model:  c.model,
		Prompt: prompt,
		Size:   c.size,
		N:      1,
	}

	var result imageGenerationResponse
	if err := c.post(ctx, "/images/generations", req, &result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("image API returned no images")
	}

	item := result.Data[0]
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		return &GeneratedImage{Data: data, ContentType: http.DetectContentType(data)}, nil
	}
	if item.URL != "" {
		return &GeneratedImage{URL: item.URL}, nil
	}
	return nil, fmt.Errorf("image API returned neither data nor url")
}

// Download fetches a remote image so it can be re-hosted.
func (c *ImageClient) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	// Generated image URLs are pre-signed and take no auth header.
	dl := c.apiBase
	dl.authorize = nil
	data, contentType, err := dl.doRequest(req)
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *ImageClient) IsConfigured() bool {
	return c.apiKey != ""
}

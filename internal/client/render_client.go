package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reelsmith/api/internal/config"
	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/retry"
)

// RenderBackend submits timelines to a render farm and reports their progress.
type RenderBackend interface {
	Submit(ctx context.Context, req *RenderRequest) (*RenderSubmission, error)
	Progress(ctx context.Context, renderID string) (*RenderProgress, error)
}

// RenderClient implements RenderBackend over the render farm's HTTP API
type RenderClient struct {
	apiBase
	apiKey string
}

// RenderStyle carries the visual parameters that are not part of the timeline.
type RenderStyle struct {
	Title    string `json:"title,omitempty"`
	Tone     string `json:"tone,omitempty"`
	Language string `json:"language,omitempty"`
}

// RenderRequest is the body of a render submission
type RenderRequest struct {
	Composition string            `json:"composition"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Concurrency int               `json:"concurrency,omitempty"`
	Plan        *model.RenderPlan `json:"plan"`
	Style       RenderStyle       `json:"style"`
	OutputKey   string            `json:"outputKey,omitempty"`
}

// RenderSubmission identifies an accepted render
type RenderSubmission struct {
	RenderID string `json:"renderId"`
	Bucket   string `json:"bucketName,omitempty"`
}

// RenderProgress is one poll of a running render
type RenderProgress struct {
	OverallProgress float64  `json:"overallProgress"`
	Done            bool     `json:"done"`
	Fatal           bool     `json:"fatalErrorEncountered"`
	Errors          []string `json:"errors,omitempty"`
	OutputURL       string   `json:"outputFile,omitempty"`
}

// NewRenderClient creates a new render farm client. Per-call timeouts come
// from render.call_timeout.
func NewRenderClient(cfg *config.RenderConfig, log logger.Logger) *RenderClient {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 150 * time.Second
	}
	c := &RenderClient{apiKey: cfg.APIKey}
	c.apiBase = apiBase{
		service:    "render",
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		log:        logger.WithComponent(log, "render"),
		authorize: func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		},
		classify: classifyRenderError,
	}
	return c
}

// classifyRenderError recognises the farm's concurrency-limit rejection so the
// dispatcher can degrade instead of backing off.
func classifyRenderError(e *APIError) {
	body := strings.ToLower(e.Body)
	if strings.Contains(body, "concurrency") && (e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusBadRequest) {
		e.Kind = retry.KindConcurrencyLimit
	}
}

// Submit starts a render
func (c *RenderClient) Submit(ctx context.Context, req *RenderRequest) (*RenderSubmission, error) {
	var result RenderSubmission
	if err := c.post(ctx, "/v1/renders", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Progress retrieves the status of a render
func (c *RenderClient) Progress(ctx context.Context, renderID string) (*RenderProgress, error) {
	var result RenderProgress
	if err := c.get(ctx, "/v1/renders/"+url.PathEscape(renderID)+"/progress", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *RenderClient) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

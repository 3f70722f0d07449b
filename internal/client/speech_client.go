package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/reelsmith/api/internal/config"
	"github.com/reelsmith/api/internal/logger"
)

// SpeechGenerator turns narration text into audio bytes.
type SpeechGenerator interface {
	Synthesize(ctx context.Context, text, voiceID string, settings VoiceSettings) (*SpeechAudio, error)
}

// SpeechAudio is a synthesized narration clip.
type SpeechAudio struct {
	Data        []byte
	ContentType string
}

// SpeechClient implements SpeechGenerator for ElevenLabs-compatible APIs
type SpeechClient struct {
	apiBase
	apiKey       string
	model        string
	outputFormat string
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// NewSpeechClient creates a new text-to-speech client
func NewSpeechClient(cfg *config.SpeechConfig, log logger.Logger) *SpeechClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	c := &SpeechClient{
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		outputFormat: cfg.OutputFormat,
	}
	c.apiBase = apiBase{
		service:    "speech",
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		log:        logger.WithComponent(log, "speech"),
		authorize: func(req *http.Request) {
			req.Header.Set("xi-api-key", c.apiKey)
			req.Header.Set("Accept", "audio/mpeg")
		},
	}
	return c
}

// Synthesize renders text with the given voice and settings.
func (c *SpeechClient) Synthesize(ctx context.Context, text, voiceID string, settings VoiceSettings) (*SpeechAudio, error) {
	if voiceID == "" {
		return nil, fmt.Errorf("voice id is required")
	}

	endpoint := "/v1/text-to-speech/" + url.PathEscape(voiceID)
	if c.outputFormat != "" {
		endpoint += "?output_format=" + url.QueryEscape(c.outputFormat)
	}

	data, contentType, err := c.postRaw(ctx, endpoint, speechRequest{
		Text:          text,
		ModelID:       c.model,
		VoiceSettings: settings,
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("speech API returned an empty clip")
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return &SpeechAudio{Data: data, ContentType: contentType}, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SpeechClient) IsConfigured() bool {
	return c.apiKey != ""
}

package model

import "time"

// VideoCreateRequest is the body of POST /api/videos.
type VideoCreateRequest struct {
	Text     string   `json:"text" validate:"required,min=3,max=4000"`
	VoiceID  string   `json:"voiceId,omitempty" validate:"omitempty,max=64"`
	Language Language `json:"language,omitempty" validate:"omitempty,oneof=en tr fr de es"`
	Tone     string   `json:"tone,omitempty" validate:"omitempty,max=200"`
}

type VideoCreateResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// ScenarioValidateRequest is the body of POST /api/scenarios/validate.
type ScenarioValidateRequest struct {
	Raw              string  `json:"raw" validate:"required"`
	ExactShots       int     `json:"exactShots,omitempty" validate:"omitempty,min=1,max=8"`
	TotalDurationSec float64 `json:"totalDurationSec,omitempty" validate:"omitempty,gt=0"`
}

type ScenarioValidateResponse struct {
	Valid    bool      `json:"valid"`
	Scenario *Scenario `json:"scenario,omitempty"`
	Errors   []string  `json:"errors,omitempty"`
}

// TimelinePreviewRequest is the body of POST /api/timeline/preview.
type TimelinePreviewRequest struct {
	Scenario       Scenario           `json:"scenario" validate:"-"`
	AudioDurations map[string]float64 `json:"audioDurations" validate:"dive,min=0,max=3600"`
	FPS            int                `json:"fps,omitempty" validate:"omitempty,min=1,max=120"`
	NarrationGapMs *int               `json:"narrationGapMs,omitempty" validate:"omitempty,min=0,max=5000"`
	OpeningCardSec float64            `json:"openingCardSec,omitempty" validate:"omitempty,min=0,max=10"`
	EndingCardSec  float64            `json:"endingCardSec,omitempty" validate:"omitempty,min=0,max=10"`
}

type TimelinePreviewResponse struct {
	Plan       *RenderPlan `json:"plan"`
	Violations []string    `json:"violations,omitempty"`
}

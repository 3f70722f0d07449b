package model

// Scenario is the validated creative plan for one video.
type Scenario struct {
	Language string `json:"language" yaml:"language"`
	Title    string `json:"title" yaml:"title"`
	Tone     string `json:"tone" yaml:"tone"`
	Shots    []Shot `json:"shots" yaml:"shots" validate:"min=1,max=8,dive"`
}

// Shot is one scene of the video.
type Shot struct {
	ID          string             `json:"id" yaml:"id" validate:"notblank"`
	Subtitle    string             `json:"subtitle" yaml:"subtitle" validate:"notblank"`
	Narration   string             `json:"narration" yaml:"narration" validate:"notblank"`
	ImagePrompt string             `json:"imagePrompt" yaml:"image_prompt" validate:"notblank"`
	Transition  Transition         `json:"transition" yaml:"transition" validate:"notblank,transition"`
	Direction   NarrationDirection `json:"narrationDirection" yaml:"narration_direction"`
	Timing      *TimingHints       `json:"timing,omitempty" yaml:"timing,omitempty"`
	DurationSec float64            `json:"durationSec,omitempty" yaml:"duration_sec,omitempty" validate:"min=0,max=3600"`
}

// NarrationDirection carries the emotional and delivery parameters of a shot's voice-over.
type NarrationDirection struct {
	Emotion   string   `json:"emotion" yaml:"emotion" validate:"notblank"`
	Intensity float64  `json:"intensity" yaml:"intensity" validate:"min=0,max=1"`
	Delivery  Delivery `json:"delivery" yaml:"delivery"`
}

type Delivery struct {
	SpeakingRate  float64  `json:"speakingRate" yaml:"speaking_rate" validate:"min=0.5,max=2"`
	Energy        float64  `json:"energy" yaml:"energy" validate:"min=0,max=1"`
	PauseBeforeMs float64  `json:"pauseBeforeMs" yaml:"pause_before_ms" validate:"min=0,max=1500,wholems"`
	PauseAfterMs  float64  `json:"pauseAfterMs" yaml:"pause_after_ms" validate:"min=0,max=1500,wholems"`
	EmphasisWords []string `json:"emphasisWords,omitempty" yaml:"emphasis_words,omitempty"`
	Instruction   string   `json:"instruction,omitempty" yaml:"instruction,omitempty"`
}

// TimingHints bound a shot's on-screen duration. Zero means unset; when
// both bounds are set the min may not exceed the max.
type TimingHints struct {
	MinDurationSec float64 `json:"minDurationSec,omitempty" yaml:"min_duration_sec,omitempty" validate:"min=0,max=3600"`
	MaxDurationSec float64 `json:"maxDurationSec,omitempty" yaml:"max_duration_sec,omitempty" validate:"min=0,max=3600"`
	PaddingMs      float64 `json:"paddingMs,omitempty" yaml:"padding_ms,omitempty" validate:"min=0,max=5000,wholems"`
}

// ShotAsset is the generated media bound to one shot of one job.
type ShotAsset struct {
	ShotID           string  `json:"shotId" yaml:"shot_id"`
	ImageURL         string  `json:"imageUrl" yaml:"image_url"`
	AudioURL         string  `json:"audioUrl" yaml:"audio_url"`
	AudioBytes       int     `json:"audioBytes,omitempty" yaml:"audio_bytes,omitempty"`
	AudioDurationSec float64 `json:"audioDurationSec" yaml:"audio_duration_sec"`
}

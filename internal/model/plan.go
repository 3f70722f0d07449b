package model

// RenderPlan is the frame-accurate timeline handed to the render backend.
type RenderPlan struct {
	FPS         int        `json:"fps" yaml:"fps"`
	TotalFrames int        `json:"totalFrames" yaml:"total_frames"`
	OpeningCard *FrameSpan `json:"openingCard,omitempty" yaml:"opening_card,omitempty"`
	EndingCard  *FrameSpan `json:"endingCard,omitempty" yaml:"ending_card,omitempty"`
	Shots       []PlanShot `json:"shots" yaml:"shots"`
}

type FrameSpan struct {
	StartFrame     int `json:"startFrame" yaml:"start_frame"`
	DurationFrames int `json:"durationFrames" yaml:"duration_frames"`
}

// PlanShot places one shot on the timeline. Audio offsets are relative to StartFrame.
type PlanShot struct {
	ShotID              string     `json:"shotId" yaml:"shot_id"`
	StartFrame          int        `json:"startFrame" yaml:"start_frame"`
	DurationFrames      int        `json:"durationFrames" yaml:"duration_frames"`
	AudioStartFrames    int        `json:"audioStartFrames" yaml:"audio_start_frames"`
	AudioDurationFrames int        `json:"audioDurationFrames" yaml:"audio_duration_frames"`
	AudioMeasured       bool       `json:"audioMeasured" yaml:"audio_measured"`
	PauseAfterFrames    int        `json:"pauseAfterFrames" yaml:"pause_after_frames"`
	PaddingFrames       int        `json:"paddingFrames" yaml:"padding_frames"`
	OverlapInFrames     int        `json:"overlapInFrames" yaml:"overlap_in_frames"`
	OverlapOutFrames    int        `json:"overlapOutFrames" yaml:"overlap_out_frames"`
	EndFadeOutFrames    int        `json:"endFadeOutFrames,omitempty" yaml:"end_fade_out_frames,omitempty"`
	Transition          Transition `json:"transition" yaml:"transition"`
	Subtitle            string     `json:"subtitle" yaml:"subtitle"`
	ImageURL            string     `json:"imageUrl,omitempty" yaml:"image_url,omitempty"`
	AudioURL            string     `json:"audioUrl,omitempty" yaml:"audio_url,omitempty"`
}

// EndFrame is the first frame after the shot.
func (s PlanShot) EndFrame() int {
	return s.StartFrame + s.DurationFrames
}

package model

// Job status
type JobStatus string

const (
	JobStatusQueued              JobStatus = "queued"
	JobStatusGeneratingScenario  JobStatus = "generating_scenario"
	JobStatusGeneratingImages    JobStatus = "generating_images"
	JobStatusGeneratingNarration JobStatus = "generating_narration"
	JobStatusRenderingVideo      JobStatus = "rendering_video"
	JobStatusDone                JobStatus = "done"
	JobStatusError               JobStatus = "error"
)

var jobStatusRank = map[JobStatus]int{
	JobStatusQueued:              0,
	JobStatusGeneratingScenario:  1,
	JobStatusGeneratingImages:    2,
	JobStatusGeneratingNarration: 3,
	JobStatusRenderingVideo:      4,
	JobStatusDone:                5,
	JobStatusError:               5,
}

// Rank orders statuses along the pipeline. Both terminal statuses share the
// highest rank. Unknown statuses rank -1.
func (s JobStatus) Rank() int {
	if r, ok := jobStatusRank[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether the status is done or error.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := jobStatusRank[s]
	return ok
}

// Transition types between consecutive shots
type Transition string

const (
	TransitionCut        Transition = "cut"
	TransitionFade       Transition = "fade"
	TransitionCrossfade  Transition = "crossfade"
	TransitionZoomIn     Transition = "zoom-in"
	TransitionZoomOut    Transition = "zoom-out"
	TransitionSlideLeft  Transition = "slide-left"
	TransitionSlideRight Transition = "slide-right"
)

var ValidTransitions = []Transition{
	TransitionCut, TransitionFade, TransitionCrossfade, TransitionZoomIn,
	TransitionZoomOut, TransitionSlideLeft, TransitionSlideRight,
}

// Language
type Language string

const (
	LanguageEN Language = "en"
	LanguageTR Language = "tr"
	LanguageFR Language = "fr"
	LanguageDE Language = "de"
	LanguageES Language = "es"
)

package model

import "time"

// Job is the unit of work tracked from submission to a terminal status.
type Job struct {
	ID               string     `json:"id"`
	Status           JobStatus  `json:"status"`
	Progress         float64    `json:"progress"`
	Message          string     `json:"message,omitempty"`
	Error            *string    `json:"error,omitempty"`
	TotalShots       *int       `json:"totalShots,omitempty"`
	CompletedShots   *int       `json:"completedShots,omitempty"`
	OutputURL        *string    `json:"outputUrl,omitempty"`
	ScenarioAttempts int        `json:"scenarioAttempts,omitempty"`
	RenderID         string     `json:"renderId,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing the stored record.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Error = cloneString(j.Error)
	c.OutputURL = cloneString(j.OutputURL)
	c.TotalShots = cloneInt(j.TotalShots)
	c.CompletedShots = cloneInt(j.CompletedShots)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Snapshot returns the progress-relevant view of the job.
func (j *Job) Snapshot() Snapshot {
	return Snapshot{Status: j.Status, Progress: j.Progress}
}

// VideoJobPayload is what the background task carries for a submitted job.
type VideoJobPayload struct {
	Text     string   `json:"text"`
	VoiceID  string   `json:"voiceId,omitempty"`
	Language Language `json:"language,omitempty"`
	Tone     string   `json:"tone,omitempty"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

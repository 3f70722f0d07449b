package client

import (
	"math"
	"strings"
	"unicode"

	"github.com/reelsmith/api/internal/model"
)

// VoiceSettings are the ElevenLabs-style knobs of one narration request.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed"`
}

const (
	minSpeed = 0.7
	maxSpeed = 1.2
)

var (
	calmStems      = []string{"slow", "calm", "soft", "gentl", "whisper"}
	energeticStems = []string{"energ", "excit", "fast", "urgen", "upbeat"}
)

// VoiceSettingsFor derives voice settings from a shot's narration direction.
// Expressiveness is 0.7*intensity + 0.3*energy; stability and similarity fall
// as it rises. Keywords in the free-text instruction nudge the result.
func VoiceSettingsFor(d model.NarrationDirection) VoiceSettings {
	e := clamp(0.7*d.Intensity+0.3*d.Delivery.Energy, 0, 1)

	rate := d.Delivery.SpeakingRate
	if rate == 0 {
		rate = 1
	}

	s := VoiceSettings{
		Stability:       0.75 - 0.45*e,
		SimilarityBoost: 0.85 - 0.25*e,
		Style:           e,
		UseSpeakerBoost: true,
		Speed:           rate,
	}

	words := instructionWords(d.Delivery.Instruction)
	if hasStem(words, calmStems) {
		s.Speed -= 0.05
		s.Stability += 0.05
	}
	if hasStem(words, energeticStems) {
		s.Speed += 0.05
		s.Style += 0.1
		s.Stability -= 0.05
	}

	s.Stability = round3(clamp(s.Stability, 0, 1))
	s.SimilarityBoost = round3(clamp(s.SimilarityBoost, 0, 1))
	s.Style = round3(clamp(s.Style, 0, 1))
	s.Speed = round3(clamp(s.Speed, minSpeed, maxSpeed))
	return s
}

func instructionWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

func hasStem(words, stems []string) bool {
	for _, w := range words {
		for _, stem := range stems {
			if strings.HasPrefix(w, stem) {
				return true
			}
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

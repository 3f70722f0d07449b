package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/reelsmith/api/internal/client"
	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/retry"
	"github.com/reelsmith/api/internal/scenario"
)

// ScenarioOptions tune scenario generation.
type ScenarioOptions struct {
	TargetShots int
	Attempts    int
	Retry       retry.Policy
}

// ScenarioError is returned when every attempt produced an invalid scenario.
// Errors holds the violations of the last attempt.
type ScenarioError struct {
	Attempts int
	Errors   scenario.ValidationErrors
}

func (e *ScenarioError) Error() string {
	return fmt.Sprintf("scenario invalid after %d attempts: %s", e.Attempts, e.Errors.Error())
}

// ScenarioService asks the text model for a scenario and repairs invalid
// output by feeding the violations back.
type ScenarioService struct {
	text      client.TextGenerator
	validator *scenario.Validator
	opts      ScenarioOptions
	log       logger.Logger
}

// NewScenarioService creates a scenario service. A nil or unconfigured text
// generator switches to the built-in mock.
func NewScenarioService(text client.TextGenerator, validator *scenario.Validator, opts ScenarioOptions, log logger.Logger) *ScenarioService {
	if opts.TargetShots < scenario.MinShots || opts.TargetShots > scenario.MaxShots {
		opts.TargetShots = 5
	}
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if validator == nil {
		validator = scenario.New()
	}
	return &ScenarioService{
		text:      text,
		validator: validator,
		opts:      opts,
		log:       logger.WithComponent(log, "scenario"),
	}
}

func (s *ScenarioService) configured() bool {
	if s.text == nil {
		return false
	}
	if c, ok := s.text.(interface{ IsConfigured() bool }); ok {
		return c.IsConfigured()
	}
	return true
}

// Generate returns a validated scenario for req. onAttempt, when set, is
// called before each attempt with its 1-based number.
func (s *ScenarioService) Generate(ctx context.Context, req *model.VideoJobPayload, onAttempt func(attempt int)) (*model.Scenario, error) {
	language := req.Language
	if language == "" {
		language = model.LanguageEN
	}

	generate := s.complete
	if !s.configured() {
		generate = s.generateMock
	}

	system := s.buildSystemPrompt(language)
	opts := scenario.Options{ExactShots: s.opts.TargetShots}

	var (
		lastOutput string
		lastErrs   scenario.ValidationErrors
	)
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		if onAttempt != nil {
			onAttempt(attempt)
		}

		user := s.buildGeneratePrompt(req, language)
		if attempt > 1 {
			user = s.buildRepairPrompt(user, lastOutput, lastErrs)
		}

		output, err := generate(ctx, system, user)
		if err != nil {
			return nil, fmt.Errorf("scenario generation failed: %w", err)
		}

		sc, err := s.validator.Validate(output, opts)
		if err == nil {
			if sc.Language == "" {
				sc.Language = string(language)
			}
			if sc.Tone == "" {
				sc.Tone = req.Tone
			}
			return sc, nil
		}

		var verrs scenario.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, err
		}
		s.log.Warn().
			Int("attempt", attempt).
			Int("violations", len(verrs)).
			Str("first", verrs[0]).
			Msg("generated scenario rejected")

		lastOutput, lastErrs = output, verrs
	}

	return nil, &ScenarioError{Attempts: s.opts.Attempts, Errors: lastErrs}
}

func (s *ScenarioService) complete(ctx context.Context, system, user string) (string, error) {
	var output string
	err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
		out, err := s.text.ChatCompletion(ctx, system, user)
		if err != nil {
			return err
		}
		output = out
		return nil
	})
	return output, err
}

func languageName(language model.Language) string {
	switch language {
	case model.LanguageTR:
		return "Turkish"
	case model.LanguageFR:
		return "French"
	case model.LanguageDE:
		return "German"
	case model.LanguageES:
		return "Spanish"
	default:
		return "English"
	}
}

func (s *ScenarioService) buildSystemPrompt(language model.Language) string {
	return fmt.Sprintf(`You are a scriptwriter for short narrated vertical videos, writing in %s.
You turn a piece of text into a sequence of shots, each with one image and one spoken line.
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`, languageName(language))
}

func (s *ScenarioService) buildGeneratePrompt(req *model.VideoJobPayload, language model.Language) string {
	tone := req.Tone
	if tone == "" {
		tone = "engaging"
	}

	return fmt.Sprintf(`Write a scenario for a narrated vertical video based on the text below.
Tone: %s
Language: %s
Shots: exactly %d

Rules:
- every shot needs a short on-screen subtitle, a narration line, an image prompt and a transition
- transition is one of: cut, fade, crossfade, zoom-in, zoom-out, slide-left, slide-right
- narrationDirection.emotion is a single word; use at least 2 different emotions across the shots
- intensity and energy are between 0 and 1, speakingRate between 0.5 and 2.0
- pauseBeforeMs and pauseAfterMs are whole milliseconds between 0 and 1500
- no two shots may share the same delivery instruction

Text:
%s

Output as JSON: {"language": "%s", "title": "...", "tone": "...", "shots": [{"id": "s1", "subtitle": "...", "narration": "...", "imagePrompt": "...", "transition": "cut", "narrationDirection": {"emotion": "calm", "intensity": 0.4, "delivery": {"speakingRate": 1.0, "energy": 0.5, "pauseBeforeMs": 150, "pauseAfterMs": 250, "emphasisWords": ["..."], "instruction": "..."}}}]}`,
		tone, language, s.opts.TargetShots, req.Text, language)
}

func (s *ScenarioService) buildRepairPrompt(original, previous string, errs scenario.ValidationErrors) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\nYour previous answer was rejected.\n\nPrevious answer:\n")
	b.WriteString(previous)
	b.WriteString("\n\nFix exactly these problems and keep everything else:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	return b.String()
}

var mockEmotions = []string{"curious", "calm", "tense", "hopeful", "joyful", "reflective", "urgent", "warm"}

var mockTransitions = []model.Transition{
	model.TransitionFade, model.TransitionCrossfade, model.TransitionCut,
	model.TransitionZoomIn, model.TransitionSlideLeft, model.TransitionZoomOut,
	model.TransitionSlideRight, model.TransitionFade,
}

// generateMock builds a scenario from the source text without a model, for development.
func (s *ScenarioService) generateMock(_ context.Context, _ string, user string) (string, error) {
	text := mockSourceText(user)
	sentences := splitSentences(text)

	shots := make([]model.Shot, s.opts.TargetShots)
	for i := range shots {
		line := sentences[i%len(sentences)]
		shots[i] = model.Shot{
			ID:          fmt.Sprintf("s%d", i+1),
			Subtitle:    truncateWords(line, 6),
			Narration:   line,
			ImagePrompt: fmt.Sprintf("Vertical cinematic illustration: %s", line),
			Transition:  mockTransitions[i%len(mockTransitions)],
			Direction: model.NarrationDirection{
				Emotion:   mockEmotions[i%len(mockEmotions)],
				Intensity: 0.4 + 0.05*float64(i%5),
				Delivery: model.Delivery{
					SpeakingRate:  1.0,
					Energy:        0.5,
					PauseBeforeMs: 150,
					PauseAfterMs:  250,
					Instruction:   fmt.Sprintf("Read line %d with a %s voice", i+1, mockEmotions[i%len(mockEmotions)]),
				},
			},
		}
	}

	data, err := json.Marshal(model.Scenario{
		Title: truncateWords(sentences[0], 5),
		Tone:  "engaging",
		Shots: shots,
	})
	if err != nil {
		return "", err
	}
	return "Here is the scenario:\n" + string(data), nil
}

// mockSourceText recovers the text section of the generation prompt.
func mockSourceText(prompt string) string {
	_, after, ok := strings.Cut(prompt, "\nText:\n")
	if !ok {
		return prompt
	}
	text, _, _ := strings.Cut(after, "\n\nOutput as JSON:")
	return text
}

func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		out = []string{"A short story"}
	}
	return out
}

func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ") + "..."
}

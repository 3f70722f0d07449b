package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reelsmith/api/internal/client"
	"github.com/reelsmith/api/internal/config"
	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/retry"
	"github.com/reelsmith/api/internal/scenario"
)

func noSleep(context.Context, time.Duration) error { return nil }

func testRetry() retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = noSleep
	return p
}

// scriptedText replays outputs in order and records the prompts it saw.
type scriptedText struct {
	mu      sync.Mutex
	outputs []string
	errs    []error
	prompts []string
}

func (s *scriptedText) ChatCompletion(_ context.Context, _, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.prompts)
	s.prompts = append(s.prompts, user)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i >= len(s.outputs) {
		return s.outputs[len(s.outputs)-1], nil
	}
	return s.outputs[i], nil
}

func testScenario(n int) model.Scenario {
	emotions := []string{"calm", "curious", "tense", "hopeful", "joyful", "warm", "urgent", "wistful"}
	shots := make([]model.Shot, n)
	for i := range shots {
		shots[i] = model.Shot{
			ID:          fmt.Sprintf("s%d", i+1),
			Subtitle:    fmt.Sprintf("Subtitle %d", i+1),
			Narration:   fmt.Sprintf("Narration line number %d.", i+1),
			ImagePrompt: fmt.Sprintf("Image %d", i+1),
			Transition:  model.TransitionFade,
			Direction: model.NarrationDirection{
				Emotion:   emotions[i%len(emotions)],
				Intensity: 0.5,
				Delivery: model.Delivery{
					SpeakingRate:  1,
					Energy:        0.5,
					PauseBeforeMs: 150,
					PauseAfterMs:  250,
					Instruction:   fmt.Sprintf("instruction %d", i+1),
				},
			},
		}
	}
	return model.Scenario{Language: "en", Title: "Test", Tone: "warm", Shots: shots}
}

func scenarioJSON(t *testing.T, sc model.Scenario) string {
	t.Helper()
	data, err := json.Marshal(sc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func newScenarioService(text client.TextGenerator) *ScenarioService {
	return NewScenarioService(text, scenario.New(), ScenarioOptions{TargetShots: 5, Attempts: 3, Retry: testRetry()}, logger.Nop())
}

func TestScenarioService_FirstAttempt(t *testing.T) {
	text := &scriptedText{outputs: []string{"```json\n" + scenarioJSON(t, testScenario(5)) + "\n```"}}
	s := newScenarioService(text)

	var attempts []int
	sc, err := s.Generate(context.Background(), &model.VideoJobPayload{Text: "story"}, func(a int) { attempts = append(attempts, a) })
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(sc.Shots) != 5 {
		t.Errorf("expected 5 shots, got %d", len(sc.Shots))
	}
	if len(attempts) != 1 || attempts[0] != 1 {
		t.Errorf("expected a single attempt, got %v", attempts)
	}
}

func TestScenarioService_RepairsInvalidOutput(t *testing.T) {
	invalid := testScenario(5)
	for i := range invalid.Shots {
		invalid.Shots[i].Direction.Emotion = "calm"
	}
	text := &scriptedText{outputs: []string{scenarioJSON(t, invalid), scenarioJSON(t, testScenario(5))}}
	s := newScenarioService(text)

	sc, err := s.Generate(context.Background(), &model.VideoJobPayload{Text: "story"}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if sc == nil || len(text.prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(text.prompts))
	}

	repair := text.prompts[1]
	if !strings.Contains(repair, "Previous answer:") || !strings.Contains(repair, `"emotion":"calm"`) {
		t.Error("repair prompt must include the previous output")
	}
	if !strings.Contains(repair, "at least 2 distinct emotion labels") {
		t.Errorf("repair prompt must list the violations, got:\n%s", repair)
	}
}

func TestScenarioService_Exhausted(t *testing.T) {
	text := &scriptedText{outputs: []string{"I cannot help with that."}}
	s := newScenarioService(text)

	_, err := s.Generate(context.Background(), &model.VideoJobPayload{Text: "story"}, nil)
	var serr *ScenarioError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ScenarioError, got %v", err)
	}
	if serr.Attempts != 3 || len(serr.Errors) == 0 {
		t.Errorf("unexpected error %+v", serr)
	}
	if len(text.prompts) != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", len(text.prompts))
	}
	if !strings.HasPrefix(err.Error(), "scenario invalid after 3 attempts") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestScenarioService_WrongShotCountIsRepaired(t *testing.T) {
	text := &scriptedText{outputs: []string{scenarioJSON(t, testScenario(3)), scenarioJSON(t, testScenario(5))}}
	s := newScenarioService(text)

	if _, err := s.Generate(context.Background(), &model.VideoJobPayload{Text: "story"}, nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(text.prompts[1], "exactly 5 shots") {
		t.Errorf("expected shot count violation in repair prompt, got:\n%s", text.prompts[1])
	}
}

func TestScenarioService_TransientErrorRetried(t *testing.T) {
	text := &scriptedText{
		errs:    []error{&client.APIError{Service: "groq", StatusCode: 503, Kind: retry.KindTransient}},
		outputs: []string{"", scenarioJSON(t, testScenario(5))},
	}
	s := newScenarioService(text)

	if _, err := s.Generate(context.Background(), &model.VideoJobPayload{Text: "story"}, nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(text.prompts) != 2 {
		t.Errorf("expected one retry, got %d calls", len(text.prompts))
	}
}

func TestScenarioService_PermanentErrorStops(t *testing.T) {
	text := &scriptedText{
		errs:    []error{&client.APIError{Service: "groq", StatusCode: 401, Kind: retry.KindPermanent}},
		outputs: []string{""},
	}
	s := newScenarioService(text)

	_, err := s.Generate(context.Background(), &model.VideoJobPayload{Text: "story"}, nil)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Fatalf("expected the API error, got %v", err)
	}
	if len(text.prompts) != 1 {
		t.Errorf("permanent errors must not be retried, got %d calls", len(text.prompts))
	}
}

func TestScenarioService_Mock(t *testing.T) {
	s := newScenarioService(nil)

	sc, err := s.Generate(context.Background(), &model.VideoJobPayload{
		Text:     "The tide came in. Gulls circled the harbour! Nobody noticed the boat? It drifted away.",
		Language: model.LanguageDE,
		Tone:     "wistful",
	}, nil)
	if err != nil {
		t.Fatalf("mock generate: %v", err)
	}
	if len(sc.Shots) != 5 {
		t.Errorf("expected 5 shots, got %d", len(sc.Shots))
	}
	if sc.Language != "de" {
		t.Errorf("expected language de, got %q", sc.Language)
	}
	if sc.Shots[0].Narration != "The tide came in" {
		t.Errorf("expected narration from the text, got %q", sc.Shots[0].Narration)
	}
}

func TestScenarioService_UnconfiguredClientUsesMock(t *testing.T) {
	groq := client.NewGroqClient(&config.GroqConfig{}, logger.Nop())
	s := newScenarioService(groq)

	if _, err := s.Generate(context.Background(), &model.VideoJobPayload{Text: "One. Two."}, nil); err != nil {
		t.Fatalf("expected mock fallback, got %v", err)
	}
}

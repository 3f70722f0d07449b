package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/reelsmith/api/internal/model"
)

func shot(id string, tr model.Transition, beforeMs, afterMs float64) model.Shot {
	return model.Shot{
		ID:          id,
		Subtitle:    "subtitle " + id,
		Narration:   "narration " + id,
		ImagePrompt: "image " + id,
		Transition:  tr,
		Direction: model.NarrationDirection{
			Emotion: "calm",
			Delivery: model.Delivery{
				SpeakingRate:  1,
				PauseBeforeMs: beforeMs,
				PauseAfterMs:  afterMs,
			},
		},
	}
}

func exampleScenario() (*model.Scenario, map[string]model.ShotAsset) {
	durations := []float64{2.1, 3.4, 1.8, 2.9, 2.6}
	sc := &model.Scenario{Language: "en", Title: "example"}
	assets := make(map[string]model.ShotAsset)
	for i, d := range durations {
		id := fmt.Sprintf("s%d", i+1)
		sc.Shots = append(sc.Shots, shot(id, model.TransitionCut, 150, 150))
		assets[id] = model.ShotAsset{
			ShotID:           id,
			ImageURL:         "https://cdn.test/" + id + ".png",
			AudioURL:         "https://cdn.test/" + id + ".mp3",
			AudioDurationSec: d,
		}
	}
	return sc, assets
}

func assertNoViolations(t *testing.T, plan *model.RenderPlan, gap int) {
	t.Helper()
	if v := Check(plan, gap); len(v) > 0 {
		t.Errorf("expected no violations, got %v", v)
	}
}

func TestSynthesize_Example(t *testing.T) {
	sc, assets := exampleScenario()

	plan, err := Synthesize(sc, assets, DefaultParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantDur := []int{73, 114, 66, 99, 90}
	wantStart := []int{0, 73, 187, 253, 352}
	wantAudioStart := []int{5, 7, 7, 7, 7}
	for i, s := range plan.Shots {
		if s.DurationFrames != wantDur[i] {
			t.Errorf("shot %d: expected duration %d, got %d", i, wantDur[i], s.DurationFrames)
		}
		if s.StartFrame != wantStart[i] {
			t.Errorf("shot %d: expected start %d, got %d", i, wantStart[i], s.StartFrame)
		}
		if s.AudioStartFrames != wantAudioStart[i] {
			t.Errorf("shot %d: expected audio start %d, got %d", i, wantAudioStart[i], s.AudioStartFrames)
		}
		if !s.AudioMeasured {
			t.Errorf("shot %d: expected measured audio", i)
		}
		if s.AudioURL == "" || s.ImageURL == "" {
			t.Errorf("shot %d: expected asset references", i)
		}
	}
	if plan.TotalFrames != 442 {
		t.Errorf("expected 442 total frames, got %d", plan.TotalFrames)
	}
	if plan.OpeningCard != nil || plan.EndingCard != nil {
		t.Errorf("expected no cards")
	}
	assertNoViolations(t, plan, GapFrames(220, 30))
}

func TestSynthesize_Cards(t *testing.T) {
	sc, assets := exampleScenario()
	p := DefaultParams()
	p.OpeningCardSec = 1
	p.EndingCardSec = 1.5

	plan, err := Synthesize(sc, assets, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.OpeningCard == nil || plan.OpeningCard.DurationFrames != 30 || plan.OpeningCard.StartFrame != 0 {
		t.Fatalf("expected 30 frame opening card at 0, got %+v", plan.OpeningCard)
	}
	if plan.Shots[0].StartFrame != 30 || plan.Shots[4].StartFrame != 382 {
		t.Errorf("expected shots shifted by 30, got first=%d last=%d", plan.Shots[0].StartFrame, plan.Shots[4].StartFrame)
	}
	if plan.EndingCard == nil || plan.EndingCard.StartFrame != 472 || plan.EndingCard.DurationFrames != 45 {
		t.Fatalf("expected ending card at 472 for 45 frames, got %+v", plan.EndingCard)
	}
	if plan.TotalFrames != 517 {
		t.Errorf("expected 517 total frames, got %d", plan.TotalFrames)
	}
	assertNoViolations(t, plan, GapFrames(220, 30))
}

func TestSynthesize_ZeroGap(t *testing.T) {
	sc, assets := exampleScenario()
	p := DefaultParams()
	p.NarrationGapMs = 0

	plan, err := Synthesize(sc, assets, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantDur := []int{73, 112, 64, 97, 88}
	for i, s := range plan.Shots {
		if s.DurationFrames != wantDur[i] {
			t.Errorf("shot %d: expected duration %d, got %d", i, wantDur[i], s.DurationFrames)
		}
	}
	if plan.TotalFrames != 434 {
		t.Errorf("expected 434 total frames, got %d", plan.TotalFrames)
	}
}

func TestSynthesize_Overlaps(t *testing.T) {
	sc := &model.Scenario{Shots: []model.Shot{
		shot("a", model.TransitionFade, 0, 0),
		shot("b", model.TransitionCrossfade, 0, 0),
		shot("c", model.TransitionZoomIn, 0, 0),
		shot("d", model.TransitionSlideLeft, 0, 0),
		shot("e", model.TransitionFade, 0, 0),
	}}
	sc.Shots[3].DurationSec = 0.2
	assets := map[string]model.ShotAsset{
		"a": {AudioDurationSec: 3},
		"b": {AudioDurationSec: 3},
		"c": {AudioDurationSec: 3},
		"e": {AudioDurationSec: 3},
	}
	p := DefaultParams()
	p.NarrationGapMs = 0

	plan, err := Synthesize(sc, assets, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantOut := []int{11, 12, 5, 5, 0}
	for i, s := range plan.Shots {
		if s.OverlapOutFrames != wantOut[i] {
			t.Errorf("shot %s: expected overlap out %d, got %d", s.ShotID, wantOut[i], s.OverlapOutFrames)
		}
		if i > 0 && s.OverlapInFrames != wantOut[i-1] {
			t.Errorf("shot %s: expected overlap in %d, got %d", s.ShotID, wantOut[i-1], s.OverlapInFrames)
		}
	}
	if d := plan.Shots[3].DurationFrames; d != 6 {
		t.Errorf("expected fallback shot of 6 frames, got %d", d)
	}
	if plan.Shots[3].AudioMeasured {
		t.Errorf("expected shot d to be unmeasured")
	}
	if f := plan.Shots[4].EndFadeOutFrames; f != 11 {
		t.Errorf("expected last shot fade out of 11 frames, got %d", f)
	}
	if plan.Shots[1].StartFrame != 90-11 {
		t.Errorf("expected second shot to start at 79, got %d", plan.Shots[1].StartFrame)
	}
	assertNoViolations(t, plan, 0)
}

func TestSynthesize_LastShotWithoutFade(t *testing.T) {
	sc := &model.Scenario{Shots: []model.Shot{shot("only", model.TransitionCrossfade, 0, 0)}}
	plan, err := Synthesize(sc, map[string]model.ShotAsset{"only": {AudioDurationSec: 1}}, DefaultParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := plan.Shots[0]
	if s.OverlapOutFrames != 0 || s.EndFadeOutFrames != 0 {
		t.Errorf("expected no overlap or fade, got out=%d fade=%d", s.OverlapOutFrames, s.EndFadeOutFrames)
	}
	if plan.TotalFrames != 30 {
		t.Errorf("expected 30 frames, got %d", plan.TotalFrames)
	}
}

func TestSynthesize_DurationHints(t *testing.T) {
	tests := []struct {
		name   string
		timing *model.TimingHints
		want   int
	}{
		{"no hints", nil, 60},
		{"min extends", &model.TimingHints{MinDurationSec: 3}, 90},
		{"max clamps min", &model.TimingHints{MinDurationSec: 3, MaxDurationSec: 2.5}, 75},
		{"max below audio ignored", &model.TimingHints{MaxDurationSec: 1}, 60},
		{"padding", &model.TimingHints{PaddingMs: 500}, 75},
		{"padding beats max", &model.TimingHints{PaddingMs: 500, MaxDurationSec: 2.2}, 75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := shot("x", model.TransitionCut, 0, 0)
			s.Timing = tt.timing
			plan, err := Synthesize(&model.Scenario{Shots: []model.Shot{s}},
				map[string]model.ShotAsset{"x": {AudioDurationSec: 2}}, DefaultParams())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := plan.Shots[0].DurationFrames; got != tt.want {
				t.Errorf("expected %d frames, got %d", tt.want, got)
			}
			assertNoViolations(t, plan, 0)
		})
	}
}

func TestSynthesize_UnmeasuredFallback(t *testing.T) {
	declared := shot("declared", model.TransitionCut, 0, 0)
	declared.DurationSec = 2.5
	hinted := shot("hinted", model.TransitionCut, 0, 0)
	hinted.Timing = &model.TimingHints{MinDurationSec: 3}
	plain := shot("plain", model.TransitionCut, 0, 0)
	paused := shot("paused", model.TransitionCut, 1000, 1000)
	paused.DurationSec = 1

	sc := &model.Scenario{Shots: []model.Shot{declared, hinted, plain, paused}}
	p := DefaultParams()
	p.NarrationGapMs = 0

	plan, err := Synthesize(sc, nil, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []int{75, 90, 120, 60}
	for i, s := range plan.Shots {
		if s.DurationFrames != want[i] {
			t.Errorf("shot %s: expected %d frames, got %d", s.ShotID, want[i], s.DurationFrames)
		}
		if s.AudioMeasured || s.AudioDurationFrames != 0 {
			t.Errorf("shot %s: expected unmeasured audio", s.ShotID)
		}
	}
}

func TestSynthesize_GapCascades(t *testing.T) {
	sc := &model.Scenario{Shots: []model.Shot{
		shot("a", model.TransitionCrossfade, 0, 0),
		shot("b", model.TransitionCrossfade, 0, 0),
		shot("c", model.TransitionCut, 0, 0),
	}}
	assets := map[string]model.ShotAsset{
		"a": {AudioDurationSec: 2},
		"b": {AudioDurationSec: 2},
		"c": {AudioDurationSec: 2},
	}
	p := DefaultParams()
	p.NarrationGapMs = 500

	plan, err := Synthesize(sc, assets, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 15 frame gap on top of a 12 frame crossfade.
	if got := plan.Shots[1].AudioStartFrames; got != 27 {
		t.Errorf("expected b audio start 27, got %d", got)
	}
	if got := plan.Shots[2].AudioStartFrames; got != 27 {
		t.Errorf("expected c audio start 27, got %d", got)
	}
	assertNoViolations(t, plan, GapFrames(500, 30))
}

func TestSynthesize_Idempotent(t *testing.T) {
	sc, assets := exampleScenario()
	sc.Shots[1].Transition = model.TransitionFade
	sc.Shots[4].Transition = model.TransitionFade
	p := DefaultParams()
	p.OpeningCardSec = 0.5

	first, err := Synthesize(sc, assets, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Synthesize(sc, assets, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical plans")
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("expected byte-identical plans:\n%s\n%s", a, b)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	if _, err := Synthesize(nil, nil, DefaultParams()); err != ErrNoScenario {
		t.Errorf("expected ErrNoScenario, got %v", err)
	}
	if _, err := Synthesize(&model.Scenario{}, nil, DefaultParams()); err != ErrNoShots {
		t.Errorf("expected ErrNoShots, got %v", err)
	}
	sc, assets := exampleScenario()
	if _, err := Synthesize(sc, assets, Params{}); err == nil {
		t.Errorf("expected error for zero fps")
	}
	if _, err := Synthesize(sc, assets, Params{FPS: MaxFPS + 1}); err == nil {
		t.Errorf("expected error for fps above %d", MaxFPS)
	}
}

func TestSynthesize_DurationRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(sc *model.Scenario, assets map[string]model.ShotAsset, p *Params)
	}{
		{"huge narration", func(_ *model.Scenario, assets map[string]model.ShotAsset, _ *Params) {
			assets["s1"] = model.ShotAsset{AudioDurationSec: 1e18}
		}},
		{"infinite narration", func(_ *model.Scenario, assets map[string]model.ShotAsset, _ *Params) {
			assets["s2"] = model.ShotAsset{AudioDurationSec: math.Inf(1)}
		}},
		{"NaN narration", func(_ *model.Scenario, assets map[string]model.ShotAsset, _ *Params) {
			assets["s3"] = model.ShotAsset{AudioDurationSec: math.NaN()}
		}},
		{"huge min hint", func(sc *model.Scenario, _ map[string]model.ShotAsset, _ *Params) {
			sc.Shots[0].Timing = &model.TimingHints{MinDurationSec: 1e18}
		}},
		{"huge max hint", func(sc *model.Scenario, _ map[string]model.ShotAsset, _ *Params) {
			sc.Shots[1].Timing = &model.TimingHints{MaxDurationSec: MaxSeconds + 1}
		}},
		{"huge declared duration", func(sc *model.Scenario, _ map[string]model.ShotAsset, _ *Params) {
			sc.Shots[2].DurationSec = 1e12
		}},
		{"huge ending card", func(_ *model.Scenario, _ map[string]model.ShotAsset, p *Params) {
			p.EndingCardSec = 1e300
		}},
		{"huge narration gap", func(_ *model.Scenario, _ map[string]model.ShotAsset, p *Params) {
			p.NarrationGapMs = math.MaxInt32
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, assets := exampleScenario()
			p := DefaultParams()
			tt.mutate(sc, assets, &p)

			plan, err := Synthesize(sc, assets, p)
			if !errors.Is(err, ErrDurationRange) {
				t.Fatalf("expected ErrDurationRange, got plan=%v err=%v", plan != nil, err)
			}
		})
	}
}

func TestSynthesize_LongestClip(t *testing.T) {
	sc, assets := exampleScenario()
	assets["s1"] = model.ShotAsset{AudioDurationSec: MaxSeconds}

	plan, err := Synthesize(sc, assets, DefaultParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := plan.Shots[0].AudioDurationFrames; got != MaxSeconds*30 {
		t.Errorf("expected %d audio frames, got %d", MaxSeconds*30, got)
	}
	assertNoViolations(t, plan, GapFrames(220, 30))
}

func TestSynthesize_RandomInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	fpsChoices := []int{24, 25, 30, 60}

	for run := 0; run < 500; run++ {
		n := 1 + rng.Intn(8)
		sc := &model.Scenario{}
		assets := make(map[string]model.ShotAsset)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("r%d", i)
			s := shot(id, model.ValidTransitions[rng.Intn(len(model.ValidTransitions))],
				float64(rng.Intn(1501)), float64(rng.Intn(1501)))
			if rng.Intn(3) == 0 {
				s.Timing = &model.TimingHints{
					MinDurationSec: float64(rng.Intn(6)),
					MaxDurationSec: float64(rng.Intn(6)),
					PaddingMs:      float64(rng.Intn(800)),
				}
			}
			if rng.Intn(4) == 0 {
				s.DurationSec = rng.Float64() * 5
			}
			sc.Shots = append(sc.Shots, s)
			if rng.Intn(5) != 0 {
				assets[id] = model.ShotAsset{AudioDurationSec: 0.1 + rng.Float64()*6}
			}
		}

		p := Params{
			FPS:            fpsChoices[rng.Intn(len(fpsChoices))],
			NarrationGapMs: rng.Intn(400),
			DefaultShotSec: 4,
			OpeningCardSec: float64(rng.Intn(3)),
			EndingCardSec:  float64(rng.Intn(3)),
		}

		plan, err := Synthesize(sc, assets, p)
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", run, err)
		}
		if v := Check(plan, GapFrames(p.NarrationGapMs, p.FPS)); len(v) > 0 {
			t.Fatalf("run %d (fps=%d gap=%d): violations %v", run, p.FPS, p.NarrationGapMs, v)
		}
		for i, s := range plan.Shots {
			a, ok := assets[s.ShotID]
			if ok && s.AudioDurationFrames < AudioFrames(a.AudioDurationSec, p.FPS) {
				t.Fatalf("run %d shot %d: audio truncated", run, i)
			}
		}

		again, _ := Synthesize(sc, assets, p)
		if !reflect.DeepEqual(plan, again) {
			t.Fatalf("run %d: synthesis is not deterministic", run)
		}
	}
}

func TestFrameConversions(t *testing.T) {
	if got := MsToFrames(150, 30); got != 5 {
		t.Errorf("MsToFrames(150, 30): expected 5, got %d", got)
	}
	if got := GapFrames(220, 30); got != 7 {
		t.Errorf("GapFrames(220, 30): expected 7, got %d", got)
	}
	if got := GapFrames(200, 30); got != 6 {
		t.Errorf("GapFrames(200, 30): expected 6, got %d", got)
	}
	if got := AudioFrames(2.1, 30); got != 63 {
		t.Errorf("AudioFrames(2.1, 30): expected 63, got %d", got)
	}
	if got := AudioFrames(2.101, 30); got != 64 {
		t.Errorf("AudioFrames(2.101, 30): expected 64, got %d", got)
	}
	if got := SecToFrames(1e18, 30); got != math.MaxInt32 {
		t.Errorf("SecToFrames(1e18, 30): expected saturation, got %d", got)
	}
	if got := AudioFrames(math.NaN(), 30); got != 0 {
		t.Errorf("AudioFrames(NaN, 30): expected 0, got %d", got)
	}
}

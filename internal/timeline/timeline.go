// Package timeline converts a scenario and its measured narration into a
// frame-accurate render plan.
package timeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/reelsmith/api/internal/model"
)

const (
	// MaxGapPasses caps the narration-gap fixed point.
	MaxGapPasses = 4

	// MaxSeconds is the longest duration, in seconds, a single input may
	// describe: a clip, a hint, a fallback or a card.
	MaxSeconds = 3600
	// MaxFPS bounds the frame rate of a plan.
	MaxFPS = 240

	maxOverlapSec = 0.9
	frameEpsilon  = 1e-6
	maxFrames     = math.MaxInt32
)

// Params are the global knobs of a synthesis run.
type Params struct {
	FPS            int
	NarrationGapMs int
	DefaultShotSec float64
	OpeningCardSec float64
	EndingCardSec  float64
}

// DefaultParams returns 30 fps, a 220 ms narration gap and 4 s fallback shots.
func DefaultParams() Params {
	return Params{FPS: 30, NarrationGapMs: 220, DefaultShotSec: 4}
}

var (
	// ErrNoScenario is returned for a nil scenario.
	ErrNoScenario = errors.New("timeline: scenario is nil")
	// ErrNoShots is returned for a scenario without shots.
	ErrNoShots = errors.New("timeline: scenario has no shots")
	// ErrDurationRange wraps durations that are not finite or exceed MaxSeconds.
	ErrDurationRange = errors.New("timeline: duration out of range")
)

// toFrames truncates a non-negative frame count, saturating at maxFrames.
// NaN and negative values give 0.
func toFrames(v float64) int {
	if !(v > 0) {
		return 0
	}
	if v >= maxFrames {
		return maxFrames
	}
	return int(v)
}

func checkSeconds(what string, sec float64) error {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec > MaxSeconds {
		return fmt.Errorf("%w: %s is %v, limit is %ds", ErrDurationRange, what, sec, MaxSeconds)
	}
	return nil
}

// checkInputs rejects every duration the frame math cannot represent.
func checkInputs(sc *model.Scenario, assets map[string]model.ShotAsset, p Params) error {
	if err := checkSeconds("default shot length", p.DefaultShotSec); err != nil {
		return err
	}
	if err := checkSeconds("opening card", p.OpeningCardSec); err != nil {
		return err
	}
	if err := checkSeconds("ending card", p.EndingCardSec); err != nil {
		return err
	}
	if err := checkSeconds("narration gap", float64(p.NarrationGapMs)/1000); err != nil {
		return err
	}
	for _, shot := range sc.Shots {
		if err := checkSeconds("shot "+shot.ID+" duration", shot.DurationSec); err != nil {
			return err
		}
		if shot.Timing != nil {
			if err := checkSeconds("shot "+shot.ID+" min duration", shot.Timing.MinDurationSec); err != nil {
				return err
			}
			if err := checkSeconds("shot "+shot.ID+" max duration", shot.Timing.MaxDurationSec); err != nil {
				return err
			}
		}
		if a, ok := assets[shot.ID]; ok {
			if err := checkSeconds("shot "+shot.ID+" narration", a.AudioDurationSec); err != nil {
				return err
			}
		}
	}
	return nil
}

// overlapSec is the visual overlap a transition wants with the following shot.
func overlapSec(t model.Transition) float64 {
	switch t {
	case model.TransitionCut:
		return 0
	case model.TransitionCrossfade:
		return 0.4
	default:
		return 0.35
	}
}

// MsToFrames rounds a millisecond value to the nearest frame.
func MsToFrames(ms float64, fps int) int {
	if ms <= 0 {
		return 0
	}
	return toFrames(math.Round(ms * float64(fps) / 1000))
}

// SecToFrames rounds seconds to the nearest frame.
func SecToFrames(sec float64, fps int) int {
	if sec <= 0 {
		return 0
	}
	return toFrames(math.Round(sec * float64(fps)))
}

// AudioFrames covers a clip of sec seconds; it rounds up so no sample falls
// outside the shot.
func AudioFrames(sec float64, fps int) int {
	if sec <= 0 {
		return 0
	}
	return toFrames(math.Ceil(sec*float64(fps) - frameEpsilon))
}

// GapFrames converts the narration gap to frames, rounding up so the gap in
// milliseconds is always honoured.
func GapFrames(ms, fps int) int {
	if ms <= 0 {
		return 0
	}
	return toFrames(math.Ceil(float64(ms)*float64(fps)/1000 - frameEpsilon))
}

type shotState struct {
	audioStart int
	audio      int
	measured   bool
	pauseAfter int
	padding    int
	minFrames  int
	maxFrames  int
	fallback   int
	duration   int
	overlapOut int
	start      int
}

func (s *shotState) required() int {
	return s.audioStart + s.audio + s.pauseAfter + s.padding
}

// derive recomputes the shot duration from its current audio offset. Audio is
// never truncated: a max hint below the required length is ignored.
func (s *shotState) derive() {
	req := s.required()
	var d int
	if s.measured {
		d = max(req, s.minFrames)
	} else {
		d = max(req, s.fallback)
	}
	if s.maxFrames > 0 && s.maxFrames >= req && d > s.maxFrames {
		d = s.maxFrames
	}
	if d < 1 {
		d = 1
	}
	s.duration = d
}

// narrationEnd is the absolute frame where the shot's narration and its
// trailing pause finish.
func (s *shotState) narrationEnd() int {
	return s.start + s.audioStart + s.audio + s.pauseAfter
}

// Synthesize lays out the shots of sc in order. assets supplies measured audio
// durations and media references keyed by shot id; a shot without a measured
// duration falls back to its declared duration, its min hint or
// p.DefaultShotSec. Durations that are not finite or exceed MaxSeconds fail
// with ErrDurationRange. The result depends only on the inputs.
func Synthesize(sc *model.Scenario, assets map[string]model.ShotAsset, p Params) (*model.RenderPlan, error) {
	if sc == nil {
		return nil, ErrNoScenario
	}
	if len(sc.Shots) == 0 {
		return nil, ErrNoShots
	}
	if p.FPS <= 0 || p.FPS > MaxFPS {
		return nil, fmt.Errorf("timeline: fps must be between 1 and %d (got %d)", MaxFPS, p.FPS)
	}
	if err := checkInputs(sc, assets, p); err != nil {
		return nil, err
	}

	fps := p.FPS
	states := make([]shotState, len(sc.Shots))

	for i, shot := range sc.Shots {
		st := &states[i]
		d := shot.Direction.Delivery
		st.audioStart = MsToFrames(d.PauseBeforeMs, fps)
		st.pauseAfter = MsToFrames(d.PauseAfterMs, fps)

		if shot.Timing != nil {
			st.padding = MsToFrames(shot.Timing.PaddingMs, fps)
			st.minFrames = SecToFrames(shot.Timing.MinDurationSec, fps)
			st.maxFrames = SecToFrames(shot.Timing.MaxDurationSec, fps)
		}

		if a, ok := assets[shot.ID]; ok && a.AudioDurationSec > 0 {
			st.audio = AudioFrames(a.AudioDurationSec, fps)
			st.measured = true
		} else {
			switch {
			case shot.DurationSec > 0:
				st.fallback = SecToFrames(shot.DurationSec, fps)
			case st.minFrames > 0:
				st.fallback = st.minFrames
			default:
				st.fallback = SecToFrames(p.DefaultShotSec, fps)
			}
		}
		st.derive()
	}

	maxOverlap := SecToFrames(maxOverlapSec, fps)
	last := len(states) - 1
	for i := 0; i < last; i++ {
		want := SecToFrames(overlapSec(sc.Shots[i].Transition), fps)
		states[i].overlapOut = clampOverlap(want, maxOverlap, states[i].duration-1, states[i+1].duration-1)
	}
	endFade := 0
	if sc.Shots[last].Transition == model.TransitionFade {
		want := SecToFrames(overlapSec(model.TransitionFade), fps)
		endFade = clampOverlap(want, maxOverlap, states[last].duration-1)
	}

	gap := GapFrames(p.NarrationGapMs, fps)
	layout(states)
	if gap > 0 {
		for pass := 0; pass < MaxGapPasses; pass++ {
			if !enforceGap(states, gap) {
				break
			}
		}
	}

	opening := SecToFrames(p.OpeningCardSec, fps)
	ending := SecToFrames(p.EndingCardSec, fps)

	plan := &model.RenderPlan{FPS: fps, Shots: make([]model.PlanShot, len(states))}
	if opening > 0 {
		plan.OpeningCard = &model.FrameSpan{StartFrame: 0, DurationFrames: opening}
	}

	for i, st := range states {
		shot := sc.Shots[i]
		ps := model.PlanShot{
			ShotID:              shot.ID,
			StartFrame:          st.start + opening,
			DurationFrames:      st.duration,
			AudioStartFrames:    st.audioStart,
			AudioDurationFrames: st.audio,
			AudioMeasured:       st.measured,
			PauseAfterFrames:    st.pauseAfter,
			PaddingFrames:       st.padding,
			OverlapOutFrames:    st.overlapOut,
			Transition:          shot.Transition,
			Subtitle:            shot.Subtitle,
		}
		if i > 0 {
			ps.OverlapInFrames = states[i-1].overlapOut
		}
		if i == last {
			ps.EndFadeOutFrames = endFade
		}
		if a, ok := assets[shot.ID]; ok {
			ps.ImageURL = a.ImageURL
			ps.AudioURL = a.AudioURL
		}
		plan.Shots[i] = ps
	}

	lastEnd := plan.Shots[last].EndFrame()
	if ending > 0 {
		plan.EndingCard = &model.FrameSpan{StartFrame: lastEnd, DurationFrames: ending}
	}
	plan.TotalFrames = max(lastEnd+ending, 1)

	return plan, nil
}

func clampOverlap(want int, limits ...int) int {
	v := want
	for _, l := range limits {
		if l < v {
			v = l
		}
	}
	if v < 0 {
		return 0
	}
	return v
}

// layout places every shot after its predecessor minus their shared overlap.
func layout(states []shotState) {
	cursor := 0
	for i := range states {
		states[i].start = cursor
		cursor += states[i].duration - states[i].overlapOut
	}
}

// enforceGap pushes narration starts that follow their predecessor's narration
// too closely. Starts are recomputed as it walks so a push cascades to later
// shots. It reports whether anything moved.
func enforceGap(states []shotState, gap int) bool {
	changed := false
	for i := 1; i < len(states); i++ {
		prev, cur := &states[i-1], &states[i]
		cur.start = prev.start + prev.duration - prev.overlapOut

		earliest := prev.narrationEnd() + gap
		if short := earliest - (cur.start + cur.audioStart); short > 0 {
			cur.audioStart += short
			cur.derive()
			changed = true
		}
	}
	return changed
}

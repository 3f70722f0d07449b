package timeline

import (
	"fmt"

	"github.com/reelsmith/api/internal/model"
)

// Check audits a plan and returns one message per broken invariant. gapFrames
// of zero disables the narration gap check.
func Check(plan *model.RenderPlan, gapFrames int) []string {
	if plan == nil {
		return []string{"plan is nil"}
	}
	var out []string
	if plan.FPS <= 0 {
		out = append(out, fmt.Sprintf("fps must be positive (got %d)", plan.FPS))
	}
	if plan.TotalFrames < 1 {
		out = append(out, fmt.Sprintf("total frames must be at least 1 (got %d)", plan.TotalFrames))
	}

	for i, s := range plan.Shots {
		for _, f := range []struct {
			name string
			v    int
		}{
			{"startFrame", s.StartFrame},
			{"durationFrames", s.DurationFrames},
			{"audioStartFrames", s.AudioStartFrames},
			{"audioDurationFrames", s.AudioDurationFrames},
			{"pauseAfterFrames", s.PauseAfterFrames},
			{"paddingFrames", s.PaddingFrames},
			{"overlapInFrames", s.OverlapInFrames},
			{"overlapOutFrames", s.OverlapOutFrames},
			{"endFadeOutFrames", s.EndFadeOutFrames},
		} {
			if f.v < 0 {
				out = append(out, fmt.Sprintf("shot %s: %s is negative (%d)", s.ShotID, f.name, f.v))
			}
		}

		if need := s.AudioStartFrames + s.AudioDurationFrames + s.PauseAfterFrames + s.PaddingFrames; need > s.DurationFrames {
			out = append(out, fmt.Sprintf("shot %s: narration needs %d frames but shot lasts %d", s.ShotID, need, s.DurationFrames))
		}
		if s.EndFadeOutFrames > 0 && i != len(plan.Shots)-1 {
			out = append(out, fmt.Sprintf("shot %s: only the last shot may fade out", s.ShotID))
		}

		if i == 0 {
			continue
		}
		prev := plan.Shots[i-1]
		if s.OverlapInFrames != prev.OverlapOutFrames {
			out = append(out, fmt.Sprintf("shot %s: overlap in %d does not match previous overlap out %d",
				s.ShotID, s.OverlapInFrames, prev.OverlapOutFrames))
		}
		if prev.OverlapOutFrames > prev.DurationFrames || prev.OverlapOutFrames > s.DurationFrames {
			out = append(out, fmt.Sprintf("shots %s/%s: overlap %d exceeds a neighbour's duration",
				prev.ShotID, s.ShotID, prev.OverlapOutFrames))
		}
		if want := prev.EndFrame() - prev.OverlapOutFrames; s.StartFrame != want {
			out = append(out, fmt.Sprintf("shot %s: starts at %d, expected %d", s.ShotID, s.StartFrame, want))
		}
		if gapFrames > 0 {
			prevEnd := prev.StartFrame + prev.AudioStartFrames + prev.AudioDurationFrames + prev.PauseAfterFrames
			if next := s.StartFrame + s.AudioStartFrames; next < prevEnd+gapFrames {
				out = append(out, fmt.Sprintf("shots %s/%s: narration gap is %d frames, need %d",
					prev.ShotID, s.ShotID, next-prevEnd, gapFrames))
			}
		}
	}

	if n := len(plan.Shots); n > 0 {
		end := plan.Shots[n-1].EndFrame()
		if plan.EndingCard != nil {
			end += plan.EndingCard.DurationFrames
		}
		if plan.TotalFrames < end {
			out = append(out, fmt.Sprintf("total frames %d ends before the last shot (%d)", plan.TotalFrames, end))
		}
	}
	return out
}

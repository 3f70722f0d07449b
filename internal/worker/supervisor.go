package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reelsmith/api/internal/client"
	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/service"
	"github.com/reelsmith/api/internal/timeline"
)

// Progress budget of a job. Assets share their band between images and
// narration when the stages run separately.
const (
	progressScenarioStart = 0.02
	progressScenarioEnd   = 0.10
	progressNarration     = 0.46
	progressRenderStart   = 0.82
)

// JobMutator is the single mutation point of job records.
type JobMutator interface {
	Mutate(ctx context.Context, jobID string, fn func(job *model.Job)) (*model.Job, error)
}

type ScenarioGenerator interface {
	Generate(ctx context.Context, req *model.VideoJobPayload, onAttempt func(attempt int)) (*model.Scenario, error)
}

type AssetGenerator interface {
	Generate(ctx context.Context, jobID string, sc *model.Scenario, voiceID string, onProgress func(service.AssetProgress)) (map[string]model.ShotAsset, error)
	GenerateImages(ctx context.Context, jobID string, sc *model.Scenario, onProgress func(service.AssetProgress)) (map[string]model.ShotAsset, error)
	GenerateNarration(ctx context.Context, jobID string, sc *model.Scenario, voiceID string, images map[string]model.ShotAsset, onProgress func(service.AssetProgress)) (map[string]model.ShotAsset, error)
}

type RenderDispatcher interface {
	Dispatch(ctx context.Context, job service.RenderJob, hooks service.RenderHooks) (string, error)
}

// SupervisorOptions tune a Supervisor.
type SupervisorOptions struct {
	Timeline         timeline.Params
	ScenarioAttempts int
	SplitAssetStages bool
	DefaultLanguage  model.Language
}

// Supervisor drives one job from queued to a terminal status. It is the only
// place stage errors are turned into a failed job.
type Supervisor struct {
	jobs      JobMutator
	scenarios ScenarioGenerator
	assets    AssetGenerator
	renderer  RenderDispatcher
	opts      SupervisorOptions
	log       logger.Logger
}

func NewSupervisor(jobs JobMutator, scenarios ScenarioGenerator, assets AssetGenerator, renderer RenderDispatcher, opts SupervisorOptions, log logger.Logger) *Supervisor {
	if opts.Timeline.FPS <= 0 {
		opts.Timeline = timeline.DefaultParams()
	}
	if opts.ScenarioAttempts < 1 {
		opts.ScenarioAttempts = 3
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = model.LanguageEN
	}
	return &Supervisor{
		jobs:      jobs,
		scenarios: scenarios,
		assets:    assets,
		renderer:  renderer,
		opts:      opts,
		log:       logger.WithComponent(log, "supervisor"),
	}
}

// stageError names the stage a failure came from.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + " failed: " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// Run executes the pipeline. Any error has already been recorded on the job
// when Run returns.
func (s *Supervisor) Run(ctx context.Context, jobID string, payload *model.VideoJobPayload) error {
	log := logger.WithJob(s.log, jobID)
	start := time.Now()

	outputURL, err := s.run(ctx, log, jobID, payload)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("video job failed")
		s.failJob(jobID, err.Error())
		return err
	}

	log.Info().Str("output", outputURL).Dur("elapsed", time.Since(start)).Msg("video job completed")
	return nil
}

func (s *Supervisor) run(ctx context.Context, log logger.Logger, jobID string, payload *model.VideoJobPayload) (string, error) {
	req := *payload
	if req.Language == "" {
		req.Language = s.opts.DefaultLanguage
	}

	// Scenario
	if err := s.advance(ctx, jobID, func(job *model.Job) {
		job.Status = model.JobStatusGeneratingScenario
		job.Progress = progressScenarioStart
		job.Message = "Writing the scenario..."
	}); err != nil {
		return "", err
	}

	sc, err := s.scenarios.Generate(ctx, &req, func(attempt int) {
		s.updateProgress(ctx, log, jobID, func(job *model.Job) {
			job.ScenarioAttempts = attempt
			job.Progress = progressScenarioStart + (progressScenarioEnd-progressScenarioStart)*float64(attempt-1)/float64(s.opts.ScenarioAttempts)
			if attempt > 1 {
				job.Message = fmt.Sprintf("Rewriting the scenario (attempt %d of %d)...", attempt, s.opts.ScenarioAttempts)
			}
		})
	})
	if err != nil {
		return "", &stageError{stage: "Scenario generation", err: err}
	}
	log.Info().Str("title", sc.Title).Int("shots", len(sc.Shots)).Msg("scenario ready")

	// Assets
	assets, err := s.generateAssets(ctx, log, jobID, sc, req.VoiceID)
	if err != nil {
		return "", &stageError{stage: "Asset generation", err: err}
	}

	// Timeline
	plan, err := timeline.Synthesize(sc, assets, s.opts.Timeline)
	if err != nil {
		return "", &stageError{stage: "Timeline synthesis", err: err}
	}
	gap := timeline.GapFrames(s.opts.Timeline.NarrationGapMs, s.opts.Timeline.FPS)
	if violations := timeline.Check(plan, gap); len(violations) > 0 {
		log.Warn().Strs("violations", violations).Msg("render plan breaks timeline invariants")
	}
	for _, shot := range plan.Shots {
		if !shot.AudioMeasured {
			log.Warn().Str("shot_id", shot.ShotID).Msg("narration length unmeasured, shot uses a declared duration")
		}
	}

	// Render
	if err := s.advance(ctx, jobID, func(job *model.Job) {
		job.Status = model.JobStatusRenderingVideo
		job.Progress = progressRenderStart
		job.Message = "Rendering video..."
	}); err != nil {
		return "", err
	}

	outputURL, err := s.renderer.Dispatch(ctx, service.RenderJob{
		JobID: jobID,
		Plan:  plan,
		Style: client.RenderStyle{Title: sc.Title, Tone: sc.Tone, Language: sc.Language},
	}, service.RenderHooks{
		OnSubmitted: func(renderID string) {
			s.updateProgress(ctx, log, jobID, func(job *model.Job) {
				job.RenderID = renderID
			})
		},
		OnProgress: func(fraction float64) {
			s.updateProgress(ctx, log, jobID, func(job *model.Job) {
				job.Progress = progressRenderStart + (1-progressRenderStart)*fraction
				job.Message = fmt.Sprintf("Rendering video (%d%%)...", int(fraction*100))
			})
		},
	})
	if err != nil {
		return "", &stageError{stage: "Rendering", err: err}
	}

	// Done
	if err := s.advance(ctx, jobID, func(job *model.Job) {
		job.Status = model.JobStatusDone
		job.Progress = 1
		job.Message = "Video ready"
		job.OutputURL = &outputURL
	}); err != nil {
		return "", err
	}
	return outputURL, nil
}

func (s *Supervisor) generateAssets(ctx context.Context, log logger.Logger, jobID string, sc *model.Scenario, voiceID string) (map[string]model.ShotAsset, error) {
	total := len(sc.Shots)
	zero := 0

	if err := s.advance(ctx, jobID, func(job *model.Job) {
		job.Status = model.JobStatusGeneratingImages
		job.Progress = progressScenarioEnd
		job.TotalShots = &total
		job.CompletedShots = &zero
		if s.opts.SplitAssetStages {
			job.Message = fmt.Sprintf("Generating images (0/%d)...", total)
		} else {
			job.Message = fmt.Sprintf("Generating images and narration (0/%d)...", total)
		}
	}); err != nil {
		return nil, err
	}

	if !s.opts.SplitAssetStages {
		return s.assets.Generate(ctx, jobID, sc, voiceID, func(p service.AssetProgress) {
			s.updateProgress(ctx, log, jobID, func(job *model.Job) {
				done := p.DoneShots
				job.CompletedShots = &done
				job.Progress = progressScenarioEnd + (progressRenderStart-progressScenarioEnd)*p.Fraction()
				job.Message = fmt.Sprintf("Generating images and narration (%d/%d)...", p.DoneShots, p.TotalShots)
			})
		})
	}

	images, err := s.assets.GenerateImages(ctx, jobID, sc, func(p service.AssetProgress) {
		s.updateProgress(ctx, log, jobID, func(job *model.Job) {
			job.Progress = progressScenarioEnd + (progressNarration-progressScenarioEnd)*p.Fraction()
			job.Message = fmt.Sprintf("Generating images (%d/%d)...", p.DoneShots, p.TotalShots)
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.advance(ctx, jobID, func(job *model.Job) {
		job.Status = model.JobStatusGeneratingNarration
		job.Progress = progressNarration
		job.Message = fmt.Sprintf("Generating narration (0/%d)...", total)
	}); err != nil {
		return nil, err
	}

	return s.assets.GenerateNarration(ctx, jobID, sc, voiceID, images, func(p service.AssetProgress) {
		s.updateProgress(ctx, log, jobID, func(job *model.Job) {
			done := p.DoneShots
			job.CompletedShots = &done
			job.Progress = progressNarration + (progressRenderStart-progressNarration)*p.Fraction()
			job.Message = fmt.Sprintf("Generating narration (%d/%d)...", p.DoneShots, p.TotalShots)
		})
	})
}

// advance applies a stage transition. Failing to record one stops the job.
func (s *Supervisor) advance(ctx context.Context, jobID string, fn func(job *model.Job)) error {
	if _, err := s.jobs.Mutate(ctx, jobID, fn); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// updateProgress records an in-stage update. Errors are only logged.
func (s *Supervisor) updateProgress(ctx context.Context, log logger.Logger, jobID string, fn func(job *model.Job)) {
	if _, err := s.jobs.Mutate(ctx, jobID, fn); err != nil {
		log.Warn().Err(err).Msg("failed to record job progress")
	}
}

func (s *Supervisor) failJob(jobID, msg string) {
	// The job context may already be cancelled; the failure still has to land.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.jobs.Mutate(ctx, jobID, func(job *model.Job) {
		job.Status = model.JobStatusError
		job.Error = &msg
		job.Message = msg
	})
	if err != nil && !errors.Is(err, service.ErrJobTerminal) {
		log := logger.WithJob(s.log, jobID)
		log.Error().Err(err).Msg("failed to record job failure")
	}
}

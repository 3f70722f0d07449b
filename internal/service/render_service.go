package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reelsmith/api/internal/client"
	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/retry"
)

// ErrRenderTimeout is returned when a render does not finish within MaxWait.
var ErrRenderTimeout = errors.New("render did not finish in time")

// RenderOptions tune the render dispatcher.
type RenderOptions struct {
	Composition  string
	Width        int
	Height       int
	Concurrency  int
	PollInterval time.Duration
	MaxWait      time.Duration
	Retry        retry.Policy
}

// RenderJob is what one dispatch renders.
type RenderJob struct {
	JobID string
	Plan  *model.RenderPlan
	Style client.RenderStyle
}

// RenderHooks observe a dispatch. Both are optional.
type RenderHooks struct {
	OnSubmitted func(renderID string)
	// OnProgress receives the backend's fraction, clamped to [0,1] and never decreasing.
	OnProgress func(fraction float64)
}

// RenderService submits render plans and polls them to completion.
type RenderService struct {
	backend client.RenderBackend
	opts    RenderOptions
	log     logger.Logger
}

// NewRenderService creates a render dispatcher.
func NewRenderService(backend client.RenderBackend, opts RenderOptions, log logger.Logger) *RenderService {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 1500 * time.Millisecond
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 20 * time.Minute
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1080, 1920
	}
	return &RenderService{
		backend: backend,
		opts:    opts,
		log:     logger.WithComponent(log, "render"),
	}
}

// Dispatch renders job.Plan and returns the output URL.
func (s *RenderService) Dispatch(ctx context.Context, job RenderJob, hooks RenderHooks) (string, error) {
	if job.Plan == nil {
		return "", fmt.Errorf("render: no plan")
	}
	log := logger.WithJob(s.log, job.JobID)

	ctx, cancel := context.WithTimeout(ctx, s.opts.MaxWait)
	defer cancel()

	req := &client.RenderRequest{
		Composition: s.opts.Composition,
		Width:       s.opts.Width,
		Height:      s.opts.Height,
		Concurrency: s.opts.Concurrency,
		Plan:        job.Plan,
		Style:       job.Style,
		OutputKey:   fmt.Sprintf("jobs/%s/video.mp4", job.JobID),
	}

	submission, err := s.submit(ctx, req)
	if err != nil && retry.Classify(err) == retry.KindConcurrencyLimit {
		log.Warn().Err(err).Msg("render farm at concurrency limit, resubmitting with concurrency 1")
		degraded := *req
		degraded.Concurrency = 1
		submission, err = s.submit(ctx, &degraded)
	}
	if err != nil {
		return "", s.timeoutOr(ctx, fmt.Errorf("render submission failed: %w", err))
	}

	log.Info().
		Str("render_id", submission.RenderID).
		Int("frames", job.Plan.TotalFrames).
		Msg("render submitted")
	if hooks.OnSubmitted != nil {
		hooks.OnSubmitted(submission.RenderID)
	}

	return s.poll(ctx, job.JobID, submission.RenderID, hooks.OnProgress)
}

func (s *RenderService) submit(ctx context.Context, req *client.RenderRequest) (*client.RenderSubmission, error) {
	var submission *client.RenderSubmission
	err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
		sub, err := s.backend.Submit(ctx, req)
		if err != nil {
			return err
		}
		submission = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	if submission == nil || submission.RenderID == "" {
		return nil, fmt.Errorf("render farm returned no render id")
	}
	return submission, nil
}

func (s *RenderService) poll(ctx context.Context, jobID, renderID string, onProgress func(float64)) (string, error) {
	log := logger.WithJob(s.log, jobID)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	reported := 0.0
	for {
		select {
		case <-ctx.Done():
			return "", s.timeoutOr(ctx, ctx.Err())
		case <-ticker.C:
		}

		var progress *client.RenderProgress
		err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
			p, err := s.backend.Progress(ctx, renderID)
			if err != nil {
				return err
			}
			progress = p
			return nil
		})
		if err != nil {
			return "", s.timeoutOr(ctx, fmt.Errorf("render progress failed: %w", err))
		}

		if progress.Fatal {
			msg := strings.Join(progress.Errors, "; ")
			if msg == "" {
				msg = "render farm reported a fatal error"
			}
			return "", fmt.Errorf("render failed: %s", msg)
		}

		fraction := min(max(progress.OverallProgress, 0), 1)
		if fraction > reported {
			reported = fraction
			if onProgress != nil {
				onProgress(reported)
			}
		}

		if progress.Done {
			if progress.OutputURL == "" {
				return "", fmt.Errorf("render finished without an output file")
			}
			log.Info().Str("render_id", renderID).Str("output", progress.OutputURL).Msg("render finished")
			return progress.OutputURL, nil
		}
	}
}

// timeoutOr reports ErrRenderTimeout when the overall wait ran out, and err otherwise.
func (s *RenderService) timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrRenderTimeout, s.opts.MaxWait)
	}
	return err
}

package service

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reelsmith/api/internal/client"
	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/media"
	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/pool"
	"github.com/reelsmith/api/internal/retry"
)

// AssetProgress is reported after every finished sub-task.
type AssetProgress struct {
	DoneTasks  int
	TotalTasks int
	DoneShots  int
	TotalShots int
}

// Fraction is the share of finished sub-tasks.
func (p AssetProgress) Fraction() float64 {
	if p.TotalTasks == 0 {
		return 1
	}
	return float64(p.DoneTasks) / float64(p.TotalTasks)
}

// AssetOptions tune asset generation.
type AssetOptions struct {
	Concurrency    int
	Retry          retry.Policy
	DefaultVoiceID string
	// StepTimeout bounds a single generation call including its upload.
	StepTimeout time.Duration
}

// AssetService generates the image and narration of every shot and
// publishes them to the blob store.
type AssetService struct {
	images  client.ImageGenerator
	speech  client.SpeechGenerator
	storage client.StorageClient
	prober  *media.Prober
	opts    AssetOptions
	log     logger.Logger
}

// NewAssetService creates an asset service.
func NewAssetService(images client.ImageGenerator, speech client.SpeechGenerator, storage client.StorageClient, prober *media.Prober, opts AssetOptions, log logger.Logger) *AssetService {
	if opts.Concurrency < 1 {
		opts.Concurrency = 3
	}
	return &AssetService{
		images:  images,
		speech:  speech,
		storage: storage,
		prober:  prober,
		opts:    opts,
		log:     logger.WithComponent(log, "assets"),
	}
}

type imageAsset struct {
	url string
	key string
}

type narrationAsset struct {
	url      string
	key      string
	bytes    int
	duration float64
}

type indexedShot struct {
	index int
	shot  model.Shot
}

func indexShots(sc *model.Scenario) []indexedShot {
	items := make([]indexedShot, len(sc.Shots))
	for i, shot := range sc.Shots {
		items[i] = indexedShot{index: i, shot: shot}
	}
	return items
}

// uploads tracks what a call has published so it can be withdrawn on failure.
type uploads struct {
	mu   sync.Mutex
	keys []string
}

func (u *uploads) add(key string) {
	u.mu.Lock()
	u.keys = append(u.keys, key)
	u.mu.Unlock()
}

// progressCounter serializes progress callbacks so counts only grow.
type progressCounter struct {
	mu       sync.Mutex
	progress AssetProgress
	perShot  map[int]int
	perShotN int
	report   func(AssetProgress)
}

func newProgressCounter(shots, tasksPerShot int, report func(AssetProgress)) *progressCounter {
	return &progressCounter{
		progress: AssetProgress{TotalTasks: shots * tasksPerShot, TotalShots: shots},
		perShot:  make(map[int]int, shots),
		perShotN: tasksPerShot,
		report:   report,
	}
}

func (c *progressCounter) taskDone(shot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress.DoneTasks++
	c.perShot[shot]++
	if c.perShot[shot] == c.perShotN {
		c.progress.DoneShots++
	}
	if c.report != nil {
		c.report(c.progress)
	}
}

// Generate runs the image and narration tasks of every shot, the two tasks of
// a shot concurrently and at most Concurrency shots at once. The returned map
// is keyed by shot id and only returned when every task succeeded.
func (s *AssetService) Generate(ctx context.Context, jobID string, sc *model.Scenario, voiceID string, onProgress func(AssetProgress)) (map[string]model.ShotAsset, error) {
	log := logger.WithJob(s.log, jobID)
	published := &uploads{}
	counter := newProgressCounter(len(sc.Shots), 2, onProgress)

	// Retries happen per sub-task so a failed narration does not redo its image.
	results, err := pool.Run(ctx, indexShots(sc), pool.Options{
		Limit: s.opts.Concurrency,
		Label: func(i int) string { return fmt.Sprintf("shot %s", sc.Shots[i].ID) },
	}, func(ctx context.Context, item indexedShot) (model.ShotAsset, error) {
		var (
			img imageAsset
			nar narrationAsset
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			img, err = s.imageTask(gctx, jobID, item, published)
			if err == nil {
				counter.taskDone(item.index)
			}
			return err
		})
		g.Go(func() error {
			var err error
			nar, err = s.narrationTask(gctx, jobID, item, voiceID, published)
			if err == nil {
				counter.taskDone(item.index)
			}
			return err
		})
		if err := g.Wait(); err != nil {
			return model.ShotAsset{}, err
		}
		return shotAsset(item.shot.ID, img, nar), nil
	})
	if err != nil {
		s.withdraw(jobID, published)
		return nil, err
	}

	assets := make(map[string]model.ShotAsset, len(results))
	for _, a := range results {
		assets[a.ShotID] = a
	}
	log.Info().Int("shots", len(assets)).Msg("assets generated")
	return assets, nil
}

// GenerateImages runs only the image task of every shot.
func (s *AssetService) GenerateImages(ctx context.Context, jobID string, sc *model.Scenario, onProgress func(AssetProgress)) (map[string]model.ShotAsset, error) {
	published := &uploads{}
	counter := newProgressCounter(len(sc.Shots), 1, onProgress)

	results, err := pool.Run(ctx, indexShots(sc), pool.Options{
		Limit: s.opts.Concurrency,
		Retry: s.opts.Retry,
		Label: func(i int) string { return fmt.Sprintf("image for shot %s", sc.Shots[i].ID) },
	}, func(ctx context.Context, item indexedShot) (model.ShotAsset, error) {
		img, err := s.generateImage(ctx, jobID, item, published)
		if err != nil {
			return model.ShotAsset{}, err
		}
		counter.taskDone(item.index)
		return model.ShotAsset{ShotID: item.shot.ID, ImageURL: img.url}, nil
	})
	if err != nil {
		s.withdraw(jobID, published)
		return nil, err
	}

	assets := make(map[string]model.ShotAsset, len(results))
	for _, a := range results {
		assets[a.ShotID] = a
	}
	return assets, nil
}

// GenerateNarration runs only the narration task of every shot and merges the
// result into images. images is not modified.
func (s *AssetService) GenerateNarration(ctx context.Context, jobID string, sc *model.Scenario, voiceID string, images map[string]model.ShotAsset, onProgress func(AssetProgress)) (map[string]model.ShotAsset, error) {
	published := &uploads{}
	counter := newProgressCounter(len(sc.Shots), 1, onProgress)

	results, err := pool.Run(ctx, indexShots(sc), pool.Options{
		Limit: s.opts.Concurrency,
		Retry: s.opts.Retry,
		Label: func(i int) string { return fmt.Sprintf("narration for shot %s", sc.Shots[i].ID) },
	}, func(ctx context.Context, item indexedShot) (narrationAsset, error) {
		nar, err := s.generateNarration(ctx, jobID, item, voiceID, published)
		if err != nil {
			return narrationAsset{}, err
		}
		counter.taskDone(item.index)
		return nar, nil
	})
	if err != nil {
		s.withdraw(jobID, published)
		return nil, err
	}

	assets := make(map[string]model.ShotAsset, len(results))
	for i, nar := range results {
		id := sc.Shots[i].ID
		assets[id] = shotAsset(id, imageAsset{url: images[id].ImageURL}, nar)
	}
	return assets, nil
}

func shotAsset(shotID string, img imageAsset, nar narrationAsset) model.ShotAsset {
	return model.ShotAsset{
		ShotID:           shotID,
		ImageURL:         img.url,
		AudioURL:         nar.url,
		AudioBytes:       nar.bytes,
		AudioDurationSec: nar.duration,
	}
}

func (s *AssetService) imageTask(ctx context.Context, jobID string, item indexedShot, published *uploads) (imageAsset, error) {
	var img imageAsset
	err := retry.Do(ctx, s.retryPolicy(jobID, item.shot.ID, "image"), func(ctx context.Context) error {
		var err error
		img, err = s.generateImage(ctx, jobID, item, published)
		return err
	})
	if err != nil {
		return imageAsset{}, fmt.Errorf("image: %w", err)
	}
	return img, nil
}

func (s *AssetService) narrationTask(ctx context.Context, jobID string, item indexedShot, voiceID string, published *uploads) (narrationAsset, error) {
	var nar narrationAsset
	err := retry.Do(ctx, s.retryPolicy(jobID, item.shot.ID, "narration"), func(ctx context.Context) error {
		var err error
		nar, err = s.generateNarration(ctx, jobID, item, voiceID, published)
		return err
	})
	if err != nil {
		return narrationAsset{}, fmt.Errorf("narration: %w", err)
	}
	return nar, nil
}

func (s *AssetService) retryPolicy(jobID, shotID, task string) retry.Policy {
	p := s.opts.Retry
	log := logger.WithJob(s.log, jobID)
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn().
			Err(err).
			Str("shot_id", shotID).
			Str("task", task).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying asset task")
	}
	return p
}

func (s *AssetService) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.StepTimeout)
}

func (s *AssetService) generateImage(ctx context.Context, jobID string, item indexedShot, published *uploads) (imageAsset, error) {
	ctx, cancel := s.stepContext(ctx)
	defer cancel()

	generated, err := s.images.GenerateImage(ctx, item.shot.ImagePrompt)
	if err != nil {
		return imageAsset{}, err
	}

	data, contentType := generated.Data, generated.ContentType
	if len(data) == 0 && generated.URL != "" {
		data, contentType, err = s.images.Download(ctx, generated.URL)
		if err != nil {
			return imageAsset{}, err
		}
	}
	if len(data) == 0 {
		return imageAsset{}, fmt.Errorf("image generator returned no data")
	}
	if contentType == "" {
		contentType = "image/png"
	}

	key := shotKey(jobID, item, "image"+extensionFor(contentType, ".png"))
	url, err := s.storage.Upload(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		return imageAsset{}, fmt.Errorf("failed to upload image: %w", err)
	}
	published.add(key)
	return imageAsset{url: url, key: key}, nil
}

func (s *AssetService) generateNarration(ctx context.Context, jobID string, item indexedShot, voiceID string, published *uploads) (narrationAsset, error) {
	ctx, cancel := s.stepContext(ctx)
	defer cancel()

	if voiceID == "" {
		voiceID = s.opts.DefaultVoiceID
	}

	settings := client.VoiceSettingsFor(item.shot.Direction)
	audio, err := s.speech.Synthesize(ctx, item.shot.Narration, voiceID, settings)
	if err != nil {
		return narrationAsset{}, err
	}
	if len(audio.Data) == 0 {
		return narrationAsset{}, fmt.Errorf("speech generator returned no audio")
	}
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	duration, err := s.prober.Duration(ctx, audio.Data, contentType)
	if err != nil {
		// The timeline falls back to declared durations for unmeasured clips.
		log := logger.WithJob(s.log, jobID)
		log.Warn().
			Err(err).
			Str("shot_id", item.shot.ID).
			Msg("could not measure narration duration")
		duration = 0
	}

	key := shotKey(jobID, item, "narration"+extensionFor(contentType, ".mp3"))
	url, err := s.storage.Upload(ctx, key, bytes.NewReader(audio.Data), contentType)
	if err != nil {
		return narrationAsset{}, fmt.Errorf("failed to upload narration: %w", err)
	}
	published.add(key)

	return narrationAsset{url: url, key: key, bytes: len(audio.Data), duration: duration}, nil
}

// withdraw deletes what a failed call already published. Failures are logged only.
func (s *AssetService) withdraw(jobID string, published *uploads) {
	published.mu.Lock()
	keys := append([]string(nil), published.keys...)
	published.mu.Unlock()
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log := logger.WithJob(s.log, jobID)
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to delete orphaned asset")
		}
	}
	log.Info().Int("count", len(keys)).Msg("withdrew assets of failed generation")
}

func shotKey(jobID string, item indexedShot, name string) string {
	return fmt.Sprintf("jobs/%s/shots/%d-%s/%s", jobID, item.index, sanitizeSegment(item.shot.ID), name)
}

func sanitizeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

var preferredExtensions = map[string]string{
	"image/png":   ".png",
	"image/jpeg":  ".jpg",
	"image/webp":  ".webp",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/wave":  ".wav",
}

func extensionFor(contentType, fallback string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fallback
	}
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return exts[0]
	}
	return fallback
}

package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/reelsmith/api/internal/client"
	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/media"
	"github.com/reelsmith/api/internal/retry"
)

// memoryStorage is a StorageClient backed by a map.
type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (m *memoryStorage) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return m.GetPublicURL(key), nil
}

func (m *memoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memoryStorage) GetPublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func (m *memoryStorage) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

// flakyImages fails the first failures calls for every prompt with a rate limit.
type flakyImages struct {
	mu       sync.Mutex
	failures int
	calls    map[string]int
	hosted   bool
	fatal    string
}

func (f *flakyImages) GenerateImage(ctx context.Context, prompt string) (*client.GeneratedImage, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[prompt]++
	n := f.calls[prompt]
	f.mu.Unlock()

	if f.fatal != "" && strings.Contains(prompt, f.fatal) {
		return nil, &client.APIError{Service: "image", StatusCode: 400, Body: "content policy", Kind: retry.KindPermanent}
	}
	if n <= f.failures {
		return nil, &client.APIError{Service: "image", StatusCode: 429, Kind: retry.KindRateLimited}
	}
	if f.hosted {
		return &client.GeneratedImage{URL: "https://images.example.com/" + prompt}, nil
	}
	return MockImageGenerator{}.GenerateImage(ctx, prompt)
}

func (f *flakyImages) Download(_ context.Context, url string) ([]byte, string, error) {
	return []byte("jpeg:" + url), "image/jpeg", nil
}

func (f *flakyImages) callsFor(prompt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[prompt]
}

type recordingSpeech struct {
	mu       sync.Mutex
	settings map[string]client.VoiceSettings
	voices   []string
}

func (r *recordingSpeech) Synthesize(ctx context.Context, text, voiceID string, settings client.VoiceSettings) (*client.SpeechAudio, error) {
	r.mu.Lock()
	if r.settings == nil {
		r.settings = make(map[string]client.VoiceSettings)
	}
	r.settings[text] = settings
	r.voices = append(r.voices, voiceID)
	r.mu.Unlock()
	return MockSpeechGenerator{}.Synthesize(ctx, text, voiceID, client.VoiceSettings{Speed: 1})
}

func newAssetService(images client.ImageGenerator, speech client.SpeechGenerator, storage client.StorageClient) *AssetService {
	return NewAssetService(images, speech, storage, &media.Prober{}, AssetOptions{
		Concurrency:    3,
		Retry:          testRetry(),
		DefaultVoiceID: "default-voice",
	}, logger.Nop())
}

func TestAssetService_Generate(t *testing.T) {
	sc := testScenario(5)
	storage := newMemoryStorage()
	speech := &recordingSpeech{}
	s := newAssetService(&flakyImages{}, speech, storage)

	var (
		mu      sync.Mutex
		reports []AssetProgress
	)
	assets, err := s.Generate(context.Background(), "job-1", &sc, "", func(p AssetProgress) {
		mu.Lock()
		reports = append(reports, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(assets) != 5 {
		t.Fatalf("expected 5 assets, got %d", len(assets))
	}

	for i, shot := range sc.Shots {
		a, ok := assets[shot.ID]
		if !ok {
			t.Fatalf("missing asset for %s", shot.ID)
		}
		prefix := fmt.Sprintf("https://cdn.example.com/jobs/job-1/shots/%d-%s/", i, shot.ID)
		if a.ImageURL != prefix+"image.png" {
			t.Errorf("unexpected image url %s", a.ImageURL)
		}
		if a.AudioURL != prefix+"narration.wav" {
			t.Errorf("unexpected audio url %s", a.AudioURL)
		}
		// 4 words at 2.5 words/s, floored at 1s.
		if math.Abs(a.AudioDurationSec-1.6) > 1e-3 {
			t.Errorf("expected measured duration 1.6s, got %v", a.AudioDurationSec)
		}
		if a.AudioBytes == 0 {
			t.Error("expected audio byte count")
		}
	}

	if len(reports) != 10 {
		t.Fatalf("expected 10 progress reports, got %d", len(reports))
	}
	for i, p := range reports {
		if p.DoneTasks != i+1 || p.TotalTasks != 10 {
			t.Errorf("report %d: unexpected %+v", i, p)
		}
	}
	if last := reports[len(reports)-1]; last.DoneShots != 5 || last.Fraction() != 1 {
		t.Errorf("unexpected final report %+v", last)
	}

	for _, v := range speech.voices {
		if v != "default-voice" {
			t.Errorf("expected default voice, got %q", v)
		}
	}
	if len(speech.settings) != 5 {
		t.Errorf("expected settings per narration, got %d", len(speech.settings))
	}
}

func TestAssetService_RetriesRateLimit(t *testing.T) {
	sc := testScenario(2)
	images := &flakyImages{failures: 2}
	s := newAssetService(images, &recordingSpeech{}, newMemoryStorage())

	if _, err := s.Generate(context.Background(), "job-2", &sc, "voice", nil); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	for _, shot := range sc.Shots {
		if n := images.callsFor(shot.ImagePrompt); n != 3 {
			t.Errorf("expected 3 attempts for %s, got %d", shot.ID, n)
		}
	}
}

func TestAssetService_RetryBound(t *testing.T) {
	sc := testScenario(1)
	images := &flakyImages{failures: 10}
	s := newAssetService(images, &recordingSpeech{}, newMemoryStorage())

	_, err := s.Generate(context.Background(), "job-3", &sc, "voice", nil)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 429 {
		t.Fatalf("expected the rate limit error, got %v", err)
	}
	if n := images.callsFor(sc.Shots[0].ImagePrompt); n != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", n)
	}
}

func TestAssetService_FailureWithdrawsUploads(t *testing.T) {
	sc := testScenario(4)
	storage := newMemoryStorage()
	images := &flakyImages{fatal: "Image 4"}
	s := newAssetService(images, &recordingSpeech{}, storage)

	assets, err := s.Generate(context.Background(), "job-4", &sc, "voice", nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if assets != nil {
		t.Error("no partial result may be returned")
	}
	if !strings.Contains(err.Error(), "shot s4") {
		t.Errorf("error should name the shot, got %v", err)
	}
	if n := images.callsFor("Image 4"); n != 1 {
		t.Errorf("permanent errors must not be retried, got %d calls", n)
	}
	if keys := storage.keys(); len(keys) != 0 {
		t.Errorf("expected uploads to be withdrawn, still have %v", keys)
	}
}

func TestAssetService_HostedImageIsRehosted(t *testing.T) {
	sc := testScenario(1)
	storage := newMemoryStorage()
	s := newAssetService(&flakyImages{hosted: true}, &recordingSpeech{}, storage)

	assets, err := s.Generate(context.Background(), "job-5", &sc, "voice", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	a := assets["s1"]
	if !strings.HasSuffix(a.ImageURL, "/jobs/job-5/shots/0-s1/image.jpg") {
		t.Errorf("expected re-hosted jpeg, got %s", a.ImageURL)
	}
	if !bytes.HasPrefix(storage.objects["jobs/job-5/shots/0-s1/image.jpg"], []byte("jpeg:")) {
		t.Error("expected downloaded bytes in storage")
	}
}

func TestAssetService_SplitStages(t *testing.T) {
	sc := testScenario(3)
	s := newAssetService(&flakyImages{}, &recordingSpeech{}, newMemoryStorage())
	ctx := context.Background()

	var imageReports int
	images, err := s.GenerateImages(ctx, "job-6", &sc, func(p AssetProgress) {
		imageReports++
		if p.TotalTasks != 3 {
			t.Errorf("expected 3 image tasks, got %d", p.TotalTasks)
		}
	})
	if err != nil {
		t.Fatalf("images: %v", err)
	}
	if imageReports != 3 {
		t.Errorf("expected 3 image reports, got %d", imageReports)
	}

	assets, err := s.GenerateNarration(ctx, "job-6", &sc, "voice", images, nil)
	if err != nil {
		t.Fatalf("narration: %v", err)
	}
	for _, shot := range sc.Shots {
		a := assets[shot.ID]
		if a.ImageURL == "" || a.AudioURL == "" || a.AudioDurationSec <= 0 {
			t.Errorf("incomplete asset for %s: %+v", shot.ID, a)
		}
		if images[shot.ID].AudioURL != "" {
			t.Error("image map must not be modified")
		}
	}
}

type opaqueSpeech struct{}

func (opaqueSpeech) Synthesize(context.Context, string, string, client.VoiceSettings) (*client.SpeechAudio, error) {
	return &client.SpeechAudio{Data: []byte("not really audio"), ContentType: "audio/mpeg"}, nil
}

func TestAssetService_UnmeasuredNarration(t *testing.T) {
	sc := testScenario(2)
	storage := newMemoryStorage()
	s := newAssetService(&flakyImages{}, opaqueSpeech{}, storage)

	assets, err := s.Generate(context.Background(), "job-7", &sc, "voice", nil)
	if err != nil {
		t.Fatalf("an unreadable clip must not fail the job, got %v", err)
	}
	for _, shot := range sc.Shots {
		a := assets[shot.ID]
		if a.AudioDurationSec != 0 {
			t.Errorf("expected unmeasured duration for %s, got %v", shot.ID, a.AudioDurationSec)
		}
		if !strings.HasSuffix(a.AudioURL, "/narration.mp3") {
			t.Errorf("expected the clip to be uploaded, got %q", a.AudioURL)
		}
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"image/png", ".png"},
		{"image/jpeg", ".jpg"},
		{"audio/mpeg", ".mp3"},
		{"audio/wav; codecs=1", ".wav"},
		{"", ".bin"},
	}
	for _, tt := range tests {
		if got := extensionFor(tt.contentType, ".bin"); got != tt.want {
			t.Errorf("extensionFor(%q) = %q, want %q", tt.contentType, got, tt.want)
		}
	}
}

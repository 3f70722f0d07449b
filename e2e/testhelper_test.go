package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/reelsmith/api/internal/auth"
	"github.com/reelsmith/api/internal/client"
	"github.com/reelsmith/api/internal/config"
	"github.com/reelsmith/api/internal/handler"
	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/media"
	"github.com/reelsmith/api/internal/middleware"
	"github.com/reelsmith/api/internal/retry"
	"github.com/reelsmith/api/internal/scenario"
	"github.com/reelsmith/api/internal/service"
	"github.com/reelsmith/api/internal/store"
	"github.com/reelsmith/api/internal/timeline"
	ws "github.com/reelsmith/api/internal/websocket"
	"github.com/reelsmith/api/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

// inlineQueue hands tasks straight to the worker instead of going through
// Redis.
type inlineQueue struct {
	worker *worker.PipelineWorker
	wg     sync.WaitGroup
}

func (q *inlineQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		_ = q.worker.ProcessTask(context.Background(), task)
	}()
	return &asynq.TaskInfo{ID: "inline", Queue: service.QueueVideo}, nil
}

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	queue *inlineQueue
}

// components are the services a test app is assembled from.
type components struct {
	jobs     *service.JobService
	hub      *ws.Hub
	auth     *auth.Authenticator
	limiter  *middleware.RateLimiter
	params   timeline.Params
	services fiber.Map
}

// setupApp creates a Fiber app wired like main.go with unconfigured external
// clients, an in-memory job store and the filesystem blob store. Every
// provider falls back to its mock.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	log := logger.Nop()

	storage, err := client.NewLocalStorage(&config.StorageConfig{
		LocalDir:  t.TempDir(),
		PublicURL: "http://localhost:8000/assets",
	})
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}

	policy := retry.DefaultPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	params := timeline.DefaultParams()

	queue := &inlineQueue{}
	hub := ws.NewHub(log)
	go hub.Run()

	jobs := service.NewJobService(store.NewMemoryStore(), queue, hub, time.Hour, log)
	scenarios := service.NewScenarioService(client.NewGroqClient(&config.GroqConfig{}, log), scenario.New(), service.ScenarioOptions{Retry: policy}, log)
	assets := service.NewAssetService(service.MockImageGenerator{}, service.MockSpeechGenerator{}, storage, &media.Prober{},
		service.AssetOptions{Concurrency: 3, Retry: policy, DefaultVoiceID: "test-voice"}, log)
	renderer := service.NewRenderService(&service.MockRenderBackend{OutputBaseURL: "http://localhost:8000/assets", Steps: 2},
		service.RenderOptions{PollInterval: 5 * time.Millisecond, MaxWait: time.Minute, Retry: policy}, log)
	supervisor := worker.NewSupervisor(jobs, scenarios, assets, renderer, worker.SupervisorOptions{Timeline: params}, log)
	queue.worker = worker.NewPipelineWorker(supervisor, log)
	t.Cleanup(queue.wg.Wait)

	app := buildApp(components{
		jobs:    jobs,
		hub:     hub,
		auth:    auth.NewAuthenticator(nil, testJWTSecret),
		limiter: middleware.NewRateLimiter(nil, log),
		params:  params,
		services: fiber.Map{
			"groq":   false,
			"image":  false,
			"speech": false,
			"render": false,
			"r2":     false,
			"store":  "memory",
			"auth":   true,
		},
	})

	return &testApp{app: app, queue: queue}
}

// buildApp mounts the same routes as main.go.
func buildApp(c components) *fiber.App {
	scenarios := scenario.New()
	validate := scenario.NewStructValidator()

	videoHandler := handler.NewVideoHandler(c.jobs, c.hub, validate)
	scenarioHandler := handler.NewScenarioHandler(scenarios, validate)
	timelineHandler := handler.NewTimelineHandler(scenarios, validate, c.params)
	authHandler := handler.NewAuthHandler(c.auth)

	app := fiber.New()

	app.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"status": "ok", "services": c.services})
	})
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", middleware.Authenticate(c.auth))

	// Use very high rate limits so tests don't get blocked
	videos := api.Group("/videos")
	videos.Post("/", c.limiter.VideoLimit(10000), videoHandler.Create)
	videos.Get("/:jobId", videoHandler.Get)

	tooling := c.limiter.ToolingLimit(10000)
	api.Post("/scenarios/validate", tooling, scenarioHandler.Validate)
	api.Post("/timeline/preview", tooling, timelineHandler.Preview)

	app.Get("/ws/jobs/:jobId", websocket.New(videoHandler.Stream))

	return app
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateLegacyToken("test-user-123", "test@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// waitForJob polls GET /api/videos/:jobId until the job is terminal.
func waitForJob(t *testing.T, app *fiber.App, jobID string, timeout time.Duration) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		resp, err := doAuthRequest(t, app, http.MethodGet, "/api/videos/"+jobID, "")
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		job := parseJSON(t, resp)
		if job["status"] == "done" || job["status"] == "error" {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s not finished after %s, last status %v", jobID, timeout, job["status"])
		}
		time.Sleep(20 * time.Millisecond)
	}
}

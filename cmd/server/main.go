package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/reelsmith/api/internal/auth"
	"github.com/reelsmith/api/internal/client"
	"github.com/reelsmith/api/internal/config"
	"github.com/reelsmith/api/internal/handler"
	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/internal/media"
	"github.com/reelsmith/api/internal/middleware"
	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/retry"
	"github.com/reelsmith/api/internal/scenario"
	"github.com/reelsmith/api/internal/service"
	"github.com/reelsmith/api/internal/store"
	"github.com/reelsmith/api/internal/timeline"
	ws "github.com/reelsmith/api/internal/websocket"
	"github.com/reelsmith/api/internal/worker"
	"github.com/reelsmith/api/pkg/response"
)

// @title          Reelsmith API
// @version        1.0
// @description    Turns a piece of text into a narrated vertical video.
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not available")
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Job store
	jobStore, closeStore, err := openJobStore(cfg, redisClient, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open job store")
	}
	defer closeStore()

	// Blob store
	storage, localDir := openStorage(cfg, log)

	// Validators
	scenarios := scenario.New()
	validate := scenario.NewStructValidator()

	// WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run()

	// External capabilities, each replaced by a mock when not configured
	groqClient := client.NewGroqClient(&cfg.Groq, log)
	imageClient := client.NewImageClient(&cfg.Image, log)
	speechClient := client.NewSpeechClient(&cfg.Speech, log)
	renderClient := client.NewRenderClient(&cfg.Render, log)

	var images client.ImageGenerator = imageClient
	if !imageClient.IsConfigured() {
		log.Info().Msg("image provider not configured, using mock images")
		images = service.MockImageGenerator{}
	}
	var speech client.SpeechGenerator = speechClient
	if !speechClient.IsConfigured() {
		log.Info().Msg("speech provider not configured, using mock narration")
		speech = service.MockSpeechGenerator{}
	}
	var renderer client.RenderBackend = renderClient
	if !renderClient.IsConfigured() {
		log.Info().Msg("render backend not configured, using mock renderer")
		renderer = &service.MockRenderBackend{OutputBaseURL: strings.TrimRight(storage.GetPublicURL(""), "/")}
	}
	if !groqClient.IsConfigured() {
		log.Info().Msg("text model not configured, using mock scenarios")
	}

	policy := retryPolicy(cfg.Retry)
	params := timelineParams(cfg.Timeline)

	// Services
	jobService := service.NewJobService(jobStore, asynqClient, hub, cfg.Store.TTL, log)
	jobService.SetTaskTimeout(cfg.Pipeline.JobTimeout)
	if cfg.Pipeline.JobTimeout > 0 && cfg.Pipeline.JobTimeout <= cfg.Render.MaxWait {
		log.Warn().
			Dur("job_timeout", cfg.Pipeline.JobTimeout).
			Dur("render_max_wait", cfg.Render.MaxWait).
			Msg("job timeout does not leave room beyond the render wait")
	}
	scenarioService := service.NewScenarioService(groqClient, scenarios, service.ScenarioOptions{
		TargetShots: cfg.Pipeline.TargetShots,
		Attempts:    cfg.Pipeline.ScenarioAttempts,
		Retry:       policy,
	}, log)
	assetService := service.NewAssetService(images, speech, storage, &media.Prober{FFProbePath: cfg.Media.FFProbePath}, service.AssetOptions{
		Concurrency:    cfg.Pipeline.AssetConcurrency,
		Retry:          policy,
		DefaultVoiceID: cfg.Pipeline.DefaultVoiceID,
		StepTimeout:    cfg.Pipeline.StepTimeout,
	}, log)
	renderService := service.NewRenderService(renderer, service.RenderOptions{
		Composition:  cfg.Render.Composition,
		Width:        cfg.Render.Width,
		Height:       cfg.Render.Height,
		Concurrency:  cfg.Render.Concurrency,
		PollInterval: cfg.Render.PollInterval,
		MaxWait:      cfg.Render.MaxWait,
		Retry:        policy,
	}, log)
	supervisor := worker.NewSupervisor(jobService, scenarioService, assetService, renderService, worker.SupervisorOptions{
		Timeline:         params,
		ScenarioAttempts: cfg.Pipeline.ScenarioAttempts,
		SplitAssetStages: cfg.Pipeline.SplitAssetStages,
		DefaultLanguage:  model.Language(cfg.Pipeline.DefaultLanguage),
	}, log)

	// Handlers
	videoHandler := handler.NewVideoHandler(jobService, hub, validate)
	scenarioHandler := handler.NewScenarioHandler(scenarios, validate)
	timelineHandler := handler.NewTimelineHandler(scenarios, validate, params)

	// Auth: Zitadel JWKS first, shared HMAC secret second
	var tokenVerifier auth.TokenVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Warn().Err(err).Msg("JWKS verifier not initialized")
		} else {
			defer jwksVerifier.Close()
			tokenVerifier = jwksVerifier
		}
	}
	authenticator := auth.NewAuthenticator(tokenVerifier, cfg.JWT.Secret)
	authHandler := handler.NewAuthHandler(authenticator)

	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Info().Msg("gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.Authenticate(authenticator)
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    2 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"groq":   groqClient.IsConfigured(),
				"image":  imageClient.IsConfigured(),
				"speech": speechClient.IsConfigured(),
				"render": renderClient.IsConfigured(),
				"r2":     localDir == "",
				"store":  cfg.Store.Driver,
				"auth":   authenticator.Configured(),
			},
		})
	})

	// Generated assets when running on the filesystem fallback
	if localDir != "" {
		app.Static("/assets", localDir)
	}

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", apiAuthMiddleware)

	videos := api.Group("/videos")
	videos.Post("/", rateLimiter.VideoLimit(cfg.RateLimit.VideosPerHour), videoHandler.Create)
	videos.Get("/:jobId", videoHandler.Get)

	tooling := rateLimiter.ToolingLimit(cfg.RateLimit.ToolingPerMin)
	api.Post("/scenarios/validate", tooling, scenarioHandler.Validate)
	api.Post("/timeline/preview", tooling, timelineHandler.Preview)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(videoHandler.Stream))

	// Start Asynq worker server
	srv := newWorkerServer(cfg, redisOpt, log)
	mux := asynq.NewServeMux()
	mux.Handle(service.TaskTypeVideo, worker.NewPipelineWorker(supervisor, log))
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Error().Err(err).Msg("asynq worker stopped")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		srv.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

// openJobStore picks the job store driver. The returned func releases it.
func openJobStore(cfg *config.Config, redisClient *redis.Client, log logger.Logger) (store.JobStore, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Store.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "memory":
		log.Warn().Msg("in-memory job store, jobs are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	case "redis", "":
		return store.NewRedisStore(redisClient, cfg.Store.TTL), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown job store driver %q", cfg.Store.Driver)
	}
}

// openStorage returns R2 when credentials are present and the local
// filesystem otherwise. localDir is empty for R2.
func openStorage(cfg *config.Config, log logger.Logger) (client.StorageClient, string) {
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err == nil {
			return r2Client, ""
		}
		log.Warn().Err(err).Msg("R2 client not initialized, falling back to local storage")
	} else {
		log.Info().Msg("R2 storage not configured, using local storage")
	}

	local, err := client.NewLocalStorage(&cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("local storage not available")
	}
	return local, local.BasePath()
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, log logger.Logger) *asynq.Server {
	level := asynq.InfoLevel
	switch logger.ParseLevel(cfg.Server.LogLevel).String() {
	case "debug":
		level = asynq.DebugLevel
	case "warn":
		level = asynq.WarnLevel
	case "error":
		level = asynq.ErrorLevel
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			service.QueueVideo: 1,
		},
		Logger:   logger.Asynq(log),
		LogLevel: level,
	})
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = cfg.MaxRetries
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.RateLimitBaseDelay > 0 {
		p.RateLimitBaseDelay = cfg.RateLimitBaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	p.Jitter = cfg.Jitter
	return p
}

func timelineParams(cfg config.TimelineConfig) timeline.Params {
	p := timeline.DefaultParams()
	if cfg.FPS > 0 {
		p.FPS = cfg.FPS
	}
	p.NarrationGapMs = cfg.NarrationGapMs
	if cfg.DefaultShotSec > 0 {
		p.DefaultShotSec = cfg.DefaultShotSec
	}
	p.OpeningCardSec = cfg.OpeningCardSec
	p.EndingCardSec = cfg.EndingCardSec
	return p
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}

package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Groq      GroqConfig
	Image     ImageConfig
	Speech    SpeechConfig
	Render    RenderConfig
	R2        R2Config
	Storage   StorageConfig
	Media     MediaConfig
	Store     StoreConfig
	Pipeline  PipelineConfig
	Timeline  TimelineConfig
	Retry     RetryConfig
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	VideosPerHour int
	ToolingPerMin int
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ImageConfig points at an OpenAI-compatible image generation endpoint.
type ImageConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Size    string
	Timeout int // seconds
}

// SpeechConfig points at an ElevenLabs-compatible text-to-speech endpoint.
type SpeechConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	VoiceID      string
	OutputFormat string
	Timeout      int // seconds
}

type RenderConfig struct {
	APIKey       string
	BaseURL      string
	Concurrency  int
	Composition  string
	Width        int
	Height       int
	PollInterval time.Duration
	CallTimeout  time.Duration
	MaxWait      time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// StorageConfig configures the filesystem fallback used when R2 is not set up.
type StorageConfig struct {
	LocalDir  string
	PublicURL string
}

type MediaConfig struct {
	FFProbePath string // empty disables the ffprobe fallback
}

type StoreConfig struct {
	Driver     string // redis, sqlite or memory
	SQLitePath string
	TTL        time.Duration
}

type PipelineConfig struct {
	TargetShots      int
	AssetConcurrency int
	ScenarioAttempts int
	SplitAssetStages bool
	DefaultVoiceID   string
	DefaultLanguage  string
	StepTimeout      time.Duration
	JobTimeout       time.Duration // asynq task deadline for the whole pipeline
}

type TimelineConfig struct {
	FPS            int
	NarrationGapMs int
	DefaultShotSec float64
	OpeningCardSec float64
	EndingCardSec  float64
}

type RetryConfig struct {
	MaxRetries         int
	BaseDelay          time.Duration
	RateLimitBaseDelay time.Duration
	MaxDelay           time.Duration
	Jitter             time.Duration
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Local .env is optional; real environment variables win.
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("GROQ_API_KEY")
	readSecret("IMAGE_API_KEY")
	readSecret("SPEECH_API_KEY")
	readSecret("RENDER_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.videos_per_hour", "RATELIMIT_VIDEOS_PER_HOUR")
	_ = viper.BindEnv("ratelimit.tooling_per_min", "RATELIMIT_TOOLING_PER_MIN")
	_ = viper.BindEnv("groq.api_key", "GROQ_API_KEY")
	_ = viper.BindEnv("groq.base_url", "GROQ_BASE_URL")
	_ = viper.BindEnv("groq.model", "GROQ_MODEL")
	_ = viper.BindEnv("image.api_key", "IMAGE_API_KEY")
	_ = viper.BindEnv("image.base_url", "IMAGE_BASE_URL")
	_ = viper.BindEnv("image.model", "IMAGE_MODEL")
	_ = viper.BindEnv("image.size", "IMAGE_SIZE")
	_ = viper.BindEnv("image.timeout", "IMAGE_TIMEOUT")
	_ = viper.BindEnv("speech.api_key", "SPEECH_API_KEY")
	_ = viper.BindEnv("speech.base_url", "SPEECH_BASE_URL")
	_ = viper.BindEnv("speech.model", "SPEECH_MODEL")
	_ = viper.BindEnv("speech.voice_id", "SPEECH_VOICE_ID")
	_ = viper.BindEnv("speech.output_format", "SPEECH_OUTPUT_FORMAT")
	_ = viper.BindEnv("speech.timeout", "SPEECH_TIMEOUT")
	_ = viper.BindEnv("render.api_key", "RENDER_API_KEY")
	_ = viper.BindEnv("render.base_url", "RENDER_BASE_URL")
	_ = viper.BindEnv("render.concurrency", "RENDER_CONCURRENCY")
	_ = viper.BindEnv("render.composition", "RENDER_COMPOSITION")
	_ = viper.BindEnv("render.poll_interval", "RENDER_POLL_INTERVAL")
	_ = viper.BindEnv("render.call_timeout", "RENDER_CALL_TIMEOUT")
	_ = viper.BindEnv("render.max_wait", "RENDER_MAX_WAIT")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("storage.local_dir", "STORAGE_LOCAL_DIR")
	_ = viper.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("media.ffprobe_path", "FFPROBE_PATH")
	_ = viper.BindEnv("store.driver", "JOB_STORE_DRIVER")
	_ = viper.BindEnv("store.sqlite_path", "JOB_STORE_SQLITE_PATH")
	_ = viper.BindEnv("store.ttl", "JOB_STORE_TTL")
	_ = viper.BindEnv("pipeline.target_shots", "PIPELINE_TARGET_SHOTS")
	_ = viper.BindEnv("pipeline.asset_concurrency", "PIPELINE_ASSET_CONCURRENCY")
	_ = viper.BindEnv("pipeline.scenario_attempts", "PIPELINE_SCENARIO_ATTEMPTS")
	_ = viper.BindEnv("pipeline.split_asset_stages", "PIPELINE_SPLIT_ASSET_STAGES")
	_ = viper.BindEnv("pipeline.default_language", "PIPELINE_DEFAULT_LANGUAGE")
	_ = viper.BindEnv("pipeline.step_timeout", "PIPELINE_STEP_TIMEOUT")
	_ = viper.BindEnv("pipeline.job_timeout", "PIPELINE_JOB_TIMEOUT")
	_ = viper.BindEnv("timeline.fps", "TIMELINE_FPS")
	_ = viper.BindEnv("timeline.narration_gap_ms", "TIMELINE_NARRATION_GAP_MS")
	_ = viper.BindEnv("timeline.default_shot_sec", "TIMELINE_DEFAULT_SHOT_SEC")
	_ = viper.BindEnv("timeline.opening_card_sec", "TIMELINE_OPENING_CARD_SEC")
	_ = viper.BindEnv("timeline.ending_card_sec", "TIMELINE_ENDING_CARD_SEC")
	_ = viper.BindEnv("retry.max_retries", "RETRY_MAX_RETRIES")
	_ = viper.BindEnv("retry.base_delay", "RETRY_BASE_DELAY")
	_ = viper.BindEnv("retry.rate_limit_base_delay", "RETRY_RATE_LIMIT_BASE_DELAY")
	_ = viper.BindEnv("retry.max_delay", "RETRY_MAX_DELAY")
	_ = viper.BindEnv("retry.jitter", "RETRY_JITTER")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.videos_per_hour", 5)
	viper.SetDefault("ratelimit.tooling_per_min", 60)

	// Groq defaults
	viper.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("groq.model", "llama-3.3-70b-versatile")

	// Image defaults
	viper.SetDefault("image.base_url", "https://api.openai.com/v1")
	viper.SetDefault("image.model", "gpt-image-1")
	viper.SetDefault("image.size", "1024x1536")
	viper.SetDefault("image.timeout", 120)

	// Speech defaults
	viper.SetDefault("speech.base_url", "https://api.elevenlabs.io")
	viper.SetDefault("speech.model", "eleven_multilingual_v2")
	viper.SetDefault("speech.voice_id", "21m00Tcm4TlvDq8ikWAM")
	viper.SetDefault("speech.output_format", "mp3_44100_128")
	viper.SetDefault("speech.timeout", 120)

	// Render defaults
	viper.SetDefault("render.concurrency", 4)
	viper.SetDefault("render.composition", "NarratedShort")
	viper.SetDefault("render.width", 1080)
	viper.SetDefault("render.height", 1920)
	viper.SetDefault("render.poll_interval", 1500*time.Millisecond)
	viper.SetDefault("render.call_timeout", 150*time.Second)
	viper.SetDefault("render.max_wait", 20*time.Minute)

	// Storage defaults
	viper.SetDefault("storage.local_dir", "./data/assets")
	viper.SetDefault("storage.public_url", "http://localhost:8000/assets")

	// Media defaults
	viper.SetDefault("media.ffprobe_path", "")

	// Job store defaults
	viper.SetDefault("store.driver", "redis")
	viper.SetDefault("store.sqlite_path", "./data/jobs.db")
	viper.SetDefault("store.ttl", 24*time.Hour)

	// Pipeline defaults
	viper.SetDefault("pipeline.target_shots", 5)
	viper.SetDefault("pipeline.asset_concurrency", 3)
	viper.SetDefault("pipeline.scenario_attempts", 3)
	viper.SetDefault("pipeline.split_asset_stages", false)
	viper.SetDefault("pipeline.default_language", "en")
	viper.SetDefault("pipeline.step_timeout", 180*time.Second)
	viper.SetDefault("pipeline.job_timeout", time.Hour)

	// Timeline defaults
	viper.SetDefault("timeline.fps", 30)
	viper.SetDefault("timeline.narration_gap_ms", 220)
	viper.SetDefault("timeline.default_shot_sec", 4.0)
	viper.SetDefault("timeline.opening_card_sec", 0.0)
	viper.SetDefault("timeline.ending_card_sec", 0.0)

	// Retry defaults
	viper.SetDefault("retry.max_retries", 2)
	viper.SetDefault("retry.base_delay", 500*time.Millisecond)
	viper.SetDefault("retry.rate_limit_base_delay", 2*time.Second)
	viper.SetDefault("retry.max_delay", 20*time.Second)
	viper.SetDefault("retry.jitter", 250*time.Millisecond)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			VideosPerHour: viper.GetInt("ratelimit.videos_per_hour"),
			ToolingPerMin: viper.GetInt("ratelimit.tooling_per_min"),
		},
		Groq: GroqConfig{
			APIKey:  viper.GetString("groq.api_key"),
			BaseURL: viper.GetString("groq.base_url"),
			Model:   viper.GetString("groq.model"),
		},
		Image: ImageConfig{
			APIKey:  viper.GetString("image.api_key"),
			BaseURL: viper.GetString("image.base_url"),
			Model:   viper.GetString("image.model"),
			Size:    viper.GetString("image.size"),
			Timeout: viper.GetInt("image.timeout"),
		},
		Speech: SpeechConfig{
			APIKey:       viper.GetString("speech.api_key"),
			BaseURL:      viper.GetString("speech.base_url"),
			Model:        viper.GetString("speech.model"),
			VoiceID:      viper.GetString("speech.voice_id"),
			OutputFormat: viper.GetString("speech.output_format"),
			Timeout:      viper.GetInt("speech.timeout"),
		},
		Render: RenderConfig{
			APIKey:       viper.GetString("render.api_key"),
			BaseURL:      viper.GetString("render.base_url"),
			Concurrency:  viper.GetInt("render.concurrency"),
			Composition:  viper.GetString("render.composition"),
			Width:        viper.GetInt("render.width"),
			Height:       viper.GetInt("render.height"),
			PollInterval: viper.GetDuration("render.poll_interval"),
			CallTimeout:  viper.GetDuration("render.call_timeout"),
			MaxWait:      viper.GetDuration("render.max_wait"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Storage: StorageConfig{
			LocalDir:  viper.GetString("storage.local_dir"),
			PublicURL: viper.GetString("storage.public_url"),
		},
		Media: MediaConfig{
			FFProbePath: viper.GetString("media.ffprobe_path"),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(viper.GetString("store.driver")),
			SQLitePath: viper.GetString("store.sqlite_path"),
			TTL:        viper.GetDuration("store.ttl"),
		},
		Pipeline: PipelineConfig{
			TargetShots:      viper.GetInt("pipeline.target_shots"),
			AssetConcurrency: viper.GetInt("pipeline.asset_concurrency"),
			ScenarioAttempts: viper.GetInt("pipeline.scenario_attempts"),
			SplitAssetStages: viper.GetBool("pipeline.split_asset_stages"),
			DefaultVoiceID:   viper.GetString("speech.voice_id"),
			DefaultLanguage:  viper.GetString("pipeline.default_language"),
			StepTimeout:      viper.GetDuration("pipeline.step_timeout"),
			JobTimeout:       viper.GetDuration("pipeline.job_timeout"),
		},
		Timeline: TimelineConfig{
			FPS:            viper.GetInt("timeline.fps"),
			NarrationGapMs: viper.GetInt("timeline.narration_gap_ms"),
			DefaultShotSec: viper.GetFloat64("timeline.default_shot_sec"),
			OpeningCardSec: viper.GetFloat64("timeline.opening_card_sec"),
			EndingCardSec:  viper.GetFloat64("timeline.ending_card_sec"),
		},
		Retry: RetryConfig{
			MaxRetries:         viper.GetInt("retry.max_retries"),
			BaseDelay:          viper.GetDuration("retry.base_delay"),
			RateLimitBaseDelay: viper.GetDuration("retry.rate_limit_base_delay"),
			MaxDelay:           viper.GetDuration("retry.max_delay"),
			Jitter:             viper.GetDuration("retry.jitter"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}

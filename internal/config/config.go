package config

import (
	"os"
	"strings"

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
	RateLimit RateLimitConfig
	LLM       LLMConfig
	Video     VideoConfig
	Image     ImageConfig
	Suno      SunoConfig
	Storage   StorageConfig
	Flow      FlowDefaults
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	JobsPerHour int
	SunoPerHour int
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type VideoConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// PollIntervalSeconds / PollTimeoutSeconds bound the per-scene poll loop.
	PollIntervalSeconds int
	PollTimeoutSeconds  int
}

type ImageConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type SunoConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	CallbackURL string
}

type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
	UsePathStyle    bool
}

type FlowDefaults struct {
	HITLMode string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("LLM_API_KEY")
	readSecret("VIDEO_API_KEY")
	readSecret("IMAGE_API_KEY")
	readSecret("SUNO_API_KEY")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")

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
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("ratelimit.jobs_per_hour", "RATELIMIT_JOBS_PER_HOUR")
	_ = viper.BindEnv("ratelimit.suno_per_hour", "RATELIMIT_SUNO_PER_HOUR")
	_ = viper.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = viper.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = viper.BindEnv("llm.model", "LLM_MODEL")
	_ = viper.BindEnv("video.api_key", "VIDEO_API_KEY")
	_ = viper.BindEnv("video.base_url", "VIDEO_BASE_URL")
	_ = viper.BindEnv("video.model", "VIDEO_MODEL")
	_ = viper.BindEnv("video.poll_interval_seconds", "VIDEO_POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("video.poll_timeout_seconds", "VIDEO_POLL_TIMEOUT_SECONDS")
	_ = viper.BindEnv("image.api_key", "IMAGE_API_KEY")
	_ = viper.BindEnv("image.base_url", "IMAGE_BASE_URL")
	_ = viper.BindEnv("image.model", "IMAGE_MODEL")
	_ = viper.BindEnv("suno.api_key", "SUNO_API_KEY")
	_ = viper.BindEnv("suno.base_url", "SUNO_BASE_URL")
	_ = viper.BindEnv("suno.model", "SUNO_MODEL")
	_ = viper.BindEnv("suno.callback_url", "SUNO_CALLBACK_URL")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = viper.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("storage.use_path_style", "STORAGE_USE_PATH_STYLE")
	_ = viper.BindEnv("flow.hitl_mode", "FLOW_HITL_MODE")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("ratelimit.jobs_per_hour", 10)
	viper.SetDefault("ratelimit.suno_per_hour", 20)

	// LLM defaults
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")

	// Video provider defaults
	viper.SetDefault("video.base_url", "https://api.openai.com/v1")
	viper.SetDefault("video.model", "sora-2")
	viper.SetDefault("video.poll_interval_seconds", 5)
	viper.SetDefault("video.poll_timeout_seconds", 600)

	// Image provider defaults
	viper.SetDefault("image.base_url", "https://api.openai.com/v1")
	viper.SetDefault("image.model", "gpt-image-1")

	// Suno defaults
	viper.SetDefault("suno.base_url", "https://api.sunoapi.org")
	viper.SetDefault("suno.model", "V4_5ALL")

	// Storage defaults (MinIO-compatible)
	viper.SetDefault("storage.endpoint", "http://localhost:9000")
	viper.SetDefault("storage.bucket", "safety-mv")
	viper.SetDefault("storage.use_path_style", true)

	// Flow defaults
	viper.SetDefault("flow.hitl_mode", "skip")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			JobsPerHour: viper.GetInt("ratelimit.jobs_per_hour"),
			SunoPerHour: viper.GetInt("ratelimit.suno_per_hour"),
		},
		LLM: LLMConfig{
			APIKey:  viper.GetString("llm.api_key"),
			BaseURL: viper.GetString("llm.base_url"),
			Model:   viper.GetString("llm.model"),
		},
		Video: VideoConfig{
			APIKey:              viper.GetString("video.api_key"),
			BaseURL:             viper.GetString("video.base_url"),
			Model:               viper.GetString("video.model"),
			PollIntervalSeconds: viper.GetInt("video.poll_interval_seconds"),
			PollTimeoutSeconds:  viper.GetInt("video.poll_timeout_seconds"),
		},
		Image: ImageConfig{
			APIKey:  viper.GetString("image.api_key"),
			BaseURL: viper.GetString("image.base_url"),
			Model:   viper.GetString("image.model"),
		},
		Suno: SunoConfig{
			APIKey:      viper.GetString("suno.api_key"),
			BaseURL:     viper.GetString("suno.base_url"),
			Model:       viper.GetString("suno.model"),
			CallbackURL: viper.GetString("suno.callback_url"),
		},
		Storage: StorageConfig{
			Endpoint:        viper.GetString("storage.endpoint"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			Bucket:          viper.GetString("storage.bucket"),
			PublicURL:       viper.GetString("storage.public_url"),
			UsePathStyle:    viper.GetBool("storage.use_path_style"),
		},
		Flow: FlowDefaults{
			HITLMode: viper.GetString("flow.hitl_mode"),
		},
	}

	return cfg, nil
}

package config

import (
	"os"
	"strings"

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
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Groq      GroqConfig
	Audio     AudioConfig
	R2        R2Config
	Storage   StorageConfig
	Store     StoreConfig
	Providers ProvidersConfig
	Pipeline  PipelineConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

// IsDevelopment reports whether mock collaborators may be used.
func (s ServerConfig) IsDevelopment() bool {
	return strings.EqualFold(s.Env, "development") || strings.EqualFold(s.Env, "test")
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	ResearchPerHour   int
	ProductionPerHour int
	ExportPerHour     int
	VoicesPerMin      int
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type AudioConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	// Endpoint overrides the account endpoint for any S3-compatible store.
	Endpoint string
}

// StorageConfig selects where synthesized audio and research files are written.
type StorageConfig struct {
	Backend  string // "local" or "r2"
	LocalDir string
}

// StoreConfig selects the job record backend.
type StoreConfig struct {
	Backend    string // "memory", "redis" or "sqlite"
	SQLitePath string
	TTLHours   int
}

type ProviderConfig struct {
	Enabled           bool
	APIKey            string
	BaseURL           string
	Model             string
	CostPerChar       float64
	RequestsPerSecond float64
}

type ProvidersConfig struct {
	TimeoutSeconds int
	MaxAttempts    int
	BackoffMillis  int
	OpenAI         ProviderConfig
	ElevenLabs     ProviderConfig
	Speechify      ProviderConfig
	Google         ProviderConfig
	Mock           ProviderConfig
}

type PipelineConfig struct {
	WordsPerMinute  int
	DefaultDuration int // minutes
	Language        string
	MaxSources      int
	// WikipediaURL enables the encyclopedia collector when set.
	WikipediaURL string
}

type WorkerConfig struct {
	// Embedded runs the task workers inside the API process.
	Embedded         bool
	Concurrency      int
	ResearchWeight   int
	ProductionWeight int
	// StageTimeoutMinutes bounds one research or export run.
	StageTimeoutMinutes int
	// StaleMinutes without a job write marks a running job as abandoned.
	StaleMinutes int
}

var secrets = []string{
	"REDIS_PASSWORD",
	"JWT_SECRET",
	"GROQ_API_KEY",
	"R2_ACCOUNT_ID",
	"R2_ACCESS_KEY_ID",
	"R2_SECRET_ACCESS_KEY",
	"OPENAI_API_KEY",
	"ELEVENLABS_API_KEY",
	"SPEECHIFY_API_KEY",
}

var envBindings = map[string]string{
	"server.port":       "SERVER_PORT",
	"server.env":        "SERVER_ENV",
	"server.log_level":  "LOG_LEVEL",
	"server.api_domain": "API_DOMAIN",

	"redis.addr":     "REDIS_ADDR",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"jwt.secret":      "JWT_SECRET",
	"gateway.enabled": "GATEWAY_ENABLED",

	"ratelimit.research_per_hour":   "RATELIMIT_RESEARCH_PER_HOUR",
	"ratelimit.production_per_hour": "RATELIMIT_PRODUCTION_PER_HOUR",
	"ratelimit.export_per_hour":     "RATELIMIT_EXPORT_PER_HOUR",
	"ratelimit.voices_per_min":      "RATELIMIT_VOICES_PER_MIN",

	"groq.api_key":  "GROQ_API_KEY",
	"groq.base_url": "GROQ_BASE_URL",
	"groq.model":    "GROQ_MODEL",

	"audio.service_url": "AUDIO_SERVICE_URL",
	"audio.timeout":     "AUDIO_SERVICE_TIMEOUT",

	"r2.account_id":        "R2_ACCOUNT_ID",
	"r2.access_key_id":     "R2_ACCESS_KEY_ID",
	"r2.secret_access_key": "R2_SECRET_ACCESS_KEY",
	"r2.bucket_name":       "R2_BUCKET_NAME",
	"r2.public_url":        "R2_PUBLIC_URL",
	"r2.endpoint":          "R2_ENDPOINT",

	"storage.backend":   "STORAGE_BACKEND",
	"storage.local_dir": "STORAGE_LOCAL_DIR",

	"store.backend":     "STORE_BACKEND",
	"store.sqlite_path": "STORE_SQLITE_PATH",
	"store.ttl_hours":   "STORE_TTL_HOURS",

	"providers.timeout_seconds": "PROVIDER_TIMEOUT_SECONDS",
	"providers.max_attempts":    "PROVIDER_MAX_ATTEMPTS",
	"providers.backoff_millis":  "PROVIDER_BACKOFF_MILLIS",

	"providers.openai.api_key":      "OPENAI_API_KEY",
	"providers.openai.base_url":     "OPENAI_BASE_URL",
	"providers.openai.model":        "OPENAI_TTS_MODEL",
	"providers.elevenlabs.api_key":  "ELEVENLABS_API_KEY",
	"providers.elevenlabs.base_url": "ELEVENLABS_BASE_URL",
	"providers.elevenlabs.model":    "ELEVENLABS_MODEL",
	"providers.speechify.api_key":   "SPEECHIFY_API_KEY",
	"providers.speechify.base_url":  "SPEECHIFY_BASE_URL",
	"providers.speechify.model":     "SPEECHIFY_MODEL",
	"providers.google.enabled":      "GOOGLE_TTS_ENABLED",
	"providers.google.base_url":     "GOOGLE_TTS_BASE_URL",
	"providers.mock.enabled":        "MOCK_TTS_ENABLED",

	"pipeline.words_per_minute": "PIPELINE_WORDS_PER_MINUTE",
	"pipeline.default_duration": "PIPELINE_DEFAULT_DURATION",
	"pipeline.language":         "PIPELINE_LANGUAGE",
	"pipeline.max_sources":      "PIPELINE_MAX_SOURCES",
	"pipeline.wikipedia_url":    "PIPELINE_WIKIPEDIA_URL",

	"worker.embedded":              "WORKER_EMBEDDED",
	"worker.concurrency":           "WORKER_CONCURRENCY",
	"worker.research_weight":       "WORKER_RESEARCH_WEIGHT",
	"worker.production_weight":     "WORKER_PRODUCTION_WEIGHT",
	"worker.stage_timeout_minutes": "WORKER_STAGE_TIMEOUT_MINUTES",
	"worker.stale_minutes":         "WORKER_STALE_MINUTES",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("gateway.enabled", false)

	v.SetDefault("ratelimit.research_per_hour", 10)
	v.SetDefault("ratelimit.production_per_hour", 20)
	v.SetDefault("ratelimit.export_per_hour", 20)
	v.SetDefault("ratelimit.voices_per_min", 60)

	// Groq defaults
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")

	// Audio service defaults
	v.SetDefault("audio.service_url", "")
	v.SetDefault("audio.timeout", 120)

	// Storage and job store
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "./data/artifacts")
	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.sqlite_path", "./data/jobs.db")
	v.SetDefault("store.ttl_hours", 24)

	// Provider defaults
	v.SetDefault("providers.timeout_seconds", 60)
	v.SetDefault("providers.max_attempts", 3)
	v.SetDefault("providers.backoff_millis", 1000)
	v.SetDefault("providers.openai.base_url", "https://api.openai.com")
	v.SetDefault("providers.openai.model", "tts-1-hd")
	v.SetDefault("providers.openai.cost_per_char", 0.000015)
	v.SetDefault("providers.openai.requests_per_second", 3)
	v.SetDefault("providers.elevenlabs.base_url", "https://api.elevenlabs.io")
	v.SetDefault("providers.elevenlabs.model", "eleven_multilingual_v2")
	v.SetDefault("providers.elevenlabs.cost_per_char", 0.00003)
	v.SetDefault("providers.elevenlabs.requests_per_second", 2)
	v.SetDefault("providers.speechify.base_url", "https://api.sws.speechify.com")
	v.SetDefault("providers.speechify.model", "simba-english")
	v.SetDefault("providers.speechify.cost_per_char", 0.00002)
	v.SetDefault("providers.speechify.requests_per_second", 2)
	v.SetDefault("providers.google.enabled", true)
	v.SetDefault("providers.google.base_url", "https://translate.google.com")
	v.SetDefault("providers.google.cost_per_char", 0)
	v.SetDefault("providers.google.requests_per_second", 1)
	v.SetDefault("providers.mock.enabled", false)

	// Pipeline defaults
	v.SetDefault("pipeline.words_per_minute", 150)
	v.SetDefault("pipeline.default_duration", 45)
	v.SetDefault("pipeline.language", "en")
	v.SetDefault("pipeline.max_sources", 10)
	v.SetDefault("pipeline.wikipedia_url", "https://en.wikipedia.org")

	// Worker defaults
	v.SetDefault("worker.embedded", true)
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.research_weight", 4)
	v.SetDefault("worker.production_weight", 6)
	v.SetDefault("worker.stage_timeout_minutes", 30)
	v.SetDefault("worker.stale_minutes", 15)
}

func provider(v *viper.Viper, name string) ProviderConfig {
	prefix := "providers." + name + "."
	return ProviderConfig{
		Enabled:           v.GetBool(prefix + "enabled"),
		APIKey:            v.GetString(prefix + "api_key"),
		BaseURL:           v.GetString(prefix + "base_url"),
		Model:             v.GetString(prefix + "model"),
		CostPerChar:       v.GetFloat64(prefix + "cost_per_char"),
		RequestsPerSecond: v.GetFloat64(prefix + "requests_per_second"),
	}
}

func Load() (*Config, error) {
	// .env is optional and never overrides the real environment
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	for _, key := range secrets {
		readSecret(key)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	setDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			ApiDomain: v.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			ResearchPerHour:   v.GetInt("ratelimit.research_per_hour"),
			ProductionPerHour: v.GetInt("ratelimit.production_per_hour"),
			ExportPerHour:     v.GetInt("ratelimit.export_per_hour"),
			VoicesPerMin:      v.GetInt("ratelimit.voices_per_min"),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		Audio: AudioConfig{
			ServiceURL: v.GetString("audio.service_url"),
			Timeout:    v.GetInt("audio.timeout"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
			Endpoint:        v.GetString("r2.endpoint"),
		},
		Storage: StorageConfig{
			Backend:  v.GetString("storage.backend"),
			LocalDir: v.GetString("storage.local_dir"),
		},
		Store: StoreConfig{
			Backend:    v.GetString("store.backend"),
			SQLitePath: v.GetString("store.sqlite_path"),
			TTLHours:   v.GetInt("store.ttl_hours"),
		},
		Providers: ProvidersConfig{
			TimeoutSeconds: v.GetInt("providers.timeout_seconds"),
			MaxAttempts:    v.GetInt("providers.max_attempts"),
			BackoffMillis:  v.GetInt("providers.backoff_millis"),
			OpenAI:         provider(v, "openai"),
			ElevenLabs:     provider(v, "elevenlabs"),
			Speechify:      provider(v, "speechify"),
			Google:         provider(v, "google"),
			Mock:           provider(v, "mock"),
		},
		Pipeline: PipelineConfig{
			WordsPerMinute:  v.GetInt("pipeline.words_per_minute"),
			DefaultDuration: v.GetInt("pipeline.default_duration"),
			Language:        v.GetString("pipeline.language"),
			MaxSources:      v.GetInt("pipeline.max_sources"),
			WikipediaURL:    v.GetString("pipeline.wikipedia_url"),
		},
		Worker: WorkerConfig{
			Embedded:            v.GetBool("worker.embedded"),
			Concurrency:         v.GetInt("worker.concurrency"),
			ResearchWeight:      v.GetInt("worker.research_weight"),
			ProductionWeight:    v.GetInt("worker.production_weight"),
			StageTimeoutMinutes: v.GetInt("worker.stage_timeout_minutes"),
			StaleMinutes:        v.GetInt("worker.stale_minutes"),
		},
	}

	return cfg, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers accepted by store.driver.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Test executors accepted by checks.executor.
const (
	ExecutorLocal  = "local"
	ExecutorDocker = "docker"
)

// Config holds runtime configuration values for the review service.
type Config struct {
	AppName   string
	AppEnv    string
	AppPort   string
	JWTSecret string

	CORSAllowOrigins string
	AccessLog        bool

	StoreDriver   string
	DatabaseURL   string
	SQLitePath    string
	RedisURL      string
	NATSURL       string
	EventsChannel string

	UploadDir    string
	WorkDir      string
	ArtifactsDir string

	MaxUploadBytes    int64
	MaxExtractedBytes int64
	QueueCapacity     int

	UploadRatePerMinute int
	RunRatePerMinute    int

	EnableTests      bool
	TestTimeout      time.Duration
	TestExecutor     string
	DockerHost       string
	DockerImage      string
	CodeRunMemoryMB  int
	CodeRunCPUShares int

	AIEnabled              bool
	AIAPIKey               string
	AIBaseURL              string
	AIModel                string
	AITimeout              time.Duration
	AIMaxAttempts          int
	AIBackoffBase          time.Duration
	AIBackoffMultiplier    float64
	AIBackoffMax           time.Duration
	AIReportPromptPath     string
	AIClassifierPromptPath string

	SnapshotMaxFiles      int
	SnapshotMaxFileBytes  int64
	SnapshotMaxTotalBytes int64
	SnapshotAllowedExts   []string
	SnapshotExcludedDirs  []string

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Review API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("http.access_log", false)
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("sqlite.path", "./data/review.db")
	v.SetDefault("events.channel", "gema:timeline")
	v.SetDefault("paths.upload_dir", "./data/uploads")
	v.SetDefault("paths.work_dir", "./data/work")
	v.SetDefault("paths.artifacts_dir", "./data/artifacts")
	v.SetDefault("upload.max_mb", 100)
	v.SetDefault("archive.max_extracted_mb", 500)
	v.SetDefault("queue.capacity", 64)
	v.SetDefault("ratelimit.uploads_per_minute", 10)
	v.SetDefault("ratelimit.runs_per_minute", 30)
	v.SetDefault("checks.enable_tests", false)
	v.SetDefault("checks.test_timeout", "120s")
	v.SetDefault("checks.executor", ExecutorLocal)
	v.SetDefault("checks.docker_image", "python:3.12-slim")
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)
	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("ai.max_attempts", 3)
	v.SetDefault("ai.backoff_base", "500ms")
	v.SetDefault("ai.backoff_multiplier", 2.0)
	v.SetDefault("ai.backoff_max", "10s")
	v.SetDefault("snapshot.max_files", 200)
	v.SetDefault("snapshot.max_file_bytes", 64*1024)
	v.SetDefault("snapshot.max_total_bytes", 512*1024)
	v.SetDefault("snapshot.allowed_exts", ".py,.js,.jsx,.ts,.tsx,.json,.md,.txt,.yml,.yaml,.toml,.cfg,.ini,.html,.css")
	v.SetDefault("snapshot.excluded_dirs", "node_modules,.git,__pycache__,.venv,venv,dist,build")
	v.SetDefault("cloudinary.folder", "gema/submissions")

	testTimeout, err := parseDuration(v, "checks.test_timeout")
	if err != nil {
		return Config{}, err
	}
	aiTimeout, err := parseDuration(v, "ai.timeout")
	if err != nil {
		return Config{}, err
	}
	backoffBase, err := parseDuration(v, "ai.backoff_base")
	if err != nil {
		return Config{}, err
	}
	backoffMax, err := parseDuration(v, "ai.backoff_max")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:   v.GetString("app.name"),
		AppEnv:    v.GetString("app.env"),
		AppPort:   v.GetString("app.port"),
		JWTSecret: v.GetString("jwt.secret"),

		CORSAllowOrigins: v.GetString("cors.allow_origins"),
		AccessLog:        v.GetBool("http.access_log"),

		StoreDriver:   strings.ToLower(v.GetString("store.driver")),
		DatabaseURL:   v.GetString("database.url"),
		SQLitePath:    v.GetString("sqlite.path"),
		RedisURL:      v.GetString("redis.url"),
		NATSURL:       v.GetString("nats.url"),
		EventsChannel: v.GetString("events.channel"),

		UploadDir:    v.GetString("paths.upload_dir"),
		WorkDir:      v.GetString("paths.work_dir"),
		ArtifactsDir: v.GetString("paths.artifacts_dir"),

		MaxUploadBytes:    int64(v.GetInt("upload.max_mb")) << 20,
		MaxExtractedBytes: int64(v.GetInt("archive.max_extracted_mb")) << 20,
		QueueCapacity:     v.GetInt("queue.capacity"),

		UploadRatePerMinute: v.GetInt("ratelimit.uploads_per_minute"),
		RunRatePerMinute:    v.GetInt("ratelimit.runs_per_minute"),

		EnableTests:      v.GetBool("checks.enable_tests"),
		TestTimeout:      testTimeout,
		TestExecutor:     strings.ToLower(v.GetString("checks.executor")),
		DockerHost:       v.GetString("docker_host"),
		DockerImage:      v.GetString("checks.docker_image"),
		CodeRunMemoryMB:  v.GetInt("code_run_memory_mb"),
		CodeRunCPUShares: v.GetInt("code_run_cpu_shares"),

		AIEnabled:              v.GetBool("ai.enabled"),
		AIAPIKey:               v.GetString("ai.api_key"),
		AIBaseURL:              v.GetString("ai.base_url"),
		AIModel:                v.GetString("ai.model"),
		AITimeout:              aiTimeout,
		AIMaxAttempts:          v.GetInt("ai.max_attempts"),
		AIBackoffBase:          backoffBase,
		AIBackoffMultiplier:    v.GetFloat64("ai.backoff_multiplier"),
		AIBackoffMax:           backoffMax,
		AIReportPromptPath:     v.GetString("ai.report_prompt_path"),
		AIClassifierPromptPath: v.GetString("ai.classifier_prompt_path"),

		SnapshotMaxFiles:      v.GetInt("snapshot.max_files"),
		SnapshotMaxFileBytes:  v.GetInt64("snapshot.max_file_bytes"),
		SnapshotMaxTotalBytes: v.GetInt64("snapshot.max_total_bytes"),
		SnapshotAllowedExts:   splitList(v.GetString("snapshot.allowed_exts")),
		SnapshotExcludedDirs:  splitList(v.GetString("snapshot.excluded_dirs")),

		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
	}

	switch cfg.StoreDriver {
	case StoreMemory, StoreSQLite, StorePostgres, StoreRedis:
	default:
		return Config{}, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}

	if cfg.StoreDriver == StorePostgres && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided for the postgres store")
	}

	if cfg.StoreDriver == StoreRedis && cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("redis url must be provided for the redis store")
	}

	if cfg.TestExecutor != ExecutorLocal && cfg.TestExecutor != ExecutorDocker {
		return Config{}, fmt.Errorf("unsupported test executor %q", cfg.TestExecutor)
	}

	if cfg.AIEnabled && cfg.AIAPIKey == "" {
		return Config{}, fmt.Errorf("ai api key must be provided when ai is enabled")
	}

	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}

	if cfg.CodeRunMemoryMB <= 0 {
		cfg.CodeRunMemoryMB = 256
	}

	if cfg.CodeRunCPUShares <= 0 {
		cfg.CodeRunCPUShares = 512
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

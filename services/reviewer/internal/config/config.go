package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the config file read at startup; REVIEWER_CONFIG overrides it.
var ConfigPath = defaultConfigPath()

func defaultConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("REVIEWER_CONFIG")); v != "" {
		return v
	}
	return "config.yaml"
}

const (
	defaultPort             = "8000"
	defaultDatabaseURL      = "data/reviewer.db"
	defaultUploadDir        = "uploads"
	defaultMaxUploadBytes   = 50 * 1024 * 1024
	defaultGenerationModel  = "google/gemini-3-flash-preview"
	defaultTimeoutSeconds   = 120
	defaultMaxTokens        = 2000
	defaultSummaryMaxTokens = 3000
	defaultHistoryLimit     = 5
	defaultTargetLanguage   = "Chinese"
	defaultRateLimit        = 30
	defaultRateWindowSecs   = 60
)

// GenerationConfig selects the LLM provider.
type GenerationConfig struct {
	Provider         string `yaml:"provider"`
	BaseURL          string `yaml:"baseURL"`
	APIKey           string `yaml:"apiKey"`
	Model            string `yaml:"model"`
	TimeoutSeconds   int    `yaml:"timeoutSeconds"`
	MaxTokens        int    `yaml:"maxTokens"`
	SummaryMaxTokens int    `yaml:"summaryMaxTokens"`
}

// RateLimitConfig bounds LLM-backed requests per client IP. Disabled without RedisAddr.
type RateLimitConfig struct {
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	Requests      int    `yaml:"requests"`
	WindowSeconds int    `yaml:"windowSeconds"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                  string           `yaml:"port"`
	LogLevel              string           `yaml:"logLevel"`
	LogFormat             string           `yaml:"logFormat"`
	DatabaseURL           string           `yaml:"databaseURL"`
	DatabaseMaxOpenConns  int              `yaml:"databaseMaxOpenConns"`
	UploadDir             string           `yaml:"uploadDir"`
	MinioEndpoint         string           `yaml:"minioEndpoint"`
	MinioAccessKey        string           `yaml:"minioAccessKey"`
	MinioSecretKey        string           `yaml:"minioSecretKey"`
	MinioBucket           string           `yaml:"minioBucket"`
	MinioUseSSL           bool             `yaml:"minioUseSSL"`
	MaxUploadBytes        int64            `yaml:"maxUploadBytes"`
	CORSAllowedOrigins    []string         `yaml:"corsAllowedOrigins"`
	TrustedProxies        []string         `yaml:"trustedProxies"`
	HistoryLimit          int              `yaml:"historyLimit"`
	DefaultTargetLanguage string           `yaml:"defaultTargetLanguage"`
	Generation            GenerationConfig `yaml:"generation"`
	RateLimit             RateLimitConfig  `yaml:"rateLimit"`
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and defaults, then validates. A missing file is not an error;
// the service can run from environment variables alone.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	if v := os.Getenv("DATABASE_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DatabaseMaxOpenConns = n
		}
	}
	setString(&cfg.UploadDir, "UPLOAD_DIR")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	setString(&cfg.Generation.Provider, "GENERATION_PROVIDER")
	setString(&cfg.Generation.BaseURL, "GENERATION_BASE_URL")
	setString(&cfg.Generation.APIKey, "GENERATION_API_KEY")
	setString(&cfg.Generation.Model, "GENERATION_MODEL")
	setString(&cfg.RateLimit.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RateLimit.RedisPassword, "REDIS_PASSWORD")
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = defaultUploadDir
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.CORSAllowedOrigins == nil {
		cfg.CORSAllowedOrigins = []string{
			"http://localhost:3000",
			"http://localhost:3001",
			"http://localhost:8000",
			"http://127.0.0.1:8000",
		}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.DefaultTargetLanguage == "" {
		cfg.DefaultTargetLanguage = defaultTargetLanguage
	}
	gen := &cfg.Generation
	if gen.Provider == "" {
		gen.Provider = "openai-compat"
	}
	if gen.Model == "" {
		gen.Model = defaultGenerationModel
	}
	if gen.TimeoutSeconds <= 0 {
		gen.TimeoutSeconds = defaultTimeoutSeconds
	}
	if gen.MaxTokens <= 0 {
		gen.MaxTokens = defaultMaxTokens
	}
	if gen.SummaryMaxTokens <= 0 {
		gen.SummaryMaxTokens = defaultSummaryMaxTokens
	}
	if cfg.RateLimit.Requests <= 0 {
		cfg.RateLimit.Requests = defaultRateLimit
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = defaultRateWindowSecs
	}
}

func validateConfig(cfg FileConfig) error {
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return fmt.Errorf("config: port must be numeric, got %q", cfg.Port)
	}
	if cfg.DatabaseMaxOpenConns < 0 {
		return fmt.Errorf("config: databaseMaxOpenConns must not be negative, got %d", cfg.DatabaseMaxOpenConns)
	}
	switch cfg.Generation.Provider {
	case "openai-compat":
		if cfg.Generation.BaseURL == "" {
			return errors.New("config: generation.baseURL is required for openai-compat (set in config.yaml or GENERATION_BASE_URL)")
		}
	case "gemini", "claude":
		if cfg.Generation.APIKey == "" {
			return fmt.Errorf("config: generation.apiKey is required for %s (set in config.yaml or GENERATION_API_KEY)", cfg.Generation.Provider)
		}
	default:
		return fmt.Errorf("config: unknown generation.provider %q", cfg.Generation.Provider)
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minioAccessKey and minioSecretKey are required when minioEndpoint is set")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required when minioEndpoint is set")
		}
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

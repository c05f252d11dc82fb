package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ClaudeConfig struct {
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"`
	Model      string `yaml:"model"`
}

type OpenAIConfig struct {
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
}

type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	LogFile    string `yaml:"log_file"`

	VisionBackend string        `yaml:"vision_backend"`
	VisionTimeout time.Duration `yaml:"vision_timeout"`
	Claude        ClaudeConfig  `yaml:"claude"`
	OpenAI        OpenAIConfig  `yaml:"openai"`
	Ollama        OllamaConfig  `yaml:"ollama"`

	PhotoBackend   string      `yaml:"photo_backend"`
	PhotoLocalPath string      `yaml:"photo_local_path"`
	PhotoURLSecret string      `yaml:"photo_url_secret"`
	PublicBaseURL  string      `yaml:"public_base_url"`
	Minio          MinioConfig `yaml:"minio"`

	PresignTTL    time.Duration `yaml:"presign_ttl"`
	RecordTTL     time.Duration `yaml:"record_ttl"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
	StaleRunAfter time.Duration `yaml:"stale_run_after"`

	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	RunTimeout time.Duration `yaml:"run_timeout"`

	CORSOrigins []string `yaml:"cors_origins"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:    ":8080",
		DBPath:        "/data/yardwise.db",
		LogLevel:      "info",
		LogFormat:     "json",
		VisionBackend: "ollama",
		VisionTimeout: 90 * time.Second,
		Claude:        ClaudeConfig{Model: "claude-opus-4-6"},
		OpenAI:        OpenAIConfig{Model: "gpt-4o"},
		Ollama:        OllamaConfig{Host: "http://localhost:11434", Model: "llava"},

		PhotoBackend:   "local",
		PhotoLocalPath: "/data/photos",
		PublicBaseURL:  "http://localhost:8080",
		Minio:          MinioConfig{Region: "us-east-1", Bucket: "yardwise-photos", UseSSL: true},

		PresignTTL:    time.Hour,
		RecordTTL:     7 * 24 * time.Hour,
		PurgeInterval: 10 * time.Minute,
		StaleRunAfter: 10 * time.Minute,

		Workers:    4,
		QueueSize:  64,
		RunTimeout: 3 * time.Minute,

		CORSOrigins: []string{"*"},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_PATH if set, then environment variables. Environment always wins.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.DBPath, "DB_PATH")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.LogFile, "LOG_FILE")

	setString(&c.VisionBackend, "VISION_BACKEND")
	setString(&c.Claude.APIKey, "CLAUDE_API_KEY")
	setString(&c.Claude.APIKeyFile, "CLAUDE_API_KEY_FILE")
	setString(&c.Claude.Model, "CLAUDE_MODEL")
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.APIKeyFile, "OPENAI_API_KEY_FILE")
	setString(&c.OpenAI.Model, "OPENAI_MODEL")
	setString(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.Ollama.Host, "OLLAMA_HOST")
	setString(&c.Ollama.Model, "OLLAMA_MODEL")

	setString(&c.PhotoBackend, "PHOTO_BACKEND")
	setString(&c.PhotoLocalPath, "PHOTO_LOCAL_PATH")
	setString(&c.PhotoURLSecret, "PHOTO_URL_SECRET")
	setString(&c.PublicBaseURL, "PUBLIC_BASE_URL")
	setString(&c.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Minio.Region, "MINIO_REGION")
	setString(&c.Minio.Bucket, "MINIO_BUCKET")
	setString(&c.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Minio.SecretKey, "MINIO_SECRET_KEY")

	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}

	return errors.Join(
		setBool(&c.Minio.UseSSL, "MINIO_USE_SSL"),
		setDuration(&c.VisionTimeout, "VISION_TIMEOUT"),
		setDuration(&c.PresignTTL, "PRESIGN_TTL"),
		setDuration(&c.RecordTTL, "RECORD_TTL"),
		setDuration(&c.PurgeInterval, "PURGE_INTERVAL"),
		setDuration(&c.StaleRunAfter, "STALE_RUN_AFTER"),
		setDuration(&c.RunTimeout, "RUN_TIMEOUT"),
		setInt(&c.Workers, "WORKERS"),
		setInt(&c.QueueSize, "QUEUE_SIZE"),
	)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.VisionBackend {
	case "claude":
		if c.Claude.APIKey == "" && c.Claude.APIKeyFile == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY or CLAUDE_API_KEY_FILE is required when VISION_BACKEND=claude"))
		}
	case "openai":
		if c.OpenAI.APIKey == "" && c.OpenAI.APIKeyFile == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY or OPENAI_API_KEY_FILE is required when VISION_BACKEND=openai"))
		}
	case "ollama":
		if c.Ollama.Host == "" {
			errs = append(errs, errors.New("OLLAMA_HOST is required when VISION_BACKEND=ollama"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown VISION_BACKEND %q", c.VisionBackend))
	}

	switch c.PhotoBackend {
	case "local":
		if c.PhotoURLSecret == "" {
			errs = append(errs, errors.New("PHOTO_URL_SECRET is required when PHOTO_BACKEND=local"))
		}
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT and MINIO_BUCKET are required when PHOTO_BACKEND=minio"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PHOTO_BACKEND %q", c.PhotoBackend))
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}

	if c.RecordTTL <= 0 || c.PresignTTL <= 0 || c.PurgeInterval <= 0 || c.StaleRunAfter <= 0 {
		errs = append(errs, errors.New("RECORD_TTL, PRESIGN_TTL, PURGE_INTERVAL and STALE_RUN_AFTER must be positive"))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.New("WORKERS must be at least 1"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if val, exists := os.LookupEnv(key); exists {
		*dst = val
	}
}

func setBool(dst *bool, key string) error {
	val, exists := os.LookupEnv(key)
	if !exists {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	val, exists := os.LookupEnv(key)
	if !exists {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	val, exists := os.LookupEnv(key)
	if !exists {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

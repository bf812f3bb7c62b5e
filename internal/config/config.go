package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration. Values come from an optional YAML file
// first, then environment variables on top; the environment always wins.
type Config struct {
	Port      string `yaml:"port"`
	Database  string `yaml:"database"`
	UploadDir string `yaml:"upload_dir"`

	OpenAIKey       string `yaml:"openai_key"`
	OpenAIEndpoint  string `yaml:"openai_endpoint"`
	OpenAIModel     string `yaml:"openai_model"`
	TranscribeModel string `yaml:"transcribe_model"`

	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	TestJobTimeout      time.Duration `yaml:"test_job_timeout"`
	FlashcardJobTimeout time.Duration `yaml:"flashcard_job_timeout"`

	LogMode string `yaml:"log_mode"`
}

// Load reads configuration from CONFIG_PATH (if set) and the environment,
// providing sensible defaults, and ensures the data directories exist.
func Load() (Config, error) {
	// .env is optional and only useful for development.
	_ = godotenv.Load()

	cfg := Config{
		Port:                "8080",
		Database:            "./data/studyforge.db",
		UploadDir:           "./data/uploads",
		OpenAIEndpoint:      "https://api.openai.com/v1",
		OpenAIModel:         "gpt-4o-mini",
		TranscribeModel:     "whisper-1",
		ChunkSize:           2000,
		ChunkOverlap:        400,
		TestJobTimeout:      5 * time.Minute,
		FlashcardJobTimeout: 50 * time.Second,
		LogMode:             "prod",
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Database = getEnv("DATABASE_PATH", cfg.Database)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.OpenAIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIKey)
	cfg.OpenAIEndpoint = getEnv("OPENAI_API_ENDPOINT", cfg.OpenAIEndpoint)
	cfg.OpenAIModel = getEnv("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.TranscribeModel = getEnv("TRANSCRIBE_MODEL", cfg.TranscribeModel)
	cfg.LogMode = getEnv("LOG_MODE", cfg.LogMode)

	var err error
	if cfg.ChunkSize, err = getEnvInt("CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return Config{}, err
	}
	if cfg.ChunkOverlap, err = getEnvInt("CHUNK_OVERLAP", cfg.ChunkOverlap); err != nil {
		return Config{}, err
	}
	if cfg.TestJobTimeout, err = getEnvDuration("TEST_JOB_TIMEOUT", cfg.TestJobTimeout); err != nil {
		return Config{}, err
	}
	if cfg.FlashcardJobTimeout, err = getEnvDuration("FLASHCARD_JOB_TIMEOUT", cfg.FlashcardJobTimeout); err != nil {
		return Config{}, err
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure upload dir %s: %w", cfg.UploadDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure database dir %s: %w", cfg.Database, err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

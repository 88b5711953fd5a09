package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"auto_news_interviewer/generator"
)

// Config holds everything the interviewer needs at startup.
type Config struct {
	LLM        *LLMConfig     `json:"llm,omitempty" yaml:"llm,omitempty" validate:"required"`
	ServerAddr string         `json:"server_addr,omitempty" yaml:"server_addr,omitempty"`
	Articles   ArticlesConfig `json:"articles" yaml:"articles"`
	// PromptsDir overrides the built-in prompt texts file by file.
	PromptsDir string        `json:"prompts_dir,omitempty" yaml:"prompts_dir,omitempty"`
	Session    SessionConfig `json:"session" yaml:"session"`
	Log        LogConfig     `json:"log" yaml:"log"`
	TraceFile  string        `json:"trace_file,omitempty" yaml:"trace_file,omitempty"`
}

// LLMConfig 模型配置。
type LLMConfig struct {
	Provider       string `json:"provider,omitempty" yaml:"provider,omitempty" validate:"required,oneof=openai deepseek ollama mock"`
	Model          string `json:"model,omitempty" yaml:"model,omitempty" validate:"required_unless=Provider mock"`
	APIKey         string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" validate:"gte=0"`
	MaxAttempts    int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty" validate:"gte=0,lte=10"`
	MockRounds     int    `json:"mock_rounds,omitempty" yaml:"mock_rounds,omitempty" validate:"gte=0"`
}

type ArticlesConfig struct {
	OutputDir string `json:"output_dir" yaml:"output_dir" validate:"required"`
	// UniqueNames appends part of the session id to the timestamped file name,
	// so two interviews finishing in the same second do not overwrite each other.
	UniqueNames bool `json:"unique_names" yaml:"unique_names"`
}

type SessionConfig struct {
	TTLMinutes int    `json:"ttl_minutes" yaml:"ttl_minutes" validate:"gte=0"`
	RedisURL   string `json:"redis_url,omitempty" yaml:"redis_url,omitempty" validate:"omitempty,url"`
}

type LogConfig struct {
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
	Level string `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig mirrors a local Ollama setup.
func DefaultConfig() Config {
	return Config{
		LLM: &LLMConfig{
			Provider:       "ollama",
			Model:          "gemma2:27b",
			TimeoutSeconds: 120,
			MaxAttempts:    3,
			MockRounds:     2,
		},
		ServerAddr: ":8001",
		Articles: ArticlesConfig{
			OutputDir:   "articles",
			UniqueNames: true,
		},
		Session: SessionConfig{TTLMinutes: 60},
		Log:     LogConfig{File: filepath.Join("logs", "interviewer.log"), Level: "info"},
	}
}

var validate = validator.New()

// LoadConfig reads .env (if any), then the JSON or YAML file at path on top of
// the defaults, then environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &cfg)
		default:
			err = json.Unmarshal(data, &cfg)
		}
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		return errors.New("invalid config: llm.api_key is required for provider openai")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if cfg.LLM == nil {
		cfg.LLM = &LLMConfig{}
	}
	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	if cfg.LLM.Provider == "ollama" {
		cfg.LLM.BaseURL = getEnv("OLLAMA_BASE_URL", cfg.LLM.BaseURL)
	}
	cfg.LLM.TimeoutSeconds = getEnvAsInt("LLM_TIMEOUT_SECONDS", cfg.LLM.TimeoutSeconds)
	cfg.ServerAddr = getEnv("SERVER_ADDR", cfg.ServerAddr)
	cfg.Articles.OutputDir = getEnv("ARTICLES_DIR", cfg.Articles.OutputDir)
	cfg.PromptsDir = getEnv("PROMPTS_DIR", cfg.PromptsDir)
	cfg.Session.RedisURL = getEnv("REDIS_URL", cfg.Session.RedisURL)
	cfg.Log.File = getEnv("LOG_FILE_PATH", cfg.Log.File)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.TraceFile = getEnv("TRACE_FILE", cfg.TraceFile)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

// LLMSettings converts the file settings into the generator's immutable model config.
func (c Config) LLMSettings() generator.LLMSettings {
	return generator.LLMSettings{
		Provider:   c.LLM.Provider,
		Model:      c.LLM.Model,
		APIKey:     c.LLM.APIKey,
		BaseURL:    c.LLM.BaseURL,
		MockRounds: c.LLM.MockRounds,
	}
}

func (c Config) RetryPolicy() generator.RetryPolicy {
	p := generator.DefaultRetryPolicy()
	if c.LLM.MaxAttempts > 0 {
		p.MaxAttempts = uint(c.LLM.MaxAttempts)
	}
	p.AttemptTimeout = time.Duration(c.LLM.TimeoutSeconds) * time.Second
	return p
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

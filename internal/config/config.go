package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vital-image-analytics/internal/gemini"
)

type Config struct {
	GeminiAPIKey     string
	GeminiModel      string
	GeminiBaseURL    string
	GeminiAPIVersion string

	Generation gemini.GenerationConfig
	Safety     gemini.SafetyPolicy

	LogLevel string
	Debug    bool

	PreferIPv4     bool
	HTTPTimeout    time.Duration
	RequestTimeout time.Duration

	WebAddr        string
	MaxUploadBytes int64

	TelegramToken      string
	MediaGroupDebounce time.Duration
	MaxConcurrent      int
	MaxPendingUploads  int

	ConfigFile string
}

// Load reads the environment and, when CONFIG_FILE is set, overlays the model
// settings from that YAML file. A missing GEMINI_API_KEY is reported by
// gemini.Configure, so front-ends can still take the key from a flag.
func Load() (Config, error) {
	cfg := Config{
		GeminiModel:        strings.TrimSpace(getEnv("GEMINI_MODEL", gemini.DefaultModel)),
		GeminiBaseURL:      strings.TrimSpace(getEnv("GEMINI_BASE_URL", gemini.DefaultBaseURL)),
		GeminiAPIVersion:   strings.TrimSpace(getEnv("GEMINI_API_VERSION", gemini.DefaultAPIVersion)),
		Generation:         gemini.DefaultGenerationConfig(),
		Safety:             gemini.DefaultSafetyPolicy(),
		LogLevel:           strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		Debug:              getEnvBool("DEBUG", false),
		PreferIPv4:         getEnvBool("PREFER_IPV4", true),
		HTTPTimeout:        time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		RequestTimeout:     time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 240)) * time.Second,
		WebAddr:            strings.TrimSpace(getEnv("WEB_ADDR", ":8080")),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 25<<20)),
		MediaGroupDebounce: time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", 1200)) * time.Millisecond,
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT", 4),
		MaxPendingUploads:  getEnvInt("MAX_PENDING_UPLOADS", 10),
		ConfigFile:         strings.TrimSpace(os.Getenv("CONFIG_FILE")),
	}

	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))

	if cfg.ConfigFile != "" {
		if err := cfg.ApplyFile(cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 240 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxPendingUploads < 1 {
		cfg.MaxPendingUploads = 1
	}

	return cfg, nil
}

// ValidateBot checks the settings only the Telegram front-end needs.
func (c Config) ValidateBot() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

// GeminiOptions maps the model settings onto gemini.Options.
func (c Config) GeminiOptions(httpClient *http.Client, logger *slog.Logger) gemini.Options {
	return gemini.Options{
		APIKey:     c.GeminiAPIKey,
		Model:      c.GeminiModel,
		BaseURL:    c.GeminiBaseURL,
		APIVersion: c.GeminiAPIVersion,
		Generation: c.Generation,
		Safety:     c.Safety,
		HTTPClient: httpClient,
		Logger:     logger,
	}
}

// File is the YAML layout of CONFIG_FILE. Absent keys keep their defaults.
type File struct {
	Model      string            `yaml:"model,omitempty"`
	Generation *GenerationFile   `yaml:"generation,omitempty"`
	Safety     map[string]string `yaml:"safety,omitempty"`
}

type GenerationFile struct {
	Temperature      *float64 `yaml:"temperature,omitempty"`
	TopP             *float64 `yaml:"top_p,omitempty"`
	TopK             *int     `yaml:"top_k,omitempty"`
	MaxOutputTokens  *int     `yaml:"max_output_tokens,omitempty"`
	ResponseMimeType string   `yaml:"response_mime_type,omitempty"`
}

// ApplyFile overlays the YAML file at path onto c.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if m := strings.TrimSpace(f.Model); m != "" {
		c.GeminiModel = m
	}

	if g := f.Generation; g != nil {
		if g.Temperature != nil {
			c.Generation.Temperature = *g.Temperature
		}
		if g.TopP != nil {
			c.Generation.TopP = *g.TopP
		}
		if g.TopK != nil {
			c.Generation.TopK = *g.TopK
		}
		if g.MaxOutputTokens != nil {
			c.Generation.MaxOutputTokens = *g.MaxOutputTokens
		}
		if g.ResponseMimeType != "" {
			c.Generation.ResponseMimeType = g.ResponseMimeType
		}
	}

	if len(f.Safety) > 0 {
		policy := make(gemini.SafetyPolicy, len(f.Safety))
		for category, threshold := range f.Safety {
			category = strings.ToUpper(strings.TrimSpace(category))
			threshold = strings.ToUpper(strings.TrimSpace(threshold))
			if category == "" || threshold == "" {
				return fmt.Errorf("config file %s: empty safety entry", path)
			}
			policy[gemini.HarmCategory(category)] = gemini.BlockThreshold(threshold)
		}
		c.Safety = policy
	}

	c.ConfigFile = path
	return nil
}

// Describe renders the effective model settings in the CONFIG_FILE layout.
// The API key is never included.
func (c Config) Describe() ([]byte, error) {
	g := c.Generation
	f := File{
		Model: c.GeminiModel,
		Generation: &GenerationFile{
			Temperature:      &g.Temperature,
			TopP:             &g.TopP,
			TopK:             &g.TopK,
			MaxOutputTokens:  &g.MaxOutputTokens,
			ResponseMimeType: g.ResponseMimeType,
		},
		Safety: make(map[string]string, len(c.Safety)),
	}
	for category, threshold := range c.Safety {
		f.Safety[string(category)] = string(threshold)
	}
	return yaml.Marshal(f)
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

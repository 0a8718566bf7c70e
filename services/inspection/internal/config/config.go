package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string   `yaml:"port"`
	LogLevel           string   `yaml:"logLevel"`
	LogsDir            string   `yaml:"logsDir"`
	TimeZone           string   `yaml:"timeZone"`
	StoreDriver        string   `yaml:"storeDriver"`
	DatabaseURL        string   `yaml:"databaseURL"`
	RedisAddr          string   `yaml:"redisAddr"`
	RedisPassword      string   `yaml:"redisPassword"`
	RedisPrefix        string   `yaml:"redisPrefix"`
	GenerationProvider string   `yaml:"generationProvider"`
	GenerationBaseURL  string   `yaml:"generationBaseURL"`
	GenerationAPIKey   string   `yaml:"generationAPIKey"`
	GenerationModel    string   `yaml:"generationModel"`
	GenerationTimeout  string   `yaml:"generationTimeout"`
	QuestionDelay      string   `yaml:"questionDelay"`
	SessionIdleTimeout string   `yaml:"sessionIdleTimeout"`
	TokenSecret        string   `yaml:"tokenSecret"`
	TokenTTL           string   `yaml:"tokenTTL"`
	TrustedProxyCIDRs  []string `yaml:"trustedProxyCidrs"`
	MinioEndpoint      string   `yaml:"minioEndpoint"`
	MinioAccessKey     string   `yaml:"minioAccessKey"`
	MinioSecretKey     string   `yaml:"minioSecretKey"`
	MinioBucket        string   `yaml:"minioBucket"`
	MinioUseSSL        bool     `yaml:"minioUseSSL"`
	ArchiveURLExpiry   string   `yaml:"archiveURLExpiry"`
}

// Path returns MANUTAI_CONFIG when set, otherwise ConfigPath.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("MANUTAI_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to Path()). A missing file is not an
// error: defaults and environment overrides are used instead.
func Load(path string) (FileConfig, error) {
	cfg := defaults()
	if path == "" {
		path = Path()
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

	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.LogsDir, "LOGS_DIR")
	overrideString(&cfg.TimeZone, "TIME_ZONE")
	overrideString(&cfg.StoreDriver, "STORE_DRIVER")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.RedisAddr, "REDIS_ADDR")
	overrideString(&cfg.RedisPassword, "REDIS_PASSWORD")
	overrideString(&cfg.GenerationProvider, "GENERATION_PROVIDER")
	overrideString(&cfg.GenerationBaseURL, "GENERATION_BASE_URL")
	overrideString(&cfg.GenerationModel, "GENERATION_MODEL")
	overrideString(&cfg.GenerationAPIKey, "API_KEY")
	overrideString(&cfg.GenerationAPIKey, "GEMINI_API_KEY")
	overrideString(&cfg.GenerationTimeout, "GENERATION_TIMEOUT")
	overrideString(&cfg.QuestionDelay, "QUESTION_DELAY")
	overrideString(&cfg.SessionIdleTimeout, "SESSION_IDLE_TIMEOUT")
	overrideString(&cfg.TokenSecret, "TOKEN_SECRET")
	overrideString(&cfg.TokenTTL, "TOKEN_TTL")
	overrideString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	overrideString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	overrideString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	overrideString(&cfg.MinioBucket, "MINIO_BUCKET")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.GenerationProvider = strings.ToLower(strings.TrimSpace(cfg.GenerationProvider))

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaults() FileConfig {
	return FileConfig{
		Port:               "8080",
		LogLevel:           "info",
		TimeZone:           "America/Sao_Paulo",
		StoreDriver:        "memory",
		RedisPrefix:        "manutai",
		GenerationProvider: "gemini",
		GenerationTimeout:  "20s",
		SessionIdleTimeout: "2h",
		TokenTTL:           "12h",
		ArchiveURLExpiry:   "15m",
	}
}

func overrideString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	switch cfg.StoreDriver {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for storeDriver redis")
		}
	case "postgres", "sqlite":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return fmt.Errorf("config: databaseURL is required for storeDriver %s", cfg.StoreDriver)
		}
	default:
		return fmt.Errorf("config: unknown storeDriver %q (memory, redis, postgres, sqlite)", cfg.StoreDriver)
	}
	switch cfg.GenerationProvider {
	case "", "gemini", "ollama":
	case "openai", "openai-compat":
		if strings.TrimSpace(cfg.GenerationBaseURL) == "" {
			return errors.New("config: generationBaseURL is required for openai-compatible providers")
		}
	default:
		return fmt.Errorf("config: unknown generationProvider %q", cfg.GenerationProvider)
	}
	if len(strings.TrimSpace(cfg.TokenSecret)) < 16 {
		return errors.New("config: tokenSecret must be at least 16 characters (set in config.yaml or TOKEN_SECRET)")
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" && strings.TrimSpace(cfg.MinioBucket) == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	for name, value := range map[string]string{
		"generationTimeout":  cfg.GenerationTimeout,
		"questionDelay":      cfg.QuestionDelay,
		"sessionIdleTimeout": cfg.SessionIdleTimeout,
		"tokenTTL":           cfg.TokenTTL,
		"archiveURLExpiry":   cfg.ArchiveURLExpiry,
	} {
		if _, err := ParseDuration(name, value); err != nil {
			return err
		}
	}
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.TimeZone)); err != nil {
		return fmt.Errorf("config: invalid timeZone: %w", err)
	}
	return nil
}

// GenerationEnabled reports whether a model provider can be built.
// Gemini needs an API key; the local and compatible providers do not.
func (c FileConfig) GenerationEnabled() bool {
	switch c.GenerationProvider {
	case "", "gemini":
		return strings.TrimSpace(c.GenerationAPIKey) != ""
	default:
		return true
	}
}

const (
	defaultGenerationTimeout = 20 * time.Second
	// covers the report save and response encoding after the model call
	writeSlack = 30 * time.Second
)

// WriteTimeout bounds an HTTP response. An answer may wait for the pacing
// delay and one model call, so the server deadline always outlasts both.
func (c FileConfig) WriteTimeout() time.Duration {
	delay, _ := ParseDuration("questionDelay", c.QuestionDelay)
	gen, _ := ParseDuration("generationTimeout", c.GenerationTimeout)
	if gen == 0 {
		gen = defaultGenerationTimeout
	}
	return delay + gen + writeSlack
}

// ArchiveEnabled reports whether exported PDFs can be stored in object storage.
func (c FileConfig) ArchiveEnabled() bool {
	return strings.TrimSpace(c.MinioEndpoint) != ""
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

// ParseDuration parses an optional duration setting. Empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}

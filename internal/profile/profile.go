package profile

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Hosted LLM configuration (OpenAI-compatible protocol).
	// Used by the relevance judge and the memory extractor.
	LLMProvider string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMModel    string

	// Hosted embedding configuration, used for semantic dedup.
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string

	// Memory tuning
	DupCosine           float64
	DupLev              float64
	MinRelevance        float64
	MinChars            int
	MinTokens           int
	RelevanceTopK       int
	MaxMemoriesPerUser  int
	MaxTextChars        int
	EmbeddingCacheSize  int
	ProcessingMode      string
	ProviderTimeout     time.Duration
	ProviderConcurrency int
	CacheIdleTimeout    time.Duration
	CacheSweepInterval  time.Duration
	BackupInterval      time.Duration
	BackupRetentionDays int

	// Security
	APIKey         string
	AdminAPIKey    string
	SecretsKey     string
	RateLimitRPS   float64
	RateLimitBurst int

	// Server
	Mode           string
	Addr           string
	Port           int
	MaxConnections int
	Data           string
	Driver         string
	DSN            string
	ConfigDir      string
	Version        string
}

// Processing modes.
const (
	ProcessingModeHosted    = "hosted"
	ProcessingModeLocalOnly = "local_only"
)

// Provider default configurations for the hosted LLM.
// Used when the base URL or model is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-7B-Instruct",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "openai/gpt-4o-mini",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
}

var knownDrivers = map[string]bool{
	"file":     true,
	"sqlite":   true,
	"postgres": true,
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsHostedEnabled reports whether the hosted judge and extractor can be used.
func (p *Profile) IsHostedEnabled() bool {
	return p.ProcessingMode == ProcessingModeHosted && p.LLMAPIKey != ""
}

// IsHostedEmbeddingEnabled reports whether semantic dedup has a hosted embedder.
func (p *Profile) IsHostedEmbeddingEnabled() bool {
	return p.ProcessingMode == ProcessingModeHosted && p.EmbeddingAPIKey != ""
}

// IsAdminEnabled reports whether admin endpoints are reachable.
func (p *Profile) IsAdminEnabled() bool {
	return p.AdminAPIKey != ""
}

// IsSecretsEncryptionEnabled reports whether the Secrets bank is sealed at rest.
func (p *Profile) IsSecretsEncryptionEnabled() bool {
	return p.SecretsKey != ""
}

// BackupDir is the root of the date-partitioned backup archives.
func (p *Profile) BackupDir() string {
	return filepath.Join(p.Data, "backups")
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		slog.Warn("Invalid number in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

// getEnvOrDefaultDuration accepts Go durations ("90s", "30m") or plain seconds.
func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("Invalid duration in environment, using default", "key", key, "value", value)
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.APIKey = getEnvOrDefault("MEMORY_API_KEY", "")
	p.AdminAPIKey = getEnvOrDefault("MEMORY_ADMIN_API_KEY", "")
	p.SecretsKey = getEnvOrDefault("MEMORY_SECRETS_KEY", "")
	p.RateLimitRPS = getEnvOrDefaultFloat("RATE_LIMIT_RPS", 10)
	p.RateLimitBurst = getEnvOrDefaultInt("RATE_LIMIT_BURST", 20)

	p.DupCosine = getEnvOrDefaultFloat("DUP_COSINE", 0.92)
	p.DupLev = getEnvOrDefaultFloat("DUP_LEV", 0.90)
	p.MinRelevance = getEnvOrDefaultFloat("MIN_RELEVANCE_ON_UPLOAD", 0.45)
	p.MinChars = getEnvOrDefaultInt("MIN_CHARS", 8)
	p.MinTokens = getEnvOrDefaultInt("MIN_TOKENS", 2)
	p.RelevanceTopK = getEnvOrDefaultInt("RELEVANCE_TOP_K", 5)
	p.MaxMemoriesPerUser = getEnvOrDefaultInt("MAX_RAM_MEMORIES", 5000)
	p.MaxTextChars = getEnvOrDefaultInt("MAX_TEXT_CHARS", 2000)
	p.EmbeddingCacheSize = getEnvOrDefaultInt("EMBEDDING_CACHE_SIZE", 0)
	p.ProcessingMode = strings.ToLower(getEnvOrDefault("PROCESSING_MODE", ProcessingModeHosted))
	p.ProviderTimeout = getEnvOrDefaultDuration("PROVIDER_TIMEOUT", 8*time.Second)
	p.ProviderConcurrency = getEnvOrDefaultInt("PROVIDER_CONCURRENCY", 8)
	p.MaxConnections = getEnvOrDefaultInt("MAX_CONNECTIONS", 512)
	p.CacheIdleTimeout = getEnvOrDefaultDuration("CACHE_IDLE_TIMEOUT", 30*time.Minute)
	p.CacheSweepInterval = getEnvOrDefaultDuration("CACHE_SWEEP_INTERVAL", time.Minute)
	p.BackupInterval = getEnvOrDefaultDuration("BACKUP_INTERVAL", 24*time.Hour)
	p.BackupRetentionDays = getEnvOrDefaultInt("BACKUP_RETENTION_DAYS", 14)
	p.ConfigDir = getEnvOrDefault("FINJA_CONFIG_DIR", "config")

	// Hosted LLM configuration
	p.LLMProvider = getEnvOrDefault("FINJA_AI_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("FINJA_AI_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("FINJA_AI_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("FINJA_AI_LLM_MODEL", "")

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("Unknown LLM provider, using default: openai", "provider", p.LLMProvider)
		p.LLMProvider = "openai"
	}
	defaults := llmProviderDefaults[p.LLMProvider]
	if p.LLMBaseURL == "" {
		p.LLMBaseURL = defaults.BaseURL
	}
	if p.LLMModel == "" {
		p.LLMModel = defaults.Model
	}

	// Embedding configuration. The key falls back to the LLM key so a single
	// OpenAI key enables both.
	p.EmbeddingProvider = getEnvOrDefault("FINJA_AI_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingModel = getEnvOrDefault("FINJA_AI_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingAPIKey = getEnvOrDefault("FINJA_AI_EMBEDDING_API_KEY", p.LLMAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("FINJA_AI_EMBEDDING_BASE_URL", "https://api.openai.com/v1")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if err := os.MkdirAll(dataDir, 0o770); err != nil {
		return "", errors.Wrapf(err, "unable to create data folder %s", dataDir)
	}
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return errors.Errorf("%s must be within [0,1], got %v", name, v)
	}
	return nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.APIKey == "" {
		return errors.New("MEMORY_API_KEY is required in prod mode")
	}

	if p.Driver == "" {
		p.Driver = "file"
	}
	if !knownDrivers[p.Driver] {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn required for postgres driver")
	}

	if p.ProcessingMode != ProcessingModeHosted && p.ProcessingMode != ProcessingModeLocalOnly {
		return errors.Errorf("unsupported processing mode %q", p.ProcessingMode)
	}

	for name, v := range map[string]float64{
		"DUP_COSINE":              p.DupCosine,
		"DUP_LEV":                 p.DupLev,
		"MIN_RELEVANCE_ON_UPLOAD": p.MinRelevance,
	} {
		if err := checkUnit(name, v); err != nil {
			return err
		}
	}
	if p.MinChars < 0 || p.MinTokens < 0 {
		return errors.New("MIN_CHARS and MIN_TOKENS must not be negative")
	}
	if p.MaxMemoriesPerUser <= 0 {
		return errors.Errorf("MAX_RAM_MEMORIES must be positive, got %d", p.MaxMemoriesPerUser)
	}
	if p.MaxTextChars < max(p.MinChars, 1) {
		return errors.Errorf("MAX_TEXT_CHARS must be at least MIN_CHARS, got %d", p.MaxTextChars)
	}
	if p.ProviderConcurrency <= 0 || p.MaxConnections <= 0 {
		return errors.New("PROVIDER_CONCURRENCY and MAX_CONNECTIONS must be positive")
	}
	if p.RelevanceTopK <= 0 {
		p.RelevanceTopK = 5
	}
	if p.BackupRetentionDays <= 0 {
		return errors.Errorf("BACKUP_RETENTION_DAYS must be positive, got %d", p.BackupRetentionDays)
	}
	for name, d := range map[string]time.Duration{
		"PROVIDER_TIMEOUT":     p.ProviderTimeout,
		"CACHE_IDLE_TIMEOUT":   p.CacheIdleTimeout,
		"CACHE_SWEEP_INTERVAL": p.CacheSweepInterval,
		"BACKUP_INTERVAL":      p.BackupInterval,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "finja-memory")
		} else {
			p.Data = "/var/opt/finja-memory"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, "finja_memory_"+p.Mode+".db")
	}

	return nil
}

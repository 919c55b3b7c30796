package ai

import (
	"errors"
	"time"

	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/profile"
)

// Config represents hosted provider configuration for the memory pipeline.
type Config struct {
	Embedding EmbeddingConfig
	LLM       LLMConfig
	// Timeout bounds every hosted call; on expiry the caller falls back locally.
	Timeout time.Duration
	// LLMEnabled gates the relevance judge and the hosted extractor.
	LLMEnabled bool
	// EmbeddingEnabled gates semantic dedup and the embedding scorer.
	EmbeddingEnabled bool
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	CacheSize  int
}

// LLMConfig represents LLM configuration.
type LLMConfig struct {
	Provider    string // openai, deepseek, siliconflow, openrouter, ollama
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 512
	Temperature float32 // default: 0
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Timeout:          p.ProviderTimeout,
		LLMEnabled:       p.IsHostedEnabled(),
		EmbeddingEnabled: p.IsHostedEmbeddingEnabled(),
	}

	cfg.Embedding = EmbeddingConfig{
		Provider:  p.EmbeddingProvider,
		Model:     p.EmbeddingModel,
		APIKey:    p.EmbeddingAPIKey,
		BaseURL:   p.EmbeddingBaseURL,
		CacheSize: p.EmbeddingCacheSize,
	}

	// Classification needs short, deterministic answers.
	cfg.LLM = LLMConfig{
		Provider:    p.LLMProvider,
		Model:       p.LLMModel,
		APIKey:      p.LLMAPIKey,
		BaseURL:     p.LLMBaseURL,
		MaxTokens:   512,
		Temperature: 0,
	}
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLMEnabled {
		if c.LLM.Provider == "" {
			return errors.New("LLM provider is required")
		}
		if c.LLM.Model == "" {
			return errors.New("LLM model is required")
		}
	}
	if c.EmbeddingEnabled && c.Embedding.Model == "" {
		return errors.New("embedding model is required")
	}
	if (c.LLMEnabled || c.EmbeddingEnabled) && c.Timeout <= 0 {
		return errors.New("provider timeout must be positive")
	}
	return nil
}

package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete rebutqc configuration
type Config struct {
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Batching     BatchingConfig     `yaml:"batching" mapstructure:"batching"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Thresholds   Thresholds         `yaml:"thresholds" mapstructure:"thresholds"`
	Templates    TemplatesConfig    `yaml:"templates" mapstructure:"templates"`
	Criteria     CriteriaConfig     `yaml:"criteria" mapstructure:"criteria"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Pipeline     PipelineConfig     `yaml:"pipeline" mapstructure:"pipeline"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
}

// LLMConfig selects and configures the text-evaluation/generation service.
// The same provider serves scoring and rewriting; RewriteModel may differ.
type LLMConfig struct {
	Provider     string  `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama
	Model        string  `yaml:"model" mapstructure:"model"`
	RewriteModel string  `yaml:"rewrite_model,omitempty" mapstructure:"rewrite_model"`
	APIKey       string  `yaml:"-" mapstructure:"api_key"` // Never written to disk
	BaseURL      string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout      int     `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens    int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float32 `yaml:"temperature" mapstructure:"temperature"`
	HTTPProxy    string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy   string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// BatchingConfig bounds the number of items sent in one external call
type BatchingConfig struct {
	AssessSize  int `yaml:"assess_size" mapstructure:"assess_size" validate:"min=1"`
	RewriteSize int `yaml:"rewrite_size" mapstructure:"rewrite_size" validate:"min=1"`
}

// ConcurrencyConfig bounds concurrent batch calls within one phase
type ConcurrencyConfig struct {
	MaxCalls int `yaml:"max_calls" mapstructure:"max_calls" validate:"min=1"`
}

// RateLimitingConfig controls the token bucket in front of the external service
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// RetryConfig is the bounded retry budget for malformed or failed batch calls
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1"`
	Backoff     time.Duration `yaml:"backoff" mapstructure:"backoff"`
}

// Thresholds are the minimum passing scores per dimension
type Thresholds struct {
	Accuracy      int `yaml:"accuracy" json:"accuracy" mapstructure:"accuracy"`
	Completeness  int `yaml:"completeness" json:"completeness" mapstructure:"completeness"`
	Effectiveness int `yaml:"effectiveness" json:"effectiveness" mapstructure:"effectiveness"`
}

// TemplatesConfig points at the externally maintained prompt templates
type TemplatesConfig struct {
	URL            string `yaml:"url,omitempty" mapstructure:"url"` // base URL serving <kind>.txt
	Dir            string `yaml:"dir,omitempty" mapstructure:"dir"`
	EvaluationPath string `yaml:"evaluation_path,omitempty" mapstructure:"evaluation_path"`
	RewritePath    string `yaml:"rewrite_path,omitempty" mapstructure:"rewrite_path"`
}

// CriteriaConfig overrides the built-in per-dimension criteria text
type CriteriaConfig struct {
	Accuracy      string `yaml:"accuracy,omitempty" mapstructure:"accuracy"`
	Completeness  string `yaml:"completeness,omitempty" mapstructure:"completeness"`
	Effectiveness string `yaml:"effectiveness,omitempty" mapstructure:"effectiveness"`
}

// CacheConfig controls the scoring response cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// Failure policies applied when items end in a failure state
const (
	FailurePolicyDegrade = "degrade"
	FailurePolicyAbort   = "abort"
)

// PipelineConfig controls run-level behavior
type PipelineConfig struct {
	FailurePolicy string `yaml:"failure_policy" mapstructure:"failure_policy" validate:"oneof=degrade abort"`
	AssessOnly    bool   `yaml:"assess_only" mapstructure:"assess_only"`
}

// OutputConfig controls rendering
type OutputConfig struct {
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
	Indent  bool `yaml:"indent" mapstructure:"indent"`
}

// LogConfig controls the structured logger
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=text json"`
}

// MetricsConfig controls the Prometheus textfile export
type MetricsConfig struct {
	File string `yaml:"file,omitempty" mapstructure:"file"`
}

// DefaultThresholds returns the standard passing thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		Accuracy:      7,
		Completeness:  6,
		Effectiveness: 6,
	}
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() *Config {
	cacheDir := filepath.Join(os.TempDir(), "rebutqc-cache")
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".rebutqc", "cache")
	}

	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Timeout:     60,
			MaxTokens:   2000,
			Temperature: 0.2,
		},
		Batching: BatchingConfig{
			AssessSize:  3,
			RewriteSize: 2,
		},
		Concurrency: ConcurrencyConfig{
			MaxCalls: 2,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 1,
			BurstSize:         2,
		},
		Retry: RetryConfig{
			MaxAttempts: 2,
			Backoff:     2 * time.Second,
		},
		Thresholds: DefaultThresholds(),
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       cacheDir,
			MemoryTTL: time.Hour,
			DiskTTL:   24 * time.Hour,
		},
		Pipeline: PipelineConfig{
			FailurePolicy: FailurePolicyDegrade,
		},
		Output: OutputConfig{
			Indent: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// String renders thresholds for log lines and prompts
func (t Thresholds) String() string {
	return fmt.Sprintf("accuracy>=%d completeness>=%d effectiveness>=%d", t.Accuracy, t.Completeness, t.Effectiveness)
}

// For returns the threshold of a single dimension
func (t Thresholds) For(d Dimension) int {
	switch d {
	case DimensionAccuracy:
		return t.Accuracy
	case DimensionCompleteness:
		return t.Completeness
	case DimensionEffectiveness:
		return t.Effectiveness
	}
	return 0
}

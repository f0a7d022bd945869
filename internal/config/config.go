package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config represents the entire application configuration
type Config struct {
	Env          string             `json:"env"`
	Port         int                `json:"port"`
	AppName      string             `json:"app_name"`
	MongoDB      MongoDBConfig      `json:"mongodb"`
	Redis        RedisConfig        `json:"redis"`
	RabbitMQ     RabbitMQConfig     `json:"rabbitmq"`
	Storage      StorageConfig      `json:"storage"`
	Analyzers    []AnalyzerConfig   `json:"analyzers"`
	Executor     ExecutorConfig     `json:"executor"`
	Breaker      BreakerConfig      `json:"breaker"`
	Consensus    ConsensusConfig    `json:"consensus"`
	Verification VerificationConfig `json:"verification"`
	Cache        CacheConfig        `json:"cache"`
	Logging      LoggingConfig      `json:"logging"`
	CORS         CORSConfig         `json:"cors"`
}

// MongoDBConfig contains MongoDB connection details
type MongoDBConfig struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// RabbitMQConfig covers both the processing queue and the event exchange.
type RabbitMQConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	VHost         string `json:"vhost"`
	PrefetchCount int    `json:"prefetch_count"`
	QueueName     string `json:"queue_name"`
	ExchangeName  string `json:"exchange_name"`
	EventExchange string `json:"event_exchange"`
}

// StorageConfig contains S3 connection details for the document source bucket
type StorageConfig struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
}

// AnalyzerConfig describes one independent analysis backend.
type AnalyzerConfig struct {
	ID             string  `json:"id"`
	BaseURL        string  `json:"base_url"`
	APIKey         string  `json:"api_key"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	BaseWeight     float64 `json:"base_weight"`
	Verifier       bool    `json:"verifier"` // eligible for the verification pass
}

// ExecutorConfig controls task concurrency and retry behavior.
type ExecutorConfig struct {
	BaseDelayMs int `json:"base_delay_ms"`
	CapDelayMs  int `json:"cap_delay_ms"`
	MaxRetries  int `json:"max_retries"`
}

// BreakerConfig holds the circuit breaker thresholds shared by all task kinds.
type BreakerConfig struct {
	FailureThreshold       int `json:"failure_threshold"`
	RecoveryTimeoutSeconds int `json:"recovery_timeout_seconds"`
	SuccessThreshold       int `json:"success_threshold"`
}

// ConsensusConfig carries the scoring and calibration constants for the
// consensus engine. The calibration values are tuning knobs, not a measured
// accuracy model; see DefaultConsensusConfig.
type ConsensusConfig struct {
	RichnessThreshold   int     `json:"richness_threshold"`
	RichnessBoost       float64 `json:"richness_boost"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	TopFindings         int     `json:"top_findings"`
	AgreementBoostMax   float64 `json:"agreement_boost_max"`
	SignalBoost         float64 `json:"signal_boost"`
	ClampFloor          float64 `json:"clamp_floor"`
	ClampCeiling        float64 `json:"clamp_ceiling"`
	MinClampSignals     int     `json:"min_clamp_signals"`
}

// VerificationConfig controls the manual review decision.
type VerificationConfig struct {
	UncertaintyThreshold float64 `json:"uncertainty_threshold"`
	TimeoutSeconds       int     `json:"timeout_seconds"`
}

// CacheConfig controls both content cache layers.
type CacheConfig struct {
	MemoryCapacity int `json:"memory_capacity"`
	TTLHours       int `json:"ttl_hours"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"`
}

// LoadConfig reads configuration from the specified file path and fills in
// defaults for any tuning section left empty.
func LoadConfig(filePath string) (*Config, error) {
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.ApplyDefaults()

	return &config, nil
}

// ApplyDefaults fills zero-valued tuning fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Executor == (ExecutorConfig{}) {
		c.Executor = DefaultExecutorConfig()
	}
	if c.Breaker == (BreakerConfig{}) {
		c.Breaker = DefaultBreakerConfig()
	}
	if c.Consensus == (ConsensusConfig{}) {
		c.Consensus = DefaultConsensusConfig()
	}
	if c.Verification == (VerificationConfig{}) {
		c.Verification = DefaultVerificationConfig()
	}
	if c.Cache == (CacheConfig{}) {
		c.Cache = DefaultCacheConfig()
	}
}

// DefaultExecutorConfig returns the retry/backoff defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		BaseDelayMs: 200,
		CapDelayMs:  5000,
		MaxRetries:  3,
	}
}

// DefaultBreakerConfig returns the circuit breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:       3,
		RecoveryTimeoutSeconds: 30,
		SuccessThreshold:       2,
	}
}

// DefaultConsensusConfig returns the consensus tuning defaults. The clamp to
// [ClampFloor, ClampCeiling] is a reporting policy: the engine only claims a
// high accuracy score when several independent quality signals corroborate
// each other. None of these constants come from a measured accuracy model.
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		RichnessThreshold:   3,
		RichnessBoost:       0.15,
		SimilarityThreshold: 0.8,
		TopFindings:         7,
		AgreementBoostMax:   0.06,
		SignalBoost:         0.02,
		ClampFloor:          0.85,
		ClampCeiling:        0.99,
		MinClampSignals:     3,
	}
}

// DefaultVerificationConfig returns the verification defaults.
func DefaultVerificationConfig() VerificationConfig {
	return VerificationConfig{
		UncertaintyThreshold: 0.3,
		TimeoutSeconds:       60,
	}
}

// DefaultCacheConfig returns the content cache defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MemoryCapacity: 100,
		TTLHours:       24 * 7,
	}
}

// BaseDelay returns the executor base retry delay as a duration.
func (c ExecutorConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// CapDelay returns the executor retry delay ceiling as a duration.
func (c ExecutorConfig) CapDelay() time.Duration {
	return time.Duration(c.CapDelayMs) * time.Millisecond
}

// RecoveryTimeout returns the breaker recovery timeout as a duration.
func (c BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutSeconds) * time.Second
}

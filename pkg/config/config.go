package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Neo4j      Neo4jConfig
	Zilliz     ZillizConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Resolver   ResolverConfig
	Intent     IntentConfig
	Retrieval  RetrievalConfig
	Generation GenerationConfig
	Confidence ConfidenceConfig
	Review     ReviewConfig
	Learning   LearningConfig
	Pipeline   PipelineConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host                 string
	Port                 int
	ReadTimeout          int
	WriteTimeout         int
	BodyLimit            int
	MaxRequestsPerMinute int
	MaxQuestionLength    int
	AllowedOrigins       []string
	IsDevelopment        bool
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type ZillizConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	MaxTopK        int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	EmbeddingTTL int
	OverrideTTL  int
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	EmbeddingModel string
	EmbeddingDim   int
}

type ResolverConfig struct {
	AliasFile     string
	MinScore      float64
	FuzzyMinScore float64
	LoadFromGraph bool
}

type IntentConfig struct {
	LowConfidence float64
}

type RetrievalConfig struct {
	VectorTopK         int
	GraphMaxHops       int
	GraphPerHopLimit   int
	GraphPerNodeLimit  int
	GraphMaxPaths      int
	GraphLengthDecay   float64
	ContextTokenBudget int
	VectorSourceWeight float64
	GraphSourceWeight  float64
	TimeoutSec         int
	StoreAttempts      int
	RelationFile       string
}

type GenerationConfig struct {
	MaxAttempts           int
	InitialBackoffMs      int
	MaxBackoffMs          int
	BaseAttemptTimeoutSec int
	PerKTokenTimeoutSec   int
	TotalDeadlineSec      int
	MaxOutputTokens       int
	ContextWindow         int
	PromptOverheadTokens  int
}

type ConfidenceConfig struct {
	IntentWeight        float64
	EntityWeight        float64
	RetrievalWeight     float64
	RetrievalSaturation int
}

type ReviewConfig struct {
	Threshold       float64
	LowThreshold    float64
	Workers         int
	PersistAttempts int
}

type LearningConfig struct {
	Path        string
	MaxExamples int
	TopPatterns int
}

type PipelineConfig struct {
	DeadlineSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/policyqa")

	viper.SetEnvPrefix("POLICYQA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// Defaults are plain scalars; decoding cannot fail.
	_ = v.Unmarshal(&config)
	return &config
}

func (c *Config) Validate() error {
	var errs []error

	if c.Review.LowThreshold > c.Review.Threshold {
		errs = append(errs, fmt.Errorf("review.lowThreshold (%.2f) must not exceed review.threshold (%.2f)", c.Review.LowThreshold, c.Review.Threshold))
	}
	if c.Review.Threshold < 0 || c.Review.Threshold > 1 {
		errs = append(errs, fmt.Errorf("review.threshold must be within [0,1]"))
	}
	if c.Confidence.IntentWeight < 0 || c.Confidence.EntityWeight < 0 || c.Confidence.RetrievalWeight < 0 {
		errs = append(errs, fmt.Errorf("confidence weights must be non-negative"))
	}
	if c.Confidence.IntentWeight+c.Confidence.EntityWeight+c.Confidence.RetrievalWeight == 0 {
		errs = append(errs, fmt.Errorf("at least one confidence weight must be positive"))
	}
	if c.Retrieval.ContextTokenBudget <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.contextTokenBudget must be positive"))
	}
	headroom := c.Generation.ContextWindow - c.Generation.MaxOutputTokens - c.Generation.PromptOverheadTokens
	if c.Retrieval.ContextTokenBudget > headroom {
		errs = append(errs, fmt.Errorf("retrieval.contextTokenBudget (%d) exceeds generation headroom (%d)", c.Retrieval.ContextTokenBudget, headroom))
	}
	if c.Generation.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("generation.maxAttempts must be positive"))
	}

	return errors.Join(errs...)
}

func (c RetrievalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c PipelineConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSec) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 150)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.maxRequestsPerMinute", 60)
	v.SetDefault("server.maxQuestionLength", 2000)
	v.SetDefault("server.isDevelopment", false)

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.collectionName", "policy_manual")
	v.SetDefault("zilliz.vectorDim", 1536)
	v.SetDefault("zilliz.maxTopK", 16)

	v.SetDefault("sqlite.path", "./data/policyqa.db")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTL", 86400)
	v.SetDefault("redis.overrideTTL", 3600)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)

	v.SetDefault("resolver.aliasFile", "./config/aliases.yaml")
	v.SetDefault("resolver.minScore", 0.5)
	v.SetDefault("resolver.fuzzyMinScore", 0.92)
	v.SetDefault("resolver.loadFromGraph", true)

	v.SetDefault("intent.lowConfidence", 0.5)

	v.SetDefault("retrieval.vectorTopK", 8)
	v.SetDefault("retrieval.graphMaxHops", 2)
	v.SetDefault("retrieval.graphPerHopLimit", 10)
	v.SetDefault("retrieval.graphPerNodeLimit", 25)
	v.SetDefault("retrieval.graphMaxPaths", 20)
	v.SetDefault("retrieval.graphLengthDecay", 0.7)
	v.SetDefault("retrieval.contextTokenBudget", 3000)
	v.SetDefault("retrieval.vectorSourceWeight", 1.0)
	v.SetDefault("retrieval.graphSourceWeight", 0.9)
	v.SetDefault("retrieval.timeoutSec", 10)
	v.SetDefault("retrieval.storeAttempts", 2)
	v.SetDefault("retrieval.relationFile", "./config/relations.yaml")

	v.SetDefault("generation.maxAttempts", 3)
	v.SetDefault("generation.initialBackoffMs", 500)
	v.SetDefault("generation.maxBackoffMs", 4000)
	v.SetDefault("generation.baseAttemptTimeoutSec", 20)
	v.SetDefault("generation.perKTokenTimeoutSec", 5)
	v.SetDefault("generation.totalDeadlineSec", 90)
	v.SetDefault("generation.maxOutputTokens", 1024)
	v.SetDefault("generation.contextWindow", 8192)
	v.SetDefault("generation.promptOverheadTokens", 600)

	v.SetDefault("confidence.intentWeight", 0.4)
	v.SetDefault("confidence.entityWeight", 0.3)
	v.SetDefault("confidence.retrievalWeight", 0.3)
	v.SetDefault("confidence.retrievalSaturation", 5)

	v.SetDefault("review.threshold", 0.7)
	v.SetDefault("review.lowThreshold", 0.5)
	v.SetDefault("review.workers", 4)
	v.SetDefault("review.persistAttempts", 5)

	v.SetDefault("learning.path", "./data/learning")
	v.SetDefault("learning.maxExamples", 10)
	v.SetDefault("learning.topPatterns", 10)

	v.SetDefault("pipeline.deadlineSec", 120)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Zilliz    ZillizConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Retrieval RetrievalConfig
	Cache     CacheConfig
	Pipeline  PipelineConfig
	Owner     OwnerConfig
	Knowledge KnowledgeConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	AllowOrigins string
}

type ZillizConfig struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	IndexType      string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Model          string
	ReviewModel    string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
	EmbedBatchSize int
	ReviewEnabled  bool
	// ResponseLength is brief, normal or detailed.
	ResponseLength string
}

type RetrievalConfig struct {
	TopK                int
	MaxTopK             int
	SimilarityThreshold float64
	// SufficiencyThreshold is the best score below which the resume is
	// considered silent on the question.
	SufficiencyThreshold float64
	RerankEnabled        bool
}

type CacheConfig struct {
	EmbeddingTTL      time.Duration
	EmbeddingCapacity int
	ResultTTL         time.Duration
	ResultCapacity    int
	ResponseTTL       time.Duration
	ResponseCapacity  int
	PendingTTL        time.Duration
	PendingCapacity   int
	SweepInterval     time.Duration
	SweepEvery        int
}

type PipelineConfig struct {
	MaxConcurrent   int
	QueueTimeout    time.Duration
	TurnTimeout     time.Duration
	MaxSources      int
	MaxContextTurns int
	MaxDraftRunes   int
}

// OwnerConfig is the fixed answer for contact lookups.
type OwnerConfig struct {
	Name     string
	Email    string
	LinkedIn string
	GitHub   string
}

// KnowledgeConfig points at an optional JSON file of resume sections
// indexed at startup. The admin endpoint is only mounted when AdminToken
// is set.
type KnowledgeConfig struct {
	SeedPath     string
	ChunkSize    int
	ChunkOverlap int
	AdminToken   string
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads the given YAML file, or searches the default locations
// when path is empty.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/resumemate")
	}

	v.SetEnvPrefix("RESUMEMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings that would make the pipeline unbounded.
func (c *Config) Validate() error {
	var errs []error
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("retrieval.topK must be positive"))
	}
	if c.Retrieval.MaxTopK < c.Retrieval.TopK {
		errs = append(errs, errors.New("retrieval.maxTopK must be >= retrieval.topK"))
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		errs = append(errs, errors.New("retrieval.similarityThreshold must be within [0,1]"))
	}
	for name, n := range map[string]int{
		"cache.embeddingCapacity": c.Cache.EmbeddingCapacity,
		"cache.resultCapacity":    c.Cache.ResultCapacity,
		"cache.responseCapacity":  c.Cache.ResponseCapacity,
		"cache.pendingCapacity":   c.Cache.PendingCapacity,
		"pipeline.maxConcurrent":  c.Pipeline.MaxConcurrent,
		"pipeline.maxSources":     c.Pipeline.MaxSources,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	for name, d := range map[string]time.Duration{
		"cache.embeddingTTL":   c.Cache.EmbeddingTTL,
		"cache.resultTTL":      c.Cache.ResultTTL,
		"cache.responseTTL":    c.Cache.ResponseTTL,
		"cache.pendingTTL":     c.Cache.PendingTTL,
		"pipeline.turnTimeout": c.Pipeline.TurnTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowOrigins", "*")

	v.SetDefault("zilliz.enabled", true)
	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.apiKey", "")
	v.SetDefault("zilliz.collectionName", "resume_chunks")
	v.SetDefault("zilliz.vectorDim", 1536)
	v.SetDefault("zilliz.indexType", "AUTOINDEX")

	v.SetDefault("sqlite.path", "./data/resumemate.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.reviewModel", "gpt-4o-mini")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 30)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)
	v.SetDefault("llm.embedBatchSize", 16)
	v.SetDefault("llm.reviewEnabled", true)
	v.SetDefault("llm.responseLength", "normal")

	v.SetDefault("retrieval.topK", 5)
	v.SetDefault("retrieval.maxTopK", 20)
	v.SetDefault("retrieval.similarityThreshold", 0.2)
	v.SetDefault("retrieval.sufficiencyThreshold", 0.3)
	v.SetDefault("retrieval.rerankEnabled", true)

	v.SetDefault("cache.embeddingTTL", "24h")
	v.SetDefault("cache.embeddingCapacity", 2048)
	v.SetDefault("cache.resultTTL", "10m")
	v.SetDefault("cache.resultCapacity", 1024)
	v.SetDefault("cache.responseTTL", "2m")
	v.SetDefault("cache.responseCapacity", 512)
	v.SetDefault("cache.pendingTTL", "30m")
	v.SetDefault("cache.pendingCapacity", 1024)
	v.SetDefault("cache.sweepInterval", "1m")
	v.SetDefault("cache.sweepEvery", 100)

	v.SetDefault("pipeline.maxConcurrent", 8)
	v.SetDefault("pipeline.queueTimeout", "2s")
	v.SetDefault("pipeline.turnTimeout", "45s")
	v.SetDefault("pipeline.maxSources", 5)
	v.SetDefault("pipeline.maxContextTurns", 3)
	v.SetDefault("pipeline.maxDraftRunes", 600)

	v.SetDefault("owner.name", "")
	v.SetDefault("owner.email", "")
	v.SetDefault("owner.linkedIn", "")
	v.SetDefault("owner.gitHub", "")

	v.SetDefault("knowledge.seedPath", "")
	v.SetDefault("knowledge.chunkSize", 500)
	v.SetDefault("knowledge.chunkOverlap", 50)
	v.SetDefault("knowledge.adminToken", "")

	v.SetDefault("rateLimit.requestsPerMinute", 30)
	v.SetDefault("rateLimit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

// Package config assembles the typed runtime configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"github.com/wafkaw/book-digger/internal/util"
	"github.com/wafkaw/book-digger/pkg/cache"
	"github.com/wafkaw/book-digger/pkg/extract"
	"github.com/wafkaw/book-digger/pkg/graph"
)

var (
	// ErrMissingCredential is returned when the selected AI adapter needs a
	// key that is not configured.
	ErrMissingCredential = errors.New("config: missing credential")
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("config: invalid configuration")
)

const (
	AdapterOpenAI  = "openai"
	AdapterOllama  = "ollama"
	AdapterOffline = "offline"
)

type AIConfig struct {
	Adapter            string        `validate:"oneof=openai ollama offline"`
	ChatURL            string        `validate:"omitempty,url"`
	ChatKey            string
	ExtractModel       string
	MaxRetries         int           `validate:"gte=1,lte=10"`
	CallTimeout        time.Duration `validate:"gt=0"`
	ParallelRequests   int           `validate:"gte=1,lte=64"`
	RequestsPerSecond  float64       `validate:"gte=0"`
	TokenEncoder       string
	MaxHighlightTokens int `validate:"gte=0"`
}

type ExtractConfig struct {
	BatchSize           int     `validate:"gte=1,lte=50"`
	MaxConcepts         int     `validate:"gte=1,lte=20"`
	MaxThemes           int     `validate:"gte=1,lte=20"`
	MaxPeople           int     `validate:"gte=1,lte=20"`
	MaxEmotions         int     `validate:"gte=1,lte=20"`
	MinConceptLength    int     `validate:"gte=1"`
	ImportanceThreshold float64 `validate:"gte=0,lte=1"`
}

type GraphConfig struct {
	ImportanceStrategy      string  `validate:"oneof=max mean decay"`
	DecayFactor             float64 `validate:"gt=0,lte=1"`
	MinOccurrences          int     `validate:"gte=0"`
	MinRelationshipWeight   float64 `validate:"gte=0,lt=1"`
	MaxNodesPerType         int     `validate:"gte=0"`
	MaxHighlightsPerConcept int     `validate:"gte=1"`
}

type CacheConfig struct {
	Backend     string `validate:"oneof=memory file redis postgres tiered"`
	Path        string
	RedisURL    string
	RedisPrefix string
	RedisTTL    time.Duration `validate:"gte=0"`
	DatabaseURL string
}

type AWSConfig struct {
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	PublicEndpoint string
}

type QueueConfig struct {
	URL          string
	ParallelRuns int `validate:"gte=1"`
}

// Config is the complete runtime configuration.
type Config struct {
	Debug     bool
	OutputDir string
	AI        AIConfig
	Extract   ExtractConfig
	Graph     GraphConfig
	Cache     CacheConfig
	AWS       AWSConfig
	Queue     QueueConfig
}

func rabbitURL() string {
	if u := util.GetEnv("RABBITMQ_URL"); u != "" {
		return u
	}
	host := util.GetEnv("RABBITMQ_HOST")
	if host == "" {
		return ""
	}
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnvString("RABBITMQ_USER", "guest"),
		util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
		host,
		util.GetEnvString("RABBITMQ_PORT", "5672"),
	)
}

// FromEnv reads the configuration without validating it.
func FromEnv() *Config {
	defaults := extract.DefaultOptions()
	return &Config{
		Debug:     util.GetEnvBool("DEBUG", false),
		OutputDir: util.GetEnvString("OUTPUT_DIR", "vault"),
		AI: AIConfig{
			Adapter:            strings.ToLower(util.GetEnvString("AI_ADAPTER", AdapterOpenAI)),
			ChatURL:            util.GetEnv("AI_CHAT_URL"),
			ChatKey:            util.GetEnv("AI_CHAT_KEY"),
			ExtractModel:       util.GetEnvString("AI_CHAT_EXTRACT_MODEL", "gpt-4o-mini"),
			MaxRetries:         util.GetEnvInt("AI_MAX_RETRIES", extract.DefaultMaxAttempts),
			CallTimeout:        util.GetEnvDuration("AI_CALL_TIMEOUT", extract.DefaultCallTimeout),
			ParallelRequests:   util.GetEnvInt("AI_PARALLEL_REQUESTS", 4),
			RequestsPerSecond:  util.GetEnvNumeric("AI_REQUESTS_PER_SECOND", 0),
			TokenEncoder:       util.GetEnv("AI_TOKEN_ENCODER"),
			MaxHighlightTokens: util.GetEnvInt("AI_MAX_HIGHLIGHT_TOKENS", 0),
		},
		Extract: ExtractConfig{
			BatchSize:           util.GetEnvInt("AI_BATCH_SIZE", defaults.BatchSize),
			MaxConcepts:         util.GetEnvInt("AI_MAX_CONCEPTS", defaults.MaxConceptsPerHighlight),
			MaxThemes:           util.GetEnvInt("AI_MAX_THEMES", defaults.MaxThemesPerHighlight),
			MaxPeople:           util.GetEnvInt("AI_MAX_PEOPLE", defaults.MaxPeoplePerHighlight),
			MaxEmotions:         util.GetEnvInt("AI_MAX_EMOTIONS", defaults.MaxEmotionsPerHighlight),
			MinConceptLength:    util.GetEnvInt("AI_MIN_CONCEPT_LENGTH", defaults.MinConceptLength),
			ImportanceThreshold: util.GetEnvNumeric("AI_MIN_IMPORTANCE_THRESHOLD", defaults.ImportanceThreshold),
		},
		Graph: GraphConfig{
			ImportanceStrategy:      util.GetEnvString("GRAPH_IMPORTANCE_STRATEGY", string(graph.StrategyMax)),
			DecayFactor:             util.GetEnvNumeric("GRAPH_DECAY_FACTOR", graph.DefaultDecayFactor),
			MinOccurrences:          util.GetEnvInt("GRAPH_MIN_OCCURRENCES", 1),
			MinRelationshipWeight:   util.GetEnvNumeric("MIN_RELATIONSHIP_WEIGHT", 0),
			MaxNodesPerType:         util.GetEnvInt("MAX_NODES_PER_TYPE", 0),
			MaxHighlightsPerConcept: util.GetEnvInt("OUTPUT_MAX_HIGHLIGHTS_PER_CONCEPT", graph.DefaultMaxSourcesPerNode),
		},
		Cache: CacheConfig{
			Backend:     strings.ToLower(util.GetEnvString("CACHE_BACKEND", cache.BackendFile)),
			Path:        util.GetEnvString("CACHE_PATH", "cache/extractions.jsonl"),
			RedisURL:    util.GetEnv("REDIS_URL"),
			RedisPrefix: util.GetEnvString("REDIS_PREFIX", cache.DefaultRedisPrefix),
			RedisTTL:    util.GetEnvDuration("REDIS_TTL", 0),
			DatabaseURL: util.GetEnv("DATABASE_URL"),
		},
		AWS: AWSConfig{
			Region:         util.GetEnvString("AWS_REGION", "us-east-1"),
			Endpoint:       util.GetEnv("AWS_ENDPOINT"),
			AccessKey:      util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey:      util.GetEnv("AWS_SECRET_KEY"),
			Bucket:         util.GetEnv("AWS_BUCKET"),
			PublicEndpoint: util.GetEnv("AWS_PUBLIC_ENDPOINT"),
		},
		Queue: QueueConfig{
			URL:          rabbitURL(),
			ParallelRuns: util.GetEnvInt("WORKER_PARALLEL_RUNS", 2),
		},
	}
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	c := FromEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var validate = validator.New()

// Validate checks field ranges and the cross-field requirements of the
// selected adapter and cache backend.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			problems := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if c.AI.Adapter == AdapterOpenAI && c.AI.ChatKey == "" {
		return fmt.Errorf("%w: AI_CHAT_KEY is required for the openai adapter", ErrMissingCredential)
	}

	switch c.Cache.Backend {
	case cache.BackendFile:
		if c.Cache.Path == "" {
			return fmt.Errorf("%w: CACHE_PATH is required for the file cache", ErrInvalid)
		}
	case cache.BackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("%w: REDIS_URL is required for the redis cache", ErrInvalid)
		}
	case cache.BackendTiered:
		if c.Cache.RedisURL == "" || c.Cache.Path == "" {
			return fmt.Errorf("%w: REDIS_URL and CACHE_PATH are required for the tiered cache", ErrInvalid)
		}
	case cache.BackendPostgres:
		if c.Cache.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the postgres cache", ErrInvalid)
		}
	}
	return nil
}

func (c *Config) ExtractOptions() extract.Options {
	return extract.Options{
		MaxConceptsPerHighlight: c.Extract.MaxConcepts,
		MaxThemesPerHighlight:   c.Extract.MaxThemes,
		MaxPeoplePerHighlight:   c.Extract.MaxPeople,
		MaxEmotionsPerHighlight: c.Extract.MaxEmotions,
		MinConceptLength:        c.Extract.MinConceptLength,
		ImportanceThreshold:     c.Extract.ImportanceThreshold,
		BatchSize:               c.Extract.BatchSize,
	}
}

// FilterOptions maps the thresholds onto the graph quality filter. The
// extraction importance threshold becomes the node importance floor.
func (c *Config) FilterOptions() graph.FilterOptions {
	return graph.FilterOptions{
		MinImportance:   c.Extract.ImportanceThreshold,
		MinOccurrences:  c.Graph.MinOccurrences,
		MinEdgeWeight:   c.Graph.MinRelationshipWeight,
		MaxNodesPerKind: c.Graph.MaxNodesPerType,
	}
}

func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:     c.Cache.Backend,
		Path:        c.Cache.Path,
		RedisURL:    c.Cache.RedisURL,
		RedisPrefix: c.Cache.RedisPrefix,
		RedisTTL:    c.Cache.RedisTTL,
		DatabaseURL: c.Cache.DatabaseURL,
	}
}

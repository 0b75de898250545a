package config

import (
	"context"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"

	"github.com/wafkaw/book-digger/internal/storage"
	"github.com/wafkaw/book-digger/pkg/ai"
	"github.com/wafkaw/book-digger/pkg/ai/ollama"
	"github.com/wafkaw/book-digger/pkg/ai/openai"
	"github.com/wafkaw/book-digger/pkg/cache"
	"github.com/wafkaw/book-digger/pkg/extract"
	"github.com/wafkaw/book-digger/pkg/graph"
	"github.com/wafkaw/book-digger/pkg/logger"
	"github.com/wafkaw/book-digger/pkg/pipeline"
)

// NewTokenCounter returns the counter for the configured encoder.
func (c *Config) NewTokenCounter() (ai.TokenCounter, error) {
	return ai.NewTokenCounter(c.AI.TokenEncoder)
}

// NewAIClient returns the client for the configured adapter. The offline
// adapter yields a nil client, which makes the extractor run locally.
func (c *Config) NewAIClient(tokens ai.TokenCounter) (ai.GraphAIClient, error) {
	switch c.AI.Adapter {
	case AdapterOpenAI:
		client, err := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
			ExtractionModel: c.AI.ExtractModel,
			ChatURL:         c.AI.ChatURL,
			ChatKey:         c.AI.ChatKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return client, nil
	case AdapterOllama:
		client, err := ollama.NewGraphOllamaClient(ollama.NewGraphOllamaClientParams{
			ExtractionModel:       c.AI.ExtractModel,
			BaseURL:               c.AI.ChatURL,
			ApiKey:                c.AI.ChatKey,
			MaxConcurrentRequests: int64(c.AI.ParallelRequests),
			Tokens:                tokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return client, nil
	case AdapterOffline:
		logger.Warn("[Config] Offline adapter selected, highlights use the local extractor")
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown AI adapter %q", ErrInvalid, c.AI.Adapter)
}

func (c *Config) limiter() *rate.Limiter {
	rps := c.AI.RequestsPerSecond
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), int(math.Max(1, math.Ceil(rps))))
}

// NewExtractor wires the AI client, the cache and the call limits into an
// extraction client.
func (c *Config) NewExtractor(client ai.GraphAIClient, store cache.Store, tokens ai.TokenCounter) *extract.Client {
	return extract.NewClient(extract.NewClientParams{
		AI:                 client,
		Cache:              store,
		Options:            c.ExtractOptions(),
		MaxAttempts:        c.AI.MaxRetries,
		CallTimeout:        c.AI.CallTimeout,
		Limiter:            c.limiter(),
		Tokens:             tokens,
		MaxHighlightTokens: c.AI.MaxHighlightTokens,
	})
}

func (c *Config) NewRunner(extractor *extract.Client, store cache.Store) (*pipeline.Runner, error) {
	return pipeline.NewRunner(pipeline.NewRunnerParams{
		Extractor:          extractor,
		Cache:              store,
		ParallelBatches:    c.AI.ParallelRequests,
		ImportanceStrategy: graph.ImportanceStrategy(c.Graph.ImportanceStrategy),
		DecayFactor:        c.Graph.DecayFactor,
		MaxSourcesPerNode:  c.Graph.MaxHighlightsPerConcept,
		Filter:             c.FilterOptions(),
	})
}

// Stack is everything a run needs, opened from one Config.
type Stack struct {
	AI     ai.GraphAIClient
	Cache  cache.Store
	Runner *pipeline.Runner
	// Tokens is shared by the AI client and the extractor.
	Tokens ai.TokenCounter
}

// Close releases the cache.
func (s *Stack) Close() error {
	if s.Cache == nil {
		return nil
	}
	return s.Cache.Close()
}

// Open builds the AI client, the cache, the extractor and the runner.
func (c *Config) Open(ctx context.Context) (*Stack, error) {
	tokens, err := c.NewTokenCounter()
	if err != nil {
		return nil, err
	}
	client, err := c.NewAIClient(tokens)
	if err != nil {
		return nil, err
	}
	store, err := cache.Open(ctx, c.CacheOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	extractor := c.NewExtractor(client, store, tokens)
	runner, err := c.NewRunner(extractor, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &Stack{AI: client, Cache: store, Runner: runner, Tokens: tokens}, nil
}

// NewS3 connects to the configured bucket endpoint.
func (c *Config) NewS3(ctx context.Context) (*s3.Client, error) {
	if c.AWS.Bucket == "" {
		return nil, storage.ErrNoBucket
	}
	return storage.NewS3Client(ctx, storage.S3Params{
		Region:    c.AWS.Region,
		Endpoint:  c.AWS.Endpoint,
		AccessKey: c.AWS.AccessKey,
		SecretKey: c.AWS.SecretKey,
	})
}

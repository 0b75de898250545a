// Package extract turns batches of highlights into per-highlight extraction
// results, calling the language service with retries and falling back to a
// local extractor when the service cannot deliver.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/wafkaw/book-digger/internal/util"
	"github.com/wafkaw/book-digger/pkg/ai"
	"github.com/wafkaw/book-digger/pkg/cache"
	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/logger"
)

const (
	DefaultMaxAttempts = 3
	DefaultCallTimeout = 60 * time.Second

	breakerConsecutiveFailures = 5
	breakerOpenTimeout         = 30 * time.Second

	formatName        = "highlight_extraction"
	formatDescription = "Concepts, themes, people and emotions for each highlight"
)

// errUnresolved marks an attempt that left highlights without a valid result.
var errUnresolved = errors.New("extract: highlights left unresolved")

// Client analyzes batches of highlights. It is safe for concurrent use; the
// limiter and breaker are shared by every batch.
type Client struct {
	ai                 ai.GraphAIClient
	cache              cache.Store
	fallback           *Fallback
	norm               normalizer
	opts               Options
	maxAttempts        int
	backoff            util.Backoff
	callTimeout        time.Duration
	limiter            *rate.Limiter
	breaker            *gobreaker.CircuitBreaker
	tokens             ai.TokenCounter
	maxHighlightTokens int
}

// NewClientParams configures a Client. A nil AI runs every batch through the
// fallback extractor. A nil Cache disables result caching.
type NewClientParams struct {
	AI                 ai.GraphAIClient
	Cache              cache.Store
	Options            Options
	MaxAttempts        int
	Backoff            util.Backoff
	CallTimeout        time.Duration
	Limiter            *rate.Limiter
	Breaker            *gobreaker.CircuitBreaker
	Tokens             ai.TokenCounter
	MaxHighlightTokens int
}

// NewBreaker returns the circuit breaker used when none is supplied: it opens
// after five consecutive failed calls and probes again after thirty seconds.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// the caller giving up says nothing about the service
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("[Extract] Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// NewClient creates a Client, filling unset parameters with defaults.
func NewClient(params NewClientParams) *Client {
	opts := params.Options.withDefaults()

	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	callTimeout := params.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	backoff := params.Backoff
	if backoff.Initial <= 0 {
		backoff = util.DefaultBackoff
	}
	breaker := params.Breaker
	if breaker == nil {
		breaker = NewBreaker("extract")
	}
	var tokens ai.TokenCounter = ai.ApproxTokenCounter{}
	if params.Tokens != nil {
		tokens = params.Tokens
	}

	return &Client{
		ai:                 params.AI,
		cache:              params.Cache,
		fallback:           NewFallback(opts),
		norm:               normalizer{opts: opts},
		opts:               opts,
		maxAttempts:        maxAttempts,
		backoff:            backoff,
		callTimeout:        callTimeout,
		limiter:            params.Limiter,
		breaker:            breaker,
		tokens:             tokens,
		maxHighlightTokens: params.MaxHighlightTokens,
	}
}

// Offline reports whether the client never calls the service.
func (c *Client) Offline() bool {
	return c.ai == nil
}

// Conform applies the current caps and term filter to a cached result.
func (c *Client) Conform(r common.ExtractionResult) common.ExtractionResult {
	return c.norm.conform(r)
}

// Options returns the effective extraction options.
func (c *Client) Options() Options {
	return c.opts
}

// Outcome is the result of analyzing one batch. Results and Degraded are
// index-aligned with the input highlights.
type Outcome struct {
	Results  []common.ExtractionResult
	Degraded []bool
	State    State
	Attempts int
	History  []State
}

// DegradedCount returns how many results came from the fallback extractor.
func (o Outcome) DegradedCount() int {
	n := 0
	for _, d := range o.Degraded {
		if d {
			n++
		}
	}
	return n
}

type analyzeConfig struct {
	book  common.BookMetadata
	usage *ai.MetricsRecorder
}

// AnalyzeOption customizes a single Analyze call.
type AnalyzeOption func(*analyzeConfig)

// WithBook adds the book's title and author to the prompt.
func WithBook(meta common.BookMetadata) AnalyzeOption {
	return func(c *analyzeConfig) {
		c.book = meta
	}
}

// WithUsage also records the service usage of this call into rec.
func WithUsage(rec *ai.MetricsRecorder) AnalyzeOption {
	return func(c *analyzeConfig) {
		c.usage = rec
	}
}

// Analyze returns exactly one result per input highlight. Service failures
// never fail the call: unresolved highlights are analyzed by the fallback and
// marked degraded. The only error returned is the context's.
func (c *Client) Analyze(ctx context.Context, highlights []common.Highlight, opts ...AnalyzeOption) (Outcome, error) {
	var cfg analyzeConfig
	for _, o := range opts {
		o(&cfg)
	}

	m := newMachine()
	n := len(highlights)
	out := Outcome{
		Results:  make([]common.ExtractionResult, n),
		Degraded: make([]bool, n),
	}
	finish := func() (Outcome, error) {
		out.State = m.state
		out.History = m.history
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	if n == 0 {
		m.must(StateCalling)
		m.must(StateSucceeded)
		return finish()
	}

	if c.ai == nil {
		m.must(StateDegraded)
		c.degrade(highlights, allIndices(n), &out)
		return finish()
	}

	pending := allIndices(n)
	attempt := 0
	delays := retry.WithMaxRetries(uint64(c.maxAttempts-1), c.backoff.Schedule())
	err := retry.Do(ctx, delays, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			m.must(StateRetrying)
			logger.Debug("[Extract] Retrying batch", "attempt", attempt, "pending", len(pending))
		}

		if c.breaker.State() == gobreaker.StateOpen {
			logger.Warn("[Extract] Circuit open, degrading batch", "pending", len(pending))
			return gobreaker.ErrOpenState
		}

		m.must(StateCalling)
		out.Attempts++

		sub := make([]common.Highlight, len(pending))
		for i, idx := range pending {
			sub[i] = highlights[idx]
		}

		resp, err := c.call(ctx, cfg, sub)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Warn("[Extract] Service call failed", "attempt", attempt, "pending", len(pending), "err", err)
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return err
			}
			return retry.RetryableError(err)
		}

		resolved, problems := c.norm.resolve(resp, len(sub))
		for _, p := range problems {
			logger.Warn("[Extract] Discarding response item", "attempt", attempt, "err", p)
		}

		var still []int
		for local, idx := range pending {
			r := resolved[local]
			if r == nil {
				still = append(still, idx)
				continue
			}
			out.Results[idx] = *r
			c.remember(ctx, highlights[idx], *r)
		}
		pending = still

		if len(pending) > 0 {
			return retry.RetryableError(errUnresolved)
		}
		return nil
	})
	if err == nil {
		m.must(StateSucceeded)
		return finish()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, ctxErr
	}

	m.must(StateDegraded)
	c.degrade(highlights, pending, &out)
	logger.Warn("[Extract] Batch degraded", "size", n, "degraded", len(pending), "attempts", out.Attempts)
	return finish()
}

// call performs one rate limited, circuit protected service request.
func (c *Client) call(ctx context.Context, cfg analyzeConfig, highlights []common.Highlight) (extractionResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return extractionResponse{}, fmt.Errorf("rate limit: %w", err)
		}
	}

	prompt := c.buildPrompt(cfg.book, highlights)

	res, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		var resp extractionResponse
		err := c.ai.GenerateCompletionWithFormat(
			callCtx,
			formatName,
			formatDescription,
			prompt,
			&resp,
			ai.WithSystemPrompts(ai.HighlightSystemPrompt),
			ai.WithUsage(cfg.usage),
		)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return extractionResponse{}, err
	}
	return res.(extractionResponse), nil
}

func (c *Client) remember(ctx context.Context, h common.Highlight, r common.ExtractionResult) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Store(ctx, h.Fingerprint(), r); err != nil {
		logger.Warn("[Extract] Failed to cache result", "key", h.Key(), "err", err)
	}
}

func (c *Client) degrade(highlights []common.Highlight, indices []int, out *Outcome) {
	for _, idx := range indices {
		out.Results[idx] = c.fallback.Extract(highlights[idx])
		out.Degraded[idx] = true
	}
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range n {
		out[i] = i
	}
	return out
}

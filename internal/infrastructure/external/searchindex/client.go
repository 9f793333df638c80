// Package searchindex implements the candidate prefilter on an
// OpenSearch-compatible program index. It narrows the catalog before
// requirement evaluation; it never decides the final ranking.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
	"github.com/unimatch/match-engine/pkg/circuitbreaker"
	"github.com/unimatch/match-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config configures the search index client.
type Config struct {
	// Enabled turns the prefilter on.
	Enabled bool `mapstructure:"enabled"`

	// BaseURL is the index endpoint, e.g. http://localhost:9200.
	BaseURL string `mapstructure:"base_url"`

	// Index is the program index name.
	Index string `mapstructure:"index"`

	// APIKey is sent as "Authorization: ApiKey <key>" when set.
	APIKey string `mapstructure:"api_key"`

	// Timeout bounds one HTTP attempt.
	Timeout time.Duration `mapstructure:"timeout"`

	// RetryMax is the number of retries after the first attempt.
	RetryMax int `mapstructure:"retry_max"`

	// MaxCandidates caps the returned id count.
	MaxCandidates int `mapstructure:"max_candidates"`

	RateLimit RateLimiterConfig `mapstructure:"rate_limit"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:9200",
		Index:         "programs",
		Timeout:       500 * time.Millisecond,
		RetryMax:      1,
		MaxCandidates: 2000,
		RateLimit:     DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client queries the program index.
type Client struct {
	config  Config
	http    *retryablehttp.Client
	limiter *RateLimiter
	breaker *circuitbreaker.CircuitBreaker
	log     *zap.Logger
}

var _ matching.CandidatePrefilter = (*Client)(nil)

// NewClient creates a Client.
func NewClient(config Config, log *zap.Logger) *Client {
	defaults := DefaultConfig()
	if config.Index == "" {
		config.Index = defaults.Index
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = defaults.MaxCandidates
	}
	log = logger.OrNop(log).Named("searchindex")

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = config.RetryMax
	httpClient.RetryWaitMin = 20 * time.Millisecond
	httpClient.RetryWaitMax = 200 * time.Millisecond
	httpClient.HTTPClient.Timeout = config.Timeout
	httpClient.Logger = leveledLogger{log.Sugar()}

	return &Client{
		config:  config,
		http:    httpClient,
		limiter: NewRateLimiter(config.RateLimit),
		breaker: circuitbreaker.SearchIndexBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("search index breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
		log: log,
	}
}

// CandidateIDs returns the ids of programs matching hints. Any failure is
// reported as shared.ErrPrefilterUnavailable.
func (c *Client) CandidateIDs(ctx context.Context, hints matching.FilterHints) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, shared.WrapError("prefilter", "Search", shared.ErrServiceUnavailable, "rate limited", err)
	}

	var ids []string
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		ids, err = c.search(ctx, hints)
		return err
	})
	if err != nil {
		return nil, shared.WrapError("prefilter", "Search", shared.ErrServiceUnavailable, "search index request failed", err)
	}
	return ids, nil
}

func (c *Client) search(ctx context.Context, hints matching.FilterHints) ([]string, error) {
	size := c.config.MaxCandidates
	if hints.Limit > 0 && hints.Limit < size {
		size = hints.Limit
	}
	body, err := json.Marshal(buildQuery(hints, size))
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/" + c.config.Index + "/_search"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "ApiKey "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		reason := gjson.GetBytes(raw, "error.reason").String()
		return nil, fmt.Errorf("search index returned %d: %s", resp.StatusCode, reason)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("search index returned invalid JSON")
	}

	hits := gjson.GetBytes(raw, "hits.hits.#._id").Array()
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if id := h.String(); id != "" {
			ids = append(ids, id)
		}
	}

	c.log.Debug("prefilter search done",
		zap.Int("candidates", len(ids)),
		zap.Int64("total", gjson.GetBytes(raw, "hits.total.value").Int()),
		logger.Latency(time.Since(start)),
	)
	return ids, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY
// ══════════════════════════════════════════════════════════════════════════════

type object = map[string]any

// buildQuery renders hints as a bool filter query. Programs without a
// minimum aggregate always pass the aggregate filter.
func buildQuery(hints matching.FilterHints, size int) object {
	filters := []object{}
	if len(hints.ProgramIDs) > 0 {
		filters = append(filters, object{"ids": object{"values": hints.ProgramIDs}})
	}
	if len(hints.PreferredFieldIDs) > 0 {
		filters = append(filters, object{"terms": object{"field_id": hints.PreferredFieldIDs}})
	}
	if len(hints.PreferredCountryIDs) > 0 {
		filters = append(filters, object{"terms": object{"country_id": hints.PreferredCountryIDs}})
	}
	if hints.AggregateFloor > 0 {
		filters = append(filters, object{"bool": object{
			"should": []object{
				{"bool": object{"must_not": object{"exists": object{"field": "min_aggregate_score"}}}},
				{"range": object{"min_aggregate_score": object{"lte": hints.AggregateFloor}}},
			},
			"minimum_should_match": 1,
		}})
	}

	return object{
		"size":    size,
		"_source": false,
		"sort":    []object{{"_id": "asc"}},
		"query":   object{"bool": object{"filter": filters}},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

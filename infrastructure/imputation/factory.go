package imputation

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-fairrank/internal/domain"
	"github.com/ahrav/go-fairrank/internal/ports"
)

// Config selects an imputation strategy and its resilience settings.
type Config struct {
	// Strategy is "centroid" or "borda".
	Strategy string `yaml:"strategy" json:"strategy" validate:"omitempty,oneof=centroid borda"`

	// RateLimit caps calls per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`

	// Burst is the token bucket size used with RateLimit.
	Burst int `yaml:"burst" json:"burst" validate:"gte=0"`

	// MaxRetries is the number of extra attempts on transient failures.
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`

	// Timeout bounds one call; zero means no deadline.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`

	// CircuitBreakerFailures opens the breaker after this many consecutive
	// failures; zero disables it.
	CircuitBreakerFailures int `yaml:"circuit_breaker_failures" json:"circuit_breaker_failures" validate:"gte=0"`

	// CircuitBreakerCooldown is how long an open breaker rejects calls.
	CircuitBreakerCooldown time.Duration `yaml:"circuit_breaker_cooldown" json:"circuit_breaker_cooldown" validate:"gte=0"`

	// Metrics receives per-call latency and outcome when set.
	Metrics ports.MetricsCollector `yaml:"-" json:"-"`
}

// DefaultConfig returns the centroid strategy without throttling.
func DefaultConfig() Config {
	return Config{Strategy: "centroid"}
}

// New builds an imputer for the configured strategy and wraps it with
// tracing, metrics, rate limiting, retry, circuit breaking and timeout as
// configured. The breaker sits inside the retry loop so retries stop once
// it opens.
func New(cfg Config) (ports.Imputer, error) {
	var base ports.Imputer
	switch cfg.Strategy {
	case "", "centroid":
		base = NewCentroidImputer()
	case "borda":
		base = NewBordaImputer()
	default:
		return nil, fmt.Errorf("%w: unknown imputation strategy %q", domain.ErrInvalidConfiguration, cfg.Strategy)
	}

	mws := []Middleware{TracingMiddleware()}
	if cfg.Metrics != nil {
		mws = append(mws, MetricsMiddleware(cfg.Metrics))
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, RateLimitMiddleware(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1)))
	}
	if cfg.MaxRetries > 0 {
		mws = append(mws, RetryMiddleware(cfg.MaxRetries, 50*time.Millisecond, 2*time.Second))
	}
	if cfg.CircuitBreakerFailures > 0 {
		cooldown := cfg.CircuitBreakerCooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		mws = append(mws, CircuitBreakerMiddleware(NewCircuitBreaker(cfg.CircuitBreakerFailures, cooldown)))
	}
	if cfg.Timeout > 0 {
		mws = append(mws, TimeoutMiddleware(cfg.Timeout))
	}
	return Chain(base, mws...), nil
}

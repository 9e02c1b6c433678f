// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// Cost lookup defaults.
const (
	// DefaultCostAttempts is the lookup budget per generation.
	DefaultCostAttempts = 5

	DefaultCostBaseDelay   = 500 * time.Millisecond
	DefaultCostGrowth      = 2.0
	DefaultCostMaxJitter   = 250 * time.Millisecond
	DefaultCostLookupRate  = 10.0
	defaultCostLookupBurst = 10

	// costMaxDelay caps a single backoff before jitter.
	costMaxDelay = 10 * time.Second
)

// =============================================================================
// COST RECONCILER
// =============================================================================

// CostReconciler looks up the billed cost of a generation. OpenRouter bills
// asynchronously, so the first lookups after a completion usually report
// nothing; the reconciler retries with exponential backoff and jitter and
// quietly gives up when the budget runs out.
type CostReconciler struct {
	settings   SettingsSource
	httpClient *http.Client
	limiter    *rate.Limiter

	baseDelay time.Duration
	growth    float64
	maxJitter time.Duration

	siteURL  string
	siteName string

	log     zerolog.Logger
	metrics *telemetry.Metrics
}

// CostOption configures a CostReconciler.
type CostOption func(*CostReconciler)

// WithBackoff sets the retry delay parameters.
func WithBackoff(base time.Duration, growth float64, maxJitter time.Duration) CostOption {
	return func(r *CostReconciler) {
		if base >= 0 {
			r.baseDelay = base
		}
		if growth >= 1 {
			r.growth = growth
		}
		if maxJitter >= 0 {
			r.maxJitter = maxJitter
		}
	}
}

// WithLookupRate bounds lookups per second across all generations.
// A rate of zero or less disables limiting.
func WithLookupRate(perSecond float64) CostOption {
	return func(r *CostReconciler) {
		if perSecond <= 0 {
			r.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(math.Ceil(perSecond))
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithCostHTTPClient overrides the HTTP client used for lookups.
func WithCostHTTPClient(c *http.Client) CostOption {
	return func(r *CostReconciler) { r.httpClient = c }
}

// WithCostLogger sets the reconciler logger.
func WithCostLogger(l zerolog.Logger) CostOption {
	return func(r *CostReconciler) { r.log = l }
}

// WithCostMetrics records lookup outcomes.
func WithCostMetrics(m *telemetry.Metrics) CostOption {
	return func(r *CostReconciler) { r.metrics = m }
}

// NewCostReconciler creates a reconciler reading credentials from settings.
func NewCostReconciler(settings SettingsSource, opts ...CostOption) *CostReconciler {
	r := &CostReconciler{
		settings:   settings,
		httpClient: sharedHTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(DefaultCostLookupRate), defaultCostLookupBurst),
		baseDelay:  DefaultCostBaseDelay,
		growth:     DefaultCostGrowth,
		maxJitter:  DefaultCostMaxJitter,
		siteURL:    defaultSiteURL,
		siteName:   defaultSiteName,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch resolves the cost in a new goroutine and calls deliver exactly once
// with the cost, or nil when it could not be resolved. It never blocks.
func (r *CostReconciler) Fetch(ctx context.Context, generationID string, maxAttempts int, deliver func(cost *float64)) {
	go func() {
		cost, _ := r.Resolve(ctx, generationID, maxAttempts)
		if deliver != nil {
			deliver(cost)
		}
	}()
}

// Resolve performs up to maxAttempts lookups and returns the cost (nil when
// unresolved) and the number of lookups made. Missing credentials make zero
// lookups. A maxAttempts of zero or less means DefaultCostAttempts.
func (r *CostReconciler) Resolve(ctx context.Context, generationID string, maxAttempts int) (*float64, int) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultCostAttempts
	}
	if generationID == "" || !r.settings.Settings().IsConfigured() {
		return nil, 0
	}

	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, r.Backoff(attempt-1)); err != nil {
				break
			}
		}
		if err := r.limiter.Wait(ctx); err != nil {
			break
		}

		attempts++
		cost, err := r.Lookup(ctx, generationID)
		if err == nil {
			r.metrics.ObserveCostLookup(telemetry.LookupResolved)
			r.log.Debug().
				Str("generation", generationID).
				Int("attempt", attempt).
				Float64("cost", cost).
				Msg("COST_RESOLVED")
			return &cost, attempts
		}

		if errors.Is(err, ErrCostPending) {
			r.metrics.ObserveCostLookup(telemetry.LookupPending)
		} else {
			r.metrics.ObserveCostLookup(telemetry.LookupFailed)
		}
		r.log.Debug().
			Err(err).
			Str("generation", generationID).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("COST_LOOKUP_RETRY")
	}

	r.metrics.ObserveCostLookup(telemetry.LookupGaveUp)
	r.log.Info().
		Str("generation", generationID).
		Int("attempts", attempts).
		Msg("COST_UNAVAILABLE")
	return nil, attempts
}

// Lookup performs one metering call. It returns ErrCostPending when the
// provider answered but has no cost for the generation yet.
func (r *CostReconciler) Lookup(ctx context.Context, generationID string) (float64, error) {
	settings := r.settings.Settings()
	if !settings.IsConfigured() {
		return 0, ErrNotConfigured
	}

	endpoint := settings.Endpoint("/generation") + "?id=" + url.QueryEscape(generationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req, settings.APIKey, r.siteURL, r.siteName)

	resp, err := r.httpClient.Do(req)
	// SECURITY: Clear Authorization header immediately after request to prevent logging
	req.Header.Del("Authorization")
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, handleErrorResponse(resp.StatusCode, body)
	}
	if !gjson.ValidBytes(body) {
		return 0, errors.New("failed to parse generation response")
	}

	total := gjson.GetBytes(body, "data.total_cost")
	if total.Type != gjson.Number {
		return 0, ErrCostPending
	}
	return total.Float(), nil
}

// Backoff returns the delay before retry number attempt (1 for the first
// retry): base * growth^(attempt-1), capped, plus jitter in [0, maxJitter).
func (r *CostReconciler) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(r.baseDelay) * math.Pow(r.growth, float64(attempt-1)))
	if delay > costMaxDelay || delay < 0 {
		delay = costMaxDelay
	}
	if r.maxJitter > 0 {
		delay += time.Duration(rand.Float64() * float64(r.maxJitter))
	}
	return delay
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

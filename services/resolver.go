package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers"
)

// ResolverChain tries a priority-ordered list of metadata providers until one
// returns a usable record. Transient failures are retried with exponential
// backoff, not-found answers short-circuit to the next provider, and
// rate-limited providers go on cooldown for the remainder of the batch.
type ResolverChain struct {
	Config    *config.Config
	Logger    *zap.Logger
	Providers []providers.Provider

	mu        sync.Mutex
	cooldowns map[string]time.Time

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewResolverChain creates a chain over the given providers. The slice order
// is the priority order.
func NewResolverChain(cfg *config.Config, logger *zap.Logger, provs []providers.Provider) *ResolverChain {
	return &ResolverChain{
		Config:    cfg,
		Logger:    logger,
		Providers: provs,
		cooldowns: make(map[string]time.Time),
		sleep:     sleepContext,
	}
}

// Resolve produces a metadata record for the identifier or fails with
// ResolutionExhaustedError carrying the last error per provider. No store
// writes happen here; the record is assembled purely in memory.
func (c *ResolverChain) Resolve(ctx context.Context, id models.Identifier) (*models.MetadataRecord, error) {
	log := c.Logger.With(zap.String("identifier", id.Canonical()))
	causes := make(map[string]error)
	var merged *models.MetadataRecord

	for rank, provider := range c.Providers {
		if !provider.Resolves(id.Kind) {
			continue
		}
		if remaining := c.cooldownRemaining(provider.Name()); remaining > 0 {
			log.Debug("Skipping provider on cooldown",
				zap.String("provider", provider.Name()), zap.Duration("remaining", remaining))
			causes[provider.Name()] = fmt.Errorf("provider on cooldown for %s", remaining.Round(time.Second))
			continue
		}

		rec, err := c.withRetry(ctx, provider.Name(), func(callCtx context.Context) (*models.MetadataRecord, error) {
			return provider.Resolve(callCtx, id)
		})
		if err != nil {
			causes[provider.Name()] = err
			log.Warn("Provider resolution failed",
				zap.String("provider", provider.Name()), zap.Error(err))
			continue
		}

		rec.Provider = provider.Name()
		rec.Rank = rank
		if !c.Config.ResolverMerge {
			log.Info("Identifier resolved", zap.String("provider", provider.Name()))
			return rec, nil
		}
		merged = mergeRecords(merged, rec)
	}

	if merged != nil {
		return merged, nil
	}
	return nil, &ResolutionExhaustedError{Identifier: id, Causes: causes}
}

// Search fans out to the selected providers in search mode, in parallel up to
// the configured concurrency. Results keep chain priority order so callers can
// dedup with earlier providers taking precedence.
func (c *ResolverChain) Search(ctx context.Context, query string, sources []string, limit int) ([]*models.MetadataRecord, error) {
	selected := c.selectProviders(sources)
	if len(selected) == 0 {
		return nil, fmt.Errorf("no matching search providers for %v", sources)
	}

	results := make([][]*models.MetadataRecord, len(selected))
	causes := make(map[string]error, len(selected))
	var causesMu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, c.Config.SearchConcurrency)

	for i, provider := range selected {
		if remaining := c.cooldownRemaining(provider.Name()); remaining > 0 {
			c.Logger.Debug("Skipping search provider on cooldown",
				zap.String("provider", provider.Name()), zap.Duration("remaining", remaining))
			causesMu.Lock()
			causes[provider.Name()] = fmt.Errorf("provider on cooldown for %s", remaining.Round(time.Second))
			causesMu.Unlock()
			continue
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(slot int, p providers.Provider) {
			defer wg.Done()
			defer func() { <-semaphore }()

			recs, err := c.withRetryList(ctx, p.Name(), func(callCtx context.Context) ([]*models.MetadataRecord, error) {
				return p.Search(callCtx, query, limit)
			})
			if err != nil {
				c.Logger.Warn("Provider search failed",
					zap.String("provider", p.Name()), zap.Error(err))
				causesMu.Lock()
				causes[p.Name()] = err
				causesMu.Unlock()
				return
			}
			for _, rec := range recs {
				rec.Provider = p.Name()
				rec.Rank = slot
			}
			results[slot] = recs
		}(i, provider)
	}
	wg.Wait()

	// Empty hits from working providers are a valid answer. No working
	// provider at all is not.
	if len(causes) == len(selected) {
		return nil, &SearchFailedError{Query: query, Causes: causes}
	}

	var combined []*models.MetadataRecord
	for _, chunk := range results {
		combined = append(combined, chunk...)
	}
	return combined, nil
}

// selectProviders filters the chain by source names, keeping priority order.
// An empty list or "all" selects every provider.
func (c *ResolverChain) selectProviders(sources []string) []providers.Provider {
	if len(sources) == 0 {
		return c.Providers
	}
	wanted := make(map[string]bool, len(sources))
	for _, s := range sources {
		if s == "all" {
			return c.Providers
		}
		wanted[s] = true
	}
	var selected []providers.Provider
	for _, p := range c.Providers {
		if wanted[p.Name()] {
			selected = append(selected, p)
		}
	}
	return selected
}

// withRetry runs one provider call with per-call timeout and the configured
// retry policy: transient errors back off exponentially, not-found and other
// permanent errors short-circuit immediately, rate limits start a cooldown.
func (c *ResolverChain) withRetry(ctx context.Context, name string, call func(context.Context) (*models.MetadataRecord, error)) (*models.MetadataRecord, error) {
	var lastErr error
	backoff := c.Config.RetryBackoff

	for attempt := 0; attempt < c.Config.RetryAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.Config.ProviderTimeout)
		rec, err := call(callCtx)
		cancel()

		if err == nil {
			return rec, nil
		}
		lastErr = err

		if providers.IsRateLimited(err) {
			c.startCooldown(name, retryAfterOf(err))
		}
		if providers.IsNotFound(err) || !providers.IsTransient(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < c.Config.RetryAttempts-1 {
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

// withRetryList is withRetry for search-mode calls.
func (c *ResolverChain) withRetryList(ctx context.Context, name string, call func(context.Context) ([]*models.MetadataRecord, error)) ([]*models.MetadataRecord, error) {
	var result []*models.MetadataRecord
	_, err := c.withRetry(ctx, name, func(callCtx context.Context) (*models.MetadataRecord, error) {
		recs, err := call(callCtx)
		if err != nil {
			return nil, err
		}
		result = recs
		return &models.MetadataRecord{}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// cooldownRemaining returns how long the provider is still on cooldown.
func (c *ResolverChain) cooldownRemaining(name string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.cooldowns[name]
	if !ok {
		return 0
	}
	return time.Until(until)
}

// startCooldown parks a rate-limited provider for the configured window, or
// for the server-provided Retry-After when that is longer.
func (c *ResolverChain) startCooldown(name string, retryAfter time.Duration) {
	window := c.Config.CooldownWindow
	if retryAfter > window {
		window = retryAfter
	}
	c.mu.Lock()
	c.cooldowns[name] = time.Now().Add(window)
	c.mu.Unlock()
	c.Logger.Info("Provider on cooldown",
		zap.String("provider", name), zap.Duration("window", window))
}

// mergeRecords fills fields the merged record still lacks. base comes from an
// earlier (higher-priority) provider and wins every conflict.
func mergeRecords(base, next *models.MetadataRecord) *models.MetadataRecord {
	if base == nil {
		return next
	}
	if base.DOI == "" {
		base.DOI = next.DOI
	}
	if base.PMID == "" {
		base.PMID = next.PMID
	}
	if base.Title == "" {
		base.Title = next.Title
	}
	if len(base.Authors) == 0 {
		base.Authors = next.Authors
	}
	if base.Venue == "" {
		base.Venue = next.Venue
	}
	if base.Year == 0 {
		base.Year = next.Year
	}
	if base.Abstract == "" {
		base.Abstract = next.Abstract
	}
	if base.URL == "" {
		base.URL = next.URL
	}
	if base.PdfURL == "" {
		base.PdfURL = next.PdfURL
	}
	return base
}

// retryAfterOf extracts the Retry-After hint from a rate-limit error.
func retryAfterOf(err error) time.Duration {
	var rl *providers.RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

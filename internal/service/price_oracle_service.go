package service

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"juror_tax_report/internal/app/port"
	"juror_tax_report/internal/domain/entity"
	"juror_tax_report/internal/infrastructure/configloader"
	"juror_tax_report/internal/pkg/fixedpoint"
)

// priceOracleServiceImpl implements port.PriceOracle over an ordered chain
// of providers. Results are cached for the lifetime of the run keyed by the
// normalized calendar day, so every provider shares one cache regardless of
// how it encodes dates. Concurrent lookups of the same key collapse into a
// single upstream request.
type priceOracleServiceImpl struct {
	providers      []port.PriceProvider
	logger         *zap.Logger
	limiter        *rate.Limiter
	pricesCache    *cache.Cache
	group          singleflight.Group
	retryAttempts  int
	retryBaseDelay time.Duration
}

// NewPriceOracleService creates a new instance of priceOracleServiceImpl.
// Providers are tried in order; a later provider is only consulted after
// the previous one has exhausted its retry budget.
func NewPriceOracleService(providers []port.PriceProvider, cfg configloader.PriceOracleConfig, logger *zap.Logger) port.PriceOracle {
	return &priceOracleServiceImpl{
		providers:      providers,
		logger:         logger.Named("PriceOracleService"),
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.BurstLimit),
		pricesCache:    cache.New(cache.NoExpiration, 0),
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: time.Duration(cfg.RetryBaseDelayMillis) * time.Millisecond,
	}
}

// PriceOf implements the port.PriceOracle interface.
func (s *priceOracleServiceImpl) PriceOf(ctx context.Context, symbol string, date time.Time) (entity.PricePoint, error) {
	day := toUTCDay(date)
	key := symbol + "_" + day.Format("2006-01-02")

	if cached, found := s.pricesCache.Get(key); found {
		return cached.(entity.PricePoint), nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have resolved the key while we queued.
		if cached, found := s.pricesCache.Get(key); found {
			return cached, nil
		}

		raw, err := s.fetchFromProviders(ctx, symbol, day)
		if err != nil {
			return nil, err
		}

		// The one permitted float-to-fixed conversion per price.
		price, err := fixedpoint.FromFloat(raw, fixedpoint.PriceScale)
		if err != nil {
			return nil, fmt.Errorf("provider returned unusable price %v for %s: %w", raw, symbol, entity.ErrPriceUnavailable)
		}

		point := entity.PricePoint{Symbol: symbol, Date: day, Price: price}
		s.pricesCache.Set(key, point, cache.NoExpiration)
		s.logger.Debug("Cached price point",
			zap.String("symbol", symbol),
			zap.String("date", day.Format("2006-01-02")),
			zap.String("priceUSD", price.String()))
		return point, nil
	})
	if err != nil {
		return entity.PricePoint{}, err
	}
	return v.(entity.PricePoint), nil
}

func (s *priceOracleServiceImpl) fetchFromProviders(ctx context.Context, symbol string, day time.Time) (float64, error) {
	var lastErr error
	for _, provider := range s.providers {
		price, err := s.fetchWithRetry(ctx, provider, symbol, day)
		if err == nil {
			return price, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		s.logger.Warn("Price provider exhausted, falling back",
			zap.String("provider", provider.Name()),
			zap.String("symbol", symbol),
			zap.String("date", day.Format("2006-01-02")),
			zap.Error(err))
	}
	return 0, fmt.Errorf("no provider returned a price for %s on %s: %w (%w)",
		symbol, day.Format("2006-01-02"), lastErr, entity.ErrPriceUnavailable)
}

func (s *priceOracleServiceImpl) fetchWithRetry(ctx context.Context, provider port.PriceProvider, symbol string, day time.Time) (float64, error) {
	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return 0, err
		}

		price, err := provider.HistoricalPriceUSD(ctx, symbol, day)
		if err == nil {
			return price, nil
		}
		lastErr = err

		s.logger.Warn("Price lookup attempt failed",
			zap.String("provider", provider.Name()),
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", s.retryAttempts),
			zap.Error(err))
		if err := sleepBackoff(ctx, s.retryBaseDelay, attempt); err != nil {
			return 0, err
		}
	}
	return 0, lastErr
}

// toUTCDay truncates an instant to its UTC calendar day. The price lookup
// date always comes from the block timestamp, never from wall-clock now.
func toUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// sleepBackoff waits base<<attempt or until the context is done.
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	timer := time.NewTimer(base << uint(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

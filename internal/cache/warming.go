package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/travel-weather-service/internal/models"
	"github.com/kjstillabower/travel-weather-service/internal/observability"
)

// WeatherFetcher is implemented by the service layer to load stations and station histories.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type WeatherFetcher interface {
	GetStations(ctx context.Context) ([]models.Station, error)
	GetWeather(ctx context.Context, stationID string) (models.WeatherReport, error)
}

// CacheWarmer warms the cache by prefetching the station list and tracked station histories.
type CacheWarmer struct {
	fetcher WeatherFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm loads the station list, then each station history concurrently.
// History fetches still pass through the provider rate limiter, so a long list
// warms at the limiter's pace. Returns an aggregated error if anything failed.
func (w *CacheWarmer) Warm(ctx context.Context, stationIDs []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("stations", len(stationIDs)))
	}

	var errs []error
	if _, err := w.fetcher.GetStations(ctx); err != nil {
		errs = append(errs, fmt.Errorf("warm station list: %w", err))
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(stationIDs))
	for _, id := range stationIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.GetWeather(ctx, id); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", id, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		errs = append(errs, err)
	}

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("stations", len(stationIDs)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic refreshes the cache every interval until ctx is done. The first
// run happens one interval from now; callers warm once up front. Runs never overlap.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, stationIDs []string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("warm interval must be positive, got %s", interval)
	}
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()
	_, err := scheduler.Every(interval).WaitForSchedule().Do(func() {
		if err := w.Warm(ctx, stationIDs); err != nil && w.logger != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	<-ctx.Done()
	return ctx.Err()
}

package port

import (
	"context"
	"time"

	"juror_tax_report/internal/domain/entity"
)

// PriceOracle resolves the USD price of an asset on a UTC calendar day.
type PriceOracle interface {
	// PriceOf truncates date to its UTC calendar day and returns the cached
	// or freshly fetched price. Concurrent lookups for the same (symbol, day)
	// collapse into a single upstream request. Returns an error wrapping
	// entity.ErrPriceUnavailable when no provider can answer after retries.
	PriceOf(ctx context.Context, symbol string, date time.Time) (entity.PricePoint, error)
}

// PriceProvider is one upstream historical-price API. Providers differ in
// how they encode the date (calendar string, unix timestamp); each
// implementation handles its own encoding and returns the raw float the
// API reports, leaving the fixed-point conversion to the oracle.
type PriceProvider interface {
	Name() string

	// HistoricalPriceUSD returns the asset's USD price on the given UTC day.
	// Returns an error wrapping entity.ErrRateLimited on HTTP 429.
	HistoricalPriceUSD(ctx context.Context, symbol string, date time.Time) (float64, error)
}

package entity

import "errors"

// Sentinel errors for the enrichment pipeline. Call sites wrap these with
// fmt.Errorf("...: %w", err) so callers can classify failures with errors.Is.
var (
	// ErrMalformedEvent marks a raw log that does not decode against the
	// TokenAndETHShift schema. The single event is skipped with a warning.
	ErrMalformedEvent = errors.New("malformed value-shift event")

	// ErrLedgerUnavailable marks an exhausted retry budget against the RPC
	// provider. Processing for the affected account stops, the run continues.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrPriceUnavailable marks a price lookup for which every configured
	// provider failed after retries.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrRateLimited marks an HTTP 429 from an upstream provider. It is
	// retried with backoff and only surfaces once the retry budget is spent.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrEmptyReport is returned when a finished run produced zero rows,
	// so the caller does not write a headerless file.
	ErrEmptyReport = errors.New("empty report")
)

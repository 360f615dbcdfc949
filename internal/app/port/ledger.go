package port

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"juror_tax_report/internal/domain/entity"
)

// LedgerEventSource retrieves value-shift events for an account from the
// chain. Implementations paginate block ranges, retry with backoff and
// respect the RPC provider's rate limit.
type LedgerEventSource interface {
	// EventsFor returns every decoded event for the account in the block
	// range, fully materialized, ordered by block number then log index.
	// Returns an error wrapping entity.ErrLedgerUnavailable when the retry
	// budget against the provider is exhausted.
	EventsFor(ctx context.Context, account common.Address, fromBlock, toBlock uint64) ([]entity.ValueShiftEvent, error)

	// BlockTimestamp resolves the UTC timestamp of a block, caching per
	// run so the same block is fetched at most once.
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

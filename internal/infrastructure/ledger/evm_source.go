package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"juror_tax_report/internal/app/port"
	"juror_tax_report/internal/domain/entity"
	"juror_tax_report/internal/infrastructure/configloader"
	"juror_tax_report/internal/pkg/fixedpoint"
)

// Backend is the subset of ethclient.Client the event source needs,
// extracted so tests can substitute a fixture-backed implementation.
type Backend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// KlerosLiquid event carrying a juror's signed token and ether deltas.
const klerosLiquidABI = `[{"anonymous":false,"inputs":[{"indexed":true,"name":"_address","type":"address"},{"indexed":true,"name":"_disputeID","type":"uint256"},{"indexed":false,"name":"_tokenAmount","type":"int256"},{"indexed":false,"name":"_ETHAmount","type":"int256"}],"name":"TokenAndETHShift","type":"event"}]`

var (
	parsedShiftABI  abi.ABI
	parsedShiftOnce sync.Once
	shiftEventID    common.Hash
)

func initParsedShiftABI() {
	parsedShiftOnce.Do(func() {
		var err error
		parsedShiftABI, err = abi.JSON(strings.NewReader(klerosLiquidABI))
		if err != nil {
			panic(fmt.Sprintf("failed to parse KlerosLiquid ABI: %v", err))
		}
		shiftEvent, ok := parsedShiftABI.Events["TokenAndETHShift"]
		if !ok {
			panic("TokenAndETHShift event not found in parsed KlerosLiquid ABI")
		}
		shiftEventID = shiftEvent.ID
	})
}

// EVMEventSource implements port.LedgerEventSource against an EVM JSON-RPC
// backend. Log queries are chunked to the provider's block-range ceiling,
// rate limited and retried with exponential backoff; block timestamps are
// resolved lazily and cached for the run.
type EVMEventSource struct {
	backend        Backend
	contract       common.Address
	logger         *zap.Logger
	limiter        *rate.Limiter
	maxBlockRange  uint64
	callTimeout    time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration

	tsMu       sync.RWMutex
	timestamps map[uint64]time.Time
	tsGroup    singleflight.Group
}

// NewEVMEventSource creates a new EVMEventSource from the ledger config.
func NewEVMEventSource(backend Backend, cfg configloader.LedgerConfig, logger *zap.Logger) *EVMEventSource {
	initParsedShiftABI()
	return &EVMEventSource{
		backend:        backend,
		contract:       common.HexToAddress(cfg.ContractAddress),
		logger:         logger.Named("EVMEventSource"),
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.BurstLimit),
		maxBlockRange:  cfg.MaxBlockRange,
		callTimeout:    time.Duration(cfg.RequestTimeoutMillis) * time.Millisecond,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: time.Duration(cfg.RetryBaseDelayMillis) * time.Millisecond,
		timestamps:     make(map[uint64]time.Time),
	}
}

// EventsFor implements the port.LedgerEventSource interface. The range is
// split into maxBlockRange chunks issued sequentially in ascending order,
// so concatenation preserves on-chain log order.
func (s *EVMEventSource) EventsFor(ctx context.Context, account common.Address, fromBlock, toBlock uint64) ([]entity.ValueShiftEvent, error) {
	var events []entity.ValueShiftEvent

	for start := fromBlock; start <= toBlock; {
		end := toBlock
		if s.maxBlockRange > 0 && end-start >= s.maxBlockRange {
			end = start + s.maxBlockRange - 1
		}

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{s.contract},
			Topics: [][]common.Hash{
				{shiftEventID},
				{common.BytesToHash(account.Bytes())},
			},
		}

		logs, err := s.filterLogsWithRetry(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("log query for %s failed over blocks %d-%d: %w (%w)",
				account.Hex(), start, end, err, entity.ErrLedgerUnavailable)
		}

		for _, raw := range logs {
			event, err := s.decodeShiftLog(raw)
			if err != nil {
				s.logger.Warn("Skipping undecodable log",
					zap.String("account", account.Hex()),
					zap.Uint64("blockNumber", raw.BlockNumber),
					zap.String("txHash", raw.TxHash.Hex()),
					zap.Error(err))
				continue
			}
			events = append(events, event)
		}

		if end == toBlock {
			break
		}
		start = end + 1
	}

	s.logger.Info("Fetched value-shift events for account",
		zap.String("account", account.Hex()),
		zap.Int("eventCount", len(events)))
	return events, nil
}

// BlockTimestamp implements the port.LedgerEventSource interface. Concurrent
// lookups of the same block collapse into one header fetch.
func (s *EVMEventSource) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	s.tsMu.RLock()
	ts, ok := s.timestamps[blockNumber]
	s.tsMu.RUnlock()
	if ok {
		return ts, nil
	}

	v, err, _ := s.tsGroup.Do(strconv.FormatUint(blockNumber, 10), func() (interface{}, error) {
		s.tsMu.RLock()
		cached, hit := s.timestamps[blockNumber]
		s.tsMu.RUnlock()
		if hit {
			return cached, nil
		}

		header, err := s.headerWithRetry(ctx, blockNumber)
		if err != nil {
			return time.Time{}, fmt.Errorf("header fetch for block %d failed: %w (%w)",
				blockNumber, err, entity.ErrLedgerUnavailable)
		}
		resolved := time.Unix(int64(header.Time), 0).UTC()

		s.tsMu.Lock()
		s.timestamps[blockNumber] = resolved
		s.tsMu.Unlock()
		return resolved, nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

func (s *EVMEventSource) decodeShiftLog(raw types.Log) (entity.ValueShiftEvent, error) {
	if len(raw.Topics) != 3 || raw.Topics[0] != shiftEventID {
		return entity.ValueShiftEvent{}, fmt.Errorf("unexpected topics (%d): %w", len(raw.Topics), entity.ErrMalformedEvent)
	}

	unpacked, err := parsedShiftABI.Unpack("TokenAndETHShift", raw.Data)
	if err != nil {
		return entity.ValueShiftEvent{}, fmt.Errorf("failed to unpack log data: %w (%w)", err, entity.ErrMalformedEvent)
	}
	if len(unpacked) != 2 {
		return entity.ValueShiftEvent{}, fmt.Errorf("expected 2 data fields, got %d: %w", len(unpacked), entity.ErrMalformedEvent)
	}

	tokenAmount, ok := unpacked[0].(*big.Int)
	if !ok {
		return entity.ValueShiftEvent{}, fmt.Errorf("token amount is %T, not *big.Int: %w", unpacked[0], entity.ErrMalformedEvent)
	}
	ethAmount, ok := unpacked[1].(*big.Int)
	if !ok {
		return entity.ValueShiftEvent{}, fmt.Errorf("eth amount is %T, not *big.Int: %w", unpacked[1], entity.ErrMalformedEvent)
	}

	return entity.ValueShiftEvent{
		Account:     common.BytesToAddress(raw.Topics[1].Bytes()),
		BlockNumber: raw.BlockNumber,
		LogIndex:    raw.Index,
		TxHash:      raw.TxHash,
		DisputeID:   new(big.Int).SetBytes(raw.Topics[2].Bytes()),
		TokenAmount: fixedpoint.New(tokenAmount, fixedpoint.TokenScale),
		ETHAmount:   fixedpoint.New(ethAmount, fixedpoint.TokenScale),
	}, nil
}

func (s *EVMEventSource) filterLogsWithRetry(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		logs, err := s.backend.FilterLogs(callCtx, query)
		cancel()
		if err == nil {
			return logs, nil
		}
		lastErr = err

		s.logger.Warn("Log query attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", s.retryAttempts),
			zap.Error(err))
		if err := sleepBackoff(ctx, s.retryBaseDelay, attempt); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *EVMEventSource) headerWithRetry(ctx context.Context, blockNumber uint64) (*types.Header, error) {
	number := new(big.Int).SetUint64(blockNumber)
	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		header, err := s.backend.HeaderByNumber(callCtx, number)
		cancel()
		if err == nil {
			return header, nil
		}
		lastErr = err

		s.logger.Warn("Header fetch attempt failed",
			zap.Uint64("blockNumber", blockNumber),
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", s.retryAttempts),
			zap.Error(err))
		if err := sleepBackoff(ctx, s.retryBaseDelay, attempt); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
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

var _ port.LedgerEventSource = (*EVMEventSource)(nil)

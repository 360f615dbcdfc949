package service

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"juror_tax_report/internal/domain/entity"
	"juror_tax_report/internal/infrastructure/configloader"
	"juror_tax_report/internal/pkg/fixedpoint"
)

// stubLedgerSource serves canned events and block timestamps.
type stubLedgerSource struct {
	events     map[common.Address][]entity.ValueShiftEvent
	errFor     map[common.Address]error
	timestamps map[uint64]time.Time
}

func (s *stubLedgerSource) EventsFor(_ context.Context, account common.Address, _, _ uint64) ([]entity.ValueShiftEvent, error) {
	if err, ok := s.errFor[account]; ok {
		return nil, err
	}
	return s.events[account], nil
}

func (s *stubLedgerSource) BlockTimestamp(_ context.Context, blockNumber uint64) (time.Time, error) {
	ts, ok := s.timestamps[blockNumber]
	if !ok {
		return time.Time{}, fmt.Errorf("no timestamp for block %d: %w", blockNumber, entity.ErrLedgerUnavailable)
	}
	return ts, nil
}

// stubOracle serves fixed prices keyed by symbol, optionally failing one
// (symbol, day) combination.
type stubOracle struct {
	prices  map[string]float64
	failSym string
	failDay time.Time
	lookups atomic.Int64
}

func (o *stubOracle) PriceOf(_ context.Context, symbol string, date time.Time) (entity.PricePoint, error) {
	o.lookups.Add(1)
	day := time.Date(date.UTC().Year(), date.UTC().Month(), date.UTC().Day(), 0, 0, 0, 0, time.UTC)
	if symbol == o.failSym && day.Equal(o.failDay) {
		return entity.PricePoint{}, fmt.Errorf("stubbed outage: %w", entity.ErrPriceUnavailable)
	}
	raw, ok := o.prices[symbol]
	if !ok {
		return entity.PricePoint{}, fmt.Errorf("no stub price for %s: %w", symbol, entity.ErrPriceUnavailable)
	}
	price, err := fixedpoint.FromFloat(raw, fixedpoint.PriceScale)
	if err != nil {
		return entity.PricePoint{}, err
	}
	return entity.PricePoint{Symbol: symbol, Date: day, Price: price}, nil
}

func engineConfig() *configloader.Config {
	return &configloader.Config{
		Ledger: configloader.LedgerConfig{
			TokenSymbol:  "PNK",
			NativeSymbol: "ETH",
			FromBlock:    1,
			ToBlock:      10000,
		},
		Performance: configloader.PerformanceConfig{MaxConcurrentEvents: 4},
	}
}

func shiftEvent(account common.Address, block uint64, tx common.Hash, tokenDelta, ethDelta int64) entity.ValueShiftEvent {
	return entity.ValueShiftEvent{
		Account:     account,
		BlockNumber: block,
		TxHash:      tx,
		DisputeID:   big.NewInt(1),
		TokenAmount: fixedpoint.FromInt64(tokenDelta, fixedpoint.TokenScale),
		ETHAmount:   fixedpoint.FromInt64(ethDelta, fixedpoint.TokenScale),
	}
}

func TestRunEnrichesSingleEventEndToEnd(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	tx := common.HexToHash("0xdeadbeef")
	source := &stubLedgerSource{
		events: map[common.Address][]entity.ValueShiftEvent{
			account: {shiftEvent(account, 100, tx, -500, 10)},
		},
		timestamps: map[uint64]time.Time{
			100: time.Date(2021, 4, 5, 14, 30, 0, 0, time.UTC),
		},
	}
	oracle := &stubOracle{prices: map[string]float64{"PNK": 0.02, "ETH": 1800}}
	sink := NewReportSink()

	engine := NewEnrichmentService(source, oracle, sink, engineConfig(), zap.NewNop())
	stats := engine.Run(context.Background(), []common.Address{account})

	assert.Equal(t, 1, stats.AccountsProcessed)
	assert.Equal(t, 0, stats.AccountsSkipped)
	assert.Equal(t, 2, stats.RowsEmitted)

	rows, err := sink.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	tokenRow, ethRow := rows[0], rows[1]
	assert.Equal(t, "PNK", tokenRow.Currency)
	assert.Equal(t, "-0.0000000000000005", tokenRow.Amount.String())
	assert.Equal(t, "-0.00000000000000001", tokenRow.USDValue.String())

	assert.Equal(t, "ETH", ethRow.Currency)
	assert.Equal(t, "0.00000000000000001", ethRow.Amount.String())
	assert.Equal(t, "0.000000000000018", ethRow.USDValue.String())

	// April collapses to month index 3 in the historical date format.
	for _, row := range rows {
		assert.Equal(t, "5-3-2021", row.Date)
		assert.Equal(t, tx.Hex(), row.TxHash)
	}
}

func TestRunEmitsZeroRowsForZeroDeltas(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	source := &stubLedgerSource{
		events: map[common.Address][]entity.ValueShiftEvent{
			account: {shiftEvent(account, 100, common.HexToHash("0x01"), 0, 0)},
		},
		timestamps: map[uint64]time.Time{100: time.Date(2021, 4, 5, 0, 0, 0, 0, time.UTC)},
	}
	oracle := &stubOracle{prices: map[string]float64{"PNK": 0.02, "ETH": 1800}}
	sink := NewReportSink()

	engine := NewEnrichmentService(source, oracle, sink, engineConfig(), zap.NewNop())
	engine.Run(context.Background(), []common.Address{account})

	rows, err := sink.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.True(t, row.Amount.IsZero())
		assert.True(t, row.USDValue.IsZero())
	}
}

func TestRunPreservesSignThroughUSDValue(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	source := &stubLedgerSource{
		events: map[common.Address][]entity.ValueShiftEvent{
			account: {
				shiftEvent(account, 100, common.HexToHash("0x01"), -1000, 0),
				shiftEvent(account, 101, common.HexToHash("0x02"), 1000, 0),
			},
		},
		timestamps: map[uint64]time.Time{
			100: time.Date(2021, 4, 5, 0, 0, 0, 0, time.UTC),
			101: time.Date(2021, 4, 6, 0, 0, 0, 0, time.UTC),
		},
	}
	oracle := &stubOracle{prices: map[string]float64{"PNK": 0.02, "ETH": 1800}}
	sink := NewReportSink()

	engine := NewEnrichmentService(source, oracle, sink, engineConfig(), zap.NewNop())
	engine.Run(context.Background(), []common.Address{account})

	rows, err := sink.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, -1, rows[0].USDValue.Sign())
	assert.Equal(t, 1, rows[2].USDValue.Sign())
}

func TestRunKeepsDeterministicOrderUnderConcurrency(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	var events []entity.ValueShiftEvent
	timestamps := make(map[uint64]time.Time)
	for i := range 20 {
		block := uint64(100 + i)
		events = append(events, shiftEvent(account, block, common.BigToHash(big.NewInt(int64(i))), int64(i+1), 1))
		timestamps[block] = time.Date(2021, 4, 5, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour)
	}
	source := &stubLedgerSource{
		events:     map[common.Address][]entity.ValueShiftEvent{account: events},
		timestamps: timestamps,
	}
	oracle := &stubOracle{prices: map[string]float64{"PNK": 0.02, "ETH": 1800}}
	sink := NewReportSink()

	engine := NewEnrichmentService(source, oracle, sink, engineConfig(), zap.NewNop())
	engine.Run(context.Background(), []common.Address{account})

	rows, err := sink.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 40)
	for i, ev := range events {
		assert.Equal(t, ev.TxHash.Hex(), rows[2*i].TxHash)
		assert.Equal(t, "PNK", rows[2*i].Currency)
		assert.Equal(t, ev.TxHash.Hex(), rows[2*i+1].TxHash)
		assert.Equal(t, "ETH", rows[2*i+1].Currency)
	}
}

func TestRunSkipsUnavailableAccountAndContinues(t *testing.T) {
	broken := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	healthy := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tx := common.HexToHash("0x02")
	source := &stubLedgerSource{
		events: map[common.Address][]entity.ValueShiftEvent{
			healthy: {shiftEvent(healthy, 200, tx, 100, 0)},
		},
		errFor: map[common.Address]error{
			broken: fmt.Errorf("log query failed: %w", entity.ErrLedgerUnavailable),
		},
		timestamps: map[uint64]time.Time{200: time.Date(2021, 4, 5, 0, 0, 0, 0, time.UTC)},
	}
	oracle := &stubOracle{prices: map[string]float64{"PNK": 0.02, "ETH": 1800}}
	sink := NewReportSink()

	engine := NewEnrichmentService(source, oracle, sink, engineConfig(), zap.NewNop())
	stats := engine.Run(context.Background(), []common.Address{broken, healthy})

	assert.Equal(t, 1, stats.AccountsSkipped)
	assert.Equal(t, 1, stats.AccountsProcessed)

	rows, err := sink.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, tx.Hex(), row.TxHash)
	}
}

func TestRunEmitsCompletedPrefixWhenPricingFailsMidAccount(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	badDay := time.Date(2021, 4, 6, 0, 0, 0, 0, time.UTC)
	source := &stubLedgerSource{
		events: map[common.Address][]entity.ValueShiftEvent{
			account: {
				shiftEvent(account, 100, common.HexToHash("0x01"), 100, 0),
				shiftEvent(account, 101, common.HexToHash("0x02"), 200, 0),
				shiftEvent(account, 102, common.HexToHash("0x03"), 300, 0),
			},
		},
		timestamps: map[uint64]time.Time{
			100: time.Date(2021, 4, 5, 0, 0, 0, 0, time.UTC),
			101: badDay,
			102: time.Date(2021, 4, 7, 0, 0, 0, 0, time.UTC),
		},
	}
	oracle := &stubOracle{
		prices:  map[string]float64{"PNK": 0.02, "ETH": 1800},
		failSym: "PNK",
		failDay: badDay,
	}
	sink := NewReportSink()

	engine := NewEnrichmentService(source, oracle, sink, engineConfig(), zap.NewNop())
	stats := engine.Run(context.Background(), []common.Address{account})

	assert.Equal(t, 1, stats.AccountsSkipped)

	// The first event completed before the failure and is still reported.
	rows, err := sink.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, common.HexToHash("0x01").Hex(), rows[0].TxHash)
}

func TestRunStopsIssuingWorkWhenCanceled(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	source := &stubLedgerSource{
		events:     map[common.Address][]entity.ValueShiftEvent{},
		timestamps: map[uint64]time.Time{},
	}
	oracle := &stubOracle{prices: map[string]float64{"PNK": 0.02, "ETH": 1800}}
	sink := NewReportSink()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEnrichmentService(source, oracle, sink, engineConfig(), zap.NewNop())
	stats := engine.Run(ctx, []common.Address{account, account})

	assert.Equal(t, 0, stats.AccountsProcessed)
	assert.Equal(t, 0, stats.AccountsSkipped)
	assert.Equal(t, int64(0), oracle.lookups.Load())
}

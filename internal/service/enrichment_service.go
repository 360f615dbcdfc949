package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"juror_tax_report/internal/app/port"
	"juror_tax_report/internal/domain/entity"
	"juror_tax_report/internal/infrastructure/configloader"
)

// RunStats summarizes one enrichment run.
type RunStats struct {
	AccountsProcessed int
	AccountsSkipped   int
	EventsEnriched    int
	RowsEmitted       int
}

// EnrichmentService drives the pipeline: accounts are processed
// sequentially to bound aggregate provider load, events within an account
// are enriched with bounded concurrency, and rows reach the sink in
// deterministic order (account, then event, then token leg before ether
// leg) regardless of how the lookups interleave.
type EnrichmentService struct {
	source        port.LedgerEventSource
	oracle        port.PriceOracle
	sink          port.ReportSink
	logger        *zap.Logger
	tokenSymbol   string
	nativeSymbol  string
	fromBlock     uint64
	toBlock       uint64
	maxConcurrent int
}

// NewEnrichmentService creates a new instance of EnrichmentService.
func NewEnrichmentService(
	source port.LedgerEventSource,
	oracle port.PriceOracle,
	sink port.ReportSink,
	cfg *configloader.Config,
	logger *zap.Logger,
) *EnrichmentService {
	return &EnrichmentService{
		source:        source,
		oracle:        oracle,
		sink:          sink,
		logger:        logger.Named("EnrichmentService"),
		tokenSymbol:   cfg.Ledger.TokenSymbol,
		nativeSymbol:  cfg.Ledger.NativeSymbol,
		fromBlock:     cfg.Ledger.FromBlock,
		toBlock:       cfg.Ledger.ToBlock,
		maxConcurrent: cfg.Performance.MaxConcurrentEvents,
	}
}

// Run processes every account and accumulates report rows in the sink.
// A failing account is skipped with its partial results emitted; the run
// continues with the next account.
func (s *EnrichmentService) Run(ctx context.Context, accounts []common.Address) RunStats {
	var stats RunStats

	for _, account := range accounts {
		if ctx.Err() != nil {
			s.logger.Warn("Run canceled, flushing completed rows",
				zap.Int("remainingAccounts", len(accounts)-stats.AccountsProcessed-stats.AccountsSkipped))
			break
		}

		if err := s.processAccount(ctx, account, &stats); err != nil {
			s.logger.Warn("Skipping account after failure",
				zap.String("account", account.Hex()),
				zap.Error(err))
			stats.AccountsSkipped++
			continue
		}
		stats.AccountsProcessed++
	}

	s.logger.Info("Enrichment run finished",
		zap.Int("accountsProcessed", stats.AccountsProcessed),
		zap.Int("accountsSkipped", stats.AccountsSkipped),
		zap.Int("eventsEnriched", stats.EventsEnriched),
		zap.Int("rowsEmitted", stats.RowsEmitted))
	return stats
}

func (s *EnrichmentService) processAccount(ctx context.Context, account common.Address, stats *RunStats) error {
	events, err := s.source.EventsFor(ctx, account, s.fromBlock, s.toBlock)
	if err != nil {
		return fmt.Errorf("failed to fetch events for %s: %w", account.Hex(), err)
	}
	if len(events) == 0 {
		s.logger.Info("No value-shift events for account", zap.String("account", account.Hex()))
		return nil
	}

	// Each unit of work is tagged with its index so rows are reassembled
	// in event order before the sink sees them, whatever the concurrency.
	results := make([][]entity.ReportRow, len(events))
	failures := make([]error, len(events))

	eg := new(errgroup.Group)
	eg.SetLimit(s.maxConcurrent)
	for i, ev := range events {
		eg.Go(func() error {
			rows, err := s.enrichEvent(ctx, ev)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = rows
			return nil
		})
	}
	_ = eg.Wait()

	// Emit the completed prefix in order; the first failure ends the
	// account but whatever came before it is still reported.
	for i := range events {
		if failures[i] != nil {
			s.logger.Warn("Account processing stopped at event",
				zap.String("account", account.Hex()),
				zap.Uint64("blockNumber", events[i].BlockNumber),
				zap.Error(failures[i]))
			return fmt.Errorf("enrichment failed at block %d: %w", events[i].BlockNumber, failures[i])
		}
		s.sink.Append(results[i]...)
		stats.EventsEnriched++
		stats.RowsEmitted += len(results[i])
	}
	return nil
}

// enrichEvent is a pure join of the event with its block timestamp and the
// day's two price points. It produces exactly two rows sharing date and
// transaction hash: the token leg, then the ether leg.
func (s *EnrichmentService) enrichEvent(ctx context.Context, ev entity.ValueShiftEvent) ([]entity.ReportRow, error) {
	ts, err := s.source.BlockTimestamp(ctx, ev.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve timestamp of block %d: %w", ev.BlockNumber, err)
	}

	var tokenPrice, nativePrice entity.PricePoint
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		tokenPrice, err = s.oracle.PriceOf(egCtx, s.tokenSymbol, ts)
		return err
	})
	eg.Go(func() error {
		var err error
		nativePrice, err = s.oracle.PriceOf(egCtx, s.nativeSymbol, ts)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("failed to price event in tx %s: %w", ev.TxHash.Hex(), err)
	}

	s.logger.Debug("Enriched value-shift event",
		zap.String("account", ev.Account.Hex()),
		zap.Uint64("blockNumber", ev.BlockNumber),
		zap.String("disputeID", ev.DisputeID.String()),
		zap.String("tokenDelta", ev.TokenAmount.String()),
		zap.String("ethDelta", ev.ETHAmount.String()))

	date := formatReportDate(ts)
	txHash := ev.TxHash.Hex()
	return []entity.ReportRow{
		{
			Amount:   ev.TokenAmount,
			Currency: s.tokenSymbol,
			USDValue: ev.TokenAmount.Mul(tokenPrice.Price),
			Date:     date,
			TxHash:   txHash,
		},
		{
			Amount:   ev.ETHAmount,
			Currency: s.nativeSymbol,
			USDValue: ev.ETHAmount.Mul(nativePrice.Price),
			Date:     date,
			TxHash:   txHash,
		},
	}, nil
}

// formatReportDate renders the historical day-zeroBasedMonth-year format.
// Downstream tax tooling consumes this exact string, so the zero-based
// month is kept even though it looks off by one.
func formatReportDate(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%d-%d-%d", u.Day(), int(u.Month())-1, u.Year())
}

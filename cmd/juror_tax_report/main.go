package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"

	"juror_tax_report/internal/app/port"
	"juror_tax_report/internal/client"
	"juror_tax_report/internal/domain/entity"
	"juror_tax_report/internal/infrastructure/addressloader"
	"juror_tax_report/internal/infrastructure/configloader"
	"juror_tax_report/internal/infrastructure/ledger"
	"juror_tax_report/internal/service"
)

var csvHeader = []string{"Amount", "Currency", "Value in USD at the time", "Date", "Tx Hash"}

func main() {
	configPath := flag.String("config", "config/config.yml", "Path to the YAML configuration file")
	addressesPath := flag.String("addresses", "", "Path to a JSON array of juror addresses")
	outputPath := flag.String("output", "juror_tax_report.csv", "Path of the CSV report to write")
	flag.Parse()

	zapLogger, err := buildLogger(*configPath)
	if err != nil {
		zapLogger = zap.Must(zap.NewProduction())
	}
	defer zapLogger.Sync()

	// Bridge zap into log/slog so incidental slog calls share one sink.
	slogHandler := zapslog.NewHandler(zapLogger.Core())
	slog.SetDefault(slog.New(slogHandler))

	cfg, err := configloader.Load(*configPath)
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.String("path", *configPath), zap.Error(err))
	}
	zapLogger.Info("Configuration loaded", zap.String("path", *configPath))

	if *addressesPath == "" {
		zapLogger.Fatal("Missing juror addresses path. Pass -addresses with a JSON array file.")
	}

	addrLoader := addressloader.NewAddressFileLoader(*addressesPath, zapLogger)
	accounts, err := addrLoader.GetAccounts()
	if err != nil {
		zapLogger.Fatal("Failed to load juror addresses", zap.Error(err))
	}
	if len(accounts) == 0 {
		zapLogger.Fatal("No valid juror addresses in input file", zap.String("path", *addressesPath))
	}

	// A SIGINT/SIGTERM stops issuing new upstream requests; rows already
	// completed are still flushed below.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancelDial := context.WithTimeout(ctx, time.Duration(cfg.Ledger.RequestTimeoutMillis)*time.Millisecond)
	ethClient, err := ethclient.DialContext(dialCtx, cfg.Ledger.RPCURL)
	cancelDial()
	if err != nil {
		zapLogger.Fatal("Failed to connect to RPC provider", zap.String("rpcURL", cfg.Ledger.RPCURL), zap.Error(err))
	}
	defer ethClient.Close()

	eventSource := ledger.NewEVMEventSource(ethClient, cfg.Ledger, zapLogger)
	zapLogger.Info("Ledger event source initialized",
		zap.String("contract", cfg.Ledger.ContractAddress),
		zap.Uint64("fromBlock", cfg.Ledger.FromBlock),
		zap.Uint64("toBlock", cfg.Ledger.ToBlock))

	providers := []port.PriceProvider{
		client.NewCoinGeckoClient(
			cfg.CoinGecko.BaseURL,
			cfg.CoinGecko.APIKey,
			time.Duration(cfg.CoinGecko.RequestTimeoutMillis)*time.Millisecond,
			zapLogger,
			cfg.CoinGecko.AssetIDMapping,
		),
	}
	if cfg.CryptoCompare.Enabled {
		providers = append(providers, client.NewCryptoCompareClient(
			cfg.CryptoCompare.BaseURL,
			cfg.CryptoCompare.APIKey,
			time.Duration(cfg.CryptoCompare.RequestTimeoutMillis)*time.Millisecond,
			zapLogger,
		))
	}
	oracle := service.NewPriceOracleService(providers, cfg.Oracle, zapLogger)
	zapLogger.Info("Price oracle initialized", zap.Int("providerCount", len(providers)))

	sink := service.NewReportSink()
	engine := service.NewEnrichmentService(eventSource, oracle, sink, cfg, zapLogger)

	stats := engine.Run(ctx, accounts)

	rows, err := sink.Rows()
	if err != nil {
		if errors.Is(err, entity.ErrEmptyReport) {
			zapLogger.Fatal("Run produced no rows, not writing an empty report",
				zap.Int("accountsSkipped", stats.AccountsSkipped))
		}
		zapLogger.Fatal("Failed to collect report rows", zap.Error(err))
	}

	if err := writeCSV(*outputPath, rows); err != nil {
		zapLogger.Fatal("Failed to write CSV report", zap.String("path", *outputPath), zap.Error(err))
	}
	zapLogger.Info("CSV report written",
		zap.String("path", *outputPath),
		zap.Int("rowCount", len(rows)))

	if stats.AccountsSkipped > 0 {
		zapLogger.Warn("Report is partial, some accounts were skipped",
			zap.Int("accountsSkipped", stats.AccountsSkipped))
		zapLogger.Sync()
		os.Exit(1)
	}
}

func buildLogger(configPath string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()

	// Peek at the logging level before full config validation so startup
	// failures are logged at the configured level too.
	if cfg, err := configloader.Load(configPath); err == nil && cfg.Logging.Level != "" {
		if level, err := zap.ParseAtomicLevel(cfg.Logging.Level); err == nil {
			logCfg.Level = level
		}
	}
	return logCfg.Build()
}

func writeCSV(path string, rows []entity.ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		file.Close()
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Amount.String(),
			row.Currency,
			row.USDValue.String(),
			row.Date,
			row.TxHash,
		}
		if err := w.Write(record); err != nil {
			file.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

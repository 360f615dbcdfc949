package addressloader

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AddressFileLoader reads juror account addresses from a JSON array file.
type AddressFileLoader struct {
	filePath string
	logger   *zap.Logger
}

// NewAddressFileLoader creates a new AddressFileLoader.
func NewAddressFileLoader(filePath string, logger *zap.Logger) *AddressFileLoader {
	return &AddressFileLoader{
		filePath: filePath,
		logger:   logger.Named("AddressFileLoader"),
	}
}

// GetAccounts reads and validates the address list. Entries that are not
// well-formed hex addresses are skipped with a warning rather than failing
// the run.
func (l *AddressFileLoader) GetAccounts() ([]common.Address, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read addresses file %s: %w", l.filePath, err)
	}

	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal addresses from %s (expected a JSON array of strings): %w", l.filePath, err)
	}

	accounts := make([]common.Address, 0, len(raw))
	for i, addr := range raw {
		if !common.IsHexAddress(addr) {
			l.logger.Warn("Skipping invalid address entry",
				zap.String("file", l.filePath),
				zap.Int("index", i),
				zap.String("address", addr))
			continue
		}
		accounts = append(accounts, common.HexToAddress(addr))
	}

	l.logger.Info("Addresses loaded successfully from file",
		zap.Int("count", len(accounts)),
		zap.String("path", l.filePath))
	return accounts, nil
}

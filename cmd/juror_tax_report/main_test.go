package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"juror_tax_report/internal/domain/entity"
	"juror_tax_report/internal/pkg/fixedpoint"
)

func TestWriteCSVProducesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	rows := []entity.ReportRow{
		{
			Amount:   fixedpoint.FromInt64(-500, fixedpoint.TokenScale),
			Currency: "PNK",
			USDValue: fixedpoint.FromInt64(-10, 18),
			Date:     "5-3-2021",
			TxHash:   "0xdeadbeef",
		},
		{
			Amount:   fixedpoint.FromInt64(10, fixedpoint.TokenScale),
			Currency: "ETH",
			USDValue: fixedpoint.FromInt64(18, 15),
			Date:     "5-3-2021",
			TxHash:   "0xdeadbeef",
		},
	}

	require.NoError(t, writeCSV(path, rows))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, []string{"-0.0000000000000005", "PNK", "-0.00000000000000001", "5-3-2021", "0xdeadbeef"}, records[1])
	assert.Equal(t, []string{"0.00000000000000001", "ETH", "0.000000000000018", "5-3-2021", "0xdeadbeef"}, records[2])
}

func TestWriteCSVFailsOnUnwritablePath(t *testing.T) {
	err := writeCSV(filepath.Join(t.TempDir(), "no-such-dir", "report.csv"), nil)
	assert.Error(t, err)
}

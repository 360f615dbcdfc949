package entity

import "juror_tax_report/internal/pkg/fixedpoint"

// ReportRow is one CSV record. Every ValueShiftEvent produces exactly two
// rows, the token leg first and the ether leg second, sharing Date and
// TxHash. Rows are never merged even when events share a transaction.
type ReportRow struct {
	Amount   fixedpoint.Amount
	Currency string
	USDValue fixedpoint.Amount
	Date     string
	TxHash   string
}

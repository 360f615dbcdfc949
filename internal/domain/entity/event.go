package entity

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"juror_tax_report/internal/pkg/fixedpoint"
)

// ValueShiftEvent is one decoded TokenAndETHShift occurrence: the moment a
// juror's token and ether balances moved by specific signed amounts. Both
// deltas are 18-decimal fixed-point; a negative token delta is a penalty.
// Immutable once decoded.
type ValueShiftEvent struct {
	Account     common.Address
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
	DisputeID   *big.Int
	TokenAmount fixedpoint.Amount
	ETHAmount   fixedpoint.Amount
}

// PricePoint is the USD price of one asset on one UTC calendar day.
// Once resolved it is reused for every event on that day.
type PricePoint struct {
	Symbol string
	Date   time.Time
	Price  fixedpoint.Amount
}

package ledger

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Reason labels why an account was credited.
type Reason string

const (
	ReasonPayout  Reason = "payout"
	ReasonFee     Reason = "fee"
	ReasonRefund  Reason = "refund"
	ReasonDeposit Reason = "deposit_share"
)

var (
	ErrNothingToWithdraw = errors.New("ledger: nothing to withdraw")
	ErrTransferFailed    = errors.New("ledger: transfer failed")
	ErrCustodyShortfall  = errors.New("ledger: custody total below debit")
	ErrZeroAccount       = errors.New("ledger: zero account")
)

// Credit is one journal line. Balances only ever grow through credits.
type Credit struct {
	ID        int64
	JobID     common.Hash
	Account   common.Address
	Amount    *uint256.Int
	Reason    Reason
	CreatedAt time.Time
}

// Sum adds up credit amounts.
func Sum(credits []Credit) *uint256.Int {
	total := new(uint256.Int)
	for _, c := range credits {
		if c.Amount != nil {
			total.Add(total, c.Amount)
		}
	}
	return total
}

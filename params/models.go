package params

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MaxFeeBps caps the platform fee at 10%.
const MaxFeeBps = 1000

var (
	ErrNotBootstrapped = errors.New("params: not bootstrapped")
	ErrUnauthorized    = errors.New("params: caller is not the owner")
	ErrInvalid         = errors.New("params: invalid parameters")
)

// Params is the owner-administered configuration read by job creation and
// dispute opening. Jobs and disputes snapshot what they need, so later
// changes never reach back into open records.
type Params struct {
	Owner          common.Address `json:"owner" yaml:"owner"`
	FeeBps         uint16         `json:"fee_bps" yaml:"fee_bps"`
	AcceptWindow   time.Duration  `json:"accept_window" yaml:"accept_window"`
	SubmitWindow   time.Duration  `json:"submit_window" yaml:"submit_window"`
	VoteWindow     time.Duration  `json:"vote_window" yaml:"vote_window"`
	DisputeDeposit *uint256.Int   `json:"dispute_deposit" yaml:"-"`
	UpdatedAt      time.Time      `json:"updated_at" yaml:"updated_at"`
}

func (p Params) Validate() error {
	if p.Owner == (common.Address{}) {
		return fmt.Errorf("%w: owner is zero", ErrInvalid)
	}
	if p.FeeBps > MaxFeeBps {
		return fmt.Errorf("%w: fee %d bps exceeds %d", ErrInvalid, p.FeeBps, MaxFeeBps)
	}
	for name, w := range map[string]time.Duration{
		"accept": p.AcceptWindow,
		"submit": p.SubmitWindow,
		"vote":   p.VoteWindow,
	} {
		if w < time.Second {
			return fmt.Errorf("%w: %s window must be at least 1s", ErrInvalid, name)
		}
		if w%time.Second != 0 {
			return fmt.Errorf("%w: %s window must be whole seconds", ErrInvalid, name)
		}
	}
	return nil
}

// Deposit returns a copy of the dispute deposit, zero when unset.
func (p Params) Deposit() *uint256.Int {
	if p.DisputeDeposit == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(p.DisputeDeposit)
}

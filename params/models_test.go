package params

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func validParams() Params {
	return Params{
		Owner:          common.HexToAddress("0x0a"),
		FeeBps:         500,
		AcceptWindow:   72 * time.Hour,
		SubmitWindow:   168 * time.Hour,
		VoteWindow:     72 * time.Hour,
		DisputeDeposit: uint256.NewInt(10),
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validParams().Validate())

	p := validParams()
	p.FeeBps = MaxFeeBps
	require.NoError(t, p.Validate())

	p.FeeBps = MaxFeeBps + 1
	require.ErrorIs(t, p.Validate(), ErrInvalid)

	p = validParams()
	p.Owner = common.Address{}
	require.ErrorIs(t, p.Validate(), ErrInvalid)

	p = validParams()
	p.VoteWindow = 0
	require.ErrorIs(t, p.Validate(), ErrInvalid)

	p = validParams()
	p.AcceptWindow = 1500 * time.Millisecond
	require.ErrorIs(t, p.Validate(), ErrInvalid)
}

func TestDepositCopies(t *testing.T) {
	p := validParams()
	d := p.Deposit()
	d.AddUint64(d, 1)
	require.Equal(t, uint64(10), p.DisputeDeposit.Uint64())

	p.DisputeDeposit = nil
	require.True(t, p.Deposit().IsZero())
}

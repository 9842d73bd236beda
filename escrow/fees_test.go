package escrow

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewescrow/dispute"
	"reviewescrow/ledger"
)

var (
	feeOwner    = common.HexToAddress("0x0a")
	feeClient   = common.HexToAddress("0x0c")
	feeReviewer = common.HexToAddress("0x0e")
)

func feeJob(amount string, feeBps uint16) *Job {
	return &Job{
		Client:   feeClient,
		Reviewer: feeReviewer,
		Amount:   uint256.MustFromDecimal(amount),
		FeeBps:   feeBps,
	}
}

func amountsByReason(plan Settlement) map[string]string {
	out := make(map[string]string)
	for _, p := range plan.Payouts {
		key := p.Account.Hex() + "/" + string(p.Reason)
		prev, ok := out[key]
		if ok {
			sum := new(uint256.Int).Add(uint256.MustFromDecimal(prev), p.Amount)
			out[key] = sum.Dec()
			continue
		}
		out[key] = p.Amount.Dec()
	}
	return out
}

func TestBpsOfFloors(t *testing.T) {
	assert.Equal(t, "0", bpsOf(uint256.NewInt(19), 500).Dec())
	assert.Equal(t, "1", bpsOf(uint256.NewInt(20), 500).Dec())
	assert.Equal(t, "0", bpsOf(nil, 500).Dec())

	max := new(uint256.Int).SetAllOne()
	assert.Equal(t, max.Dec(), bpsOf(max, dispute.MaxBps).Dec())
	half := new(uint256.Int).Rsh(max, 1)
	assert.Equal(t, half.Dec(), bpsOf(max, 5000).Dec())
}

func TestSettleReleaseChargesFee(t *testing.T) {
	plan := settleRelease(feeJob("1000000000000000000", 500), feeOwner)
	assert.Equal(t, StatusReleased, plan.Status)
	got := amountsByReason(plan)
	assert.Equal(t, "950000000000000000", got[feeReviewer.Hex()+"/"+string(ledger.ReasonPayout)])
	assert.Equal(t, "50000000000000000", got[feeOwner.Hex()+"/"+string(ledger.ReasonFee)])
	assert.Equal(t, "1000000000000000000", plan.Total().Dec())
}

func TestSettleReleaseRoundingFavoursReviewer(t *testing.T) {
	plan := settleRelease(feeJob("39", 500), feeOwner)
	got := amountsByReason(plan)
	assert.Equal(t, "38", got[feeReviewer.Hex()+"/"+string(ledger.ReasonPayout)])
	assert.Equal(t, "1", got[feeOwner.Hex()+"/"+string(ledger.ReasonFee)])
}

func TestSettleDispute(t *testing.T) {
	core := &dispute.Core{
		ClientDeposited:   true,
		ReviewerDeposited: true,
		ClientDeposit:     uint256.MustFromDecimal("100000000000000000"),
		ReviewerDeposit:   uint256.MustFromDecimal("100000000000000000"),
	}

	tests := []struct {
		name     string
		decision dispute.Decision
		status   Status
		want     map[string]string
	}{
		{
			name:     "release",
			decision: dispute.Decision{Outcome: dispute.OutcomeReleaseToReviewer},
			status:   StatusReleased,
			want: map[string]string{
				feeReviewer.Hex() + "/payout":        "950000000000000000",
				feeOwner.Hex() + "/fee":              "50000000000000000",
				feeReviewer.Hex() + "/deposit_share": "200000000000000000",
			},
		},
		{
			name:     "refund",
			decision: dispute.Decision{Outcome: dispute.OutcomeRefundToClient},
			status:   StatusResolvedRefunded,
			want: map[string]string{
				feeClient.Hex() + "/refund":        "1000000000000000000",
				feeClient.Hex() + "/deposit_share": "200000000000000000",
			},
		},
		{
			name:     "split",
			decision: dispute.Decision{Outcome: dispute.OutcomeSplit, ReviewerBps: 6000},
			status:   StatusResolvedSplit,
			want: map[string]string{
				feeReviewer.Hex() + "/payout":        "570000000000000000",
				feeOwner.Hex() + "/fee":              "30000000000000000",
				feeClient.Hex() + "/refund":          "400000000000000000",
				feeReviewer.Hex() + "/deposit_share": "120000000000000000",
				feeClient.Hex() + "/deposit_share":   "80000000000000000",
			},
		},
		{
			name:     "split all to client",
			decision: dispute.Decision{Outcome: dispute.OutcomeSplit, ReviewerBps: 0},
			status:   StatusResolvedSplit,
			want: map[string]string{
				feeReviewer.Hex() + "/payout":        "0",
				feeOwner.Hex() + "/fee":              "0",
				feeClient.Hex() + "/refund":          "1000000000000000000",
				feeReviewer.Hex() + "/deposit_share": "0",
				feeClient.Hex() + "/deposit_share":   "200000000000000000",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := settleDispute(feeJob("1000000000000000000", 500), core, tt.decision, feeOwner)
			require.Equal(t, tt.status, plan.Status)
			assert.Equal(t, tt.want, amountsByReason(plan))
			assert.Equal(t, "1200000000000000000", plan.Total().Dec())
		})
	}
}

func TestSettleSplitConservesOddAmounts(t *testing.T) {
	core := &dispute.Core{
		ClientDeposit:   uint256.NewInt(7),
		ReviewerDeposit: uint256.NewInt(6),
	}
	for _, bps := range []uint16{1, 3333, 5000, 6667, 9999} {
		plan := settleDispute(feeJob("1000000000000000001", 777), core, dispute.Decision{Outcome: dispute.OutcomeSplit, ReviewerBps: bps}, feeOwner)
		assert.Equal(t, "1000000000000000014", plan.Total().Dec(), "bps %d", bps)
	}
}

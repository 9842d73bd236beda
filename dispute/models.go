package dispute

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MaxBps is the denominator for every basis-point ratio.
const MaxBps = 10_000

// Outcome is an arbitrator ruling, and the resolved ruling of a dispute.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeReleaseToReviewer
	OutcomeRefundToClient
	OutcomeSplit
)

var (
	ErrNotFound      = errors.New("dispute: not found")
	ErrAlreadyOpen   = errors.New("dispute: already open for job")
	ErrAlreadyVoted  = errors.New("dispute: arbitrator already voted")
	ErrInvalidBallot = errors.New("dispute: invalid ballot")
	ErrInvalidPanel  = errors.New("dispute: invalid arbitrator panel")
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReleaseToReviewer:
		return "release"
	case OutcomeRefundToClient:
		return "refund"
	case OutcomeSplit:
		return "split"
	default:
		return "none"
	}
}

// Valid reports whether o is a castable ruling.
func (o Outcome) Valid() bool {
	return o >= OutcomeReleaseToReviewer && o <= OutcomeSplit
}

// ParseOutcome accepts the names produced by String.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "release", "release_to_reviewer":
		return OutcomeReleaseToReviewer, nil
	case "refund", "refund_to_client":
		return OutcomeRefundToClient, nil
	case "split":
		return OutcomeSplit, nil
	}
	return OutcomeNone, fmt.Errorf("%w: unknown outcome %q", ErrInvalidBallot, s)
}

// Panel is the fixed three-member arbitrator bench of a dispute.
type Panel [3]common.Address

// Contains reports whether addr sits on the panel.
func (p Panel) Contains(addr common.Address) bool {
	for _, a := range p {
		if a == addr {
			return true
		}
	}
	return false
}

// Validate rejects zero and duplicate members, and any member found in excluded.
func (p Panel) Validate(excluded ...common.Address) error {
	for i, a := range p {
		if a == (common.Address{}) {
			return fmt.Errorf("%w: arbitrator %d is zero", ErrInvalidPanel, i)
		}
		for j := i + 1; j < len(p); j++ {
			if p[j] == a {
				return fmt.Errorf("%w: duplicate arbitrator %s", ErrInvalidPanel, a.Hex())
			}
		}
		for _, ex := range excluded {
			if ex != (common.Address{}) && ex == a {
				return fmt.Errorf("%w: %s may not arbitrate this job", ErrInvalidPanel, a.Hex())
			}
		}
	}
	return nil
}

// Core is the dispute record attached to a job.
type Core struct {
	JobID             common.Hash
	OpenedAt          time.Time
	VoteDeadline      time.Time
	Arbitrators       Panel
	ClientDeposited   bool
	ReviewerDeposited bool
	ClientDeposit     *uint256.Int
	ReviewerDeposit   *uint256.Int
	DepositAmount     *uint256.Int
	Resolved          bool
	Outcome           Outcome
	ReviewerBps       uint16
}

// TotalDeposits is the sum of both posted deposits.
func (c *Core) TotalDeposits() *uint256.Int {
	total := new(uint256.Int)
	if c.ClientDeposit != nil {
		total.Add(total, c.ClientDeposit)
	}
	if c.ReviewerDeposit != nil {
		total.Add(total, c.ReviewerDeposit)
	}
	return total
}

// DepositsComplete reports whether both parties have posted.
func (c *Core) DepositsComplete() bool {
	return c.ClientDeposited && c.ReviewerDeposited
}

// Clone returns a deep copy safe to mutate.
func (c *Core) Clone() *Core {
	if c == nil {
		return nil
	}
	out := *c
	out.ClientDeposit = cloneAmount(c.ClientDeposit)
	out.ReviewerDeposit = cloneAmount(c.ReviewerDeposit)
	out.DepositAmount = cloneAmount(c.DepositAmount)
	return &out
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// Vote is one arbitrator's immutable ballot.
type Vote struct {
	JobID       common.Hash
	Arbitrator  common.Address
	Outcome     Outcome
	ReviewerBps uint16
	CastAt      time.Time
}

// ValidateBallot checks the outcome/ratio pairing of a ballot.
func ValidateBallot(outcome Outcome, reviewerBps uint16) error {
	if !outcome.Valid() {
		return fmt.Errorf("%w: outcome %d", ErrInvalidBallot, outcome)
	}
	if outcome == OutcomeSplit {
		if reviewerBps > MaxBps {
			return fmt.Errorf("%w: reviewer bps %d exceeds %d", ErrInvalidBallot, reviewerBps, MaxBps)
		}
		return nil
	}
	if reviewerBps != 0 {
		return fmt.Errorf("%w: reviewer bps only applies to split", ErrInvalidBallot)
	}
	return nil
}

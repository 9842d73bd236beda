package escrow

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Job is one funded work commission. Amount, FeeBps, AcceptWindow and
// SubmitDeadline are fixed at creation.
type Job struct {
	ID             common.Hash    `json:"id"`
	Client         common.Address `json:"client"`
	Nonce          uint64         `json:"nonce"`
	Reviewer       common.Address `json:"reviewer"`
	Amount         *uint256.Int   `json:"amount"`
	FeeBps         uint16         `json:"fee_bps"`
	CreatedAt      time.Time      `json:"created_at"`
	AcceptWindow   time.Duration  `json:"accept_window"`
	AcceptDeadline *time.Time     `json:"accept_deadline,omitempty"`
	SubmitDeadline time.Time      `json:"submit_deadline"`
	ReportHash     common.Hash    `json:"report_hash"`
	Status         Status         `json:"status"`
}

// HasReviewer reports whether a reviewer is pinned or has accepted.
func (j *Job) HasReviewer() bool {
	return j.Reviewer != (common.Address{})
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Amount != nil {
		out.Amount = new(uint256.Int).Set(j.Amount)
	}
	if j.AcceptDeadline != nil {
		d := *j.AcceptDeadline
		out.AcceptDeadline = &d
	}
	return &out
}

// CreateJobParams funds a new job. A zero Reviewer leaves the job open to
// any allowlisted reviewer.
type CreateJobParams struct {
	Client   common.Address
	Reviewer common.Address
	Amount   *uint256.Int
}

// Filter narrows job listings. Zero fields do not filter.
type Filter struct {
	Client   common.Address
	Reviewer common.Address
	Status   Status
	Limit    int
}

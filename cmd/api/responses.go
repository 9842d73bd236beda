package main

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"reviewescrow/db"
	"reviewescrow/dispute"
	"reviewescrow/escrow"
	"reviewescrow/params"
	"reviewescrow/registry"
)

type jobResponse struct {
	ID                  string  `json:"id"`
	Client              string  `json:"client"`
	Nonce               uint64  `json:"nonce"`
	Reviewer            string  `json:"reviewer,omitempty"`
	Amount              string  `json:"amount"`
	FeeBps              uint16  `json:"fee_bps"`
	CreatedAt           string  `json:"created_at"`
	AcceptWindowSeconds int64   `json:"accept_window_seconds"`
	AcceptDeadline      *string `json:"accept_deadline,omitempty"`
	SubmitDeadline      string  `json:"submit_deadline"`
	ReportHash          string  `json:"report_hash,omitempty"`
	Status              string  `json:"status"`
}

func toJobResponse(j *escrow.Job) jobResponse {
	resp := jobResponse{
		ID:                  j.ID.Hex(),
		Client:              j.Client.Hex(),
		Nonce:               j.Nonce,
		Amount:              j.Amount.Dec(),
		FeeBps:              j.FeeBps,
		CreatedAt:           j.CreatedAt.Format(time.RFC3339),
		AcceptWindowSeconds: db.Seconds(j.AcceptWindow),
		SubmitDeadline:      j.SubmitDeadline.Format(time.RFC3339),
		Status:              string(j.Status),
	}
	if j.HasReviewer() {
		resp.Reviewer = j.Reviewer.Hex()
	}
	if j.AcceptDeadline != nil {
		d := j.AcceptDeadline.Format(time.RFC3339)
		resp.AcceptDeadline = &d
	}
	if j.ReportHash != (common.Hash{}) {
		resp.ReportHash = j.ReportHash.Hex()
	}
	return resp
}

type disputeResponse struct {
	JobID             string    `json:"job_id"`
	OpenedAt          string    `json:"opened_at"`
	VoteDeadline      string    `json:"vote_deadline"`
	Arbitrators       [3]string `json:"arbitrators"`
	ClientDeposited   bool      `json:"client_deposited"`
	ReviewerDeposited bool      `json:"reviewer_deposited"`
	ClientDeposit     string    `json:"client_deposit"`
	ReviewerDeposit   string    `json:"reviewer_deposit"`
	DepositAmount     string    `json:"deposit_amount"`
	Resolved          bool      `json:"resolved"`
	Outcome           string    `json:"outcome"`
	ReviewerBps       uint16    `json:"reviewer_bps"`
}

func toDisputeResponse(c *dispute.Core) disputeResponse {
	resp := disputeResponse{
		JobID:             c.JobID.Hex(),
		OpenedAt:          c.OpenedAt.Format(time.RFC3339),
		VoteDeadline:      c.VoteDeadline.Format(time.RFC3339),
		ClientDeposited:   c.ClientDeposited,
		ReviewerDeposited: c.ReviewerDeposited,
		ClientDeposit:     amountString(c.ClientDeposit),
		ReviewerDeposit:   amountString(c.ReviewerDeposit),
		DepositAmount:     amountString(c.DepositAmount),
		Resolved:          c.Resolved,
		Outcome:           c.Outcome.String(),
		ReviewerBps:       c.ReviewerBps,
	}
	for i, a := range c.Arbitrators {
		resp.Arbitrators[i] = a.Hex()
	}
	return resp
}

type voteResponse struct {
	JobID       string `json:"job_id"`
	Arbitrator  string `json:"arbitrator"`
	Outcome     string `json:"outcome"`
	ReviewerBps uint16 `json:"reviewer_bps"`
	CastAt      string `json:"cast_at"`
}

func toVoteResponse(v dispute.Vote) voteResponse {
	return voteResponse{
		JobID:       v.JobID.Hex(),
		Arbitrator:  v.Arbitrator.Hex(),
		Outcome:     v.Outcome.String(),
		ReviewerBps: v.ReviewerBps,
		CastAt:      v.CastAt.Format(time.RFC3339),
	}
}

type paramsResponse struct {
	Owner               string `json:"owner"`
	FeeBps              uint16 `json:"fee_bps"`
	AcceptWindowSeconds int64  `json:"accept_window_seconds"`
	SubmitWindowSeconds int64  `json:"submit_window_seconds"`
	VoteWindowSeconds   int64  `json:"vote_window_seconds"`
	DisputeDeposit      string `json:"dispute_deposit"`
	UpdatedAt           string `json:"updated_at"`
}

func toParamsResponse(p params.Params) paramsResponse {
	return paramsResponse{
		Owner:               p.Owner.Hex(),
		FeeBps:              p.FeeBps,
		AcceptWindowSeconds: db.Seconds(p.AcceptWindow),
		SubmitWindowSeconds: db.Seconds(p.SubmitWindow),
		VoteWindowSeconds:   db.Seconds(p.VoteWindow),
		DisputeDeposit:      p.Deposit().Dec(),
		UpdatedAt:           p.UpdatedAt.Format(time.RFC3339),
	}
}

type membershipResponse struct {
	Account    string `json:"account"`
	Reviewer   bool   `json:"reviewer"`
	Arbitrator bool   `json:"arbitrator"`
}

func toMembershipResponse(m registry.Membership) membershipResponse {
	return membershipResponse{Account: m.Account.Hex(), Reviewer: m.Reviewer, Arbitrator: m.Arbitrator}
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: len(items)}
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

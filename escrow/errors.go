package escrow

import (
	"errors"

	"reviewescrow/dispute"
	"reviewescrow/ledger"
	"reviewescrow/params"
	"reviewescrow/registry"
)

var (
	ErrNotFound            = errors.New("escrow: job not found")
	ErrUnauthorized        = errors.New("escrow: caller not authorized")
	ErrNotReviewer         = errors.New("escrow: caller is not an allowlisted reviewer")
	ErrNotArbitrator       = errors.New("escrow: caller is not on the panel")
	ErrInvalidStatus       = errors.New("escrow: invalid status for operation")
	ErrTooEarly            = errors.New("escrow: deadline not reached")
	ErrTooLate             = errors.New("escrow: deadline passed")
	ErrInvalidInput        = errors.New("escrow: invalid input")
	ErrZeroAmount          = errors.New("escrow: amount is zero")
	ErrZeroReport          = errors.New("escrow: report hash is zero")
	ErrWrongDeposit        = errors.New("escrow: deposit does not match required amount")
	ErrDepositPosted       = errors.New("escrow: deposit already posted")
	ErrDisputeExists       = errors.New("escrow: dispute already open")
	ErrDepositsIncomplete  = errors.New("escrow: dispute deposits incomplete")
	ErrDisputeNotReady     = errors.New("escrow: dispute has no quorum decision")
	ErrArbitratorNotListed = errors.New("escrow: arbitrator not allowlisted")
)

// Kind classifies failures for callers that translate them (HTTP, CLI, metrics).
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindInvalidStatus
	KindTooEarly
	KindTooLate
	KindInvalidInput
	KindNotFound
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidStatus:
		return "invalid_status"
	case KindTooEarly:
		return "too_early"
	case KindTooLate:
		return "too_late"
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindTransfer:
		return "transfer_failed"
	default:
		return "internal"
	}
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{dispute.ErrNotFound, KindNotFound},
	{ErrUnauthorized, KindUnauthorized},
	{ErrNotReviewer, KindUnauthorized},
	{ErrNotArbitrator, KindUnauthorized},
	{registry.ErrUnauthorized, KindUnauthorized},
	{params.ErrUnauthorized, KindUnauthorized},
	{ErrInvalidStatus, KindInvalidStatus},
	{ErrDisputeExists, KindInvalidStatus},
	{dispute.ErrAlreadyOpen, KindInvalidStatus},
	{ErrDepositsIncomplete, KindInvalidStatus},
	{ErrDisputeNotReady, KindInvalidStatus},
	{ErrTooEarly, KindTooEarly},
	{ErrTooLate, KindTooLate},
	{ErrInvalidInput, KindInvalidInput},
	{ErrZeroAmount, KindInvalidInput},
	{ErrZeroReport, KindInvalidInput},
	{ErrWrongDeposit, KindInvalidInput},
	{ErrDepositPosted, KindInvalidInput},
	{ErrArbitratorNotListed, KindInvalidInput},
	{dispute.ErrInvalidBallot, KindInvalidInput},
	{dispute.ErrInvalidPanel, KindInvalidInput},
	{dispute.ErrAlreadyVoted, KindInvalidInput},
	{ledger.ErrNothingToWithdraw, KindInvalidInput},
	{ledger.ErrZeroAccount, KindInvalidInput},
	{registry.ErrZeroAccount, KindInvalidInput},
	{registry.ErrOwnerArbitrator, KindInvalidInput},
	{params.ErrInvalid, KindInvalidInput},
	{params.ErrOwnerIsArbitrator, KindInvalidInput},
	{ledger.ErrTransferFailed, KindTransfer},
}

// KindOf maps any error returned by the escrow, ledger, registry or params
// services to its Kind. Unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"reviewescrow/auth"
	"reviewescrow/dispute"
	"reviewescrow/escrow"
	"reviewescrow/params"
	"reviewescrow/timeline"
)

func parseJobID(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	raw := chi.URLParam(r, "id")
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		writeError(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("invalid job id %q", raw))
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func parseAddress(w http.ResponseWriter, raw, field string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("invalid %s %q", field, raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseAmount(w http.ResponseWriter, raw, field string) (*uint256.Int, bool) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("invalid %s %q", field, raw))
		return nil, false
	}
	return v, true
}

// auth

type loginResponse struct {
	Token     string `json:"token"`
	Account   string `json:"account"`
	ExpiresAt string `json:"expires_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cred, err := s.app.Auth.Register(r.Context(), req)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"account":    cred.Account.Hex(),
		"label":      cred.Label,
		"created_at": cred.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.Auth.Login(r.Context(), req)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		Account:   res.Account.Hex(),
		ExpiresAt: res.ExpiresAt.Format(time.RFC3339),
	})
}

// jobs

type createJobRequest struct {
	Reviewer string `json:"reviewer"`
	Amount   string `json:"amount"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount, "amount")
	if !ok {
		return
	}
	var reviewer common.Address
	if req.Reviewer != "" {
		if reviewer, ok = parseAddress(w, req.Reviewer, "reviewer"); !ok {
			return
		}
	}
	job, err := s.app.Escrow.CreateJob(r.Context(), escrow.CreateJobParams{
		Client:   callerFrom(r.Context()),
		Reviewer: reviewer,
		Amount:   amount,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

// jobTransition adapts a caller-only lifecycle call to a handler.
func (s *Server) jobTransition(call func(ctx context.Context, id common.Hash, caller common.Address) (*escrow.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}
		job, err := call(r.Context(), id, callerFrom(r.Context()))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(s.app.Escrow.Accept)(w, r)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(s.app.Escrow.Cancel)(w, r)
}

func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(s.app.Escrow.ReclaimAfterNoSubmit)(w, r)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(s.app.Escrow.Approve)(w, r)
}

func (s *Server) handleAutoRelease(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(s.app.Escrow.AutoRelease)(w, r)
}

// submitRequest carries either the 32-byte commitment or the raw report,
// which is hashed server side.
type submitRequest struct {
	ReportHash string `json:"report_hash"`
	Report     string `json:"report"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var report common.Hash
	switch {
	case req.ReportHash != "":
		b, err := hexutil.Decode(req.ReportHash)
		if err != nil || len(b) != common.HashLength {
			writeError(w, http.StatusBadRequest, "invalid_input", "report_hash must be 32 bytes of hex")
			return
		}
		report = common.BytesToHash(b)
	case req.Report != "":
		report = escrow.ReportHash([]byte(req.Report))
	}
	job, err := s.app.Escrow.SubmitReport(r.Context(), id, callerFrom(r.Context()), report)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	job, err := s.app.Escrow.Job(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter escrow.Filter
	var ok bool
	if v := q.Get("client"); v != "" {
		if filter.Client, ok = parseAddress(w, v, "client"); !ok {
			return
		}
	}
	if v := q.Get("reviewer"); v != "" {
		if filter.Reviewer, ok = parseAddress(w, v, "reviewer"); !ok {
			return
		}
	}
	if v := q.Get("status"); v != "" {
		st, err := escrow.ParseStatus(v)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		filter.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	jobs, err := s.app.Escrow.Jobs(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, newList(out))
}

func (s *Server) handlePredictJobID(w http.ResponseWriter, r *http.Request) {
	client, ok := parseAddress(w, chi.URLParam(r, "client"), "client")
	if !ok {
		return
	}
	id, nonce, err := s.app.Escrow.PredictJobID(r.Context(), client)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id.Hex(), "nonce": nonce})
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "after must be a non-negative integer")
			return
		}
		after = n
	}
	events, err := s.app.Timeline.Job(r.Context(), id, after, 0)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList[timeline.Event](events))
}

// disputes

type openDisputeRequest struct {
	Arbitrators [3]string `json:"arbitrators"`
	Deposit     string    `json:"deposit"`
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	var req openDisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var panel dispute.Panel
	for i, raw := range req.Arbitrators {
		if panel[i], ok = parseAddress(w, raw, "arbitrator"); !ok {
			return
		}
	}
	deposit, ok := parseAmount(w, req.Deposit, "deposit")
	if !ok {
		return
	}
	core, err := s.app.Escrow.OpenDispute(r.Context(), escrow.OpenDisputeParams{
		JobID:       id,
		Caller:      callerFrom(r.Context()),
		Arbitrators: panel,
		Deposit:     deposit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(core))
}

type depositRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handlePostDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount, "amount")
	if !ok {
		return
	}
	core, err := s.app.Escrow.PostDisputeDeposit(r.Context(), id, callerFrom(r.Context()), amount)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(core))
}

type voteRequest struct {
	Outcome     string `json:"outcome"`
	ReviewerBps uint16 `json:"reviewer_bps"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	outcome, err := dispute.ParseOutcome(req.Outcome)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	vote, err := s.app.Escrow.Vote(r.Context(), escrow.VoteParams{
		JobID:       id,
		Caller:      callerFrom(r.Context()),
		Outcome:     outcome,
		ReviewerBps: req.ReviewerBps,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVoteResponse(vote))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.resolveWith(w, r, s.app.Escrow.ResolveDispute)
}

func (s *Server) handleResolveTimeout(w http.ResponseWriter, r *http.Request) {
	s.resolveWith(w, r, s.app.Escrow.ResolveDisputeTimeout)
}

func (s *Server) resolveWith(w http.ResponseWriter, r *http.Request, resolve func(ctx context.Context, id common.Hash, caller common.Address) (*dispute.Core, error)) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	core, err := resolve(r.Context(), id, callerFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(core))
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	core, err := s.app.Disputes.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(core))
}

func (s *Server) handleDisputeVote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	arb, ok := parseAddress(w, chi.URLParam(r, "arbitrator"), "arbitrator")
	if !ok {
		return
	}
	vote, err := s.app.Disputes.Vote(r.Context(), id, arb)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoteResponse(vote))
}

func (s *Server) handleSplitCount(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	bps, err := strconv.ParseUint(chi.URLParam(r, "bps"), 10, 16)
	if err != nil || bps > dispute.MaxBps {
		writeError(w, http.StatusBadRequest, "invalid_input", "bps must be between 0 and 10000")
		return
	}
	n, err := s.app.Disputes.SplitCount(r.Context(), id, uint16(bps))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id.Hex(), "reviewer_bps": bps, "votes": n})
}

// ledger

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(w, chi.URLParam(r, "account"), "account")
	if !ok {
		return
	}
	bal, err := s.app.Ledger.Balance(r.Context(), account)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: account.Hex(), Balance: bal.Dec()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	amount, err := s.app.Ledger.Withdraw(r.Context(), caller)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": caller.Hex(), "amount": amount.Dec()})
}

// administration

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	p, err := s.app.Params.Get(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toParamsResponse(p))
}

type paramsRequest struct {
	FeeBps              uint16 `json:"fee_bps"`
	AcceptWindowSeconds int64  `json:"accept_window_seconds"`
	SubmitWindowSeconds int64  `json:"submit_window_seconds"`
	VoteWindowSeconds   int64  `json:"vote_window_seconds"`
	DisputeDeposit      string `json:"dispute_deposit"`
}

func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	var req paramsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	deposit, ok := parseAmount(w, req.DisputeDeposit, "dispute_deposit")
	if !ok {
		return
	}
	p, err := s.app.Params.Update(r.Context(), callerFrom(r.Context()), params.Params{
		FeeBps:         req.FeeBps,
		AcceptWindow:   time.Duration(req.AcceptWindowSeconds) * time.Second,
		SubmitWindow:   time.Duration(req.SubmitWindowSeconds) * time.Second,
		VoteWindow:     time.Duration(req.VoteWindowSeconds) * time.Second,
		DisputeDeposit: deposit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toParamsResponse(p))
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	owner, ok := parseAddress(w, req.Owner, "owner")
	if !ok {
		return
	}
	p, err := s.app.Params.TransferOwnership(r.Context(), callerFrom(r.Context()), owner)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toParamsResponse(p))
}

func (s *Server) handleArbitrators(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.Registry.Arbitrators(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Hex())
	}
	writeJSON(w, http.StatusOK, newList(out))
}

func (s *Server) handleMembership(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(w, chi.URLParam(r, "account"), "account")
	if !ok {
		return
	}
	m, err := s.app.Registry.Membership(r.Context(), account)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMembershipResponse(m))
}

type membershipRequest struct {
	Allowed bool `json:"allowed"`
}

func (s *Server) handleSetReviewer(w http.ResponseWriter, r *http.Request) {
	s.setMembership(w, r, s.app.Registry.SetReviewer)
}

func (s *Server) handleSetArbitrator(w http.ResponseWriter, r *http.Request) {
	s.setMembership(w, r, s.app.Registry.SetArbitrator)
}

func (s *Server) setMembership(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, caller, account common.Address, allowed bool) error) {
	account, ok := parseAddress(w, chi.URLParam(r, "account"), "account")
	if !ok {
		return
	}
	var req membershipRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := set(r.Context(), callerFrom(r.Context()), account, req.Allowed); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	m, err := s.app.Registry.Membership(r.Context(), account)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMembershipResponse(m))
}

package timeline

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a notification appended to a stream.
type EventType string

const (
	JobCreated           EventType = "JOB_CREATED"
	JobAccepted          EventType = "JOB_ACCEPTED"
	JobCancelled         EventType = "JOB_CANCELLED"
	ReportSubmitted      EventType = "REPORT_SUBMITTED"
	JobReclaimed         EventType = "JOB_RECLAIMED"
	JobReleased          EventType = "JOB_RELEASED"
	DisputeOpened        EventType = "DISPUTE_OPENED"
	DisputeDepositPosted EventType = "DISPUTE_DEPOSIT_POSTED"
	DisputeVoted         EventType = "DISPUTE_VOTED"
	DisputeResolved      EventType = "DISPUTE_RESOLVED"
	FundsCredited        EventType = "FUNDS_CREDITED"
	FundsWithdrawn       EventType = "FUNDS_WITHDRAWN"
	ReviewerSet          EventType = "REVIEWER_SET"
	ArbitratorSet        EventType = "ARBITRATOR_SET"
	ParamsUpdated        EventType = "PARAMS_UPDATED"
	OwnershipTransferred EventType = "OWNERSHIP_TRANSFERRED"
)

// Topic is the outbox topic an event type is published under.
func (t EventType) Topic() string {
	return "escrow." + strings.ToLower(string(t))
}

// AdminStream carries registry and parameter changes.
const AdminStream = "admin"

// JobStream is the stream of a job and its dispute.
func JobStream(id common.Hash) string {
	return "job:" + id.Hex()
}

// AccountStream is the stream of withdrawals for an account.
func AccountStream(addr common.Address) string {
	return "account:" + strings.ToLower(addr.Hex())
}

var ErrInvalidEvent = errors.New("timeline: invalid event")

// Event is one appended notification. Seq is assigned on append and is
// strictly increasing within a stream.
type Event struct {
	ID        int64          `json:"id"`
	Stream    string         `json:"stream"`
	Seq       int64          `json:"seq"`
	Type      EventType      `json:"type"`
	Actor     common.Address `json:"actor"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// MessageStatus tracks an outbox row through delivery.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageProcessed MessageStatus = "processed"
	MessageDead      MessageStatus = "dead"
)

// Message is an outbox row awaiting publication.
type Message struct {
	ID           string          `json:"id"`
	Topic        string          `json:"topic"`
	Payload      json.RawMessage `json:"payload"`
	Status       MessageStatus   `json:"status"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	ClaimedUntil *time.Time      `json:"claimed_until,omitempty"`
}

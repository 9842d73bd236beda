package escrow

import "fmt"

// Status is the lifecycle position of a job.
type Status string

const (
	StatusOpen             Status = "open"
	StatusAccepted         Status = "accepted"
	StatusSubmitted        Status = "submitted"
	StatusReleased         Status = "released"
	StatusCancelled        Status = "cancelled"
	StatusReclaimed        Status = "reclaimed"
	StatusDisputed         Status = "disputed"
	StatusResolvedRefunded Status = "resolved_refunded"
	StatusResolvedSplit    Status = "resolved_split"
)

var transitions = map[Status][]Status{
	StatusOpen:      {StatusAccepted, StatusCancelled, StatusReclaimed},
	StatusAccepted:  {StatusSubmitted, StatusReclaimed},
	StatusSubmitted: {StatusReleased, StatusDisputed},
	StatusDisputed:  {StatusReleased, StatusResolvedRefunded, StatusResolvedSplit},
}

// Statuses lists every status in graph order.
func Statuses() []Status {
	return []Status{
		StatusOpen, StatusAccepted, StatusSubmitted, StatusDisputed,
		StatusReleased, StatusCancelled, StatusReclaimed, StatusResolvedRefunded, StatusResolvedSplit,
	}
}

// CanTransition reports whether the graph has an edge from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no edge leaves s.
func (s Status) Terminal() bool {
	_, ok := transitions[s]
	return !ok && s.Valid()
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAccepted, StatusSubmitted, StatusReleased, StatusCancelled,
		StatusReclaimed, StatusDisputed, StatusResolvedRefunded, StatusResolvedSplit:
		return true
	}
	return false
}

// ParseStatus validates a stored or user-supplied status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
	return st, nil
}

func (j *Job) transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, j.Status, to)
	}
	j.Status = to
	return nil
}

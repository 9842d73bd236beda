package dispute

// QuorumSize is the number of matching ballots that decides a dispute.
const QuorumSize = 2

// Tally aggregates the ballots cast on one dispute.
type Tally struct {
	Release int
	Refund  int
	Split   map[uint16]int
}

// Decision is a ruling backed by a quorum.
type Decision struct {
	Outcome     Outcome
	ReviewerBps uint16
}

// TallyVotes folds ballots into counters.
func TallyVotes(votes []Vote) Tally {
	t := Tally{Split: make(map[uint16]int)}
	for _, v := range votes {
		t.Add(v)
	}
	return t
}

// Add counts a single ballot.
func (t *Tally) Add(v Vote) {
	switch v.Outcome {
	case OutcomeReleaseToReviewer:
		t.Release++
	case OutcomeRefundToClient:
		t.Refund++
	case OutcomeSplit:
		if t.Split == nil {
			t.Split = make(map[uint16]int)
		}
		t.Split[v.ReviewerBps]++
	}
}

// Decide returns the quorum ruling if one exists. Split ballots only match
// when they name the identical ratio. With three ballots at most one ruling
// can reach quorum, so the check order never changes the result.
func (t Tally) Decide() (Decision, bool) {
	if t.Release >= QuorumSize {
		return Decision{Outcome: OutcomeReleaseToReviewer}, true
	}
	if t.Refund >= QuorumSize {
		return Decision{Outcome: OutcomeRefundToClient}, true
	}
	for bps, n := range t.Split {
		if n >= QuorumSize {
			return Decision{Outcome: OutcomeSplit, ReviewerBps: bps}, true
		}
	}
	return Decision{}, false
}

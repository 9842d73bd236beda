package registry

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorized    = errors.New("registry: caller is not the owner")
	ErrZeroAccount     = errors.New("registry: zero account")
	ErrOwnerArbitrator = errors.New("registry: owner cannot arbitrate")
)

// Membership reports an account's allowlist flags.
type Membership struct {
	Account    common.Address `json:"account"`
	Reviewer   bool           `json:"reviewer"`
	Arbitrator bool           `json:"arbitrator"`
}

// ArbitratorList is the enumerable arbitrator set. Removal swaps the last
// entry into the vacated slot, so enumeration order is not stable.
type ArbitratorList struct {
	items []common.Address
	index map[common.Address]int
}

func NewArbitratorList(items ...common.Address) *ArbitratorList {
	l := &ArbitratorList{index: make(map[common.Address]int, len(items))}
	for _, a := range items {
		l.Add(a)
	}
	return l
}

// Add appends a if absent and reports whether it changed the list.
func (l *ArbitratorList) Add(a common.Address) bool {
	if _, ok := l.index[a]; ok {
		return false
	}
	l.index[a] = len(l.items)
	l.items = append(l.items, a)
	return true
}

// Remove deletes a. When a was not last, moved is the entry that now
// occupies a's old position.
func (l *ArbitratorList) Remove(a common.Address) (moved common.Address, pos int, ok bool) {
	pos, ok = l.index[a]
	if !ok {
		return common.Address{}, -1, false
	}
	last := len(l.items) - 1
	if pos != last {
		moved = l.items[last]
		l.items[pos] = moved
		l.index[moved] = pos
	}
	l.items = l.items[:last]
	delete(l.index, a)
	return moved, pos, true
}

// Position returns a's index in the enumeration.
func (l *ArbitratorList) Position(a common.Address) (int, bool) {
	pos, ok := l.index[a]
	return pos, ok
}

func (l *ArbitratorList) Len() int {
	return len(l.items)
}

// Items returns a copy in enumeration order.
func (l *ArbitratorList) Items() []common.Address {
	out := make([]common.Address, len(l.items))
	copy(out, l.items)
	return out
}

// Clone returns an independent copy.
func (l *ArbitratorList) Clone() *ArbitratorList {
	return NewArbitratorList(l.items...)
}

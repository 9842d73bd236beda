package db

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Amounts are stored as NUMERIC(78,0) and travel as decimal text so pgx never
// has to round-trip through float or big.Float.

// Numeric renders an amount for a `$n::numeric` placeholder.
func Numeric(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// ParseNumeric reads a value selected with `::text`.
func ParseNumeric(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("db: parse numeric %q: %w", s, err)
	}
	return v, nil
}

// NullableAddress maps the zero address to SQL NULL.
func NullableAddress(a common.Address) any {
	if a == (common.Address{}) {
		return nil
	}
	return a.Bytes()
}

// NullableHash maps the zero hash to SQL NULL.
func NullableHash(h common.Hash) any {
	if h == (common.Hash{}) {
		return nil
	}
	return h.Bytes()
}

// Address decodes a BYTEA column; NULL decodes to the zero address.
func Address(b []byte) common.Address {
	if len(b) == 0 {
		return common.Address{}
	}
	return common.BytesToAddress(b)
}

// Hash decodes a BYTEA column; NULL decodes to the zero hash.
func Hash(b []byte) common.Hash {
	if len(b) == 0 {
		return common.Hash{}
	}
	return common.BytesToHash(b)
}

// Seconds stores durations at whole-second granularity.
func Seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// FromSeconds is the inverse of Seconds.
func FromSeconds(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

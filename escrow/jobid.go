package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// JobID derives the identifier of the nonce-th job created by client:
// keccak256(client ‖ uint256(nonce)), the packed encoding callers can
// reproduce before the job is stored.
func JobID(client common.Address, nonce uint64) common.Hash {
	n := uint256.NewInt(nonce).Bytes32()
	return crypto.Keccak256Hash(client.Bytes(), n[:])
}

// ReportHash commits to the raw bytes of a submitted report.
func ReportHash(report []byte) common.Hash {
	return crypto.Keccak256Hash(report)
}

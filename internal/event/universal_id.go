package event

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// UniversalID identifies an external event across chains:
// keccak256(uint32 chainId big-endian || uint256 nonce big-endian).
type UniversalID [32]byte

// NewUniversalID hashes a (chainId, nonce) pair into its universal id.
func NewUniversalID(chainID uint32, nonce *uint256.Int) UniversalID {
	var buf [4 + 32]byte
	binary.BigEndian.PutUint32(buf[:4], chainID)
	n := nonce.Bytes32()
	copy(buf[4:], n[:])

	h := sha3.NewLegacyKeccak256()
	h.Write(buf[:])

	var id UniversalID
	copy(id[:], h.Sum(nil))
	return id
}

func (u UniversalID) String() string {
	return "0x" + hex.EncodeToString(u[:])
}

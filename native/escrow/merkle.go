package escrow

import (
	"bytes"
	"encoding/binary"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ValidatedFill records the most recently consumed secret leaf for an order
// split across multiple sub-escrows.
type ValidatedFill struct {
	Index uint64   `json:"index"`
	Leaf  [32]byte `json:"leaf"`
}

// invalidatorState mirrors the factory's state contract: FillGet reports an
// untouched order as (nil, nil), and the Locker spans a whole validation so
// the cursor check and advance cannot interleave.
type invalidatorState interface {
	sync.Locker
	FillGet(orderHash [32]byte) (*ValidatedFill, error)
	FillPut(orderHash [32]byte, fill *ValidatedFill) error
}

// Invalidator tracks which secret leaf of an order's merkle tree of secrets
// has been consumed, preventing a leaf from unlocking two sub-escrows. It is
// a separate authorization layer consulted by resolvers before creating a
// partial-fill escrow; the factory itself does not enforce it.
type Invalidator struct {
	state invalidatorState
}

// NewInvalidator builds an invalidator over the given state backend.
func NewInvalidator(state invalidatorState) *Invalidator {
	return &Invalidator{state: state}
}

// SecretLeaf encodes a tree leaf as keccak256(index || secretHash), binding
// each secret to its fill position.
func SecretLeaf(index uint64, secretHash [32]byte) [32]byte {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	return [32]byte(ethcrypto.Keccak256Hash(idx[:], secretHash[:]))
}

// VerifyProof checks a pair-sorted keccak merkle proof for the leaf against
// the root committed in the order.
func VerifyProof(root [32]byte, leaf [32]byte, proof [][32]byte) bool {
	computed := leaf
	for _, sibling := range proof {
		if bytes.Compare(computed[:], sibling[:]) <= 0 {
			computed = [32]byte(ethcrypto.Keccak256Hash(computed[:], sibling[:]))
		} else {
			computed = [32]byte(ethcrypto.Keccak256Hash(sibling[:], computed[:]))
		}
	}
	return computed == root
}

// ValidateFill verifies that (index, secretHash) is a member of the order's
// secret tree and advances the order's consumed-leaf cursor. A leaf at or
// below the cursor fails: fills must consume strictly increasing indices.
func (inv *Invalidator) ValidateFill(orderHash [32]byte, root [32]byte, index uint64, secretHash [32]byte, proof [][32]byte) error {
	if inv == nil || inv.state == nil {
		return ErrNilState
	}
	leaf := SecretLeaf(index, secretHash)
	if !VerifyProof(root, leaf, proof) {
		return ErrInvalidProof
	}
	inv.state.Lock()
	defer inv.state.Unlock()
	last, err := inv.state.FillGet(orderHash)
	if err != nil {
		return err
	}
	if last != nil && index <= last.Index {
		return ErrInvalidPartialFill
	}
	return inv.state.FillPut(orderHash, &ValidatedFill{Index: index, Leaf: leaf})
}

// LastValidated returns the latest consumed leaf for an order, nil when no
// fill has been validated yet.
func (inv *Invalidator) LastValidated(orderHash [32]byte) (*ValidatedFill, error) {
	if inv == nil || inv.state == nil {
		return nil, ErrNilState
	}
	return inv.state.FillGet(orderHash)
}

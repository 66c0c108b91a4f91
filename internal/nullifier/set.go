// set.go - Insert-only set of consumed note nullifiers.
//
// Membership is monotonic: a nullifier enters the set once and never leaves.
// Entries are keyed by (tree instance, nullifier): nullifiers derive from leaf
// indices, and indices restart at zero on every tree rollover, so the same
// owner legitimately produces equal nullifier values in different instances.
// The validator inserts sequentially within a batch, so a second occurrence
// of the same instance-scoped nullifier — whether from an earlier transaction
// or earlier in the same batch — fails on insert.

package nullifier

import (
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

var ErrAlreadySpent = errors.New("nullifier: already in set")

type key struct {
	tree uint32
	nf   [32]byte
}

// Set records every published nullifier, scoped to its tree instance.
type Set struct {
	seen map[key]struct{}
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{seen: make(map[key]struct{})}
}

// Insert records a nullifier observed in the given tree instance. The second
// insert of the same (instance, value) pair fails.
func (s *Set) Insert(treeNumber uint32, nf fr.Element) error {
	k := key{tree: treeNumber, nf: nf.Bytes()}
	if _, ok := s.seen[k]; ok {
		return ErrAlreadySpent
	}
	s.seen[k] = struct{}{}
	return nil
}

// Contains reports whether the nullifier was inserted for this tree instance.
func (s *Set) Contains(treeNumber uint32, nf fr.Element) bool {
	_, ok := s.seen[key{tree: treeNumber, nf: nf.Bytes()}]
	return ok
}

// Remove deletes entries inserted during a failed batch. Only the validator
// uses this, to restore the set when a later step of the same batch aborts;
// externally observable membership stays monotonic.
func (s *Set) Remove(treeNumber uint32, nfs []fr.Element) {
	for _, nf := range nfs {
		delete(s.seen, key{tree: treeNumber, nf: nf.Bytes()})
	}
}

// Len returns the number of recorded nullifiers.
func (s *Set) Len() int {
	return len(s.seen)
}

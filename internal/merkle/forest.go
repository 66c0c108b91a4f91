// forest.go - Sequence of tree instances with rollover and root history.
//
// The pool appends to exactly one active instance. When a batch would exceed
// the remaining capacity a new instance starts (treeNumber+1, index reset)
// before the batch is applied; a batch never spans two instances. Every root
// any instance ever produced stays valid until explicitly retired, so proofs
// built against a slightly stale snapshot still verify.

package merkle

import (
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

var (
	ErrBatchTooLarge = errors.New("merkle: batch exceeds tree capacity")
	ErrUnknownTree   = errors.New("merkle: unknown tree number")
)

// Forest manages sequential tree instances and the global root history.
type Forest struct {
	depth int
	trees []*Tree
	roots map[[32]byte]uint32
}

// NewForest starts a forest with one empty instance of the given depth.
func NewForest(depth int) *Forest {
	f := &Forest{
		depth: depth,
		roots: make(map[[32]byte]uint32),
	}
	f.trees = append(f.trees, NewTree(depth, 0))
	return f
}

// Depth returns the fixed depth shared by every instance.
func (f *Forest) Depth() int { return f.depth }

// ActiveTree returns the instance currently accepting insertions.
func (f *Forest) ActiveTree() *Tree { return f.trees[len(f.trees)-1] }

// Tree returns the instance with the given number.
func (f *Forest) Tree(number uint32) (*Tree, error) {
	if uint64(number) >= uint64(len(f.trees)) {
		return nil, ErrUnknownTree
	}
	return f.trees[number], nil
}

// Insert appends a batch, rolling over to a fresh instance first if the
// active one cannot hold it. Returns where the batch landed and the new root.
func (f *Forest) Insert(leaves []fr.Element) (treeNumber uint32, startIndex uint64, root fr.Element, err error) {
	active := f.ActiveTree()
	if uint64(len(leaves)) > active.Capacity() {
		return 0, 0, fr.Element{}, ErrBatchTooLarge
	}
	if len(leaves) == 0 {
		return active.Number(), active.LeafCount(), active.Root(), nil
	}
	if !active.Fits(len(leaves)) {
		active = NewTree(f.depth, active.Number()+1)
		f.trees = append(f.trees, active)
	}
	startIndex = active.LeafCount()
	root, err = active.Insert(leaves)
	if err != nil {
		return 0, 0, fr.Element{}, err
	}
	f.roots[root.Bytes()] = active.Number()
	return active.Number(), startIndex, root, nil
}

// HasRoot reports whether any instance ever produced this root.
func (f *Forest) HasRoot(root fr.Element) bool {
	_, ok := f.roots[root.Bytes()]
	return ok
}

// TreeForRoot resolves a historical root to the instance that produced it.
func (f *Forest) TreeForRoot(root fr.Element) (uint32, bool) {
	n, ok := f.roots[root.Bytes()]
	return n, ok
}

// GenerateProof produces an inclusion proof for a leaf in a specific instance.
func (f *Forest) GenerateProof(treeNumber uint32, index uint64) (*Proof, error) {
	tree, err := f.Tree(treeNumber)
	if err != nil {
		return nil, err
	}
	return tree.GenerateProof(index)
}

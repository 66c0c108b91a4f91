// tree.go - Append-only incremental Merkle tree over note commitments.
//
// A tree instance has fixed depth D and capacity 2^D leaves. Missing siblings
// are per-level zero-subtree hashes precomputed once, so inserting a batch
// recomputes only the path levels the batch touches: cost scales with
// batch size times depth, never with the full tree.

package merkle

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zkshield/shieldpool/internal/field"
)

// DefaultDepth is the tree depth used by the pool: 65536 leaves per instance.
const DefaultDepth = 16

var (
	ErrTreeFull     = errors.New("merkle: batch exceeds remaining tree capacity")
	ErrLeafNotFound = errors.New("merkle: leaf index beyond inserted range")
)

// zeroLeafSeed is hashed into the scalar field to form the level-0 zero value.
var zeroLeafSeed = []byte("shieldpool.empty.leaf")

// zeroHashes precomputes the hash of the empty subtree at every level.
func zeroHashes(depth int) []fr.Element {
	zeros := make([]fr.Element, depth+1)
	zeros[0] = field.Reduce(crypto.Keccak256(zeroLeafSeed))
	for i := 0; i < depth; i++ {
		zeros[i+1] = field.Hash(zeros[i], zeros[i])
	}
	return zeros
}

// Tree is one accumulator instance. Nodes are cached sparsely per level;
// anything absent is the zero-subtree hash for that level.
type Tree struct {
	depth  int
	number uint32
	next   uint64
	levels []map[uint64]fr.Element
	zeros  []fr.Element
	roots  []fr.Element
}

// NewTree creates an empty instance with the given tree number.
func NewTree(depth int, number uint32) *Tree {
	if depth <= 0 || depth > 32 {
		panic(fmt.Sprintf("merkle: unsupported depth %d", depth))
	}
	levels := make([]map[uint64]fr.Element, depth+1)
	for i := range levels {
		levels[i] = make(map[uint64]fr.Element)
	}
	return &Tree{
		depth:  depth,
		number: number,
		levels: levels,
		zeros:  zeroHashes(depth),
	}
}

// Number returns the tree's position in the forest sequence.
func (t *Tree) Number() uint32 { return t.number }

// LeafCount returns the number of leaves inserted so far.
func (t *Tree) LeafCount() uint64 { return t.next }

// Capacity returns the fixed leaf capacity 2^depth.
func (t *Tree) Capacity() uint64 { return 1 << uint(t.depth) }

// Fits reports whether a batch of n leaves still fits in this instance.
func (t *Tree) Fits(n int) bool { return t.next+uint64(n) <= t.Capacity() }

// Root returns the current root; for an empty tree this is the zero-subtree
// hash at the top level.
func (t *Tree) Root() fr.Element { return t.node(t.depth, 0) }

// RootHistory returns every root produced by an insertion, oldest first.
func (t *Tree) RootHistory() []fr.Element {
	out := make([]fr.Element, len(t.roots))
	copy(out, t.roots)
	return out
}

func (t *Tree) node(level int, index uint64) fr.Element {
	if v, ok := t.levels[level][index]; ok {
		return v
	}
	return t.zeros[level]
}

// Insert appends the batch contiguously at the next free index and
// recomputes only the touched path levels. An empty batch is a no-op and
// leaves the root unchanged.
func (t *Tree) Insert(leaves []fr.Element) (fr.Element, error) {
	if len(leaves) == 0 {
		return t.Root(), nil
	}
	if !t.Fits(len(leaves)) {
		return fr.Element{}, ErrTreeFull
	}
	start := t.next
	end := start + uint64(len(leaves))
	for i, leaf := range leaves {
		t.levels[0][start+uint64(i)] = leaf
	}
	t.next = end
	for level := 0; level < t.depth; level++ {
		first := start >> uint(level+1)
		last := (end - 1) >> uint(level+1)
		for p := first; p <= last; p++ {
			left := t.node(level, 2*p)
			right := t.node(level, 2*p+1)
			t.levels[level+1][p] = field.Hash(left, right)
		}
	}
	root := t.Root()
	t.roots = append(t.roots, root)
	return root, nil
}

// Proof is a fixed-length inclusion proof: one sibling per level plus the
// index bitfield encoding left/right at each step.
type Proof struct {
	Leaf     fr.Element   `json:"leaf"`
	Index    uint64       `json:"index"`
	Siblings []fr.Element `json:"siblings"`
	Root     fr.Element   `json:"root"`
}

// GenerateProof walks leaf to root recording the sibling (cached value or
// zero) and direction at each level, against the current root.
func (t *Tree) GenerateProof(index uint64) (*Proof, error) {
	if index >= t.next {
		return nil, ErrLeafNotFound
	}
	siblings := make([]fr.Element, t.depth)
	idx := index
	for level := 0; level < t.depth; level++ {
		siblings[level] = t.node(level, idx^1)
		idx >>= 1
	}
	return &Proof{
		Leaf:     t.node(0, index),
		Index:    index,
		Siblings: siblings,
		Root:     t.Root(),
	}, nil
}

// ValidateProof folds the leaf upward using the index bits: a zero bit hashes
// (current, sibling), a one bit hashes (sibling, current). The result must
// equal the claimed root.
func ValidateProof(p *Proof) bool {
	current := p.Leaf
	for level, sibling := range p.Siblings {
		if (p.Index>>uint(level))&1 == 0 {
			current = field.Hash(current, sibling)
		} else {
			current = field.Hash(sibling, current)
		}
	}
	return current.Equal(&p.Root)
}

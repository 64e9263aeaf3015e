// Package tree implements the BlockTree: a persistent forest of every
// observed block, rooted at a synthetic null-root so that multiple
// genesis blocks can coexist without special-casing (spec.md §3,
// §4.1). Parent/child links, which the original design expresses as
// cyclic object references, are represented here as integer indices
// into a flat arena, following the re-architecture strategy in
// spec.md §9 ("arena-allocate all BlockTreeNode values ... represent
// links as integer node indices"). This mirrors, at a structural
// level, how beacon-chain/blockchain/fork_choice.go walks block
// ancestry and children, adapted from a DB-backed lookup to an
// in-memory arena since this simulator has no persistent block store
// backing the tree itself.
package tree

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/beaconsim/beacon-chain/types"
)

var log = logrus.WithField("prefix", "tree")

// NodeIndex is an arena index into a BlockTree's node slice.
type NodeIndex int

// NullRootIndex is the synthetic parent of all genesis blocks.
const NullRootIndex NodeIndex = 0

// invalidIndex marks "no such node" (e.g. the null-root's own parent).
const invalidIndex NodeIndex = -1

var (
	// ErrDuplicateBlock is returned by AddBlock when the block's hash
	// is already present in the tree.
	ErrDuplicateBlock = errors.New("block already present in tree")
	// ErrUnknownParent is returned by AddBlock when the block's parent
	// hash has not yet been observed; the caller may buffer and retry.
	ErrUnknownParent = errors.New("parent block not found in tree")
	// ErrUnknownHash is returned by operations that require a known
	// node hash.
	ErrUnknownHash = errors.New("hash not found in tree")
)

// NodeMetadata carries the consensus-required, LMD-GHOST-mutated
// fields for a node. UI-only hints are deliberately not part of this
// struct: spec.md §9 requires consensus fields and UI fields to live
// in separate tables so the UI can never mutate consensus state.
type NodeMetadata struct {
	AttestedEth uint64
	IsInvalid   bool
}

// Node is one BlockTreeNode: a block (nil for the null-root) plus its
// tree position and decoration.
type Node struct {
	Block      *types.Block
	Hash       [32]byte
	IsNullRoot bool

	parent   NodeIndex
	children []NodeIndex

	Metadata NodeMetadata
}

// Parent returns this node's parent index, or invalidIndex for the
// null-root.
func (n *Node) Parent() NodeIndex { return n.parent }

// Children returns this node's child indices in insertion order. The
// slice is owned by the tree; callers must not mutate it.
func (n *Node) Children() []NodeIndex { return n.children }

// BlockTree is the forest of all observed blocks under one null-root.
type BlockTree struct {
	nodes       []*Node
	nodesByHash map[[32]byte]NodeIndex
	leaves      map[NodeIndex]struct{}
	ghostHead   NodeIndex
}

// New constructs an empty BlockTree containing only the null-root,
// which starts out as the ghost head and the sole leaf.
func New() *BlockTree {
	root := &Node{IsNullRoot: true, parent: invalidIndex}
	t := &BlockTree{
		nodes:       []*Node{root},
		nodesByHash: make(map[[32]byte]NodeIndex),
		leaves:      make(map[NodeIndex]struct{}),
		ghostHead:   NullRootIndex,
	}
	t.leaves[NullRootIndex] = struct{}{}
	return t
}

// resolveParent returns the index a block should attach to: the
// null-root for height-0 blocks, otherwise the node named by
// previousHeaderHash.
func (t *BlockTree) resolveParent(block *types.Block) (NodeIndex, bool) {
	if block.Header.Height == 0 {
		return NullRootIndex, true
	}
	idx, ok := t.nodesByHash[block.Header.PreviousHeaderHash]
	return idx, ok
}

// AddBlock inserts a block into the tree. It returns ErrDuplicateBlock
// if the hash is already known, or ErrUnknownParent if the parent has
// not yet been observed (per spec.md §4.1, the caller may buffer and
// retry such blocks).
func (t *BlockTree) AddBlock(block *types.Block) (*Node, error) {
	hash := block.Hash()
	if _, exists := t.nodesByHash[hash]; exists {
		return nil, ErrDuplicateBlock
	}
	parentIdx, ok := t.resolveParent(block)
	if !ok {
		return nil, ErrUnknownParent
	}

	idx := NodeIndex(len(t.nodes))
	node := &Node{Block: block, Hash: hash, parent: parentIdx}
	t.nodes = append(t.nodes, node)
	t.nodesByHash[hash] = idx

	parent := t.nodes[parentIdx]
	parent.children = append(parent.children, idx)
	delete(t.leaves, parentIdx)
	t.leaves[idx] = struct{}{}

	log.WithFields(logrus.Fields{
		"height": block.Header.Height,
		"slot":   block.Header.Slot,
	}).Debug("Block added to tree")
	return node, nil
}

// GetNode looks up a node by block hash.
func (t *BlockTree) GetNode(hash [32]byte) (*Node, bool) {
	idx, ok := t.nodesByHash[hash]
	if !ok {
		return nil, false
	}
	return t.nodes[idx], true
}

// indexOf is the internal counterpart of GetNode, used by components
// in this and sibling packages that operate on indices directly.
func (t *BlockTree) indexOf(hash [32]byte) (NodeIndex, bool) {
	idx, ok := t.nodesByHash[hash]
	return idx, ok
}

// NodeAt returns the node at the given arena index.
func (t *BlockTree) NodeAt(idx NodeIndex) *Node {
	return t.nodes[idx]
}

// IndexOf exposes indexOf to sibling packages (forkchoice, casper)
// that decorate the tree by index rather than by hash.
func (t *BlockTree) IndexOf(hash [32]byte) (NodeIndex, bool) {
	return t.indexOf(hash)
}

// chainFrom walks parent pointers from idx to the null-root,
// returning blocks in genesis-first order.
func (t *BlockTree) chainFrom(idx NodeIndex) []*types.Block {
	var reversed []*types.Block
	for cur := idx; cur != invalidIndex; {
		node := t.nodes[cur]
		if node.IsNullRoot {
			break
		}
		reversed = append(reversed, node.Block)
		cur = node.parent
	}
	chain := make([]*types.Block, len(reversed))
	for i, b := range reversed {
		chain[len(reversed)-1-i] = b
	}
	return chain
}

// GetChain walks parent pointers from fromHash to the null-root and
// returns the blocks in genesis-first order. It returns nil if
// fromHash is unknown.
func (t *BlockTree) GetChain(fromHash [32]byte) []*types.Block {
	idx, ok := t.nodesByHash[fromHash]
	if !ok {
		return nil
	}
	return t.chainFrom(idx)
}

// GetCanonicalChain returns GetChain(ghostHead).
func (t *BlockTree) GetCanonicalChain() []*types.Block {
	return t.chainFrom(t.ghostHead)
}

// GhostHead returns the current canonical tip's node, or the
// null-root's node if no block has been added yet.
func (t *BlockTree) GhostHead() *Node {
	return t.nodes[t.ghostHead]
}

// GhostHeadIndex returns the arena index of the current canonical tip.
func (t *BlockTree) GhostHeadIndex() NodeIndex {
	return t.ghostHead
}

// SetGhostHead installs hash as the canonical tip. It fails if hash is
// unknown; the null-root has no hash entry so it cannot be named this
// way (use SetGhostHeadIndex(NullRootIndex) to reset to it directly).
func (t *BlockTree) SetGhostHead(hash [32]byte) error {
	idx, ok := t.nodesByHash[hash]
	if !ok {
		return ErrUnknownHash
	}
	return t.SetGhostHeadIndex(idx)
}

// SetGhostHeadIndex is the index-based counterpart of SetGhostHead,
// used by forkchoice after it computes a new head internally.
// NullRootIndex is a legitimate value here (spec.md §4.3: "if all
// leaves are invalid, return the deepest valid ancestor" can walk all
// the way back to the null-root), so it is installed like any other
// index rather than rejected.
func (t *BlockTree) SetGhostHeadIndex(idx NodeIndex) error {
	t.ghostHead = idx
	return nil
}

// IsDescendant reports whether the node named by descendant is equal
// to or a descendant of the node named by ancestor.
func (t *BlockTree) IsDescendant(descendant, ancestor NodeIndex) bool {
	for cur := descendant; cur != invalidIndex; {
		if cur == ancestor {
			return true
		}
		if t.nodes[cur].IsNullRoot {
			return false
		}
		cur = t.nodes[cur].parent
	}
	return false
}

// Ancestors returns the path from idx (inclusive) up to, but not
// including, the null-root.
func (t *BlockTree) Ancestors(idx NodeIndex) []NodeIndex {
	var chain []NodeIndex
	for cur := idx; cur != invalidIndex; {
		node := t.nodes[cur]
		if node.IsNullRoot {
			break
		}
		chain = append(chain, cur)
		cur = node.parent
	}
	return chain
}

// IncrementWeight adds amount to the node's attestedEth. The caller is
// responsible for calling this on every element of an ancestor chain.
func (t *BlockTree) IncrementWeight(idx NodeIndex, amount uint64) {
	t.nodes[idx].Metadata.AttestedEth += amount
}

// DecrementWeight subtracts amount from the node's attestedEth,
// floored at zero to tolerate re-entrant invalidation walks.
func (t *BlockTree) DecrementWeight(idx NodeIndex, amount uint64) {
	w := &t.nodes[idx].Metadata.AttestedEth
	if *w < amount {
		*w = 0
		return
	}
	*w -= amount
}

// SetInvalid marks a node invalid and zeroes its own weight; it does
// not redecorate ancestors; see beacon-chain/forkchoice for that (the
// weight-redecoration half of spec.md §4.3's markNodeInvalid).
func (t *BlockTree) SetInvalid(idx NodeIndex) {
	t.nodes[idx].Metadata.IsInvalid = true
	t.nodes[idx].Metadata.AttestedEth = 0
}

// ValidChildren returns idx's children excluding any marked invalid.
func (t *BlockTree) ValidChildren(idx NodeIndex) []NodeIndex {
	var out []NodeIndex
	for _, c := range t.nodes[idx].children {
		if !t.nodes[c].Metadata.IsInvalid {
			out = append(out, c)
		}
	}
	return out
}

// Stats summarizes the tree's size, per spec.md §4.1 getStats.
type Stats struct {
	TotalBlocks int
	Leaves      int
	Forks       int
}

// GetStats returns aggregate counts; Forks is defined as leaves-1,
// floored at 0 for the empty tree.
func (t *BlockTree) GetStats() Stats {
	forks := len(t.leaves) - 1
	if forks < 0 {
		forks = 0
	}
	return Stats{
		TotalBlocks: len(t.nodes) - 1,
		Leaves:      len(t.leaves),
		Forks:       forks,
	}
}

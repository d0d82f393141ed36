package btree

import (
	"cmp"
	"errors"
	"fmt"
	"io"

	"latchdb/buffer"
	"latchdb/common"
	"latchdb/disk/page"
	"latchdb/txn"
)

// ErrKeyExists is returned by Insert when the key is already present.
var ErrKeyExists = errors.New("btree: key already exists")

// ErrKeyNotFound is returned by Delete when the key is absent.
var ErrKeyNotFound = errors.New("btree: key not found")

const maxMoveRightRetries = 8

// minKeys is the minimum number of entries a non-root node may hold
// before it is considered underflowing and must redistribute or merge.
func minKeys(maxSize int) int { return maxSize / 2 }

// BPlusTree is a disk-backed, latch-crabbing B+ tree index keyed by K
// and storing txn.RID values. A dedicated header page holds the
// current root page id; its own latch guards root-pointer changes in
// place of a standalone mutex.
type BPlusTree[K cmp.Ordered] struct {
	bpm          *buffer.BufferPoolManager
	headerPageID page.ID
	codec        KeySerializer[K]
	opts         Options
}

// NewBPlusTree allocates a fresh, empty tree: a header page pointing at
// a single empty root leaf.
func NewBPlusTree[K cmp.Ordered](bpm *buffer.BufferPoolManager, codec KeySerializer[K], opts Options) (*BPlusTree[K], error) {
	common.Assertf(opts.LeafMaxSize >= 3 && opts.InternalMaxSize >= 3,
		"btree: degenerate node capacity leaf=%d internal=%d", opts.LeafMaxSize, opts.InternalMaxSize)

	header, err := bpm.NewPageGuarded()
	if err != nil {
		return nil, err
	}
	root, err := bpm.NewPageGuarded()
	if err != nil {
		header.Drop()
		return nil, err
	}

	initLeaf(root.Page(), opts.LeafMaxSize)
	root.MarkDirty()
	encodeHeaderRoot(header.Page(), root.Page().ID())
	encodeHeaderDepth(header.Page(), 1)
	header.MarkDirty()

	headerID := header.Page().ID()
	root.Drop()
	header.Drop()

	return &BPlusTree[K]{bpm: bpm, headerPageID: headerID, codec: codec, opts: opts}, nil
}

// OpenBPlusTree wraps an existing tree whose header page id is already
// known, as when re-opening an index after a restart.
func OpenBPlusTree[K cmp.Ordered](bpm *buffer.BufferPoolManager, headerPageID page.ID, codec KeySerializer[K], opts Options) *BPlusTree[K] {
	return &BPlusTree[K]{bpm: bpm, headerPageID: headerPageID, codec: codec, opts: opts}
}

// HeaderPageID returns the tree's root-pointer page id, to be persisted
// by the caller (e.g. in a catalog) and passed back to OpenBPlusTree.
func (t *BPlusTree[K]) HeaderPageID() page.ID { return t.headerPageID }

func (t *BPlusTree[K]) readRootID() (page.ID, error) {
	header, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return page.InvalidID, err
	}
	defer header.Drop()
	return decodeHeaderRoot(header.Page()), nil
}

// Depth reports the tree's current number of levels (a lone root leaf
// counts as depth 1), incremented on every root split and decremented
// on every root collapse.
func (t *BPlusTree[K]) Depth() (int, error) {
	header, err := t.bpm.FetchPageRead(t.headerPageID)
	if err != nil {
		return 0, err
	}
	defer header.Drop()
	return decodeHeaderDepth(header.Page()), nil
}

// GetValue performs a pure shared-latch crab walk from the root to the
// leaf that would hold key, returning its value if present.
func (t *BPlusTree[K]) GetValue(key K) (txn.RID, bool, error) {
	rootID, err := t.readRootID()
	if err != nil {
		return txn.RID{}, false, err
	}

	current, err := t.bpm.FetchPageRead(rootID)
	if err != nil {
		return txn.RID{}, false, err
	}
	for pageKindOf(current.Page()) != kindLeaf {
		idx := internalChildIndexFor(current.Page(), t.codec, key)
		childID := internalChildAt(current.Page(), t.codec.Size(), idx)
		next, err := t.bpm.FetchPageRead(childID)
		current.Drop()
		if err != nil {
			return txn.RID{}, false, err
		}
		current = next
	}
	defer current.Drop()

	idx, found := leafFind(current.Page(), t.codec, key)
	if !found {
		return txn.RID{}, false, nil
	}
	return leafValueAt(current.Page(), t.codec.Size(), idx), true, nil
}

// crabToLeafForWrite does a read-latch-coupled descent to the leaf that
// should hold key, then upgrades to that leaf's write latch. Dropping
// the read latch before taking the write latch opens a gap in which a
// concurrent pessimistic split could move the target key into a new
// right sibling; once the write latch is held, this corrects for that
// by moving right along the leaf chain (the B-link "move-right"
// technique) until the key's actual home leaf is reached, bounded by
// maxMoveRightRetries before giving up and letting the caller fall
// back to the fully pessimistic path.
func (t *BPlusTree[K]) crabToLeafForWrite(key K) (buffer.WritePageGuard, error) {
	rootID, err := t.readRootID()
	if err != nil {
		return buffer.WritePageGuard{}, err
	}

	current, err := t.bpm.FetchPageRead(rootID)
	if err != nil {
		return buffer.WritePageGuard{}, err
	}
	for pageKindOf(current.Page()) != kindLeaf {
		idx := internalChildIndexFor(current.Page(), t.codec, key)
		childID := internalChildAt(current.Page(), t.codec.Size(), idx)
		next, err := t.bpm.FetchPageRead(childID)
		current.Drop()
		if err != nil {
			return buffer.WritePageGuard{}, err
		}
		current = next
	}
	leafID := current.Page().ID()
	current.Drop()

	write, err := t.bpm.FetchPageWrite(leafID)
	if err != nil {
		return buffer.WritePageGuard{}, err
	}

	for i := 0; i < maxMoveRightRetries; i++ {
		pg := write.Page()
		n := keyCountOf(pg)
		right := rightSiblingOf(pg)
		if n == 0 || right == page.InvalidID || !(leafKeyAt(pg, t.codec, n-1) < key) {
			break
		}
		next, err := t.bpm.FetchPageWrite(right)
		write.Drop()
		if err != nil {
			return buffer.WritePageGuard{}, err
		}
		write = next
	}
	return write, nil
}

// Insert adds key/rid to the tree. It first attempts an optimistic fast
// path — crab down with shared latches, take an exclusive latch only on
// the target leaf, insert in place if it fits — and falls back to a
// pessimistic restart holding the header's write latch and exclusive
// latches all the way down whenever the optimistic attempt finds no
// room, per the two-phase design spec.md calls for.
func (t *BPlusTree[K]) Insert(key K, rid txn.RID) error {
	done, err := t.optimisticInsert(key, rid)
	if done {
		return err
	}
	return t.pessimisticInsert(key, rid)
}

func (t *BPlusTree[K]) optimisticInsert(key K, rid txn.RID) (done bool, err error) {
	leaf, err := t.crabToLeafForWrite(key)
	if err != nil {
		return true, err
	}
	defer leaf.Drop()

	pg := leaf.Page()
	idx, found := leafFind(pg, t.codec, key)
	if found {
		return true, ErrKeyExists
	}
	if keyCountOf(pg)+1 >= maxSizeOf(pg) {
		return false, nil
	}
	leafInsertAt(pg, t.codec, idx, key, rid)
	leaf.MarkDirty()
	return true, nil
}

// pathFrame is one ancestor held while crabbing exclusively down to a
// leaf: the write-latched node itself, and the index at which the
// caller descended into its child — the position a split below must be
// spliced into if it propagates this far up.
type pathFrame struct {
	guard buffer.WritePageGuard
	idx   int
}

func (t *BPlusTree[K]) pessimisticInsert(key K, rid txn.RID) error {
	header, err := t.bpm.FetchPageWrite(t.headerPageID)
	if err != nil {
		return err
	}
	headerHeld := true
	releaseHeader := func() {
		if headerHeld {
			header.Drop()
			headerHeld = false
		}
	}

	rootID := decodeHeaderRoot(header.Page())
	current, err := t.bpm.FetchPageWrite(rootID)
	if err != nil {
		header.Drop()
		return err
	}

	var stack []pathFrame
	releaseStack := func() {
		for i := len(stack) - 1; i >= 0; i-- {
			stack[i].guard.Drop()
		}
		stack = nil
	}

	for pageKindOf(current.Page()) != kindLeaf {
		idx := internalChildIndexFor(current.Page(), t.codec, key)
		childID := internalChildAt(current.Page(), t.codec.Size(), idx)
		child, err := t.bpm.FetchPageWrite(childID)
		if err != nil {
			current.Drop()
			releaseStack()
			releaseHeader()
			return err
		}
		stack = append(stack, pathFrame{guard: current, idx: idx})

		var childSafe bool
		if pageKindOf(child.Page()) == kindLeaf {
			childSafe = !leafIsFull(child.Page())
		} else {
			childSafe = !internalIsFull(child.Page())
		}
		if childSafe {
			releaseStack()
			releaseHeader()
		}
		current = child
	}

	leaf := current
	pg := leaf.Page()
	idx, found := leafFind(pg, t.codec, key)
	if found {
		leaf.Drop()
		releaseStack()
		releaseHeader()
		return ErrKeyExists
	}
	leafInsertAt(pg, t.codec, idx, key, rid)
	leaf.MarkDirty()

	if keyCountOf(pg) <= maxSizeOf(pg) {
		leaf.Drop()
		releaseStack()
		releaseHeader()
		return nil
	}

	if len(stack) > 0 {
		parent := stack[len(stack)-1]
		parentPg := parent.guard.Page()
		at := parent.idx
		minSize := minKeys(maxSizeOf(pg))

		if at > 0 {
			leftID := internalChildAt(parentPg, t.codec.Size(), at-1)
			leftSib, err := t.bpm.FetchPageWrite(leftID)
			if err != nil {
				leaf.Drop()
				releaseStack()
				releaseHeader()
				return err
			}
			if canRedistribute(keyCountOf(leftSib.Page()), keyCountOf(pg), minSize, maxSizeOf(pg)) {
				newSep := leafShiftRightToLeft(leftSib.Page(), pg, t.codec)
				setInternalKeyAt(parentPg, t.codec, at-1, newSep)
				leftSib.MarkDirty()
				leaf.MarkDirty()
				parent.guard.MarkDirty()
				leftSib.Drop()
				leaf.Drop()
				releaseStack()
				releaseHeader()
				return nil
			}
			leftSib.Drop()
		}

		if at < keyCountOf(parentPg) {
			rightID := internalChildAt(parentPg, t.codec.Size(), at+1)
			rightSib, err := t.bpm.FetchPageWrite(rightID)
			if err != nil {
				leaf.Drop()
				releaseStack()
				releaseHeader()
				return err
			}
			if canRedistribute(keyCountOf(pg), keyCountOf(rightSib.Page()), minSize, maxSizeOf(pg)) {
				newSep := leafShiftLeftToRight(pg, rightSib.Page(), t.codec)
				setInternalKeyAt(parentPg, t.codec, at, newSep)
				rightSib.MarkDirty()
				leaf.MarkDirty()
				parent.guard.MarkDirty()
				rightSib.Drop()
				leaf.Drop()
				releaseStack()
				releaseHeader()
				return nil
			}
			rightSib.Drop()
		}
	}

	right, err := t.bpm.NewPageGuarded()
	if err != nil {
		leaf.Drop()
		releaseStack()
		releaseHeader()
		return err
	}
	initLeaf(right.Page(), t.opts.LeafMaxSize)
	sepKey := leafSplit(pg, right.Page(), t.codec)
	leaf.MarkDirty()
	right.MarkDirty()
	newChildID := right.Page().ID()
	leftChildID := pg.ID()
	right.Drop()
	leaf.Drop()

	if len(stack) == 0 {
		// the leaf that just split was the root itself: build a new
		// internal root directly above the two halves.
		newRoot, err := t.bpm.NewPageGuarded()
		if err != nil {
			releaseHeader()
			return err
		}
		initInternal(newRoot.Page(), t.opts.InternalMaxSize)
		setInternalChildAt(newRoot.Page(), t.codec.Size(), 0, leftChildID)
		internalInsertAt(newRoot.Page(), t.codec, 0, sepKey, newChildID)
		newRoot.MarkDirty()

		encodeHeaderRoot(header.Page(), newRoot.Page().ID())
		encodeHeaderDepth(header.Page(), decodeHeaderDepth(header.Page())+1)
		header.MarkDirty()
		newRoot.Drop()
		releaseHeader()
		return nil
	}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		wasRoot := len(stack) == 0
		parentPg := frame.guard.Page()

		internalInsertAt(parentPg, t.codec, frame.idx, sepKey, newChildID)
		frame.guard.MarkDirty()

		if keyCountOf(parentPg) <= maxSizeOf(parentPg) {
			frame.guard.Drop()
			releaseStack()
			releaseHeader()
			return nil
		}

		if !wasRoot {
			grandparent := stack[len(stack)-1]
			gpPg := grandparent.guard.Page()
			gAt := grandparent.idx
			minSize := minKeys(maxSizeOf(parentPg))

			if gAt > 0 {
				leftID := internalChildAt(gpPg, t.codec.Size(), gAt-1)
				leftSib, err := t.bpm.FetchPageWrite(leftID)
				if err != nil {
					frame.guard.Drop()
					releaseStack()
					releaseHeader()
					return err
				}
				if canRedistribute(keyCountOf(leftSib.Page()), keyCountOf(parentPg), minSize, maxSizeOf(parentPg)) {
					sep := internalKeyAt(gpPg, t.codec, gAt-1)
					newSep := internalShiftRightToLeft(leftSib.Page(), parentPg, sep, t.codec)
					setInternalKeyAt(gpPg, t.codec, gAt-1, newSep)
					leftSib.MarkDirty()
					grandparent.guard.MarkDirty()
					leftSib.Drop()
					frame.guard.Drop()
					releaseStack()
					releaseHeader()
					return nil
				}
				leftSib.Drop()
			}

			if gAt < keyCountOf(gpPg) {
				rightID := internalChildAt(gpPg, t.codec.Size(), gAt+1)
				rightSib, err := t.bpm.FetchPageWrite(rightID)
				if err != nil {
					frame.guard.Drop()
					releaseStack()
					releaseHeader()
					return err
				}
				if canRedistribute(keyCountOf(parentPg), keyCountOf(rightSib.Page()), minSize, maxSizeOf(parentPg)) {
					sep := internalKeyAt(gpPg, t.codec, gAt)
					newSep := internalShiftLeftToRight(parentPg, rightSib.Page(), sep, t.codec)
					setInternalKeyAt(gpPg, t.codec, gAt, newSep)
					rightSib.MarkDirty()
					grandparent.guard.MarkDirty()
					rightSib.Drop()
					frame.guard.Drop()
					releaseStack()
					releaseHeader()
					return nil
				}
				rightSib.Drop()
			}
		}

		newRight, err := t.bpm.NewPageGuarded()
		if err != nil {
			frame.guard.Drop()
			releaseStack()
			releaseHeader()
			return err
		}
		initInternal(newRight.Page(), t.opts.InternalMaxSize)
		upKey := internalSplit(parentPg, newRight.Page(), t.codec)
		newRight.MarkDirty()
		leftChildID := parentPg.ID()

		if wasRoot {
			newRoot, err := t.bpm.NewPageGuarded()
			if err != nil {
				newRight.Drop()
				frame.guard.Drop()
				releaseHeader()
				return err
			}
			initInternal(newRoot.Page(), t.opts.InternalMaxSize)
			setInternalChildAt(newRoot.Page(), t.codec.Size(), 0, leftChildID)
			internalInsertAt(newRoot.Page(), t.codec, 0, upKey, newRight.Page().ID())
			newRoot.MarkDirty()

			encodeHeaderRoot(header.Page(), newRoot.Page().ID())
			encodeHeaderDepth(header.Page(), decodeHeaderDepth(header.Page())+1)
			header.MarkDirty()

			newRoot.Drop()
			newRight.Drop()
			frame.guard.Drop()
			releaseHeader()
			return nil
		}

		sepKey = upKey
		newChildID = newRight.Page().ID()
		newRight.Drop()
		frame.guard.Drop()
	}

	releaseHeader()
	return nil
}

// Delete removes key from the tree, per the same optimistic-then-
// pessimistic two-phase discipline as Insert.
func (t *BPlusTree[K]) Delete(key K) error {
	done, err := t.optimisticDelete(key)
	if done {
		return err
	}
	return t.pessimisticDelete(key)
}

func (t *BPlusTree[K]) optimisticDelete(key K) (done bool, err error) {
	leaf, err := t.crabToLeafForWrite(key)
	if err != nil {
		return true, err
	}
	defer leaf.Drop()

	pg := leaf.Page()
	idx, found := leafFind(pg, t.codec, key)
	if !found {
		return true, ErrKeyNotFound
	}
	// conservative: only handle in place when the leaf provably won't
	// underflow afterward. A leaf that would underflow always falls back
	// to the pessimistic path, even when it happens to be the root (where
	// underflow is actually harmless) — simpler, and the pessimistic path
	// handles that case correctly too.
	if keyCountOf(pg)-1 < minKeys(maxSizeOf(pg)) {
		return false, nil
	}
	leafDeleteAt(pg, t.codec, idx)
	leaf.MarkDirty()
	return true, nil
}

func (t *BPlusTree[K]) pessimisticDelete(key K) error {
	header, err := t.bpm.FetchPageWrite(t.headerPageID)
	if err != nil {
		return err
	}
	headerHeld := true
	releaseHeader := func() {
		if headerHeld {
			header.Drop()
			headerHeld = false
		}
	}

	rootID := decodeHeaderRoot(header.Page())
	current, err := t.bpm.FetchPageWrite(rootID)
	if err != nil {
		header.Drop()
		return err
	}

	var stack []pathFrame
	releaseStack := func() {
		for i := len(stack) - 1; i >= 0; i-- {
			stack[i].guard.Drop()
		}
		stack = nil
	}

	for pageKindOf(current.Page()) != kindLeaf {
		idx := internalChildIndexFor(current.Page(), t.codec, key)
		childID := internalChildAt(current.Page(), t.codec.Size(), idx)
		child, err := t.bpm.FetchPageWrite(childID)
		if err != nil {
			current.Drop()
			releaseStack()
			releaseHeader()
			return err
		}
		stack = append(stack, pathFrame{guard: current, idx: idx})

		safe := keyCountOf(child.Page())-1 >= minKeys(maxSizeOf(child.Page()))
		if safe {
			releaseStack()
			releaseHeader()
		}
		current = child
	}

	node := current
	pg := node.Page()
	idx, found := leafFind(pg, t.codec, key)
	if !found {
		node.Drop()
		releaseStack()
		releaseHeader()
		return ErrKeyNotFound
	}
	leafDeleteAt(pg, t.codec, idx)
	node.MarkDirty()

	for {
		if len(stack) == 0 {
			node.Drop()
			releaseHeader()
			return nil
		}
		minSize := minKeys(maxSizeOf(node.Page()))
		underflow := leafIsUnderflow(node.Page(), minSize)
		if pageKindOf(node.Page()) == kindInternal {
			underflow = internalIsUnderflow(node.Page(), minSize)
		}
		if !underflow {
			node.Drop()
			releaseStack()
			releaseHeader()
			return nil
		}

		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		parentPg := frame.guard.Page()
		at := frame.idx
		nodeID := node.Page().ID()
		isLeafNode := pageKindOf(node.Page()) == kindLeaf

		var leftID, rightID page.ID = page.InvalidID, page.InvalidID
		if at > 0 {
			leftID = internalChildAt(parentPg, t.codec.Size(), at-1)
		}
		if at < keyCountOf(parentPg) {
			rightID = internalChildAt(parentPg, t.codec.Size(), at+1)
		}

		var leftGuard, rightGuard buffer.WritePageGuard
		haveLeft, haveRight := false, false
		if leftID != page.InvalidID {
			g, err := t.bpm.FetchPageWrite(leftID)
			if err != nil {
				node.Drop()
				frame.guard.Drop()
				releaseStack()
				releaseHeader()
				return err
			}
			leftGuard, haveLeft = g, true
		}
		if rightID != page.InvalidID {
			g, err := t.bpm.FetchPageWrite(rightID)
			if err != nil {
				if haveLeft {
					leftGuard.Drop()
				}
				node.Drop()
				frame.guard.Drop()
				releaseStack()
				releaseHeader()
				return err
			}
			rightGuard, haveRight = g, true
		}

		var survivor page.ID

		switch {
		case haveRight && canRedistribute(keyCountOf(node.Page()), keyCountOf(rightGuard.Page()), minSize, maxSizeOf(node.Page())):
			if isLeafNode {
				newSep := leafShiftRightToLeft(node.Page(), rightGuard.Page(), t.codec)
				setInternalKeyAt(parentPg, t.codec, at, newSep)
			} else {
				sep := internalKeyAt(parentPg, t.codec, at)
				newSep := internalShiftRightToLeft(node.Page(), rightGuard.Page(), sep, t.codec)
				setInternalKeyAt(parentPg, t.codec, at, newSep)
			}
			node.MarkDirty()
			rightGuard.MarkDirty()
			frame.guard.MarkDirty()
			rightGuard.Drop()
			if haveLeft {
				leftGuard.Drop()
			}
			node.Drop()
			frame.guard.Drop()
			releaseStack()
			releaseHeader()
			return nil

		case haveLeft && canRedistribute(keyCountOf(leftGuard.Page()), keyCountOf(node.Page()), minSize, maxSizeOf(node.Page())):
			if isLeafNode {
				newSep := leafShiftLeftToRight(leftGuard.Page(), node.Page(), t.codec)
				setInternalKeyAt(parentPg, t.codec, at-1, newSep)
			} else {
				sep := internalKeyAt(parentPg, t.codec, at-1)
				newSep := internalShiftLeftToRight(leftGuard.Page(), node.Page(), sep, t.codec)
				setInternalKeyAt(parentPg, t.codec, at-1, newSep)
			}
			node.MarkDirty()
			leftGuard.MarkDirty()
			frame.guard.MarkDirty()
			leftGuard.Drop()
			if haveRight {
				rightGuard.Drop()
			}
			node.Drop()
			frame.guard.Drop()
			releaseStack()
			releaseHeader()
			return nil

		case haveRight:
			if isLeafNode {
				leafMerge(node.Page(), rightGuard.Page(), t.codec)
			} else {
				sep := internalKeyAt(parentPg, t.codec, at)
				internalMerge(node.Page(), rightGuard.Page(), sep, t.codec)
			}
			node.MarkDirty()
			rightGuard.Drop()
			t.bpm.DeletePage(rightID)
			internalDeleteAt(parentPg, t.codec, at)
			frame.guard.MarkDirty()
			if haveLeft {
				leftGuard.Drop()
			}
			node.Drop()
			survivor = nodeID

		case haveLeft:
			if isLeafNode {
				leafMerge(leftGuard.Page(), node.Page(), t.codec)
			} else {
				sep := internalKeyAt(parentPg, t.codec, at-1)
				internalMerge(leftGuard.Page(), node.Page(), sep, t.codec)
			}
			leftGuard.MarkDirty()
			node.Drop()
			t.bpm.DeletePage(nodeID)
			internalDeleteAt(parentPg, t.codec, at-1)
			frame.guard.MarkDirty()
			if haveRight {
				rightGuard.Drop()
			}
			survivor = leftID
			leftGuard.Drop()

		default:
			node.Drop()
			frame.guard.Drop()
			releaseStack()
			releaseHeader()
			return nil
		}

		if len(stack) == 0 {
			oldRootID := frame.guard.Page().ID()
			if keyCountOf(parentPg) == 0 {
				encodeHeaderRoot(header.Page(), survivor)
				encodeHeaderDepth(header.Page(), decodeHeaderDepth(header.Page())-1)
				header.MarkDirty()
				frame.guard.Drop()
				t.bpm.DeletePage(oldRootID)
				releaseHeader()
				return nil
			}
			frame.guard.Drop()
			releaseHeader()
			return nil
		}
		node = frame.guard
	}
}

// Draw writes a level-order dump of the tree to w: one line per page,
// each internal page showing its keys and child ids, each leaf page
// showing its keys and right-sibling id. Intended for tests and manual
// debugging, never called from a production code path.
func (t *BPlusTree[K]) Draw(w io.Writer) error {
	rootID, err := t.readRootID()
	if err != nil {
		return err
	}

	level := []page.ID{rootID}
	for len(level) > 0 {
		var next []page.ID
		for _, id := range level {
			g, err := t.bpm.FetchPageRead(id)
			if err != nil {
				return err
			}
			pg := g.Page()
			n := keyCountOf(pg)
			if pageKindOf(pg) == kindLeaf {
				keys := make([]K, n)
				for i := 0; i < n; i++ {
					keys[i] = leafKeyAt(pg, t.codec, i)
				}
				fmt.Fprintf(w, "leaf %s keys=%v right=%s\n", fmtID(id), keys, fmtID(rightSiblingOf(pg)))
			} else {
				keys := make([]K, n)
				for i := 0; i < n; i++ {
					keys[i] = internalKeyAt(pg, t.codec, i)
				}
				children := make([]page.ID, n+1)
				for i := 0; i <= n; i++ {
					children[i] = internalChildAt(pg, t.codec.Size(), i)
					next = append(next, children[i])
				}
				fmt.Fprintf(w, "internal %s keys=%v children=%v\n", fmtID(id), keys, children)
			}
			g.Drop()
		}
		level = next
	}
	return nil
}

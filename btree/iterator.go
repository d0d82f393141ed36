package btree

import (
	"cmp"

	"latchdb/buffer"
	"latchdb/disk/page"
	"latchdb/txn"
)

// Iterator walks a contiguous range of the tree's leaf chain in key
// order, holding at most one leaf's shared latch at a time. Grounded
// on the teacher's FindSince: descend once to locate the starting
// leaf, then follow right-sibling pointers, releasing each leaf before
// latching the next.
type Iterator[K cmp.Ordered] struct {
	tree *BPlusTree[K]
	leaf buffer.ReadPageGuard
	idx  int
	done bool
}

// Begin returns an iterator positioned at the first entry of the
// leftmost leaf, for a full left-to-right scan.
func (t *BPlusTree[K]) Begin() (*Iterator[K], error) {
	rootID, err := t.readRootID()
	if err != nil {
		return nil, err
	}
	current, err := t.bpm.FetchPageRead(rootID)
	if err != nil {
		return nil, err
	}
	for pageKindOf(current.Page()) != kindLeaf {
		childID := internalChildAt(current.Page(), t.codec.Size(), 0)
		next, err := t.bpm.FetchPageRead(childID)
		current.Drop()
		if err != nil {
			return nil, err
		}
		current = next
	}
	it := &Iterator[K]{tree: t, leaf: current, idx: 0}
	it.skipToNextLive()
	return it, nil
}

// BeginAt returns an iterator positioned at the first entry with a key
// greater than or equal to key (spec.md's Begin(key)).
func (t *BPlusTree[K]) BeginAt(key K) (*Iterator[K], error) {
	rootID, err := t.readRootID()
	if err != nil {
		return nil, err
	}
	current, err := t.bpm.FetchPageRead(rootID)
	if err != nil {
		return nil, err
	}
	for pageKindOf(current.Page()) != kindLeaf {
		idx := internalChildIndexFor(current.Page(), t.codec, key)
		childID := internalChildAt(current.Page(), t.codec.Size(), idx)
		next, err := t.bpm.FetchPageRead(childID)
		current.Drop()
		if err != nil {
			return nil, err
		}
		current = next
	}

	idx, _ := leafFind(current.Page(), t.codec, key)
	it := &Iterator[K]{tree: t, leaf: current, idx: idx}
	it.skipToNextLive()
	return it, nil
}

// End returns the past-the-end sentinel iterator: never valid, holds
// no latch. Used as the terminal comparison for a scan, e.g.
// `for it.Valid() { ... }` after a Begin()/BeginAt(key) call.
func (t *BPlusTree[K]) End() *Iterator[K] {
	return &Iterator[K]{tree: t, done: true}
}

// skipToNextLive advances across empty/exhausted leaves until idx
// points at a live entry or the chain is exhausted.
func (it *Iterator[K]) skipToNextLive() {
	for !it.done && it.idx >= keyCountOf(it.leaf.Page()) {
		right := rightSiblingOf(it.leaf.Page())
		if right == page.InvalidID {
			it.leaf.Drop()
			it.done = true
			return
		}
		next, err := it.tree.bpm.FetchPageRead(right)
		it.leaf.Drop()
		if err != nil {
			it.done = true
			return
		}
		it.leaf = next
		it.idx = 0
	}
}

// Valid reports whether the iterator is positioned at a live entry.
func (it *Iterator[K]) Valid() bool { return !it.done }

// IsEnd reports whether the iterator has been exhausted, i.e. reached
// the same state as the sentinel returned by BPlusTree.End.
func (it *Iterator[K]) IsEnd() bool { return it.done }

// Key and Value return the entry the iterator currently points at.
// Only safe to call when Valid reports true.
func (it *Iterator[K]) Key() K         { return leafKeyAt(it.leaf.Page(), it.tree.codec, it.idx) }
func (it *Iterator[K]) Value() txn.RID { return leafValueAt(it.leaf.Page(), it.tree.codec.Size(), it.idx) }

// Next advances the iterator by one entry.
func (it *Iterator[K]) Next() {
	if it.done {
		return
	}
	it.idx++
	it.skipToNextLive()
}

// Close releases the iterator's held leaf latch. Safe to call on an
// already-exhausted iterator.
func (it *Iterator[K]) Close() {
	if !it.done {
		it.leaf.Drop()
		it.done = true
	}
}

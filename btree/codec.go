// Package btree implements a disk-backed, latch-crabbing B+ tree index
// on top of the buffer pool: a header page holding the current root id,
// internal pages of (key, child-page-id) pairs, and leaf pages of
// (key, RID) pairs chained left-to-right by a right-sibling pointer.
package btree

import (
	"encoding/binary"
	"fmt"

	"latchdb/disk/page"
	"latchdb/txn"
)

// KeySerializer fixes the on-disk encoding of a key type, the same role
// the teacher's KeySerializer interface plays for its PersistentKey and
// StringKey node implementations — except here it is generic over the
// key type instead of boxing everything behind common.Key.
type KeySerializer[K any] interface {
	Encode(key K, dest []byte)
	Decode(src []byte) K
	Size() int
}

// Int64KeySerializer encodes a key as a fixed 8-byte big-endian integer.
type Int64KeySerializer struct{}

func (Int64KeySerializer) Encode(key int64, dest []byte) {
	binary.BigEndian.PutUint64(dest, uint64(key))
}

func (Int64KeySerializer) Decode(src []byte) int64 {
	return int64(binary.BigEndian.Uint64(src))
}

func (Int64KeySerializer) Size() int { return 8 }

// ridSize is the fixed on-disk width of a txn.RID: an 8-byte page id
// followed by a 4-byte slot index.
const ridSize = 12

func encodeRID(rid txn.RID, dest []byte) {
	binary.BigEndian.PutUint64(dest[0:8], uint64(rid.PageID))
	binary.BigEndian.PutUint32(dest[8:12], uint32(rid.SlotIdx))
}

func decodeRID(src []byte) txn.RID {
	return txn.RID{
		PageID:  int64(binary.BigEndian.Uint64(src[0:8])),
		SlotIdx: int32(binary.BigEndian.Uint32(src[8:12])),
	}
}

// pageKind tags what a btree page holds, mirroring spec.md §3's
// pageType/size/maxSize page header.
type pageKind uint8

const (
	kindInternal pageKind = 1
	kindLeaf     pageKind = 2
)

// header is the fixed layout shared by every internal and leaf page:
//
//	offset 0:  kind        (1 byte)
//	offset 1:  reserved    (1 byte)
//	offset 2:  keyCount    (uint16)
//	offset 4:  maxSize     (uint16)
//	offset 6:  reserved    (2 bytes)
//	offset 8:  rightSibling (int64, leaf pages only; unused by internal)
const headerSize = 16

func pageKindOf(pg *page.Page) pageKind { return pageKind(pg.Data()[0]) }

func keyCountOf(pg *page.Page) int {
	return int(binary.BigEndian.Uint16(pg.Data()[2:4]))
}

func setKeyCountOf(pg *page.Page, n int) {
	binary.BigEndian.PutUint16(pg.Data()[2:4], uint16(n))
}

func maxSizeOf(pg *page.Page) int {
	return int(binary.BigEndian.Uint16(pg.Data()[4:6]))
}

func setMaxSizeOf(pg *page.Page, n int) {
	binary.BigEndian.PutUint16(pg.Data()[4:6], uint16(n))
}

func rightSiblingOf(pg *page.Page) page.ID {
	return page.ID(binary.BigEndian.Uint64(pg.Data()[8:16]))
}

func setRightSiblingOf(pg *page.Page, id page.ID) {
	binary.BigEndian.PutUint64(pg.Data()[8:16], uint64(id))
}

func initHeader(pg *page.Page, kind pageKind, maxSize int) {
	d := pg.Data()
	d[0] = byte(kind)
	d[1] = 0
	setKeyCountOf(pg, 0)
	setMaxSizeOf(pg, maxSize)
	setRightSiblingOf(pg, page.InvalidID)
}

// headerPage stores the B+ tree's current root page id at offset 0 and
// the tree's current depth (root counts as level 1) at offset 8. It is
// the tree's one durable entry point — spec.md §9's "root pointer must
// itself be guarded" requirement is satisfied by taking this page's own
// read/write latch instead of a separate ad hoc mutex (the teacher's
// BTree.rootEntryLock is a *sync.RWMutex bolted on beside the tree;
// here the header page's latch already does that job).
func decodeHeaderRoot(pg *page.Page) page.ID {
	return page.ID(binary.BigEndian.Uint64(pg.Data()[0:8]))
}

func encodeHeaderRoot(pg *page.Page, root page.ID) {
	binary.BigEndian.PutUint64(pg.Data()[0:8], uint64(root))
}

func decodeHeaderDepth(pg *page.Page) int {
	return int(binary.BigEndian.Uint64(pg.Data()[8:16]))
}

func encodeHeaderDepth(pg *page.Page, depth int) {
	binary.BigEndian.PutUint64(pg.Data()[8:16], uint64(depth))
}

// canRedistribute mirrors original_source's CanRedistribute: two sibling
// pages may redistribute only if their combined size leaves both sides
// at or above minSize once shifted, and stays comfortably under
// 2*maxSize so the receiving side isn't shoved right back toward
// another split by the next insert or two.
func canRedistribute(leftSize, rightSize, minSize, maxSize int) bool {
	sum := leftSize + rightSize
	return sum >= minSize*2 && sum < maxSize*2*95/100
}

// shiftCountToBalance returns how many entries to move so donorSize and
// receiverSize end up as close to equal as the original's ShiftLeftToRight
// / ShiftRightToLeft formulas produce, floored at one so a call that
// passed canRedistribute always moves something.
func shiftCountToBalance(donorSize, receiverSize int) int {
	n := (donorSize+receiverSize)/2 - receiverSize
	if n < 1 {
		n = 1
	}
	return n
}

func fmtID(id page.ID) string { return fmt.Sprintf("#%d", id) }

func beUint64(src []byte) uint64            { return binary.BigEndian.Uint64(src) }
func putBeUint64(dest []byte, v uint64)     { binary.BigEndian.PutUint64(dest, v) }

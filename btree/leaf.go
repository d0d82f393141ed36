package btree

import (
	"cmp"
	"sort"

	"latchdb/disk/page"
	"latchdb/txn"
)

// leaf page layout, after the 16-byte header:
//
//	keys:   [headerSize, headerSize+cap*keySize)
//	values: [headerSize+cap*keySize, headerSize+cap*(keySize+ridSize))
//
// only the first keyCount entries of each region are live. Physical
// capacity reserves maxSize+1 slots, not maxSize: insert writes the
// new entry first and only afterwards checks whether the count now
// exceeds maxSize to decide whether to split, so the page must have
// room for one entry beyond the
// logical split threshold at all times.
type leafLayout struct {
	keySize    int
	maxSize    int
	valuesBase int
}

func newLeafLayout(keySize, maxSize int) leafLayout {
	cap := maxSize + 1
	return leafLayout{keySize: keySize, maxSize: maxSize, valuesBase: headerSize + cap*keySize}
}

func (l leafLayout) keyOffset(i int) int   { return headerSize + i*l.keySize }
func (l leafLayout) valueOffset(i int) int { return l.valuesBase + i*ridSize }

func initLeaf(pg *page.Page, maxSize int) {
	initHeader(pg, kindLeaf, maxSize)
}

func leafKeyAt[K any](pg *page.Page, codec KeySerializer[K], i int) K {
	l := newLeafLayout(codec.Size(), maxSizeOf(pg))
	off := l.keyOffset(i)
	return codec.Decode(pg.Data()[off : off+l.keySize])
}

func leafValueAt(pg *page.Page, keySize, i int) txn.RID {
	l := newLeafLayout(keySize, maxSizeOf(pg))
	off := l.valueOffset(i)
	return decodeRID(pg.Data()[off : off+ridSize])
}

// leafFind returns the index of key in pg, or the index it would be
// inserted at and found=false, via binary search over the sorted keys.
func leafFind[K cmp.Ordered](pg *page.Page, codec KeySerializer[K], key K) (idx int, found bool) {
	n := keyCountOf(pg)
	i := sort.Search(n, func(i int) bool { return !(leafKeyAt(pg, codec, i) < key) })
	if i < n && leafKeyAt(pg, codec, i) == key {
		return i, true
	}
	return i, false
}

func leafIsFull(pg *page.Page) bool {
	return keyCountOf(pg) >= maxSizeOf(pg)
}

func leafIsUnderflow(pg *page.Page, minSize int) bool {
	return keyCountOf(pg) < minSize
}

// leafInsertAt shifts entries at and after idx one slot to the right
// and writes key/rid into the opened slot, mirroring the teacher's
// shiftKeyValueToRightAt on a flat byte buffer instead of a Go slice.
func leafInsertAt[K any](pg *page.Page, codec KeySerializer[K], idx int, key K, rid txn.RID) {
	n := keyCountOf(pg)
	l := newLeafLayout(codec.Size(), maxSizeOf(pg))
	d := pg.Data()

	copy(d[l.keyOffset(idx+1):l.keyOffset(n+1)], d[l.keyOffset(idx):l.keyOffset(n)])
	copy(d[l.valueOffset(idx+1):l.valueOffset(n+1)], d[l.valueOffset(idx):l.valueOffset(n)])

	codec.Encode(key, d[l.keyOffset(idx):l.keyOffset(idx)+l.keySize])
	encodeRID(rid, d[l.valueOffset(idx):l.valueOffset(idx)+ridSize])
	setKeyCountOf(pg, n+1)
}

func leafDeleteAt[K any](pg *page.Page, codec KeySerializer[K], idx int) {
	n := keyCountOf(pg)
	l := newLeafLayout(codec.Size(), maxSizeOf(pg))
	d := pg.Data()

	copy(d[l.keyOffset(idx):l.keyOffset(n-1)], d[l.keyOffset(idx+1):l.keyOffset(n)])
	copy(d[l.valueOffset(idx):l.valueOffset(n-1)], d[l.valueOffset(idx+1):l.valueOffset(n)])
	setKeyCountOf(pg, n-1)
}

// leafSplit moves the upper half of full's entries into the fresh page
// right, links right in as full's new right sibling, and returns the
// first key of right (the separator the parent must insert).
func leafSplit[K any](full, right *page.Page, codec KeySerializer[K]) K {
	n := keyCountOf(full)
	mid := n / 2
	lFull := newLeafLayout(codec.Size(), maxSizeOf(full))
	lRight := newLeafLayout(codec.Size(), maxSizeOf(right))

	df, dr := full.Data(), right.Data()
	copy(dr[lRight.keyOffset(0):lRight.keyOffset(n-mid)], df[lFull.keyOffset(mid):lFull.keyOffset(n)])
	copy(dr[lRight.valueOffset(0):lRight.valueOffset(n-mid)], df[lFull.valueOffset(mid):lFull.valueOffset(n)])

	setKeyCountOf(right, n-mid)
	setKeyCountOf(full, mid)
	setRightSiblingOf(right, rightSiblingOf(full))
	setRightSiblingOf(full, right.ID())

	return leafKeyAt(right, codec, 0)
}

// leafMerge appends right's entries onto left and adopts right's right
// sibling; right is left empty for the caller to free.
func leafMerge[K any](left, right *page.Page, codec KeySerializer[K]) {
	nl, nr := keyCountOf(left), keyCountOf(right)
	lLeft := newLeafLayout(codec.Size(), maxSizeOf(left))
	lRight := newLeafLayout(codec.Size(), maxSizeOf(right))

	dl, dr := left.Data(), right.Data()
	copy(dl[lLeft.keyOffset(nl):lLeft.keyOffset(nl+nr)], dr[lRight.keyOffset(0):lRight.keyOffset(nr)])
	copy(dl[lLeft.valueOffset(nl):lLeft.valueOffset(nl+nr)], dr[lRight.valueOffset(0):lRight.valueOffset(nr)])

	setKeyCountOf(left, nl+nr)
	setRightSiblingOf(left, rightSiblingOf(right))
	setKeyCountOf(right, 0)
}

// leafRedistributeFromRight moves right's first entry onto the end of
// left, returning the new separator key (right's new first key) for
// the parent to update.
func leafRedistributeFromRight[K any](left, right *page.Page, codec KeySerializer[K]) K {
	key := leafKeyAt(right, codec, 0)
	val := leafValueAt(right, codec.Size(), 0)
	leafDeleteAt(right, codec, 0)
	leafInsertAt(left, codec, keyCountOf(left), key, val)
	return leafKeyAt(right, codec, 0)
}

// leafRedistributeFromLeft moves left's last entry onto the front of
// right, returning the new separator key (right's new first key).
func leafRedistributeFromLeft[K any](left, right *page.Page, codec KeySerializer[K]) K {
	i := keyCountOf(left) - 1
	key := leafKeyAt(left, codec, i)
	val := leafValueAt(left, codec.Size(), i)
	leafDeleteAt(left, codec, i)
	leafInsertAt(right, codec, 0, key, val)
	return key
}

// leafShiftRightToLeft moves enough entries from right's front onto
// left's end to balance the two leaves, mirroring original_source's
// ShiftRightToLeft. Used both when a leaf that just overflowed on
// insert borrows room from its left sibling and when an underflowing
// leaf borrows entries back from its right sibling on delete.
func leafShiftRightToLeft[K any](left, right *page.Page, codec KeySerializer[K]) K {
	n := shiftCountToBalance(keyCountOf(right), keyCountOf(left))
	var sep K
	for i := 0; i < n; i++ {
		sep = leafRedistributeFromRight(left, right, codec)
	}
	return sep
}

// leafShiftLeftToRight moves enough entries from left's end onto
// right's front to balance the two leaves, mirroring original_source's
// ShiftLeftToRight.
func leafShiftLeftToRight[K any](left, right *page.Page, codec KeySerializer[K]) K {
	n := shiftCountToBalance(keyCountOf(left), keyCountOf(right))
	var sep K
	for i := 0; i < n; i++ {
		sep = leafRedistributeFromLeft(left, right, codec)
	}
	return sep
}

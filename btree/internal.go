package btree

import (
	"cmp"
	"sort"

	"latchdb/disk/page"
)

// internal page layout, after the 16-byte header:
//
//	keys:     [headerSize, headerSize+cap*keySize)
//	children: [headerSize+cap*keySize, ...)
//
// children[i] covers keys < keys[i]; children[i+1] covers keys in
// [keys[i], keys[i+1]). keys[0] is a real separator between children[0]
// and children[1] and is compared like every other key when routing a
// lookup: routing asks "is key < keys[i]" for every i from 0 up to the
// key count. Physical capacity reserves maxSize+1 keys and
// maxSize+2 children, one beyond the logical split threshold, for the
// same insert-then-split reason leaf pages do.
type internalLayout struct {
	keySize      int
	maxSize      int
	childrenBase int
}

func newInternalLayout(keySize, maxSize int) internalLayout {
	cap := maxSize + 1
	return internalLayout{keySize: keySize, maxSize: maxSize, childrenBase: headerSize + cap*keySize}
}

func (l internalLayout) keyOffset(i int) int   { return headerSize + i*l.keySize }
func (l internalLayout) childOffset(i int) int { return l.childrenBase + i*8 }

func initInternal(pg *page.Page, maxSize int) {
	initHeader(pg, kindInternal, maxSize)
}

func internalKeyAt[K any](pg *page.Page, codec KeySerializer[K], i int) K {
	l := newInternalLayout(codec.Size(), maxSizeOf(pg))
	off := l.keyOffset(i)
	return codec.Decode(pg.Data()[off : off+l.keySize])
}

func internalChildAt(pg *page.Page, keySize, i int) page.ID {
	l := newInternalLayout(keySize, maxSizeOf(pg))
	off := l.childOffset(i)
	return page.ID(beUint64(pg.Data()[off : off+8]))
}

func setInternalChildAt(pg *page.Page, keySize, i int, child page.ID) {
	l := newInternalLayout(keySize, maxSizeOf(pg))
	off := l.childOffset(i)
	putBeUint64(pg.Data()[off:off+8], uint64(child))
}

// internalChildIndexFor returns which child covers key: the index of
// the first key strictly greater than key, i.e. children[i] where
// keys[i-1] <= key < keys[i].
func internalChildIndexFor[K cmp.Ordered](pg *page.Page, codec KeySerializer[K], key K) int {
	n := keyCountOf(pg)
	return sort.Search(n, func(i int) bool { return key < internalKeyAt(pg, codec, i) })
}

func setInternalKeyAt[K any](pg *page.Page, codec KeySerializer[K], i int, key K) {
	l := newInternalLayout(codec.Size(), maxSizeOf(pg))
	codec.Encode(key, pg.Data()[l.keyOffset(i):l.keyOffset(i)+l.keySize])
}

func internalIsFull(pg *page.Page) bool {
	return keyCountOf(pg) >= maxSizeOf(pg)
}

func internalIsUnderflow(pg *page.Page, minSize int) bool {
	return keyCountOf(pg) < minSize
}

// internalInsertAt inserts separator key with its right child at
// logical position idx (children[idx] stays, children[idx+1]==child
// is the new right neighbor).
func internalInsertAt[K any](pg *page.Page, codec KeySerializer[K], idx int, key K, child page.ID) {
	n := keyCountOf(pg)
	l := newInternalLayout(codec.Size(), maxSizeOf(pg))
	d := pg.Data()

	copy(d[l.keyOffset(idx+1):l.keyOffset(n+1)], d[l.keyOffset(idx):l.keyOffset(n)])
	copy(d[l.childOffset(idx+2):l.childOffset(n+2)], d[l.childOffset(idx+1):l.childOffset(n+1)])

	codec.Encode(key, d[l.keyOffset(idx):l.keyOffset(idx)+l.keySize])
	putBeUint64(d[l.childOffset(idx+1):l.childOffset(idx+1)+8], uint64(child))
	setKeyCountOf(pg, n+1)
}

// internalDeleteAt removes key idx together with the child immediately
// to its right (children[idx+1]); children[idx] absorbs the gap.
func internalDeleteAt[K any](pg *page.Page, codec KeySerializer[K], idx int) {
	n := keyCountOf(pg)
	l := newInternalLayout(codec.Size(), maxSizeOf(pg))
	d := pg.Data()

	copy(d[l.keyOffset(idx):l.keyOffset(n-1)], d[l.keyOffset(idx+1):l.keyOffset(n)])
	copy(d[l.childOffset(idx+1):l.childOffset(n)], d[l.childOffset(idx+2):l.childOffset(n+1)])
	setKeyCountOf(pg, n-1)
}

// internalDeleteFront removes key 0 together with child 0 (as opposed
// to internalDeleteAt, which removes a key together with the child to
// its *right*): every remaining key shifts down to index i-1 and every
// remaining child, including child 1, shifts down to index i-1. Used
// when a node gives up its leftmost child to a left sibling.
func internalDeleteFront[K any](pg *page.Page, codec KeySerializer[K]) {
	n := keyCountOf(pg)
	l := newInternalLayout(codec.Size(), maxSizeOf(pg))
	d := pg.Data()

	copy(d[l.keyOffset(0):l.keyOffset(n-1)], d[l.keyOffset(1):l.keyOffset(n)])
	copy(d[l.childOffset(0):l.childOffset(n)], d[l.childOffset(1):l.childOffset(n+1)])
	setKeyCountOf(pg, n-1)
}

// internalSplit moves the upper half of full's keys/children into the
// fresh page right and returns the separator key that must rise to the
// parent (it is removed from both children, per standard B+ internal
// splitting: unlike leaves, the middle key does not survive in right).
func internalSplit[K any](full, right *page.Page, codec KeySerializer[K]) K {
	n := keyCountOf(full)
	mid := n / 2
	upKey := internalKeyAt(full, codec, mid)

	lFull := newInternalLayout(codec.Size(), maxSizeOf(full))
	lRight := newInternalLayout(codec.Size(), maxSizeOf(right))
	df, dr := full.Data(), right.Data()

	copy(dr[lRight.keyOffset(0):lRight.keyOffset(n-mid-1)], df[lFull.keyOffset(mid+1):lFull.keyOffset(n)])
	copy(dr[lRight.childOffset(0):lRight.childOffset(n-mid)], df[lFull.childOffset(mid+1):lFull.childOffset(n+1)])

	setKeyCountOf(right, n-mid-1)
	setKeyCountOf(full, mid)

	return upKey
}

// internalMerge pulls down the parent separator key between left and
// right, then appends right's keys/children onto left; right is left
// empty for the caller to free.
func internalMerge[K any](left, right *page.Page, separator K, codec KeySerializer[K]) {
	nl, nr := keyCountOf(left), keyCountOf(right)
	lLeft := newInternalLayout(codec.Size(), maxSizeOf(left))
	lRight := newInternalLayout(codec.Size(), maxSizeOf(right))
	dl, dr := left.Data(), right.Data()

	codec.Encode(separator, dl[lLeft.keyOffset(nl):lLeft.keyOffset(nl)+lLeft.keySize])
	copy(dl[lLeft.keyOffset(nl+1):lLeft.keyOffset(nl+1+nr)], dr[lRight.keyOffset(0):lRight.keyOffset(nr)])
	copy(dl[lLeft.childOffset(nl+1):lLeft.childOffset(nl+1+nr+1)], dr[lRight.childOffset(0):lRight.childOffset(nr+1)])

	setKeyCountOf(left, nl+1+nr)
	setKeyCountOf(right, 0)
}

// internalRedistributeFromRight rotates right's first child/key pair
// through the parent separator into left, returning the new separator.
func internalRedistributeFromRight[K any](left, right *page.Page, separator K, codec KeySerializer[K]) K {
	nl := keyCountOf(left)
	movedChild := internalChildAt(right, codec.Size(), 0)
	newSeparator := internalKeyAt(right, codec, 0)

	l := newInternalLayout(codec.Size(), maxSizeOf(left))
	codec.Encode(separator, left.Data()[l.keyOffset(nl):l.keyOffset(nl)+l.keySize])
	setInternalChildAt(left, codec.Size(), nl+1, movedChild)
	setKeyCountOf(left, nl+1)

	internalDeleteFront(right, codec)
	return newSeparator
}

// internalRedistributeFromLeft rotates left's last child/key pair
// through the parent separator into right, returning the new
// separator.
func internalRedistributeFromLeft[K any](left, right *page.Page, separator K, codec KeySerializer[K]) K {
	nl := keyCountOf(left)
	movedChild := internalChildAt(left, codec.Size(), nl)
	newSeparator := internalKeyAt(left, codec, nl-1)

	internalInsertAt(right, codec, 0, separator, internalChildAt(right, codec.Size(), 0))
	setInternalChildAt(right, codec.Size(), 0, movedChild)
	setKeyCountOf(left, nl-1)

	return newSeparator
}

// internalShiftRightToLeft rotates enough of right's leading child/key
// pairs through the parent separator into left to balance the two
// nodes, mirroring original_source's ShiftRightToLeft. Used both when
// an internal page that just overflowed on insert borrows room from
// its left sibling and when an underflowing internal page borrows
// entries back from its right sibling on delete.
func internalShiftRightToLeft[K any](left, right *page.Page, separator K, codec KeySerializer[K]) K {
	n := shiftCountToBalance(keyCountOf(right), keyCountOf(left))
	sep := separator
	for i := 0; i < n; i++ {
		sep = internalRedistributeFromRight(left, right, sep, codec)
	}
	return sep
}

// internalShiftLeftToRight rotates enough of left's trailing child/key
// pairs through the parent separator into right to balance the two
// nodes, mirroring original_source's ShiftLeftToRight.
func internalShiftLeftToRight[K any](left, right *page.Page, separator K, codec KeySerializer[K]) K {
	n := shiftCountToBalance(keyCountOf(left), keyCountOf(right))
	sep := separator
	for i := 0; i < n; i++ {
		sep = internalRedistributeFromLeft(left, right, sep, codec)
	}
	return sep
}

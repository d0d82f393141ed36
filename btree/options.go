package btree

import "latchdb/disk/page"

// Options configures node capacity. LeafMaxSize is the maximum number
// of (key, RID) entries a leaf page holds before it must split;
// InternalMaxSize is the maximum number of separator keys (so maxSize+1
// children) an internal page holds before it must split.
type Options struct {
	LeafMaxSize     int
	InternalMaxSize int
}

// DefaultOptions sizes leaf and internal pages to fill page.Size given
// a key of keySize bytes, mirroring the teacher's own
// keySize/SlotPointerSize page-capacity arithmetic in
// persistent_nodes.go.
func DefaultOptions(keySize int) Options {
	leafEntry := keySize + ridSize
	internalEntry := keySize + 8

	// subtract one from the floor division: physical capacity reserves
	// one entry beyond the logical max (see leafLayout/internalLayout),
	// so the logical max itself must leave room for that extra slot.
	leafMax := (page.Size-headerSize)/leafEntry - 1
	internalMax := (page.Size-headerSize-8)/internalEntry - 1

	if leafMax < 4 {
		leafMax = 4
	}
	if internalMax < 4 {
		internalMax = 4
	}
	return Options{LeafMaxSize: leafMax, InternalMaxSize: internalMax}
}

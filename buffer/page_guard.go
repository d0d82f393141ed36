package buffer

import (
	"latchdb/disk/page"
)

// BasicPageGuard is a scoped holder over a pinned page with no latch
// taken, per spec.md §4.2/§9. Constructing one consumes exactly one pin;
// dropping it (Drop) unpins exactly once, propagating the dirty flag the
// caller sets via MarkDirty. Guards are one-shot: Go cannot forbid
// copying a struct at compile time the way the teacher's C++ origin
// does, so a double Drop panics instead of silently double-unpinning.
type BasicPageGuard struct {
	pool     *BufferPoolManager
	pg       *page.Page
	dirty    bool
	consumed bool
}

func newBasicPageGuard(pool *BufferPoolManager, pg *page.Page) BasicPageGuard {
	return BasicPageGuard{pool: pool, pg: pg}
}

// Page returns the underlying page. Valid until Drop is called.
func (g *BasicPageGuard) Page() *page.Page { return g.pg }

// MarkDirty flags the page as modified; propagated to the buffer pool on Drop.
func (g *BasicPageGuard) MarkDirty() { g.dirty = true }

// Drop releases this guard's pin. Safe to call at most once.
func (g *BasicPageGuard) Drop() {
	if g.consumed {
		panic("buffer: page guard dropped twice")
	}
	g.consumed = true
	if g.pg == nil {
		return
	}
	g.pool.UnpinPage(g.pg.ID(), g.dirty)
}

// ReadPageGuard additionally holds the page's shared latch, released
// before the unpin on Drop.
type ReadPageGuard struct {
	inner BasicPageGuard
}

func newReadPageGuard(pool *BufferPoolManager, pg *page.Page) ReadPageGuard {
	pg.RLatch()
	return ReadPageGuard{inner: newBasicPageGuard(pool, pg)}
}

func (g *ReadPageGuard) Page() *page.Page { return g.inner.pg }

func (g *ReadPageGuard) Drop() {
	if g.inner.consumed {
		panic("buffer: page guard dropped twice")
	}
	g.inner.pg.RUnlatch()
	g.inner.Drop()
}

// WritePageGuard additionally holds the page's exclusive latch, released
// before the unpin on Drop. The page is always considered dirty once a
// write guard has been taken.
type WritePageGuard struct {
	inner BasicPageGuard
}

func newWritePageGuard(pool *BufferPoolManager, pg *page.Page) WritePageGuard {
	pg.WLatch()
	return WritePageGuard{inner: newBasicPageGuard(pool, pg)}
}

func (g *WritePageGuard) Page() *page.Page { return g.inner.pg }

// MarkDirty is a no-op: a write guard is always considered dirty on Drop.
func (g *WritePageGuard) MarkDirty() {}

func (g *WritePageGuard) Drop() {
	if g.inner.consumed {
		panic("buffer: page guard dropped twice")
	}
	g.inner.dirty = true
	g.inner.pg.WUnlatch()
	g.inner.Drop()
}

package buffer

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// LRUKReplacer is the three-list cold/warm/hot design spec.md §4.1 and
// Open Question (b) specify. Grounded structurally on
// original_source/src/buffer/lru_k_replacer.cpp's two-list (cold/hot)
// implementation, generalized with a warm list so that, while a frame is
// still below the K-access threshold, frames first touched by a scan are
// kept apart from the others and evicted only after them.
//
// cold and warm hold frames with fewer than k accesses (first accessed by
// a non-scan and a scan access respectively); hot holds frames that have
// reached k accesses, and every further access moves a hot frame to the
// back, so hot is ordered by most recent access (least recent at the
// front). Evict scans cold, then warm, then hot, returning the first
// evictable entry — frames below the access threshold are always
// preferred over ones that have proven "hot".
type LRUKReplacer struct {
	mu sync.Mutex

	k int

	cold *list.List
	warm *list.List
	hot  *list.List

	nodes map[int]*lruKNode

	evictableCount int
}

type lruKNode struct {
	frameID     int
	accessCount int
	evictable   bool
	list        *list.List
	elem        *list.Element
}

// NewLRUKReplacer builds a replacer tracking up to numFrames frames, each
// becoming "hot" after k accesses.
func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	return &LRUKReplacer{
		k:     k,
		cold:  list.New(),
		warm:  list.New(),
		hot:   list.New(),
		nodes: make(map[int]*lruKNode, numFrames),
	}
}

var _ Replacer = &LRUKReplacer{}

func (r *LRUKReplacer) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evictableCount == 0 {
		return 0, false
	}

	for _, l := range []*list.List{r.cold, r.warm, r.hot} {
		for e := l.Front(); e != nil; e = e.Next() {
			node := e.Value.(*lruKNode)
			if node.evictable {
				l.Remove(e)
				delete(r.nodes, node.frameID)
				r.evictableCount--
				return node.frameID, true
			}
		}
	}
	return 0, false
}

func (r *LRUKReplacer) RecordAccess(frameID int, accessType AccessType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[frameID]
	if !ok {
		l := r.cold
		if accessType == AccessTypeScan {
			l = r.warm
		}
		node = &lruKNode{frameID: frameID, accessCount: 1, list: l}
		node.elem = l.PushBack(node)
		r.nodes[frameID] = node
		return
	}

	if node.list == r.hot {
		node.list.MoveToBack(node.elem)
		return
	}

	node.accessCount++
	if node.accessCount >= r.k {
		node.list.Remove(node.elem)
		node.list = r.hot
		node.elem = r.hot.PushBack(node)
	}
}

func (r *LRUKReplacer) SetEvictable(frameID int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[frameID]
	if !ok {
		return
	}
	if node.evictable == evictable {
		return
	}
	node.evictable = evictable
	if evictable {
		r.evictableCount++
	} else {
		r.evictableCount--
	}
}

func (r *LRUKReplacer) Remove(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[frameID]
	if !ok {
		return
	}
	if !node.evictable {
		logrus.WithField("frame_id", frameID).Error("buffer: Remove called on non-evictable frame")
		panic(fmt.Sprintf("buffer: Remove called on non-evictable frame %d", frameID))
	}
	node.list.Remove(node.elem)
	delete(r.nodes, frameID)
	r.evictableCount--
}

func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictableCount
}

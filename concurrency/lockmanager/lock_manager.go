// Package lockmanager implements record-level locking with wound-wait
// deadlock prevention under strict two-phase locking, per spec.md §4.4.
package lockmanager

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"latchdb/txn"
)

// LockMode is the strength of a lock request.
type LockMode int

const (
	Shared LockMode = iota
	Exclusive
)

// ErrNotLocked is returned by Unlock and LockUpgrade when the calling
// transaction does not hold the lock they describe.
var ErrNotLocked = errors.New("lockmanager: rid not locked by transaction")

// AbortError reports that acquiring a lock forced the calling
// transaction into the ABORTED state; Reason explains why.
type AbortError struct {
	TxnID  int64
	Reason txn.AbortReason
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("lockmanager: txn %d aborted: %s", e.TxnID, e.Reason)
}

type lockRequest struct {
	txn     *txn.Transaction
	mode    LockMode
	granted bool
}

type lockRequestQueue struct {
	requests  []*lockRequest
	upgrading int64 // id of the txn currently upgrading shared->exclusive, 0 if none
	cond      *sync.Cond
}

// LockManager grants and revokes record locks. A single mutex protects
// every queue; sync.Cond broadcasts on it whenever a queue's head
// changes so waiters can recheck whether they are still blocked.
type LockManager struct {
	mu    sync.Mutex
	table map[txn.RID]*lockRequestQueue
}

// New returns an empty LockManager.
func New() *LockManager {
	return &LockManager{table: make(map[txn.RID]*lockRequestQueue)}
}

func (l *LockManager) queueFor(rid txn.RID) *lockRequestQueue {
	q, ok := l.table[rid]
	if !ok {
		q = &lockRequestQueue{cond: sync.NewCond(&l.mu)}
		l.table[rid] = q
	}
	return q
}

func hasConflict(a, b *lockRequest) bool {
	return a.mode == Exclusive || b.mode == Exclusive
}

// abortYoung implements the wound half of wound-wait: any request
// already in the queue, granted or waiting, belonging to a younger
// transaction (larger id) that conflicts with req is wounded and
// dropped from the queue. From LockShared and LockExclusive, req was
// just appended at the back, so every entry considered here arrived
// first; from LockUpgrade, req sits just ahead of the first ungranted
// request, and younger conflicting entries behind it are wounded too.
func (l *LockManager) abortYoung(req *lockRequest, q *lockRequestQueue) {
	kept := q.requests[:0:0]
	killedAny := false
	for _, other := range q.requests {
		if other == req || other.txn.ID() <= req.txn.ID() || !hasConflict(req, other) {
			kept = append(kept, other)
			continue
		}
		logrus.WithFields(logrus.Fields{
			"wounded_txn": other.txn.ID(),
			"by_txn":      req.txn.ID(),
		}).Debug("lockmanager: wound-wait aborted younger holder")
		other.txn.Abort(txn.AbortDeadlock)
		killedAny = true
	}
	q.requests = kept
	if killedAny {
		q.cond.Broadcast()
	}
}

// needWait reports whether req must keep waiting: a shared request
// waits behind any exclusive request ahead of it, an exclusive request
// waits unless it is at the front of the queue.
func (l *LockManager) needWait(req *lockRequest, q *lockRequestQueue) bool {
	if req.mode == Shared {
		for _, other := range q.requests {
			if other == req {
				return false
			}
			if other.mode == Exclusive {
				return true
			}
		}
		return false
	}
	if len(q.requests) == 0 {
		return false
	}
	return q.requests[0] != req
}

func removeFromQueue(q *lockRequestQueue, req *lockRequest) {
	for i, r := range q.requests {
		if r == req {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

func findRequest(q *lockRequestQueue, t *txn.Transaction) *lockRequest {
	for _, r := range q.requests {
		if r.txn == t {
			return r
		}
	}
	return nil
}

// LockShared acquires a shared lock on rid for t, blocking until it is
// granted, or returning an *AbortError if t is wounded or violates a
// two-phase locking rule while waiting.
func (l *LockManager) LockShared(t *txn.Transaction, rid txn.RID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t.IsSharedLocked(rid) || t.IsExclusiveLocked(rid) {
		return nil
	}
	if t.State() == txn.Aborted {
		return &AbortError{TxnID: t.ID(), Reason: t.AbortReason()}
	}
	if t.IsolationLevel() == txn.ReadUncommitted {
		t.Abort(txn.AbortLockSharedOnReadUncommitted)
		return &AbortError{TxnID: t.ID(), Reason: t.AbortReason()}
	}
	if t.State() == txn.Shrinking {
		t.Abort(txn.AbortLockOnShrinking)
		return &AbortError{TxnID: t.ID(), Reason: t.AbortReason()}
	}

	q := l.queueFor(rid)
	req := &lockRequest{txn: t, mode: Shared}
	q.requests = append(q.requests, req)
	l.abortYoung(req, q)

	for l.needWait(req, q) {
		q.cond.Wait()
		if t.State() == txn.Aborted {
			removeFromQueue(q, req)
			return &AbortError{TxnID: t.ID(), Reason: t.AbortReason()}
		}
	}
	req.granted = true
	t.AddSharedLock(rid)
	return nil
}

// LockExclusive acquires an exclusive lock on rid for t. If t already
// holds a shared lock it is routed through LockUpgrade instead.
func (l *LockManager) LockExclusive(t *txn.Transaction, rid txn.RID) error {
	l.mu.Lock()

	if t.IsExclusiveLocked(rid) {
		l.mu.Unlock()
		return nil
	}
	if t.IsSharedLocked(rid) {
		l.mu.Unlock()
		return l.LockUpgrade(t, rid)
	}
	if t.State() == txn.Aborted {
		l.mu.Unlock()
		return &AbortError{TxnID: t.ID(), Reason: t.AbortReason()}
	}
	if t.State() == txn.Shrinking {
		t.Abort(txn.AbortLockOnShrinking)
		l.mu.Unlock()
		return &AbortError{TxnID: t.ID(), Reason: t.AbortReason()}
	}

	q := l.queueFor(rid)
	req := &lockRequest{txn: t, mode: Exclusive}
	q.requests = append(q.requests, req)
	l.abortYoung(req, q)

	for l.needWait(req, q) {
		q.cond.Wait()
		if t.State() == txn.Aborted {
			removeFromQueue(q, req)
			l.mu.Unlock()
			return &AbortError{TxnID: t.ID(), Reason: t.AbortReason()}
		}
	}
	req.granted = true
	t.AddExclusiveLock(rid)
	l.mu.Unlock()
	return nil
}

// LockUpgrade promotes t's shared lock on rid to exclusive. Only one
// transaction may have a pending upgrade on a given rid at a time;
// a second concurrent upgrade attempt aborts.
func (l *LockManager) LockUpgrade(t *txn.Transaction, rid txn.RID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t.IsExclusiveLocked(rid) {
		return nil
	}
	if !t.IsSharedLocked(rid) {
		return ErrNotLocked
	}
	if t.State() == txn.Aborted {
		return &AbortError{TxnID: t.ID(), Reason: t.AbortReason()}
	}
	if t.State() == txn.Shrinking {
		t.Abort(txn.AbortLockOnShrinking)
		return &AbortError{TxnID: t.ID(), Reason: t.AbortReason()}
	}

	q := l.queueFor(rid)
	if q.upgrading != 0 {
		t.Abort(txn.AbortUpgradeConflict)
		return &AbortError{TxnID: t.ID(), Reason: t.AbortReason()}
	}

	req := findRequest(q, t)
	if req == nil {
		return ErrNotLocked
	}
	q.upgrading = t.ID()
	t.RemoveSharedLock(rid)
	req.mode = Exclusive
	req.granted = false

	// queue-jump ahead of other waiters, but behind anything already granted.
	removeFromQueue(q, req)
	insertAt := len(q.requests)
	for i, r := range q.requests {
		if !r.granted {
			insertAt = i
			break
		}
	}
	q.requests = append(q.requests[:insertAt:insertAt], append([]*lockRequest{req}, q.requests[insertAt:]...)...)

	l.abortYoung(req, q)

	for l.needWait(req, q) {
		q.cond.Wait()
		if t.State() == txn.Aborted {
			removeFromQueue(q, req)
			q.upgrading = 0
			return &AbortError{TxnID: t.ID(), Reason: t.AbortReason()}
		}
	}
	req.granted = true
	t.AddExclusiveLock(rid)
	q.upgrading = 0
	return nil
}

// Unlock releases whichever lock t holds on rid. Under repeatable-read
// isolation this also transitions t into the SHRINKING phase of 2PL,
// after which it may not acquire any further locks.
func (l *LockManager) Unlock(t *txn.Transaction, rid txn.RID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !t.IsSharedLocked(rid) && !t.IsExclusiveLocked(rid) {
		return ErrNotLocked
	}
	if t.IsolationLevel() == txn.RepeatableRead && t.State() == txn.Growing {
		t.SetState(txn.Shrinking)
	}
	if q, ok := l.table[rid]; ok {
		if req := findRequest(q, t); req != nil {
			removeFromQueue(q, req)
		}
		q.cond.Broadcast()
	}
	t.RemoveSharedLock(rid)
	t.RemoveExclusiveLock(rid)
	return nil
}

// LockSharedIfNeeded is LockShared, skipped entirely if t runs under
// READ_UNCOMMITTED (which takes no shared locks) or already holds a
// shared or exclusive lock on rid.
func (l *LockManager) LockSharedIfNeeded(t *txn.Transaction, rid txn.RID) error {
	if t.IsolationLevel() == txn.ReadUncommitted {
		return nil
	}
	if t.IsSharedLocked(rid) || t.IsExclusiveLocked(rid) {
		return nil
	}
	return l.LockShared(t, rid)
}

// LockExclusiveIfNeeded is LockExclusive, skipped entirely if t already
// holds an exclusive lock on rid.
func (l *LockManager) LockExclusiveIfNeeded(t *txn.Transaction, rid txn.RID) error {
	if t.IsExclusiveLocked(rid) {
		return nil
	}
	return l.LockExclusive(t, rid)
}

// UnlockIfNeeded releases rid according to t's isolation level, the way
// an executor would call it right after reading a record: under
// READ_COMMITTED a shared lock is released immediately (spec.md §4.4),
// so this unlocks it now rather than waiting for commit; under
// REPEATABLE_READ and READ_UNCOMMITTED shared locks are held until
// commit/abort, so this is a no-op for them. Exclusive locks are never
// released early under any isolation level — those always wait for the
// caller's explicit end-of-transaction Unlock.
func (l *LockManager) UnlockIfNeeded(t *txn.Transaction, rid txn.RID) error {
	if t.IsolationLevel() != txn.ReadCommitted {
		return nil
	}
	if !t.IsSharedLocked(rid) {
		return nil
	}
	return l.Unlock(t, rid)
}

package lockmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latchdb/txn"
)

func rid(slot int32) txn.RID { return txn.RID{PageID: 1, SlotIdx: slot} }

func TestLockManager_SharedLocksAreCompatible(t *testing.T) {
	lm := New()
	r := rid(1)
	t1 := txn.New(txn.RepeatableRead)
	t2 := txn.New(txn.RepeatableRead)

	require.NoError(t, lm.LockShared(t1, r))
	require.NoError(t, lm.LockShared(t2, r))
	assert.True(t, t1.IsSharedLocked(r))
	assert.True(t, t2.IsSharedLocked(r))
}

func TestLockManager_ExclusiveBlocksUntilReleased(t *testing.T) {
	lm := New()
	r := rid(1)
	t1 := txn.New(txn.RepeatableRead)
	t2 := txn.New(txn.RepeatableRead)

	require.NoError(t, lm.LockExclusive(t1, r))

	granted := make(chan struct{})
	go func() {
		require.NoError(t, lm.LockExclusive(t2, r))
		close(granted)
	}()

	select {
	case <-granted:
		t.Fatal("t2 should not acquire the lock while t1 holds it")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lm.Unlock(t1, r))
	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("t2 never acquired the lock after t1 released it")
	}
}

func TestLockManager_ReadUncommittedRejectsSharedLocks(t *testing.T) {
	lm := New()
	r := rid(1)
	tx := txn.New(txn.ReadUncommitted)

	err := lm.LockShared(tx, r)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, txn.AbortLockSharedOnReadUncommitted, abortErr.Reason)
	assert.Equal(t, txn.Aborted, tx.State())
}

func TestLockManager_LockOnShrinkingAborts(t *testing.T) {
	lm := New()
	r1, r2 := rid(1), rid(2)
	tx := txn.New(txn.RepeatableRead)

	require.NoError(t, lm.LockShared(tx, r1))
	require.NoError(t, lm.Unlock(tx, r1))
	assert.Equal(t, txn.Shrinking, tx.State())

	err := lm.LockShared(tx, r2)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, txn.AbortLockOnShrinking, abortErr.Reason)
}

// TestLockManager_WoundWaitAbortsYoungerHolder is Scenario C: an older
// transaction requesting an exclusive lock wounds a younger transaction
// that already holds it, rather than waiting behind it.
func TestLockManager_WoundWaitAbortsYoungerHolder(t *testing.T) {
	lm := New()
	r := rid(1)
	old := txn.New(txn.RepeatableRead)
	young := txn.New(txn.RepeatableRead)
	require.Less(t, old.ID(), young.ID())

	require.NoError(t, lm.LockShared(young, r))

	done := make(chan error, 1)
	go func() { done <- lm.LockExclusive(old, r) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("older transaction should wound the younger holder instead of waiting")
	}

	assert.Equal(t, txn.Aborted, young.State())
	assert.Equal(t, txn.AbortDeadlock, young.AbortReason())
	assert.True(t, old.IsExclusiveLocked(r))
}

// TestLockManager_WoundWaitLetsYoungerWaitForOlder is the mirror case:
// a younger request arriving behind an older holder must wait, never
// wound it.
func TestLockManager_WoundWaitLetsYoungerWaitForOlder(t *testing.T) {
	lm := New()
	r := rid(1)
	old := txn.New(txn.RepeatableRead)
	young := txn.New(txn.RepeatableRead)
	require.Less(t, old.ID(), young.ID())

	require.NoError(t, lm.LockExclusive(old, r))

	done := make(chan error, 1)
	go func() { done <- lm.LockExclusive(young, r) }()

	select {
	case <-done:
		t.Fatal("younger transaction must wait for the older holder")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, txn.Growing, old.State())

	require.NoError(t, lm.Unlock(old, r))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("younger transaction never acquired the lock after the older released it")
	}
}

// TestLockManager_ConcurrentUpgradeConflictAborts is Scenario D: two
// transactions holding a shared lock both try to upgrade to exclusive;
// the second one to attempt must abort with UPGRADE_CONFLICT.
func TestLockManager_ConcurrentUpgradeConflictAborts(t *testing.T) {
	lm := New()
	r := rid(1)
	t1 := txn.New(txn.RepeatableRead)
	t2 := txn.New(txn.RepeatableRead)

	require.NoError(t, lm.LockShared(t1, r))
	require.NoError(t, lm.LockShared(t2, r))

	type result struct {
		txn *txn.Transaction
		err error
	}
	results := make(chan result, 2)
	// t2 (younger) upgrades first and waits behind t1's shared lock. Had
	// the older t1 upgraded first it would wound t2 instead, so t1 only
	// attempts its upgrade once t2's is queued.
	go func() { results <- result{t2, lm.LockUpgrade(t2, r)} }()
	time.Sleep(50 * time.Millisecond)
	go func() { results <- result{t1, lm.LockUpgrade(t1, r)} }()

	// the loser returns immediately with an upgrade conflict; the winner
	// stays blocked until the loser's still-held shared lock is released.
	var loser result
	select {
	case loser = <-results:
	case <-time.After(time.Second):
		t.Fatal("neither upgrade attempt returned")
	}
	var abortErr *AbortError
	require.ErrorAs(t, loser.err, &abortErr)
	assert.Equal(t, txn.AbortUpgradeConflict, abortErr.Reason)

	require.NoError(t, lm.Unlock(loser.txn, r))

	select {
	case winner := <-results:
		assert.NoError(t, winner.err)
	case <-time.After(time.Second):
		t.Fatal("surviving upgrade never completed")
	}
}

func TestLockManager_UnlockWithoutLockFails(t *testing.T) {
	lm := New()
	tx := txn.New(txn.RepeatableRead)
	assert.ErrorIs(t, lm.Unlock(tx, rid(1)), ErrNotLocked)
}

// TestLockManager_UnlockIfNeededReleasesSharedUnderReadCommitted checks
// spec.md §4.4's READ_COMMITTED contract: a shared lock is released
// immediately after the read that took it, not held to commit.
func TestLockManager_UnlockIfNeededReleasesSharedUnderReadCommitted(t *testing.T) {
	lm := New()
	r := rid(1)
	tx := txn.New(txn.ReadCommitted)

	require.NoError(t, lm.LockShared(tx, r))
	require.NoError(t, lm.UnlockIfNeeded(tx, r))
	assert.False(t, tx.IsSharedLocked(r), "read-committed shared lock should be released right after the read")

	// exclusive locks are never released early, under any isolation level.
	require.NoError(t, lm.LockExclusive(tx, r))
	require.NoError(t, lm.UnlockIfNeeded(tx, r))
	assert.True(t, tx.IsExclusiveLocked(r), "exclusive locks are held until an explicit Unlock, not released by UnlockIfNeeded")
}

// TestLockManager_UnlockIfNeededIsNoOpUnderRepeatableRead checks that
// full 2PL isolation levels never release a lock early via this helper.
func TestLockManager_UnlockIfNeededIsNoOpUnderRepeatableRead(t *testing.T) {
	lm := New()
	r := rid(1)
	tx := txn.New(txn.RepeatableRead)

	require.NoError(t, lm.LockShared(tx, r))
	require.NoError(t, lm.UnlockIfNeeded(tx, r))
	assert.True(t, tx.IsSharedLocked(r), "repeatable-read must hold locks until commit/abort")
	assert.Equal(t, txn.Growing, tx.State())
}

package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultLockWaitTimeout bounds how long an operation waits for a
// store's lock before failing fast as busy.
const DefaultLockWaitTimeout = 10 * time.Second

// SharedLocker takes a cross-process mutex for a store type. The
// in-process semaphores in StoreLocks only serialize goroutines within
// one binary; a scheduler daemon and an ad-hoc restore CLI run as
// separate processes, so the real exclusion lives in a shared medium
// such as MySQL advisory locks held by the catalog.
type SharedLocker interface {
	// AcquireShared takes the shared lock for a store type, waiting at
	// most wait. It returns a release function that must be called
	// exactly once, or a lock-contention error when another holder
	// keeps the lock past the wait.
	AcquireShared(ctx context.Context, storeType StoreType, wait time.Duration) (func(), error)
}

// StoreLocks provides one mutual-exclusion lock per store type, shared
// by the backup and restore paths. Restore briefly makes the graph and
// relational stores inconsistent, so it must never overlap a concurrent
// snapshot of the same store; different store types proceed
// independently. Waits are bounded: contention surfaces as a
// lock-contention error instead of blocking indefinitely.
//
// The local semaphore serializes goroutines in this process; when a
// SharedLocker is configured it is taken underneath, so concurrent
// processes exclude each other too.
type StoreLocks struct {
	mu          sync.Mutex
	semaphores  map[StoreType]*semaphore.Weighted
	shared      SharedLocker
	waitTimeout time.Duration
}

// NewStoreLocks creates a process-local lock set. A non-positive
// waitTimeout uses the default.
func NewStoreLocks(waitTimeout time.Duration) *StoreLocks {
	return NewSharedStoreLocks(waitTimeout, nil)
}

// NewSharedStoreLocks creates a lock set backed by a cross-process
// locker. A nil shared locker degrades to process-local locking.
func NewSharedStoreLocks(waitTimeout time.Duration, shared SharedLocker) *StoreLocks {
	if waitTimeout <= 0 {
		waitTimeout = DefaultLockWaitTimeout
	}
	return &StoreLocks{
		semaphores:  make(map[StoreType]*semaphore.Weighted),
		shared:      shared,
		waitTimeout: waitTimeout,
	}
}

// Acquire takes the lock for a store type, waiting at most the
// configured timeout. On success it returns a release function that
// must be called exactly once, typically via defer.
func (l *StoreLocks) Acquire(ctx context.Context, storeType StoreType) (func(), error) {
	sem := l.semaphoreFor(storeType)

	waitCtx, cancel := context.WithTimeout(ctx, l.waitTimeout)
	defer cancel()

	if err := sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, NewLockContentionError(
				fmt.Sprintf("operation cancelled while waiting for %s store lock", storeType), ctx.Err())
		}
		return nil, NewLockContentionError(
			fmt.Sprintf("%s store is busy: another backup or restore holds its lock", storeType), err)
	}

	releaseShared, err := l.acquireShared(ctx, storeType, l.waitTimeout)
	if err != nil {
		sem.Release(1)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseShared()
			sem.Release(1)
		})
	}, nil
}

// TryAcquire takes the lock without waiting.
func (l *StoreLocks) TryAcquire(storeType StoreType) (func(), bool) {
	sem := l.semaphoreFor(storeType)
	if !sem.TryAcquire(1) {
		return nil, false
	}

	releaseShared, err := l.acquireShared(context.Background(), storeType, 0)
	if err != nil {
		sem.Release(1)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseShared()
			sem.Release(1)
		})
	}, true
}

// acquireShared takes the cross-process lock when one is configured.
// Without one the returned release is a no-op.
func (l *StoreLocks) acquireShared(ctx context.Context, storeType StoreType, wait time.Duration) (func(), error) {
	if l.shared == nil {
		return func() {}, nil
	}
	return l.shared.AcquireShared(ctx, storeType, wait)
}

func (l *StoreLocks) semaphoreFor(storeType StoreType) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.semaphores[storeType]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.semaphores[storeType] = sem
	}
	return sem
}

// Package nlock implements the per-node reader/writer lock. Acquisition
// is bounded: a waiter that cannot get the lock within the node lock
// timeout fails with ErrLockTimeout instead of deadlocking. The lock is
// not reentrant.
package nlock

import (
	"sync"
	"time"

	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/fserr"
)

type RWLock struct {
	mu      *sync.Mutex
	readers uint64
	writer  bool
	waitCh  chan struct{} // closed and replaced on every release
}

func MkRWLock() *RWLock {
	return &RWLock{mu: new(sync.Mutex)}
}

func (l *RWLock) waitChan() chan struct{} {
	if l.waitCh == nil {
		l.waitCh = make(chan struct{})
	}
	return l.waitCh
}

func (l *RWLock) wake() {
	if l.waitCh != nil {
		close(l.waitCh)
		l.waitCh = nil
	}
}

func (l *RWLock) acquire(write bool) error {
	deadline := time.NewTimer(time.Duration(common.NodeLockTimeoutMs) * time.Millisecond)
	defer deadline.Stop()
	for {
		l.mu.Lock()
		if write {
			if !l.writer && l.readers == 0 {
				l.writer = true
				l.mu.Unlock()
				return nil
			}
		} else {
			if !l.writer {
				l.readers++
				l.mu.Unlock()
				return nil
			}
		}
		ch := l.waitChan()
		l.mu.Unlock()
		select {
		case <-ch:
		case <-deadline.C:
			return fserr.ErrLockTimeout
		}
	}
}

// LockRead acquires the lock shared, waiting up to the node lock timeout.
func (l *RWLock) LockRead() error {
	return l.acquire(false)
}

// LockWrite acquires the lock exclusive, waiting up to the node lock
// timeout.
func (l *RWLock) LockWrite() error {
	return l.acquire(true)
}

// TryLockRead acquires the lock shared only if no writer holds it.
func (l *RWLock) TryLockRead() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer {
		return false
	}
	l.readers++
	return true
}

func (l *RWLock) UnlockRead() {
	l.mu.Lock()
	if l.readers == 0 {
		panic("UnlockRead: not read-locked")
	}
	l.readers--
	if l.readers == 0 {
		l.wake()
	}
	l.mu.Unlock()
}

func (l *RWLock) UnlockWrite() {
	l.mu.Lock()
	if !l.writer {
		panic("UnlockWrite: not write-locked")
	}
	l.writer = false
	l.wake()
	l.mu.Unlock()
}

// Guard is a scoped acquisition over an RWLock. Release is idempotent,
// so a guard can sit on every exit path without double-releasing.
type Guard struct {
	l        *RWLock
	write    bool
	released bool
}

func MkGuard(l *RWLock, write bool) *Guard {
	return &Guard{l: l, write: write}
}

func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	if g.write {
		g.l.UnlockWrite()
	} else {
		g.l.UnlockRead()
	}
}

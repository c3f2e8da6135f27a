package indexer

import "sync/atomic"

// RunLock lets at most one mass indexing run hold an index at a time. It
// never blocks: a caller that fails to acquire it reports the holder.
type RunLock struct {
	holder atomic.Pointer[string]
}

// TryAcquire takes the lock for runID. It returns false when another run
// holds it.
func (l *RunLock) TryAcquire(runID string) bool {
	return l.holder.CompareAndSwap(nil, &runID)
}

// Release frees the lock if runID holds it.
func (l *RunLock) Release(runID string) {
	cur := l.holder.Load()
	if cur != nil && *cur == runID {
		l.holder.CompareAndSwap(cur, nil)
	}
}

// Holder returns the id of the run holding the lock, or "".
func (l *RunLock) Holder() string {
	if cur := l.holder.Load(); cur != nil {
		return *cur
	}
	return ""
}

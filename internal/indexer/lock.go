package indexer

import "sync/atomic"

// IndexLock lets only one catalog import or embedding run proceed at a
// time. Callers that fail TryAcquire should report the job as busy.
type IndexLock struct {
	state atomic.Int32 // 0 = idle, 1 = running
}

// TryAcquire attempts to acquire the lock without blocking
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock. Only the holder may call it.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Busy reports whether a job currently holds the lock
func (l *IndexLock) Busy() bool {
	return l.state.Load() == 1
}

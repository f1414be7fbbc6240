package services

import "sync"

// BeatLocks serializes all state-mutating work for a single beat. Acceptance
// transitions, auto-start evaluation, violation-count increments and
// replacement writes for one beat share a mutex; different beats proceed in
// parallel with no coordination.
type BeatLocks struct {
	locks sync.Map // beat_id -> *sync.Mutex
}

func NewBeatLocks() *BeatLocks {
	return &BeatLocks{}
}

// Lock acquires the mutex for beatID and returns its unlock function.
func (l *BeatLocks) Lock(beatID string) func() {
	v, _ := l.locks.LoadOrStore(beatID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

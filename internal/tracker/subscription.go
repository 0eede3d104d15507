package tracker

import "sync"

// Subscription delivers change notifications from a Tracker.
//
// C receives a value whenever a reading is published or the recording state or
// target changes. It has capacity 1 and notifications coalesce: a slow reader
// sees one pending notification and should call Tracker.Latest for the newest
// values. C is never closed.
type Subscription struct {
	C <-chan struct{}

	id   uint64
	t    *Tracker
	once sync.Once
}

// Close stops notifications. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.t.subs.Delete(s.id)
		s.t.rebuildFanout()
	})
}

// Subscribe registers a new observer.
func (t *Tracker) Subscribe() *Subscription {
	ch := make(chan struct{}, 1)
	id := t.nextSubID.Add(1)
	t.subs.Store(id, ch)
	t.rebuildFanout()
	return &Subscription{C: ch, id: id, t: t}
}

// rebuildFanout publishes an immutable copy of the subscriber channels for
// the block path, which reads it with a single atomic load.
func (t *Tracker) rebuildFanout() {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	chans := make([]chan struct{}, 0, t.subs.Size())
	t.subs.Range(func(_ uint64, ch chan struct{}) bool {
		chans = append(chans, ch)
		return true
	})
	t.fanout.Store(&chans)
}

// notify posts a notification to every subscriber without blocking.
func (t *Tracker) notify() {
	chans := t.fanout.Load()
	if chans == nil {
		return
	}
	for _, ch := range *chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

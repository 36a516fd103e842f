package model

import (
	"slices"
	"sync"
	"sync/atomic"
)

type listener[C any] struct {
	fn func(C) error
}

// listenerList is a copy-on-write listener set: writers copy under a mutex,
// delivery iterates a snapshot without locking.
type listenerList[C any] struct {
	mu   sync.Mutex
	list atomic.Pointer[[]*listener[C]]
}

func (ll *listenerList[C]) add(fn func(C) error) (cancel func()) {
	l := &listener[C]{fn: fn}

	ll.mu.Lock()
	next := append(slices.Clone(ll.snapshot()), l)
	ll.list.Store(&next)
	ll.mu.Unlock()

	return func() { ll.remove(l) }
}

func (ll *listenerList[C]) remove(l *listener[C]) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	cur := ll.snapshot()
	i := slices.Index(cur, l)
	if i < 0 {
		return
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	ll.list.Store(&next)
}

func (ll *listenerList[C]) clear() {
	ll.mu.Lock()
	ll.list.Store(nil)
	ll.mu.Unlock()
}

func (ll *listenerList[C]) snapshot() []*listener[C] {
	if p := ll.list.Load(); p != nil {
		return *p
	}
	return nil
}

func (ll *listenerList[C]) len() int {
	return len(ll.snapshot())
}

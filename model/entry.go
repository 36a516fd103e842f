package model

import (
	"cmp"
	"slices"

	"github.com/devexperts/QD-sub016/event"
)

// Entry is one index of one source in a ListModel.
// Between a batch being applied and listeners returning, an entry is
// changed: Value is the state before the batch and NewValue the state after
// it (absent for removals). Entries are owned by the model; listeners only read.
type Entry[P any] struct {
	value    *event.Event[P]
	newValue *event.Event[P]
	changed  bool
	sourceID int
	index    int64
}

// Value returns the committed value; false while the entry has never been committed
func (e *Entry[P]) Value() (event.Event[P], bool) {
	if e.value == nil {
		return event.Event[P]{}, false
	}
	return *e.value, true
}

// NewValue returns the pending value; false when the entry is being removed
func (e *Entry[P]) NewValue() (event.Event[P], bool) {
	if e.newValue == nil {
		return event.Event[P]{}, false
	}
	return *e.newValue, true
}

// Changed reports whether the entry changed in the notification being delivered
func (e *Entry[P]) Changed() bool {
	return e.changed
}

// SourceID returns the source the entry belongs to
func (e *Entry[P]) SourceID() int {
	return e.sourceID
}

// Index returns the event index of the entry
func (e *Entry[P]) Index() int64 {
	return e.index
}

// current is the latest value: pending while changed, committed otherwise
func (e *Entry[P]) current() event.Event[P] {
	if e.changed {
		return *e.newValue
	}
	return *e.value
}

func (e *Entry[P]) commit() {
	if !e.changed {
		return
	}
	e.value = e.newValue
	e.newValue = nil
	e.changed = false
}

// listSource is the index-sorted entries of one source
type listSource[P any] struct {
	id      int
	entries []*Entry[P]
}

func (s *listSource[P]) find(index int64) (int, bool) {
	return slices.BinarySearchFunc(s.entries, index, func(e *Entry[P], target int64) int {
		return cmp.Compare(e.index, target)
	})
}

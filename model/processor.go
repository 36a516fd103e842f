package model

import (
	"cmp"
	"slices"

	"github.com/devexperts/QD-sub016/event"
)

// findOrInsert returns the element with the given id from a slice sorted by
// id, creating and inserting it at its sorted position when absent.
func findOrInsert[T any](items *[]T, id int, idOf func(T) int, create func() T) T {
	i, found := slices.BinarySearchFunc(*items, id, func(item T, target int) int {
		return cmp.Compare(idOf(item), target)
	})
	if found {
		return (*items)[i]
	}
	item := create()
	*items = slices.Insert(*items, i, item)
	return item
}

// processor routes a batch through per-source trackers and collects the
// transactions it completes, in discovery order.
type processor[P any] struct {
	trackers      []*sourceTracker[P]
	isSnapshotEnd func(event.Flags) bool
}

func newProcessor[P any](isSnapshotEnd func(event.Flags) bool) *processor[P] {
	return &processor[P]{isSnapshotEnd: isSnapshotEnd}
}

func (p *processor[P]) tracker(sourceID int) *sourceTracker[P] {
	return findOrInsert(&p.trackers, sourceID,
		func(t *sourceTracker[P]) int { return t.sourceID },
		func() *sourceTracker[P] { return newSourceTracker[P](sourceID, p.isSnapshotEnd) })
}

// scan observes every event of the batch. Consecutive updates completed by
// the same source are merged into one transaction; a snapshot, a completion
// from another source or the end of the batch closes the merged update.
func (p *processor[P]) scan(events []event.Event[P]) []completed[P] {
	var (
		result  []completed[P]
		update  completed[P]
		tracker *sourceTracker[P]
	)
	flush := func() {
		if len(update.events) > 0 {
			result = append(result, update)
		}
		update = completed[P]{}
	}

	for _, e := range events {
		if tracker == nil || tracker.sourceID != e.SourceID {
			tracker = p.tracker(e.SourceID)
		}

		kind, evs := tracker.observe(e)
		switch kind {
		case completedSnapshot:
			flush()
			result = append(result, completed[P]{sourceID: tracker.sourceID, snapshot: true, events: evs})
		case completedUpdate:
			if len(update.events) > 0 && update.sourceID != tracker.sourceID {
				flush()
			}
			update.sourceID = tracker.sourceID
			if update.events == nil {
				update.events = evs
			} else {
				update.events = append(update.events, evs...)
			}
		}
	}
	flush()
	return result
}

// pending returns the number of events held back by incomplete snapshots or transactions
func (p *processor[P]) pending() int {
	n := 0
	for _, t := range p.trackers {
		n += t.pendingCount()
	}
	return n
}

// reset discards every tracker
func (p *processor[P]) reset() {
	p.trackers = nil
}

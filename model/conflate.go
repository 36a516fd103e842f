package model

import "github.com/devexperts/QD-sub016/event"

// Conflate reduces the events of one snapshot to the last value per index.
// Removed indices are dropped. Survivors keep the position where their index
// first appeared and have their flags cleared. An index removed and then
// seen again is placed at the position of its reappearance.
func Conflate[P any](events []event.Event[P]) []event.Event[P] {
	slots := make([]event.Event[P], 0, len(events))
	live := make([]bool, 0, len(events))
	pos := make(map[int64]int, len(events))

	for _, e := range events {
		i, ok := pos[e.Index]
		if e.IsRemove() {
			if ok {
				live[i] = false
				delete(pos, e.Index)
			}
			continue
		}
		if ok {
			slots[i] = e.WithoutFlags()
			continue
		}
		pos[e.Index] = len(slots)
		slots = append(slots, e.WithoutFlags())
		live = append(live, true)
	}

	out := make([]event.Event[P], 0, len(pos))
	for i, e := range slots {
		if live[i] {
			out = append(out, e)
		}
	}
	return out
}

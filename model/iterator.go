package model

import "github.com/devexperts/QD-sub016/event"

// ListIterator walks a ListModel in both directions by global position.
// Like the other read methods it is only valid in the delivery context and
// until the next batch is applied.
type ListIterator[P any] struct {
	m     *ListModel[P]
	src   int // index into m.lists
	local int // position within the source
	index int // global position of the next element
}

// Iterator returns an iterator positioned before global position i (0 <= i <= Size)
func (m *ListModel[P]) Iterator(i int) (*ListIterator[P], error) {
	if i < 0 || i > m.size {
		return nil, &IndexOutOfRangeError{Index: i, Size: m.size}
	}
	it := &ListIterator[P]{m: m, index: i, local: i}
	for it.src < len(m.lists) && it.local >= len(m.lists[it.src].entries) {
		it.local -= len(m.lists[it.src].entries)
		it.src++
	}
	return it, nil
}

func (it *ListIterator[P]) skipForward() {
	for it.src < len(it.m.lists) && it.local >= len(it.m.lists[it.src].entries) {
		it.src++
		it.local = 0
	}
}

func (it *ListIterator[P]) skipBackward() {
	for it.local < 0 && it.src > 0 {
		it.src--
		it.local = len(it.m.lists[it.src].entries) - 1
	}
}

// HasNext reports whether Next will return an element
func (it *ListIterator[P]) HasNext() bool {
	return it.index < it.m.size
}

// HasPrevious reports whether Previous will return an element
func (it *ListIterator[P]) HasPrevious() bool {
	return it.index > 0
}

// NextIndex returns the position of the element Next would return
func (it *ListIterator[P]) NextIndex() int {
	return it.index
}

// PreviousIndex returns the position of the element Previous would return
func (it *ListIterator[P]) PreviousIndex() int {
	return it.index - 1
}

// Next returns the next element and advances
func (it *ListIterator[P]) Next() (event.Event[P], error) {
	e, err := it.NextEntry()
	if err != nil {
		return event.Event[P]{}, err
	}
	return e.current(), nil
}

// NextEntry returns the next entry and advances
func (it *ListIterator[P]) NextEntry() (*Entry[P], error) {
	if !it.HasNext() {
		return nil, &IndexOutOfRangeError{Index: it.index, Size: it.m.size}
	}
	it.skipForward()
	e := it.m.lists[it.src].entries[it.local]
	it.local++
	it.index++
	return e, nil
}

// Previous returns the previous element and moves back
func (it *ListIterator[P]) Previous() (event.Event[P], error) {
	e, err := it.PreviousEntry()
	if err != nil {
		return event.Event[P]{}, err
	}
	return e.current(), nil
}

// PreviousEntry returns the previous entry and moves back
func (it *ListIterator[P]) PreviousEntry() (*Entry[P], error) {
	if !it.HasPrevious() {
		return nil, &IndexOutOfRangeError{Index: it.index - 1, Size: it.m.size}
	}
	it.local--
	it.index--
	it.skipBackward()
	return it.m.lists[it.src].entries[it.local], nil
}

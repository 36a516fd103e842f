package model

import (
	"context"
	"errors"
	"iter"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devexperts/QD-sub016/event"
	"github.com/devexperts/QD-sub016/feed"
	"github.com/devexperts/QD-sub016/telemetry"
	"github.com/rs/zerolog/log"
)

// ListListener is notified once per batch that changed the list
type ListListener[P any] func(change Change[P]) error

// Change describes one notification cycle of a ListModel
type Change[P any] struct {
	model   *ListModel[P]
	entries []*Entry[P]
}

// Model returns the list that changed
func (c Change[P]) Model() *ListModel[P] {
	return c.model
}

// Entries returns the entries changed in this cycle, in the order they changed
func (c Change[P]) Entries() []*Entry[P] {
	return c.entries
}

// ListModelConfig configures a ListModel
type ListModelConfig[P any] struct {
	// Feed is attached at construction when set
	Feed feed.Feed[P]
	// Symbol to materialize; empty leaves the model unsubscribed
	Symbol string
	// Sources restricts the subscription to these source ids; empty means all
	Sources []int
	// Listener is registered at construction when set
	Listener ListListener[P]
	// SizeLimit caps the number of entries; 0 means unbounded
	SizeLimit int
	// EventsBatchLimit caps events per delivered batch; 0 uses feed.DefaultBatchLimit
	EventsBatchLimit int
	// AggregationPeriod delays delivery to coalesce bursts; 0 delivers immediately
	AggregationPeriod time.Duration
	// Executor runs batches and notifications; nil runs them on the calling goroutine
	Executor Executor
	// ErrorHandler receives listener errors raised outside a synchronous call
	ErrorHandler ErrorHandler
	// IsSnapshotEnd overrides which flags complete a snapshot; nil uses DefaultSnapshotEnd
	IsSnapshotEnd func(event.Flags) bool
}

// ListModel materializes the events of one symbol into a list ordered by
// source id and then by index. Every batch is applied, trimmed to the size
// limit and announced to listeners as a single change, after which the
// changed entries commit.
//
// Batches are applied in the model's delivery context: on the caller's
// goroutine without an executor, or inside the executor otherwise. The read
// methods (Size, Get, Iterator, All, Entries) must only be used from that
// context, for example from a listener. Use Inspect from other goroutines.
type ListModel[P any] struct {
	dispatcher   *dispatcher
	subscription *feed.Subscription[P]
	listeners    listenerList[Change[P]]
	sources      []int

	lifecycle  sync.Mutex
	symbol     atomic.Pointer[string]
	sizeLimit  atomic.Int64
	closed     atomic.Bool
	delivering atomic.Bool

	statEntries atomic.Int64
	statPending atomic.Int64

	// delivery context state
	active    string
	processor *processor[P]
	lists     []*listSource[P]
	changed   []*Entry[P]
	size      int
	limit     int
}

// NewListModel creates a list model and attaches it to c.Feed when set
func NewListModel[P any](c ListModelConfig[P]) (*ListModel[P], error) {
	if c.SizeLimit < 0 {
		return nil, ErrInvalidSizeLimit
	}
	limit := c.SizeLimit
	if limit == 0 {
		limit = math.MaxInt
	}

	m := &ListModel[P]{
		sources:   slices.Clone(c.Sources),
		processor: newProcessor[P](c.IsSnapshotEnd),
		active:    c.Symbol,
		limit:     limit,
	}
	m.symbol.Store(&c.Symbol)
	m.sizeLimit.Store(int64(limit))
	m.dispatcher = newDispatcher(c.Executor, c.ErrorHandler, m.Symbol)
	if c.Listener != nil {
		m.AddListener(c.Listener)
	}

	m.subscription = feed.NewSubscription[P](m.ProcessEvents)
	m.subscription.SetSources(c.Sources...)
	m.subscription.SetEventsBatchLimit(c.EventsBatchLimit)
	m.subscription.SetAggregationPeriod(c.AggregationPeriod)
	m.resubscribe()

	if c.Feed != nil {
		if err := m.Attach(c.Feed); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Symbol returns the current symbol, empty when unsubscribed
func (m *ListModel[P]) Symbol() string {
	return *m.symbol.Load()
}

// Sources returns the source filter (empty = all sources)
func (m *ListModel[P]) Sources() []int {
	return slices.Clone(m.sources)
}

// Subscription returns the feed subscription driving the model
func (m *ListModel[P]) Subscription() *feed.Subscription[P] {
	return m.subscription
}

// SizeLimit returns the maximum number of entries (math.MaxInt when unbounded)
func (m *ListModel[P]) SizeLimit() int {
	return int(m.sizeLimit.Load())
}

// Stats reports the list size and buffered events as of the last applied batch.
// Safe from any goroutine.
func (m *ListModel[P]) Stats() (entries, pending int) {
	return int(m.statEntries.Load()), int(m.statPending.Load())
}

// AddListener registers l and returns a function that removes it.
// Listeners added after Close are ignored.
func (m *ListModel[P]) AddListener(l ListListener[P]) (cancel func()) {
	if m.closed.Load() {
		return func() {}
	}
	return m.listeners.add(l)
}

// ListenerCount returns the number of registered listeners
func (m *ListModel[P]) ListenerCount() int {
	return m.listeners.len()
}

// SetSymbol switches the model to another symbol. When the symbol changes,
// every entry is removed in one notification before events of the new
// symbol are applied. An empty symbol unsubscribes.
func (m *ListModel[P]) SetSymbol(symbol string) error {
	m.lifecycle.Lock()
	if m.closed.Load() || m.Symbol() == symbol {
		m.lifecycle.Unlock()
		return nil
	}
	m.symbol.Store(&symbol)
	m.resubscribe()
	m.lifecycle.Unlock()

	return m.dispatcher.dispatch(m.syncSymbol)
}

// Clear unsubscribes and removes every entry, same as SetSymbol("")
func (m *ListModel[P]) Clear() error {
	return m.SetSymbol("")
}

// SetSizeLimit changes the maximum number of entries and evicts from the
// front of the list until it fits. Evicted entries are announced as one change.
func (m *ListModel[P]) SetSizeLimit(limit int) error {
	if limit < 0 {
		return ErrInvalidSizeLimit
	}
	m.sizeLimit.Store(int64(limit))

	return m.dispatcher.dispatch(func() error {
		m.limit = limit
		m.enforceSizeLimit()
		m.updateStats()
		return m.notifyChanged()
	})
}

// ProcessEvents applies one batch. Events of other symbols are ignored.
// Batches must not overlap. Without an executor the batch is applied and
// announced before ProcessEvents returns, and listener failures are returned.
func (m *ListModel[P]) ProcessEvents(events []event.Event[P]) error {
	if m.closed.Load() || len(events) == 0 {
		return nil
	}
	telemetry.EventsReceivedTotal.With("list").Add(float64(len(events)))
	telemetry.BatchSizeEvents.Observe(float64(len(events)))

	return m.dispatcher.dispatch(func() error {
		return m.applyBatch(events)
	})
}

// Inspect runs fn in the delivery context, where the read methods are safe,
// and waits for it. If ctx ends first, fn may still run later.
// While listeners are being notified it returns ErrInspectInDelivery without
// queuing fn: listeners read the model directly, other callers retry.
func (m *ListModel[P]) Inspect(ctx context.Context, fn func(m *ListModel[P])) error {
	if m.delivering.Load() {
		return ErrInspectInDelivery
	}
	done := m.dispatcher.submit(func() error {
		fn(m)
		return nil
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach starts receiving events from f
func (m *ListModel[P]) Attach(f feed.Feed[P]) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.closed.Load() {
		return ErrModelClosed
	}
	m.subscription.Attach(f)
	return nil
}

// Detach stops receiving events from f
func (m *ListModel[P]) Detach(f feed.Feed[P]) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.subscription.Detach(f)
}

// SetExecutor changes where future batches run; nil runs them on the caller
func (m *ListModel[P]) SetExecutor(executor Executor) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.dispatcher.setExecutor(executor)
}

// Close detaches the model, removes every entry with one final notification
// and drops all listeners. Closing is permanent; later calls return nil.
func (m *ListModel[P]) Close() error {
	m.lifecycle.Lock()
	if !m.closed.CompareAndSwap(false, true) {
		m.lifecycle.Unlock()
		return nil
	}
	empty := ""
	m.symbol.Store(&empty)
	m.subscription.Close()
	m.lifecycle.Unlock()

	err := m.dispatcher.dispatch(func() error {
		defer m.listeners.clear()
		return m.syncSymbol()
	})
	log.Debug().Msg("List model closed")
	return err
}

// IsClosed reports whether Close was called
func (m *ListModel[P]) IsClosed() bool {
	return m.closed.Load()
}

func (m *ListModel[P]) resubscribe() {
	if symbol := m.Symbol(); symbol != "" {
		m.subscription.SetSymbols(symbol)
	} else {
		m.subscription.Clear()
	}
}

// syncSymbol catches the delivery context up with the latest symbol
func (m *ListModel[P]) syncSymbol() error {
	symbol := m.Symbol()
	if symbol == m.active {
		return nil
	}
	m.active = symbol

	for _, src := range m.lists {
		for _, e := range src.entries {
			m.markRemoved(e)
		}
	}
	m.lists = nil
	m.size = 0
	m.processor.reset()
	m.updateStats()
	return m.notifyChanged()
}

func (m *ListModel[P]) applyBatch(events []event.Event[P]) error {
	// a batch of the new symbol can be queued ahead of the clear SetSymbol dispatches
	var errs []error
	if m.Symbol() != m.active {
		errs = append(errs, m.syncSymbol())
	}
	if m.active == "" {
		return errors.Join(errs...)
	}
	start := time.Now()

	for _, c := range m.processor.scan(forSymbol(events, m.active)) {
		m.apply(c)
		telemetry.TransactionsTotal.With(c.kind()).Inc()
	}
	m.enforceSizeLimit()
	m.updateStats()

	errs = append(errs, m.notifyChanged())
	telemetry.BatchDurationSeconds.With("list").Observe(time.Since(start).Seconds())
	return errors.Join(errs...)
}

func (m *ListModel[P]) source(sourceID int) *listSource[P] {
	return findOrInsert(&m.lists, sourceID,
		func(s *listSource[P]) int { return s.id },
		func() *listSource[P] { return &listSource[P]{id: sourceID} })
}

func (m *ListModel[P]) apply(c completed[P]) {
	src := m.source(c.sourceID)

	if c.snapshot {
		for _, e := range src.entries {
			m.markRemoved(e)
		}
		m.size -= len(src.entries)
		src.entries = nil
	}

	for _, ev := range c.events {
		if ev.IsRemove() {
			m.remove(src, ev.Index)
		} else {
			m.upsert(src, ev.WithoutFlags())
		}
	}
}

func (m *ListModel[P]) upsert(src *listSource[P], ev event.Event[P]) {
	i, found := src.find(ev.Index)
	var entry *Entry[P]
	if found {
		entry = src.entries[i]
	} else {
		entry = &Entry[P]{sourceID: src.id, index: ev.Index}
		src.entries = slices.Insert(src.entries, i, entry)
		m.size++
	}
	m.makeChanged(entry)
	entry.newValue = &ev
}

func (m *ListModel[P]) remove(src *listSource[P], index int64) {
	i, found := src.find(index)
	if !found {
		return
	}
	m.markRemoved(src.entries[i])
	src.entries = slices.Delete(src.entries, i, i+1)
	m.size--
}

// enforceSizeLimit evicts from the global front until the list fits
func (m *ListModel[P]) enforceSizeLimit() {
	si := 0
	for m.size > m.limit {
		for len(m.lists[si].entries) == 0 {
			si++
		}
		src := m.lists[si]
		m.markRemoved(src.entries[0])
		src.entries = slices.Delete(src.entries, 0, 1)
		m.size--
		telemetry.EvictionsTotal.Inc()
	}
}

func (m *ListModel[P]) makeChanged(e *Entry[P]) {
	if e.changed {
		return
	}
	e.changed = true
	e.newValue = e.value
	m.changed = append(m.changed, e)
}

func (m *ListModel[P]) markRemoved(e *Entry[P]) {
	m.makeChanged(e)
	e.newValue = nil
}

// notifyChanged delivers the changed entries to every listener, then
// commits them even when a listener fails.
func (m *ListModel[P]) notifyChanged() error {
	if len(m.changed) == 0 {
		return nil
	}
	m.delivering.Store(true)
	defer func() {
		m.delivering.Store(false)
		m.commitChanged()
	}()

	change := Change[P]{model: m, entries: m.changed}
	var errs []error
	for _, l := range m.listeners.snapshot() {
		if err := callSafely(func() error { return l.fn(change) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *ListModel[P]) commitChanged() {
	for _, e := range m.changed {
		e.commit()
	}
	m.changed = nil
}

func (m *ListModel[P]) updateStats() {
	m.statEntries.Store(int64(m.size))
	m.statPending.Store(int64(m.processor.pending()))
}

// Size returns the number of entries. Delivery context only.
func (m *ListModel[P]) Size() int {
	return m.size
}

// Get returns the latest value at global position i. Delivery context only.
func (m *ListModel[P]) Get(i int) (event.Event[P], error) {
	e, err := m.EntryAt(i)
	if err != nil {
		return event.Event[P]{}, err
	}
	return e.current(), nil
}

// EntryAt returns the entry at global position i. Delivery context only.
func (m *ListModel[P]) EntryAt(i int) (*Entry[P], error) {
	if i < 0 || i >= m.size {
		return nil, &IndexOutOfRangeError{Index: i, Size: m.size}
	}
	for _, src := range m.lists {
		if i < len(src.entries) {
			return src.entries[i], nil
		}
		i -= len(src.entries)
	}
	return nil, &IndexOutOfRangeError{Index: i, Size: m.size}
}

// All iterates positions and latest values in global order. Delivery context only.
func (m *ListModel[P]) All() iter.Seq2[int, event.Event[P]] {
	return func(yield func(int, event.Event[P]) bool) {
		for i, e := range m.Entries() {
			if !yield(i, e.current()) {
				return
			}
		}
	}
}

// Entries iterates positions and entries in global order. Delivery context only.
func (m *ListModel[P]) Entries() iter.Seq2[int, *Entry[P]] {
	return func(yield func(int, *Entry[P]) bool) {
		pos := 0
		for _, src := range m.lists {
			for _, e := range src.entries {
				if !yield(pos, e) {
					return
				}
				pos++
			}
		}
	}
}

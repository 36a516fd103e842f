package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/devexperts/QD-sub016/event"
	"github.com/devexperts/QD-sub016/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultBatchLimit is the default maximum number of events per delivery
const DefaultBatchLimit = 100

// Listener receives batches of events for a subscription.
// Batches for one subscription are delivered one at a time, never concurrently.
type Listener[P any] func(events []event.Event[P]) error

// Feed is anything a subscription can be attached to
type Feed[P any] interface {
	AttachSubscription(sub *Subscription[P])
	DetachSubscription(sub *Subscription[P])
}

// Subscription selects events by symbol (and optionally source id) and
// delivers them to a single listener.
type Subscription[P any] struct {
	listener Listener[P]

	mu          sync.RWMutex
	symbols     map[string]struct{}
	sources     map[int]struct{} // empty = all sources
	batchLimit  int
	aggregation time.Duration
	feeds       map[Feed[P]]struct{}
	flushStop   chan struct{}
	flushDone   chan struct{}

	bufMu  sync.Mutex
	buffer []event.Event[P]

	deliverMu sync.Mutex

	closed atomic.Bool
}

// NewSubscription creates a detached subscription with no symbols
func NewSubscription[P any](listener Listener[P]) *Subscription[P] {
	return &Subscription[P]{
		listener:   listener,
		symbols:    make(map[string]struct{}),
		sources:    make(map[int]struct{}),
		batchLimit: DefaultBatchLimit,
		feeds:      make(map[Feed[P]]struct{}),
	}
}

// Attach attaches the subscription to a feed
func (s *Subscription[P]) Attach(f Feed[P]) {
	f.AttachSubscription(s)
}

// Detach detaches the subscription from a feed
func (s *Subscription[P]) Detach(f Feed[P]) {
	f.DetachSubscription(s)
}

// SetSymbols replaces the subscribed symbol set
func (s *Subscription[P]) SetSymbols(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		s.symbols[sym] = struct{}{}
	}
}

// AddSymbols adds symbols to the subscribed set
func (s *Subscription[P]) AddSymbols(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		s.symbols[sym] = struct{}{}
	}
}

// Clear removes all symbols and drops any aggregated events
func (s *Subscription[P]) Clear() {
	s.mu.Lock()
	s.symbols = make(map[string]struct{})
	s.mu.Unlock()

	s.bufMu.Lock()
	s.buffer = nil
	s.bufMu.Unlock()
}

// Symbols returns the subscribed symbols in no particular order
func (s *Subscription[P]) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		result = append(result, sym)
	}
	return result
}

// SetSources restricts the subscription to the given source ids (none = all)
func (s *Subscription[P]) SetSources(sourceIDs ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = make(map[int]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		s.sources[id] = struct{}{}
	}
}

// EventsBatchLimit returns the maximum number of events per delivery
func (s *Subscription[P]) EventsBatchLimit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchLimit
}

// SetEventsBatchLimit sets the maximum number of events per delivery.
// Non-positive values restore DefaultBatchLimit.
func (s *Subscription[P]) SetEventsBatchLimit(limit int) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	s.mu.Lock()
	s.batchLimit = limit
	s.mu.Unlock()
}

// AggregationPeriod returns the aggregation period (0 = immediate delivery)
func (s *Subscription[P]) AggregationPeriod() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aggregation
}

// SetAggregationPeriod sets how long events are buffered before delivery.
// Zero delivers immediately on publish.
func (s *Subscription[P]) SetAggregationPeriod(period time.Duration) {
	if period < 0 {
		period = 0
	}

	s.mu.Lock()
	if s.aggregation == period {
		s.mu.Unlock()
		return
	}
	s.aggregation = period
	stop, done := s.flushStop, s.flushDone
	s.flushStop, s.flushDone = nil, nil
	if period > 0 && !s.closed.Load() {
		s.flushStop = make(chan struct{})
		s.flushDone = make(chan struct{})
		go s.flushLoop(period, s.flushStop, s.flushDone)
	}
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if period == 0 {
		s.flush()
	}
}

// Close permanently detaches the subscription from all feeds
func (s *Subscription[P]) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	feeds := make([]Feed[P], 0, len(s.feeds))
	for f := range s.feeds {
		feeds = append(feeds, f)
	}
	stop, done := s.flushStop, s.flushDone
	s.flushStop, s.flushDone = nil, nil
	s.mu.Unlock()

	for _, f := range feeds {
		f.DetachSubscription(s)
	}
	if stop != nil {
		close(stop)
		<-done
	}

	s.bufMu.Lock()
	s.buffer = nil
	s.bufMu.Unlock()
}

// IsClosed reports whether Close was called
func (s *Subscription[P]) IsClosed() bool {
	return s.closed.Load()
}

func (s *Subscription[P]) addFeed(f Feed[P]) {
	s.mu.Lock()
	s.feeds[f] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscription[P]) removeFeed(f Feed[P]) {
	s.mu.Lock()
	delete(s.feeds, f)
	s.mu.Unlock()
}

// filter returns the events this subscription is interested in
func (s *Subscription[P]) filter(events []event.Event[P]) []event.Event[P] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.symbols) == 0 {
		return nil
	}

	var matched []event.Event[P]
	for _, e := range events {
		if _, ok := s.symbols[e.Symbol]; !ok {
			continue
		}
		if len(s.sources) > 0 {
			if _, ok := s.sources[e.SourceID]; !ok {
				continue
			}
		}
		matched = append(matched, e)
	}
	return matched
}

// offer either buffers events for the aggregation loop or delivers them now
func (s *Subscription[P]) offer(events []event.Event[P]) {
	if s.closed.Load() {
		return
	}
	if s.AggregationPeriod() > 0 {
		s.bufMu.Lock()
		s.buffer = append(s.buffer, events...)
		s.bufMu.Unlock()
		return
	}
	s.deliver(events)
}

func (s *Subscription[P]) flushLoop(period time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-stop:
			return
		}
	}
}

func (s *Subscription[P]) flush() {
	s.bufMu.Lock()
	events := s.buffer
	s.buffer = nil
	s.bufMu.Unlock()

	if len(events) > 0 && !s.closed.Load() {
		s.deliver(events)
	}
}

// deliver hands events to the listener in chunks of at most the batch limit
func (s *Subscription[P]) deliver(events []event.Event[P]) {
	limit := s.EventsBatchLimit()

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	for len(events) > 0 {
		n := min(limit, len(events))
		chunk := events[:n:n]
		events = events[n:]

		telemetry.FeedDeliveriesTotal.Inc()
		if err := s.listener(chunk); err != nil {
			log.Warn().
				Err(err).
				Int("events", len(chunk)).
				Msg("Subscription listener failed")
		}
	}
}

package model

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devexperts/QD-sub016/event"
	"github.com/devexperts/QD-sub016/feed"
	"github.com/devexperts/QD-sub016/telemetry"
	"github.com/rs/zerolog/log"
)

// TxListener receives each completed transaction exactly once.
// Calls are never concurrent.
type TxListener[P any] func(tx Transaction[P]) error

// TxModelConfig configures a TxModel
type TxModelConfig[P any] struct {
	// Feed is attached at construction when set
	Feed feed.Feed[P]
	// Symbol is the single symbol the model processes (required)
	Symbol string
	// Sources restricts the subscription to these source ids; empty means all
	Sources []int
	// Listener receives completed transactions (required)
	Listener TxListener[P]
	// EventsBatchLimit caps events per delivered batch; 0 uses feed.DefaultBatchLimit
	EventsBatchLimit int
	// AggregationPeriod delays delivery to coalesce bursts; 0 delivers immediately
	AggregationPeriod time.Duration
	// Executor runs notifications; nil notifies on the processing goroutine
	Executor Executor
	// ErrorHandler receives listener errors raised outside a synchronous ProcessEvents call
	ErrorHandler ErrorHandler
	// IsSnapshotEnd overrides which flags complete a snapshot; nil uses DefaultSnapshotEnd
	IsSnapshotEnd func(event.Flags) bool
}

// TxModel turns the raw event stream of one symbol into snapshot and
// update transactions.
type TxModel[P any] struct {
	symbol   string
	sources  []int
	listener TxListener[P]

	processor    *processor[P]
	dispatcher   *dispatcher
	subscription *feed.Subscription[P]
	pending      atomic.Int64

	lifecycle sync.Mutex
	closed    atomic.Bool
}

// NewTxModel creates a transaction model and attaches it to c.Feed when set
func NewTxModel[P any](c TxModelConfig[P]) (*TxModel[P], error) {
	if c.Listener == nil {
		return nil, ErrListenerRequired
	}
	if c.Symbol == "" {
		return nil, ErrSymbolRequired
	}

	m := &TxModel[P]{
		symbol:    c.Symbol,
		sources:   slices.Clone(c.Sources),
		listener:  c.Listener,
		processor: newProcessor[P](c.IsSnapshotEnd),
	}
	m.dispatcher = newDispatcher(c.Executor, c.ErrorHandler, m.Symbol)

	m.subscription = feed.NewSubscription[P](m.ProcessEvents)
	m.subscription.SetSymbols(c.Symbol)
	m.subscription.SetSources(c.Sources...)
	m.subscription.SetEventsBatchLimit(c.EventsBatchLimit)
	m.subscription.SetAggregationPeriod(c.AggregationPeriod)

	if c.Feed != nil {
		if err := m.Attach(c.Feed); err != nil {
			return nil, err
		}
	}

	log.Debug().
		Str("symbol", m.symbol).
		Ints("sources", m.sources).
		Msg("Transaction model created")
	return m, nil
}

// Symbol returns the processed symbol
func (m *TxModel[P]) Symbol() string {
	return m.symbol
}

// Sources returns the source filter (empty = all sources)
func (m *TxModel[P]) Sources() []int {
	return slices.Clone(m.sources)
}

// Subscription returns the feed subscription driving the model
func (m *TxModel[P]) Subscription() *feed.Subscription[P] {
	return m.subscription
}

// Stats reports entries (always 0 for a transaction model) and buffered events
func (m *TxModel[P]) Stats() (entries, pending int) {
	return 0, int(m.pending.Load())
}

// ProcessEvents scans one batch and notifies the listener of every
// transaction it completes, in discovery order. Batches must not overlap.
// Without an executor, listener failures are joined and returned after all
// notifications ran.
func (m *TxModel[P]) ProcessEvents(events []event.Event[P]) error {
	if m.closed.Load() || len(events) == 0 {
		return nil
	}

	start := time.Now()
	telemetry.EventsReceivedTotal.With("tx").Add(float64(len(events)))
	telemetry.BatchSizeEvents.Observe(float64(len(events)))

	found := m.processor.scan(forSymbol(events, m.symbol))
	m.pending.Store(int64(m.processor.pending()))

	notifications := make([]func() error, 0, len(found))
	for _, c := range found {
		tx := c.transaction()
		telemetry.TransactionsTotal.With(tx.Kind()).Inc()
		notifications = append(notifications, func() error {
			return m.listener(tx)
		})
	}

	err := m.dispatcher.dispatch(notifications...)
	telemetry.BatchDurationSeconds.With("tx").Observe(time.Since(start).Seconds())
	return err
}

// Attach starts receiving events from f
func (m *TxModel[P]) Attach(f feed.Feed[P]) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.closed.Load() {
		return ErrModelClosed
	}
	m.subscription.Attach(f)
	return nil
}

// Detach stops receiving events from f
func (m *TxModel[P]) Detach(f feed.Feed[P]) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.subscription.Detach(f)
}

// SetExecutor changes where future notifications run; nil notifies synchronously
func (m *TxModel[P]) SetExecutor(executor Executor) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.dispatcher.setExecutor(executor)
}

// Close detaches the model from every feed. Closing is permanent.
func (m *TxModel[P]) Close() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	m.subscription.Close()
	log.Debug().Str("symbol", m.symbol).Msg("Transaction model closed")
}

// IsClosed reports whether Close was called
func (m *TxModel[P]) IsClosed() bool {
	return m.closed.Load()
}

// forSymbol drops events of other symbols, avoiding a copy when all match
func forSymbol[P any](events []event.Event[P], symbol string) []event.Event[P] {
	for i, e := range events {
		if e.Symbol == symbol {
			continue
		}
		out := slices.Clone(events[:i])
		for _, e := range events[i+1:] {
			if e.Symbol == symbol {
				out = append(out, e)
			}
		}
		return out
	}
	return events
}

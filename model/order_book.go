package model

import (
	"cmp"
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/devexperts/QD-sub016/event"
	"github.com/devexperts/QD-sub016/feed"
	"github.com/rs/zerolog/log"
)

// Side of the book an order rests on
type Side int8

const (
	SideBuy Side = iota + 1
	SideSell
)

// Scope is the aggregation level of an order, widest first
type Scope int8

const (
	ScopeComposite Scope = iota
	ScopeRegional
	ScopeAggregate
	ScopeOrder
)

// Filter selects the scopes an order book shows
type Filter uint8

const (
	FilterComposite Filter = 1 << ScopeComposite
	FilterRegional  Filter = 1 << ScopeRegional
	FilterAggregate Filter = 1 << ScopeAggregate
	FilterOrder     Filter = 1 << ScopeOrder

	FilterCompositeRegional          = FilterComposite | FilterRegional
	FilterCompositeRegionalAggregate = FilterCompositeRegional | FilterAggregate
	FilterAll                        = FilterCompositeRegionalAggregate | FilterOrder
)

// Allows reports whether orders of scope s pass the filter
func (f Filter) Allows(s Scope) bool {
	return f&(1<<s) != 0
}

// Order is what the book needs to know about an event payload
type Order struct {
	Side  Side
	Scope Scope
	Price float64
	Size  float64
	// Sequence ranks orders of equal price, lower first
	Sequence    int64
	Exchange    byte
	MarketMaker string
}

// BookOrder is one order resting on a side of the book.
// Size of non-individual orders is already multiplied by the lot size.
type BookOrder[P any] struct {
	Order
	Event event.Event[P]
}

// BookListener is notified once per batch that changed either side
type BookListener[P any] func(change BookChange[P]) error

// BookChange describes one notification cycle of an OrderBook
type BookChange[P any] struct {
	book      *OrderBook[P]
	buy, sell bool
}

// Book returns the order book that changed
func (c BookChange[P]) Book() *OrderBook[P] {
	return c.book
}

// BuyChanged reports whether the buy side changed
func (c BookChange[P]) BuyChanged() bool {
	return c.buy
}

// SellChanged reports whether the sell side changed
func (c BookChange[P]) SellChanged() bool {
	return c.sell
}

// OrderBookConfig configures an OrderBook
type OrderBookConfig[P any] struct {
	// Feed is attached at construction when set
	Feed feed.Feed[P]
	// Symbol to build the book for; empty leaves the book unsubscribed
	Symbol string
	// Sources restricts the subscription to these source ids; empty means all
	Sources []int
	// Describe extracts the order attributes of an event (required)
	Describe func(event.Event[P]) Order
	// Filter selects visible scopes; 0 uses FilterAll
	Filter Filter
	// LotSize multiplies the size of non-individual orders; 0 uses 1
	LotSize int
	// Listener is registered at construction when set
	Listener BookListener[P]
	// EventsBatchLimit caps events per delivered batch; 0 uses feed.DefaultBatchLimit
	EventsBatchLimit int
	// AggregationPeriod delays delivery to coalesce bursts; 0 delivers immediately
	AggregationPeriod time.Duration
	// Executor runs batches and notifications; nil runs them on the calling goroutine
	Executor Executor
	// ErrorHandler receives listener errors raised outside a synchronous call
	ErrorHandler ErrorHandler
}

type orderKey struct {
	source int
	index  int64
}

// OrderBook splits the orders of one symbol into a buy side sorted by
// descending price and a sell side sorted by ascending price. At one price,
// aggregated levels come before individual orders.
//
// A wider scope is hidden while narrower data covering it is shown: the
// composite quote while any other order is visible, an exchange's regional
// quote while that exchange has aggregates or orders, and a market maker's
// aggregate while it has individual orders.
//
// The book shares the delivery context of the ListModel it is built on.
// Buy and Sell must only be used from there, for example from a listener.
type OrderBook[P any] struct {
	list      *ListModel[P]
	describe  func(event.Event[P]) Order
	listeners listenerList[BookChange[P]]

	filter  atomic.Uint32
	lotSize atomic.Int64

	// delivery context state
	orders map[orderKey]*BookOrder[P]
	buy    bookSide[P]
	sell   bookSide[P]
}

// NewOrderBook creates an order book and attaches it to c.Feed when set
func NewOrderBook[P any](c OrderBookConfig[P]) (*OrderBook[P], error) {
	if c.Describe == nil {
		return nil, ErrDescribeRequired
	}
	if c.LotSize < 0 {
		return nil, ErrInvalidLotSize
	}
	filter := c.Filter
	if filter == 0 {
		filter = FilterAll
	}
	lotSize := max(c.LotSize, 1)

	b := &OrderBook[P]{
		describe: c.Describe,
		orders:   make(map[orderKey]*BookOrder[P]),
		buy:      bookSide[P]{compare: compareBuy[P]},
		sell:     bookSide[P]{compare: compareSell[P]},
	}
	b.filter.Store(uint32(filter))
	b.lotSize.Store(int64(lotSize))
	if c.Listener != nil {
		b.AddListener(c.Listener)
	}

	list, err := NewListModel(ListModelConfig[P]{
		Symbol:            c.Symbol,
		Sources:           c.Sources,
		Listener:          b.modelChanged,
		EventsBatchLimit:  c.EventsBatchLimit,
		AggregationPeriod: c.AggregationPeriod,
		Executor:          c.Executor,
		ErrorHandler:      c.ErrorHandler,
	})
	if err != nil {
		return nil, err
	}
	b.list = list

	if c.Feed != nil {
		if err := list.Attach(c.Feed); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Symbol returns the current symbol, empty when unsubscribed
func (b *OrderBook[P]) Symbol() string {
	return b.list.Symbol()
}

// SetSymbol switches the book to another symbol; both sides are emptied first
func (b *OrderBook[P]) SetSymbol(symbol string) error {
	return b.list.SetSymbol(symbol)
}

// Clear unsubscribes and empties both sides
func (b *OrderBook[P]) Clear() error {
	return b.list.Clear()
}

// Stats reports the number of known orders and buffered events. Safe from any goroutine.
func (b *OrderBook[P]) Stats() (entries, pending int) {
	return b.list.Stats()
}

// Filter returns the visible scopes
func (b *OrderBook[P]) Filter() Filter {
	return Filter(b.filter.Load())
}

// SetFilter changes the visible scopes and rebuilds both sides
func (b *OrderBook[P]) SetFilter(filter Filter) error {
	if filter == 0 {
		filter = FilterAll
	}
	if Filter(b.filter.Swap(uint32(filter))) == filter {
		return nil
	}
	return b.list.dispatcher.dispatch(b.rebuild)
}

// LotSize returns the multiplier applied to non-individual order sizes
func (b *OrderBook[P]) LotSize() int {
	return int(b.lotSize.Load())
}

// SetLotSize changes the lot size and rebuilds both sides
func (b *OrderBook[P]) SetLotSize(lotSize int) error {
	if lotSize < 1 {
		return ErrInvalidLotSize
	}
	if int(b.lotSize.Swap(int64(lotSize))) == lotSize {
		return nil
	}
	return b.list.dispatcher.dispatch(b.rebuild)
}

// AddListener registers l and returns a function that removes it.
// Listeners added after Close are ignored.
func (b *OrderBook[P]) AddListener(l BookListener[P]) (cancel func()) {
	if b.list != nil && b.list.IsClosed() {
		return func() {}
	}
	return b.listeners.add(l)
}

// Buy returns the visible buy orders, best price first. Delivery context only.
func (b *OrderBook[P]) Buy() []*BookOrder[P] {
	return slices.Clone(b.buy.visible)
}

// Sell returns the visible sell orders, best price first. Delivery context only.
func (b *OrderBook[P]) Sell() []*BookOrder[P] {
	return slices.Clone(b.sell.visible)
}

// ProcessEvents applies one batch, see ListModel.ProcessEvents
func (b *OrderBook[P]) ProcessEvents(events []event.Event[P]) error {
	return b.list.ProcessEvents(events)
}

// Inspect runs fn in the delivery context and waits for it, see ListModel.Inspect
func (b *OrderBook[P]) Inspect(ctx context.Context, fn func(b *OrderBook[P])) error {
	return b.list.Inspect(ctx, func(*ListModel[P]) { fn(b) })
}

// Attach starts receiving events from f
func (b *OrderBook[P]) Attach(f feed.Feed[P]) error {
	return b.list.Attach(f)
}

// Detach stops receiving events from f
func (b *OrderBook[P]) Detach(f feed.Feed[P]) {
	b.list.Detach(f)
}

// SetExecutor changes where future batches run; nil runs them on the caller
func (b *OrderBook[P]) SetExecutor(executor Executor) {
	b.list.SetExecutor(executor)
}

// Close detaches the book, empties both sides with one final notification
// and drops all listeners
func (b *OrderBook[P]) Close() error {
	err := b.list.Close()
	// queued behind the final notification
	err = errors.Join(err, b.list.dispatcher.dispatch(func() error {
		b.listeners.clear()
		return nil
	}))
	log.Debug().Msg("Order book closed")
	return err
}

// IsClosed reports whether Close was called
func (b *OrderBook[P]) IsClosed() bool {
	return b.list.IsClosed()
}

// modelChanged moves every changed entry of the underlying list between sides
func (b *OrderBook[P]) modelChanged(change Change[P]) error {
	for _, e := range change.Entries() {
		key := orderKey{e.SourceID(), e.Index()}
		if old, ok := b.orders[key]; ok {
			b.side(old.Side).remove(old)
			delete(b.orders, key)
		}
		if ev, ok := e.NewValue(); ok {
			b.add(key, ev)
		}
	}
	return b.endChange()
}

func (b *OrderBook[P]) add(key orderKey, ev event.Event[P]) {
	o := &BookOrder[P]{Order: b.describe(ev), Event: ev}
	if !hasSize(o.Size) && o.Scope != ScopeComposite {
		return
	}
	if o.Scope != ScopeOrder {
		o.Size *= float64(b.LotSize())
	}
	b.orders[key] = o
	b.side(o.Side).insert(o)
}

// rebuild re-describes every known order under the current lot size and filter
func (b *OrderBook[P]) rebuild() error {
	known := make([]event.Event[P], 0, len(b.orders))
	for _, o := range b.orders {
		known = append(known, o.Event)
	}
	b.buy.reset()
	b.sell.reset()
	clear(b.orders)
	for _, ev := range known {
		b.add(orderKey{ev.SourceID, ev.Index}, ev)
	}
	return b.endChange()
}

func (b *OrderBook[P]) side(s Side) *bookSide[P] {
	if s == SideBuy {
		return &b.buy
	}
	return &b.sell
}

// endChange refreshes the changed sides and notifies listeners
func (b *OrderBook[P]) endChange() error {
	filter := b.Filter()
	change := BookChange[P]{book: b, buy: b.buy.changed, sell: b.sell.changed}
	if !change.buy && !change.sell {
		return nil
	}
	for _, s := range []*bookSide[P]{&b.buy, &b.sell} {
		if s.changed {
			s.refresh(filter)
			s.changed = false
		}
	}

	// rebuilds notify outside the list's own delivery
	was := b.list.delivering.Swap(true)
	defer b.list.delivering.Store(was)

	var errs []error
	for _, l := range b.listeners.snapshot() {
		if err := callSafely(func() error { return l.fn(change) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func hasSize(size float64) bool {
	return size != 0 && !math.IsNaN(size)
}

// bookSide keeps every order of one side sorted and the visible subset
type bookSide[P any] struct {
	compare func(a, b *BookOrder[P]) int
	orders  []*BookOrder[P]
	visible []*BookOrder[P]
	changed bool
}

func (s *bookSide[P]) insert(o *BookOrder[P]) {
	i, _ := slices.BinarySearchFunc(s.orders, o, s.compare)
	s.orders = slices.Insert(s.orders, i, o)
	s.changed = true
}

func (s *bookSide[P]) remove(o *BookOrder[P]) {
	i, found := slices.BinarySearchFunc(s.orders, o, s.compare)
	if !found || s.orders[i] != o {
		return
	}
	s.orders = slices.Delete(s.orders, i, i+1)
	s.changed = true
}

func (s *bookSide[P]) reset() {
	s.changed = s.changed || len(s.orders) > 0
	s.orders = nil
}

type makerKey struct {
	exchange byte
	maker    string
}

func (s *bookSide[P]) refresh(filter Filter) {
	detailed := make(map[byte]bool)
	individual := make(map[makerKey]bool)
	for _, o := range s.orders {
		if !filter.Allows(o.Scope) {
			continue
		}
		switch o.Scope {
		case ScopeOrder:
			individual[makerKey{o.Exchange, o.MarketMaker}] = true
			detailed[o.Exchange] = true
		case ScopeAggregate:
			detailed[o.Exchange] = true
		}
	}

	var visible, composite []*BookOrder[P]
	for _, o := range s.orders {
		if !filter.Allows(o.Scope) {
			continue
		}
		switch o.Scope {
		case ScopeComposite:
			composite = append(composite, o)
			continue
		case ScopeRegional:
			if detailed[o.Exchange] {
				continue
			}
		case ScopeAggregate:
			if individual[makerKey{o.Exchange, o.MarketMaker}] {
				continue
			}
		}
		visible = append(visible, o)
	}
	if len(visible) == 0 {
		visible = composite
	}
	s.visible = visible
}

func compareBuy[P any](a, b *BookOrder[P]) int {
	return cmp.Or(cmp.Compare(b.Price, a.Price), compareLevel(a, b))
}

func compareSell[P any](a, b *BookOrder[P]) int {
	return cmp.Or(cmp.Compare(a.Price, b.Price), compareLevel(a, b))
}

// compareLevel orders two orders of equal price
func compareLevel[P any](a, b *BookOrder[P]) int {
	ai, bi := a.Scope == ScopeOrder, b.Scope == ScopeOrder
	switch {
	case ai && bi:
		return cmp.Or(
			cmp.Compare(a.Sequence, b.Sequence),
			compareKey(a, b),
		)
	case ai:
		return 1
	case bi:
		return -1
	}
	return cmp.Or(
		cmp.Compare(b.Size, a.Size),
		cmp.Compare(a.Sequence, b.Sequence),
		cmp.Compare(a.Scope, b.Scope),
		cmp.Compare(a.Exchange, b.Exchange),
		strings.Compare(a.MarketMaker, b.MarketMaker),
		compareKey(a, b),
	)
}

func compareKey[P any](a, b *BookOrder[P]) int {
	return cmp.Or(
		cmp.Compare(a.Event.Index, b.Event.Index),
		cmp.Compare(a.Event.SourceID, b.Event.SourceID),
	)
}

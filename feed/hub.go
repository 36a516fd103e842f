// Package feed is the in-process subscription layer: producers publish
// batches of indexed events into a Hub and attached subscriptions receive
// the events matching their symbols, one batch at a time.
package feed

import (
	"sync/atomic"

	"github.com/devexperts/QD-sub016/event"
	"github.com/devexperts/QD-sub016/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Hub implements Feed.
// Thread-safe fan-out of published event batches to subscriptions.
type Hub[P any] struct {
	subscriptions *xsync.MapOf[*Subscription[P], struct{}]
	closed        atomic.Bool
}

// NewHub creates a new event hub
func NewHub[P any]() *Hub[P] {
	return &Hub[P]{
		subscriptions: xsync.NewMapOf[*Subscription[P], struct{}](),
	}
}

// AttachSubscription starts delivering matching events to sub.
// Closed subscriptions and closed hubs are ignored.
func (h *Hub[P]) AttachSubscription(sub *Subscription[P]) {
	if h.closed.Load() || sub.IsClosed() {
		return
	}
	if _, loaded := h.subscriptions.LoadOrStore(sub, struct{}{}); loaded {
		return
	}
	sub.addFeed(h)
	telemetry.FeedSubscriptions.Inc()
}

// DetachSubscription stops delivering events to sub
func (h *Hub[P]) DetachSubscription(sub *Subscription[P]) {
	if _, ok := h.subscriptions.LoadAndDelete(sub); !ok {
		return
	}
	sub.removeFeed(h)
	telemetry.FeedSubscriptions.Dec()
}

// Publish routes events to every subscription interested in them and
// returns the number of subscriptions that received events.
func (h *Hub[P]) Publish(events []event.Event[P]) int {
	if len(events) == 0 || h.closed.Load() {
		return 0
	}

	delivered := 0
	h.subscriptions.Range(func(sub *Subscription[P], _ struct{}) bool {
		matched := sub.filter(events)
		if len(matched) == 0 {
			return true
		}
		sub.offer(matched)
		delivered++
		return true
	})
	return delivered
}

// Size returns the number of attached subscriptions
func (h *Hub[P]) Size() int {
	return h.subscriptions.Size()
}

// Close detaches every subscription; further publishes are dropped
func (h *Hub[P]) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}

	count := 0
	h.subscriptions.Range(func(sub *Subscription[P], _ struct{}) bool {
		h.DetachSubscription(sub)
		count++
		return true
	})

	log.Debug().Int("subscriptions", count).Msg("Event hub closed")
}

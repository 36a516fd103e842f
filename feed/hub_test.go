package feed

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devexperts/QD-sub016/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	batches [][]event.Event[string]
}

func (c *collector) listen(events []event.Event[string]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, events)
	return nil
}

func (c *collector) count() (batches, events int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.batches {
		events += len(b)
	}
	return len(c.batches), events
}

func mk(symbol string, source int, index int64) event.Event[string] {
	return event.Event[string]{Symbol: symbol, SourceID: source, Index: index}
}

func TestPublishFiltersBySymbolAndSource(t *testing.T) {
	hub := NewHub[string]()
	defer hub.Close()

	all := &collector{}
	subAll := NewSubscription[string](all.listen)
	subAll.SetSymbols("IBM")
	hub.AttachSubscription(subAll)

	src2 := &collector{}
	subSrc := NewSubscription[string](src2.listen)
	subSrc.SetSymbols("IBM", "MSFT")
	subSrc.SetSources(2)
	subSrc.Attach(hub)

	delivered := hub.Publish([]event.Event[string]{
		mk("IBM", 1, 1),
		mk("IBM", 2, 1),
		mk("MSFT", 2, 1),
		mk("AAPL", 2, 1),
	})
	assert.Equal(t, 2, delivered)

	_, n := all.count()
	assert.Equal(t, 2, n)
	_, n = src2.count()
	assert.Equal(t, 2, n)
}

func TestSubscriptionWithoutSymbolsReceivesNothing(t *testing.T) {
	hub := NewHub[string]()
	c := &collector{}
	sub := NewSubscription[string](c.listen)
	hub.AttachSubscription(sub)

	assert.Zero(t, hub.Publish([]event.Event[string]{mk("IBM", 1, 1)}))

	sub.AddSymbols("IBM")
	assert.Equal(t, 1, hub.Publish([]event.Event[string]{mk("IBM", 1, 1)}))

	sub.Clear()
	assert.Empty(t, sub.Symbols())
	assert.Zero(t, hub.Publish([]event.Event[string]{mk("IBM", 1, 1)}))
}

func TestDeliveriesChunkedToBatchLimit(t *testing.T) {
	hub := NewHub[string]()
	c := &collector{}
	sub := NewSubscription[string](c.listen)
	sub.SetSymbols("IBM")
	sub.SetEventsBatchLimit(2)
	hub.AttachSubscription(sub)

	hub.Publish([]event.Event[string]{mk("IBM", 1, 1), mk("IBM", 1, 2), mk("IBM", 1, 3), mk("IBM", 1, 4), mk("IBM", 1, 5)})

	batches, events := c.count()
	assert.Equal(t, 3, batches)
	assert.Equal(t, 5, events)

	sub.SetEventsBatchLimit(0)
	assert.Equal(t, DefaultBatchLimit, sub.EventsBatchLimit())
}

func TestDeliveriesNeverOverlap(t *testing.T) {
	hub := NewHub[string]()
	var inFlight, maxInFlight atomic.Int32
	sub := NewSubscription[string](func(events []event.Event[string]) error {
		cur := inFlight.Add(1)
		if cur > maxInFlight.Load() {
			maxInFlight.Store(cur)
		}
		time.Sleep(50 * time.Microsecond)
		inFlight.Add(-1)
		return nil
	})
	sub.SetSymbols("IBM")
	hub.AttachSubscription(sub)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hub.Publish([]event.Event[string]{mk("IBM", 1, int64(i))})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestListenerErrorDoesNotStopDelivery(t *testing.T) {
	hub := NewHub[string]()
	calls := 0
	sub := NewSubscription[string](func(events []event.Event[string]) error {
		calls++
		return errors.New("listener failed")
	})
	sub.SetSymbols("IBM")
	sub.SetEventsBatchLimit(1)
	hub.AttachSubscription(sub)

	hub.Publish([]event.Event[string]{mk("IBM", 1, 1), mk("IBM", 1, 2)})
	assert.Equal(t, 2, calls)
}

func TestAggregationPeriod(t *testing.T) {
	hub := NewHub[string]()
	defer hub.Close()

	c := &collector{}
	sub := NewSubscription[string](c.listen)
	defer sub.Close()
	sub.SetSymbols("IBM")
	sub.SetAggregationPeriod(20 * time.Millisecond)
	hub.AttachSubscription(sub)

	hub.Publish([]event.Event[string]{mk("IBM", 1, 1)})
	hub.Publish([]event.Event[string]{mk("IBM", 1, 2)})
	batches, _ := c.count()
	assert.Zero(t, batches, "aggregated events wait for the ticker")

	require.Eventually(t, func() bool {
		_, n := c.count()
		return n == 2
	}, time.Second, 5*time.Millisecond)
	batches, _ = c.count()
	assert.Equal(t, 1, batches)

	// switching back to immediate delivery flushes what is buffered
	sub.SetAggregationPeriod(time.Hour)
	hub.Publish([]event.Event[string]{mk("IBM", 1, 3)})
	sub.SetAggregationPeriod(0)
	_, n := c.count()
	assert.Equal(t, 3, n)
}

func TestAttachDetachAndClose(t *testing.T) {
	hub := NewHub[string]()
	c := &collector{}
	sub := NewSubscription[string](c.listen)
	sub.SetSymbols("IBM")

	hub.AttachSubscription(sub)
	hub.AttachSubscription(sub)
	assert.Equal(t, 1, hub.Size())

	sub.Detach(hub)
	assert.Zero(t, hub.Size())
	assert.Zero(t, hub.Publish([]event.Event[string]{mk("IBM", 1, 1)}))

	hub.AttachSubscription(sub)
	sub.Close()
	assert.True(t, sub.IsClosed())
	assert.Zero(t, hub.Size(), "closing a subscription detaches it everywhere")

	hub.AttachSubscription(sub)
	assert.Zero(t, hub.Size(), "closed subscriptions cannot be attached")

	other := NewSubscription[string](c.listen)
	other.SetSymbols("IBM")
	hub.AttachSubscription(other)
	hub.Close()
	assert.Zero(t, hub.Size())
	assert.Zero(t, hub.Publish([]event.Event[string]{mk("IBM", 1, 1)}))
	hub.AttachSubscription(NewSubscription[string](c.listen))
	assert.Zero(t, hub.Size())
}

package model

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devexperts/QD-sub016/event"
	"github.com/devexperts/QD-sub016/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type txRecorder struct {
	mu  sync.Mutex
	txs []Transaction[quote]
	err error
}

func (r *txRecorder) listen(tx Transaction[quote]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
	return r.err
}

func (r *txRecorder) all() []Transaction[quote] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transaction[quote](nil), r.txs...)
}

func newTxModel(t *testing.T, rec *txRecorder) *TxModel[quote] {
	t.Helper()
	m, err := NewTxModel(TxModelConfig[quote]{Symbol: "IBM", Listener: rec.listen})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestNewTxModelValidation(t *testing.T) {
	_, err := NewTxModel(TxModelConfig[quote]{Symbol: "IBM"})
	assert.ErrorIs(t, err, ErrListenerRequired)

	_, err = NewTxModel(TxModelConfig[quote]{Listener: func(Transaction[quote]) error { return nil }})
	assert.ErrorIs(t, err, ErrSymbolRequired)
}

func TestTxModelUpdateBatching(t *testing.T) {
	rec := &txRecorder{}
	m := newTxModel(t, rec)

	require.NoError(t, m.ProcessEvents([]event.Event[quote]{
		ev(1, 7, event.TxPending, 1),
		ev(1, 9, 0, 2),
	}))

	txs := rec.all()
	require.Len(t, txs, 1)
	assert.False(t, txs[0].Snapshot)
	assert.Equal(t, []int64{7, 9}, indices(txs[0].Events))
	for _, e := range txs[0].Events {
		assert.Zero(t, e.Flags)
	}
}

func TestTxModelInterleavedSources(t *testing.T) {
	rec := &txRecorder{}
	m := newTxModel(t, rec)

	require.NoError(t, m.ProcessEvents([]event.Event[quote]{
		ev(1, 1, event.SnapshotBegin, 1),
		ev(1, 2, event.SnapshotEnd, 2),
		ev(2, 10, 0, 3),
	}))

	txs := rec.all()
	require.Len(t, txs, 2)
	assert.True(t, txs[0].Snapshot)
	assert.Equal(t, 1, txs[0].SourceID)
	assert.False(t, txs[1].Snapshot)
	assert.Equal(t, 2, txs[1].SourceID)
}

func TestTxModelSnapshotAcrossBatches(t *testing.T) {
	rec := &txRecorder{}
	m := newTxModel(t, rec)

	require.NoError(t, m.ProcessEvents([]event.Event[quote]{ev(1, 5, event.SnapshotBegin, 1), ev(1, 3, 0, 2)}))
	assert.Empty(t, rec.all(), "partial snapshot is never exposed")
	_, pending := m.Stats()
	assert.Equal(t, 2, pending)

	require.NoError(t, m.ProcessEvents([]event.Event[quote]{
		ev(1, 5, 0, 3),
		ev(1, 1, 0, 4),
		ev(1, 5, event.RemoveEvent|event.SnapshotEnd, 0),
	}))

	txs := rec.all()
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Snapshot)
	assert.Equal(t, []int64{3, 1}, indices(txs[0].Events))
}

func TestTxModelIgnoresOtherSymbols(t *testing.T) {
	rec := &txRecorder{}
	m := newTxModel(t, rec)

	other := ev(1, 1, 0, 1)
	other.Symbol = "MSFT"
	require.NoError(t, m.ProcessEvents([]event.Event[quote]{other, ev(1, 2, 0, 2)}))

	txs := rec.all()
	require.Len(t, txs, 1)
	assert.Equal(t, []int64{2}, indices(txs[0].Events))
}

func TestTxModelListenerFailureDoesNotStopDelivery(t *testing.T) {
	boom := errors.New("boom")
	var seen []int
	m, err := NewTxModel(TxModelConfig[quote]{
		Symbol: "IBM",
		Listener: func(tx Transaction[quote]) error {
			seen = append(seen, tx.SourceID)
			if tx.SourceID == 1 {
				return boom
			}
			return nil
		},
	})
	require.NoError(t, err)
	defer m.Close()

	err = m.ProcessEvents([]event.Event[quote]{ev(1, 1, 0, 1), ev(2, 1, 0, 1)})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2}, seen)

	// next batch processes normally
	require.NoError(t, m.ProcessEvents([]event.Event[quote]{ev(2, 2, 0, 1)}))
	assert.Equal(t, []int{1, 2, 2}, seen)
}

func TestTxModelExecutorHop(t *testing.T) {
	rec := &txRecorder{}
	var handled []error
	var queued []func()
	m, err := NewTxModel(TxModelConfig[quote]{
		Symbol:       "IBM",
		Listener:     rec.listen,
		Executor:     ExecutorFunc(func(task func()) { queued = append(queued, task) }),
		ErrorHandler: func(err error) { handled = append(handled, err) },
	})
	require.NoError(t, err)
	defer m.Close()

	rec.err = errors.New("listener down")
	require.NoError(t, m.ProcessEvents([]event.Event[quote]{ev(1, 1, 0, 1)}))
	assert.Empty(t, rec.all(), "delivery waits for the executor")

	require.Len(t, queued, 1)
	queued[0]()
	assert.Len(t, rec.all(), 1)
	require.Len(t, handled, 1)
	assert.ErrorIs(t, handled[0], rec.err)
}

func TestTxModelReceivesFromHub(t *testing.T) {
	hub := feed.NewHub[quote]()
	defer hub.Close()

	rec := &txRecorder{}
	m, err := NewTxModel(TxModelConfig[quote]{Feed: hub, Symbol: "IBM", Sources: []int{1}, Listener: rec.listen})
	require.NoError(t, err)

	hub.Publish([]event.Event[quote]{ev(1, 1, 0, 1), ev(2, 1, 0, 1)})
	txs := rec.all()
	require.Len(t, txs, 1)
	assert.Equal(t, 1, txs[0].SourceID)

	m.Close()
	assert.True(t, m.IsClosed())
	assert.Zero(t, hub.Size())
	assert.ErrorIs(t, m.Attach(hub), ErrModelClosed)

	hub.Publish([]event.Event[quote]{ev(1, 2, 0, 1)})
	assert.Len(t, rec.all(), 1)
	m.Close()
}

func TestTxModelAggregation(t *testing.T) {
	hub := feed.NewHub[quote]()
	defer hub.Close()

	rec := &txRecorder{}
	m, err := NewTxModel(TxModelConfig[quote]{
		Feed:              hub,
		Symbol:            "IBM",
		Listener:          rec.listen,
		AggregationPeriod: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer m.Close()

	hub.Publish([]event.Event[quote]{ev(1, 1, event.TxPending, 1)})
	hub.Publish([]event.Event[quote]{ev(1, 2, 0, 2)})

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2}, indices(rec.all()[0].Events))
}

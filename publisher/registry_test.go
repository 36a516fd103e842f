package publisher

import (
	"testing"
	"time"

	"github.com/devexperts/QD-sub016/cfg"
	"github.com/devexperts/QD-sub016/encoding"
	"github.com/devexperts/QD-sub016/event"
	"github.com/devexperts/QD-sub016/feed"
	"github.com/devexperts/QD-sub016/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryValidation(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})
	assert.Error(t, err)

	_, err = NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "carrier-pigeon", Format: "symbol"}},
	})
	assert.ErrorContains(t, err, "unknown sink type")

	_, err = NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "memory", Format: "xml"}},
	})
	assert.ErrorContains(t, err, "unknown format")
}

func TestRegistryRejectsDuplicateSink(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "dup", Type: "memory", Format: "symbol"}},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	assert.Error(t, r.AddSink(cfg.SinkConfiguration{Name: "dup", Type: "memory", Format: "symbol"}))
}

func TestRegistryAppendRequiresRunning(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{DataDir: t.TempDir()})
	require.NoError(t, err)

	assert.Error(t, r.Append(records("IBM")))

	require.NoError(t, r.Start())
	assert.Error(t, r.Start())
	assert.NoError(t, r.Append(records("IBM")))
	assert.Equal(t, uint64(1), r.LastSeq())
	r.Stop()
	r.Stop()
}

func TestRegistryFansOutToSinks(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{
		DataDir: t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{
			{Name: "fan-all", Type: "memory", Format: "symbol", PollIntervalMS: 5},
			{Name: "fan-ibm", Type: "memory", Format: "symbol", PollIntervalMS: 5, FilterSymbols: []string{"IBM"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	require.NoError(t, r.Append(records("IBM", "MSFT")))

	all, ibm := testSink("fan-all"), testSink("fan-ibm")
	require.Eventually(t, func() bool {
		c := r.Cursors()
		return c["fan-all"] == 2 && c["fan-ibm"] == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, all.all(), 2)
	assert.Len(t, ibm.all(), 1)
}

type payload = map[string]any

func TestTxListenerJournalsTransactions(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		NodeID:      9,
		SinkConfigs: []cfg.SinkConfiguration{{Name: "txl", Type: "memory", Format: "symbol", PollIntervalMS: 5}},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	hub := feed.NewHub[payload]()
	defer hub.Close()

	m, err := model.NewTxModel(model.TxModelConfig[payload]{
		Feed:     hub,
		Symbol:   "IBM",
		Listener: TxListener[payload](r, "IBM"),
	})
	require.NoError(t, err)
	defer m.Close()

	hub.Publish([]event.Event[payload]{
		{Symbol: "IBM", SourceID: 1, Index: 5, Flags: event.SnapshotBegin, Payload: payload{"bid": 1.5}},
		{Symbol: "IBM", SourceID: 1, Index: 4, Flags: event.SnapshotEnd, Payload: payload{"bid": 1.25}},
		{Symbol: "IBM", SourceID: 1, Index: 5, Flags: event.RemoveEvent},
	})

	require.Eventually(t, func() bool { return r.LastSeq() == 2 }, 2*time.Second, 5*time.Millisecond)

	got, err := r.journal.ReadFrom(0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	snapshot := got[0]
	assert.True(t, snapshot.Snapshot)
	assert.Equal(t, "IBM:1", snapshot.Key())
	assert.Equal(t, uint64(9), snapshot.NodeID)
	require.Len(t, snapshot.Events, 2)
	assert.Equal(t, int64(5), snapshot.Events[0].Index)

	var decoded any
	require.NoError(t, encoding.Unmarshal(snapshot.Events[0].Payload, &decoded))
	assert.Equal(t, map[string]any{"bid": 1.5}, decoded)

	update := got[1]
	assert.Equal(t, "update", update.Kind())
	assert.Greater(t, update.TxID, snapshot.TxID)
	assert.GreaterOrEqual(t, update.CommitTS, snapshot.CommitTS)
	require.Len(t, update.Events, 1)
	assert.True(t, update.Events[0].Removed)
	assert.Nil(t, update.Events[0].Payload)

	require.Eventually(t, func() bool { return r.Cursors()["txl"] == 2 }, 2*time.Second, 5*time.Millisecond)
}

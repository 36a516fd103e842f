package publisher

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, j *Journal, name string, sink Sink, filter Filter) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerConfig{
		Name:         name,
		Journal:      j,
		Sink:         sink,
		Transformer:  symbolTransformer{},
		Filter:       filter,
		TopicPrefix:  "txfeed",
		PollInterval: 5 * time.Millisecond,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	return w
}

func matchAll(t *testing.T) Filter {
	f, err := NewGlobFilter(nil, nil)
	require.NoError(t, err)
	return f
}

func TestNewWorkerValidation(t *testing.T) {
	j := openJournal(t, t.TempDir())
	defer j.Close()

	base := WorkerConfig{
		Name:        "s",
		Journal:     j,
		Sink:        &memorySink{},
		Transformer: symbolTransformer{},
		Filter:      matchAll(t),
	}

	for name, mutate := range map[string]func(*WorkerConfig){
		"name":        func(c *WorkerConfig) { c.Name = "" },
		"journal":     func(c *WorkerConfig) { c.Journal = nil },
		"sink":        func(c *WorkerConfig) { c.Sink = nil },
		"transformer": func(c *WorkerConfig) { c.Transformer = nil },
		"filter":      func(c *WorkerConfig) { c.Filter = nil },
	} {
		c := base
		mutate(&c)
		_, err := NewWorker(c)
		assert.Error(t, err, name)
	}

	w, err := NewWorker(base)
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, w.config.BatchSize)
	assert.Equal(t, DefaultMaxRetries, w.config.MaxRetries)
	assert.Equal(t, DefaultRetryMultiplier, w.config.RetryMultiplier)
}

func TestWorkerPublishesInOrder(t *testing.T) {
	j := openJournal(t, t.TempDir())
	defer j.Close()
	require.NoError(t, j.Append(records("IBM", "MSFT", "IBM")))

	sink := &memorySink{}
	w := newTestWorker(t, j, "mem", sink, matchAll(t))
	w.Start()

	require.Eventually(t, func() bool { return len(sink.all()) == 3 }, 2*time.Second, 5*time.Millisecond)
	w.Stop()

	got := sink.all()
	assert.Equal(t, "txfeed.IBM", got[0].topic)
	assert.Equal(t, "IBM:1", got[0].key)
	assert.Equal(t, "txfeed.MSFT", got[1].topic)
	assert.Equal(t, []byte("IBM"), got[2].value)

	cursor, err := j.Cursor("mem")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cursor)
	assert.Equal(t, uint64(3), w.Cursor())
	assert.True(t, sink.isClosed())
}

func TestWorkerSkipsFilteredAndUnencodableRecords(t *testing.T) {
	j := openJournal(t, t.TempDir())
	defer j.Close()
	require.NoError(t, j.Append(records("MSFT", "BAD", "IBM")))

	filter, err := NewGlobFilter([]string{"IBM", "BAD"}, nil)
	require.NoError(t, err)

	sink := &memorySink{}
	w := newTestWorker(t, j, "mem", sink, filter)
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return w.Cursor() == 3 }, 2*time.Second, 5*time.Millisecond)
	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "txfeed.IBM", got[0].topic)
}

func TestWorkerRetriesFailedPublish(t *testing.T) {
	j := openJournal(t, t.TempDir())
	defer j.Close()
	require.NoError(t, j.Append(records("IBM")))

	sink := &memorySink{failures: 3, err: errors.New("broker down")}
	w := newTestWorker(t, j, "mem", sink, matchAll(t))
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWorkerResumesFromCursor(t *testing.T) {
	j := openJournal(t, t.TempDir())
	defer j.Close()
	require.NoError(t, j.Append(records("A", "B", "C")))
	require.NoError(t, j.AdvanceCursor("mem", 2))

	sink := &memorySink{}
	w := newTestWorker(t, j, "mem", sink, matchAll(t))
	assert.Equal(t, uint64(2), w.Cursor())

	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("C"), sink.all()[0].value)
}

func TestWorkerStartStopIdempotent(t *testing.T) {
	j := openJournal(t, t.TempDir())
	defer j.Close()

	w := newTestWorker(t, j, "mem", &memorySink{}, matchAll(t))
	w.Stop()
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}

func TestBuildTopic(t *testing.T) {
	w := &Worker{config: WorkerConfig{TopicPrefix: "txfeed"}}
	assert.Equal(t, "txfeed.IBM", w.buildTopic("IBM"))

	w.config.TopicPrefix = ""
	assert.Equal(t, "IBM", w.buildTopic("IBM"))
}

package hlc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTime struct {
	mu sync.Mutex
	t  time.Time
}

func (m *manualTime) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *manualTime) set(t time.Time) {
	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
}

func TestClockNow(t *testing.T) {
	mt := &manualTime{t: time.UnixMilli(1_000)}
	clock := newClock(3, mt.now)

	ts1 := clock.Now()
	assert.Equal(t, Timestamp{WallMS: 1_000, Logical: 0, NodeID: 3}, ts1)

	ts2 := clock.Now()
	assert.Equal(t, Timestamp{WallMS: 1_000, Logical: 1, NodeID: 3}, ts2)

	mt.set(time.UnixMilli(1_005))
	ts3 := clock.Now()
	assert.Equal(t, Timestamp{WallMS: 1_005, Logical: 0, NodeID: 3}, ts3)
}

func TestClockSurvivesBackwardStep(t *testing.T) {
	mt := &manualTime{t: time.UnixMilli(5_000)}
	clock := newClock(1, mt.now)

	before := clock.Now()
	mt.set(time.UnixMilli(4_000))
	after := clock.Now()

	assert.Equal(t, 1, Compare(after, before))
	assert.Equal(t, int64(5_000), after.WallMS)
	assert.Greater(t, after.ID(), before.ID())
}

func TestClockLogicalOverflowBorrowsMillisecond(t *testing.T) {
	mt := &manualTime{t: time.UnixMilli(10)}
	clock := newClock(1, mt.now)

	var last Timestamp
	for range LogicalMask + 1 {
		last = clock.Now()
	}
	assert.Equal(t, int64(10), last.WallMS)
	assert.Equal(t, uint16(LogicalMask), last.Logical)

	next := clock.Now()
	assert.Equal(t, int64(11), next.WallMS)
	assert.Zero(t, next.Logical)
}

func TestClockMonotonicUnderConcurrency(t *testing.T) {
	clock := NewClock(1)

	const workers, perWorker = 8, 500
	ids := make(chan uint64, workers*perWorker)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				ids <- clock.Now().ID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]struct{}, workers*perWorker)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
}

func TestCompare(t *testing.T) {
	base := Timestamp{WallMS: 100, Logical: 5, NodeID: 2}

	tests := []struct {
		name  string
		other Timestamp
		want  int
	}{
		{"equal", base, 0},
		{"earlier wall", Timestamp{WallMS: 99, Logical: 9, NodeID: 9}, 1},
		{"later wall", Timestamp{WallMS: 101}, -1},
		{"lower logical", Timestamp{WallMS: 100, Logical: 4, NodeID: 9}, 1},
		{"higher node", Timestamp{WallMS: 100, Logical: 5, NodeID: 3}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(base, tt.other))
			assert.Equal(t, -tt.want, Compare(tt.other, base))
		})
	}
}

func TestTimestampID(t *testing.T) {
	ts := Timestamp{WallMS: 1, Logical: 7, NodeID: 65} // node id wraps to 6 bits
	assert.Equal(t, uint64(1)<<22|uint64(1)<<16|7, ts.ID())
	assert.Equal(t, time.UnixMilli(1), ts.Time())
}

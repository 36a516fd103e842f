package publisher

import (
	"encoding/binary"
	"fmt"
	"maps"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/devexperts/QD-sub016/encoding"
	"github.com/devexperts/QD-sub016/telemetry"
	"github.com/rs/zerolog/log"
)

// Key prefixes for Pebble storage
const (
	prefixTxLog    = "/txlog/"    // /txlog/{16-digit-zero-padded-seq}
	prefixTxCursor = "/txcursor/" // /txcursor/{sinkName}
	keyTxSeq       = "/txseq"     // /txseq -> uint64 (last assigned sequence)
)

// Pebble configuration constants
const (
	memTableSize                = 64 << 20 // 64MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	lBaseMaxBytes               = 256 << 20 // 256MB
	maxConcurrentCompactions    = 3
)

const (
	defaultReadLimit = 100
	compactMask      = 0x7F // compact when seq&compactMask == 0, i.e. every 128 records
)

var errJournalClosed = fmt.Errorf("journal is closed")

// Journal is a Pebble-backed append-only log of transaction records with
// per-sink read cursors.
type Journal struct {
	db   *pebble.DB
	path string

	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	lastSeq  atomic.Uint64
	appendMu sync.Mutex

	compactMu      sync.Mutex
	compactRunning atomic.Bool
	compactWg      sync.WaitGroup

	closed atomic.Bool
}

// OpenJournal creates or opens the journal under dataDir
func OpenJournal(dataDir string) (*Journal, error) {
	path := filepath.Join(dataDir, "tx_journal")

	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		LBaseMaxBytes:               lBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", path, err)
	}

	j := &Journal{
		db:      db,
		path:    path,
		cursors: make(map[string]uint64),
	}

	if err := j.loadLastSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}
	if err := j.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}

	return j, nil
}

func (j *Journal) loadLastSeq() error {
	val, closer, err := j.db.Get([]byte(keyTxSeq))
	if err == pebble.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	seq, err := decodeUint64(val)
	if err != nil {
		return err
	}
	j.lastSeq.Store(seq)
	return nil
}

func (j *Journal) loadCursors() error {
	prefix := []byte(prefixTxCursor)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		sink := string(iter.Key()[len(prefixTxCursor):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		cursor, err := decodeUint64(val)
		if err != nil {
			return fmt.Errorf("corrupted cursor for sink %s: %w", sink, err)
		}
		j.cursors[sink] = cursor
	}
	if err := iter.Error(); err != nil {
		return err
	}

	if len(j.cursors) > 0 {
		log.Info().Int("cursors", len(j.cursors)).Msg("Loaded journal cursors")
	}
	return nil
}

// Append assigns sequence numbers to records (in place) and stores them atomically
func (j *Journal) Append(records []TxRecord) error {
	if len(records) == 0 {
		return nil
	}
	if j.closed.Load() {
		return errJournalClosed
	}

	j.appendMu.Lock()
	defer j.appendMu.Unlock()

	seq := j.lastSeq.Load()
	batch := j.db.NewBatch()
	defer batch.Close()

	for i := range records {
		seq++
		records[i].SeqNum = seq

		val, err := encoding.Marshal(&records[i])
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if err := batch.Set([]byte(formatLogKey(seq)), val, nil); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	if err := batch.Set([]byte(keyTxSeq), encodeUint64(seq), nil); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	// Only visible after a successful commit
	j.lastSeq.Store(seq)
	telemetry.JournalRecordsTotal.Add(float64(len(records)))
	return nil
}

// LastSeq returns the sequence number of the newest record
func (j *Journal) LastSeq() uint64 {
	return j.lastSeq.Load()
}

// ReadFrom reads up to limit records with sequence numbers above cursor
func (j *Journal) ReadFrom(cursor uint64, limit int) ([]TxRecord, error) {
	if j.closed.Load() {
		return nil, errJournalClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := []byte(formatLogKey(cursor + 1))
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixTxLog)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	records := make([]TxRecord, 0, limit)
	for iter.SeekGE(start); iter.Valid() && len(records) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var record TxRecord
		if err := encoding.Unmarshal(val, &record); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping undecodable journal record")
			continue
		}
		records = append(records, record)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	return records, nil
}

// Cursor returns the last published sequence number of a sink (0 for new sinks)
func (j *Journal) Cursor(sink string) (uint64, error) {
	if j.closed.Load() {
		return 0, errJournalClosed
	}

	j.cursorsMu.RLock()
	defer j.cursorsMu.RUnlock()
	return j.cursors[sink], nil
}

// Cursors returns a copy of all sink cursors
func (j *Journal) Cursors() map[string]uint64 {
	j.cursorsMu.RLock()
	defer j.cursorsMu.RUnlock()
	return maps.Clone(j.cursors)
}

// AdvanceCursor persists the cursor of a sink and periodically compacts the journal
func (j *Journal) AdvanceCursor(sink string, seq uint64) error {
	if j.closed.Load() {
		return errJournalClosed
	}

	if err := j.db.Set([]byte(prefixTxCursor+sink), encodeUint64(seq), pebble.Sync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	j.cursorsMu.Lock()
	j.cursors[sink] = seq
	j.cursorsMu.Unlock()

	if seq&compactMask == 0 && j.compactRunning.CompareAndSwap(false, true) {
		j.compactWg.Add(1)
		go func() {
			defer j.compactWg.Done()
			defer j.compactRunning.Store(false)
			j.compact()
		}()
	}
	return nil
}

// compact deletes records every sink has already published
func (j *Journal) compact() {
	j.compactMu.Lock()
	defer j.compactMu.Unlock()

	if j.closed.Load() {
		return
	}

	j.cursorsMu.RLock()
	if len(j.cursors) == 0 {
		j.cursorsMu.RUnlock()
		return
	}
	minCursor := ^uint64(0)
	for _, c := range j.cursors {
		minCursor = min(minCursor, c)
	}
	j.cursorsMu.RUnlock()

	if minCursor == 0 {
		return
	}

	// [first, minCursor] are published everywhere
	end := []byte(formatLogKey(minCursor + 1))
	if err := j.db.DeleteRange([]byte(prefixTxLog), end, pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("min_cursor", minCursor).Msg("Failed to compact journal")
		return
	}
	log.Debug().Uint64("min_cursor", minCursor).Msg("Compacted journal")
}

// Close waits for in-flight compaction and closes Pebble
func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return errJournalClosed
	}
	j.compactWg.Wait()

	j.compactMu.Lock()
	defer j.compactMu.Unlock()
	return j.db.Close()
}

func formatLogKey(seq uint64) string {
	return fmt.Sprintf("%s%016x", prefixTxLog, seq)
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(val []byte) (uint64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("invalid uint64 value length: %d", len(val))
	}
	return binary.LittleEndian.Uint64(val), nil
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

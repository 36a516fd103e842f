package publisher

import "strconv"

// RecordEvent is one event of a journaled transaction
type RecordEvent struct {
	Index   int64  `msgpack:"idx"`
	Removed bool   `msgpack:"rm"`
	Payload []byte `msgpack:"p"` // msgpack-encoded payload, nil for removals
}

// TxRecord is a completed transaction as stored in the journal
type TxRecord struct {
	SeqNum   uint64        `msgpack:"seq"`  // Assigned by the journal
	TxID     uint64        `msgpack:"txid"` // Hybrid clock id, unique across nodes
	Symbol   string        `msgpack:"sym"`  // Event symbol
	SourceID int           `msgpack:"src"`  // Source the transaction belongs to
	Snapshot bool          `msgpack:"snap"` // Full replacement of the source
	Events   []RecordEvent `msgpack:"ev"`   // Events in transaction order
	CommitTS int64         `msgpack:"ts"`   // Commit timestamp (unix ms, never decreasing)
	NodeID   uint64        `msgpack:"node"` // Originating node
}

// Kind returns "snapshot" or "update"
func (r TxRecord) Kind() string {
	if r.Snapshot {
		return "snapshot"
	}
	return "update"
}

// Key is the partition key of the record. Records of one source share it
// so partitioned sinks keep them in order.
func (r TxRecord) Key() string {
	return r.Symbol + ":" + strconv.Itoa(r.SourceID)
}

// Sink represents a destination for transaction records (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends a message to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer encodes records into a sink-specific format
type Transformer interface {
	Transform(record TxRecord) ([]byte, error)
}

// Filter determines whether a record should be published
type Filter interface {
	Match(symbol string, sourceID int) bool
}

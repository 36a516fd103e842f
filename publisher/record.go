package publisher

import (
	"fmt"

	"github.com/devexperts/QD-sub016/encoding"
	"github.com/devexperts/QD-sub016/hlc"
	"github.com/devexperts/QD-sub016/model"
)

// NewRecord converts a completed transaction stamped at ts into a journal
// record. Payloads are msgpack-encoded; removals carry no payload.
func NewRecord[P any](symbol string, tx model.Transaction[P], ts hlc.Timestamp) (TxRecord, error) {
	record := TxRecord{
		TxID:     ts.ID(),
		Symbol:   symbol,
		SourceID: tx.SourceID,
		Snapshot: tx.Snapshot,
		Events:   make([]RecordEvent, len(tx.Events)),
		CommitTS: ts.WallMS,
		NodeID:   ts.NodeID,
	}

	for i, e := range tx.Events {
		re := RecordEvent{Index: e.Index}
		if tx.IsRemoval(i) {
			re.Removed = true
		} else {
			payload, err := encoding.Marshal(e.Payload)
			if err != nil {
				return TxRecord{}, fmt.Errorf("failed to encode payload of %s: %w", e, err)
			}
			re.Payload = payload
		}
		record.Events[i] = re
	}

	return record, nil
}

// TxListener adapts a registry into a transaction listener that journals
// every transaction of symbol
func TxListener[P any](r *Registry, symbol string) model.TxListener[P] {
	return func(tx model.Transaction[P]) error {
		record, err := NewRecord(symbol, tx, r.clock.Now())
		if err != nil {
			return err
		}
		return r.Append([]TxRecord{record})
	}
}

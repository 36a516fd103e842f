package transformer

import (
	"encoding/json"
	"fmt"

	"github.com/devexperts/QD-sub016/cfg"
	"github.com/devexperts/QD-sub016/encoding"
	"github.com/devexperts/QD-sub016/publisher"
)

func init() {
	publisher.RegisterTransformer("json", func(config cfg.SinkConfiguration) publisher.Transformer {
		return &JSONTransformer{Compress: config.Compress}
	})
}

// JSONTransformer renders records as self-describing JSON documents
type JSONTransformer struct {
	Compress bool // zstd-compress the document
}

// JSONRecord is the wire shape of a record
type JSONRecord struct {
	Seq      uint64      `json:"seq"`
	TxID     uint64      `json:"tx_id"`
	Symbol   string      `json:"symbol"`
	Source   int         `json:"source"`
	Type     string      `json:"type"`
	Events   []JSONEvent `json:"events"`
	CommitTS int64       `json:"ts_ms"`
	NodeID   uint64      `json:"node_id"`
}

// JSONEvent is one event of a JSONRecord. Payload is omitted for removals.
type JSONEvent struct {
	Index   int64 `json:"index"`
	Removed bool  `json:"removed,omitempty"`
	Payload any   `json:"payload,omitempty"`
}

// Transform decodes event payloads and encodes the record as JSON
func (t *JSONTransformer) Transform(record publisher.TxRecord) ([]byte, error) {
	doc := JSONRecord{
		Seq:      record.SeqNum,
		TxID:     record.TxID,
		Symbol:   record.Symbol,
		Source:   record.SourceID,
		Type:     record.Kind(),
		Events:   make([]JSONEvent, len(record.Events)),
		CommitTS: record.CommitTS,
		NodeID:   record.NodeID,
	}

	for i, e := range record.Events {
		je := JSONEvent{Index: e.Index, Removed: e.Removed}
		if !e.Removed && len(e.Payload) > 0 {
			if err := encoding.Unmarshal(e.Payload, &je.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode payload of event %d: %w", e.Index, err)
			}
		}
		doc.Events[i] = je
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %d: %w", record.SeqNum, err)
	}
	if t.Compress {
		return encoding.Compress(data)
	}
	return data, nil
}

package transformer

import (
	"github.com/devexperts/QD-sub016/cfg"
	"github.com/devexperts/QD-sub016/encoding"
	"github.com/devexperts/QD-sub016/publisher"
)

func init() {
	publisher.RegisterTransformer("msgpack", func(config cfg.SinkConfiguration) publisher.Transformer {
		return &MsgpackTransformer{Compress: config.Compress}
	})
}

// MsgpackTransformer publishes records in their journal encoding.
// Consumers decode with the same msgpack tags as TxRecord.
type MsgpackTransformer struct {
	Compress bool
}

// Transform encodes the record as msgpack, optionally zstd-compressed
func (t *MsgpackTransformer) Transform(record publisher.TxRecord) ([]byte, error) {
	if t.Compress {
		return encoding.MarshalCompressed(&record)
	}
	return encoding.Marshal(&record)
}

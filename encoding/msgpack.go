// Package encoding is the single place msgpack and zstd are configured.
// Ingest adapters, the transaction journal and the sink formats all go
// through it so encoded bytes stay interchangeable between them.
//
// Marshal, Unmarshal, Compress and Decompress are safe for concurrent use.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type encoderPoolEntry struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
}

var encoderPool = sync.Pool{
	New: func() any {
		e := &encoderPoolEntry{}
		e.enc = msgpack.NewEncoder(&e.buf)
		e.enc.SetCustomStructTag("msgpack")
		return e
	},
}

// Marshal encodes a value to msgpack format.
func Marshal(v any) ([]byte, error) {
	entry := encoderPool.Get().(*encoderPoolEntry)
	defer encoderPool.Put(entry)
	entry.buf.Reset()

	if err := entry.enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, entry.buf.Len())
	copy(out, entry.buf.Bytes())
	return out, nil
}

// Unmarshal decodes msgpack data.
// When decoding into interface{}, strings stay Go strings rather than []byte
// so payloads compare and render the same way after a round trip.
func Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	dec.SetMapDecoder(func(d *msgpack.Decoder) (any, error) {
		return d.DecodeUntypedMap()
	})
	return dec.Decode(v)
}

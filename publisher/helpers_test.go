package publisher

import (
	"errors"
	"sync"

	"github.com/devexperts/QD-sub016/cfg"
)

type published struct {
	topic string
	key   string
	value []byte
}

// memorySink records messages; the first failures publishes return err
type memorySink struct {
	mu       sync.Mutex
	messages []published
	failures int
	err      error
	closed   bool
}

func (s *memorySink) Publish(topic, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return s.err
	}
	s.messages = append(s.messages, published{topic, key, value})
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) all() []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]published(nil), s.messages...)
}

func (s *memorySink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// symbolTransformer publishes the record symbol and seq as the message body
type symbolTransformer struct{}

func (symbolTransformer) Transform(r TxRecord) ([]byte, error) {
	if r.Symbol == "BAD" {
		return nil, errors.New("cannot encode")
	}
	return []byte(r.Symbol), nil
}

var testSinks sync.Map // name -> *memorySink

func init() {
	RegisterSink("memory", func(config cfg.SinkConfiguration) (Sink, error) {
		s := &memorySink{}
		testSinks.Store(config.Name, s)
		return s, nil
	})
	RegisterTransformer("symbol", func(cfg.SinkConfiguration) Transformer {
		return symbolTransformer{}
	})
}

func testSink(name string) *memorySink {
	s, _ := testSinks.Load(name)
	return s.(*memorySink)
}

func records(symbols ...string) []TxRecord {
	out := make([]TxRecord, len(symbols))
	for i, sym := range symbols {
		out[i] = TxRecord{
			Symbol:   sym,
			SourceID: 1,
			Events:   []RecordEvent{{Index: int64(i)}},
		}
	}
	return out
}

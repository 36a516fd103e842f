// Package source feeds indexed events from message brokers into a feed hub.
// Every message carries one msgpack-encoded batch of events.
package source

import (
	"fmt"

	"github.com/devexperts/QD-sub016/cfg"
	"github.com/devexperts/QD-sub016/encoding"
	"github.com/devexperts/QD-sub016/event"
	"github.com/devexperts/QD-sub016/telemetry"
	"github.com/rs/zerolog/log"
)

// Source is a running ingest adapter
type Source interface {
	Name() string
	Close() error
}

// Publisher receives decoded batches; feed.Hub implements it
type Publisher[P any] interface {
	Publish(events []event.Event[P]) int
}

// Open starts the adapter described by c
func Open[P any](c cfg.SourceConfiguration, hub Publisher[P]) (Source, error) {
	var (
		s   Source
		err error
	)
	switch c.Type {
	case "nats":
		s, err = openNats(c, hub)
	case "kafka":
		s, err = openKafka(c, hub)
	default:
		return nil, fmt.Errorf("unknown source type %q", c.Type)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenAll starts every configured source, closing the ones already started on failure
func OpenAll[P any](configs []cfg.SourceConfiguration, hub Publisher[P]) ([]Source, error) {
	sources := make([]Source, 0, len(configs))
	for _, c := range configs {
		s, err := Open(c, hub)
		if err != nil {
			CloseAll(sources)
			return nil, fmt.Errorf("source %s: %w", c.Name, err)
		}
		sources = append(sources, s)
	}
	return sources, nil
}

// CloseAll closes sources, logging failures
func CloseAll(sources []Source) {
	for _, s := range sources {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Str("source", s.Name()).Msg("Failed to close source")
		}
	}
}

// dispatch decodes one message and publishes it. Malformed messages are
// logged and counted, never fatal.
func dispatch[P any](name string, hub Publisher[P], data []byte) int {
	var events []event.Event[P]
	if err := encoding.Unmarshal(data, &events); err != nil {
		telemetry.SourceMessagesTotal.With(name, "decode_error").Inc()
		log.Warn().
			Err(err).
			Str("source", name).
			Int("bytes", len(data)).
			Msg("Dropping undecodable event batch")
		return 0
	}

	telemetry.SourceMessagesTotal.With(name, "ok").Inc()
	if len(events) == 0 {
		return 0
	}
	return hub.Publish(events)
}

package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devexperts/QD-sub016/cfg"
	"github.com/devexperts/QD-sub016/publisher"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	natsPublishTimeout = 5 * time.Second
	natsStreamMaxAge   = 24 * time.Hour
	natsStreamCache    = 4096 // subjects remembered as having a stream
)

func init() {
	publisher.RegisterSink("nats", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL)
	})
}

// NatsSink publishes transaction records to NATS JetStream
type NatsSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	streams *lru.Cache[string, struct{}] // subjects with an ensured stream
}

// NewNatsSink creates a new NATS JetStream sink
func NewNatsSink(url string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("txfeed-sink"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streams, err := lru.New[string, struct{}](natsStreamCache)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream cache: %w", err)
	}

	return &NatsSink{nc: nc, js: js, streams: streams}, nil
}

// Publish sends a record to the JetStream subject topic.
// The record key travels in the "key" header and doubles as the
// deduplication id of the message.
func (n *NatsSink) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), natsPublishTimeout)
	defer cancel()

	if err := n.ensureStream(ctx, topic); err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  nats.Header{"key": []string{key}},
	}

	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (n *NatsSink) ensureStream(ctx context.Context, topic string) error {
	if n.streams.Contains(topic) {
		return nil
	}

	streamName := sanitizeStreamName(topic)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{topic},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    natsStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	n.streams.Add(topic, struct{}{})
	return nil
}

// Close drains pending publishes and closes the connection
func (n *NatsSink) Close() error {
	if n.nc == nil {
		return nil
	}
	return n.nc.Drain()
}

var streamNameReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// sanitizeStreamName converts a subject to a valid JetStream stream name
func sanitizeStreamName(topic string) string {
	return streamNameReplacer.Replace(topic)
}

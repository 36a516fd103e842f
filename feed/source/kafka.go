package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/devexperts/QD-sub016/cfg"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaSource consumes a topic with a kafka-go reader.
// Without a configured group every process gets its own group and sees all events.
type KafkaSource struct {
	name   string
	reader *kafka.Reader
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func openKafka[P any](c cfg.SourceConfiguration, hub Publisher[P]) (*KafkaSource, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("kafka source requires at least one broker address")
	}
	if c.Topic == "" {
		return nil, fmt.Errorf("kafka source requires topic")
	}

	groupID := c.GroupID
	if groupID == "" {
		groupID = "txfeed-" + uuid.NewString()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: c.Brokers,
		Topic:   c.Topic,
		GroupID: groupID,
	})

	ctx, cancel := context.WithCancel(context.Background())
	k := &KafkaSource{name: c.Name, reader: reader, cancel: cancel}

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return
				}
				log.Warn().Err(err).Str("source", c.Name).Msg("Kafka read failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			dispatch(c.Name, hub, msg.Value)
		}
	}()

	log.Info().
		Str("source", c.Name).
		Str("topic", c.Topic).
		Str("group_id", groupID).
		Msg("Kafka source started")
	return k, nil
}

func (k *KafkaSource) Name() string {
	return k.name
}

// Close stops the read loop and closes the reader
func (k *KafkaSource) Close() error {
	k.cancel()
	err := k.reader.Close()
	k.wg.Wait()
	return err
}

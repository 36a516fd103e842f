package source

import (
	"fmt"
	"time"

	"github.com/devexperts/QD-sub016/cfg"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NatsSource subscribes to a core NATS subject.
// Messages of one subscription are handled one at a time.
type NatsSource struct {
	name string
	nc   *nats.Conn
	sub  *nats.Subscription
}

func openNats[P any](c cfg.SourceConfiguration, hub Publisher[P]) (*NatsSource, error) {
	if c.NatsURL == "" {
		return nil, fmt.Errorf("nats source requires nats_url")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("nats source requires subject")
	}

	nc, err := nats.Connect(c.NatsURL,
		nats.Name("txfeed-"+c.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	sub, err := nc.Subscribe(c.Subject, func(msg *nats.Msg) {
		dispatch(c.Name, hub, msg.Data)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.Subject, err)
	}

	log.Info().
		Str("source", c.Name).
		Str("subject", c.Subject).
		Msg("NATS source started")
	return &NatsSource{name: c.Name, nc: nc, sub: sub}, nil
}

func (n *NatsSource) Name() string {
	return n.name
}

// Close drains the subscription and closes the connection
func (n *NatsSource) Close() error {
	var err error
	if n.sub != nil {
		err = n.sub.Drain()
	}
	if n.nc != nil {
		n.nc.Close()
	}
	return err
}

package sink

import "github.com/devexperts/QD-sub016/publisher"

var (
	_ publisher.Sink = (*KafkaSink)(nil)
	_ publisher.Sink = (*NatsSink)(nil)
	_ publisher.Sink = (*MockSink)(nil)
)

package sink

import (
	"errors"
	"sync"
)

// MockSink records published messages in memory for tests
type MockSink struct {
	Messages   []MockMessage
	PublishErr error
	FailTimes  int // Fail this many publishes with PublishErr before succeeding, 0 = always
	Closed     bool

	attempts int
	mu       sync.Mutex
}

// MockMessage represents a published message
type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

var errMockClosed = errors.New("mock sink closed")

// Publish records a message unless configured to fail
func (m *MockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return errMockClosed
	}

	m.attempts++
	if m.PublishErr != nil && (m.FailTimes == 0 || m.attempts <= m.FailTimes) {
		return m.PublishErr
	}

	m.Messages = append(m.Messages, MockMessage{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	return nil
}

// Close marks the sink closed
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Published returns a copy of the recorded messages
func (m *MockSink) Published() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.Messages))
	copy(out, m.Messages)
	return out
}

// Attempts returns the number of Publish calls on an open sink
func (m *MockSink) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Reset clears all recorded messages
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
	m.attempts = 0
}

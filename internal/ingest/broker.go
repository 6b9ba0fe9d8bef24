// Package ingest subscribes to platform event topics, decodes payloads and
// drives the metrics service, one sequential worker per topic. Delivery
// failures are classified: duplicates are absorbed, unprocessable payloads
// and unexpected handler failures are dropped immediately with a full log
// line, and only transient storage failures are retried with a fixed backoff
// before being dropped.
package ingest

import (
	"sync"
)

// Message is one delivered record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
}

// Broker is an in-process topic bus. Offsets are per topic and monotonically
// increasing, so a dropped message is identifiable in the log.
type Broker struct {
	mu      sync.Mutex
	subs    map[string][]chan Message
	offsets map[string]int64
	done    chan struct{}
	closed  bool
}

func NewBroker() *Broker {
	return &Broker{
		subs:    make(map[string][]chan Message),
		offsets: make(map[string]int64),
		done:    make(chan struct{}),
	}
}

// Subscribe returns a channel carrying every message published to topic after
// this call, in publish order.
func (b *Broker) Subscribe(topic string, buffer int) <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Message, buffer)
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Publish delivers value to every subscriber of topic. Blocks when a
// subscriber's buffer is full, preserving per-topic ordering, but never past
// Close: a full buffer whose worker already stopped must not wedge the caller.
func (b *Broker) Publish(topic, key string, value []byte) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	offset := b.offsets[topic]
	b.offsets[topic] = offset + 1
	subs := make([]chan Message, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.Unlock()

	m := Message{Topic: topic, Offset: offset, Key: key, Value: value}
	for _, ch := range subs {
		select {
		case ch <- m:
		case <-b.done:
			return
		}
	}
}

// Close stops the bus. In-flight and later Publish calls return without
// delivering; subscribers observe the stop through Done.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Done is closed when the broker is shut down.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

package mgmt

import (
	"encoding/json"
	"sync"
	"time"
)

// Broker implements session.EventBus and additionally lets the event
// stream HTTP handler subscribe to a topic. Exactly one subscriber per
// topic: a second Subscribe call replaces the first, which first
// receives a "replacing" record so it knows to close.
type Broker struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

// NewBroker builds an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]chan []byte)}
}

// Publish marshals event as JSON and sends it to topic's subscriber, if
// any. Non-blocking: a slow subscriber drops events rather than stalling
// the caller, which always runs on the single dispatch goroutine.
func (b *Broker) Publish(topic string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[topic]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- data:
	default:
	}
}

type replacingRecord struct {
	Replacing bool      `json:"replacing"`
	Time      time.Time `json:"time"`
}

// Subscribe registers the caller as topic's sole subscriber, returning a
// channel of marshaled JSON records and an unsubscribe func. Any prior
// subscriber is sent a "replacing" record and its channel closed.
func (b *Broker) Subscribe(topic string) (<-chan []byte, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subs[topic]; ok {
		rec, _ := json.Marshal(replacingRecord{Replacing: true, Time: time.Now()})
		select {
		case old <- rec:
		default:
		}
		close(old)
	}

	ch := make(chan []byte, 16)
	b.subs[topic] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.subs[topic] == ch {
			delete(b.subs, topic)
		}
	}
	return ch, unsubscribe
}

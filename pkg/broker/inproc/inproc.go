// Package inproc is an in-memory topic multiplexer implementing
// broker.Transport, used by tests and single-node deployments that colocate
// simulated devices with the bridge process.
package inproc

import (
	"context"
	"strings"
	"sync"

	"github.com/Buchi-dev/puretrack/pkg/broker"
)

// Transport is a process-local broker.Transport: publishes are dispatched
// synchronously to every matching subscriber's handler.
type Transport struct {
	mu          sync.RWMutex
	connected   bool
	subscribers map[string][]func(broker.Message)
}

// New builds a disconnected in-memory transport.
func New() *Transport {
	return &Transport{subscribers: map[string][]func(broker.Message){}}
}

// Connect marks the transport connected; publishing before Connect fails
// with context.Canceled.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

// Disconnect marks the transport disconnected.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

// Connected reports the current connection state.
func (t *Transport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Subscribe registers handler for every topic matching the given pattern (a
// single trailing "+" wildcard is supported, matching the §4.4 topic
// contract; no "#" multi-level wildcard is needed by that contract).
func (t *Transport) Subscribe(ctx context.Context, topic string, handler func(broker.Message)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers[topic] = append(t.subscribers[topic], handler)
	return nil
}

// Publish dispatches msg to every subscription whose pattern matches topic.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, qos broker.QoS) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.connected {
		return context.Canceled
	}
	msg := broker.Message{Topic: topic, Payload: payload}
	for pattern, handlers := range t.subscribers {
		if !topicMatches(pattern, topic) {
			continue
		}
		for _, h := range handlers {
			h(msg)
		}
	}
	return nil
}

// topicMatches implements the "+" single-segment wildcard used by every
// pattern in the §4.4 topic contract.
func topicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pSegs := strings.Split(pattern, "/")
	tSegs := strings.Split(topic, "/")
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, seg := range pSegs {
		if seg == "+" {
			continue
		}
		if seg != tSegs[i] {
			return false
		}
	}
	return true
}

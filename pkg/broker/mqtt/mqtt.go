// Package mqtt is a minimal MQTT 3.1.1 client implementing broker.Transport
// directly over net/crypto-tls: CONNECT, PUBLISH, and SUBSCRIBE framing only
// — the subset the §4.4 topic contract needs. No MQTT client library exists
// anywhere in the retrieved corpus (see DESIGN.md), so this is hand-rolled
// rather than adapted from a teacher file.
package mqtt

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Buchi-dev/puretrack/internal/logging"
	"github.com/Buchi-dev/puretrack/internal/metrics"
	"github.com/Buchi-dev/puretrack/pkg/broker"
)

const (
	packetConnect     byte = 1
	packetConnAck     byte = 2
	packetPublish     byte = 3
	packetSubscribe   byte = 8
	packetSubAck      byte = 9
	packetPingReq     byte = 12
	packetPingResp    byte = 13
	packetDisconnect  byte = 14
)

// Config configures a connection to a single MQTT broker.
type Config struct {
	Addr      string
	ClientID  string
	TLS       *tls.Config // nil disables TLS
	KeepAlive time.Duration
}

// Transport is a broker.Transport backed by a live TCP/TLS connection.
type Transport struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	connected atomic.Bool

	subMu       sync.RWMutex
	subscribers map[string][]func(broker.Message)

	nextPacketID uint32
}

// New builds a disconnected MQTT transport wrapping publishes in a circuit
// breaker named after the broker address.
func New(cfg Config) *Transport {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	t := &Transport{
		cfg:         cfg,
		subscribers: map[string][]func(broker.Message){},
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mqtt-publish:" + cfg.Addr,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Component("broker-bridge").Infof("circuit breaker %s: %s -> %s", name, from, to)
			if to == gobreaker.StateOpen {
				metrics.BridgeCircuitOpen.Set(1)
			} else {
				metrics.BridgeCircuitOpen.Set(0)
			}
		},
	})
	return t
}

// Connected reports whether the underlying connection is currently up.
func (t *Transport) Connected() bool { return t.connected.Load() }

// Connect dials the broker, performs the CONNECT/CONNACK handshake, and
// starts the read loop. Connect does not reconnect on its own; pkg/broker's
// Bridge calls it once from Start and does not call it again after the
// connection drops.
func (t *Transport) Connect(ctx context.Context) error {
	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if t.cfg.TLS != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", t.cfg.Addr, t.cfg.TLS)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", t.cfg.Addr)
	}
	if err != nil {
		metrics.BridgeConnected.Set(0)
		return fmt.Errorf("dialing broker: %w", err)
	}

	if err := writeConnect(conn, t.cfg.ClientID, t.cfg.KeepAlive); err != nil {
		conn.Close()
		return fmt.Errorf("writing CONNECT: %w", err)
	}
	reader := bufio.NewReader(conn)
	if err := readConnAck(reader); err != nil {
		conn.Close()
		return fmt.Errorf("reading CONNACK: %w", err)
	}

	t.mu.Lock()
	t.conn, t.reader = conn, reader
	t.mu.Unlock()
	t.connected.Store(true)
	metrics.BridgeConnected.Set(1)

	go t.readLoop(conn, reader)
	go t.keepAliveLoop(conn)
	return nil
}

// Disconnect sends a DISCONNECT packet and closes the connection.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	_, _ = conn.Write([]byte{packetDisconnect << 4, 0})
	t.connected.Store(false)
	metrics.BridgeConnected.Set(0)
	return conn.Close()
}

// Publish sends a PUBLISH frame, gated by the circuit breaker: while open,
// callers get gobreaker's open-state error immediately rather than blocking
// on a doomed write.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte, qos broker.QoS) error {
	_, err := t.breaker.Execute(func() (interface{}, error) {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return nil, fmt.Errorf("not connected")
		}
		id := uint16(atomic.AddUint32(&t.nextPacketID, 1))
		if err := writePublish(conn, topic, payload, qos, id); err != nil {
			return nil, err
		}
		metrics.BridgePublished.WithLabelValues(topicFamily(topic)).Inc()
		return nil, nil
	})
	return err
}

// Subscribe registers handler for topic and sends a SUBSCRIBE frame for it.
func (t *Transport) Subscribe(ctx context.Context, topic string, handler func(broker.Message)) error {
	t.subMu.Lock()
	t.subscribers[topic] = append(t.subscribers[topic], handler)
	t.subMu.Unlock()

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	id := uint16(atomic.AddUint32(&t.nextPacketID, 1))
	return writeSubscribe(conn, topic, id)
}

func (t *Transport) dispatch(msg broker.Message) {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	for pattern, handlers := range t.subscribers {
		if !topicMatches(pattern, msg.Topic) {
			continue
		}
		for _, h := range handlers {
			h(msg)
		}
	}
}

func (t *Transport) readLoop(conn net.Conn, reader *bufio.Reader) {
	for {
		packetType, payload, err := readPacket(reader)
		if err != nil {
			t.connected.Store(false)
			metrics.BridgeConnected.Set(0)
			if err != io.EOF {
				logging.Component("broker-bridge").WithError(err).Warn("mqtt read loop terminated")
			}
			return
		}
		switch packetType {
		case packetPublish:
			topic, body, ok := parsePublish(payload)
			if ok {
				t.dispatch(broker.Message{Topic: topic, Payload: body})
			}
		case packetPingResp:
			// keepalive acknowledged; nothing to do
		}
	}
}

func (t *Transport) keepAliveLoop(conn net.Conn) {
	ticker := time.NewTicker(t.cfg.KeepAlive / 2)
	defer ticker.Stop()
	for range ticker.C {
		if !t.connected.Load() {
			return
		}
		if _, err := conn.Write([]byte{packetPingReq << 4, 0}); err != nil {
			return
		}
	}
}

// jitteredBackoff returns attempt-scaled backoff with +/-20% jitter,
// capped at max, for spacing repeated Connect calls.
func jitteredBackoff(attempt int, base, max time.Duration) time.Duration {
	d := base * time.Duration(1<<uint(attempt))
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	return d - jitter/2 + jitter
}

// JitteredBackoff exports jitteredBackoff. Nothing in this module calls it;
// Bridge has no reconnect loop.
func JitteredBackoff(attempt int, base, max time.Duration) time.Duration {
	return jitteredBackoff(attempt, base, max)
}

func topicFamily(topic string) string {
	for i, c := range topic {
		if c == '/' {
			for j := i + 1; j < len(topic); j++ {
				if topic[j] == '/' {
					return topic[i+1 : j]
				}
			}
			return topic[i+1:]
		}
	}
	return topic
}

func topicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	var pSegs, tSegs []string
	for _, s := range splitTopic(pattern) {
		pSegs = append(pSegs, s)
	}
	for _, s := range splitTopic(topic) {
		tSegs = append(tSegs, s)
	}
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

func splitTopic(topic string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(topic); i++ {
		if topic[i] == '/' {
			segs = append(segs, topic[start:i])
			start = i + 1
		}
	}
	segs = append(segs, topic[start:])
	return segs
}

// --- wire encoding (MQTT 3.1.1 subset) ---

func writeRemainingLength(w io.Writer, length int) error {
	for {
		b := byte(length % 128)
		length /= 128
		if length > 0 {
			b |= 0x80
		}
		if _, err := w.Write([]byte{b}); err != nil {
			return err
		}
		if length == 0 {
			break
		}
	}
	return nil
}

func readRemainingLength(r *bufio.Reader) (int, error) {
	multiplier := 1
	value := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value += int(b&0x7f) * multiplier
		if b&0x80 == 0 {
			break
		}
		multiplier *= 128
	}
	return value, nil
}

func writeString(buf *[]byte, s string) {
	length := make([]byte, 2)
	binary.BigEndian.PutUint16(length, uint16(len(s)))
	*buf = append(*buf, length...)
	*buf = append(*buf, s...)
}

func writeConnect(w io.Writer, clientID string, keepAlive time.Duration) error {
	var varHeader []byte
	writeString(&varHeader, "MQTT")
	varHeader = append(varHeader, 4)    // protocol level 4 (3.1.1)
	varHeader = append(varHeader, 0x02) // connect flags: clean session
	ka := make([]byte, 2)
	binary.BigEndian.PutUint16(ka, uint16(keepAlive.Seconds()))
	varHeader = append(varHeader, ka...)

	var payload []byte
	writeString(&payload, clientID)

	remaining := len(varHeader) + len(payload)
	if _, err := w.Write([]byte{packetConnect << 4}); err != nil {
		return err
	}
	if err := writeRemainingLength(w, remaining); err != nil {
		return err
	}
	if _, err := w.Write(varHeader); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readConnAck(r *bufio.Reader) error {
	packetType, payload, err := readPacket(r)
	if err != nil {
		return err
	}
	if packetType != packetConnAck {
		return fmt.Errorf("expected CONNACK, got packet type %d", packetType)
	}
	if len(payload) < 2 {
		return fmt.Errorf("malformed CONNACK")
	}
	if payload[1] != 0 {
		return fmt.Errorf("broker rejected connection, return code %d", payload[1])
	}
	return nil
}

func writePublish(w io.Writer, topic string, body []byte, qos broker.QoS, packetID uint16) error {
	var varHeader []byte
	writeString(&varHeader, topic)
	if qos > 0 {
		id := make([]byte, 2)
		binary.BigEndian.PutUint16(id, packetID)
		varHeader = append(varHeader, id...)
	}

	flags := byte(packetPublish << 4)
	flags |= byte(qos) << 1

	remaining := len(varHeader) + len(body)
	if _, err := w.Write([]byte{flags}); err != nil {
		return err
	}
	if err := writeRemainingLength(w, remaining); err != nil {
		return err
	}
	if _, err := w.Write(varHeader); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func parsePublish(payload []byte) (topic string, body []byte, ok bool) {
	if len(payload) < 2 {
		return "", nil, false
	}
	topicLen := int(binary.BigEndian.Uint16(payload[:2]))
	if len(payload) < 2+topicLen {
		return "", nil, false
	}
	topic = string(payload[2 : 2+topicLen])
	return topic, payload[2+topicLen:], true
}

func writeSubscribe(w io.Writer, topic string, packetID uint16) error {
	var varHeader []byte
	id := make([]byte, 2)
	binary.BigEndian.PutUint16(id, packetID)
	varHeader = append(varHeader, id...)

	var payload []byte
	writeString(&payload, topic)
	payload = append(payload, 0) // requested QoS 0

	remaining := len(varHeader) + len(payload)
	if _, err := w.Write([]byte{packetSubscribe<<4 | 0x02}); err != nil {
		return err
	}
	if err := writeRemainingLength(w, remaining); err != nil {
		return err
	}
	if _, err := w.Write(varHeader); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readPacket(r *bufio.Reader) (packetType byte, payload []byte, err error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	remaining, err := readRemainingLength(r)
	if err != nil {
		return 0, nil, err
	}
	payload = make([]byte, remaining)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return first >> 4, payload, nil
}

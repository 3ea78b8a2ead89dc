// Package realtime implements C5: a single-process pub-sub fanout pushing
// reading/alert/device-status events to connected UI sessions over
// websockets, directly grounded on the teacher's per-connection push-
// goroutine shape serving newline-delimited JSON frames.
package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Buchi-dev/puretrack/internal/logging"
	"github.com/Buchi-dev/puretrack/internal/metrics"
	"github.com/Buchi-dev/puretrack/internal/models"
)

// Topic is a subscribable event family.
type Topic string

const (
	TopicReadings      Topic = "readings"
	TopicAlerts        Topic = "alerts"
	TopicDeviceStatus  Topic = "deviceStatus"
)

// Event is one frame pushed to a session, newline-delimited JSON over the
// websocket connection, matching the teacher's ws_api.go framing. Topic is
// used only for server-side subscription filtering and is not part of the
// `{type, payload}` wire shape.
type Event struct {
	Topic   Topic       `json:"-"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const sessionQueueSize = 64

// Session is one connected UI client.
type Session struct {
	id     string
	conn   *websocket.Conn
	queue  chan Event
	topics map[Topic]bool
	mu     sync.RWMutex
	closed bool
}

func newSession(id string, conn *websocket.Conn) *Session {
	return &Session{
		id:     id,
		conn:   conn,
		queue:  make(chan Event, sessionQueueSize),
		topics: map[Topic]bool{},
	}
}

func (s *Session) subscribed(t Topic) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topics[t]
}

// pump drains the session's queue to its websocket connection until closed.
func (s *Session) pump() {
	for evt := range s.queue {
		s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := s.conn.WriteJSON(evt); err != nil {
			logging.Component("realtime").WithError(err).WithField("session", s.id).Debug("session write failed, closing")
			s.conn.Close()
			return
		}
	}
}

// enqueue delivers evt to the session's bounded queue, dropping (and
// signalling disconnect) if the queue is already full — backpressure by
// disconnect, never by blocking the broadcaster.
func (s *Session) enqueue(evt Event) bool {
	select {
	case s.queue <- evt:
		return true
	default:
		return false
	}
}

// Hub is the process-wide fanout registry.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub builds an empty fanout registry.
func NewHub() *Hub {
	return &Hub{sessions: map[string]*Session{}}
}

// Subscribe registers conn as a new session interested in topics, starting
// its push goroutine, and returns a disposer that unregisters it.
func (h *Hub) Subscribe(id string, conn *websocket.Conn, topics []Topic) (unsub func()) {
	sess := newSession(id, conn)
	sess.mu.Lock()
	for _, t := range topics {
		sess.topics[t] = true
	}
	sess.mu.Unlock()

	h.mu.Lock()
	h.sessions[id] = sess
	h.mu.Unlock()
	metrics.RealtimeSessions.Inc()

	go sess.pump()

	return func() { h.unsubscribe(id) }
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	sess, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	if ok {
		close(sess.queue)
		metrics.RealtimeSessions.Dec()
	}
}

func (h *Hub) broadcast(topic Topic, evtType string, data interface{}) {
	evt := Event{Topic: topic, Type: evtType, Payload: data}
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		if sess.subscribed(topic) {
			targets = append(targets, sess)
		}
	}
	h.mu.RUnlock()

	for _, sess := range targets {
		if !sess.enqueue(evt) {
			metrics.RealtimeDropped.Inc()
			h.unsubscribe(sess.id)
		}
	}
}

// BroadcastReading implements broker.ReadingEmitter.
func (h *Hub) BroadcastReading(reading *models.Reading) {
	h.broadcast(TopicReadings, "sensor:data", reading)
}

// AlertCreated implements pkg/alerts.Emitter.
func (h *Hub) AlertCreated(alert *models.Alert) {
	h.broadcast(TopicAlerts, "alert:new", alert)
}

// AlertUpdated implements pkg/alerts.Emitter.
func (h *Hub) AlertUpdated(alert *models.Alert) {
	h.broadcast(TopicAlerts, "alert:updated", alert)
}

// AlertResolved implements pkg/alerts.Emitter.
func (h *Hub) AlertResolved(alert *models.Alert) {
	h.broadcast(TopicAlerts, "alert:resolved", map[string]string{
		"deviceId": alert.DeviceID,
		"alertId":  alert.ID,
	})
}

// DeviceStatus implements pkg/devices.DeviceStatusEmitter.
func (h *Hub) DeviceStatus(deviceID string, status models.DeviceStatus, snapshot *models.Device) {
	h.broadcast(TopicDeviceStatus, "device:status", map[string]interface{}{
		"deviceId": deviceID,
		"status":   status,
		"device":   snapshot,
	})
}

// ParseTopics decodes a comma-separated or repeated topic query parameter
// into the Topic set, skipping unrecognized values.
func ParseTopics(raw []string) []Topic {
	valid := map[string]Topic{"readings": TopicReadings, "alerts": TopicAlerts, "deviceStatus": TopicDeviceStatus}
	var out []Topic
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			if t, ok := valid[strings.TrimSpace(part)]; ok {
				out = append(out, t)
			}
		}
	}
	return out
}

// MarshalEvent is a test/debug helper for inspecting a frame's wire encoding.
func MarshalEvent(evt Event) ([]byte, error) { return json.Marshal(evt) }
